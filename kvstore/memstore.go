// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kvstore

import (
	"fmt"
	"sync"

	streamproc "github.com/streamproc/partitionengine"
)

// MemStore is an in-memory streamproc.Store for tests.
type MemStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	checkpoint streamproc.Position
	open       bool

	// FailCommit, when set, is returned by the next Commit call instead
	// of applying the transaction, letting tests exercise the "crash
	// after write before commit" scenario.
	FailCommit error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte), checkpoint: streamproc.Unset}
}

func (s *MemStore) OpenTransaction() (streamproc.DbContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil, fmt.Errorf("memstore: transaction already open")
	}
	s.open = true
	return &memTxn{store: s, writes: make(map[string][]byte), deletes: make(map[string]bool)}, nil
}

func (s *MemStore) LastSuccessfulProcessedRecordPosition() (streamproc.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, nil
}

// Snapshot returns a copy of all domain key/value pairs, for test
// assertions.
func (s *MemStore) Snapshot() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

type memTxn struct {
	store   *MemStore
	writes  map[string][]byte
	deletes map[string]bool
	done    bool
}

func (t *memTxn) requireOpen() {
	if t.done {
		panic("memstore: transaction used after Commit or Discard")
	}
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	t.requireOpen()
	k := string(key)
	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	if t.deletes[k] {
		return nil, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.data[k], nil
}

func (t *memTxn) Put(key, value []byte) error {
	t.requireOpen()
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	t.requireOpen()
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

func (t *memTxn) Commit(checkpoint streamproc.Position) error {
	t.requireOpen()
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.open = false

	if t.store.FailCommit != nil {
		err := t.store.FailCommit
		t.store.FailCommit = nil
		return err
	}

	for k, v := range t.writes {
		t.store.data[k] = v
	}
	for k := range t.deletes {
		delete(t.store.data, k)
	}
	t.store.checkpoint = checkpoint
	return nil
}

func (t *memTxn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.store.mu.Lock()
	t.store.open = false
	t.store.mu.Unlock()
}
