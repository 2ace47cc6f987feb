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

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
	streamproc "github.com/streamproc/partitionengine"
)

// DB is a durable, leveldb-backed streamproc.Store.
type DB struct {
	db ethdb.KeyValueStore

	mu   sync.Mutex
	open bool // true while a transaction is outstanding
}

// Open creates or reopens a durable store at path.
func Open(path string) (*DB, error) {
	kvdb, err := leveldb.New(path, 64, 64, "kvstore", false)
	if err != nil {
		return nil, fmt.Errorf("open kvstore at %s: %w", path, err)
	}
	return &DB{db: kvdb}, nil
}

// OpenTransaction implements streamproc.Store.
func (d *DB) OpenTransaction() (streamproc.DbContext, error) {
	d.mu.Lock()
	if d.open {
		d.mu.Unlock()
		return nil, fmt.Errorf("kvstore: transaction already open")
	}
	d.open = true
	d.mu.Unlock()

	return &txn{
		store:   d,
		batch:   d.db.NewBatch(),
		base:    d.db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}, nil
}

// LastSuccessfulProcessedRecordPosition implements streamproc.Store.
func (d *DB) LastSuccessfulProcessedRecordPosition() (streamproc.Position, error) {
	data, err := d.db.Get(checkpointKey)
	if err != nil {
		has, hasErr := d.db.Has(checkpointKey)
		if hasErr == nil && !has {
			return streamproc.Unset, nil
		}
		return streamproc.Unset, fmt.Errorf("read checkpoint: %w", err)
	}
	v, ok := decodeCheckpoint(data)
	if !ok {
		return streamproc.Unset, fmt.Errorf("corrupt checkpoint value")
	}
	return streamproc.Position(v), nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// txn is a single outstanding transaction against a DB. ethdb.Batch has no
// read API, so Get cannot simply fall through to it: writes staged by Put or
// Delete earlier in the same transaction are kept in an in-memory overlay
// and consulted before the base database, the same overlay-then-base shape
// as memTxn. Reads that miss the overlay are served directly from base
// (single-writer engine: no concurrent writer can observe a half-written
// batch), and only become durable — and visible to a future transaction —
// after Commit.
type txn struct {
	store   *DB
	base    ethdb.KeyValueReader
	batch   ethdb.Batch
	writes  map[string][]byte
	deletes map[string]bool
	done    bool
}

func (t *txn) requireOpen() {
	if t.done {
		panic("kvstore: transaction used after Commit or Discard")
	}
}

func (t *txn) Get(key []byte) ([]byte, error) {
	t.requireOpen()
	k := string(key)
	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	if t.deletes[k] {
		return nil, nil
	}
	data, err := t.base.Get(domainKey(key))
	if err != nil {
		has, hasErr := t.store.db.Has(domainKey(key))
		if hasErr == nil && !has {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (t *txn) Put(key, value []byte) error {
	t.requireOpen()
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte(nil), value...)
	return t.batch.Put(domainKey(key), value)
}

func (t *txn) Delete(key []byte) error {
	t.requireOpen()
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = true
	return t.batch.Delete(domainKey(key))
}

// Commit writes every staged mutation together with the new checkpoint in
// a single atomic batch — the engine's sole durability boundary.
func (t *txn) Commit(checkpoint streamproc.Position) error {
	t.requireOpen()
	if err := t.batch.Put(checkpointKey, encodeCheckpoint(int64(checkpoint))); err != nil {
		return fmt.Errorf("stage checkpoint: %w", err)
	}
	if err := t.batch.Write(); err != nil {
		return fmt.Errorf("commit kvstore batch: %w", err)
	}
	t.done = true
	t.store.mu.Lock()
	t.store.open = false
	t.store.mu.Unlock()
	log.Debug("Committed store transaction", "checkpoint", checkpoint)
	return nil
}

func (t *txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.batch.Reset()
	t.store.mu.Lock()
	t.store.open = false
	t.store.mu.Unlock()
}
