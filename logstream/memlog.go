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

package logstream

import (
	"context"
	"sync"

	streamproc "github.com/streamproc/partitionengine"
)

// MemLog is an in-memory streamproc.Log for tests, grounded on
// mockOutboxAPI (cmd/ubtconv/mock_outbox_test.go): a mutex-guarded slice
// keyed by position, with injectable failure hooks so tests can exercise
// the engine's transient-error handling without a real database.
type MemLog struct {
	mu      sync.Mutex
	records []streamproc.Record

	// FailAppend, when set, is returned by the next Append call instead
	// of actually appending.
	FailAppend error
	// FailNext, when set, is returned by the next reader.Next call.
	FailNext error
}

// NewMemLog returns an empty in-memory log.
func NewMemLog() *MemLog {
	return &MemLog{}
}

func (m *MemLog) Append(ctx context.Context, records []streamproc.Record) ([]streamproc.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAppend != nil {
		err := m.FailAppend
		m.FailAppend = nil
		return nil, err
	}

	positions := make([]streamproc.Position, len(records))
	for i, rec := range records {
		pos := streamproc.Position(len(m.records))
		rec.Position = pos
		m.records = append(m.records, rec)
		positions[i] = pos
	}
	return positions, nil
}

func (m *MemLog) NewReader(ctx context.Context, from streamproc.Position) (streamproc.Reader, error) {
	start := 0
	if from.IsSet() {
		start = int(from)
	}
	return &memReader{log: m, next: start}, nil
}

func (m *MemLog) LatestPosition(ctx context.Context) (streamproc.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return streamproc.Unset, nil
	}
	return streamproc.Position(len(m.records) - 1), nil
}

// Len returns the number of durable records, for test assertions.
func (m *MemLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memReader struct {
	log  *MemLog
	next int
}

func (r *memReader) Next(ctx context.Context) (streamproc.Record, bool, error) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()

	if r.log.FailNext != nil {
		err := r.log.FailNext
		r.log.FailNext = nil
		return streamproc.Record{}, false, err
	}
	if r.next >= len(r.log.records) {
		return streamproc.Record{}, false, nil
	}
	rec := r.log.records[r.next]
	r.next++
	return rec, true, nil
}

func (r *memReader) Close() error { return nil }
