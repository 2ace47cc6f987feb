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
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
	streamproc "github.com/streamproc/partitionengine"
)

// DB is a durable, leveldb-backed streamproc.Log. It assigns strictly
// monotonic positions and writes each record together with the updated
// position counter in a single atomic batch, exactly like
// OutboxStore.Append's "assign seq, encode, atomic write, bump counter"
// discipline.
type DB struct {
	db ethdb.KeyValueStore

	mu      sync.Mutex
	nextPos uint64
}

// Open creates or reopens a durable log at path.
func Open(path string) (*DB, error) {
	kvdb, err := leveldb.New(path, 64, 64, "logstream", false)
	if err != nil {
		return nil, fmt.Errorf("open logstream at %s: %w", path, err)
	}
	nextPos := readCounter(kvdb, nextPosKey)
	log.Info("Opened log", "path", path, "nextPosition", nextPos)
	return &DB{db: kvdb, nextPos: nextPos}, nil
}

func readCounter(db ethdb.KeyValueReader, key []byte) uint64 {
	data, err := db.Get(key)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func writeCounter(batch ethdb.Batch, key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return batch.Put(key, buf)
}

// Append implements streamproc.Log.
func (d *DB) Append(ctx context.Context, records []streamproc.Record) ([]streamproc.Position, error) {
	if len(records) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.db.NewBatch()
	positions := make([]streamproc.Position, len(records))
	pos := d.nextPos
	for i, rec := range records {
		if pos == ^uint64(0) {
			return nil, fmt.Errorf("log position counter overflow")
		}
		data, err := encodeRecord(rec)
		if err != nil {
			return nil, err
		}
		if err := batch.Put(recordKey(pos), data); err != nil {
			return nil, fmt.Errorf("stage record at position %d: %w", pos, err)
		}
		positions[i] = streamproc.Position(pos)
		pos++
	}
	if err := writeCounter(batch, nextPosKey, pos); err != nil {
		return nil, fmt.Errorf("stage position counter: %w", err)
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("write log batch: %w", err)
	}

	d.nextPos = pos
	log.Debug("Appended records", "count", len(records), "firstPosition", positions[0])
	return positions, nil
}

// NewReader implements streamproc.Log.
func (d *DB) NewReader(ctx context.Context, from streamproc.Position) (streamproc.Reader, error) {
	start := uint64(0)
	if from.IsSet() {
		start = uint64(from)
	}
	return &reader{db: d.db, next: start}, nil
}

// LatestPosition implements streamproc.Log.
func (d *DB) LatestPosition(ctx context.Context) (streamproc.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nextPos == 0 {
		return streamproc.Unset, nil
	}
	return streamproc.Position(d.nextPos - 1), nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

type reader struct {
	db   ethdb.KeyValueReader
	next uint64
}

func (r *reader) Next(ctx context.Context) (streamproc.Record, bool, error) {
	data, err := r.db.Get(recordKey(r.next))
	if err != nil {
		has, hasErr := r.db.Has(recordKey(r.next))
		if hasErr == nil && !has {
			return streamproc.Record{}, false, nil
		}
		return streamproc.Record{}, false, fmt.Errorf("read record at position %d: %w", r.next, err)
	}
	rec, err := decodeRecord(r.next, data)
	if err != nil {
		return streamproc.Record{}, false, err
	}
	r.next++
	return rec, true, nil
}

func (r *reader) Close() error { return nil }
