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

// Package kvstore is a leveldb-backed implementation of streamproc.Store,
// alongside an in-memory test double. It is grounded on Consumer.commit
// (cmd/ubtconv/consumer.go): a transaction batches domain-state writes
// together with the checkpoint scalar and durably commits them in one
// write, never two.
package kvstore

import "encoding/binary"

// checkpointKey holds the last successful processed record position. It
// lives in the same database and is written in the same batch as domain
// keys, so a crash can never observe one without the other.
var checkpointKey = []byte("kvstore-checkpoint")

// domainPrefix namespaces handler-owned keys away from the checkpoint key,
// so a handler can never accidentally collide with engine bookkeeping.
var domainPrefix = []byte("d-")

func domainKey(key []byte) []byte {
	out := make([]byte, len(domainPrefix)+len(key))
	copy(out, domainPrefix)
	copy(out[len(domainPrefix):], key)
	return out
}

func encodeCheckpoint(pos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(pos))
	return buf
}

func decodeCheckpoint(data []byte) (int64, bool) {
	if len(data) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(data)), true
}
