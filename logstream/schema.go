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

// Package logstream is a durable, leveldb-backed implementation of
// streamproc.Log, alongside an in-memory test double. It is grounded on
// core/ubtemit's OutboxStore: records are RLP-encoded under a monotonic
// big-endian sequence key, with the event and the sequence counter written
// atomically in a single batch so a crash can never desynchronize them.
package logstream

import "encoding/binary"

var (
	recordPrefix  = []byte("r-")
	nextPosKey    = []byte("logstream-next-position")
	lowestPosKey  = []byte("logstream-lowest-position")
)

// recordKey returns the storage key for the record at position pos.
func recordKey(pos uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], pos)
	return key
}

func decodeRecordKeyPosition(key []byte) (uint64, bool) {
	if len(key) != len(recordPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(recordPrefix):]), true
}

// unsetSentinel is the uint64 encoding of streamproc.Unset in the wire
// format; RLP cannot carry a negative int64 directly.
const unsetSentinel = ^uint64(0)

// wireRecord is the RLP-encoded representation of a streamproc.Record. The
// record's own Position is implied by its storage key and is not
// duplicated here, mirroring how OutboxEnvelope's Seq is assigned by the
// store rather than carried twice.
type wireRecord struct {
	SourceEventPosition uint64
	Key                 []byte
	ValueType           string
	Intent              string
	Payload             []byte
}
