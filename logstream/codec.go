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
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	streamproc "github.com/streamproc/partitionengine"
)

func encodeRecord(rec streamproc.Record) ([]byte, error) {
	src := unsetSentinel
	if rec.SourceEventPosition.IsSet() {
		src = uint64(rec.SourceEventPosition)
	}
	wire := wireRecord{
		SourceEventPosition: src,
		Key:                 rec.Key,
		ValueType:            rec.ValueType,
		Intent:               rec.Intent,
		Payload:              rec.Payload,
	}
	data, err := rlp.EncodeToBytes(&wire)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func decodeRecord(pos uint64, data []byte) (streamproc.Record, error) {
	var wire wireRecord
	if err := rlp.DecodeBytes(data, &wire); err != nil {
		return streamproc.Record{}, fmt.Errorf("decode record at position %d: %w", pos, err)
	}
	src := streamproc.Unset
	if wire.SourceEventPosition != unsetSentinel {
		src = streamproc.Position(wire.SourceEventPosition)
	}
	return streamproc.Record{
		Position:            streamproc.Position(pos),
		SourceEventPosition: src,
		Key:                 wire.Key,
		ValueType:           wire.ValueType,
		Intent:              wire.Intent,
		Payload:             wire.Payload,
	}, nil
}
