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

package streamproc

import "github.com/ethereum/go-ethereum/common/hexutil"

// Position identifies a record's offset in the log. Positions are strictly
// monotonically increasing in the order records were appended.
type Position int64

// Unset marks the absence of a position: an engine that has never
// successfully processed a record, or a record with no source event (an
// externally appended command).
const Unset Position = -1

// IsSet reports whether p refers to an actual log offset.
func (p Position) IsSet() bool { return p != Unset }

// Next returns the position immediately following p. Calling Next on Unset
// yields position 0, the first possible log offset.
func (p Position) Next() Position { return p + 1 }

// String renders the position the way the teacher renders outbox sequence
// numbers in its RPC/JSON surface: a 0x-prefixed hex quantity, via
// hexutil.Uint64. Unset prints as "unset" rather than a negative hex value.
func (p Position) String() string {
	if p == Unset {
		return "unset"
	}
	return hexutil.Uint64(p).String()
}
