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

// TypeDescriptor selects the handler responsible for a record. The handler
// registry is keyed by the (ValueType, Intent) pair, never by payload
// inspection.
type TypeDescriptor struct {
	ValueType string
	Intent    string
}

func (d TypeDescriptor) String() string { return d.ValueType + "/" + d.Intent }

// Record is a single entry in the append-only log. Payload is opaque to the
// engine; only the handler registered for a record's TypeDescriptor
// understands its contents.
type Record struct {
	// Position is this record's own offset in the log. It has no meaning
	// on a follow-up record that a handler has produced but that has not
	// yet been appended; the log assigns it on Append.
	Position Position

	// SourceEventPosition is the position of the record whose processing
	// produced this one, or Unset for records that originate outside the
	// engine (e.g. externally appended commands).
	SourceEventPosition Position

	// Key scopes the record to a logical entity within the partition; it
	// is handler-defined and has no meaning to the engine itself beyond
	// being passed through.
	Key []byte

	ValueType string
	Intent    string

	Payload []byte
}

// TypeDescriptor returns the (ValueType, Intent) pair used to look up this
// record's handler.
func (r Record) TypeDescriptor() TypeDescriptor {
	return TypeDescriptor{ValueType: r.ValueType, Intent: r.Intent}
}

// IsFollowUp reports whether r was produced by processing another record
// rather than being an original, externally appended command.
func (r Record) IsFollowUp() bool { return r.SourceEventPosition.IsSet() }

// NewCommand builds an externally injected command record. Producers outside
// the engine (an API gateway, a CLI, another service) should go through this
// constructor rather than a bare Record literal: the zero value of
// SourceEventPosition is 0, a valid position, not Unset, so a command built
// by hand without setting the field would be misread as a follow-up of the
// record at position 0.
func NewCommand(key []byte, valueType, intent string, payload []byte) Record {
	return Record{
		SourceEventPosition: Unset,
		Key:                 key,
		ValueType:           valueType,
		Intent:              intent,
		Payload:             payload,
	}
}
