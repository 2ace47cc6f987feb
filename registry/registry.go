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

// Package registry is the handler registry: a (ValueType, Intent) -> Handler
// map, grounded on executeTransition's dispatch-by-Kind switch
// (cmd/ubtconv/consumer.go), generalized from two hardcoded cases to an
// arbitrary set of record types.
package registry

import (
	"fmt"
	"sync"

	streamproc "github.com/streamproc/partitionengine"
)

// Map is a streamproc.HandlerRegistry backed by a plain map, built once at
// startup and read-only thereafter from the processing task's perspective.
type Map struct {
	mu       sync.RWMutex
	handlers map[streamproc.TypeDescriptor]streamproc.RecordProcessor
}

// New returns an empty registry.
func New() *Map {
	return &Map{handlers: make(map[streamproc.TypeDescriptor]streamproc.RecordProcessor)}
}

// Register adds the handler for d. It returns an error if d already has a
// registered handler, since a silent overwrite would make dispatch
// ambiguous.
func (m *Map) Register(d streamproc.TypeDescriptor, h streamproc.RecordProcessor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[d]; exists {
		return fmt.Errorf("registry: handler already registered for %s", d)
	}
	m.handlers[d] = h
	return nil
}

// MustRegister is Register, panicking on error. Intended for static,
// startup-time registration tables where a duplicate is a programming
// error, not a runtime condition.
func (m *Map) MustRegister(d streamproc.TypeDescriptor, h streamproc.RecordProcessor) *Map {
	if err := m.Register(d, h); err != nil {
		panic(err)
	}
	return m
}

// Lookup implements streamproc.HandlerRegistry.
func (m *Map) Lookup(d streamproc.TypeDescriptor) (streamproc.RecordProcessor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[d]
	return h, ok
}
