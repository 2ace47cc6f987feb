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

// ProcessingContext is the mutable state owned exclusively by the
// processing task. It is never shared across goroutines and never escapes
// the task's single executor; handlers receive a non-owning pointer to it
// for the duration of one Process call only.
type ProcessingContext struct {
	// Position is the position of the record currently being processed.
	Position Position

	// Replaying is true while the reprocessing state machine is
	// re-driving a record whose follow-ups are already durable in the
	// log. Handlers that are sensitive to re-emission (rare; most are
	// pure functions of record + store state) can consult this, but the
	// engine itself is what suppresses follow-up emission during replay.
	Replaying bool

	// Cache memoizes store reads across the records of a batch. The
	// processing and reprocessing state machines pass handlers a DbContext
	// wrapped with WithCache(db, Cache) rather than the raw transaction, so
	// this field is populated as a side effect of normal handler calls
	// rather than something a handler manages directly.
	Cache *ValueCache
}

// NewProcessingContext creates an empty processing context with a fresh
// value cache.
func NewProcessingContext() *ProcessingContext {
	return &ProcessingContext{
		Position: Unset,
		Cache:    NewValueCache(),
	}
}

// cachedValue is a memoized store read. exists distinguishes "value is nil
// because the key was deleted/never set" from "value is an empty byte
// slice".
type cachedValue struct {
	value  []byte
	exists bool
}

// ValueCache memoizes DbContext reads within the lifetime of the processing
// task so that repeated lookups of the same key across records in a batch
// don't re-hit the store. It is invalidated key-by-key as writes occur, so
// it is always consistent with the in-flight transaction.
type ValueCache struct {
	entries map[string]cachedValue
}

// NewValueCache returns an empty cache.
func NewValueCache() *ValueCache {
	return &ValueCache{entries: make(map[string]cachedValue)}
}

// Get returns a cached value for key, if one is present.
func (c *ValueCache) Get(key []byte) (value []byte, exists bool, cached bool) {
	cv, ok := c.entries[string(key)]
	if !ok {
		return nil, false, false
	}
	return cv.value, cv.exists, true
}

// Set records key's current value, e.g. after a store read or a Put.
func (c *ValueCache) Set(key, value []byte) {
	c.entries[string(key)] = cachedValue{value: value, exists: true}
}

// Unset records that key has been deleted or observed absent.
func (c *ValueCache) Unset(key []byte) {
	c.entries[string(key)] = cachedValue{exists: false}
}

// Invalidate drops any cached entry for key, forcing the next Get to miss.
func (c *ValueCache) Invalidate(key []byte) {
	delete(c.entries, string(key))
}

// Reset clears the entire cache. The state machines do not call it: each
// reprocessing run starts from a fresh ProcessingContext with its own
// cache.
func (c *ValueCache) Reset() {
	c.entries = make(map[string]cachedValue)
}

// Len reports the number of memoized entries, mostly useful for tests and
// metrics.
func (c *ValueCache) Len() int { return len(c.entries) }

// cachingDbContext wraps a DbContext so that repeated Get calls for the same
// key, within or across the records of one batch, are served from cache
// rather than re-hitting the store, and so that every Put/Delete keeps the
// cache consistent with the in-flight transaction it fronts.
type cachingDbContext struct {
	DbContext
	cache *ValueCache
}

// WithCache wraps db so reads and writes flow through cache, per
// ProcessingContext.Cache's documented purpose. The processing and
// reprocessing state machines use this to hand handlers a memoized view of
// db rather than the raw transaction.
func WithCache(db DbContext, cache *ValueCache) DbContext {
	return &cachingDbContext{DbContext: db, cache: cache}
}

func (c *cachingDbContext) Get(key []byte) ([]byte, error) {
	if v, exists, cached := c.cache.Get(key); cached {
		if !exists {
			return nil, nil
		}
		return v, nil
	}
	v, err := c.DbContext.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		c.cache.Unset(key)
	} else {
		c.cache.Set(key, v)
	}
	return v, nil
}

func (c *cachingDbContext) Put(key, value []byte) error {
	if err := c.DbContext.Put(key, value); err != nil {
		return err
	}
	c.cache.Set(key, value)
	return nil
}

func (c *cachingDbContext) Delete(key []byte) error {
	if err := c.DbContext.Delete(key); err != nil {
		return err
	}
	c.cache.Unset(key)
	return nil
}
