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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueCacheRoundTrip(t *testing.T) {
	c := NewValueCache()

	_, _, cached := c.Get([]byte("k"))
	require.False(t, cached)

	c.Set([]byte("k"), []byte("v1"))
	v, exists, cached := c.Get([]byte("k"))
	require.True(t, cached)
	require.True(t, exists)
	require.Equal(t, []byte("v1"), v)

	c.Unset([]byte("k"))
	_, exists, cached = c.Get([]byte("k"))
	require.True(t, cached)
	require.False(t, exists)

	c.Invalidate([]byte("k"))
	_, _, cached = c.Get([]byte("k"))
	require.False(t, cached)
}

func TestValueCacheReset(t *testing.T) {
	c := NewValueCache()
	c.Set([]byte("a"), []byte("1"))
	c.Set([]byte("b"), []byte("2"))
	require.Equal(t, 2, c.Len())

	c.Reset()
	require.Equal(t, 0, c.Len())
}

// countingStore is a minimal DbContext that counts Get calls, for asserting
// that WithCache actually avoids re-hitting the underlying store.
type countingStore struct {
	data  map[string][]byte
	reads int
}

func (s *countingStore) Get(key []byte) ([]byte, error) {
	s.reads++
	return s.data[string(key)], nil
}
func (s *countingStore) Put(key, value []byte) error {
	s.data[string(key)] = value
	return nil
}
func (s *countingStore) Delete(key []byte) error {
	delete(s.data, string(key))
	return nil
}
func (s *countingStore) Commit(Position) error { return nil }
func (s *countingStore) Discard()               {}

func TestWithCacheMemoizesRepeatedReads(t *testing.T) {
	store := &countingStore{data: map[string][]byte{"k": []byte("v1")}}
	cached := WithCache(store, NewValueCache())

	v, err := cached.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
	require.Equal(t, 1, store.reads)

	v, err = cached.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
	require.Equal(t, 1, store.reads, "second read of the same key must be served from cache")
}

func TestWithCacheServesWritesWithoutHittingStore(t *testing.T) {
	store := &countingStore{data: map[string][]byte{}}
	cached := WithCache(store, NewValueCache())

	require.NoError(t, cached.Put([]byte("k"), []byte("new")))
	v, err := cached.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), v)
	require.Equal(t, 0, store.reads, "a value just written should be served from cache, not the store")

	require.NoError(t, cached.Delete([]byte("k")))
	v, err = cached.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 0, store.reads, "a value just deleted should read back as absent without hitting the store")
}

func TestPositionHelpers(t *testing.T) {
	require.False(t, Unset.IsSet())
	require.Equal(t, Position(0), Unset.Next())
	require.True(t, Position(5).IsSet())
	require.Equal(t, "unset", Unset.String())
	require.Equal(t, "0x5", Position(5).String())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.CommitInterval = 0
	require.Error(t, bad.Validate())

	_, err := NewConfig(WithCommitInterval(0))
	require.Error(t, err)

	got, err := NewConfig(WithCommitInterval(50), WithBackoff(0, 0))
	require.Error(t, err)
	_ = got
}
