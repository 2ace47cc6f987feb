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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	streamproc "github.com/streamproc/partitionengine"
)

func TestMemLogAppendAndRead(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog()

	positions, err := l.Append(ctx, []streamproc.Record{
		{ValueType: "order", Intent: "create", Payload: []byte("a")},
		{ValueType: "order", Intent: "create", Payload: []byte("b")},
	})
	require.NoError(t, err)
	require.Equal(t, []streamproc.Position{0, 1}, positions)

	r, err := l.NewReader(ctx, streamproc.Unset.Next())
	require.NoError(t, err)

	rec, ok, err := r.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, streamproc.Position(0), rec.Position)
	require.Equal(t, []byte("a"), rec.Payload)

	rec, ok, err = r.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), rec.Payload)

	_, ok, err = r.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	latest, err := l.LatestPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(1), latest)
}

func TestMemLogEmptyLatestPosition(t *testing.T) {
	l := NewMemLog()
	latest, err := l.LatestPosition(context.Background())
	require.NoError(t, err)
	require.Equal(t, streamproc.Unset, latest)
}

func TestMemLogFailureInjection(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog()

	boom := errors.New("boom")
	l.FailAppend = boom
	_, err := l.Append(ctx, []streamproc.Record{{Payload: []byte("x")}})
	require.ErrorIs(t, err, boom)

	// Failure is consumed; the next append succeeds.
	_, err = l.Append(ctx, []streamproc.Record{{Payload: []byte("x")}})
	require.NoError(t, err)
}

func TestMemLogReaderResumesFromPosition(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog()
	_, err := l.Append(ctx, []streamproc.Record{
		{Payload: []byte("a")}, {Payload: []byte("b")}, {Payload: []byte("c")},
	})
	require.NoError(t, err)

	r, err := l.NewReader(ctx, streamproc.Position(1))
	require.NoError(t, err)
	rec, ok, err := r.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), rec.Payload)
}
