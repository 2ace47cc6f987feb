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
	"testing"

	"github.com/stretchr/testify/require"
	streamproc "github.com/streamproc/partitionengine"
)

func TestDBAppendAndReadSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)

	_, err = db.Append(ctx, []streamproc.Record{
		{ValueType: "order", Intent: "create", Payload: []byte("one")},
		{ValueType: "order", Intent: "create", Payload: []byte("two")},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.LatestPosition(ctx)
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(1), latest)

	r, err := reopened.NewReader(ctx, streamproc.Unset.Next())
	require.NoError(t, err)
	rec, ok, err := r.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("one"), rec.Payload)

	// Appending after reopen must continue the position sequence rather
	// than restarting from zero.
	positions, err := reopened.Append(ctx, []streamproc.Record{{Payload: []byte("three")}})
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(2), positions[0])
}

func TestDBReaderStopsAtEndOfLog(t *testing.T) {
	ctx := context.Background()
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Append(ctx, []streamproc.Record{{Payload: []byte("only")}})
	require.NoError(t, err)

	r, err := db.NewReader(ctx, streamproc.Unset.Next())
	require.NoError(t, err)
	_, ok, err := r.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
