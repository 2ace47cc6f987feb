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

package processing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	streamproc "github.com/streamproc/partitionengine"
	"github.com/streamproc/partitionengine/kvstore"
	"github.com/streamproc/partitionengine/logstream"
	"github.com/streamproc/partitionengine/registry"
)

const (
	valueTypeAccount = "account"
	intentCredit     = "credit"
	intentReject     = "reject-me"
)

type recordingHandler struct {
	calls     int
	failNext  int
	rejectNow bool
	emit      int
}

func (h *recordingHandler) Process(ctx context.Context, pc *streamproc.ProcessingContext, db streamproc.DbContext, rec streamproc.Record) (streamproc.Outcome, error) {
	h.calls++
	if h.failNext > 0 {
		h.failNext--
		return streamproc.Outcome{}, errors.New("transient store hiccup")
	}
	if h.rejectNow {
		return streamproc.Outcome{Rejected: true, RejectionReason: "business rule violated"}, nil
	}
	if err := db.Put(rec.Key, rec.Payload); err != nil {
		return streamproc.Outcome{}, err
	}
	var out streamproc.Outcome
	for i := 0; i < h.emit; i++ {
		out.FollowUps = append(out.FollowUps, streamproc.Record{
			Key: rec.Key, ValueType: valueTypeAccount, Intent: intentCredit, Payload: []byte{0},
		})
	}
	return out, nil
}

// command builds a test fixture for an externally injected command record.
func command(valueType, intent string, key []byte, payload []byte) streamproc.Record {
	return streamproc.NewCommand(key, valueType, intent, payload)
}

func testConfig(t *testing.T) streamproc.Config {
	cfg, err := streamproc.NewConfig(
		streamproc.WithCommitInterval(2),
		streamproc.WithCommitMaxLatency(time.Hour),
		streamproc.WithPollInterval(time.Millisecond),
		streamproc.WithBackoff(time.Millisecond, 5*time.Millisecond),
	)
	require.NoError(t, err)
	return cfg
}

func TestStepReturnsFalseWhenLogIsEmpty(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	m := New(l, s, r, nil, testConfig(t))

	reader, err := l.NewReader(context.Background(), streamproc.Position(0))
	require.NoError(t, err)

	processed, err := m.Step(context.Background(), streamproc.NewProcessingContext(), reader)
	require.NoError(t, err)
	require.False(t, processed)
}

func TestStepCommitsAfterCommitInterval(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	h := &recordingHandler{}
	r.MustRegister(streamproc.TypeDescriptor{ValueType: valueTypeAccount, Intent: intentCredit}, h)

	ctx := context.Background()
	_, err := l.Append(ctx, []streamproc.Record{
		command(valueTypeAccount, intentCredit, []byte("a"), []byte{1}),
		command(valueTypeAccount, intentCredit, []byte("b"), []byte{2}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(ctx, streamproc.Position(0))
	require.NoError(t, err)

	m := New(l, s, r, nil, testConfig(t))
	pc := streamproc.NewProcessingContext()

	processed, err := m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)

	pos, err := s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Unset, pos, "commit interval is 2; first record must not yet be committed")

	processed, err = m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)

	pos, err = s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(1), pos)
}

func TestStepRetriesSameRecordAfterTransientFailure(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	h := &recordingHandler{failNext: 1}
	r.MustRegister(streamproc.TypeDescriptor{ValueType: valueTypeAccount, Intent: intentCredit}, h)

	ctx := context.Background()
	_, err := l.Append(ctx, []streamproc.Record{
		command(valueTypeAccount, intentCredit, []byte("a"), []byte{9}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(ctx, streamproc.Position(0))
	require.NoError(t, err)
	m := New(l, s, r, nil, testConfig(t))
	pc := streamproc.NewProcessingContext()

	_, err = m.Step(ctx, pc, reader)
	require.Error(t, err)
	var transient *streamproc.TransientError
	require.ErrorAs(t, err, &transient)
	require.Equal(t, 1, h.calls)

	processed, err := m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 2, h.calls, "the same record must be retried, not skipped")
}

func TestStepSynthesizesRejectionFollowUp(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	h := &recordingHandler{rejectNow: true}
	r.MustRegister(streamproc.TypeDescriptor{ValueType: valueTypeAccount, Intent: intentReject}, h)

	ctx := context.Background()
	_, err := l.Append(ctx, []streamproc.Record{
		command(valueTypeAccount, intentReject, []byte("a"), []byte{1}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(ctx, streamproc.Position(0))
	require.NoError(t, err)
	m := New(l, s, r, nil, testConfig(t))
	pc := streamproc.NewProcessingContext()

	processed, err := m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)
	require.NoError(t, m.Flush())

	pos, err := s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(0), pos, "a rejection still advances the checkpoint")
	require.Equal(t, 2, l.Len(), "a rejection follow-up must be appended")
}

// TestStepNeverDispatchesItsOwnFollowUp covers spec.md scenario 2: a command
// that emits one follow-up ends steady-state processing with the checkpoint
// on the command, not the follow-up, because the follow-up is read back
// from the same log but is never itself run through a handler.
func TestStepNeverDispatchesItsOwnFollowUp(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	h := &recordingHandler{emit: 1}
	r.MustRegister(streamproc.TypeDescriptor{ValueType: valueTypeAccount, Intent: intentCredit}, h)

	ctx := context.Background()
	_, err := l.Append(ctx, []streamproc.Record{
		command(valueTypeAccount, intentCredit, []byte("a"), []byte{1}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(ctx, streamproc.Position(0))
	require.NoError(t, err)
	m := New(l, s, r, nil, testConfig(t))
	pc := streamproc.NewProcessingContext()

	processed, err := m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)
	require.NoError(t, m.Flush())
	require.Equal(t, 2, l.Len(), "the follow-up must be written")
	require.Equal(t, 1, h.calls, "the handler runs once for the command")

	pos, err := s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(0), pos, "checkpoint stays on the command")

	// Reading the follow-up back must not dispatch it, even though a
	// handler is registered for its (ValueType, Intent).
	processed, err = m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 1, h.calls, "the follow-up must never reach the handler")

	require.NoError(t, m.Flush())
	pos, err = s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(0), pos, "skipping the follow-up must not move the checkpoint")
}

func TestStepSkipsUnknownRecordTypeWithoutFailingTheEngine(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()

	ctx := context.Background()
	_, err := l.Append(ctx, []streamproc.Record{
		command("mystery", "unknown", []byte("a"), []byte{1}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(ctx, streamproc.Position(0))
	require.NoError(t, err)
	m := New(l, s, r, nil, testConfig(t))
	pc := streamproc.NewProcessingContext()

	processed, err := m.Step(ctx, pc, reader)
	require.NoError(t, err)
	require.True(t, processed)
	require.NoError(t, m.Flush())

	pos, err := s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(0), pos)
	require.Equal(t, 1, l.Len(), "a skipped record with no handler must not append anything")
}

func TestFlushForcesCommitRegardlessOfBatchSize(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	h := &recordingHandler{}
	r.MustRegister(streamproc.TypeDescriptor{ValueType: valueTypeAccount, Intent: intentCredit}, h)

	ctx := context.Background()
	_, err := l.Append(ctx, []streamproc.Record{
		command(valueTypeAccount, intentCredit, []byte("a"), []byte{1}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(ctx, streamproc.Position(0))
	require.NoError(t, err)
	m := New(l, s, r, nil, testConfig(t))

	_, err = m.Step(ctx, streamproc.NewProcessingContext(), reader)
	require.NoError(t, err)

	pos, err := s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Unset, pos)

	require.NoError(t, m.Flush())
	pos, err = s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(0), pos)
}

func TestRunStopsOnContextCancellationAndFlushes(t *testing.T) {
	l := logstream.NewMemLog()
	s := kvstore.NewMemStore()
	r := registry.New()
	h := &recordingHandler{}
	r.MustRegister(streamproc.TypeDescriptor{ValueType: valueTypeAccount, Intent: intentCredit}, h)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Append(context.Background(), []streamproc.Record{
		command(valueTypeAccount, intentCredit, []byte("a"), []byte{1}),
	})
	require.NoError(t, err)

	reader, err := l.NewReader(context.Background(), streamproc.Position(0))
	require.NoError(t, err)
	m := New(l, s, r, nil, testConfig(t))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, streamproc.NewProcessingContext(), reader) }()

	require.Eventually(t, func() bool { return h.calls >= 1 }, time.Second, time.Millisecond,
		"Run should have processed the lone record at least once before cancellation")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	pos, err := s.LastSuccessfulProcessedRecordPosition()
	require.NoError(t, err)
	require.Equal(t, streamproc.Position(0), pos, "Run must flush uncommitted progress on shutdown")
}
