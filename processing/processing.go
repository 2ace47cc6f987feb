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

// Package processing implements the steady-state Processing State Machine:
// read the next record, dispatch it to its registered handler, apply
// effects through a store transaction, write any follow-ups to the log, and
// periodically commit a new checkpoint. It is grounded on Runner.loop and
// Consumer.ConsumeNext (cmd/ubtconv/runner.go, consumer.go), generalized
// from outbox-seq/RPC polling to the engine's Log/Store/HandlerRegistry
// abstractions.
package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	streamproc "github.com/streamproc/partitionengine"
	"github.com/streamproc/partitionengine/healthz"
)

const (
	// RejectionValueType is the ValueType used for the follow-up the
	// engine synthesizes for a record that was rejected, when the
	// handler itself didn't already emit one.
	RejectionValueType = "engine.rejection"

	// RejectionIntent is the Intent paired with RejectionValueType.
	RejectionIntent = "rejected"
)

// Machine runs the steady-state loop. A Machine is not safe for concurrent
// use: the engine is single-writer by design, and exactly one goroutine
// drives Step/Run at a time.
type Machine struct {
	log      streamproc.Log
	store    streamproc.Store
	registry streamproc.HandlerRegistry
	monitor  *healthz.Monitor
	cfg      streamproc.Config

	mu            sync.Mutex
	pending       *streamproc.Record // a fetched-but-not-yet-committed record, retried verbatim on the next Step after a transient failure
	tx            streamproc.DbContext
	batchCount    uint64
	batchLastPos  streamproc.Position
	batchOpenedAt time.Time
	lastWritten   streamproc.Position
}

// New returns a processing Machine over the given collaborators. monitor may
// be nil, in which case no health ticks are recorded.
func New(l streamproc.Log, s streamproc.Store, r streamproc.HandlerRegistry, monitor *healthz.Monitor, cfg streamproc.Config) *Machine {
	return &Machine{
		log: l, store: s, registry: r, monitor: monitor, cfg: cfg,
		lastWritten: streamproc.Unset,
	}
}

// LastWrittenPosition returns the highest log position this machine has
// observed durable in the log, which is the greater of the position it most
// recently read and the highest position returned by its own follow-up
// appends (spec.md §4.4 step 4, I2: lastSuccessfulProcessed ≤ lastWritten ≤
// log.committedPosition).
func (m *Machine) LastWrittenPosition() streamproc.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWritten
}

func (m *Machine) markWritten(pos streamproc.Position) {
	m.mu.Lock()
	if pos.IsSet() && pos > m.lastWritten {
		m.lastWritten = pos
	}
	m.mu.Unlock()
}

// Step drives exactly one iteration of the loop: it fetches the next record
// (or retries a previously fetched one that failed), dispatches it, and
// periodically commits. processed is true when a record was consumed:
// applied through its handler, skipped for lack of a handler, or passed
// over as a follow-up; the batch it belongs to may or may not have been
// committed yet. Step returns (false, nil) when the log has no new record currently
// available; the caller should wait PollInterval and call Step again.
func (m *Machine) Step(ctx context.Context, pc *streamproc.ProcessingContext, reader streamproc.Reader) (processed bool, err error) {
	rec, err := m.nextRecord(ctx, reader)
	if err != nil {
		return false, err
	}
	if rec == nil {
		if err := m.maybeCommit(false); err != nil {
			return false, err
		}
		return false, nil
	}

	if rec.IsFollowUp() {
		// Follow-ups are written to the same log they are read back from,
		// but they already had their effect: it was applied (or, during
		// replay mode, discarded) when the command that produced them was
		// processed. Re-dispatching them here would double-apply that
		// effect, so the loop simply advances past them.
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
		pc.Position = rec.Position
		m.markWritten(rec.Position)
		if err := m.maybeCommit(false); err != nil {
			return false, err
		}
		return true, nil
	}

	m.markWritten(rec.Position)
	if err := m.ensureTx(); err != nil {
		return false, err
	}

	outcome, err := m.dispatch(ctx, pc, *rec)
	if err != nil {
		// The record stays pending: the next Step retries it rather than
		// advancing past it, mirroring markPendingSeq's in-flight marker.
		stepErrorsTotal.Inc(1)
		return false, &streamproc.TransientError{Op: fmt.Sprintf("process %s", rec.Position), Err: err}
	}
	if outcome.Rejected {
		recordsRejectedTotal.Inc(1)
	}

	if len(outcome.FollowUps) > 0 {
		for i := range outcome.FollowUps {
			outcome.FollowUps[i].SourceEventPosition = rec.Position
		}
		positions, err := m.log.Append(ctx, outcome.FollowUps)
		if err != nil {
			stepErrorsTotal.Inc(1)
			return false, &streamproc.TransientError{Op: "append follow-ups", Err: err}
		}
		if n := len(positions); n > 0 {
			m.markWritten(positions[n-1])
		}
		followUpsEmittedTotal.Inc(int64(len(outcome.FollowUps)))
	}

	recordsProcessedTotal.Inc(1)
	m.batchCount++
	m.batchLastPos = rec.Position
	m.pending = nil

	if m.monitor != nil {
		m.monitor.Tick(time.Now())
	}

	if err := m.maybeCommit(false); err != nil {
		return false, err
	}
	return true, nil
}

// Flush forces any batched-but-uncommitted progress to be durably
// committed. Callers (the supervisor, on pause) should call this before
// treating the engine as quiesced.
func (m *Machine) Flush() error {
	return m.maybeCommit(true)
}

func (m *Machine) nextRecord(ctx context.Context, reader streamproc.Reader) (*streamproc.Record, error) {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()
	if pending != nil {
		return pending, nil
	}

	rec, ok, err := reader.Next(ctx)
	if err != nil {
		return nil, &streamproc.TransientError{Op: "read next record", Err: err}
	}
	if !ok {
		return nil, nil
	}

	m.mu.Lock()
	m.pending = &rec
	m.mu.Unlock()
	return &rec, nil
}

func (m *Machine) dispatch(ctx context.Context, pc *streamproc.ProcessingContext, rec streamproc.Record) (streamproc.Outcome, error) {
	pc.Position = rec.Position
	pc.Replaying = false

	handler, found := m.registry.Lookup(rec.TypeDescriptor())
	if !found {
		// A missing registry entry means "ignore": the checkpoint still
		// advances past this record (Open Question 1, spec.md §9) but no
		// follow-up is synthesized and no handler runs. This is not the
		// same as a handler-observed business rejection.
		log.Warn("No handler registered for record, skipping", "type", rec.TypeDescriptor(), "position", rec.Position)
		recordsSkippedTotal.Inc(1)
		return streamproc.Outcome{}, nil
	}

	outcome, err := handler.Process(ctx, pc, streamproc.WithCache(m.tx, pc.Cache), rec)
	if err != nil {
		return streamproc.Outcome{}, err
	}
	if outcome.Rejected && len(outcome.FollowUps) == 0 {
		return m.rejection(rec, outcome.RejectionReason), nil
	}
	return outcome, nil
}

func (m *Machine) rejection(rec streamproc.Record, reason string) streamproc.Outcome {
	return streamproc.Outcome{
		Rejected:        true,
		RejectionReason: reason,
		FollowUps: []streamproc.Record{{
			Key:       rec.Key,
			ValueType: RejectionValueType,
			Intent:    RejectionIntent,
			Payload:   []byte(reason),
		}},
	}
}

func (m *Machine) ensureTx() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx != nil {
		return nil
	}
	tx, err := m.store.OpenTransaction()
	if err != nil {
		return &streamproc.InfrastructureError{Component: "store", Err: err}
	}
	m.tx = tx
	m.batchCount = 0
	m.batchOpenedAt = time.Now()
	return nil
}

// maybeCommit commits the open transaction if force is set, or if the
// configured batch size or max latency has been reached.
func (m *Machine) maybeCommit(force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx == nil {
		return nil
	}
	due := force ||
		m.batchCount >= m.cfg.CommitInterval ||
		time.Since(m.batchOpenedAt) >= m.cfg.CommitMaxLatency
	if !due {
		return nil
	}
	start := time.Now()
	if err := m.tx.Commit(m.batchLastPos); err != nil {
		return &streamproc.InfrastructureError{Component: "store", Err: err}
	}
	commitTotal.Inc(1)
	commitLatency.UpdateSince(start)
	log.Debug("Committed processing batch", "count", m.batchCount, "checkpoint", m.batchLastPos)
	m.tx = nil
	m.batchCount = 0
	return nil
}

// Run drives Step in a loop until ctx is canceled, applying exponential
// backoff on a *streamproc.TransientError and polling PollInterval when the
// log has nothing new. Any other error from Step ends the loop and is
// returned.
// It is the convenience entry point for callers that don't need the
// supervisor's finer-grained pause/resume control over each Step.
func (m *Machine) Run(ctx context.Context, pc *streamproc.ProcessingContext, reader streamproc.Reader) error {
	backoff := m.cfg.BackoffInitial

	for {
		select {
		case <-ctx.Done():
			return m.Flush()
		default:
		}

		processed, err := m.Step(ctx, pc, reader)
		if err != nil {
			var transient *streamproc.TransientError
			if !errors.As(err, &transient) {
				return err
			}
			log.Debug("Processing step failed, backing off", "err", err, "backoff", backoff)
			backoffGauge.Update(backoff.Milliseconds())
			select {
			case <-ctx.Done():
				return m.Flush()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.cfg.BackoffMax {
				backoff = m.cfg.BackoffMax
			}
			continue
		}

		backoff = m.cfg.BackoffInitial
		backoffGauge.Update(0)
		if !processed {
			select {
			case <-ctx.Done():
				return m.Flush()
			case <-time.After(m.cfg.PollInterval):
			}
		}
	}
}
