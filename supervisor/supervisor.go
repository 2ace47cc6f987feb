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

// Package supervisor owns the StreamProcessor's lifecycle: running
// reprocessing once at startup, then driving the steady-state processing
// loop, and exposing Start/Pause/Resume/Close plus health status to
// external callers. It is grounded on Runner (cmd/ubtconv/runner.go),
// generalized from a fixed two-goroutine (consume + compaction) daemon into
// a single supervised processing task with explicit pause/resume, per the
// engine's single-writer requirement.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	streamproc "github.com/streamproc/partitionengine"
	"github.com/streamproc/partitionengine/healthz"
	"github.com/streamproc/partitionengine/processing"
	"github.com/streamproc/partitionengine/reprocessing"
)

// State is the engine's externally visible lifecycle state.
type State string

const (
	StateNew          State = "new"
	StateReprocessing State = "reprocessing"
	StateProcessing   State = "processing"
	StatePaused       State = "paused"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// StreamProcessor is the engine's public contract: one instance owns one
// partition's log, store, and handler registry, and runs at most one
// processing task at a time.
type StreamProcessor struct {
	log      streamproc.Log
	store    streamproc.Store
	registry streamproc.HandlerRegistry
	cfg      streamproc.Config
	monitor  *healthz.Monitor

	mu       sync.Mutex
	state    State
	pc       *streamproc.ProcessingContext
	resumeAt streamproc.Position
	reader   streamproc.Reader
	machine  *processing.Machine
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a StreamProcessor. It does not start processing: call
// Start to run recovery and begin the steady-state loop.
func New(l streamproc.Log, s streamproc.Store, r streamproc.HandlerRegistry, cfg streamproc.Config) *StreamProcessor {
	return &StreamProcessor{
		log:      l,
		store:    s,
		registry: r,
		cfg:      cfg,
		monitor:  healthz.NewMonitor(cfg.HealthTickInterval, cfg.UnhealthyAfterTicks),
		state:    StateNew,
	}
}

// Start runs the Reprocessing State Machine to rebuild in-memory state from
// the log and store, then begins the steady-state processing loop in a
// background goroutine. Start returns once recovery completes (successfully
// or not); a recovery failure transitions the engine to Failed and is
// returned as a *streamproc.CannotRecoverError (log and store inconsistent)
// or a *streamproc.InfrastructureError (the log or store itself failed).
func (sp *StreamProcessor) Start(ctx context.Context) error {
	sp.mu.Lock()
	if sp.state != StateNew {
		state := sp.state
		sp.mu.Unlock()
		return &streamproc.LifecycleError{Requested: "start", Current: string(state)}
	}
	sp.state = StateReprocessing
	sp.mu.Unlock()

	log.Info("Stream processor starting recovery")
	rm := reprocessing.New(sp.log, sp.store, sp.registry)
	rm.SetPartition(sp.cfg.Partition)
	pc, resumeAt, err := rm.Run(ctx)
	if err != nil {
		sp.mu.Lock()
		sp.state = StateFailed
		sp.mu.Unlock()
		sp.monitor.Fail(err)
		return err
	}

	sp.mu.Lock()
	sp.pc = pc
	sp.resumeAt = resumeAt
	sp.machine = processing.New(sp.log, sp.store, sp.registry, sp.monitor, sp.cfg)
	sp.mu.Unlock()

	return sp.beginProcessing(ctx)
}

// beginProcessing opens a reader at sp.resumeAt and spawns the processing
// loop. Callers must hold sp.mu only around the state check; this method
// manages its own locking for the parts that touch goroutine state.
func (sp *StreamProcessor) beginProcessing(ctx context.Context) error {
	reader, err := sp.log.NewReader(ctx, sp.resumeAt)
	if err != nil {
		wrapped := &streamproc.InfrastructureError{Component: "log", Err: err}
		sp.mu.Lock()
		sp.state = StateFailed
		sp.mu.Unlock()
		sp.monitor.Fail(wrapped)
		return wrapped
	}

	runCtx, cancel := context.WithCancel(context.Background())

	sp.mu.Lock()
	sp.reader = reader
	sp.cancel = cancel
	sp.state = StateProcessing
	sp.mu.Unlock()

	sp.wg.Add(1)
	go func() {
		defer sp.wg.Done()
		if err := sp.machine.Run(runCtx, sp.pc, reader); err != nil {
			log.Error("Processing loop exited with error", "err", err)
			sp.mu.Lock()
			sp.state = StateFailed
			sp.mu.Unlock()
			sp.monitor.Fail(err)
		}
	}()

	log.Info("Stream processor entered steady-state processing", "resumeAt", sp.resumeAt)
	return nil
}

// Pause stops the processing loop after it finishes its current step and
// flushes any batched commit, without discarding the in-memory
// ProcessingContext. The engine may later be resumed with Resume. Pause is
// only valid from the Processing state.
func (sp *StreamProcessor) Pause() error {
	sp.mu.Lock()
	if sp.state != StateProcessing {
		state := sp.state
		sp.mu.Unlock()
		return &streamproc.LifecycleError{Requested: "pause", Current: string(state)}
	}
	cancel := sp.cancel
	sp.mu.Unlock()

	cancel()
	sp.wg.Wait()

	sp.mu.Lock()
	if sp.state == StateProcessing {
		sp.resumeAt = sp.pc.Position.Next()
		sp.reader.Close()
		sp.state = StatePaused
	}
	sp.mu.Unlock()
	log.Info("Stream processor paused")
	return nil
}

// Resume restarts the processing loop from where Pause left off. Resume is
// only valid from the Paused state.
func (sp *StreamProcessor) Resume(ctx context.Context) error {
	sp.mu.Lock()
	if sp.state != StatePaused {
		state := sp.state
		sp.mu.Unlock()
		return &streamproc.LifecycleError{Requested: "resume", Current: string(state)}
	}
	sp.mu.Unlock()

	log.Info("Stream processor resuming")
	return sp.beginProcessing(ctx)
}

// Close stops the processing loop (if running), flushes outstanding
// progress, and releases the store, plus the log if it implements
// io.Closer. Close is idempotent.
func (sp *StreamProcessor) Close() error {
	sp.mu.Lock()
	state := sp.state
	cancel := sp.cancel
	sp.mu.Unlock()

	if state == StateClosed {
		return nil
	}
	if state == StateProcessing && cancel != nil {
		cancel()
		sp.wg.Wait()
	}

	sp.mu.Lock()
	sp.state = StateClosed
	sp.mu.Unlock()

	var errs []error
	if closer, ok := sp.log.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log: %w", err))
		}
	}
	if err := sp.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// State returns the engine's current lifecycle state.
func (sp *StreamProcessor) State() State {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.state
}

// HealthStatus returns the engine's current health, evaluated against now.
func (sp *StreamProcessor) HealthStatus(now time.Time) healthz.Status {
	return sp.monitor.Evaluate(now)
}

// LastProcessedPosition returns the current lastSuccessfulProcessed
// position (spec.md §4.5 getLastProcessedPositionAsync): the durable
// checkpoint most recently committed to the store, or Unset before the
// first commit.
func (sp *StreamProcessor) LastProcessedPosition() (streamproc.Position, error) {
	return sp.store.LastSuccessfulProcessedRecordPosition()
}

// LastWrittenPosition returns the current lastWritten position (spec.md
// §4.5 getLastWrittenPositionAsync): the highest position observed durable
// in the log, counting every position below the point where recovery (or
// the last Pause) handed off to the processing loop, plus every record the
// processing task has since read or appended. It is Unset before Start.
func (sp *StreamProcessor) LastWrittenPosition() streamproc.Position {
	sp.mu.Lock()
	m := sp.machine
	handedOff := sp.resumeAt - 1
	sp.mu.Unlock()
	if m == nil {
		return streamproc.Unset
	}
	if w := m.LastWrittenPosition(); w > handedOff {
		return w
	}
	return handedOff
}

// OnFailure registers a listener invoked at most once, the first time the
// engine transitions to Failed.
func (sp *StreamProcessor) OnFailure(l healthz.FailureListener) {
	sp.monitor.OnFailure(l)
}
