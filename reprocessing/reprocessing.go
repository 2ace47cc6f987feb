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

// Package reprocessing implements the Reprocessing State Machine: on
// startup it rebuilds the in-memory ProcessingContext that the steady-state
// processing task needs, by replaying the log forward from the store's last
// committed checkpoint. It is grounded on restoreFromAnchor
// (cmd/ubtconv/consumer.go), generalized from "revert to the newest
// readable trie snapshot" to "replay the log forward from the newest
// committed checkpoint", since this engine's durability boundary is the
// store commit rather than a separate anchor file.
package reprocessing

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	streamproc "github.com/streamproc/partitionengine"
)

// Machine runs the two-pass recovery algorithm described in the package
// doc. It holds no state between Run calls; callers invoke Run exactly once
// at startup before handing off to the processing state machine.
type Machine struct {
	log       streamproc.Log
	store     streamproc.Store
	registry  streamproc.HandlerRegistry
	partition string
}

// New returns a reprocessing Machine over the given collaborators.
func New(l streamproc.Log, s streamproc.Store, r streamproc.HandlerRegistry) *Machine {
	return &Machine{log: l, store: s, registry: r}
}

// SetPartition tags this Machine's recovery-time metric with partition,
// matching spec.md §6's "tagged by partition" requirement. It must be
// called, if at all, before Run.
func (m *Machine) SetPartition(partition string) {
	m.partition = partition
}

// Run performs recovery and returns the rebuilt ProcessingContext plus the
// position the processing state machine should resume reading from (one
// past the replay boundary). On success the store's checkpoint has been
// advanced to the replay boundary, so a subsequent crash resumes recovery
// from there rather than redoing this work.
//
// Pass one scans forward from the checkpoint to the current log tip,
// validating that positions are contiguous and fixing a stable replay
// boundary L; pass two re-seeks to the checkpoint and replays (S, L] against
// a single store transaction in replay mode, discarding any follow-ups a
// handler emits since they are already durable in the log from before the
// crash. Fixing L before replaying means new records appended by outside
// producers while recovery is in flight don't extend the boundary out from
// under pass two.
func (m *Machine) Run(ctx context.Context) (*streamproc.ProcessingContext, streamproc.Position, error) {
	start := time.Now()
	recoveryAttemptsTotal.Inc(1)

	checkpoint, err := m.store.LastSuccessfulProcessedRecordPosition()
	if err != nil {
		recoveryFailuresTotal.Inc(1)
		return nil, streamproc.Unset, &streamproc.InfrastructureError{Component: "store", Err: err}
	}

	if checkpoint.IsSet() {
		latest, err := m.log.LatestPosition(ctx)
		if err != nil {
			recoveryFailuresTotal.Inc(1)
			return nil, streamproc.Unset, &streamproc.InfrastructureError{Component: "log", Err: err}
		}
		if latest == streamproc.Unset || latest < checkpoint {
			// The store's snapshot claims effects are durable through
			// checkpoint, but the log itself doesn't reach that far: the
			// two collaborators have fallen out of sync (truncation, a
			// restored log backup predating the snapshot, ...). This
			// can't be repaired by replay; it needs a new engine instance
			// over a consistent log/store pair.
			recoveryFailuresTotal.Inc(1)
			return nil, streamproc.Unset, &streamproc.CannotRecoverError{
				Snapshot:  checkpoint,
				Partition: m.partition,
				Err:       fmt.Errorf("log does not contain snapshot position %s (latest durable position is %s)", checkpoint, latest),
			}
		}
	}

	boundary, err := m.scanReplayBoundary(ctx, checkpoint)
	if err != nil {
		recoveryFailuresTotal.Inc(1)
		return nil, streamproc.Unset, err
	}

	if boundary == checkpoint {
		log.Info("Reprocessing found nothing to replay", "checkpoint", checkpoint)
		recoverySuccessesTotal.Inc(1)
		recoveryLatency(m.partition).UpdateSince(start)
		return streamproc.NewProcessingContext(), checkpoint.Next(), nil
	}

	pc, err := m.replay(ctx, checkpoint, boundary)
	if err != nil {
		recoveryFailuresTotal.Inc(1)
		return nil, streamproc.Unset, err
	}

	log.Info("Reprocessing complete", "from", checkpoint, "to", boundary)
	recoverySuccessesTotal.Inc(1)
	recoveryLatency(m.partition).UpdateSince(start)
	return pc, boundary.Next(), nil
}

// scanReplayBoundary is pass one: it reads every record durable in the log
// after checkpoint, checking that positions increase by exactly one each
// time, and returns the position of the last **command** record seen (or
// checkpoint itself if there is nothing to replay). Follow-up records are
// counted for the contiguity check but do not themselves extend the
// boundary: a command's follow-ups are already durable proof that the
// command produced them, so the command position alone determines how far
// replay must re-drive the registry (spec.md §9 Open Question 2 / §4.3.1).
func (m *Machine) scanReplayBoundary(ctx context.Context, checkpoint streamproc.Position) (streamproc.Position, error) {
	reader, err := m.log.NewReader(ctx, checkpoint.Next())
	if err != nil {
		return streamproc.Unset, &streamproc.InfrastructureError{Component: "log", Err: err}
	}
	defer reader.Close()

	tip := checkpoint
	boundary := checkpoint
	for {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return streamproc.Unset, &streamproc.InfrastructureError{Component: "log", Err: err}
		}
		if !ok {
			return boundary, nil
		}
		if rec.Position != tip.Next() {
			return streamproc.Unset, &streamproc.CannotRecoverError{
				Snapshot:  checkpoint,
				Partition: m.partition,
				Err:       fmt.Errorf("log position gap: expected %s, got %s", tip.Next(), rec.Position),
			}
		}
		tip = rec.Position
		if !rec.IsFollowUp() {
			boundary = rec.Position
		}
	}
}

// replay is pass two: it re-seeks to checkpoint.Next() and re-drives every
// command record up to boundary through its registered handler (follow-ups
// and records with no handler are passed over) inside one store transaction,
// rebuilding a ValueCache and every domain write as a side effect, then
// commits with boundary as the new checkpoint.
func (m *Machine) replay(ctx context.Context, checkpoint, boundary streamproc.Position) (*streamproc.ProcessingContext, error) {
	reader, err := m.log.NewReader(ctx, checkpoint.Next())
	if err != nil {
		return nil, &streamproc.InfrastructureError{Component: "log", Err: err}
	}
	defer reader.Close()

	db, err := m.store.OpenTransaction()
	if err != nil {
		return nil, &streamproc.InfrastructureError{Component: "store", Err: err}
	}

	pc := streamproc.NewProcessingContext()
	pc.Replaying = true

	for pos := checkpoint.Next(); pos <= boundary; pos = pos.Next() {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			db.Discard()
			return nil, &streamproc.InfrastructureError{Component: "log", Err: err}
		}
		if !ok {
			db.Discard()
			return nil, &streamproc.CannotRecoverError{
				Snapshot:  checkpoint,
				Partition: m.partition,
				Err:       fmt.Errorf("log ended before replay boundary %s at %s", boundary, pos),
			}
		}

		if rec.IsFollowUp() {
			// Step 3d: a follow-up already durable in the log is proof its
			// source command ran to completion; consume it without
			// applying it a second time.
			continue
		}

		handler, found := m.registry.Lookup(rec.TypeDescriptor())
		if !found {
			// Step 3a: a record type with no registered handler is marked
			// processed and skipped, exactly as in steady-state processing
			// — not a recovery failure.
			log.Warn("No handler registered for record during replay, skipping", "type", rec.TypeDescriptor(), "position", rec.Position)
			pc.Position = rec.Position
			continue
		}

		pc.Position = rec.Position
		// Follow-ups this handler would emit are intentionally discarded:
		// the replayed handler is deterministic and whatever it would
		// append is already durable in the log from before the crash.
		if _, err := handler.Process(ctx, pc, streamproc.WithCache(db, pc.Cache), rec); err != nil {
			db.Discard()
			return nil, &streamproc.CannotRecoverError{
				Snapshot:  checkpoint,
				Partition: m.partition,
				Err:       fmt.Errorf("replaying position %s: %w", rec.Position, err),
			}
		}
	}

	if err := db.Commit(boundary); err != nil {
		return nil, &streamproc.InfrastructureError{Component: "store", Err: err}
	}

	pc.Replaying = false
	pc.Position = boundary
	return pc, nil
}
