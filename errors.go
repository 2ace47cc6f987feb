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

import "fmt"

// TransientError wraps a processing failure that is expected to clear on
// retry (a store I/O hiccup, a log read timeout). The processing state
// machine backs off and retries rather than failing the engine.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}
func (e *TransientError) Unwrap() error { return e.Err }

// CannotRecoverError is a fatal recovery error: the reprocessing state
// machine could not reconstruct a consistent in-memory state from the
// snapshot boundary and the log. The engine transitions to Failed.
type CannotRecoverError struct {
	Snapshot  Position
	Partition string
	Err       error
}

func (e *CannotRecoverError) Error() string {
	return fmt.Sprintf("cannot recover partition %q from snapshot %s: %v", e.Partition, e.Snapshot, e.Err)
}
func (e *CannotRecoverError) Unwrap() error { return e.Err }

// InfrastructureError wraps a failure in an external collaborator (log,
// store) that the engine cannot classify as transient or fatal on its own;
// callers decide via errors.Is/As on the wrapped cause.
type InfrastructureError struct {
	Component string
	Err       error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error in %s: %v", e.Component, e.Err)
}
func (e *InfrastructureError) Unwrap() error { return e.Err }

// LifecycleError is returned by the supervisor's public API when a
// requested transition is invalid for the engine's current state (e.g.
// Resume while not Paused). It is never fatal to the engine itself.
type LifecycleError struct {
	Requested string
	Current   string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("cannot %s: engine is %s", e.Requested, e.Current)
}
