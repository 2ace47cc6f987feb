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

// Package healthz tracks the engine's health status and notifies listeners
// on an irrecoverable failure, generalized from PhaseTracker
// (cmd/ubtconv/phase.go)'s tick-driven phase transitions into the spec's
// three-state Healthy/Unhealthy/Failed model.
package healthz

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Status is the engine's current health, as reported to external
// observers.
type Status string

const (
	// Healthy means the processing task has ticked within the configured
	// window.
	Healthy Status = "healthy"

	// Unhealthy means the processing task has missed enough ticks to be
	// considered stalled, but has not been declared Failed.
	Unhealthy Status = "unhealthy"

	// Failed means the engine has encountered an unrecoverable condition
	// (a recovery error or infrastructure error per the error taxonomy)
	// and has stopped processing for good.
	Failed Status = "failed"
)

// FailureListener is notified exactly once, the first time the monitor
// transitions to Failed.
type FailureListener func(reason error)

// Monitor tracks liveness via a tick/watchdog pattern: the processing state
// machine calls Tick after applying a record, and a separate caller calls
// Evaluate against a clock to detect staleness.
type Monitor struct {
	unhealthyAfter time.Duration

	mu        sync.Mutex
	lastTick  time.Time
	status    Status
	failErr   error
	listeners []FailureListener
}

// NewMonitor returns a Monitor that reports Unhealthy once
// unhealthyAfterTicks * tickInterval has elapsed since the last Tick.
func NewMonitor(tickInterval time.Duration, unhealthyAfterTicks uint64) *Monitor {
	if unhealthyAfterTicks == 0 {
		unhealthyAfterTicks = 1
	}
	return &Monitor{
		unhealthyAfter: tickInterval * time.Duration(unhealthyAfterTicks),
		lastTick:       time.Time{},
		status:         Healthy,
	}
}

// Tick records that the processing task made progress. It is a no-op once
// the monitor has failed: a failed engine does not recover via ticking.
func (m *Monitor) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Failed {
		return
	}
	m.lastTick = now
	if m.status != Healthy {
		log.Info("Health monitor recovered", "from", m.status)
	}
	m.status = Healthy
	statusGauge.Update(statusValue(Healthy))
}

// Evaluate checks elapsed time since the last Tick against the configured
// threshold and updates status to Unhealthy if stale. It has no effect once
// Failed. The supervisor calls this on demand from HealthStatus.
func (m *Monitor) Evaluate(now time.Time) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == Failed {
		return Failed
	}
	if m.lastTick.IsZero() {
		return m.status
	}
	if now.Sub(m.lastTick) >= m.unhealthyAfter {
		if m.status != Unhealthy {
			log.Warn("Health monitor detected stalled processing task", "since", m.lastTick)
		}
		m.status = Unhealthy
		statusGauge.Update(statusValue(Unhealthy))
	}
	return m.status
}

// Status returns the current status without evaluating staleness.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Fail transitions the monitor to Failed and invokes every registered
// listener exactly once with reason. Calling Fail again after the first
// call is a no-op: listeners never see more than one failure.
func (m *Monitor) Fail(reason error) {
	m.mu.Lock()
	if m.status == Failed {
		m.mu.Unlock()
		return
	}
	m.status = Failed
	m.failErr = reason
	listeners := append([]FailureListener(nil), m.listeners...)
	m.mu.Unlock()

	statusGauge.Update(statusValue(Failed))

	log.Error("Engine entered failed state", "reason", reason)
	for _, l := range listeners {
		l(reason)
	}
}

// FailureReason returns the error passed to Fail, or nil if the monitor has
// not failed.
func (m *Monitor) FailureReason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// OnFailure registers a listener for the Failed transition. If the monitor
// has already failed, l is invoked immediately with the existing reason.
func (m *Monitor) OnFailure(l FailureListener) {
	m.mu.Lock()
	if m.status == Failed {
		reason := m.failErr
		m.mu.Unlock()
		l(reason)
		return
	}
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}
