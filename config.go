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
	"fmt"
	"time"
)

// Config tunes the engine. There is deliberately no flag parsing or config
// file loader here: the spec's Non-goals exclude a CLI/config surface, so
// this is exposed as a library constructor argument the way an embedded
// component, not a daemon, should be configured.
type Config struct {
	// CommitInterval is the number of records processed between
	// checkpoint commits, mirroring ApplyCommitInterval.
	CommitInterval uint64

	// CommitMaxLatency bounds how long uncommitted progress may
	// accumulate before a commit is forced regardless of CommitInterval.
	CommitMaxLatency time.Duration

	// HealthTickInterval is the tick period the health monitor measures
	// staleness in; together with UnhealthyAfterTicks it sets how long
	// after the last tick the engine is reported unhealthy. Per spec §5
	// this defaults to 5s.
	HealthTickInterval time.Duration

	// UnhealthyAfterTicks is the number of missed ticks after which the
	// engine is reported unhealthy. Per spec §5 this defaults to 2.
	UnhealthyAfterTicks uint64

	// MaxFollowUpFragment is validated to be positive. The processing
	// state machine does not consult it: all follow-ups of one handler
	// invocation are appended in a single Append call, whatever their
	// number.
	MaxFollowUpFragment int

	// BackoffInitial and BackoffMax bound the exponential backoff used by
	// the processing state machine on transient errors.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// PollInterval is how long the processing state machine waits before
	// re-checking the log after finding no new record, mirroring the
	// runner's idle-loop cadence.
	PollInterval time.Duration

	// Partition identifies the engine's partition for metrics tagging and
	// for CannotRecoverError.Partition. May be left empty for a
	// single-partition deployment.
	Partition string
}

// DefaultConfig returns the engine's default tuning, grounded on the
// teacher's defaults for the fields this engine carries forward.
func DefaultConfig() Config {
	return Config{
		CommitInterval:      100,
		CommitMaxLatency:    time.Second,
		HealthTickInterval:  5 * time.Second,
		UnhealthyAfterTicks: 2,
		MaxFollowUpFragment: 1024,
		BackoffInitial:      time.Second,
		BackoffMax:          30 * time.Second,
		PollInterval:        200 * time.Millisecond,
	}
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithCommitInterval overrides CommitInterval.
func WithCommitInterval(n uint64) Option {
	return func(c *Config) { c.CommitInterval = n }
}

// WithCommitMaxLatency overrides CommitMaxLatency.
func WithCommitMaxLatency(d time.Duration) Option {
	return func(c *Config) { c.CommitMaxLatency = d }
}

// WithHealthTick overrides HealthTickInterval and UnhealthyAfterTicks.
func WithHealthTick(interval time.Duration, unhealthyAfterTicks uint64) Option {
	return func(c *Config) {
		c.HealthTickInterval = interval
		c.UnhealthyAfterTicks = unhealthyAfterTicks
	}
}

// WithBackoff overrides the retry backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Config) {
		c.BackoffInitial = initial
		c.BackoffMax = max
	}
}

// WithPollInterval overrides PollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithPartition sets the Partition tag used for metrics and error reporting.
func WithPartition(partition string) Option {
	return func(c *Config) { c.Partition = partition }
}

// NewConfig builds a Config from DefaultConfig with opts applied, and
// validates it.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency, following the
// teacher's Config.Validate pattern of returning a descriptive error per
// violated constraint.
func (c *Config) Validate() error {
	if c.CommitInterval == 0 {
		return fmt.Errorf("commit interval must be > 0")
	}
	if c.CommitMaxLatency <= 0 {
		return fmt.Errorf("commit max latency must be > 0")
	}
	if c.HealthTickInterval <= 0 {
		return fmt.Errorf("health tick interval must be > 0")
	}
	if c.UnhealthyAfterTicks == 0 {
		return fmt.Errorf("unhealthy-after-ticks must be > 0")
	}
	if c.MaxFollowUpFragment <= 0 {
		return fmt.Errorf("max follow-up fragment must be > 0")
	}
	if c.BackoffInitial <= 0 {
		return fmt.Errorf("backoff initial must be > 0")
	}
	if c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff max (%s) must be >= backoff initial (%s)", c.BackoffMax, c.BackoffInitial)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	return nil
}
