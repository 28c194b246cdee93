package runner

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"swarm/internal/stats"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultTimeout        = 60 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Config is one run's configuration. It is immutable for the duration of
// the run.
type Config struct {
	Concurrency   int
	TotalRequests int
	Target        string

	// Timeout bounds the whole run. Workers still executing when it fires
	// are abandoned; their unfinished requests count as failed.
	Timeout        time.Duration
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Validate checks the fields the external driver must supply.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return errors.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.TotalRequests <= 0 {
		return errors.Errorf("total requests must be positive, got %d", c.TotalRequests)
	}
	if c.Target == "" {
		return errors.New("target address is required")
	}
	return nil
}

// State tracks a run through its lifecycle. Completed, TimedOut and
// AllFailed are terminal; every terminal state still yields a Result.
type State int32

const (
	StateConfigured State = iota
	StateDispatching
	StateRunning
	StateJoining
	StateCompleted
	StateTimedOut
	StateAllFailed
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateDispatching:
		return "dispatching"
	case StateRunning:
		return "running"
	case StateJoining:
		return "joining"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateAllFailed:
		return "all_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of the three terminal states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateAllFailed
}

// Result is the single artifact that outlives a run.
type Result struct {
	RequestsPerSecond float64
	// P99LatencyMs is the nearest-rank 99th percentile over the merged
	// samples of every worker. NaN when no request succeeded; never a
	// silent zero.
	P99LatencyMs float64
	Completed    int
	Failed       int

	State   State
	Elapsed time.Duration
	// Summary carries the supplementary percentiles for human-facing
	// reporting; the result line only ever uses the fields above.
	Summary stats.Summary
}

// Line renders the machine-parseable result record consumed by the sweep
// driver: rps,p99_ms,completed,failed.
func (r Result) Line() string {
	return fmt.Sprintf("%.0f,%.2f,%d,%d",
		r.RequestsPerSecond, r.P99LatencyMs, r.Completed, r.Failed)
}

// Snapshot is a progress observation pushed to an optional updates channel
// while a run is in flight.
type Snapshot struct {
	Completed uint64
	Failed    uint64
	Total     uint64
	Elapsed   time.Duration
}
