package storage

import (
	"time"

	"swarm/internal/stats"
)

// P99Undefined is stored in place of an undefined p99 (no successful
// requests). JSON cannot carry NaN, so persisted records use this sentinel;
// the live result line keeps NaN.
const P99Undefined = -1

// Record is one concurrency level's outcome inside a sweep.
type Record struct {
	Concurrency       int           `json:"concurrency"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	P99LatencyMs      float64       `json:"p99_latency_ms"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	State             string        `json:"state"`
	Elapsed           time.Duration `json:"elapsed_ns"`
	Summary           stats.Summary `json:"summary"`
}

// SweepItem is one persisted sweep: its configuration echo plus the
// per-level records in execution order.
type SweepItem struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Target        string    `json:"target"`
	TotalRequests int       `json:"total_requests"`
	Records       []Record  `json:"records"`
}
