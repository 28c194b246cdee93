package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"swarm/internal/stats"
	"swarm/internal/worker"
)

// Run-level conditions surfaced to the caller. Per-request and per-worker
// failures are absorbed into the counters and never propagate as errors.
var (
	ErrNoSuccessfulRequests = errors.New("run produced zero successful requests")
	ErrRunTimeout           = errors.New("run timeout exceeded before all workers finished")
	ErrTargetUnreachable    = errors.New("no worker could connect to the target")
)

// abandonGrace is how long a timed-out run waits for cancelled workers to
// hand in the samples they already recorded before merging without them.
const abandonGrace = 500 * time.Millisecond

// snapshotInterval paces the optional progress feed.
const snapshotInterval = 200 * time.Millisecond

// Runner turns one Config into one Result: it partitions the request
// budget, launches the workers, joins them under the run timeout and merges
// their finalized reports. It performs no retries of its own.
type Runner struct {
	cfg   Config
	log   logrus.FieldLogger
	state atomic.Int32

	// Updates, when non-nil, receives periodic Snapshots during the run.
	// Sends are non-blocking; a slow consumer just misses frames.
	Updates chan Snapshot
}

func New(cfg Config, log logrus.FieldLogger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid run config")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{cfg: cfg.withDefaults(), log: log}, nil
}

// Config returns the runner's effective configuration, defaults applied.
func (r *Runner) Config() Config { return r.cfg }

// State returns the run's current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// PartitionShares splits total across n workers so that the shares sum to
// total exactly and differ by at most one; the remainder goes to the first
// total%n workers. Deterministic for a given (total, n).
func PartitionShares(total, n int) []int {
	shares := make([]int, n)
	base, rem := total/n, total%n
	for i := range shares {
		shares[i] = base
		if i < rem {
			shares[i]++
		}
	}
	return shares
}

// Run executes the closed-loop run. It always returns a Result in a
// terminal state; the error is non-nil only for run-level conditions
// (timeout, total failure), never for partial per-request failures.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	shares := PartitionShares(r.cfg.TotalRequests, r.cfg.Concurrency)
	workers := make([]*worker.Worker, r.cfg.Concurrency)
	for i, share := range shares {
		workers[i] = &worker.Worker{
			ID:             i,
			Target:         r.cfg.Target,
			Share:          share,
			DialTimeout:    r.cfg.DialTimeout,
			RequestTimeout: r.cfg.RequestTimeout,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each worker sends exactly one report; the buffer guarantees the send
	// never blocks, so abandoned workers cannot leak.
	reports := make(chan worker.Report, r.cfg.Concurrency)

	r.setState(StateDispatching)
	r.log.WithFields(logrus.Fields{
		"concurrency": r.cfg.Concurrency,
		"total":       r.cfg.TotalRequests,
		"target":      r.cfg.Target,
	}).Debug("dispatching workers")

	// The measured window covers the whole concurrent batch: it opens just
	// before the first worker is dispatched and closes when the last one
	// reports (or the run times out).
	start := time.Now()
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			reports <- w.Run(runCtx)
		}(w)
	}
	r.setState(StateRunning)

	if r.Updates != nil {
		go r.snapshotLoop(runCtx, workers, start)
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	// The run stays in Running for the whole concurrent batch; Joining
	// covers collecting the finalized reports and merging them.
	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	timedOut := false
	var cause error
	select {
	case <-joined:
	case <-timer.C:
		timedOut = true
		cause = ErrRunTimeout
	case <-ctx.Done():
		timedOut = true
		cause = errors.Wrap(ErrRunTimeout, ctx.Err().Error())
	}

	r.setState(StateJoining)
	if timedOut {
		// Abandon whoever is still running. Cancellation expires every
		// worker's connection deadline, so workers blocked mid-request
		// hand in the samples they already recorded well inside the
		// grace; only truly stuck ones are merged without.
		cancel()
		grace := time.NewTimer(abandonGrace)
		select {
		case <-joined:
		case <-grace.C:
		}
		grace.Stop()
	}
	elapsed := time.Since(start)

	reps := drainReports(reports)
	res := r.aggregate(reps, elapsed, timedOut)
	if timedOut {
		return res, cause
	}
	switch res.State {
	case StateAllFailed:
		if allConnectFailed(reps, shares) {
			return res, ErrTargetUnreachable
		}
		return res, ErrNoSuccessfulRequests
	default:
		return res, nil
	}
}

func drainReports(reports chan worker.Report) []worker.Report {
	var reps []worker.Report
	for {
		select {
		case rep := <-reports:
			reps = append(reps, rep)
		default:
			return reps
		}
	}
}

// aggregate merges the finalized, disjoint worker reports. Every worker has
// reached a terminal state (or been abandoned) by the time this runs, so no
// locking is needed.
func (r *Runner) aggregate(reps []worker.Report, elapsed time.Duration, timedOut bool) Result {
	completed := 0
	for _, rep := range reps {
		completed += rep.Completed()
	}

	merged := make([]time.Duration, 0, completed)
	hist := stats.NewSafeHistogram()
	for _, rep := range reps {
		merged = append(merged, rep.Samples...)
		for _, s := range rep.Samples {
			_ = hist.Record(s)
		}
	}

	res := Result{
		Completed:    completed,
		Failed:       r.cfg.TotalRequests - completed,
		P99LatencyMs: stats.Percentile(stats.Millis(merged), 99),
		Elapsed:      elapsed,
		Summary:      hist.Summarize(),
	}
	if sec := elapsed.Seconds(); sec > 0 {
		res.RequestsPerSecond = float64(completed) / sec
	}

	switch {
	case timedOut:
		res.State = StateTimedOut
	case completed == 0:
		res.State = StateAllFailed
	default:
		res.State = StateCompleted
	}
	r.setState(res.State)

	r.log.WithFields(logrus.Fields{
		"state":     res.State,
		"completed": res.Completed,
		"failed":    res.Failed,
		"elapsed":   elapsed,
	}).Debug("run finished")
	return res
}

func allConnectFailed(reps []worker.Report, shares []int) bool {
	active := 0
	for _, s := range shares {
		if s > 0 {
			active++
		}
	}
	connectFailed := 0
	for _, rep := range reps {
		if rep.Outcome == worker.OutcomeConnectFailed {
			connectFailed++
		}
	}
	return active > 0 && connectFailed == active
}

func (r *Runner) snapshotLoop(ctx context.Context, workers []*worker.Worker, start time.Time) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ok, failed uint64
			for _, w := range workers {
				ok += w.Done()
				failed += w.Failed()
			}
			snap := Snapshot{
				Completed: ok,
				Failed:    failed,
				Total:     uint64(r.cfg.TotalRequests),
				Elapsed:   time.Since(start),
			}
			select {
			case r.Updates <- snap:
			default:
				// Drop the frame; the consumer is its own backpressure.
			}
		}
	}
}
