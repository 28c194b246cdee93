package worker

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"

	"swarm/internal/protocol"
)

// Outcome classifies how a worker reached its terminal state.
type Outcome int

const (
	// OutcomeCompleted means the full share was attempted.
	OutcomeCompleted Outcome = iota
	// OutcomeEarlyStop means the connection became unusable (or the run was
	// cancelled) before the share was exhausted.
	OutcomeEarlyStop
	// OutcomeConnectFailed means no connection was ever established; the
	// worker performed zero requests.
	OutcomeConnectFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeEarlyStop:
		return "early_stop"
	case OutcomeConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// Report is a worker's finalized view of its run. It is owned exclusively
// by the worker until it is handed to the coordinator at join time; nothing
// mutates it afterwards.
type Report struct {
	WorkerID int
	// Samples holds one round-trip latency per successful request, in the
	// order the requests were issued.
	Samples  []time.Duration
	Failures int
	Outcome  Outcome
}

// Completed reports how many requests of the share succeeded.
func (r Report) Completed() int { return len(r.Samples) }

// Worker drives one simulated client: a single connection issuing its
// assigned share of requests strictly in sequence. Request i+1 starts only
// after request i has finished or failed; concurrency comes from running
// many workers, never from pipelining inside one.
type Worker struct {
	ID             int
	Target         string
	Share          int
	DialTimeout    time.Duration
	RequestTimeout time.Duration

	// Progress counters, written only by this worker's goroutine and read
	// by the coordinator's snapshot ticker. Keeps the hot path free of any
	// shared lock.
	ok     atomic.Uint64
	failed atomic.Uint64
}

// Done returns the number of successful requests so far.
func (w *Worker) Done() uint64 { return w.ok.Load() }

// Failed returns the number of failed requests observed so far.
func (w *Worker) Failed() uint64 { return w.failed.Load() }

// Run executes the worker's share against the target and always returns a
// Report. A zero share returns immediately with no samples and no dial.
func (w *Worker) Run(ctx context.Context) Report {
	rep := Report{WorkerID: w.ID}
	if w.Share <= 0 {
		rep.Outcome = OutcomeCompleted
		return rep
	}

	conn, err := net.DialTimeout("tcp", w.Target, w.DialTimeout)
	if err != nil {
		rep.Outcome = OutcomeConnectFailed
		return rep
	}
	defer conn.Close()

	// Cancellation must interrupt a blocked round trip, not just the gap
	// between round trips: expiring the deadline forces any pending I/O to
	// error out so the samples recorded so far still get handed in.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-watchDone:
		}
	}()

	rep.Samples = make([]time.Duration, 0, w.Share)
	br := bufio.NewReader(conn)
	req := protocol.AppendRequest(nil, "set", "key", "value")

	for i := 0; i < w.Share; i++ {
		select {
		case <-ctx.Done():
			rep.Outcome = OutcomeEarlyStop
			return rep
		default:
		}

		start := time.Now()
		status, err := w.roundTrip(ctx, conn, br, req)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-request: the in-flight request is
				// discarded, everything already recorded is kept.
				rep.Outcome = OutcomeEarlyStop
				return rep
			}
			// Transport and framing errors leave the stream unusable:
			// count the request as failed and report the shortfall.
			rep.Failures++
			w.failed.Add(1)
			rep.Outcome = OutcomeEarlyStop
			return rep
		}
		if status != protocol.StatusOK {
			rep.Failures++
			w.failed.Add(1)
			continue
		}
		rep.Samples = append(rep.Samples, time.Since(start))
		w.ok.Add(1)
	}
	rep.Outcome = OutcomeCompleted
	return rep
}

func (w *Worker) roundTrip(ctx context.Context, conn net.Conn, br *bufio.Reader, req []byte) (uint32, error) {
	if w.RequestTimeout > 0 {
		conn.SetDeadline(time.Now().Add(w.RequestTimeout))
	}
	// Re-check after arming the deadline: a cancellation racing with the
	// line above would otherwise have its expired deadline overwritten
	// and the round trip would block until RequestTimeout.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := conn.Write(req); err != nil {
		return 0, err
	}
	resp, err := protocol.ReadResponse(br)
	if err != nil {
		return 0, err
	}
	return resp.Status, nil
}
