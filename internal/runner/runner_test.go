package runner

import (
	"bufio"
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarm/internal/kvserver"
	"swarm/internal/protocol"
)

func startServer(t *testing.T, cfg kvserver.Config) *kvserver.Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := kvserver.New(cfg, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestPartitionShares(t *testing.T) {
	cases := []struct {
		total, n int
	}{
		{100, 10}, {100, 7}, {1, 1}, {5, 8}, {1000000, 997}, {3, 4},
	}
	for _, tc := range cases {
		shares := PartitionShares(tc.total, tc.n)
		require.Len(t, shares, tc.n)

		sum, min, max := 0, shares[0], shares[0]
		for _, s := range shares {
			sum += s
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		assert.Equal(t, tc.total, sum, "total=%d n=%d", tc.total, tc.n)
		assert.LessOrEqual(t, max-min, 1, "total=%d n=%d", tc.total, tc.n)

		// Remainder goes to the first total%n workers.
		for i := 0; i < tc.total%tc.n; i++ {
			assert.Equal(t, tc.total/tc.n+1, shares[i])
		}
	}
}

func TestPartitionSharesMoreWorkersThanRequests(t *testing.T) {
	shares := PartitionShares(5, 8)
	zero := 0
	for _, s := range shares {
		if s == 0 {
			zero++
		}
	}
	assert.Equal(t, 3, zero)
}

func TestRunCompletesAgainstHealthyTarget(t *testing.T) {
	srv := startServer(t, kvserver.Config{Latency: time.Millisecond})

	r, err := New(Config{
		Concurrency:   8,
		TotalRequests: 400,
		Target:        srv.Addr(),
	}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 400, res.Completed)
	assert.Zero(t, res.Failed)
	assert.Greater(t, res.RequestsPerSecond, 0.0)
	// Fixed ~1ms server latency: p99 close to it, generous noise bound.
	assert.GreaterOrEqual(t, res.P99LatencyMs, 1.0)
	assert.Less(t, res.P99LatencyMs, 100.0)
	assert.Equal(t, int64(400), res.Summary.Count)
	assert.Equal(t, StateCompleted, r.State())
}

func TestRunMoreWorkersThanRequests(t *testing.T) {
	srv := startServer(t, kvserver.Config{})

	r, err := New(Config{Concurrency: 16, TotalRequests: 5, Target: srv.Addr()}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Completed)
	assert.Zero(t, res.Failed)
}

func TestRunUnreachableTarget(t *testing.T) {
	r, err := New(Config{
		Concurrency:   4,
		TotalRequests: 100,
		Target:        closedPort(t),
		DialTimeout:   500 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrTargetUnreachable)
	assert.Equal(t, StateAllFailed, res.State)
	assert.Zero(t, res.Completed)
	assert.Equal(t, 100, res.Failed)
	assert.True(t, math.IsNaN(res.P99LatencyMs), "undefined p99 must be NaN, not zero")
	assert.Zero(t, res.RequestsPerSecond)
}

func TestRunTimesOutOnHangingTarget(t *testing.T) {
	// Accepts connections and reads forever without ever answering.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				br := bufio.NewReader(conn)
				for {
					if _, err := protocol.ReadRequest(br); err != nil {
						conn.Close()
						return
					}
				}
			}()
		}
	}()

	r, err := New(Config{
		Concurrency:    4,
		TotalRequests:  100,
		Target:         ln.Addr().String(),
		Timeout:        200 * time.Millisecond,
		RequestTimeout: 300 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Zero(t, res.Completed)
	assert.Equal(t, 100, res.Failed)
	// Timeout plus bounded overhead, never an indefinite hang.
	assert.Less(t, elapsed, 3*time.Second)
}

func TestTimedOutRunKeepsRecordedSamples(t *testing.T) {
	// Answers a fixed number of requests per connection, then goes silent
	// with the connection held open: every worker ends up blocked inside a
	// round trip when the run timeout fires.
	const answersPerConn = 20
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				br := bufio.NewReader(conn)
				for i := 0; ; i++ {
					if _, err := protocol.ReadRequest(br); err != nil {
						return
					}
					if i < answersPerConn {
						protocol.WriteResponse(conn, protocol.Response{Status: protocol.StatusOK})
					}
				}
			}()
		}
	}()

	r, err := New(Config{
		Concurrency:    2,
		TotalRequests:  1000,
		Target:         ln.Addr().String(),
		Timeout:        300 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, StateTimedOut, res.State)
	// Abandoned workers hand in what they recorded before the timeout: the
	// completed requests must not be lost just because each worker was
	// blocked mid-request when the run was cut off.
	assert.Equal(t, 2*answersPerConn, res.Completed)
	assert.Equal(t, 1000-2*answersPerConn, res.Failed)
	assert.False(t, math.IsNaN(res.P99LatencyMs))
	// Timeout plus the abandonment grace, never the request timeout.
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRunningStateObservableMidRun(t *testing.T) {
	srv := startServer(t, kvserver.Config{Latency: 5 * time.Millisecond})

	r, err := New(Config{Concurrency: 2, TotalRequests: 200, Target: srv.Addr()}, nil)
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() {
		res, _ := r.Run(context.Background())
		done <- res
	}()

	// Running must hold for the whole concurrent batch, not flash by.
	assert.Eventually(t, func() bool {
		return r.State() == StateRunning
	}, 2*time.Second, time.Millisecond)

	res := <-done
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, StateCompleted, r.State())
}

func TestRunDeterministicCounts(t *testing.T) {
	srv := startServer(t, kvserver.Config{})

	cfg := Config{Concurrency: 10, TotalRequests: 500, Target: srv.Addr()}
	var results []Result
	for i := 0; i < 2; i++ {
		r, err := New(cfg, nil)
		require.NoError(t, err)
		res, err := r.Run(context.Background())
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, results[0].Completed, results[1].Completed)
	assert.Equal(t, results[0].Failed, results[1].Failed)
}

func TestRunPublishesSnapshots(t *testing.T) {
	srv := startServer(t, kvserver.Config{Latency: 2 * time.Millisecond})

	r, err := New(Config{Concurrency: 4, TotalRequests: 2000, Target: srv.Addr()}, nil)
	require.NoError(t, err)
	r.Updates = make(chan Snapshot, 10)

	done := make(chan Result, 1)
	go func() {
		res, _ := r.Run(context.Background())
		done <- res
	}()

	select {
	case snap := <-r.Updates:
		assert.Equal(t, uint64(2000), snap.Total)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot received")
	}
	res := <-done
	assert.Equal(t, 2000, res.Completed)
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{Concurrency: 0, TotalRequests: 1, Target: "x"}, nil)
	assert.Error(t, err)
	_, err = New(Config{Concurrency: 1, TotalRequests: 0, Target: "x"}, nil)
	assert.Error(t, err)
	_, err = New(Config{Concurrency: 1, TotalRequests: 1}, nil)
	assert.Error(t, err)
}

func TestResultLine(t *testing.T) {
	res := Result{RequestsPerSecond: 12345.6, P99LatencyMs: 1.234, Completed: 1000, Failed: 2}
	assert.Equal(t, "12346,1.23,1000,2", res.Line())
}
