package sweep

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarm/internal/kvserver"
	"swarm/internal/runner"
	"swarm/internal/storage"
)

func startServer(t *testing.T) *kvserver.Server {
	t.Helper()
	srv := kvserver.New(kvserver.Config{Addr: "127.0.0.1:0"}, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestSweepRunsEveryLevelInOrder(t *testing.T) {
	srv := startServer(t)

	var seen []int
	cfg := Config{
		Levels:        []int{2, 4},
		TotalRequests: 40,
		Target:        srv.Addr(),
		OnLevelDone:   func(rec storage.Record) { seen = append(seen, rec.Concurrency) },
	}
	s, err := New(cfg, nil, nil)
	require.NoError(t, err)

	item, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2, 4}, seen)
	require.Len(t, item.Records, 2)
	for _, rec := range item.Records {
		assert.Equal(t, runner.StateCompleted.String(), rec.State)
		assert.Equal(t, 40, rec.Completed)
		assert.Zero(t, rec.Failed)
	}
}

func TestSweepPersistsHistory(t *testing.T) {
	srv := startServer(t)
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	s, err := New(Config{
		Levels:        []int{2},
		TotalRequests: 20,
		Target:        srv.Addr(),
	}, store, nil)
	require.NoError(t, err)

	item, err := s.Run(context.Background())
	require.NoError(t, err)

	got, err := store.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Records, got.Records)
}

func TestSweepWritesExports(t *testing.T) {
	srv := startServer(t)
	prefix := filepath.Join(t.TempDir(), "bench")

	s, err := New(Config{
		Levels:        []int{1, 2},
		TotalRequests: 20,
		Target:        srv.Addr(),
		OutPrefix:     prefix,
	}, nil, nil)
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	for _, ext := range []string{".png", ".csv", ".json"} {
		fi, err := os.Stat(prefix + ext)
		require.NoError(t, err, ext)
		assert.Greater(t, fi.Size(), int64(0), ext)
	}
}

func TestSweepRecordsDegradedLevels(t *testing.T) {
	// The target never exists; every level must still yield a record.
	s, err := New(Config{
		Levels:        []int{2},
		TotalRequests: 10,
		Target:        "127.0.0.1:1",
	}, nil, nil)
	require.NoError(t, err)

	item, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, item.Records, 1)
	rec := item.Records[0]
	assert.Equal(t, runner.StateAllFailed.String(), rec.State)
	assert.Equal(t, 10, rec.Failed)
	assert.Equal(t, float64(storage.P99Undefined), rec.P99LatencyMs)
}

func TestSweepManagesTargetProcess(t *testing.T) {
	// A target command that just sleeps proves the start/stop plumbing; the
	// actual benchmark target stays external.
	srv := startServer(t)

	s, err := New(Config{
		Levels:        []int{1},
		TotalRequests: 5,
		Target:        srv.Addr(),
		TargetCmd:     []string{"sleep", "60"},
		StartupGrace:  10 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	begin := time.Now()
	item, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, item.Records, 1)
	// The sleep must have been terminated, not waited for.
	assert.Less(t, time.Since(begin), 30*time.Second)
}

func TestRecordFromMapsUndefinedP99(t *testing.T) {
	rec := recordFrom(4, runner.Result{P99LatencyMs: math.NaN()})
	assert.Equal(t, float64(storage.P99Undefined), rec.P99LatencyMs)
}

func TestSweepConfigValidation(t *testing.T) {
	_, err := New(Config{TotalRequests: 1, Target: "x"}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Levels: []int{0}, TotalRequests: 1, Target: "x"}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Levels: []int{1}, Target: "x"}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Levels: []int{1}, TotalRequests: 1}, nil, nil)
	assert.Error(t, err)
}
