// Package sweep is the orchestration layer around the load-generation
// core: it repeats a run for each concurrency level, optionally restarting
// the target process between levels, and turns the collected results into
// history records, exports and a chart. It talks to the core only through
// runner.Config and runner.Result.
package sweep

import (
	"context"
	"io"
	"math"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"swarm/internal/chart"
	"swarm/internal/runner"
	"swarm/internal/storage"
)

// stopWait bounds how long a SIGTERM'd target gets before it is killed.
const stopWait = 5 * time.Second

// Config drives a full concurrency sweep.
type Config struct {
	Levels        []int
	TotalRequests int
	Target        string

	// TargetCmd, when non-empty, is started before each level and stopped
	// after it, mirroring a fresh-server-per-level benchmark. The grace
	// periods give the target time to bind its socket on the way up and
	// let the address clear TIME_WAIT on the way down.
	TargetCmd     []string
	StartupGrace  time.Duration
	TeardownGrace time.Duration

	RunTimeout time.Duration

	// OutPrefix enables file exports (<prefix>.png, <prefix>.csv,
	// <prefix>.json) when non-empty.
	OutPrefix string

	// Updates, when non-nil, receives per-run progress snapshots.
	Updates chan runner.Snapshot
	// OnLevelDone, when non-nil, is called after each level with its
	// finished record.
	OnLevelDone func(storage.Record)
}

func (c Config) validate() error {
	if len(c.Levels) == 0 {
		return errors.New("sweep needs at least one concurrency level")
	}
	for _, l := range c.Levels {
		if l <= 0 {
			return errors.Errorf("concurrency level must be positive, got %d", l)
		}
	}
	if c.TotalRequests <= 0 {
		return errors.Errorf("total requests must be positive, got %d", c.TotalRequests)
	}
	if c.Target == "" {
		return errors.New("target address is required")
	}
	return nil
}

type Sweep struct {
	cfg   Config
	log   logrus.FieldLogger
	store *storage.Store
}

// New builds a sweep. store may be nil to skip history persistence.
func New(cfg Config, store *storage.Store, log logrus.FieldLogger) (*Sweep, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sweep config")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweep{cfg: cfg, log: log, store: store}, nil
}

// Run executes every level in order. A failed level (timeout, unreachable
// target) is recorded and the sweep moves on; only context cancellation and
// target process launch failures abort it.
func (s *Sweep) Run(ctx context.Context) (storage.SweepItem, error) {
	item := storage.SweepItem{
		ID:            uuid.NewString(),
		Timestamp:     time.Now(),
		Target:        s.cfg.Target,
		TotalRequests: s.cfg.TotalRequests,
	}

	for _, level := range s.cfg.Levels {
		if err := ctx.Err(); err != nil {
			return item, err
		}

		proc, err := s.startTarget(ctx)
		if err != nil {
			return item, errors.Wrapf(err, "start target for level %d", level)
		}

		rec := s.runLevel(ctx, level)
		s.stopTarget(proc)

		item.Records = append(item.Records, rec)
		if s.cfg.OnLevelDone != nil {
			s.cfg.OnLevelDone(rec)
		}
	}

	if s.store != nil {
		if err := s.store.Save(item); err != nil {
			return item, errors.Wrap(err, "save sweep history")
		}
	}
	if s.cfg.OutPrefix != "" {
		if err := s.export(item); err != nil {
			return item, err
		}
	}
	return item, nil
}

func (s *Sweep) runLevel(ctx context.Context, level int) storage.Record {
	log := s.log.WithField("concurrency", level)

	r, err := runner.New(runner.Config{
		Concurrency:   level,
		TotalRequests: s.cfg.TotalRequests,
		Target:        s.cfg.Target,
		Timeout:       s.cfg.RunTimeout,
	}, log)
	if err != nil {
		// Levels are validated up front; this only fires on a bad target.
		log.WithError(err).Error("level skipped")
		return storage.Record{Concurrency: level, State: runner.StateAllFailed.String(), P99LatencyMs: storage.P99Undefined}
	}
	r.Updates = s.cfg.Updates

	res, runErr := r.Run(ctx)
	if runErr != nil {
		log.WithError(runErr).Warn("level finished degraded")
	} else {
		log.WithFields(logrus.Fields{
			"rps":    res.RequestsPerSecond,
			"p99_ms": res.P99LatencyMs,
		}).Info("level finished")
	}
	return recordFrom(level, res)
}

func recordFrom(level int, res runner.Result) storage.Record {
	p99 := res.P99LatencyMs
	if math.IsNaN(p99) {
		p99 = storage.P99Undefined
	}
	return storage.Record{
		Concurrency:       level,
		RequestsPerSecond: res.RequestsPerSecond,
		P99LatencyMs:      p99,
		Completed:         res.Completed,
		Failed:            res.Failed,
		State:             res.State.String(),
		Elapsed:           res.Elapsed,
		Summary:           res.Summary,
	}
}

func (s *Sweep) startTarget(ctx context.Context) (*exec.Cmd, error) {
	if len(s.cfg.TargetCmd) == 0 {
		return nil, nil
	}
	cmd := exec.CommandContext(ctx, s.cfg.TargetCmd[0], s.cfg.TargetCmd[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.log.WithField("pid", cmd.Process.Pid).Debug("target started")
	if s.cfg.StartupGrace > 0 {
		time.Sleep(s.cfg.StartupGrace)
	}
	return cmd, nil
}

func (s *Sweep) stopTarget(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopWait):
		_ = cmd.Process.Kill()
		<-done
	}

	if s.cfg.TeardownGrace > 0 {
		time.Sleep(s.cfg.TeardownGrace)
	}
}

func (s *Sweep) export(item storage.SweepItem) error {
	if err := chart.Render(item, s.cfg.OutPrefix+".png"); err != nil {
		return err
	}
	if err := ExportCSV(item.Records, s.cfg.OutPrefix+".csv"); err != nil {
		return err
	}
	if err := ExportJSON(item, s.cfg.OutPrefix+".json"); err != nil {
		return err
	}
	s.log.WithField("prefix", s.cfg.OutPrefix).Info("exports written")
	return nil
}
