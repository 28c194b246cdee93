// Package tui wires the sweep driver to the live dashboard.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"swarm/internal/runner"
	"swarm/internal/storage"
	"swarm/internal/sweep"
	"swarm/internal/tui/live"
)

// RunSweep executes cfg under a bubbletea dashboard and returns the sweep's
// outcome. The dashboard exits on its own when the sweep finishes; quitting
// it early cancels the sweep.
func RunSweep(ctx context.Context, cfg sweep.Config, store *storage.Store, log logrus.FieldLogger) (storage.SweepItem, error) {
	updates := make(chan runner.Snapshot, 100)
	cfg.Updates = updates

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := live.NewModel(cfg.Levels, cfg.TotalRequests, cfg.Target, updates)
	p := tea.NewProgram(m, tea.WithAltScreen())

	cfg.OnLevelDone = func(rec storage.Record) {
		p.Send(live.LevelDoneMsg(rec))
	}

	s, err := sweep.New(cfg, store, log)
	if err != nil {
		return storage.SweepItem{}, err
	}

	var (
		item     storage.SweepItem
		sweepErr error
		done     = make(chan struct{})
	)
	go func() {
		defer close(done)
		item, sweepErr = s.Run(ctx)
		p.Send(live.DoneMsg{Err: sweepErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return item, err
	}
	cancel()
	<-done
	return item, sweepErr
}
