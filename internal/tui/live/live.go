// Package live renders a sweep in flight: the current level's progress and
// live throughput plus a table of finished levels. Everything goes to the
// terminal's alternate screen; stdout stays untouched.
package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"swarm/internal/runner"
	"swarm/internal/storage"
	"swarm/internal/tui/components"
	"swarm/internal/tui/styles"
)

// SnapshotMsg carries a progress observation from the running level.
type SnapshotMsg runner.Snapshot

// LevelDoneMsg carries a finished level's record.
type LevelDoneMsg storage.Record

// DoneMsg ends the program once the sweep has finished.
type DoneMsg struct{ Err error }

type Model struct {
	Levels  []int
	Total   int
	Target  string
	updates chan runner.Snapshot

	progress progress.Model
	rpsLine  components.Sparkline

	snap          runner.Snapshot
	lastUpdate    time.Time
	lastCompleted uint64
	liveRPS       float64

	records []storage.Record
	done    bool
	err     error
	width   int
}

func NewModel(levels []int, total int, target string, updates chan runner.Snapshot) Model {
	return Model{
		Levels:     levels,
		Total:      total,
		Target:     target,
		updates:    updates,
		progress:   progress.New(progress.WithDefaultGradient()),
		rpsLine:    components.NewSparkline(40, "RPS (live)", styles.Active),
		lastUpdate: time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

func waitForSnapshot(ch chan runner.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return SnapshotMsg(snap)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		now := time.Now()
		dt := now.Sub(m.lastUpdate).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}
		snap := runner.Snapshot(msg)
		if snap.Completed >= m.lastCompleted {
			m.liveRPS = float64(snap.Completed-m.lastCompleted) / dt
		} else {
			// A new level started; its counters begin at zero.
			m.liveRPS = float64(snap.Completed) / dt
		}
		m.rpsLine.Add(m.liveRPS)
		m.snap = snap
		m.lastCompleted = snap.Completed
		m.lastUpdate = now

		pct := 0.0
		if snap.Total > 0 {
			pct = float64(snap.Completed+snap.Failed) / float64(snap.Total)
			if pct > 1.0 {
				pct = 1.0
			}
		}
		return m, tea.Batch(m.progress.SetPercent(pct), waitForSnapshot(m.updates))

	case LevelDoneMsg:
		m.records = append(m.records, storage.Record(msg))
		m.lastCompleted = 0
		return m, m.progress.SetPercent(0)

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 8
		half := msg.Width - 8
		if half > 60 {
			half = 60
		}
		if half < 10 {
			half = 10
		}
		m.rpsLine.Width = half
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.progress.Update(msg)
		m.progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render(fmt.Sprintf("swarm sweep  target=%s  total=%d", m.Target, m.Total)))
	b.WriteString("\n\n")

	level := "-"
	if n := len(m.records); n < len(m.Levels) {
		level = fmt.Sprintf("%d", m.Levels[n])
	}
	cur := fmt.Sprintf("level %s (%d/%d)\nOK: %d  FAIL: %d  RPS: %.0f",
		level, len(m.records)+1, len(m.Levels),
		m.snap.Completed, m.snap.Failed, m.liveRPS)
	b.WriteString(styles.Box.Render(cur))
	b.WriteString("\n\n")

	b.WriteString(styles.Box.Render(m.rpsLine.View()))
	b.WriteString("\n\n")

	if len(m.records) > 0 {
		var tbl strings.Builder
		tbl.WriteString(fmt.Sprintf("%8s %12s %12s %10s\n", "clients", "rps", "p99 (ms)", "failed"))
		for _, rec := range m.records {
			p99 := fmt.Sprintf("%.2f", rec.P99LatencyMs)
			if rec.P99LatencyMs < 0 {
				p99 = "n/a"
			}
			row := fmt.Sprintf("%8d %12.0f %12s %10d", rec.Concurrency, rec.RequestsPerSecond, p99, rec.Failed)
			if rec.State == runner.StateCompleted.String() {
				tbl.WriteString(styles.Success.Render(row))
			} else {
				tbl.WriteString(styles.Error.Render(row))
			}
			tbl.WriteString("\n")
		}
		b.WriteString(styles.Box.Render(strings.TrimRight(tbl.String(), "\n")))
		b.WriteString("\n\n")
	}

	b.WriteString(m.progress.View())
	b.WriteString("\n")
	b.WriteString(styles.Subtle.Render("q to quit"))
	return b.String()
}
