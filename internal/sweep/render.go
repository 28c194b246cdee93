package sweep

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"swarm/internal/runner"
	"swarm/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	frameStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3C3C3C")).
			Padding(0, 1)
)

// SummaryTable renders the finished sweep as a styled table for stderr.
// It never goes to stdout, which stays reserved for result lines.
func SummaryTable(item storage.SweepItem) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Sweep %s  target=%s  total=%d", item.ID[:8], item.Target, item.TotalRequests)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%10s %12s %12s %12s %10s  %s\n",
		"clients", "rps", "p99 (ms)", "completed", "failed", "state"))

	for _, rec := range item.Records {
		p99 := fmt.Sprintf("%.2f", rec.P99LatencyMs)
		if rec.P99LatencyMs < 0 {
			p99 = "n/a"
		}
		line := fmt.Sprintf("%10d %12.0f %12s %12d %10d  %s",
			rec.Concurrency, rec.RequestsPerSecond, p99,
			rec.Completed, rec.Failed, rec.State)
		if rec.State == runner.StateCompleted.String() {
			b.WriteString(okStyle.Render(line))
		} else {
			b.WriteString(badStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return frameStyle.Render(strings.TrimRight(b.String(), "\n"))
}
