// Package chart renders a sweep's results as a PNG: throughput and tail
// latency against the concurrency level, log-scaled on x so the low and
// high ends of a sweep like [1 .. 10000] stay readable.
package chart

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	chart "github.com/wcharczuk/go-chart/v2"

	"swarm/internal/storage"
)

// Render writes the sweep chart to path. Levels whose p99 is undefined
// (no successful requests) are skipped on the latency series but still
// plotted on the throughput series.
func Render(item storage.SweepItem, path string) error {
	if len(item.Records) == 0 {
		return errors.New("chart: sweep has no records")
	}

	var rpsX, rpsY, latX, latY []float64
	for _, rec := range item.Records {
		x := float64(rec.Concurrency)
		rpsX = append(rpsX, x)
		rpsY = append(rpsY, rec.RequestsPerSecond)
		if rec.P99LatencyMs >= 0 {
			latX = append(latX, x)
			latY = append(latY, rec.P99LatencyMs)
		}
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Throughput vs Concurrency (total: %d requests)", item.TotalRequests),
		Width:  1000,
		Height: 600,
		XAxis: chart.XAxis{
			Name:  "concurrent clients",
			Range: &chart.LogarithmicRange{},
		},
		YAxis: chart.YAxis{
			Name: "requests/sec",
		},
		YAxisSecondary: chart.YAxis{
			Name: "p99 latency (ms)",
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "RPS",
				XValues: rpsX,
				YValues: rpsY,
			},
			chart.ContinuousSeries{
				Name:    "p99 (ms)",
				YAxis:   chart.YAxisSecondary,
				XValues: latX,
				YValues: latY,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.LegendThin(&graph)}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "chart: create output file")
	}
	defer f.Close()
	if err := graph.Render(chart.PNG, f); err != nil {
		return errors.Wrap(err, "chart: render")
	}
	return nil
}
