package sweep

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"swarm/internal/storage"
)

// ExportCSV writes one row per concurrency level.
func ExportCSV(records []storage.Record, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"concurrency", "requests_per_second", "p99_latency_ms",
		"completed", "failed", "state", "elapsed_ms",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.Concurrency),
			fmt.Sprintf("%.0f", rec.RequestsPerSecond),
			fmt.Sprintf("%.2f", rec.P99LatencyMs),
			strconv.Itoa(rec.Completed),
			strconv.Itoa(rec.Failed),
			rec.State,
			fmt.Sprintf("%d", rec.Elapsed.Milliseconds()),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// ExportJSON writes the full sweep item, including per-level summaries.
func ExportJSON(item storage.SweepItem, filename string) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
