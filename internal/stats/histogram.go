package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Summary holds the supplementary latency percentiles reported alongside
// the exact p99. All values are milliseconds.
type Summary struct {
	Count  int64   `json:"count"`
	P50    float64 `json:"p50_ms"`
	P90    float64 `json:"p90_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
}

// SafeHistogram is a mutex-guarded hdrhistogram recording latencies in
// microseconds.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	h := hdrhistogram.New(1, int64(10*time.Minute/time.Microsecond), 3)
	return &SafeHistogram{hist: h}
}

// Record adds one round-trip latency.
func (h *SafeHistogram) Record(d time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(int64(d / time.Microsecond))
}

// QuantileMs returns the latency at quantile q in milliseconds.
func (h *SafeHistogram) QuantileMs(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.ValueAtQuantile(q)) / 1000.0
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

// Summarize snapshots the histogram into a Summary.
func (h *SafeHistogram) Summarize() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Summary{
		Count:  h.hist.TotalCount(),
		P50:    float64(h.hist.ValueAtQuantile(50)) / 1000.0,
		P90:    float64(h.hist.ValueAtQuantile(90)) / 1000.0,
		P95:    float64(h.hist.ValueAtQuantile(95)) / 1000.0,
		P99:    float64(h.hist.ValueAtQuantile(99)) / 1000.0,
		MaxMs:  float64(h.hist.Max()) / 1000.0,
		MeanMs: h.hist.Mean() / 1000.0,
	}
}
