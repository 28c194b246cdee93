package stats

import (
	"math"
	"sort"
	"time"
)

// Percentile returns the q-th percentile (0 < q <= 100) of values using the
// nearest-rank method: the element at rank ceil(q/100 * n) of the ascending
// order. Ties are fine; the reported value does not depend on tie order.
// Returns NaN for an empty input.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(q/100.0*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// Millis converts a batch of durations to float64 milliseconds.
func Millis(durations []time.Duration) []float64 {
	out := make([]float64, len(durations))
	for i, d := range durations {
		out[i] = float64(d) / float64(time.Millisecond)
	}
	return out
}
