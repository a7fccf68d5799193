// Package windowstats computes summary statistics over a bounded window of
// interval samples. All functions are pure; callers own the slices.
package windowstats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultSize is the number of trailing samples considered by a report.
const DefaultSize = 1000

// DefaultPercentile is the percentile printed in reports.
const DefaultPercentile = 0.95

// Summary holds the statistics of one window
type Summary struct {
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stddev"`
	Percentile float64 `json:"p95"`
	Max        float64 `json:"max"`
	SampleSize int     `json:"sample_size"`
}

// Trailing returns the last n samples, or all of them if fewer exist.
// The result aliases samples.
func Trailing(samples []float64, n int) []float64 {
	if n <= 0 || len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}

// Mean returns the arithmetic mean of window. NaN on an empty window.
func Mean(window []float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	return stat.Mean(window, nil)
}

// StdDev returns the population standard deviation of window.
func StdDev(window []float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	_, std := stat.PopMeanStdDev(window, nil)
	return std
}

// Percentile returns the p-th quantile (0 <= p <= 1) using linear
// interpolation between closest ranks, rank = p*(n-1).
func Percentile(window []float64, p float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(window))
	copy(sorted, window)
	sort.Float64s(sorted)

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[len(sorted)-1]
	}

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Max returns the largest sample in window.
func Max(window []float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	return floats.Max(window)
}

// Summarize computes every statistic of window.
// ok is false for an empty window, in which case Summary is zero.
func Summarize(window []float64) (s Summary, ok bool) {
	if len(window) == 0 {
		return Summary{}, false
	}

	return Summary{
		Mean:       Mean(window),
		StdDev:     StdDev(window),
		Percentile: Percentile(window, DefaultPercentile),
		Max:        Max(window),
		SampleSize: len(window),
	}, true
}
