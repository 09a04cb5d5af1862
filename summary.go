package netharness

//
// Descriptive statistics
//

import (
	"sort"

	"github.com/montanaflynn/stats"
)

// LatencySummary contains descriptive statistics of a series of values.
type LatencySummary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	P95    float64
	StdDev float64
}

// Summarize computes the [LatencySummary] of the given values. An empty
// input yields the zero summary.
func Summarize(values []float64) LatencySummary {
	if len(values) <= 0 {
		return LatencySummary{}
	}
	data := stats.Float64Data(values)
	summary := LatencySummary{Count: len(values)}
	summary.Min, _ = data.Min()
	summary.Max, _ = data.Max()
	summary.Mean, _ = data.Mean()
	summary.Median, _ = data.Median()
	if p95, err := data.Percentile(95); err == nil {
		summary.P95 = p95
	} else {
		summary.P95 = summary.Max
	}
	summary.StdDev, _ = data.StandardDeviation()
	return summary
}

// Seconds returns the values of the samples in seconds.
func Seconds(samples []LatencySample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Seconds)
	}
	return out
}

// GroupByPair groups samples by pair key preserving their relative order.
func GroupByPair(samples []LatencySample) map[string][]LatencySample {
	out := map[string][]LatencySample{}
	for _, s := range samples {
		out[s.PairKey] = append(out[s.PairKey], s)
	}
	return out
}

// SortedKeys returns the keys of a map in lexicographic order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
