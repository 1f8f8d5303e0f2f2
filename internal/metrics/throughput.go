package metrics

import (
	"github.com/montanaflynn/stats"
)

// CalculateThroughput summarises the interval RPS of every bucket in
// which at least one VU was active. Idle intervals (before the first VU
// or after the last one retires) would drag the mean towards zero.
func CalculateThroughput(buckets []*TimeBucket) ThroughputStats {
	var samples stats.Float64Data
	for _, b := range buckets {
		if b == nil || b.ActiveVUs == 0 {
			continue
		}
		samples = append(samples, b.IntervalRPS)
	}

	if len(samples) == 0 {
		return ThroughputStats{}
	}

	result := ThroughputStats{Samples: len(samples)}

	// stats only errors on empty input, which is excluded above.
	result.Mean, _ = samples.Mean()
	result.Median, _ = samples.Median()
	result.P95, _ = samples.Percentile(95)
	result.Max, _ = samples.Max()
	result.StdDev, _ = samples.StandardDeviation()

	return result
}
