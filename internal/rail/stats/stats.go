// Package stats summarizes fleet-level delay and speed distributions.
//
// Summaries feed the simulation state payload, the saved conflict
// documents, and the per-tick records in the database. Percentiles are
// empirical: each reported value is an actual sample, never an
// interpolation between two samples.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rail-mind/railmind/internal/rail/network"
)

// Summary describes one sample distribution.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P50    float64 `json:"p50"`
	P85    float64 `json:"p85"`
	P95    float64 `json:"p95"`
	P98    float64 `json:"p98"`
}

// Summarize computes a Summary over the sample. The input slice is not
// modified. An empty sample yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	s := Summary{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P85:   stat.Quantile(0.85, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P98:   stat.Quantile(0.98, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// Fleet aggregates the live fleet into delay and speed distributions.
type Fleet struct {
	ActiveTrains  int     `json:"active_trains"`
	DelayedTrains int     `json:"delayed_trains"`
	HeldTrains    int     `json:"held_trains"`
	DelaySeconds  Summary `json:"delay_seconds"`
	SpeedKmh      Summary `json:"speed_kmh"`
}

// CollectFleet builds a Fleet summary over the given trains. Trains count
// as delayed when behind schedule at all and as held when a control
// action keeps them at a platform. Speed samples only include moving
// trains so station dwells do not drag the distribution to zero.
func CollectFleet(trains []*network.Train) Fleet {
	f := Fleet{ActiveTrains: len(trains)}
	delays := make([]float64, 0, len(trains))
	speeds := make([]float64, 0, len(trains))
	for _, t := range trains {
		delays = append(delays, float64(t.DelaySeconds))
		if t.DelaySeconds > 0 {
			f.DelayedTrains++
		}
		if t.Status == network.StatusHolding {
			f.HeldTrains++
		}
		if t.CurrentSpeedKmh > 0 {
			speeds = append(speeds, t.CurrentSpeedKmh)
		}
	}
	f.DelaySeconds = Summarize(delays)
	f.SpeedKmh = Summarize(speeds)
	return f
}
