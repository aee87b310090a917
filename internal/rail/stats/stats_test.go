package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rail-mind/railmind/internal/rail/network"
)

func TestSummarizeKnownSample(t *testing.T) {
	t.Parallel()

	values := []float64{6, 2, 9, 1, 5, 10, 3, 8, 4, 7}
	s := Summarize(values)

	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 5.5, s.Mean, 1e-9)
	assert.InDelta(t, 3.02765, s.StdDev, 1e-4)
	assert.InDelta(t, 1, s.Min, 1e-9)
	assert.InDelta(t, 10, s.Max, 1e-9)

	// Empirical percentiles pick actual samples.
	assert.InDelta(t, 5, s.P50, 1e-9)
	assert.InDelta(t, 9, s.P85, 1e-9)
	assert.InDelta(t, 10, s.P95, 1e-9)
	assert.InDelta(t, 10, s.P98, 1e-9)
}

func TestSummarizeLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	values := []float64{3, 1, 2}
	Summarize(values)

	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestSummarizeSingleValue(t *testing.T) {
	t.Parallel()

	s := Summarize([]float64{42})

	assert.Equal(t, 1, s.Count)
	assert.InDelta(t, 42, s.Mean, 1e-9)
	assert.Zero(t, s.StdDev)
	assert.InDelta(t, 42, s.Min, 1e-9)
	assert.InDelta(t, 42, s.Max, 1e-9)
	assert.InDelta(t, 42, s.P50, 1e-9)
	assert.InDelta(t, 42, s.P98, 1e-9)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Summary{}, Summarize(nil))
	assert.Equal(t, Summary{}, Summarize([]float64{}))
}

func TestCollectFleet(t *testing.T) {
	t.Parallel()

	trains := []*network.Train{
		{TrainID: "REG_33003", DelaySeconds: 300, CurrentSpeedKmh: 110, Status: network.StatusDelayed},
		{TrainID: "REG_3053", DelaySeconds: 0, CurrentSpeedKmh: 0, Status: network.StatusHolding},
		{TrainID: "IC_631", DelaySeconds: 60, CurrentSpeedKmh: 140},
	}

	f := CollectFleet(trains)

	assert.Equal(t, 3, f.ActiveTrains)
	assert.Equal(t, 2, f.DelayedTrains)
	assert.Equal(t, 1, f.HeldTrains)

	assert.Equal(t, 3, f.DelaySeconds.Count)
	assert.InDelta(t, 120, f.DelaySeconds.Mean, 1e-9)
	assert.InDelta(t, 300, f.DelaySeconds.Max, 1e-9)

	// The held train sits at zero speed and must not enter the speed sample.
	assert.Equal(t, 2, f.SpeedKmh.Count)
	assert.InDelta(t, 110, f.SpeedKmh.Min, 1e-9)
	assert.InDelta(t, 140, f.SpeedKmh.Max, 1e-9)
}

func TestCollectFleetEmpty(t *testing.T) {
	t.Parallel()

	f := CollectFleet(nil)

	assert.Zero(t, f.ActiveTrains)
	assert.Equal(t, Summary{}, f.DelaySeconds)
	assert.Equal(t, Summary{}, f.SpeedKmh)
}
