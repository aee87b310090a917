package predict

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-mind/railmind/internal/rail/features"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/state"
)

const predictSnapshot = `{
	"stations": [
		{"id": "MILANO CENTRALE", "max_trains_at_once": 1},
		{"id": "SEREGNO", "max_trains_at_once": 2}
	],
	"rails": [
		{"source": "SEREGNO", "target": "MILANO CENTRALE", "capacity": 2, "travel_time_min": 15, "max_speed_kmh": 140}
	],
	"trains": [
		{"train_id": "P_1", "train_type": "regional", "priority": 1, "route": [
			{"station_name": "SEREGNO", "station_order": 0},
			{"station_name": "MILANO CENTRALE", "station_order": 1}
		]},
		{"train_id": "P_2", "train_type": "intercity", "priority": 3, "route": [
			{"station_name": "MILANO CENTRALE", "station_order": 0},
			{"station_name": "SEREGNO", "station_order": 1}
		]}
	]
}`

func newPredictTracker(t *testing.T) *state.Tracker {
	t.Helper()
	n, err := network.ParseSnapshot([]byte(predictSnapshot))
	require.NoError(t, err)
	tr := state.NewTracker(n)
	tr.UpdateTime(time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC))
	return tr
}

func TestBucketFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		p    float64
		want Bucket
	}{
		{0, BucketSafe},
		{0.29, BucketSafe},
		{0.3, BucketLowRisk},
		{0.49, BucketLowRisk},
		{0.5, BucketHighRisk},
		{0.8, BucketHighRisk},
		{0.81, BucketCritical},
		{1, BucketCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BucketFor(tc.p), "p=%v", tc.p)
	}

	assert.Equal(t, "#22c55e", BucketSafe.Color())
	assert.Equal(t, "#eab308", BucketLowRisk.Color())
	assert.Equal(t, "#f97316", BucketHighRisk.Color())
	assert.Equal(t, "#ef4444", BucketCritical.Color())
}

func TestLoadModel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := LoadModel("")
	assert.ErrorIs(t, err, ErrNoModel)

	_, err = LoadModel(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, ErrNoModel)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadModel(bad)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoModel, "a corrupt artifact is a real failure")

	valid := identityModel()
	raw, err := json.Marshal(valid)
	require.NoError(t, err)
	good := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(good, raw, 0o644))
	loaded, err := LoadModel(good)
	require.NoError(t, err)
	assert.Equal(t, valid.FeatureNames, loaded.FeatureNames)

	valid.FeatureNames = append([]string(nil), valid.FeatureNames...)
	valid.FeatureNames[0], valid.FeatureNames[1] = valid.FeatureNames[1], valid.FeatureNames[0]
	raw, err = json.Marshal(valid)
	require.NoError(t, err)
	shuffled := filepath.Join(dir, "shuffled.json")
	require.NoError(t, os.WriteFile(shuffled, raw, 0o644))
	_, err = LoadModel(shuffled)
	assert.ErrorContains(t, err, "training order")
}

// identityModel has a zero-mean unit-scale scaler and zero coefficients.
func identityModel() *Model {
	return &Model{
		Version:      "test",
		FeatureNames: append([]string(nil), features.FeatureNames...),
		Scaler: Scaler{
			Mean:  make([]float64, features.Count),
			Scale: onesVector(),
		},
		Classifier: Classifier{Coefficients: make([]float64, features.Count)},
	}
}

func onesVector() []float64 {
	out := make([]float64, features.Count)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestModelScore(t *testing.T) {
	t.Parallel()
	m := identityModel()

	ordered := make([]float64, features.Count)
	assert.Equal(t, 0.5, m.Score(ordered), "zero logit is an even call")

	m.Classifier.Coefficients[1] = 1 // current_delay_sec
	ordered[1] = 2
	assert.InDelta(t, 0.8807970779778823, m.Score(ordered), 1e-12)

	contribs := m.Contributions(ordered)
	assert.Equal(t, 2.0, contribs[1])
	assert.Equal(t, 0.0, contribs[0])
}

func TestHeuristicScoring(t *testing.T) {
	t.Parallel()
	tr := newPredictTracker(t)
	p := New(nil, DefaultConfig())
	assert.Equal(t, "heuristic", p.Mode())

	// A heavily delayed train alone at a single-platform hub saturates
	// every heuristic term.
	require.NoError(t, tr.TrainArrivesAtStation("P_2", "MILANO CENTRALE"))
	require.NoError(t, tr.UpdateTrainDelay("P_2", 600))
	hot := p.Predict(tr, tr.Network().Train("P_2"))
	assert.InDelta(t, 1.0, hot.Probability, 1e-12)
	assert.Equal(t, BucketCritical, hot.RiskBucket)
	assert.Equal(t, "#ef4444", hot.RiskColor)
	assert.Equal(t, "capacity_exceeded", hot.PredictedConflictType, "the occupied single-platform hub names the type")
	assert.Equal(t, "\U0001F534", hot.RiskEmoji)
	assert.Equal(t, "MILANO CENTRALE", hot.PredictedLocation)
	assert.Equal(t, tr.Now().Add(15*time.Minute), hot.PredictedTime)

	// An on-time train at a half-empty minor station barely registers.
	require.NoError(t, tr.TrainArrivesAtStation("P_1", "SEREGNO"))
	cold := p.Predict(tr, tr.Network().Train("P_1"))
	assert.InDelta(t, 0.175, cold.Probability, 1e-12)
	assert.Equal(t, BucketSafe, cold.RiskBucket)

	assert.Equal(t, "PRED_0001", hot.PredictionID)
	assert.Equal(t, "PRED_0002", cold.PredictionID)
}

func TestSmartTriggers(t *testing.T) {
	t.Parallel()
	tr := newPredictTracker(t)
	p := New(nil, DefaultConfig())

	// Quiet: on time at a roomy minor station.
	require.NoError(t, tr.TrainArrivesAtStation("P_1", "SEREGNO"))
	fire, reason := p.ShouldPredict(tr, tr.Network().Train("P_1"))
	assert.False(t, fire)
	assert.Empty(t, reason)

	// Delay trigger.
	require.NoError(t, tr.UpdateTrainDelay("P_1", 240))
	fire, reason = p.ShouldPredict(tr, tr.Network().Train("P_1"))
	assert.True(t, fire)
	assert.Equal(t, "delay_threshold", reason)
	require.NoError(t, tr.UpdateTrainDelay("P_1", 0))

	// Congestion trigger: the single platform at the hub is full.
	require.NoError(t, tr.TrainArrivesAtStation("P_2", "MILANO CENTRALE"))
	fire, reason = p.ShouldPredict(tr, tr.Network().Train("P_2"))
	assert.True(t, fire)
	assert.Equal(t, "congestion", reason)

	// Hub approach: on the segment heading into the hub once it is empty.
	tr.RemoveTrainFromStation("P_2", "MILANO CENTRALE")
	require.NoError(t, tr.TrainDepartsStation("P_1", "MILANO CENTRALE"))
	fire, reason = p.ShouldPredict(tr, tr.Network().Train("P_1"))
	assert.True(t, fire)
	assert.Equal(t, "hub_approach", reason)
}

func TestPredictTriggeredFiltersQuietTrains(t *testing.T) {
	t.Parallel()
	tr := newPredictTracker(t)
	p := New(nil, DefaultConfig())

	require.NoError(t, tr.TrainArrivesAtStation("P_1", "SEREGNO"))
	require.NoError(t, tr.TrainArrivesAtStation("P_2", "MILANO CENTRALE"))
	require.NoError(t, tr.UpdateTrainDelay("P_2", 500))

	preds := p.PredictTriggered(tr)
	require.Len(t, preds, 1)
	assert.Equal(t, "P_2", preds[0].TrainID)
	assert.Equal(t, "delay_threshold", preds[0].TriggerReason)
}

func TestPredictBatch(t *testing.T) {
	t.Parallel()
	tr := newPredictTracker(t)
	p := New(nil, DefaultConfig())

	require.NoError(t, tr.TrainArrivesAtStation("P_2", "MILANO CENTRALE"))
	require.NoError(t, tr.UpdateTrainDelay("P_2", 600))
	require.NoError(t, tr.TrainArrivesAtStation("P_1", "SEREGNO"))

	batch := p.PredictBatch(tr)
	require.Len(t, batch.Predictions, 2)
	assert.Equal(t, "heuristic", batch.ModelMode)
	assert.InDelta(t, (1.0+0.175)/2, batch.NetworkRiskScore, 1e-12)
	assert.Equal(t, []string{"P_2"}, batch.CriticalTrains)
	assert.Empty(t, batch.HighRiskTrains)
	assert.NotEmpty(t, batch.RecommendedActions)
	assert.Equal(t, tr.Now(), batch.GeneratedAt)
}

func TestConfidenceAndFactors(t *testing.T) {
	t.Parallel()
	tr := newPredictTracker(t)
	p := New(nil, DefaultConfig())
	require.NoError(t, tr.TrainArrivesAtStation("P_2", "MILANO CENTRALE"))
	require.NoError(t, tr.UpdateTrainDelay("P_2", 400))

	pred := p.Predict(tr, tr.Network().Train("P_2"))
	assert.GreaterOrEqual(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	require.NotEmpty(t, pred.ContributingFactors)
	assert.LessOrEqual(t, len(pred.ContributingFactors), 3)
	for i := 1; i < len(pred.ContributingFactors); i++ {
		assert.GreaterOrEqual(t,
			abs(pred.ContributingFactors[i-1].Contribution),
			abs(pred.ContributingFactors[i].Contribution),
			"factors are ordered strongest first")
	}
	assert.Equal(t, "current_delay_sec", pred.ContributingFactors[0].Name)
}

func TestClassifierModeUsesModel(t *testing.T) {
	t.Parallel()
	tr := newPredictTracker(t)
	m := identityModel()
	m.Classifier.Intercept = -4 // pushes every score toward safe
	p := New(m, DefaultConfig())
	assert.Equal(t, "classifier", p.Mode())

	require.NoError(t, tr.TrainArrivesAtStation("P_2", "MILANO CENTRALE"))
	require.NoError(t, tr.UpdateTrainDelay("P_2", 600))
	pred := p.Predict(tr, tr.Network().Train("P_2"))
	assert.Less(t, pred.Probability, 0.3, "zero coefficients leave only the intercept")
	assert.Equal(t, BucketSafe, pred.RiskBucket)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
