package predict

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rail-mind/railmind/internal/rail/features"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/state"
)

// Bucket classifies a conflict probability.
type Bucket string

const (
	BucketSafe     Bucket = "safe"
	BucketLowRisk  Bucket = "low_risk"
	BucketHighRisk Bucket = "high_risk"
	BucketCritical Bucket = "critical"
)

// Bucket boundaries. Safe below the first, critical above the last.
const (
	ThresholdSafe     = 0.3
	ThresholdLowRisk  = 0.5
	ThresholdHighRisk = 0.8
)

// BucketFor is a pure function of the probability at the documented
// thresholds.
func BucketFor(p float64) Bucket {
	switch {
	case p < ThresholdSafe:
		return BucketSafe
	case p < ThresholdLowRisk:
		return BucketLowRisk
	case p <= ThresholdHighRisk:
		return BucketHighRisk
	default:
		return BucketCritical
	}
}

// Color returns the display colour for the bucket.
func (b Bucket) Color() string {
	switch b {
	case BucketSafe:
		return "#22c55e"
	case BucketLowRisk:
		return "#eab308"
	case BucketHighRisk:
		return "#f97316"
	default:
		return "#ef4444"
	}
}

// Emoji returns the display glyph for the bucket.
func (b Bucket) Emoji() string {
	switch b {
	case BucketSafe:
		return "\U0001F7E2"
	case BucketLowRisk:
		return "\U0001F7E1"
	case BucketHighRisk:
		return "\U0001F7E0"
	default:
		return "\U0001F534"
	}
}

// TriggerConfig gates which trains are worth scoring.
type TriggerConfig struct {
	DelayThresholdSec     int     `json:"trigger_delay_threshold_sec"`
	CongestionThreshold   float64 `json:"trigger_congestion_threshold"`
	HubApproach           bool    `json:"trigger_hub_approach"`
	ContinuousIntervalSec int     `json:"continuous_interval_sec"`
}

// DefaultTriggers returns the standing trigger thresholds.
func DefaultTriggers() TriggerConfig {
	return TriggerConfig{
		DelayThresholdSec:     120,
		CongestionThreshold:   0.8,
		HubApproach:           true,
		ContinuousIntervalSec: 30,
	}
}

// Config parameterises the predictor.
type Config struct {
	HorizonMin float64       `json:"prediction_horizon_min"`
	Triggers   TriggerConfig `json:"triggers"`
}

// DefaultConfig returns the standing predictor parameters.
func DefaultConfig() Config {
	return Config{HorizonMin: 15, Triggers: DefaultTriggers()}
}

// Factor is one feature's share of a prediction.
type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Prediction is one scored train.
type Prediction struct {
	PredictionID          string          `json:"prediction_id"`
	TrainID               string          `json:"train_id"`
	Probability           float64         `json:"probability"`
	RiskBucket            Bucket          `json:"risk_bucket"`
	RiskColor             string          `json:"risk_color"`
	RiskEmoji             string          `json:"risk_emoji"`
	PredictedConflictType string          `json:"predicted_conflict_type"`
	PredictedTime         time.Time       `json:"predicted_time"`
	PredictedLocation     string          `json:"predicted_location"`
	ContributingFactors   []Factor        `json:"contributing_factors"`
	Confidence            float64         `json:"confidence"`
	HorizonMin            float64         `json:"prediction_horizon_min"`
	TriggerReason         string          `json:"trigger_reason,omitempty"`
	Features              features.Vector `json:"features"`
}

// BatchResult aggregates one prediction pass over the active fleet.
type BatchResult struct {
	GeneratedAt        time.Time    `json:"generated_at"`
	ModelMode          string       `json:"model_mode"`
	NetworkRiskScore   float64      `json:"network_risk_score"`
	Predictions        []Prediction `json:"predictions"`
	HighRiskTrains     []string     `json:"high_risk_trains"`
	CriticalTrains     []string     `json:"critical_trains"`
	RecommendedActions []string     `json:"recommended_actions"`
}

// Predictor scores trains with the loaded model, or with a bounded
// heuristic when none is available.
type Predictor struct {
	mu    sync.Mutex
	model *Model
	cfg   Config
	seq   int
}

// New builds a predictor. A nil model selects the heuristic.
func New(model *Model, cfg Config) *Predictor {
	if cfg.HorizonMin <= 0 {
		cfg.HorizonMin = 15
	}
	return &Predictor{model: model, cfg: cfg}
}

// Mode reports which scoring path is active.
func (p *Predictor) Mode() string {
	if p.model != nil {
		return "classifier"
	}
	return "heuristic"
}

// Model returns the loaded artifact, or nil in heuristic mode.
func (p *Predictor) Model() *Model { return p.model }

// Config returns the predictor parameters.
func (p *Predictor) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig replaces the predictor parameters. Trigger thresholds take
// effect from the next scoring pass; a non-positive horizon keeps the
// default floor.
func (p *Predictor) SetConfig(cfg Config) {
	if cfg.HorizonMin <= 0 {
		cfg.HorizonMin = 15
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// ShouldPredict applies the smart triggers to one train. The returned
// reason names the trigger that fired.
func (p *Predictor) ShouldPredict(tr *state.Tracker, t *network.Train) (bool, string) {
	cfg := p.Config()
	if t.DelaySeconds > cfg.Triggers.DelayThresholdSec {
		return true, "delay_threshold"
	}
	station := features.RelevantStation(t)
	if ratio, ok := occupancyRatio(tr.Network(), station); ok && ratio > cfg.Triggers.CongestionThreshold {
		return true, "congestion"
	}
	if cfg.Triggers.HubApproach && t.CurrentPositionType == network.PositionEdge && features.IsMajorHub(station) {
		return true, "hub_approach"
	}
	return false, ""
}

// Predict scores one train unconditionally.
func (p *Predictor) Predict(tr *state.Tracker, t *network.Train) Prediction {
	cfg := p.Config()
	vec := features.Extract(tr, t)
	ordered := vec.Ordered()

	var probability float64
	var factors []Factor
	if p.model != nil {
		probability = p.model.Score(ordered)
		factors = topFactors(ordered, p.model.Contributions(ordered))
	} else {
		probability, factors = p.heuristic(tr, t, vec)
	}
	probability = clamp01(probability)

	bucket := BucketFor(probability)
	station := features.RelevantStation(t)
	location := station
	if location == "" {
		location = t.CurrentEdge
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("PRED_%04d", p.seq)
	p.mu.Unlock()

	return Prediction{
		PredictionID:          id,
		TrainID:               t.TrainID,
		Probability:           probability,
		RiskBucket:            bucket,
		RiskColor:             bucket.Color(),
		RiskEmoji:             bucket.Emoji(),
		PredictedConflictType: conflictTypeFor(tr, t, cfg.Triggers.CongestionThreshold),
		PredictedTime:         tr.Now().Add(time.Duration(cfg.HorizonMin * float64(time.Minute))),
		PredictedLocation:     location,
		ContributingFactors:   factors,
		Confidence:            confidence(vec),
		HorizonMin:            cfg.HorizonMin,
		Features:              vec,
	}
}

// PredictTriggered scores only the trains whose triggers fire, in roster
// order.
func (p *Predictor) PredictTriggered(tr *state.Tracker) []Prediction {
	var out []Prediction
	for _, t := range tr.ActiveTrains() {
		fire, reason := p.ShouldPredict(tr, t)
		if !fire {
			continue
		}
		pred := p.Predict(tr, t)
		pred.TriggerReason = reason
		out = append(out, pred)
	}
	return out
}

// PredictBatch scores the whole active fleet and aggregates network risk.
func (p *Predictor) PredictBatch(tr *state.Tracker) BatchResult {
	result := BatchResult{
		GeneratedAt:    tr.Now(),
		ModelMode:      p.Mode(),
		Predictions:    []Prediction{},
		HighRiskTrains: []string{},
		CriticalTrains: []string{},
	}
	sum := 0.0
	for _, t := range tr.ActiveTrains() {
		pred := p.Predict(tr, t)
		result.Predictions = append(result.Predictions, pred)
		sum += pred.Probability
		switch pred.RiskBucket {
		case BucketHighRisk:
			result.HighRiskTrains = append(result.HighRiskTrains, t.TrainID)
		case BucketCritical:
			result.CriticalTrains = append(result.CriticalTrains, t.TrainID)
		}
	}
	if len(result.Predictions) > 0 {
		result.NetworkRiskScore = sum / float64(len(result.Predictions))
	}
	result.RecommendedActions = recommendActions(result)
	return result
}

// heuristic combines delay, congestion and hub proximity into a bounded
// probability when no trained model is available.
func (p *Predictor) heuristic(tr *state.Tracker, t *network.Train, vec features.Vector) (float64, []Factor) {
	delayShare := math.Min(float64(t.DelaySeconds)/600, 1) * 0.55

	station := features.RelevantStation(t)
	ratio, _ := occupancyRatio(tr.Network(), station)
	congestionShare := ratio * 0.25

	hubShare := 0.0
	if features.IsMajorHub(station) {
		hubShare = 0.15
	}

	probability := 0.05 + delayShare + congestionShare + hubShare
	factors := []Factor{
		{Name: "current_delay_sec", Value: vec["current_delay_sec"], Contribution: delayShare},
		{Name: "competing_trains_estimate", Value: vec["competing_trains_estimate"], Contribution: congestionShare},
		{Name: "is_major_hub", Value: vec["is_major_hub"], Contribution: hubShare},
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(factors[i].Contribution) > math.Abs(factors[j].Contribution)
	})
	return probability, factors
}

// conflictTypeFor names the most plausible family from the prediction
// taxonomy. A saturated or contended station outranks the train's own
// delay: the conflict would materialise at the platform, not en route.
func conflictTypeFor(tr *state.Tracker, t *network.Train, congestion float64) string {
	station := features.RelevantStation(t)
	ratio, ok := occupancyRatio(tr.Network(), station)
	switch {
	case ok && ratio >= 1:
		return "capacity_exceeded"
	case ok && ratio > congestion:
		return "platform_conflict"
	case t.DelaySeconds >= 300:
		return "cascading_delay"
	default:
		return "schedule_deviation"
	}
}

// confidence grows with feature completeness: a vector with more observed
// signal supports a firmer call than a mostly-zero one.
func confidence(vec features.Vector) float64 {
	nonzero := 0
	for _, val := range vec {
		if val != 0 {
			nonzero++
		}
	}
	return 0.5 + 0.5*float64(nonzero)/float64(features.Count)
}

// topFactors pairs the largest absolute logit contributions with their
// feature names, strongest first.
func topFactors(ordered, contributions []float64) []Factor {
	factors := make([]Factor, len(contributions))
	for i := range contributions {
		factors[i] = Factor{
			Name:         features.FeatureNames[i],
			Value:        ordered[i],
			Contribution: contributions[i],
		}
	}
	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(factors[i].Contribution) > math.Abs(factors[j].Contribution)
	})
	if len(factors) > 3 {
		factors = factors[:3]
	}
	return factors
}

// recommendActions derives operator guidance from the aggregated risk.
func recommendActions(r BatchResult) []string {
	var actions []string
	if len(r.CriticalTrains) > 0 {
		actions = append(actions, fmt.Sprintf("intervene on %d critical trains immediately", len(r.CriticalTrains)))
	}
	if len(r.HighRiskTrains) > 0 {
		actions = append(actions, fmt.Sprintf("review holding options for %d high-risk trains", len(r.HighRiskTrains)))
	}
	switch {
	case r.NetworkRiskScore > 0.6:
		actions = append(actions, "network risk is elevated; throttle new departures")
	case r.NetworkRiskScore > 0.4:
		actions = append(actions, "monitor hub occupancy closely")
	}
	if len(actions) == 0 {
		actions = append(actions, "no intervention needed")
	}
	return actions
}

// occupancyRatio reports how full the named station is. ok is false when
// the station is unknown or has no capacity configured.
func occupancyRatio(net *network.Network, station string) (float64, bool) {
	st := net.Station(station)
	if st == nil || st.MaxTrainsAtOnce <= 0 {
		return 0, false
	}
	return float64(len(st.CurrentTrains)) / float64(st.MaxTrainsAtOnce), true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
