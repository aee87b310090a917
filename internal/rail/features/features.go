// Package features builds the fixed-schema feature vector the conflict
// predictor consumes. The vector layout is the saved training order
// (alphabetical by feature name); changing it invalidates every trained
// model artifact.
package features

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/state"
	"github.com/rail-mind/railmind/internal/units"
)

// FeatureNames is the training order. Alphabetical, fixed.
var FeatureNames = []string{
	"competing_trains_estimate",
	"current_delay_sec",
	"day_of_week",
	"delay_category",
	"estimated_speed_kmh",
	"hour_of_day",
	"incident_type_fire",
	"incident_type_maintenance",
	"incident_type_other",
	"incident_type_police_intervention",
	"incident_type_technical",
	"incident_type_trespasser",
	"incident_type_weather",
	"is_major_hub",
	"is_peak_hour",
	"is_weekend",
	"network_hour_delay_avg",
	"progress_factor",
	"station_hash",
}

// Count is the width of the feature vector.
const Count = 19

// majorHubs are the stations with disproportionate traffic; the predictor
// triggers more aggressively around them.
var majorHubs = map[string]bool{
	"MILANO CENTRALE":        true,
	"MILANO PORTA GARIBALDI": true,
	"MILANO CADORNA":         true,
	"BRESCIA":                true,
	"BERGAMO":                true,
	"PAVIA":                  true,
	"MONZA":                  true,
	"VARESE":                 true,
	"COMO":                   true,
	"LECCO":                  true,
}

// peakHours are the morning and evening commute windows.
var peakHours = map[int]bool{7: true, 8: true, 9: true, 17: true, 18: true, 19: true}

// IsMajorHub reports whether the named station is a designated hub.
func IsMajorHub(name string) bool {
	return majorHubs[name]
}

// MajorHubs lists the designated hub stations, sorted.
func MajorHubs() []string {
	out := make([]string, 0, len(majorHubs))
	for name := range majorHubs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StationHash maps a station name to a stable value in [0, 1). The
// unknown-station value is 0.5.
func StationHash(name string) float64 {
	if name == "" {
		return 0.5
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return float64(h.Sum32()%100) / 100
}

// Vector is a named feature set. Marshals as a flat object; the model
// consumes it through Ordered.
type Vector map[string]float64

// Ordered projects the vector into the training order. Missing names
// contribute 0.
func (v Vector) Ordered() []float64 {
	out := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[i] = v[name]
	}
	return out
}

// Extract builds the feature vector for one train against the current
// network state. The caller holds a read view over the tracker.
func Extract(tr *state.Tracker, t *network.Train) Vector {
	now := tr.Now()
	net := tr.Network()

	hour := now.Hour()
	// Monday is day 0, matching the trained encoding.
	day := (int(now.Weekday()) + 6) % 7

	v := Vector{
		"current_delay_sec":   float64(t.DelaySeconds),
		"delay_category":      delayCategory(t.DelaySeconds),
		"hour_of_day":         float64(hour),
		"day_of_week":         float64(day),
		"estimated_speed_kmh": estimatedSpeed(t.DelaySeconds),
		"progress_factor":     t.ProgressOnEdge,
	}
	if peakHours[hour] {
		v["is_peak_hour"] = 1
	}
	if day >= 5 {
		v["is_weekend"] = 1
	}

	stationName := RelevantStation(t)
	v["station_hash"] = StationHash(stationName)
	if IsMajorHub(stationName) {
		v["is_major_hub"] = 1
	}

	for _, inc := range localIncidents(net, t) {
		v["incident_type_"+string(inc.Type)] = 1
	}

	v["network_hour_delay_avg"] = networkDelayAvg(tr)
	v["competing_trains_estimate"] = competingTrains(t)
	return v
}

// RelevantStation is the station a prediction attaches to: where the
// train stands, or where it is heading while on a segment.
func RelevantStation(t *network.Train) string {
	if t.CurrentPositionType == network.PositionStation {
		return t.CurrentStation
	}
	if next := t.NextStop(); next != nil {
		return next.StationName
	}
	return ""
}

// localIncidents returns the incidents active where the train currently is.
func localIncidents(net *network.Network, t *network.Train) []*network.Incident {
	switch t.CurrentPositionType {
	case network.PositionStation:
		if st := net.Station(t.CurrentStation); st != nil {
			return st.ActiveIncidents
		}
	case network.PositionEdge:
		if r := net.RailByKey(t.CurrentEdge); r != nil {
			return r.ActiveIncidents
		}
	}
	return nil
}

// networkDelayAvg is the mean delay in seconds over the active fleet.
func networkDelayAvg(tr *state.Tracker) float64 {
	active := tr.ActiveTrains()
	if len(active) == 0 {
		return 0
	}
	sum := 0
	for _, t := range active {
		sum += t.DelaySeconds
	}
	return float64(sum) / float64(len(active))
}

// competingTrains mirrors the training encoding of platform contention:
// whole trains derived from the delay, capped at 10. Live occupancy must
// not leak in here; the scaler was fitted against this proxy.
func competingTrains(t *network.Train) float64 {
	est := math.Floor(units.SecondsToMinutes(float64(t.DelaySeconds)) / 2)
	if est > 10 {
		est = 10
	}
	return est
}

// estimatedSpeed mirrors the training encoding of speed: a ramp derived
// from the delay, not the live telemetry. Like competingTrains, the scaler
// was fitted against this proxy and must keep seeing it.
func estimatedSpeed(delaySec int) float64 {
	est := 100 - 5*units.SecondsToMinutes(float64(delaySec))
	if est < 0 {
		return 0
	}
	return est
}

// delayCategory buckets the delay the way the training set did: a category
// opens strictly above its threshold, so exactly 120 s is still category 0.
func delayCategory(delaySec int) float64 {
	switch {
	case delaySec > 600:
		return 3
	case delaySec > 300:
		return 2
	case delaySec > 120:
		return 1
	default:
		return 0
	}
}
