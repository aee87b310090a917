package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/state"
)

const detectSnapshot = `{
	"stations": [
		{"id": "MILANO CENTRALE", "max_trains_at_once": 1, "blocking_behavior": "hard"},
		{"id": "MILANO LAMBRATE", "max_trains_at_once": 2},
		{"id": "BRESCIA", "max_trains_at_once": 3}
	],
	"rails": [
		{"source": "MILANO CENTRALE", "target": "MILANO LAMBRATE", "capacity": 1, "min_headway_sec": 180, "travel_time_min": 4, "max_speed_kmh": 140},
		{"source": "MILANO LAMBRATE", "target": "BRESCIA", "capacity": 2, "travel_time_min": 30, "max_speed_kmh": 160}
	],
	"trains": [
		{"train_id": "TEST_1", "train_type": "intercity", "priority": 3, "route": [
			{"station_name": "MILANO CENTRALE", "station_order": 0},
			{"station_name": "MILANO LAMBRATE", "station_order": 1}
		]},
		{"train_id": "TEST_2", "train_type": "regional", "priority": 1, "route": [
			{"station_name": "MILANO CENTRALE", "station_order": 0},
			{"station_name": "MILANO LAMBRATE", "station_order": 1}
		]},
		{"train_id": "TEST_3", "train_type": "regional", "priority": 1, "route": [
			{"station_name": "MILANO LAMBRATE", "station_order": 0},
			{"station_name": "BRESCIA", "station_order": 1}
		]}
	]
}`

func newDetectTracker(t *testing.T) *state.Tracker {
	t.Helper()
	n, err := network.ParseSnapshot([]byte(detectSnapshot))
	require.NoError(t, err)
	tr := state.NewTracker(n)
	tr.UpdateTime(time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC))
	return tr
}

func conflictsOfType(conflicts []Conflict, ct ConflictType) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if c.Type == ct {
			out = append(out, c)
		}
	}
	return out
}

func TestStationOvercapacityTrip(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))

	e := NewEngine()
	conflicts := e.Evaluate(tr, 1)

	trips := conflictsOfType(conflicts, TypeStationOvercapacity)
	require.Len(t, trips, 1, "exactly one overcapacity conflict for the station")
	c := trips[0]
	assert.Equal(t, SeverityCritical, c.Severity, "hard blocking escalates to critical")
	assert.Equal(t, "MILANO CENTRALE", c.Location)
	assert.Equal(t, LocationStation, c.LocationType)
	assert.Equal(t, []string{"TEST_1", "TEST_2"}, c.InvolvedTrains)
	assert.Equal(t, SourceDetection, c.Source)
	assert.Equal(t, 1.0, c.Probability)
	assert.Equal(t, "CONF_0001", c.ConflictID)
	assert.NotEmpty(t, c.Explanation)
	assert.NotEmpty(t, c.Suggestions)
}

func TestHeadwayTrip(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	start := tr.Now()

	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_1", "MILANO LAMBRATE"))

	tr.UpdateTime(start.Add(50 * time.Second))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_2", "MILANO LAMBRATE"))

	e := NewEngine()
	conflicts := e.Evaluate(tr, 1)

	headways := conflictsOfType(conflicts, TypeHeadwayViolation)
	require.Len(t, headways, 1, "50s apart against a 180s minimum must trip")
	c := headways[0]
	assert.Equal(t, SeverityHigh, c.Severity)
	assert.Equal(t, "MILANO CENTRALE->MILANO LAMBRATE", c.Location)
	assert.Equal(t, []string{"TEST_1", "TEST_2"}, c.InvolvedTrains)

	// Once the headway window has elapsed the violation stops re-emitting.
	tr.UpdateTime(start.Add(10 * time.Minute))
	later := e.Evaluate(tr, 2)
	assert.Empty(t, conflictsOfType(later, TypeHeadwayViolation))
}

func TestHeadwayRespectsMinimumGap(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	start := tr.Now()

	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_1", "MILANO LAMBRATE"))

	tr.UpdateTime(start.Add(200 * time.Second))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_2", "MILANO LAMBRATE"))

	conflicts := NewEngine().Evaluate(tr, 1)
	assert.Empty(t, conflictsOfType(conflicts, TypeHeadwayViolation),
		"200s apart against a 180s minimum is compliant")
}

func TestEdgeOvercapacity(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	start := tr.Now()

	// Two departures onto a capacity-1 segment, far enough apart that the
	// headway rule stays quiet.
	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_1", "MILANO LAMBRATE"))
	tr.UpdateTime(start.Add(300 * time.Second))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_2", "MILANO LAMBRATE"))

	conflicts := NewEngine().Evaluate(tr, 1)
	edges := conflictsOfType(conflicts, TypeEdgeOvercapacity)
	require.Len(t, edges, 1)
	assert.Equal(t, SeverityHigh, edges[0].Severity)
	assert.Equal(t, "MILANO CENTRALE->MILANO LAMBRATE", edges[0].Location)
	assert.Equal(t, LocationEdge, edges[0].LocationType)
	assert.Equal(t, []string{"TEST_1", "TEST_2"}, edges[0].InvolvedTrains)
}

func TestBlockingIncidentOnOccupiedSegment(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	require.NoError(t, tr.TrainArrivesAtStation("TEST_3", "MILANO LAMBRATE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_3", "BRESCIA"))

	rail := tr.GetEdge("MILANO LAMBRATE", "BRESCIA")
	require.NotNil(t, rail)
	rail.ActiveIncidents = append(rail.ActiveIncidents, &network.Incident{
		IncidentID: "INC_1_500",
		Type:       network.IncidentFire,
		Severity:   90,
		StartTime:  tr.Now(),
		IsBlocking: true,
	})

	conflicts := NewEngine().Evaluate(tr, 1)
	blocked := conflictsOfType(conflicts, TypeBlockingIncident)
	require.Len(t, blocked, 1)
	assert.Equal(t, SeverityCritical, blocked[0].Severity)
	assert.Equal(t, []string{"TEST_3"}, blocked[0].InvolvedTrains)
}

func TestNonBlockingIncidentStaysQuiet(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	require.NoError(t, tr.TrainArrivesAtStation("TEST_3", "MILANO LAMBRATE"))
	require.NoError(t, tr.TrainDepartsStation("TEST_3", "BRESCIA"))

	rail := tr.GetEdge("MILANO LAMBRATE", "BRESCIA")
	rail.ActiveIncidents = append(rail.ActiveIncidents, &network.Incident{
		IncidentID: "INC_1_501",
		Type:       network.IncidentMaintenance,
		Severity:   40,
		IsBlocking: false,
	})

	conflicts := NewEngine().Evaluate(tr, 1)
	assert.Empty(t, conflictsOfType(conflicts, TypeBlockingIncident))
}

func TestExcessiveDelayEscalation(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)

	// MILANO CENTRALE has a single platform, so one standing train already
	// makes it capacity-constrained.
	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.UpdateTrainDelay("TEST_1", 400))

	e := NewEngine()
	first := conflictsOfType(e.Evaluate(tr, 1), TypeExcessiveDelay)
	require.Len(t, first, 1)
	assert.Equal(t, SeverityMedium, first[0].Severity)
	assert.Equal(t, []string{"TEST_1"}, first[0].InvolvedTrains)

	require.NoError(t, tr.UpdateTrainDelay("TEST_1", 700))
	second := conflictsOfType(e.Evaluate(tr, 2), TypeExcessiveDelay)
	require.Len(t, second, 1)
	assert.Equal(t, SeverityHigh, second[0].Severity, "ten minutes of delay escalates")

	require.NoError(t, tr.UpdateTrainDelay("TEST_1", 100))
	third := conflictsOfType(e.Evaluate(tr, 3), TypeExcessiveDelay)
	assert.Empty(t, third, "a modest delay is not a conflict")
}

func TestStatisticsCountReemissions(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))

	e := NewEngine()
	e.Evaluate(tr, 1)
	e.Evaluate(tr, 2)
	e.Evaluate(tr, 3)

	stats := e.Stats()
	assert.Equal(t, 3, stats.Total, "the standing situation re-emits every tick")
	assert.Equal(t, 3, stats.ByType[TypeStationOvercapacity])
	assert.Equal(t, 3, stats.BySeverity[SeverityCritical])

	last := e.LastTick()
	require.Len(t, last, 1)
	assert.Equal(t, "CONF_0003", last[0].ConflictID, "ids keep counting across ticks")
}

func TestRuleFailureIsIsolated(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))

	e := NewEngine()
	e.rules = append([]namedRule{{
		name: "exploding_rule",
		fn:   func(*state.Tracker) []draft { panic("boom") },
	}}, e.rules...)

	conflicts := e.Evaluate(tr, 1)
	require.Len(t, conflictsOfType(conflicts, TypeStationOvercapacity), 1,
		"rules after the failing one still run")
}

func TestEmitters(t *testing.T) {
	t.Parallel()
	tr := newDetectTracker(t)
	require.NoError(t, tr.TrainArrivesAtStation("TEST_1", "MILANO CENTRALE"))
	require.NoError(t, tr.TrainArrivesAtStation("TEST_2", "MILANO CENTRALE"))

	var logged []string
	console := &ConsoleEmitter{Logf: func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}}
	var buf bytes.Buffer

	e := NewEngine()
	e.AddEmitter(console)
	e.AddEmitter(NewJSONLEmitter(&buf))
	e.Evaluate(tr, 1)

	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "CONF_0001")
	assert.Contains(t, logged[0], "station_overcapacity")

	var decoded Conflict
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "CONF_0001", decoded.ConflictID)
	assert.Equal(t, TypeStationOvercapacity, decoded.Type)
}
