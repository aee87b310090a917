package sim

import (
	"time"

	"github.com/rail-mind/railmind/internal/rail/state"
)

// Departure records a train entering an edge.
type Departure struct {
	Train string `json:"train"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Arrival records a train reaching a station. Completed is set when the
// station was the final stop and the train left active service.
type Arrival struct {
	Train     string `json:"train"`
	Station   string `json:"station"`
	Completed bool   `json:"completed"`
}

// DelayAdded records injected delay. Total is the train's accumulated
// delay after the injection; Holding is set when the train was parked at
// a station to absorb it.
type DelayAdded struct {
	Train   string `json:"train"`
	Seconds int    `json:"seconds"`
	Total   int    `json:"total"`
	Holding bool   `json:"holding"`
}

// SpeedChange records a speed transition larger than the reporting
// threshold.
type SpeedChange struct {
	Train string  `json:"train"`
	From  float64 `json:"from_kmh"`
	To    float64 `json:"to_kmh"`
}

// IncidentChange records an incident starting or clearing at a location.
type IncidentChange struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Severity int    `json:"severity,omitempty"`
	Blocking bool   `json:"blocking,omitempty"`
}

// ChangeRecord is the full account of one tick, suitable for logging,
// persistence and downstream triggers.
type ChangeRecord struct {
	Tick              int              `json:"tick"`
	Time              time.Time        `json:"time"`
	Weather           state.Weather    `json:"weather"`
	Departures        []Departure      `json:"departures"`
	Arrivals          []Arrival        `json:"arrivals"`
	DelaysAdded       []DelayAdded     `json:"delays_added"`
	SpeedChanges      []SpeedChange    `json:"speed_changes"`
	TrainsSpawned     []string         `json:"trains_spawned"`
	IncidentsStarted  []IncidentChange `json:"incidents_started"`
	IncidentsResolved []IncidentChange `json:"incidents_resolved"`
	ActiveTrains      int              `json:"active_trains"`
}

// Eventful reports whether anything beyond the clock moved this tick.
func (r ChangeRecord) Eventful() bool {
	return len(r.Departures) > 0 || len(r.Arrivals) > 0 || len(r.DelaysAdded) > 0 ||
		len(r.SpeedChanges) > 0 || len(r.TrainsSpawned) > 0 ||
		len(r.IncidentsStarted) > 0 || len(r.IncidentsResolved) > 0
}

func newChangeRecord(tick int, at time.Time, weather state.Weather) *ChangeRecord {
	return &ChangeRecord{
		Tick:              tick,
		Time:              at,
		Weather:           weather,
		Departures:        []Departure{},
		Arrivals:          []Arrival{},
		DelaysAdded:       []DelayAdded{},
		SpeedChanges:      []SpeedChange{},
		TrainsSpawned:     []string{},
		IncidentsStarted:  []IncidentChange{},
		IncidentsResolved: []IncidentChange{},
	}
}
