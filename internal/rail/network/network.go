// Package network defines the closed-schema model of a regional rail
// network: stations, rails (edges), trains and their routes. The model is
// loaded once from a JSON snapshot and exposes read accessors plus a single
// value-level mutation primitive (SetField) used by the context patcher.
// No structural mutation is possible through this package's API.
package network

import (
	"fmt"
	"time"
)

// BlockingBehavior controls how a station treats occupancy beyond capacity.
type BlockingBehavior string

const (
	BlockingHard BlockingBehavior = "hard"
	BlockingSoft BlockingBehavior = "soft"
)

// TrainStatus is the operational status of a train.
type TrainStatus string

const (
	StatusStopped TrainStatus = "stopped"
	StatusOnTime  TrainStatus = "on_time"
	StatusDelayed TrainStatus = "delayed"
	StatusHolding TrainStatus = "holding"
)

// TrainType is an open set; the common values are enumerated here.
type TrainType string

const (
	TypeRegional  TrainType = "regional"
	TypeIntercity TrainType = "intercity"
	TypeFreight   TrainType = "freight"
)

// PositionType locates a train on the network.
type PositionType string

const (
	PositionStation PositionType = "station"
	PositionEdge    PositionType = "edge"
	PositionUnknown PositionType = "unknown"
)

// Direction of a rail segment.
type Direction string

const (
	Directed      Direction = "directed"
	Bidirectional Direction = "bidirectional"
)

// RiskProfile classifies a rail segment's operational risk.
type RiskProfile string

const (
	RiskLow    RiskProfile = "low"
	RiskMedium RiskProfile = "medium"
	RiskHigh   RiskProfile = "high"
)

// IncidentType enumerates the fixed incident taxonomy.
type IncidentType string

const (
	IncidentTechnical          IncidentType = "technical"
	IncidentTrespasser         IncidentType = "trespasser"
	IncidentWeather            IncidentType = "weather"
	IncidentMaintenance        IncidentType = "maintenance"
	IncidentFire               IncidentType = "fire"
	IncidentPoliceIntervention IncidentType = "police_intervention"
	IncidentOther              IncidentType = "other"
)

// IncidentTypes lists every incident type in declaration order. The feature
// engine's one-hot encoding iterates this list.
var IncidentTypes = []IncidentType{
	IncidentTechnical,
	IncidentTrespasser,
	IncidentWeather,
	IncidentMaintenance,
	IncidentFire,
	IncidentPoliceIntervention,
	IncidentOther,
}

// Incident is owned by exactly one container (station or rail) while active.
type Incident struct {
	IncidentID  string       `json:"incident_id"`
	Type        IncidentType `json:"type"`
	Severity    float64      `json:"severity"`
	StartTime   time.Time    `json:"start_time"`
	IsBlocking  bool         `json:"is_blocking"`
	Description string       `json:"description"`
}

// Station is a node of the network graph.
type Station struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Region           string           `json:"region"`
	Lat              float64          `json:"lat"`
	Lon              float64          `json:"lon"`
	MaxTrainsAtOnce  int              `json:"max_trains_at_once"`
	BlockingBehavior BlockingBehavior `json:"blocking_behavior"`
	CurrentTrains    []string         `json:"current_trains"`
	ActiveIncidents  []*Incident      `json:"active_incidents"`
}

// HasBlockingIncident reports whether any active incident blocks the station.
func (s *Station) HasBlockingIncident() bool {
	for _, inc := range s.ActiveIncidents {
		if inc.IsBlocking {
			return true
		}
	}
	return false
}

// Rail is a directed or bidirectional track segment between two stations.
type Rail struct {
	Source          string      `json:"source"`
	Target          string      `json:"target"`
	DistanceKm      float64     `json:"distance_km"`
	TravelTimeMin   float64     `json:"travel_time_min"`
	Capacity        int         `json:"capacity"`
	CurrentLoad     int         `json:"current_load"`
	MinHeadwaySec   float64     `json:"min_headway_sec"`
	MaxSpeedKmh     float64     `json:"max_speed_kmh"`
	Direction       Direction   `json:"direction"`
	Reroutable      bool        `json:"reroutable"`
	PriorityAccess  bool        `json:"priority_access"`
	RiskProfile     RiskProfile `json:"risk_profile"`
	ActiveIncidents []*Incident `json:"active_incidents"`
}

// Key returns the canonical edge key "SOURCE->TARGET".
func (r *Rail) Key() string {
	return EdgeKey(r.Source, r.Target)
}

// HasBlockingIncident reports whether any active incident blocks the rail.
func (r *Rail) HasBlockingIncident() bool {
	for _, inc := range r.ActiveIncidents {
		if inc.IsBlocking {
			return true
		}
	}
	return false
}

// Connects reports whether the rail links a and b, honouring direction.
func (r *Rail) Connects(a, b string) bool {
	if r.Source == a && r.Target == b {
		return true
	}
	return r.Direction == Bidirectional && r.Source == b && r.Target == a
}

// RouteStop is one scheduled stop on a train's route.
type RouteStop struct {
	StationName            string  `json:"station_name"`
	StationOrder           int     `json:"station_order"`
	Lat                    float64 `json:"lat"`
	Lon                    float64 `json:"lon"`
	DistanceFromPreviousKm float64 `json:"distance_from_previous_km"`
}

// Train carries its own progress state; the station or rail it occupies
// holds only a back-reference (the train id) for the occupation window.
type Train struct {
	TrainID             string       `json:"train_id"`
	TrainType           TrainType    `json:"train_type"`
	Priority            int          `json:"priority"`
	Route               []RouteStop  `json:"route"`
	RouteIndex          int          `json:"route_index"`
	Status              TrainStatus  `json:"status"`
	CurrentPositionType PositionType `json:"current_position_type"`
	CurrentStation      string       `json:"current_station"`
	CurrentEdge         string       `json:"current_edge"`
	ProgressOnEdge      float64      `json:"progress_on_edge"`
	CurrentSpeedKmh     float64      `json:"current_speed_kmh"`
	DelaySeconds        int          `json:"delay_seconds"`
}

// NextStop returns the route stop after the train's current route index,
// or nil when the route is exhausted.
func (t *Train) NextStop() *RouteStop {
	if t.RouteIndex+1 >= len(t.Route) {
		return nil
	}
	return &t.Route[t.RouteIndex+1]
}

// AtFinalStop reports whether the train has reached the end of its route.
func (t *Train) AtFinalStop() bool {
	return len(t.Route) > 0 && t.RouteIndex >= len(t.Route)-1
}

// Network is the closed-schema model. Slice order is snapshot order and is
// preserved across serialisation; SetField locators index into these slices.
type Network struct {
	Trains   []*Train   `json:"trains"`
	Stations []*Station `json:"stations"`
	Rails    []*Rail    `json:"rails"`

	stationIndex map[string]*Station
	trainIndex   map[string]*Train
	railIndex    map[string]*Rail
}

// EdgeKey builds the canonical key for a directed segment.
func EdgeKey(source, target string) string {
	return source + "->" + target
}

// SplitEdgeKey is the inverse of EdgeKey. ok is false for malformed keys.
func SplitEdgeKey(key string) (source, target string, ok bool) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '-' && key[i+1] == '>' {
			return key[:i], key[i+2:], true
		}
	}
	return "", "", false
}

// buildIndex rebuilds the lookup maps from the slices. Called after load,
// deep copy, and any structural rehydration.
func (n *Network) buildIndex() {
	n.stationIndex = make(map[string]*Station, len(n.Stations))
	for _, s := range n.Stations {
		n.stationIndex[s.ID] = s
	}
	n.trainIndex = make(map[string]*Train, len(n.Trains))
	for _, t := range n.Trains {
		n.trainIndex[t.TrainID] = t
	}
	n.railIndex = make(map[string]*Rail, len(n.Rails))
	for _, r := range n.Rails {
		n.railIndex[r.Key()] = r
	}
}

// Station returns the station with the given id, or nil.
func (n *Network) Station(id string) *Station {
	return n.stationIndex[id]
}

// Train returns the train with the given id, or nil.
func (n *Network) Train(id string) *Train {
	return n.trainIndex[id]
}

// Rail returns the rail with the exact source and target, or nil.
func (n *Network) Rail(source, target string) *Rail {
	return n.railIndex[EdgeKey(source, target)]
}

// RailBetween returns the rail connecting source to target, accepting the
// reverse orientation for bidirectional segments. Returns nil when no
// segment connects the pair.
func (n *Network) RailBetween(source, target string) *Rail {
	if r := n.railIndex[EdgeKey(source, target)]; r != nil {
		return r
	}
	if r := n.railIndex[EdgeKey(target, source)]; r != nil && r.Direction == Bidirectional {
		return r
	}
	return nil
}

// RailByKey resolves an edge key produced by EdgeKey.
func (n *Network) RailByKey(key string) *Rail {
	src, dst, ok := SplitEdgeKey(key)
	if !ok {
		return nil
	}
	return n.RailBetween(src, dst)
}

// TrainsOnRail returns the ids of trains currently traversing the rail,
// in snapshot order.
func (n *Network) TrainsOnRail(r *Rail) []string {
	var ids []string
	key := r.Key()
	reverse := EdgeKey(r.Target, r.Source)
	for _, t := range n.Trains {
		if t.CurrentPositionType != PositionEdge {
			continue
		}
		if t.CurrentEdge == key || (r.Direction == Bidirectional && t.CurrentEdge == reverse) {
			ids = append(ids, t.TrainID)
		}
	}
	return ids
}

// Validate checks identity sanity: ids must be non-empty and unique.
// Rails may reference stations that carry no station record of their own
// (common in partial snapshots), so referential integrity is not enforced.
func (n *Network) Validate() error {
	seenStations := make(map[string]bool, len(n.Stations))
	for i, s := range n.Stations {
		if s.ID == "" {
			return fmt.Errorf("stations[%d]: empty id", i)
		}
		if seenStations[s.ID] {
			return fmt.Errorf("stations[%d]: duplicate id %q", i, s.ID)
		}
		seenStations[s.ID] = true
	}
	seenTrains := make(map[string]bool, len(n.Trains))
	for i, t := range n.Trains {
		if t.TrainID == "" {
			return fmt.Errorf("trains[%d]: empty train_id", i)
		}
		if seenTrains[t.TrainID] {
			return fmt.Errorf("trains[%d]: duplicate train_id %q", i, t.TrainID)
		}
		seenTrains[t.TrainID] = true
	}
	seenRails := make(map[string]bool, len(n.Rails))
	for i, r := range n.Rails {
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("rails[%d]: empty endpoint", i)
		}
		key := r.Key()
		if seenRails[key] {
			return fmt.Errorf("rails[%d]: duplicate segment %s", i, key)
		}
		seenRails[key] = true
	}
	return nil
}
