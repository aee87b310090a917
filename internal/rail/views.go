package rail

import (
	"fmt"
	"strings"
	"time"

	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/features"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/rail/sim"
	"github.com/rail-mind/railmind/internal/rail/state"
	"github.com/rail-mind/railmind/internal/rail/stats"
)

// Lookup failures for the focused views.
var (
	ErrUnknownStation = fmt.Errorf("rail: unknown station")
	ErrUnknownRegion  = fmt.Errorf("rail: unknown region")
)

// SimulationState is the full state payload: run position, the active
// fleet, and the latest tick's predictions and detections.
type SimulationState struct {
	Status         string               `json:"status"`
	Scenario       sim.Scenario         `json:"scenario"`
	SimulationTime time.Time            `json:"simulation_time"`
	TickNumber     int                  `json:"tick_number"`
	Weather        state.Weather        `json:"weather"`
	ActiveTrains   int                  `json:"active_trains"`
	Trains         []network.Train      `json:"trains"`
	Predictions    []predict.Prediction `json:"predictions"`
	Detections     []detect.Conflict    `json:"detections"`
	Statistics     Statistics           `json:"statistics"`
}

// Statistics is the roll-up block embedded in state payloads and saved
// conflict documents.
type Statistics struct {
	Fleet     stats.Fleet       `json:"fleet"`
	Detection detect.Statistics `json:"detection"`
	ModelMode string            `json:"model_mode"`
}

// State snapshots the live system.
func (s *System) State() SimulationState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := "stopped"
	if s.running {
		status = "running"
	}

	tr := s.tracker
	tr.RLock()
	defer tr.RUnlock()

	active := tr.ActiveTrains()
	return SimulationState{
		Status:         status,
		Scenario:       s.cfg.Sim.Scenario,
		SimulationTime: tr.Now(),
		TickNumber:     s.engine.TickCount(),
		Weather:        tr.Weather(),
		ActiveTrains:   len(active),
		Trains:         copyTrains(active),
		Predictions:    copyPredictions(s.last.Predictions),
		Detections:     copyConflicts(s.last.Conflicts),
		Statistics:     s.statisticsLocked(active),
	}
}

// statisticsLocked builds the roll-up block. Caller holds s.mu and the
// tracker read lock.
func (s *System) statisticsLocked(active []*network.Train) Statistics {
	return Statistics{
		Fleet:     stats.CollectFleet(active),
		Detection: s.detector.Stats(),
		ModelMode: s.predictor.Mode(),
	}
}

// Stations lists every station with its live occupancy, in snapshot
// order.
func (s *System) Stations() []network.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr := s.tracker
	tr.RLock()
	defer tr.RUnlock()

	stations := tr.Network().Stations
	out := make([]network.Station, 0, len(stations))
	for _, st := range stations {
		out = append(out, *st)
	}
	return out
}

// StationOutlook is the on-demand risk view for one station: current
// occupancy plus a fresh prediction for every train attached to it.
type StationOutlook struct {
	Station     string               `json:"station"`
	Region      string               `json:"region"`
	Occupancy   int                  `json:"occupancy"`
	Capacity    int                  `json:"capacity"`
	GeneratedAt time.Time            `json:"generated_at"`
	Predictions []predict.Prediction `json:"predictions"`
}

// StationOutlook scores every active train whose prediction attaches to
// the station, regardless of trigger state.
func (s *System) StationOutlook(id string) (StationOutlook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr := s.tracker
	tr.RLock()
	defer tr.RUnlock()

	st := tr.Network().Station(id)
	if st == nil {
		return StationOutlook{}, fmt.Errorf("%w: %q", ErrUnknownStation, id)
	}
	out := StationOutlook{
		Station:     st.ID,
		Region:      st.Region,
		Occupancy:   len(st.CurrentTrains),
		Capacity:    st.MaxTrainsAtOnce,
		GeneratedAt: tr.Now(),
		Predictions: []predict.Prediction{},
	}
	for _, t := range tr.ActiveTrains() {
		if features.RelevantStation(t) != st.ID {
			continue
		}
		out.Predictions = append(out.Predictions, s.predictor.Predict(tr, t))
	}
	return out, nil
}

// RegionView groups everything happening in one region: its stations,
// the trains at or heading to them, and the latest predictions and
// detections touching them.
type RegionView struct {
	Region      string               `json:"region"`
	Stations    []network.Station    `json:"stations"`
	Trains      []network.Train      `json:"trains"`
	Predictions []predict.Prediction `json:"predictions"`
	Detections  []detect.Conflict    `json:"detections"`
}

// Region builds the view for a region name, case-insensitively. A region
// with no member stations is unknown.
func (s *System) Region(name string) (RegionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr := s.tracker
	tr.RLock()
	defer tr.RUnlock()

	view := RegionView{
		Region:      name,
		Stations:    []network.Station{},
		Trains:      []network.Train{},
		Predictions: []predict.Prediction{},
		Detections:  []detect.Conflict{},
	}
	members := make(map[string]bool)
	for _, st := range tr.Network().Stations {
		if !strings.EqualFold(st.Region, name) {
			continue
		}
		members[st.ID] = true
		view.Stations = append(view.Stations, *st)
	}
	if len(members) == 0 {
		return RegionView{}, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
	}

	for _, t := range tr.ActiveTrains() {
		if members[t.CurrentStation] || members[features.RelevantStation(t)] {
			view.Trains = append(view.Trains, *t)
		}
	}
	for _, p := range s.last.Predictions {
		if members[p.PredictedLocation] {
			view.Predictions = append(view.Predictions, p)
		}
	}
	for _, c := range s.last.Conflicts {
		if conflictTouches(c, members) {
			view.Detections = append(view.Detections, c)
		}
	}
	return view, nil
}

// conflictTouches reports whether the conflict's location is a member
// station or an edge with a member endpoint.
func conflictTouches(c detect.Conflict, members map[string]bool) bool {
	if members[c.Location] {
		return true
	}
	if c.LocationType == detect.LocationEdge {
		if src, dst, ok := network.SplitEdgeKey(c.Location); ok {
			return members[src] || members[dst]
		}
	}
	return false
}

// copyTrains dereferences live train pointers into stable values. Route
// slices stay shared; stops are immutable after load.
func copyTrains(trains []*network.Train) []network.Train {
	out := make([]network.Train, 0, len(trains))
	for _, t := range trains {
		out = append(out, *t)
	}
	return out
}

func copyPredictions(preds []predict.Prediction) []predict.Prediction {
	out := make([]predict.Prediction, 0, len(preds))
	return append(out, preds...)
}

func copyConflicts(conflicts []detect.Conflict) []detect.Conflict {
	out := make([]detect.Conflict, 0, len(conflicts))
	return append(out, conflicts...)
}
