// Package state maintains the live operational state of a rail network:
// per-train position, speed and delay, station occupancy, edge load, weather
// and edge entry history. The tracker is a consistent store; it never
// evaluates rules. The tick engine is its single writer, and all read
// consumers observe it through the same lock.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/rail-mind/railmind/internal/rail/network"
)

// Weather is the network-wide condition affecting speed and incidents.
type Weather string

const (
	WeatherClear Weather = "clear"
	WeatherRain  Weather = "rain"
	WeatherSnow  Weather = "snow"
	WeatherFog   Weather = "fog"
	WeatherStorm Weather = "storm"
)

// AllWeather lists conditions in the order the simulator draws from.
var AllWeather = []Weather{WeatherClear, WeatherRain, WeatherSnow, WeatherFog, WeatherStorm}

// SpeedFactor returns the multiplicative effect of the condition on
// effective train speed.
func (w Weather) SpeedFactor() float64 {
	switch w {
	case WeatherSnow, WeatherStorm, WeatherFog:
		return 0.8
	case WeatherRain:
		return 0.95
	}
	return 1.0
}

// EdgeEntry records one train entering a directed segment. The detection
// engine compares consecutive entries against the segment's minimum
// headway.
type EdgeEntry struct {
	TrainID string    `json:"train_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

// entryRetention bounds how long edge entries are kept, in simulated time.
const entryRetention = time.Hour

// Tracker is the mutable live state over a network model.
type Tracker struct {
	mu          sync.RWMutex
	net         *network.Network
	now         time.Time
	weather     Weather
	edgeEntries map[string][]EdgeEntry
}

// NewTracker wraps a loaded network model. Initial weather is clear and the
// clock starts at the zero time until the engine calls UpdateTime.
func NewTracker(net *network.Network) *Tracker {
	return &Tracker{
		net:         net,
		weather:     WeatherClear,
		edgeEntries: make(map[string][]EdgeEntry),
	}
}

// Network returns the underlying model. Callers that hold no tick
// coordination must treat it as read-only.
func (tr *Tracker) Network() *network.Network {
	return tr.net
}

// ReplaceNetwork swaps in a patched model between ticks. Live bookkeeping
// (edge entries) is retained; position state lives on the model itself.
func (tr *Tracker) ReplaceNetwork(net *network.Network) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.net = net
}

// Lock acquires the writer lock for a tick window.
func (tr *Tracker) Lock() { tr.mu.Lock() }

// Unlock releases the writer lock.
func (tr *Tracker) Unlock() { tr.mu.Unlock() }

// RLock acquires a reader lock for a stable post-tick view.
func (tr *Tracker) RLock() { tr.mu.RLock() }

// RUnlock releases the reader lock.
func (tr *Tracker) RUnlock() { tr.mu.RUnlock() }

// The operations below do not lock. The tick engine holds the writer lock
// for the whole tick window and calls them freely; read consumers take
// RLock around any sequence of reads.

// UpdateTime advances the simulated clock and prunes stale edge entries.
func (tr *Tracker) UpdateTime(t time.Time) {
	tr.now = t
	cutoff := t.Add(-entryRetention)
	for key, entries := range tr.edgeEntries {
		kept := entries[:0]
		for _, e := range entries {
			if e.At.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(tr.edgeEntries, key)
			continue
		}
		tr.edgeEntries[key] = kept
	}
}

// Now returns the current simulated time.
func (tr *Tracker) Now() time.Time {
	return tr.now
}

// UpdateWeather sets the network-wide condition.
func (tr *Tracker) UpdateWeather(w Weather) {
	tr.weather = w
}

// Weather returns the current condition.
func (tr *Tracker) Weather() Weather {
	return tr.weather
}

// TrainArrivesAtStation appends the train to the station's occupants and
// clears its edge fields. The back-reference lives exactly as long as the
// occupation.
func (tr *Tracker) TrainArrivesAtStation(trainID, stationID string) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	st := tr.net.Station(stationID)
	if st == nil {
		return fmt.Errorf("unknown station %q", stationID)
	}
	occupied := false
	for _, id := range st.CurrentTrains {
		if id == trainID {
			occupied = true
			break
		}
	}
	if !occupied {
		st.CurrentTrains = append(st.CurrentTrains, trainID)
	}
	t.CurrentStation = stationID
	t.CurrentPositionType = network.PositionStation
	t.CurrentEdge = ""
	t.ProgressOnEdge = 0
	t.CurrentSpeedKmh = 0
	return nil
}

// TrainDepartsStation moves the train from its current station onto the
// segment toward target: the station occupancy entry is removed, the
// segment load is incremented, and an edge entry is recorded for headway
// accounting.
func (tr *Tracker) TrainDepartsStation(trainID, target string) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	if t.CurrentPositionType != network.PositionStation || t.CurrentStation == "" {
		return fmt.Errorf("train %q is not at a station", trainID)
	}
	from := t.CurrentStation
	rail := tr.net.RailBetween(from, target)
	if rail == nil {
		return fmt.Errorf("no segment from %q to %q", from, target)
	}
	if st := tr.net.Station(from); st != nil {
		st.CurrentTrains = removeID(st.CurrentTrains, trainID)
	}
	rail.CurrentLoad++
	t.CurrentStation = ""
	t.CurrentPositionType = network.PositionEdge
	t.CurrentEdge = network.EdgeKey(from, target)
	t.ProgressOnEdge = 0

	key := rail.Key()
	tr.edgeEntries[key] = append(tr.edgeEntries[key], EdgeEntry{
		TrainID: trainID,
		From:    from,
		To:      target,
		At:      tr.now,
	})
	return nil
}

// TrainExitsEdge releases the train's segment: the load is decremented and
// the train's edge fields are cleared. The caller follows up with an
// arrival to fix the new position.
func (tr *Tracker) TrainExitsEdge(trainID string) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	if t.CurrentPositionType != network.PositionEdge || t.CurrentEdge == "" {
		return fmt.Errorf("train %q is not on an edge", trainID)
	}
	if rail := tr.net.RailByKey(t.CurrentEdge); rail != nil && rail.CurrentLoad > 0 {
		rail.CurrentLoad--
	}
	t.CurrentEdge = ""
	t.ProgressOnEdge = 0
	t.CurrentPositionType = network.PositionUnknown
	return nil
}

// UpdateTrainPositionOnEdge sets the train's fractional progress, clamped
// to [0, 1].
func (tr *Tracker) UpdateTrainPositionOnEdge(trainID string, progress float64) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	t.ProgressOnEdge = progress
	return nil
}

// UpdateTrainSpeed sets the train's current speed in km/h.
func (tr *Tracker) UpdateTrainSpeed(trainID string, kmh float64) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	if kmh < 0 {
		kmh = 0
	}
	t.CurrentSpeedKmh = kmh
	return nil
}

// UpdateTrainDelay sets the train's accumulated delay and keeps the status
// consistent with it: a positive delay marks an on-time train delayed, and
// a cleared delay restores on_time. Holding and stopped are preserved.
func (tr *Tracker) UpdateTrainDelay(trainID string, seconds int) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	if seconds < 0 {
		seconds = 0
	}
	t.DelaySeconds = seconds
	switch t.Status {
	case network.StatusOnTime:
		if seconds > 0 {
			t.Status = network.StatusDelayed
		}
	case network.StatusDelayed:
		if seconds == 0 {
			t.Status = network.StatusOnTime
		}
	}
	return nil
}

// SetTrainHolding marks or releases a hold. Releasing restores delayed or
// on_time depending on the remaining delay.
func (tr *Tracker) SetTrainHolding(trainID string, holding bool) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	if holding {
		t.Status = network.StatusHolding
		return nil
	}
	if t.Status == network.StatusHolding {
		if t.DelaySeconds > 0 {
			t.Status = network.StatusDelayed
		} else {
			t.Status = network.StatusOnTime
		}
	}
	return nil
}

// SetTrainStatus assigns a status directly. The engine uses this for
// activation, completion and delay transitions it owns.
func (tr *Tracker) SetTrainStatus(trainID string, s network.TrainStatus) error {
	t := tr.net.Train(trainID)
	if t == nil {
		return fmt.Errorf("unknown train %q", trainID)
	}
	t.Status = s
	return nil
}

// RemoveTrainFromStation drops the occupancy back-reference when a train
// completes its route and leaves the network.
func (tr *Tracker) RemoveTrainFromStation(trainID, stationID string) {
	if st := tr.net.Station(stationID); st != nil {
		st.CurrentTrains = removeID(st.CurrentTrains, trainID)
	}
	if t := tr.net.Train(trainID); t != nil {
		t.CurrentStation = ""
		t.CurrentPositionType = network.PositionUnknown
	}
}

// GetEdge resolves the segment between two stations, honouring direction.
func (tr *Tracker) GetEdge(source, target string) *network.Rail {
	return tr.net.RailBetween(source, target)
}

// EdgeEntries returns the retained entries for a segment, oldest first.
func (tr *Tracker) EdgeEntries(source, target string) []EdgeEntry {
	rail := tr.net.RailBetween(source, target)
	if rail == nil {
		return nil
	}
	entries := tr.edgeEntries[rail.Key()]
	out := make([]EdgeEntry, len(entries))
	copy(out, entries)
	return out
}

// ActiveTrains returns trains currently placed on the network (at a station
// or on an edge), in snapshot order.
func (tr *Tracker) ActiveTrains() []*network.Train {
	var active []*network.Train
	for _, t := range tr.net.Trains {
		if t.CurrentPositionType == network.PositionStation || t.CurrentPositionType == network.PositionEdge {
			active = append(active, t)
		}
	}
	return active
}

// ActiveTrainCount reports how many trains are placed on the network.
func (tr *Tracker) ActiveTrainCount() int {
	return len(tr.ActiveTrains())
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
