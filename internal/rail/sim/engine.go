package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/state"
	"github.com/rail-mind/railmind/internal/units"
)

// speedReportThresholdKmh is the minimum delta for a speed transition to
// appear in the change record. Keeps the record readable under normal
// jitter; a drop to zero on a blocked segment is always reported.
const speedReportThresholdKmh = 5.0

// minEffectiveSpeedKmh is the floor for a moving train; the segment limit
// caps the other end.
const minEffectiveSpeedKmh = 20.0

// Engine advances the tracker one tick at a time. All randomness flows
// through a single seeded source, so a fixed (snapshot, scenario, seed)
// triple replays the same sequence of change records.
type Engine struct {
	cfg     Config
	tracker *state.Tracker
	rng     *rand.Rand
	tick    int
}

// NewEngine builds an engine over the tracker. The tracker's clock is set
// to the configured start time.
func NewEngine(tracker *state.Tracker, cfg Config) (*Engine, error) {
	if !cfg.Scenario.Valid() {
		return nil, fmt.Errorf("unknown scenario %q", cfg.Scenario)
	}
	if cfg.TickIntervalSeconds <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %d", cfg.TickIntervalSeconds)
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = defaultStartTime
	}
	e := &Engine{
		cfg:     cfg,
		tracker: tracker,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	tracker.Lock()
	tracker.UpdateTime(cfg.StartTime)
	tracker.Unlock()
	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Tracker returns the state the engine drives.
func (e *Engine) Tracker() *state.Tracker { return e.tracker }

// TickCount returns how many ticks have completed.
func (e *Engine) TickCount() int { return e.tick }

// Start places the scenario's initial complement of roster trains at the
// first stop of their routes, in roster order, with on-time status.
// Returns the number of trains activated.
func (e *Engine) Start() int {
	e.tracker.Lock()
	defer e.tracker.Unlock()

	want := e.cfg.Scenario.InitialTrainCount()
	if want > e.cfg.MaxActiveTrains {
		want = e.cfg.MaxActiveTrains
	}
	activated := 0
	for _, t := range e.tracker.Network().Trains {
		if activated >= want {
			break
		}
		if t.CurrentPositionType != network.PositionUnknown || len(t.Route) == 0 {
			continue
		}
		if e.activateTrain(t) {
			activated++
		}
	}
	return activated
}

// activateTrain places an inactive roster train at its route's first stop.
// Caller holds the tracker writer lock.
func (e *Engine) activateTrain(t *network.Train) bool {
	if len(t.Route) == 0 {
		return false
	}
	first := t.Route[0].StationName
	if e.tracker.Network().Station(first) == nil {
		return false
	}
	t.RouteIndex = 0
	t.DelaySeconds = 0
	t.ProgressOnEdge = 0
	if err := e.tracker.TrainArrivesAtStation(t.TrainID, first); err != nil {
		return false
	}
	t.Status = network.StatusOnTime
	return true
}

// Tick advances the simulation by one interval and returns the change
// record. The seven phases run in a fixed order under the tracker's
// writer lock: clock, weather, incident resolution, incident spawn,
// per-train movement, delay injection, train spawn.
func (e *Engine) Tick() *ChangeRecord {
	e.tracker.Lock()
	defer e.tracker.Unlock()

	e.tick++
	now := e.tracker.Now().Add(e.cfg.TickInterval())
	e.tracker.UpdateTime(now)

	incidentProb := e.stepWeather()
	rec := newChangeRecord(e.tick, now, e.tracker.Weather())

	e.stepResolveIncidents(rec)
	e.stepSpawnIncident(rec, incidentProb)
	e.stepTrains(rec)
	e.stepInjectDelay(rec)
	e.stepSpawnTrain(rec)

	rec.ActiveTrains = e.tracker.ActiveTrainCount()
	return rec
}

// RunTicks advances the simulation n ticks and returns the records.
func (e *Engine) RunTicks(n int) []*ChangeRecord {
	records := make([]*ChangeRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, e.Tick())
	}
	return records
}

// stepWeather rolls the per-tick weather change and returns the effective
// incident probability for this tick. Snow and storm raise the scenario
// baseline by half; any other condition leaves it at the baseline.
func (e *Engine) stepWeather() float64 {
	if e.rng.Float64() < 0.05 {
		next := state.AllWeather[e.rng.Intn(len(state.AllWeather))]
		e.tracker.UpdateWeather(next)
	}
	switch e.tracker.Weather() {
	case state.WeatherSnow, state.WeatherStorm:
		return e.cfg.IncidentProbability * 1.5
	}
	return e.cfg.IncidentProbability
}

// stepResolveIncidents ages every active incident and resolves it with
// probability 0.05 + 0.01 per tick of age. Stations are visited before
// rails, both in snapshot order, so the draw sequence is stable.
func (e *Engine) stepResolveIncidents(rec *ChangeRecord) {
	net := e.tracker.Network()
	for _, st := range net.Stations {
		st.ActiveIncidents = e.resolveIncidents(rec, st.ActiveIncidents, st.ID)
	}
	for _, r := range net.Rails {
		r.ActiveIncidents = e.resolveIncidents(rec, r.ActiveIncidents, r.Key())
	}
}

func (e *Engine) resolveIncidents(rec *ChangeRecord, incidents []*network.Incident, location string) []*network.Incident {
	if len(incidents) == 0 {
		return incidents
	}
	now := e.tracker.Now()
	interval := e.cfg.TickInterval()
	kept := incidents[:0]
	for _, inc := range incidents {
		age := 0
		if !inc.StartTime.IsZero() && now.After(inc.StartTime) {
			age = int(now.Sub(inc.StartTime) / interval)
		}
		p := 0.05 + 0.01*float64(age)
		if e.rng.Float64() < p {
			rec.IncidentsResolved = append(rec.IncidentsResolved, IncidentChange{
				ID:       inc.IncidentID,
				Type:     string(inc.Type),
				Location: location,
			})
			continue
		}
		kept = append(kept, inc)
	}
	return kept
}

// stepSpawnIncident rolls a single incident spawn. Location is a random
// rail (70%) or station (30%); severity is uniform in [20, 95] and the
// incident blocks traffic above severity 70.
func (e *Engine) stepSpawnIncident(rec *ChangeRecord, prob float64) {
	if e.rng.Float64() >= prob {
		return
	}
	net := e.tracker.Network()
	if len(net.Rails) == 0 && len(net.Stations) == 0 {
		return
	}

	onRail := e.rng.Float64() < 0.7
	if onRail && len(net.Rails) == 0 {
		onRail = false
	}
	if !onRail && len(net.Stations) == 0 {
		onRail = true
	}

	severity := 20 + e.rng.Intn(76)
	suffix := 100 + e.rng.Intn(900)
	incType := network.IncidentTypes[e.rng.Intn(len(network.IncidentTypes))]

	var location string
	inc := &network.Incident{
		IncidentID: fmt.Sprintf("INC_%d_%d", e.tick, suffix),
		Type:       incType,
		Severity:   float64(severity),
		StartTime:  e.tracker.Now(),
		IsBlocking: severity > 70,
	}
	if onRail {
		r := net.Rails[e.rng.Intn(len(net.Rails))]
		location = r.Key()
		inc.Description = fmt.Sprintf("%s incident on %s (severity %d)", incType, location, severity)
		r.ActiveIncidents = append(r.ActiveIncidents, inc)
	} else {
		st := net.Stations[e.rng.Intn(len(net.Stations))]
		location = st.ID
		inc.Description = fmt.Sprintf("%s incident at %s (severity %d)", incType, location, severity)
		st.ActiveIncidents = append(st.ActiveIncidents, inc)
	}

	rec.IncidentsStarted = append(rec.IncidentsStarted, IncidentChange{
		ID:       inc.IncidentID,
		Type:     string(inc.Type),
		Location: location,
		Severity: severity,
		Blocking: inc.IsBlocking,
	})
}

// stepTrains runs the per-train movement phase over active trains in
// roster order. Trains at a station may depart; trains on a segment move
// or sit frozen behind a blocking incident.
func (e *Engine) stepTrains(rec *ChangeRecord) {
	for _, t := range e.tracker.ActiveTrains() {
		switch t.CurrentPositionType {
		case network.PositionStation:
			e.maybeDepart(rec, t)
		case network.PositionEdge:
			e.moveOnEdge(rec, t)
		}
	}
}

// maybeDepart rolls a departure for a train standing at a station. A train
// is eligible only when its route continues and the next segment carries
// no blocking incident; held trains stay put.
func (e *Engine) maybeDepart(rec *ChangeRecord, t *network.Train) {
	if t.Status == network.StatusHolding {
		return
	}
	next := t.NextStop()
	if next == nil {
		return
	}
	rail := e.tracker.GetEdge(t.CurrentStation, next.StationName)
	if rail == nil || rail.HasBlockingIncident() {
		return
	}
	p := 0.3 + 0.3*e.cfg.TrainSpawnRate + 0.05*float64(t.Priority)
	if e.rng.Float64() >= p {
		return
	}
	from := t.CurrentStation
	if err := e.tracker.TrainDepartsStation(t.TrainID, next.StationName); err != nil {
		return
	}
	rec.Departures = append(rec.Departures, Departure{Train: t.TrainID, From: from, To: next.StationName})
}

// moveOnEdge advances a train along its segment. A blocking incident on
// the segment freezes the train at its current progress with zero speed.
func (e *Engine) moveOnEdge(rec *ChangeRecord, t *network.Train) {
	rail := e.tracker.Network().RailByKey(t.CurrentEdge)
	if rail == nil {
		return
	}
	prev := t.CurrentSpeedKmh
	if rail.HasBlockingIncident() {
		if prev > 0 {
			rec.SpeedChanges = append(rec.SpeedChanges, SpeedChange{Train: t.TrainID, From: prev, To: 0})
		}
		_ = e.tracker.UpdateTrainSpeed(t.TrainID, 0)
		return
	}

	variation := 1 + (e.rng.Float64()*2-1)*e.cfg.SpeedVariation
	delayFactor := 1 - units.SecondsToHours(float64(t.DelaySeconds))
	speed := rail.MaxSpeedKmh * variation * e.tracker.Weather().SpeedFactor() * delayFactor
	speed = math.Max(speed, minEffectiveSpeedKmh)
	speed = math.Min(speed, rail.MaxSpeedKmh)

	_ = e.tracker.UpdateTrainSpeed(t.TrainID, speed)
	if math.Abs(speed-prev) > speedReportThresholdKmh {
		rec.SpeedChanges = append(rec.SpeedChanges, SpeedChange{Train: t.TrainID, From: prev, To: speed})
	}

	travelSec := units.MinutesToSeconds(rail.TravelTimeMin)
	if travelSec <= 0 {
		travelSec = float64(e.cfg.TickIntervalSeconds)
	}
	progress := t.ProgressOnEdge + float64(e.cfg.TickIntervalSeconds)/travelSec
	if progress < 1 {
		_ = e.tracker.UpdateTrainPositionOnEdge(t.TrainID, progress)
		return
	}
	e.arrive(rec, t)
}

// arrive completes a segment traversal: the train exits the edge, joins
// the next stop's occupants and advances its route index. Reaching the
// final stop retires the train from active service.
func (e *Engine) arrive(rec *ChangeRecord, t *network.Train) {
	next := t.NextStop()
	if next == nil {
		return
	}
	if err := e.tracker.TrainExitsEdge(t.TrainID); err != nil {
		return
	}
	if err := e.tracker.TrainArrivesAtStation(t.TrainID, next.StationName); err != nil {
		// The stop carries no station record, so the train leaves the
		// modelled network here.
		rec.Arrivals = append(rec.Arrivals, Arrival{Train: t.TrainID, Station: next.StationName, Completed: true})
		_ = e.tracker.SetTrainStatus(t.TrainID, network.StatusStopped)
		return
	}
	t.RouteIndex++

	if t.AtFinalStop() {
		e.tracker.RemoveTrainFromStation(t.TrainID, next.StationName)
		_ = e.tracker.SetTrainStatus(t.TrainID, network.StatusStopped)
		rec.Arrivals = append(rec.Arrivals, Arrival{Train: t.TrainID, Station: next.StationName, Completed: true})
		return
	}
	rec.Arrivals = append(rec.Arrivals, Arrival{Train: t.TrainID, Station: next.StationName})
}

// stepInjectDelay rolls a single delay injection across the active fleet:
// one train picked uniformly gains between 30 seconds and a third of the
// scenario ceiling, clamped so its total never exceeds the ceiling. A
// delayed train standing at a station may additionally be held.
func (e *Engine) stepInjectDelay(rec *ChangeRecord) {
	if e.rng.Float64() >= e.cfg.DelayProbability {
		return
	}
	active := e.tracker.ActiveTrains()
	if len(active) == 0 {
		return
	}
	t := active[e.rng.Intn(len(active))]

	hi := e.cfg.MaxDelaySeconds / 3
	if hi < 30 {
		hi = 30
	}
	added := 30 + e.rng.Intn(hi-30+1)
	total := t.DelaySeconds + added
	if total > e.cfg.MaxDelaySeconds {
		total = e.cfg.MaxDelaySeconds
		added = total - t.DelaySeconds
	}
	if added <= 0 {
		return
	}
	_ = e.tracker.UpdateTrainDelay(t.TrainID, total)

	holding := false
	if t.CurrentPositionType == network.PositionStation && total > 180 {
		if e.rng.Float64() < 0.3 {
			holding = true
			_ = e.tracker.SetTrainHolding(t.TrainID, true)
		}
	}
	rec.DelaysAdded = append(rec.DelaysAdded, DelayAdded{Train: t.TrainID, Seconds: added, Total: total, Holding: holding})
}

// stepSpawnTrain rolls a roster activation when the active fleet is below
// the scenario cap. Completed trains return to the inactive pool and may
// re-enter here with a fresh route cycle.
func (e *Engine) stepSpawnTrain(rec *ChangeRecord) {
	if e.tracker.ActiveTrainCount() >= e.cfg.MaxActiveTrains {
		return
	}
	if e.rng.Float64() >= 0.2*e.cfg.TrainSpawnRate {
		return
	}
	var inactive []*network.Train
	for _, t := range e.tracker.Network().Trains {
		if t.CurrentPositionType == network.PositionUnknown && len(t.Route) > 0 {
			inactive = append(inactive, t)
		}
	}
	if len(inactive) == 0 {
		return
	}
	t := inactive[e.rng.Intn(len(inactive))]
	if e.activateTrain(t) {
		rec.TrainsSpawned = append(rec.TrainsSpawned, t.TrainID)
	}
}

// SimTime returns the tracker's current simulated time.
func (e *Engine) SimTime() time.Time {
	e.tracker.RLock()
	defer e.tracker.RUnlock()
	return e.tracker.Now()
}
