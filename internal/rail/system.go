// Package rail composes the network model, live state, simulation,
// detection and prediction engines into one controllable system. The HTTP
// API and the offline runner share this surface: start a scenario,
// advance ticks, inspect state, focus on a station or region, and save
// conflict documents.
package rail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rail-mind/railmind/internal/fsutil"
	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/rail/sim"
	"github.com/rail-mind/railmind/internal/rail/state"
	"github.com/rail-mind/railmind/internal/rail/stats"
	"github.com/rail-mind/railmind/internal/timeutil"
)

// DefaultSaveDir receives conflict documents when no directory is
// configured.
const DefaultSaveDir = "conflict_results"

// Config assembles a system. Snapshot is required; everything else has a
// working default.
type Config struct {
	// Snapshot is the raw network snapshot JSON. The system boots from it
	// and every StartSimulation resets back to it.
	Snapshot []byte

	Sim     sim.Config
	Predict predict.Config

	// ModelPath optionally names a trained classifier artifact. A missing
	// or invalid artifact logs a warning and leaves the predictor in
	// heuristic mode.
	ModelPath string

	// SaveDir receives saved conflict documents.
	SaveDir string

	FS    fsutil.FileSystem
	Clock timeutil.Clock
}

// TickReport bundles everything one tick produced: the engine's change
// record, the conflicts detected on the post-tick view, the triggered
// predictions, and the fleet roll-up.
type TickReport struct {
	Change      *sim.ChangeRecord    `json:"change"`
	Conflicts   []detect.Conflict    `json:"conflicts"`
	Predictions []predict.Prediction `json:"predictions"`
	Fleet       stats.Fleet          `json:"fleet"`
}

// Listener observes completed ticks. Listeners run outside the system
// lock, after the tick's state is published.
type Listener interface {
	OnTick(TickReport)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(TickReport)

// OnTick calls f.
func (f ListenerFunc) OnTick(r TickReport) { f(r) }

// System owns the engines and serialises every run mutation behind one
// lock. Readers observe the last completed tick concurrently.
type System struct {
	mu        sync.RWMutex
	cfg       Config
	snapshot  []byte
	tracker   *state.Tracker
	engine    *sim.Engine
	detector  *detect.Engine
	predictor *predict.Predictor
	clock     timeutil.Clock
	fs        fsutil.FileSystem

	running   bool
	startedAt time.Time
	last      TickReport

	lmu       sync.Mutex
	listeners []Listener
}

// New parses the snapshot and assembles a stopped system. Call
// StartSimulation, or let the first Tick start the run implicitly.
func New(cfg Config) (*System, error) {
	if len(cfg.Snapshot) == 0 {
		return nil, errors.New("rail: no network snapshot")
	}
	if cfg.Sim.Scenario == "" {
		cfg.Sim = sim.DefaultConfig()
	}
	if cfg.Predict.Triggers == (predict.TriggerConfig{}) {
		cfg.Predict.Triggers = predict.DefaultTriggers()
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = DefaultSaveDir
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}

	var model *predict.Model
	if cfg.ModelPath != "" {
		m, err := predict.LoadModel(cfg.ModelPath)
		if err != nil {
			log.Printf("[rail] model %s unavailable, scoring heuristically: %v", cfg.ModelPath, err)
		} else {
			model = m
		}
	}

	s := &System{
		cfg:       cfg,
		snapshot:  append([]byte(nil), cfg.Snapshot...),
		detector:  detect.NewEngine(),
		predictor: predict.New(model, cfg.Predict),
		clock:     cfg.Clock,
		fs:        cfg.FS,
	}
	if err := s.rebuild(cfg.Sim); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild parses the pristine snapshot into a fresh tracker and engine.
// Caller holds s.mu, or is the constructor.
func (s *System) rebuild(cfg sim.Config) error {
	net, err := network.ParseSnapshot(s.snapshot)
	if err != nil {
		return fmt.Errorf("rail: parse snapshot: %w", err)
	}
	tracker := state.NewTracker(net)
	engine, err := sim.NewEngine(tracker, cfg)
	if err != nil {
		return fmt.Errorf("rail: build engine: %w", err)
	}
	s.tracker = tracker
	s.engine = engine
	s.cfg.Sim = cfg
	return nil
}

// StartOptions selects the scenario preset and seed for a run. Zero
// values keep the current configuration.
type StartOptions struct {
	Scenario sim.Scenario `json:"scenario,omitempty"`
	Seed     *int64       `json:"random_seed,omitempty"`
}

// StartReport describes a run that just started.
type StartReport struct {
	Scenario        sim.Scenario `json:"scenario"`
	Seed            int64        `json:"random_seed"`
	ActivatedTrains int          `json:"activated_trains"`
	StartedAt       time.Time    `json:"started_at"`
}

// StartSimulation resets to the pristine snapshot and activates the
// scenario's initial train complement. Detection counters reset with the
// run; the predictor keeps its sequence so prediction ids stay unique
// across restarts. Scenario presets replace the movement parameters but
// keep the run's cadence settings (tick interval, realtime pause, tick
// budget, start time).
func (s *System) StartSimulation(opts StartOptions) (StartReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg.Sim
	if opts.Scenario != "" && opts.Scenario != cfg.Scenario {
		if !opts.Scenario.Valid() {
			return StartReport{}, fmt.Errorf("rail: unknown scenario %q", opts.Scenario)
		}
		preset := sim.ConfigForScenario(opts.Scenario)
		preset.Seed = cfg.Seed
		preset.TickIntervalSeconds = cfg.TickIntervalSeconds
		preset.TickRealSeconds = cfg.TickRealSeconds
		preset.MaxTicks = cfg.MaxTicks
		preset.StartTime = cfg.StartTime
		cfg = preset
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}

	if err := s.rebuild(cfg); err != nil {
		return StartReport{}, err
	}
	s.detector = detect.NewEngine()
	s.last = TickReport{}
	activated := s.engine.Start()
	s.running = true
	s.startedAt = s.clock.Now().UTC()
	log.Printf("[rail] simulation started: scenario=%s seed=%d trains=%d",
		cfg.Scenario, cfg.Seed, activated)

	return StartReport{
		Scenario:        cfg.Scenario,
		Seed:            cfg.Seed,
		ActivatedTrains: activated,
		StartedAt:       s.startedAt,
	}, nil
}

// Tick advances the simulation one interval, then runs detection and
// triggered prediction on the post-tick view. A stopped system starts
// itself with the current configuration first.
func (s *System) Tick() TickReport {
	s.mu.Lock()
	report := s.tickLocked()
	s.mu.Unlock()

	s.notify(report)
	return report
}

func (s *System) tickLocked() TickReport {
	if !s.running {
		activated := s.engine.Start()
		s.running = true
		s.startedAt = s.clock.Now().UTC()
		log.Printf("[rail] implicit start: %d trains activated", activated)
	}

	rec := s.engine.Tick()

	tr := s.tracker
	tr.RLock()
	conflicts := s.detector.Evaluate(tr, rec.Tick)
	preds := s.predictor.PredictTriggered(tr)
	fleet := stats.CollectFleet(tr.ActiveTrains())
	tr.RUnlock()

	report := TickReport{
		Change:      rec,
		Conflicts:   conflicts,
		Predictions: preds,
		Fleet:       fleet,
	}
	s.last = report
	return report
}

// Advance runs n consecutive ticks and returns their reports.
func (s *System) Advance(n int) []TickReport {
	reports := make([]TickReport, 0, n)
	for i := 0; i < n; i++ {
		reports = append(reports, s.Tick())
	}
	return reports
}

// Run advances the simulation on a wall-clock cadence until the context
// is cancelled or the configured tick budget is exhausted. The engine's
// pacing loop drives full system ticks, so detection and prediction run
// on every paced tick. Cadence parameters are fixed when the loop starts.
func (s *System) Run(ctx context.Context) error {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	return engine.RunRealtime(ctx, s.clock, func() *sim.ChangeRecord {
		return s.Tick().Change
	}, nil)
}

// ApplyContext swaps a patched network document into the live run between
// ticks. The document is validated like any boot snapshot; the next tick
// moves trains over the updated model. StartSimulation still resets to the
// boot snapshot, so an applied patch lasts for the current run only.
func (s *System) ApplyContext(raw []byte) error {
	net, err := network.ParseSnapshot(raw)
	if err != nil {
		return fmt.Errorf("rail: parse patched context: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.ReplaceNetwork(net)
	log.Printf("[rail] patched context applied: %d stations, %d rails, %d trains",
		len(net.Stations), len(net.Rails), len(net.Trains))
	return nil
}

// AddListener registers an observer for every completed tick.
func (s *System) AddListener(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

// AddConflictEmitter attaches an emitter to the detection engine. The
// emitter survives restarts only if re-added; prefer AddListener for
// run-spanning observers.
func (s *System) AddConflictEmitter(em detect.Emitter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.detector.AddEmitter(em)
}

func (s *System) notify(report TickReport) {
	s.lmu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.lmu.Unlock()
	for _, l := range ls {
		l.OnTick(report)
	}
}

// Running reports whether a run is active.
func (s *System) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// TickCount reports completed ticks for the current run.
func (s *System) TickCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.TickCount()
}

// LastReport returns the most recent tick's report. The zero report means
// no tick has completed yet.
func (s *System) LastReport() TickReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// SimConfig returns the active simulation configuration.
func (s *System) SimConfig() sim.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Sim
}

// Predictor exposes the scoring component for the model inspection
// endpoints. The predictor is safe for concurrent use.
func (s *System) Predictor() *predict.Predictor {
	return s.predictor
}

// DetectionStats returns the cumulative detection counters for this run.
func (s *System) DetectionStats() detect.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detector.Stats()
}
