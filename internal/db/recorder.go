package db

import (
	"context"

	"github.com/rail-mind/railmind/internal/monitoring"
	"github.com/rail-mind/railmind/internal/rail"
)

// Recorder persists tick reports off the tick path. OnTick enqueues
// without blocking and a background goroutine writes the rows, so a
// slow disk never stalls the tick engine. Reports that arrive while
// the queue is full are dropped with a log line.
type Recorder struct {
	db       *DB
	scenario func() string
	queue    chan rail.TickReport
	stop     chan struct{}
	done     chan struct{}
}

// NewRecorder builds a recorder over the store. The scenario callback
// supplies the batch label at persist time; it changes when the
// simulation restarts under a different scenario.
func NewRecorder(database *DB, scenario func() string) *Recorder {
	return &Recorder{
		db:       database,
		scenario: scenario,
		queue:    make(chan rail.TickReport, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the persist loop in a goroutine.
func (r *Recorder) Start() {
	go r.run()
}

// Stop drains the queued reports and waits for the loop to exit.
func (r *Recorder) Stop() {
	close(r.stop)
	<-r.done
}

// OnTick implements rail.Listener.
func (r *Recorder) OnTick(rep rail.TickReport) {
	select {
	case r.queue <- rep:
	default:
		tick := 0
		if rep.Change != nil {
			tick = rep.Change.Tick
		}
		monitoring.Logf("[db] recorder queue full, dropping tick %d", tick)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case rep := <-r.queue:
			r.persist(rep)
		case <-r.stop:
			for {
				select {
				case rep := <-r.queue:
					r.persist(rep)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(rep rail.TickReport) {
	if rep.Change == nil {
		return
	}
	ctx := context.Background()

	rec := TickRecordFromReport(rep)
	if err := r.db.InsertTickRecord(ctx, rec); err != nil {
		monitoring.Logf("[db] persist tick %d: %v", rep.Change.Tick, err)
	}

	if len(rep.Conflicts) == 0 && len(rep.Predictions) == 0 {
		return
	}
	batch := &ConflictBatch{
		Tick:    rep.Change.Tick,
		SimTime: rep.Change.Time,
	}
	if r.scenario != nil {
		batch.Scenario = r.scenario()
	}
	if err := r.db.InsertConflictBatch(ctx, batch, rep.Conflicts, rep.Predictions); err != nil {
		monitoring.Logf("[db] persist batch for tick %d: %v", rep.Change.Tick, err)
	}
}

// TickRecordFromReport flattens a tick report into its stored row.
// Event counts come from the tick's change record and the fleet numbers
// from the post-tick statistics pass.
func TickRecordFromReport(rep rail.TickReport) *TickRecord {
	rec := &TickRecord{
		ConflictCount:   len(rep.Conflicts),
		PredictionCount: len(rep.Predictions),
		ActiveTrains:    rep.Fleet.ActiveTrains,
		DelayedTrains:   rep.Fleet.DelayedTrains,
		HeldTrains:      rep.Fleet.HeldTrains,
		MeanDelaySec:    rep.Fleet.DelaySeconds.Mean,
		P85DelaySec:     rep.Fleet.DelaySeconds.P85,
		MaxDelaySec:     rep.Fleet.DelaySeconds.Max,
		MeanSpeedKmh:    rep.Fleet.SpeedKmh.Mean,
	}
	if rep.Change != nil {
		rec.Tick = rep.Change.Tick
		rec.SimTime = rep.Change.Time
		rec.Weather = string(rep.Change.Weather)
		rec.Departures = len(rep.Change.Departures)
		rec.Arrivals = len(rep.Change.Arrivals)
		rec.DelaysInjected = len(rep.Change.DelaysAdded)
		rec.SpeedChanges = len(rep.Change.SpeedChanges)
		rec.TrainsSpawned = len(rep.Change.TrainsSpawned)
	}
	return rec
}
