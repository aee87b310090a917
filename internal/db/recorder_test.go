package db

import (
	"context"
	"testing"

	"github.com/rail-mind/railmind/internal/monitoring"
	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/rail/sim"
	"github.com/rail-mind/railmind/internal/rail/state"
	"github.com/rail-mind/railmind/internal/rail/stats"
)

func testReport(tick int, conflicts []detect.Conflict, predictions []predict.Prediction) rail.TickReport {
	return rail.TickReport{
		Change: &sim.ChangeRecord{
			Tick:    tick,
			Time:    testSimTime,
			Weather: state.WeatherRain,
		},
		Conflicts:   conflicts,
		Predictions: predictions,
		Fleet: stats.Fleet{
			ActiveTrains:  3,
			DelayedTrains: 1,
			DelaySeconds:  stats.Summary{Count: 1, Mean: 300, Max: 300, P85: 300},
			SpeedKmh:      stats.Summary{Count: 2, Mean: 120},
		},
	}
}

// TestRecorderPersistsReports verifies enqueued reports land in the store
func TestRecorderPersistsReports(t *testing.T) {
	db := newTestDB(t)

	recorder := NewRecorder(db, func() string { return "rush_hour" })
	recorder.Start()

	rep := testReport(1,
		[]detect.Conflict{testConflict("CONF_0001", detect.TypeStationOvercapacity, detect.SeverityCritical)},
		[]predict.Prediction{testPrediction("PRED_1", "REG_101", 0.7)},
	)
	recorder.OnTick(rep)
	recorder.Stop()

	ctx := context.Background()

	records, err := db.RecentTickRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 tick record, got %d", len(records))
	}
	if records[0].Tick != 1 || records[0].Weather != "rain" {
		t.Errorf("Unexpected tick record: %+v", records[0])
	}
	if records[0].ConflictCount != 1 || records[0].PredictionCount != 1 {
		t.Errorf("Unexpected emission counts: %+v", records[0])
	}

	batches, err := db.RecentConflictBatches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentConflictBatches failed: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if batches[0].Scenario != "rush_hour" {
		t.Errorf("Expected scenario rush_hour, got %s", batches[0].Scenario)
	}
	if batches[0].HighRiskCount != 1 {
		t.Errorf("Expected 1 high-risk prediction, got %d", batches[0].HighRiskCount)
	}

	conflicts, err := db.BatchConflicts(ctx, batches[0].ID)
	if err != nil {
		t.Fatalf("BatchConflicts failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ConflictID != "CONF_0001" {
		t.Errorf("Unexpected stored conflicts: %+v", conflicts)
	}
}

// TestRecorderStopDrainsQueue verifies reports enqueued before Stop are
// persisted even when the loop has not picked them up yet
func TestRecorderStopDrainsQueue(t *testing.T) {
	db := newTestDB(t)

	recorder := NewRecorder(db, nil)
	for tick := 1; tick <= 5; tick++ {
		recorder.OnTick(testReport(tick, nil, nil))
	}
	recorder.Start()
	recorder.Stop()

	records, err := db.RecentTickRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("Expected 5 tick records after drain, got %d", len(records))
	}
}

// TestRecorderDropsWhenQueueFull verifies overflow reports are dropped
// with a diagnostic instead of blocking the caller
func TestRecorderDropsWhenQueueFull(t *testing.T) {
	db := newTestDB(t)

	original := monitoring.Logf
	defer monitoring.SetLogger(original)

	drops := 0
	monitoring.SetLogger(func(string, ...interface{}) { drops++ })

	// The loop is not running, so everything past the queue capacity
	// must be dropped.
	recorder := NewRecorder(db, nil)
	for tick := 1; tick <= 70; tick++ {
		recorder.OnTick(testReport(tick, nil, nil))
	}
	recorder.Start()
	recorder.Stop()

	if drops != 6 {
		t.Errorf("Expected 6 dropped reports, got %d", drops)
	}

	records, err := db.RecentTickRecords(context.Background(), 100)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 64 {
		t.Errorf("Expected 64 persisted records, got %d", len(records))
	}
}

// TestRecorderSkipsBatchWhenNothingEmitted verifies quiet ticks produce
// no conflict batch
func TestRecorderSkipsBatchWhenNothingEmitted(t *testing.T) {
	db := newTestDB(t)

	recorder := NewRecorder(db, nil)
	recorder.Start()
	recorder.OnTick(testReport(1, nil, nil))
	recorder.Stop()

	ctx := context.Background()

	records, err := db.RecentTickRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 tick record, got %d", len(records))
	}

	batches, err := db.RecentConflictBatches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentConflictBatches failed: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("Expected no batches for a quiet tick, got %d", len(batches))
	}
}

// TestRecorderIgnoresReportsWithoutChange verifies a zero report is a no-op
func TestRecorderIgnoresReportsWithoutChange(t *testing.T) {
	db := newTestDB(t)

	recorder := NewRecorder(db, nil)
	recorder.Start()
	recorder.OnTick(rail.TickReport{})
	recorder.Stop()

	records, err := db.RecentTickRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records for an empty report, got %d", len(records))
	}
}

// TestTickRecordFromReport verifies the flattening of change and fleet data
func TestTickRecordFromReport(t *testing.T) {
	rep := rail.TickReport{
		Change: &sim.ChangeRecord{
			Tick:          7,
			Time:          testSimTime,
			Weather:       state.WeatherSnow,
			Departures:    []sim.Departure{{}, {}},
			Arrivals:      []sim.Arrival{{}},
			DelaysAdded:   []sim.DelayAdded{{}, {}, {}},
			SpeedChanges:  []sim.SpeedChange{{}},
			TrainsSpawned: []string{"REG_900"},
		},
		Conflicts:   []detect.Conflict{{}, {}},
		Predictions: []predict.Prediction{{}},
		Fleet: stats.Fleet{
			ActiveTrains:  12,
			DelayedTrains: 5,
			HeldTrains:    2,
			DelaySeconds:  stats.Summary{Mean: 90, P85: 240, Max: 600},
			SpeedKmh:      stats.Summary{Mean: 104.5},
		},
	}

	rec := TickRecordFromReport(rep)

	if rec.Tick != 7 || rec.Weather != "snow" || !rec.SimTime.Equal(testSimTime) {
		t.Errorf("Unexpected tick fields: %+v", rec)
	}
	if rec.Departures != 2 || rec.Arrivals != 1 || rec.DelaysInjected != 3 {
		t.Errorf("Unexpected event counts: %+v", rec)
	}
	if rec.SpeedChanges != 1 || rec.TrainsSpawned != 1 {
		t.Errorf("Unexpected change counts: %+v", rec)
	}
	if rec.ActiveTrains != 12 || rec.DelayedTrains != 5 || rec.HeldTrains != 2 {
		t.Errorf("Unexpected fleet counts: %+v", rec)
	}
	if rec.MeanDelaySec != 90 || rec.P85DelaySec != 240 || rec.MaxDelaySec != 600 {
		t.Errorf("Unexpected delay summary: %+v", rec)
	}
	if rec.MeanSpeedKmh != 104.5 {
		t.Errorf("Unexpected speed summary: %+v", rec)
	}
	if rec.ConflictCount != 2 || rec.PredictionCount != 1 {
		t.Errorf("Unexpected emission counts: %+v", rec)
	}
}
