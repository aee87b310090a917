package db

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/predict"
)

var testSimTime = time.Date(2024, 1, 15, 6, 0, 10, 0, time.UTC)

func testConflict(id string, ctype detect.ConflictType, severity detect.Severity) detect.Conflict {
	return detect.Conflict{
		ConflictID:     id,
		Source:         detect.SourceDetection,
		Type:           ctype,
		Severity:       severity,
		Probability:    1.0,
		Location:       "MILANO CENTRALE",
		LocationType:   detect.LocationStation,
		InvolvedTrains: []string{"REG_101", "REG_102"},
		Explanation:    "2 trains at MILANO CENTRALE exceeds platform capacity 1",
		Timestamp:      testSimTime,
		Tick:           1,
		RuleTriggered:  "station_overcapacity",
		Suggestions:    []string{"hold REG_102 at previous station"},
	}
}

func testPrediction(id, trainID string, probability float64) predict.Prediction {
	return predict.Prediction{
		PredictionID:          id,
		TrainID:               trainID,
		Probability:           probability,
		RiskBucket:            predict.BucketFor(probability),
		RiskColor:             predict.BucketFor(probability).Color(),
		PredictedConflictType: "cascading_delay",
		PredictedTime:         testSimTime.Add(30 * time.Minute),
		PredictedLocation:     "MILANO LAMBRATE",
		Confidence:            0.7,
		HorizonMin:            30,
		TriggerReason:         "delay_threshold",
	}
}

// TestInsertTickRecordRoundTrip verifies a tick record survives storage
func TestInsertTickRecordRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &TickRecord{
		Tick:            3,
		SimTime:         testSimTime,
		Weather:         "rain",
		ActiveTrains:    15,
		DelayedTrains:   4,
		HeldTrains:      1,
		Departures:      2,
		Arrivals:        1,
		DelaysInjected:  1,
		SpeedChanges:    3,
		TrainsSpawned:   1,
		MeanDelaySec:    120.5,
		P85DelaySec:     300,
		MaxDelaySec:     420,
		MeanSpeedKmh:    95.2,
		ConflictCount:   2,
		PredictionCount: 5,
	}

	if err := db.InsertTickRecord(ctx, rec); err != nil {
		t.Fatalf("InsertTickRecord failed: %v", err)
	}
	if rec.ID == 0 {
		t.Error("Expected record ID to be filled in")
	}

	records, err := db.RecentTickRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 tick record, got %d", len(records))
	}

	got := records[0]
	if got.Tick != 3 || got.Weather != "rain" {
		t.Errorf("Unexpected record: tick=%d weather=%s", got.Tick, got.Weather)
	}
	if !got.SimTime.Equal(testSimTime) {
		t.Errorf("Expected sim time %v, got %v", testSimTime, got.SimTime)
	}
	if got.ActiveTrains != 15 || got.DelayedTrains != 4 || got.HeldTrains != 1 {
		t.Errorf("Unexpected fleet counts: %+v", got)
	}
	if got.MeanDelaySec != 120.5 || got.P85DelaySec != 300 || got.MaxDelaySec != 420 {
		t.Errorf("Unexpected delay summary: %+v", got)
	}
	if got.CreatedAtUnix <= 0 {
		t.Error("Expected created_at to be set")
	}
}

// TestRecentTickRecordsNewestFirst verifies ordering and the limit
func TestRecentTickRecordsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for tick := 1; tick <= 3; tick++ {
		rec := &TickRecord{Tick: tick, SimTime: testSimTime.Add(time.Duration(tick) * 10 * time.Second)}
		if err := db.InsertTickRecord(ctx, rec); err != nil {
			t.Fatalf("InsertTickRecord failed: %v", err)
		}
	}

	records, err := db.RecentTickRecords(ctx, 2)
	if err != nil {
		t.Fatalf("RecentTickRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 tick records, got %d", len(records))
	}
	if records[0].Tick != 3 || records[1].Tick != 2 {
		t.Errorf("Expected newest first [3 2], got [%d %d]", records[0].Tick, records[1].Tick)
	}
}

// TestInsertConflictBatchRoundTrip verifies a full batch survives storage
func TestInsertConflictBatchRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conflicts := []detect.Conflict{
		testConflict("CONF_0001", detect.TypeStationOvercapacity, detect.SeverityCritical),
		testConflict("CONF_0002", detect.TypeExcessiveDelay, detect.SeverityMedium),
	}
	predictions := []predict.Prediction{
		testPrediction("PRED_1", "REG_101", 0.7),
		testPrediction("PRED_2", "IC_501", 0.3),
	}

	batch := &ConflictBatch{Tick: 1, SimTime: testSimTime, Scenario: "normal"}
	if err := db.InsertConflictBatch(ctx, batch, conflicts, predictions); err != nil {
		t.Fatalf("InsertConflictBatch failed: %v", err)
	}

	if batch.ID == "" {
		t.Error("Expected batch ID to be generated")
	}
	if batch.ConflictCount != 2 || batch.PredictionCount != 2 {
		t.Errorf("Unexpected batch counts: %+v", batch)
	}
	if batch.HighRiskCount != 1 {
		t.Errorf("Expected 1 high-risk prediction, got %d", batch.HighRiskCount)
	}

	batches, err := db.RecentConflictBatches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentConflictBatches failed: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if batches[0].ID != batch.ID || batches[0].Scenario != "normal" {
		t.Errorf("Unexpected batch: %+v", batches[0])
	}
	if !batches[0].SimTime.Equal(testSimTime) {
		t.Errorf("Expected sim time %v, got %v", testSimTime, batches[0].SimTime)
	}

	storedConflicts, err := db.BatchConflicts(ctx, batch.ID)
	if err != nil {
		t.Fatalf("BatchConflicts failed: %v", err)
	}
	if len(storedConflicts) != 2 {
		t.Fatalf("Expected 2 conflicts, got %d", len(storedConflicts))
	}
	got := storedConflicts[0]
	if got.ConflictID != "CONF_0001" || got.Type != detect.TypeStationOvercapacity {
		t.Errorf("Unexpected conflict: %+v", got)
	}
	if got.Severity != detect.SeverityCritical || got.LocationType != detect.LocationStation {
		t.Errorf("Unexpected conflict classification: %+v", got)
	}
	if !reflect.DeepEqual(got.InvolvedTrains, []string{"REG_101", "REG_102"}) {
		t.Errorf("Unexpected involved trains: %v", got.InvolvedTrains)
	}
	if !reflect.DeepEqual(got.Suggestions, []string{"hold REG_102 at previous station"}) {
		t.Errorf("Unexpected suggestions: %v", got.Suggestions)
	}
	if !got.Timestamp.Equal(testSimTime) {
		t.Errorf("Expected timestamp %v, got %v", testSimTime, got.Timestamp)
	}

	storedPredictions, err := db.BatchPredictions(ctx, batch.ID)
	if err != nil {
		t.Fatalf("BatchPredictions failed: %v", err)
	}
	if len(storedPredictions) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(storedPredictions))
	}
	p := storedPredictions[0]
	if p.PredictionID != "PRED_1" || p.TrainID != "REG_101" {
		t.Errorf("Unexpected prediction: %+v", p)
	}
	if p.Probability != 0.7 || p.TriggerReason != "delay_threshold" {
		t.Errorf("Unexpected prediction risk fields: %+v", p)
	}
	if p.RiskBucket != predict.BucketFor(0.7) {
		t.Errorf("Unexpected risk bucket: %s", p.RiskBucket)
	}
	if !p.PredictedTime.Equal(testSimTime.Add(30 * time.Minute)) {
		t.Errorf("Unexpected predicted time: %v", p.PredictedTime)
	}
}

// TestInsertConflictBatchKeepsCallerID verifies a preset batch ID is honoured
func TestInsertConflictBatchKeepsCallerID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	batch := &ConflictBatch{ID: "batch-fixed", Tick: 1, SimTime: testSimTime}
	if err := db.InsertConflictBatch(ctx, batch, nil, nil); err != nil {
		t.Fatalf("InsertConflictBatch failed: %v", err)
	}
	if batch.ID != "batch-fixed" {
		t.Errorf("Expected caller ID to be kept, got %s", batch.ID)
	}
}

// TestBatchQueriesUnknownBatch verifies lookups for missing batches are empty
func TestBatchQueriesUnknownBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conflicts, err := db.BatchConflicts(ctx, "missing")
	if err != nil {
		t.Fatalf("BatchConflicts failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("Expected no conflicts, got %d", len(conflicts))
	}

	predictions, err := db.BatchPredictions(ctx, "missing")
	if err != nil {
		t.Fatalf("BatchPredictions failed: %v", err)
	}
	if len(predictions) != 0 {
		t.Errorf("Expected no predictions, got %d", len(predictions))
	}
}

// TestConflictCounts verifies the grouped count queries
func TestConflictCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conflicts := []detect.Conflict{
		testConflict("CONF_0001", detect.TypeStationOvercapacity, detect.SeverityCritical),
		testConflict("CONF_0002", detect.TypeStationOvercapacity, detect.SeverityCritical),
		testConflict("CONF_0003", detect.TypeHeadwayViolation, detect.SeverityHigh),
	}
	batch := &ConflictBatch{Tick: 1, SimTime: testSimTime}
	if err := db.InsertConflictBatch(ctx, batch, conflicts, nil); err != nil {
		t.Fatalf("InsertConflictBatch failed: %v", err)
	}

	byType, err := db.ConflictTypeCounts(ctx)
	if err != nil {
		t.Fatalf("ConflictTypeCounts failed: %v", err)
	}
	if byType[string(detect.TypeStationOvercapacity)] != 2 {
		t.Errorf("Expected 2 overcapacity conflicts, got %d", byType[string(detect.TypeStationOvercapacity)])
	}
	if byType[string(detect.TypeHeadwayViolation)] != 1 {
		t.Errorf("Expected 1 headway conflict, got %d", byType[string(detect.TypeHeadwayViolation)])
	}

	bySeverity, err := db.ConflictSeverityCounts(ctx)
	if err != nil {
		t.Fatalf("ConflictSeverityCounts failed: %v", err)
	}
	if bySeverity[string(detect.SeverityCritical)] != 2 || bySeverity[string(detect.SeverityHigh)] != 1 {
		t.Errorf("Unexpected severity counts: %v", bySeverity)
	}
}
