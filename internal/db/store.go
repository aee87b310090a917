package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/predict"
)

// highRiskProbability is where the high_risk bucket begins. Predictions
// at or above it count into a batch's high_risk_count.
const highRiskProbability = predict.ThresholdLowRisk

// TickRecord is one persisted tick: what moved, what was injected, and
// the fleet-level delay and speed picture at the end of the tick.
type TickRecord struct {
	ID              int64     `json:"id"`
	Tick            int       `json:"tick"`
	SimTime         time.Time `json:"sim_time"`
	Weather         string    `json:"weather"`
	ActiveTrains    int       `json:"active_trains"`
	DelayedTrains   int       `json:"delayed_trains"`
	HeldTrains      int       `json:"held_trains"`
	Departures      int       `json:"departures"`
	Arrivals        int       `json:"arrivals"`
	DelaysInjected  int       `json:"delays_injected"`
	SpeedChanges    int       `json:"speed_changes"`
	TrainsSpawned   int       `json:"trains_spawned"`
	MeanDelaySec    float64   `json:"mean_delay_sec"`
	P85DelaySec     float64   `json:"p85_delay_sec"`
	MaxDelaySec     float64   `json:"max_delay_sec"`
	MeanSpeedKmh    float64   `json:"mean_speed_kmh"`
	ConflictCount   int       `json:"conflict_count"`
	PredictionCount int       `json:"prediction_count"`
	CreatedAtUnix   float64   `json:"created_at_unix"`
}

// ConflictBatch groups the conflicts and predictions emitted on one
// tick. Batch IDs are UUIDs so restarts never collide on tick numbers.
type ConflictBatch struct {
	ID              string    `json:"batch_id"`
	Tick            int       `json:"tick"`
	SimTime         time.Time `json:"sim_time"`
	Scenario        string    `json:"scenario"`
	ConflictCount   int       `json:"conflict_count"`
	PredictionCount int       `json:"prediction_count"`
	HighRiskCount   int       `json:"high_risk_count"`
	CreatedAtUnix   float64   `json:"created_at_unix"`
}

// InsertTickRecord stores one tick record and fills in its row ID.
func (db *DB) InsertTickRecord(ctx context.Context, rec *TickRecord) error {
	query := `
		INSERT INTO tick_records (
			tick, sim_time_unix, weather,
			active_trains, delayed_trains, held_trains,
			departures, arrivals, delays_injected, speed_changes, trains_spawned,
			mean_delay_sec, p85_delay_sec, max_delay_sec, mean_speed_kmh,
			conflict_count, prediction_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(
		ctx,
		query,
		rec.Tick,
		float64(rec.SimTime.Unix()),
		rec.Weather,
		rec.ActiveTrains,
		rec.DelayedTrains,
		rec.HeldTrains,
		rec.Departures,
		rec.Arrivals,
		rec.DelaysInjected,
		rec.SpeedChanges,
		rec.TrainsSpawned,
		rec.MeanDelaySec,
		rec.P85DelaySec,
		rec.MaxDelaySec,
		rec.MeanSpeedKmh,
		rec.ConflictCount,
		rec.PredictionCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tick record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	rec.ID = id
	return nil
}

// RecentTickRecords returns up to limit tick records, newest first.
func (db *DB) RecentTickRecords(ctx context.Context, limit int) ([]TickRecord, error) {
	query := `
		SELECT
			id, tick, sim_time_unix, weather,
			active_trains, delayed_trains, held_trains,
			departures, arrivals, delays_injected, speed_changes, trains_spawned,
			mean_delay_sec, p85_delay_sec, max_delay_sec, mean_speed_kmh,
			conflict_count, prediction_count, created_at
		FROM tick_records
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tick records: %w", err)
	}
	defer rows.Close()

	var records []TickRecord
	for rows.Next() {
		var rec TickRecord
		var simUnix float64

		err := rows.Scan(
			&rec.ID,
			&rec.Tick,
			&simUnix,
			&rec.Weather,
			&rec.ActiveTrains,
			&rec.DelayedTrains,
			&rec.HeldTrains,
			&rec.Departures,
			&rec.Arrivals,
			&rec.DelaysInjected,
			&rec.SpeedChanges,
			&rec.TrainsSpawned,
			&rec.MeanDelaySec,
			&rec.P85DelaySec,
			&rec.MaxDelaySec,
			&rec.MeanSpeedKmh,
			&rec.ConflictCount,
			&rec.PredictionCount,
			&rec.CreatedAtUnix,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tick record: %w", err)
		}

		rec.SimTime = time.Unix(int64(simUnix), 0).UTC()
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tick records: %w", err)
	}

	return records, nil
}

// InsertConflictBatch stores one tick's conflicts and predictions under
// a single batch in one transaction. The batch counts are derived from
// the rows; an empty batch ID gets a fresh UUID.
func (db *DB) InsertConflictBatch(ctx context.Context, batch *ConflictBatch, conflicts []detect.Conflict, predictions []predict.Prediction) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	batch.ConflictCount = len(conflicts)
	batch.PredictionCount = len(predictions)
	batch.HighRiskCount = 0
	for _, p := range predictions {
		if p.Probability >= highRiskProbability {
			batch.HighRiskCount++
		}
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means the transaction was already committed.
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conflict_batches (
			batch_id, tick, sim_time_unix, scenario,
			conflict_count, prediction_count, high_risk_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		batch.ID,
		batch.Tick,
		float64(batch.SimTime.Unix()),
		batch.Scenario,
		batch.ConflictCount,
		batch.PredictionCount,
		batch.HighRiskCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict batch: %w", err)
	}

	if len(conflicts) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO conflicts (
				batch_id, conflict_id, source, conflict_type, severity, probability,
				location, location_type, involved_trains, explanation,
				rule_triggered, suggestions, horizon_min, tick, detected_at_unix
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare conflict insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range conflicts {
			trains, err := json.Marshal(c.InvolvedTrains)
			if err != nil {
				return fmt.Errorf("failed to encode involved trains: %w", err)
			}
			suggestions, err := json.Marshal(c.Suggestions)
			if err != nil {
				return fmt.Errorf("failed to encode suggestions: %w", err)
			}

			_, err = stmt.ExecContext(
				ctx,
				batch.ID,
				c.ConflictID,
				string(c.Source),
				string(c.Type),
				string(c.Severity),
				c.Probability,
				c.Location,
				string(c.LocationType),
				string(trains),
				c.Explanation,
				c.RuleTriggered,
				string(suggestions),
				c.PredictionHorizonMin,
				c.Tick,
				float64(c.Timestamp.Unix()),
			)
			if err != nil {
				return fmt.Errorf("failed to insert conflict %s: %w", c.ConflictID, err)
			}
		}
	}

	if len(predictions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO predictions (
				batch_id, prediction_id, train_id, probability, risk_bucket, risk_color,
				predicted_conflict_type, predicted_location, predicted_at_unix,
				confidence, horizon_min, trigger_reason, tick
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare prediction insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range predictions {
			_, err = stmt.ExecContext(
				ctx,
				batch.ID,
				p.PredictionID,
				p.TrainID,
				p.Probability,
				string(p.RiskBucket),
				p.RiskColor,
				p.PredictedConflictType,
				p.PredictedLocation,
				float64(p.PredictedTime.Unix()),
				p.Confidence,
				p.HorizonMin,
				p.TriggerReason,
				batch.Tick,
			)
			if err != nil {
				return fmt.Errorf("failed to insert prediction %s: %w", p.PredictionID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflict batch: %w", err)
	}

	return nil
}

// RecentConflictBatches returns up to limit batches, newest first.
func (db *DB) RecentConflictBatches(ctx context.Context, limit int) ([]ConflictBatch, error) {
	query := `
		SELECT
			batch_id, tick, sim_time_unix, scenario,
			conflict_count, prediction_count, high_risk_count, created_at
		FROM conflict_batches
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflict batches: %w", err)
	}
	defer rows.Close()

	var batches []ConflictBatch
	for rows.Next() {
		var batch ConflictBatch
		var simUnix float64

		err := rows.Scan(
			&batch.ID,
			&batch.Tick,
			&simUnix,
			&batch.Scenario,
			&batch.ConflictCount,
			&batch.PredictionCount,
			&batch.HighRiskCount,
			&batch.CreatedAtUnix,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict batch: %w", err)
		}

		batch.SimTime = time.Unix(int64(simUnix), 0).UTC()
		batches = append(batches, batch)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflict batches: %w", err)
	}

	return batches, nil
}

// BatchConflicts returns the conflicts stored under a batch.
func (db *DB) BatchConflicts(ctx context.Context, batchID string) ([]detect.Conflict, error) {
	query := `
		SELECT
			conflict_id, source, conflict_type, severity, probability,
			location, location_type, involved_trains, explanation,
			rule_triggered, suggestions, horizon_min, tick, detected_at_unix
		FROM conflicts
		WHERE batch_id = ?
		ORDER BY id ASC
	`

	rows, err := db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []detect.Conflict
	for rows.Next() {
		var (
			c                               detect.Conflict
			source, ctype, severity, locTyp string
			trainsJSON, suggestionsJSON     string
			detectedUnix                    float64
		)

		err := rows.Scan(
			&c.ConflictID,
			&source,
			&ctype,
			&severity,
			&c.Probability,
			&c.Location,
			&locTyp,
			&trainsJSON,
			&c.Explanation,
			&c.RuleTriggered,
			&suggestionsJSON,
			&c.PredictionHorizonMin,
			&c.Tick,
			&detectedUnix,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		c.Source = detect.Source(source)
		c.Type = detect.ConflictType(ctype)
		c.Severity = detect.Severity(severity)
		c.LocationType = detect.LocationType(locTyp)
		c.Timestamp = time.Unix(int64(detectedUnix), 0).UTC()
		if err := json.Unmarshal([]byte(trainsJSON), &c.InvolvedTrains); err != nil {
			return nil, fmt.Errorf("failed to decode involved trains: %w", err)
		}
		if err := json.Unmarshal([]byte(suggestionsJSON), &c.Suggestions); err != nil {
			return nil, fmt.Errorf("failed to decode suggestions: %w", err)
		}

		conflicts = append(conflicts, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

// BatchPredictions returns the predictions stored under a batch.
// Contributing factors and feature vectors are not persisted; they live
// only in the saved JSON documents.
func (db *DB) BatchPredictions(ctx context.Context, batchID string) ([]predict.Prediction, error) {
	query := `
		SELECT
			prediction_id, train_id, probability, risk_bucket, risk_color,
			predicted_conflict_type, predicted_location, predicted_at_unix,
			confidence, horizon_min, trigger_reason
		FROM predictions
		WHERE batch_id = ?
		ORDER BY id ASC
	`

	rows, err := db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []predict.Prediction
	for rows.Next() {
		var (
			p             predict.Prediction
			bucket        string
			predictedUnix float64
		)

		err := rows.Scan(
			&p.PredictionID,
			&p.TrainID,
			&p.Probability,
			&bucket,
			&p.RiskColor,
			&p.PredictedConflictType,
			&p.PredictedLocation,
			&predictedUnix,
			&p.Confidence,
			&p.HorizonMin,
			&p.TriggerReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}

		p.RiskBucket = predict.Bucket(bucket)
		p.PredictedTime = time.Unix(int64(predictedUnix), 0).UTC()
		predictions = append(predictions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return predictions, nil
}

// ConflictTypeCounts returns how many stored conflicts exist per type.
func (db *DB) ConflictTypeCounts(ctx context.Context) (map[string]int64, error) {
	return db.groupedCounts(ctx, `SELECT conflict_type, COUNT(*) FROM conflicts GROUP BY conflict_type`)
}

// ConflictSeverityCounts returns how many stored conflicts exist per
// severity.
func (db *DB) ConflictSeverityCounts(ctx context.Context) (map[string]int64, error) {
	return db.groupedCounts(ctx, `SELECT severity, COUNT(*) FROM conflicts GROUP BY severity`)
}

func (db *DB) groupedCounts(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}
