package rail

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/timeutil"
)

func TestSaveConflictsDefaultFilename(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, nil)
	_, err := s.StartSimulation(StartOptions{})
	require.NoError(t, err)
	s.Tick()

	res, err := s.SaveConflicts("")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "conflicts_20240115_080000.json", res.Filename)
	assert.Equal(t, filepath.Join(s.cfg.SaveDir, res.Filename), res.Filepath)
	assert.NotZero(t, res.Summary.Detections)
	assert.Equal(t, 3, res.Summary.Trains)

	raw, err := os.ReadFile(res.Filepath)
	require.NoError(t, err)

	var doc ConflictDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, 1, doc.Metadata.TickNumber)
	assert.Equal(t, res.Summary.Detections, doc.Metadata.TotalDetections)
	assert.Equal(t, res.Summary.Predictions, doc.Metadata.TotalPredictions)
	assert.Len(t, doc.Trains, 3)
	assert.Equal(t, 3, doc.Statistics.Fleet.ActiveTrains)
	assert.Equal(t, "heuristic", doc.Statistics.ModelMode)
}

func TestSaveConflictsAppendsExtension(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, nil)

	res, err := s.SaveConflicts("evening rush")
	require.NoError(t, err)

	assert.Equal(t, "evening_rush.json", res.Filename)
	assert.FileExists(t, res.Filepath)
}

func TestSaveConflictsSanitizesTraversal(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, nil)

	res, err := s.SaveConflicts("../escape")
	require.NoError(t, err)

	// The separator and leading dots are stripped, so the document stays
	// inside the save directory.
	assert.Equal(t, "escape.json", res.Filename)
	assert.Equal(t, filepath.Dir(res.Filepath), s.cfg.SaveDir)
	assert.FileExists(t, filepath.Join(s.cfg.SaveDir, "escape.json"))
}

func TestListSavedNewestFirst(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(testStart)
	s := newTestSystem(t, func(cfg *Config) { cfg.Clock = clock })

	_, err := s.SaveConflicts("")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = s.SaveConflicts("")
	require.NoError(t, err)

	// A stray non-JSON file must not show up in the listing.
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.SaveDir, "notes.txt"), []byte("x"), 0o644))

	files, err := s.ListSaved()
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "conflicts_20240115_080100.json", files[0].Filename)
	assert.Equal(t, "conflicts_20240115_080000.json", files[1].Filename)
	assert.Greater(t, files[0].SizeBytes, int64(0))
}

func TestListSavedMissingDirIsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, func(cfg *Config) {
		cfg.SaveDir = filepath.Join(t.TempDir(), "never_created")
	})

	files, err := s.ListSaved()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLoadSavedRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, nil)
	_, err := s.StartSimulation(StartOptions{})
	require.NoError(t, err)
	s.Tick()

	res, err := s.SaveConflicts("roundtrip")
	require.NoError(t, err)

	doc, err := s.LoadSaved(res.Filename)
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Metadata.TickNumber)
	assert.Len(t, doc.Trains, 3)
	assert.Equal(t, doc.Metadata.TotalDetections, len(doc.Detections))
}

func TestLoadSavedRejectsTraversal(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, nil)
	_, err := s.SaveConflicts("anchor")
	require.NoError(t, err)

	_, err = s.LoadSaved("../outside.json")
	require.ErrorIs(t, err, ErrPathRejected)
}

func TestLatestSaved(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(testStart)
	s := newTestSystem(t, func(cfg *Config) { cfg.Clock = clock })

	_, _, err := s.LatestSaved()
	require.ErrorContains(t, err, "no saved conflict documents")

	_, err = s.SaveConflicts("")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = s.SaveConflicts("")
	require.NoError(t, err)

	doc, name, err := s.LatestSaved()
	require.NoError(t, err)
	assert.Equal(t, "conflicts_20240115_080200.json", name)
	assert.Equal(t, testStart.Add(2*time.Minute), doc.Metadata.Timestamp)
}

func TestDocumentCountsHighRisk(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t, nil)

	s.mu.Lock()
	s.last.Predictions = []predict.Prediction{
		{PredictionID: "PRED_1", Probability: 0.2},
		{PredictionID: "PRED_2", Probability: 0.5},
		{PredictionID: "PRED_3", Probability: 0.6},
	}
	s.mu.Unlock()

	doc := s.Document()

	assert.Equal(t, 3, doc.Metadata.TotalPredictions)
	assert.Equal(t, 2, doc.Metadata.HighRiskPredictions)
	assert.Equal(t, testStart, doc.Metadata.Timestamp)
}
