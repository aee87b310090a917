package rail

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/security"
)

// highRiskThreshold counts a prediction as high risk in document
// metadata. Matches the orange bucket boundary.
const highRiskThreshold = 0.5

// ErrNoSavedDocuments reports an empty save directory to LatestSaved
// callers.
var ErrNoSavedDocuments = errors.New("rail: no saved conflict documents")

// ErrPathRejected marks a filename whose resolved path escapes the save
// directory.
var ErrPathRejected = errors.New("rail: path rejected")

// ConflictDocument is the saved-output format: a timestamped capture of
// the latest predictions, detections and fleet state.
type ConflictDocument struct {
	Metadata    DocumentMetadata     `json:"metadata"`
	Predictions []predict.Prediction `json:"predictions"`
	Detections  []detect.Conflict    `json:"detections"`
	Trains      []network.Train      `json:"trains"`
	Statistics  Statistics           `json:"statistics"`
}

// DocumentMetadata records the run position a document was taken at.
type DocumentMetadata struct {
	Timestamp           time.Time `json:"timestamp"`
	TickNumber          int       `json:"tick_number"`
	SimulationTime      time.Time `json:"simulation_time"`
	TotalPredictions    int       `json:"total_predictions"`
	TotalDetections     int       `json:"total_detections"`
	HighRiskPredictions int       `json:"high_risk_predictions"`
}

// SaveResult reports a completed save.
type SaveResult struct {
	Success  bool        `json:"success"`
	Filepath string      `json:"filepath"`
	Filename string      `json:"filename"`
	Summary  SaveSummary `json:"summary"`
}

// SaveSummary counts what went into the document.
type SaveSummary struct {
	Predictions int `json:"predictions"`
	Detections  int `json:"detections"`
	Trains      int `json:"trains"`
	HighRisk    int `json:"high_risk"`
}

// SavedFile describes one document in the save directory.
type SavedFile struct {
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Document captures the current conflict picture without writing it.
func (s *System) Document() ConflictDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tr := s.tracker
	tr.RLock()
	defer tr.RUnlock()

	active := tr.ActiveTrains()
	preds := copyPredictions(s.last.Predictions)
	dets := copyConflicts(s.last.Conflicts)
	highRisk := 0
	for _, p := range preds {
		if p.Probability >= highRiskThreshold {
			highRisk++
		}
	}
	return ConflictDocument{
		Metadata: DocumentMetadata{
			Timestamp:           s.clock.Now().UTC(),
			TickNumber:          s.engine.TickCount(),
			SimulationTime:      tr.Now(),
			TotalPredictions:    len(preds),
			TotalDetections:     len(dets),
			HighRiskPredictions: highRisk,
		},
		Predictions: preds,
		Detections:  dets,
		Trains:      copyTrains(active),
		Statistics:  s.statisticsLocked(active),
	}
}

// SaveConflicts writes the current conflict picture to a JSON document
// under the save directory and reports where it landed. An empty
// filename gets a timestamped default; a missing .json extension is
// appended. The resolved path must stay inside the save directory.
func (s *System) SaveConflicts(filename string) (SaveResult, error) {
	doc := s.Document()

	if filename == "" {
		filename = fmt.Sprintf("conflicts_%s", s.clock.Now().Format("20060102_150405"))
	}
	name := security.SanitizeFilename(filename)
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}

	if err := s.fs.MkdirAll(s.cfg.SaveDir, 0o755); err != nil {
		return SaveResult{}, fmt.Errorf("rail: create save dir: %w", err)
	}
	path := filepath.Join(s.cfg.SaveDir, name)
	if err := security.ValidatePathWithinDirectory(path, s.cfg.SaveDir); err != nil {
		return SaveResult{}, fmt.Errorf("%w: %v", ErrPathRejected, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return SaveResult{}, fmt.Errorf("rail: encode conflict document: %w", err)
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return SaveResult{}, fmt.Errorf("rail: write conflict document: %w", err)
	}
	log.Printf("[rail] saved %d predictions and %d detections to %s",
		doc.Metadata.TotalPredictions, doc.Metadata.TotalDetections, path)

	return SaveResult{
		Success:  true,
		Filepath: path,
		Filename: name,
		Summary: SaveSummary{
			Predictions: doc.Metadata.TotalPredictions,
			Detections:  doc.Metadata.TotalDetections,
			Trains:      len(doc.Trains),
			HighRisk:    doc.Metadata.HighRiskPredictions,
		},
	}, nil
}

// ListSaved returns the saved conflict documents, newest first. The
// timestamped default names sort chronologically, so name order is
// recency order. A missing save directory is an empty list.
func (s *System) ListSaved() ([]SavedFile, error) {
	entries, err := s.fs.ReadDir(s.cfg.SaveDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []SavedFile{}, nil
		}
		return nil, fmt.Errorf("rail: list save dir: %w", err)
	}
	files := make([]SavedFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, SavedFile{
			Filename:   e.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename > files[j].Filename })
	return files, nil
}

// LoadSaved reads one saved document back. The name must resolve inside
// the save directory.
func (s *System) LoadSaved(filename string) (ConflictDocument, error) {
	path := filepath.Join(s.cfg.SaveDir, filename)
	if err := security.ValidatePathWithinDirectory(path, s.cfg.SaveDir); err != nil {
		return ConflictDocument{}, fmt.Errorf("%w: %v", ErrPathRejected, err)
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return ConflictDocument{}, fmt.Errorf("rail: read conflict document: %w", err)
	}
	var doc ConflictDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ConflictDocument{}, fmt.Errorf("rail: decode conflict document %s: %w", filename, err)
	}
	return doc, nil
}

// SaveDir returns the directory receiving saved conflict documents.
func (s *System) SaveDir() string {
	return s.cfg.SaveDir
}

// LatestSaved loads the newest document in the save directory.
func (s *System) LatestSaved() (ConflictDocument, string, error) {
	files, err := s.ListSaved()
	if err != nil {
		return ConflictDocument{}, "", err
	}
	if len(files) == 0 {
		return ConflictDocument{}, "", ErrNoSavedDocuments
	}
	doc, err := s.LoadSaved(files[0].Filename)
	return doc, files[0].Filename, err
}
