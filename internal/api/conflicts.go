package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/rail-mind/railmind/internal/rail"
)

func (s *Server) handleConflictsSave(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid save request: %v", err))
		return
	}

	result, err := s.sys.SaveConflicts(req.Filename)
	if err != nil {
		if errors.Is(err, rail.ErrPathRejected) {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save conflicts: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write save result")
		return
	}
}

func (s *Server) handleConflictsList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	files, err := s.sys.ListSaved()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list saved documents: %v", err))
		return
	}

	resp := map[string]interface{}{
		"count":            len(files),
		"files":            files,
		"output_directory": s.sys.SaveDir(),
	}
	if s.db != nil {
		if batches, err := s.db.RecentConflictBatches(r.Context(), 20); err == nil {
			resp["recent_batches"] = batches
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write file list")
		return
	}
}

func (s *Server) handleConflictsLoad(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/conflicts/load/")
	if filename == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing filename")
		return
	}

	doc, err := s.sys.LoadSaved(filename)
	if err != nil {
		switch {
		case errors.Is(err, rail.ErrPathRejected):
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, fs.ErrNotExist):
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No saved document %q", filename))
		default:
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load document: %v", err))
		}
		return
	}

	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write document")
		return
	}
}

type latestResponse struct {
	Filename string `json:"filename"`
	rail.ConflictDocument
}

func (s *Server) handleConflictsLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	doc, filename, err := s.sys.LatestSaved()
	if err != nil {
		if errors.Is(err, rail.ErrNoSavedDocuments) {
			s.writeJSONError(w, http.StatusNotFound, "No saved conflict documents")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load latest document: %v", err))
		return
	}

	resp := latestResponse{Filename: filename, ConflictDocument: doc}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write document")
		return
	}
}

func (s *Server) handleConflictsAutoSave(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Absent fields keep the enable-with-default-cadence behaviour.
	var req struct {
		Enabled       *bool `json:"enabled"`
		IntervalTicks *int  `json:"interval_ticks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid auto-save request: %v", err))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	interval := defaultAutoSaveTicks
	if req.IntervalTicks != nil {
		if *req.IntervalTicks < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "interval_ticks must be at least 1")
			return
		}
		interval = *req.IntervalTicks
	}

	s.autoMu.Lock()
	s.autoSaveOn = enabled
	s.autoSaveEvery = interval
	s.autoMu.Unlock()

	resp := map[string]interface{}{
		"auto_save":      enabled,
		"interval_ticks": interval,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write auto-save state")
		return
	}
}
