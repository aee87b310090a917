package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/rail/predict"
)

// maxTicksPerRequest caps one multi-tick call. Longer runs go through
// repeated requests or the realtime loop.
const maxTicksPerRequest = 100

func (s *Server) handleSimulationState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.sys.State()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write state")
		return
	}
}

func (s *Server) handleSimulationTick(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.sys.Tick()
	if err := json.NewEncoder(w).Encode(s.sys.State()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write state")
		return
	}
}

type startResponse struct {
	Status string `json:"status"`
	rail.StartReport
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var opts rail.StartOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid start options: %v", err))
		return
	}

	report, err := s.sys.StartSimulation(opts)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := startResponse{Status: "started", StartReport: report}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write start report")
		return
	}
}

func (s *Server) handleMultiTick(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	count := 10
	if raw := strings.TrimPrefix(r.URL.Path, "/api/simulation/multi-tick/"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid tick count")
			return
		}
		count = parsed
	}
	if count > maxTicksPerRequest {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("Tick count %d exceeds the per-request limit of %d", count, maxTicksPerRequest))
		return
	}

	reports := s.sys.Advance(count)
	resp := map[string]interface{}{
		"status":         "completed",
		"ticks_executed": len(reports),
		"state":          s.sys.State(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write tick result")
		return
	}
}

func (s *Server) handleTrains(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	state := s.sys.State()
	resp := map[string]interface{}{
		"count":  len(state.Trains),
		"trains": state.Trains,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write trains")
		return
	}
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stations := s.sys.Stations()
	resp := map[string]interface{}{
		"count":    len(stations),
		"stations": stations,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stations")
		return
	}
}

// riskLevel summarises the worst prediction attached to a view.
type riskLevel struct {
	Level          predict.Bucket `json:"level"`
	Color          string         `json:"color"`
	MaxProbability float64        `json:"max_probability"`
}

func riskLevelFor(preds []predict.Prediction) riskLevel {
	maxProb := 0.0
	for _, p := range preds {
		if p.Probability > maxProb {
			maxProb = p.Probability
		}
	}
	bucket := predict.BucketFor(maxProb)
	return riskLevel{Level: bucket, Color: bucket.Color(), MaxProbability: maxProb}
}

type stationOutlookResponse struct {
	rail.StationOutlook
	RiskLevel riskLevel `json:"risk_level"`
}

func (s *Server) handleStationPrediction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	station := strings.TrimPrefix(r.URL.Path, "/api/prediction/")
	if station == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing station id")
		return
	}

	outlook, err := s.sys.StationOutlook(station)
	if errors.Is(err, rail.ErrUnknownStation) {
		// Station ids are stored uppercase; retry before giving up.
		outlook, err = s.sys.StationOutlook(strings.ToUpper(station))
	}
	if err != nil {
		if errors.Is(err, rail.ErrUnknownStation) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown station %q", station))
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to build station outlook")
		return
	}

	resp := stationOutlookResponse{
		StationOutlook: outlook,
		RiskLevel:      riskLevelFor(outlook.Predictions),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write station outlook")
		return
	}
}

type regionSummary struct {
	TotalStations     int `json:"total_stations"`
	TotalTrains       int `json:"total_trains"`
	ActivePredictions int `json:"active_predictions"`
	HighRiskCount     int `json:"high_risk_count"`
}

type regionResponse struct {
	rail.RegionView
	Summary regionSummary `json:"summary"`
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	region := strings.TrimPrefix(r.URL.Path, "/api/region/")
	if region == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing region name")
		return
	}

	view, err := s.sys.Region(region)
	if err != nil {
		if errors.Is(err, rail.ErrUnknownRegion) {
			s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown region %q", region))
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to build region view")
		return
	}

	summary := regionSummary{
		TotalStations:     len(view.Stations),
		TotalTrains:       len(view.Trains),
		ActivePredictions: len(view.Predictions),
	}
	for _, p := range view.Predictions {
		if p.Probability >= predict.ThresholdLowRisk {
			summary.HighRiskCount++
		}
	}

	resp := regionResponse{RegionView: view, Summary: summary}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write region view")
		return
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	state := s.sys.State()
	resp := map[string]interface{}{
		"tick_number":   state.TickNumber,
		"status":        state.Status,
		"scenario":      state.Scenario,
		"active_trains": state.ActiveTrains,
		"statistics":    state.Statistics,
	}

	// Lifetime totals come from the history database when one is wired.
	if s.db != nil {
		ctx := r.Context()
		if byType, err := s.db.ConflictTypeCounts(ctx); err == nil {
			resp["conflicts_by_type_total"] = byType
		}
		if bySev, err := s.db.ConflictSeverityCounts(ctx); err == nil {
			resp["conflicts_by_severity_total"] = bySev
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}
