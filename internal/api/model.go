package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rail-mind/railmind/internal/rail/features"
	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/version"
)

// predictionStrategy names the trigger-driven scoring scheme to API
// consumers.
const predictionStrategy = "smart_triggers"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	predictor := s.sys.Predictor()
	resp := map[string]interface{}{
		"status":              "ok",
		"version":             version.Version,
		"running":             s.sys.Running(),
		"tick_number":         s.sys.TickCount(),
		"model_mode":          predictor.Mode(),
		"model_loaded":        predictor.Model() != nil,
		"prediction_strategy": predictionStrategy,
		"active_websockets":   s.hub.ClientCount(),
		"history_db":          s.db != nil,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := map[string]interface{}{
		"safe_threshold":      predict.ThresholdSafe,
		"low_risk_threshold":  predict.ThresholdLowRisk,
		"high_risk_threshold": predict.ThresholdHighRisk,
		"risk_levels": map[string]string{
			string(predict.BucketSafe):     "probability < 0.30",
			string(predict.BucketLowRisk):  "0.30 <= probability < 0.50",
			string(predict.BucketHighRisk): "0.50 <= probability <= 0.80",
			string(predict.BucketCritical): "probability > 0.80",
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write thresholds")
		return
	}
}

// configResponse flattens the predictor parameters into the wire shape.
type configResponse struct {
	Strategy              string  `json:"strategy"`
	HorizonMin            float64 `json:"prediction_horizon_min"`
	DelayThresholdSec     int     `json:"trigger_delay_threshold_sec"`
	CongestionThreshold   float64 `json:"trigger_congestion_threshold"`
	HubApproach           bool    `json:"trigger_hub_approach"`
	ContinuousIntervalSec int     `json:"continuous_interval_sec"`
}

func configResponseFrom(cfg predict.Config) configResponse {
	return configResponse{
		Strategy:              predictionStrategy,
		HorizonMin:            cfg.HorizonMin,
		DelayThresholdSec:     cfg.Triggers.DelayThresholdSec,
		CongestionThreshold:   cfg.Triggers.CongestionThreshold,
		HubApproach:           cfg.Triggers.HubApproach,
		ContinuousIntervalSec: cfg.Triggers.ContinuousIntervalSec,
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		resp := configResponseFrom(s.sys.Predictor().Config())
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		}
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// updateConfig applies a partial parameter update. Absent fields keep
// their current values.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HorizonMin            *float64 `json:"prediction_horizon_min"`
		DelayThresholdSec     *int     `json:"trigger_delay_threshold_sec"`
		CongestionThreshold   *float64 `json:"trigger_congestion_threshold"`
		HubApproach           *bool    `json:"trigger_hub_approach"`
		ContinuousIntervalSec *int     `json:"continuous_interval_sec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid config update: %v", err))
		return
	}

	predictor := s.sys.Predictor()
	cfg := predictor.Config()
	if req.HorizonMin != nil {
		if *req.HorizonMin <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "prediction_horizon_min must be positive")
			return
		}
		cfg.HorizonMin = *req.HorizonMin
	}
	if req.DelayThresholdSec != nil {
		if *req.DelayThresholdSec < 0 {
			s.writeJSONError(w, http.StatusBadRequest, "trigger_delay_threshold_sec must not be negative")
			return
		}
		cfg.Triggers.DelayThresholdSec = *req.DelayThresholdSec
	}
	if req.CongestionThreshold != nil {
		if *req.CongestionThreshold < 0 || *req.CongestionThreshold > 1 {
			s.writeJSONError(w, http.StatusBadRequest, "trigger_congestion_threshold must be between 0 and 1")
			return
		}
		cfg.Triggers.CongestionThreshold = *req.CongestionThreshold
	}
	if req.HubApproach != nil {
		cfg.Triggers.HubApproach = *req.HubApproach
	}
	if req.ContinuousIntervalSec != nil {
		if *req.ContinuousIntervalSec < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "continuous_interval_sec must be at least 1")
			return
		}
		cfg.Triggers.ContinuousIntervalSec = *req.ContinuousIntervalSec
	}

	predictor.SetConfig(cfg)
	resp := configResponseFrom(predictor.Config())
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
	}
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	predictor := s.sys.Predictor()
	resp := map[string]interface{}{
		"model_mode":    predictor.Mode(),
		"feature_names": features.FeatureNames,
		"feature_count": len(features.FeatureNames),
		"major_hubs":    features.MajorHubs(),
		"risk_levels": map[string]string{
			string(predict.BucketSafe):     predict.BucketSafe.Color(),
			string(predict.BucketLowRisk):  predict.BucketLowRisk.Color(),
			string(predict.BucketHighRisk): predict.BucketHighRisk.Color(),
			string(predict.BucketCritical): predict.BucketCritical.Color(),
		},
	}
	if model := predictor.Model(); model != nil {
		resp["model_version"] = model.Version
		resp["trained_at"] = model.TrainedAt
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write model info")
		return
	}
}

func (s *Server) handleModelTest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report, err := s.sys.ModelTest()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Model test failed: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write test report")
		return
	}
}
