// Package api exposes the simulation over HTTP: state and control
// endpoints, station and region risk views, conflict document
// management, model introspection, and a websocket feed of tick
// reports.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// defaultAutoSaveTicks is the save cadence when auto-save is enabled
// without an explicit interval.
const defaultAutoSaveTicks = 5

// Server serves the simulation API. The history database is optional;
// endpoints that read it degrade to live-state-only responses when it
// is nil.
type Server struct {
	sys *rail.System
	db  *db.DB
	hub *Hub

	startedAt time.Time

	autoMu        sync.Mutex
	autoSaveOn    bool
	autoSaveEvery int
}

func NewServer(sys *rail.System, database *db.DB) *Server {
	s := &Server{
		sys:           sys,
		db:            database,
		hub:           NewHub(),
		startedAt:     time.Now().UTC(),
		autoSaveEvery: defaultAutoSaveTicks,
	}
	sys.AddListener(s.hub)
	sys.AddListener(rail.ListenerFunc(s.maybeAutoSave))
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/api/simulation/state", s.handleSimulationState)
	mux.HandleFunc("/api/simulation/tick", s.handleSimulationTick)
	mux.HandleFunc("/api/simulation/start", s.handleSimulationStart)
	mux.HandleFunc("/api/simulation/multi-tick/", s.handleMultiTick)
	mux.HandleFunc("/api/prediction/", s.handleStationPrediction)
	mux.HandleFunc("/api/region/", s.handleRegion)
	mux.HandleFunc("/api/trains", s.handleTrains)
	mux.HandleFunc("/api/stations", s.handleStations)
	mux.HandleFunc("/api/stats", s.handleStats)

	mux.HandleFunc("/api/conflicts/save", s.handleConflictsSave)
	mux.HandleFunc("/api/conflicts/list", s.handleConflictsList)
	mux.HandleFunc("/api/conflicts/load/", s.handleConflictsLoad)
	mux.HandleFunc("/api/conflicts/latest", s.handleConflictsLatest)
	mux.HandleFunc("/api/conflicts/auto-save", s.handleConflictsAutoSave)

	mux.HandleFunc("/api/context/apply", s.handleContextApply)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/thresholds", s.handleThresholds)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/model/info", s.handleModelInfo)
	mux.HandleFunc("/api/model/test", s.handleModelTest)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// maybeAutoSave persists the conflict document on the configured tick
// cadence. It runs as a tick listener, outside the system lock, so the
// save reads a settled post-tick state.
func (s *Server) maybeAutoSave(rep rail.TickReport) {
	s.autoMu.Lock()
	enabled, every := s.autoSaveOn, s.autoSaveEvery
	s.autoMu.Unlock()

	if !enabled || rep.Change == nil {
		return
	}
	if every < 1 {
		every = defaultAutoSaveTicks
	}
	if rep.Change.Tick%every != 0 {
		return
	}
	if _, err := s.sys.SaveConflicts(""); err != nil {
		log.Printf("[api] auto-save failed: %v", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	index := map[string]interface{}{
		"service": "railmind",
		"version": version.Version,
		"endpoints": map[string]string{
			"state":      "/api/simulation/state",
			"tick":       "POST /api/simulation/tick",
			"start":      "POST /api/simulation/start",
			"multi_tick": "POST /api/simulation/multi-tick/{count}",
			"prediction": "/api/prediction/{station_id}",
			"region":     "/api/region/{region}",
			"trains":     "/api/trains",
			"stations":   "/api/stations",
			"conflicts":  "/api/conflicts/list",
			"context":    "POST /api/context/apply",
			"websocket":  "/ws",
		},
	}
	if err := json.NewEncoder(w).Encode(index); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write index")
		return
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	health := map[string]interface{}{
		"status":     "healthy",
		"version":    version.Version,
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
		"running":    s.sys.Running(),
		"tick":       s.sys.TickCount(),
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write health")
		return
	}
}
