package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rail-mind/railmind/internal/config"
	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/rail/network"
)

func defaultOptions(t *testing.T) options {
	t.Helper()
	return options{
		listen:   ":8080",
		dbPath:   "",
		scenario: "normal",
		saveDir:  t.TempDir(),
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*options)
		wantErr bool
	}{
		{"defaults", func(o *options) {}, false},
		{"rush hour", func(o *options) { o.scenario = "rush_hour" }, false},
		{"empty listen", func(o *options) { o.listen = "" }, true},
		{"unknown scenario", func(o *options) { o.scenario = "apocalypse" }, true},
		{"negative seed", func(o *options) { o.seed = -1 }, true},
		{"negative tick interval", func(o *options) { o.tickInterval = -5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions(t)
			tt.mutate(&opts)
			err := opts.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmbeddedDemoSnapshotParses(t *testing.T) {
	net, err := network.ParseSnapshot(demoSnapshot)
	if err != nil {
		t.Fatalf("embedded demo snapshot rejected: %v", err)
	}
	if len(net.Stations) == 0 || len(net.Rails) == 0 || len(net.Trains) == 0 {
		t.Fatalf("demo network is incomplete: %d stations, %d rails, %d trains",
			len(net.Stations), len(net.Rails), len(net.Trains))
	}
	if net.Station("MILANO CENTRALE") == nil {
		t.Error("demo network is missing MILANO CENTRALE")
	}
}

func TestRailConfigAppliesFlagOverrides(t *testing.T) {
	opts := defaultOptions(t)
	opts.scenario = "rush_hour"
	opts.seed = 7
	opts.tickInterval = 30

	cfg, err := opts.railConfig(config.EmptyTuningConfig())
	if err != nil {
		t.Fatalf("railConfig: %v", err)
	}

	if cfg.Sim.Scenario != "rush_hour" {
		t.Errorf("Scenario = %q, want rush_hour", cfg.Sim.Scenario)
	}
	if cfg.Sim.Seed != 7 {
		t.Errorf("Seed = %d, want 7", cfg.Sim.Seed)
	}
	if cfg.Sim.TickIntervalSeconds != 30 {
		t.Errorf("TickIntervalSeconds = %d, want 30", cfg.Sim.TickIntervalSeconds)
	}
	// Preset values survive when the flag is unset.
	if cfg.Sim.TrainSpawnRate != 0.6 {
		t.Errorf("TrainSpawnRate = %f, want rush hour preset 0.6", cfg.Sim.TrainSpawnRate)
	}
}

func TestRailConfigZeroFlagsKeepDefaults(t *testing.T) {
	opts := defaultOptions(t)

	cfg, err := opts.railConfig(config.EmptyTuningConfig())
	if err != nil {
		t.Fatalf("railConfig: %v", err)
	}

	if cfg.Sim.Seed != 42 {
		t.Errorf("Seed = %d, want scenario default 42", cfg.Sim.Seed)
	}
	if cfg.Sim.TickIntervalSeconds != 10 {
		t.Errorf("TickIntervalSeconds = %d, want scenario default 10", cfg.Sim.TickIntervalSeconds)
	}
}

func TestRailConfigRealtimePace(t *testing.T) {
	opts := defaultOptions(t)
	opts.realtime = true

	cfg, err := opts.railConfig(config.EmptyTuningConfig())
	if err != nil {
		t.Fatalf("railConfig: %v", err)
	}
	if cfg.Sim.TickRealSeconds != 1 {
		t.Errorf("TickRealSeconds = %f, want realtime default 1", cfg.Sim.TickRealSeconds)
	}
}

func TestRailConfigTuningOverlay(t *testing.T) {
	opts := defaultOptions(t)

	path := filepath.Join(t.TempDir(), "tuning.json")
	if err := os.WriteFile(path, []byte(`{"delay_probability": 0.42}`), 0644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	tuning, err := config.LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}

	cfg, err := opts.railConfig(tuning)
	if err != nil {
		t.Fatalf("railConfig: %v", err)
	}
	if cfg.Sim.DelayProbability != 0.42 {
		t.Errorf("DelayProbability = %f, want tuned 0.42", cfg.Sim.DelayProbability)
	}
	if cfg.Sim.TrainSpawnRate != 0.3 {
		t.Errorf("TrainSpawnRate = %f, want untouched default 0.3", cfg.Sim.TrainSpawnRate)
	}
}

func TestSnapshotBytesMissingFile(t *testing.T) {
	opts := defaultOptions(t)
	opts.snapshotPath = filepath.Join(t.TempDir(), "missing.json")

	if _, err := opts.snapshotBytes(); err == nil {
		t.Error("expected error for missing snapshot file, got nil")
	}
}

func TestBuildHandlerServesCoreRoutes(t *testing.T) {
	opts := defaultOptions(t)
	cfg, err := opts.railConfig(config.EmptyTuningConfig())
	if err != nil {
		t.Fatalf("railConfig: %v", err)
	}
	sys, err := rail.New(cfg)
	if err != nil {
		t.Fatalf("rail.New: %v", err)
	}

	handler := buildHandler(sys, nil)

	for _, path := range []string{"/health", "/api/simulation/state", "/monitor", "/api/stations"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
