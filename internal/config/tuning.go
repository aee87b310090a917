package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/rail/sim"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the runtime-tunable simulation and predictor
// parameters. Every field is a pointer so a partial JSON file only
// overrides what it names; nil fields keep the scenario or built-in
// defaults. The schema matches the /api/config endpoint where the
// fields overlap.
type TuningConfig struct {
	// Simulation params
	TickIntervalSeconds *int     `json:"tick_interval_seconds,omitempty"`
	MaxTicks            *int     `json:"max_ticks,omitempty"`
	DelayProbability    *float64 `json:"delay_probability,omitempty"`
	SpeedVariation      *float64 `json:"speed_variation,omitempty"`
	TrainSpawnRate      *float64 `json:"train_spawn_rate,omitempty"`
	MaxActiveTrains     *int     `json:"max_active_trains,omitempty"`
	MaxDelaySeconds     *int     `json:"max_delay_seconds,omitempty"`
	IncidentProbability *float64 `json:"incident_probability,omitempty"`
	TickRealSeconds     *float64 `json:"tick_real_seconds,omitempty"`

	// Predictor params
	PredictionHorizonMin       *float64 `json:"prediction_horizon_min,omitempty"`
	TriggerDelayThresholdSec   *int     `json:"trigger_delay_threshold_sec,omitempty"`
	TriggerCongestionThreshold *float64 `json:"trigger_congestion_threshold,omitempty"`
	TriggerHubApproach         *bool    `json:"trigger_hub_approach,omitempty"`
	ContinuousIntervalSec      *int     `json:"continuous_interval_sec,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file stay nil, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the set configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.TickIntervalSeconds != nil && *c.TickIntervalSeconds < 1 {
		return fmt.Errorf("tick_interval_seconds must be at least 1, got %d", *c.TickIntervalSeconds)
	}
	if c.MaxTicks != nil && *c.MaxTicks < 0 {
		return fmt.Errorf("max_ticks must be non-negative, got %d", *c.MaxTicks)
	}
	if c.DelayProbability != nil {
		if *c.DelayProbability < 0 || *c.DelayProbability > 1 {
			return fmt.Errorf("delay_probability must be between 0 and 1, got %f", *c.DelayProbability)
		}
	}
	if c.SpeedVariation != nil {
		if *c.SpeedVariation < 0 || *c.SpeedVariation > 1 {
			return fmt.Errorf("speed_variation must be between 0 and 1, got %f", *c.SpeedVariation)
		}
	}
	if c.TrainSpawnRate != nil {
		if *c.TrainSpawnRate < 0 || *c.TrainSpawnRate > 1 {
			return fmt.Errorf("train_spawn_rate must be between 0 and 1, got %f", *c.TrainSpawnRate)
		}
	}
	if c.MaxActiveTrains != nil && *c.MaxActiveTrains < 1 {
		return fmt.Errorf("max_active_trains must be at least 1, got %d", *c.MaxActiveTrains)
	}
	if c.MaxDelaySeconds != nil && *c.MaxDelaySeconds < 0 {
		return fmt.Errorf("max_delay_seconds must be non-negative, got %d", *c.MaxDelaySeconds)
	}
	if c.IncidentProbability != nil {
		if *c.IncidentProbability < 0 || *c.IncidentProbability > 1 {
			return fmt.Errorf("incident_probability must be between 0 and 1, got %f", *c.IncidentProbability)
		}
	}
	if c.TickRealSeconds != nil && *c.TickRealSeconds < 0 {
		return fmt.Errorf("tick_real_seconds must be non-negative, got %f", *c.TickRealSeconds)
	}
	if c.PredictionHorizonMin != nil && *c.PredictionHorizonMin <= 0 {
		return fmt.Errorf("prediction_horizon_min must be positive, got %f", *c.PredictionHorizonMin)
	}
	if c.TriggerDelayThresholdSec != nil && *c.TriggerDelayThresholdSec < 0 {
		return fmt.Errorf("trigger_delay_threshold_sec must be non-negative, got %d", *c.TriggerDelayThresholdSec)
	}
	if c.TriggerCongestionThreshold != nil {
		if *c.TriggerCongestionThreshold < 0 || *c.TriggerCongestionThreshold > 1 {
			return fmt.Errorf("trigger_congestion_threshold must be between 0 and 1, got %f", *c.TriggerCongestionThreshold)
		}
	}
	if c.ContinuousIntervalSec != nil && *c.ContinuousIntervalSec < 1 {
		return fmt.Errorf("continuous_interval_sec must be at least 1, got %d", *c.ContinuousIntervalSec)
	}
	return nil
}

// ApplySim overlays the set simulation fields onto cfg. Nil fields keep
// the incoming values, so scenario presets survive a partial file.
func (c *TuningConfig) ApplySim(cfg sim.Config) sim.Config {
	if c.TickIntervalSeconds != nil {
		cfg.TickIntervalSeconds = *c.TickIntervalSeconds
	}
	if c.MaxTicks != nil {
		cfg.MaxTicks = *c.MaxTicks
	}
	if c.DelayProbability != nil {
		cfg.DelayProbability = *c.DelayProbability
	}
	if c.SpeedVariation != nil {
		cfg.SpeedVariation = *c.SpeedVariation
	}
	if c.TrainSpawnRate != nil {
		cfg.TrainSpawnRate = *c.TrainSpawnRate
	}
	if c.MaxActiveTrains != nil {
		cfg.MaxActiveTrains = *c.MaxActiveTrains
	}
	if c.MaxDelaySeconds != nil {
		cfg.MaxDelaySeconds = *c.MaxDelaySeconds
	}
	if c.IncidentProbability != nil {
		cfg.IncidentProbability = *c.IncidentProbability
	}
	if c.TickRealSeconds != nil {
		cfg.TickRealSeconds = *c.TickRealSeconds
	}
	return cfg
}

// ApplyPredict overlays the set predictor fields onto cfg.
func (c *TuningConfig) ApplyPredict(cfg predict.Config) predict.Config {
	if c.PredictionHorizonMin != nil {
		cfg.HorizonMin = *c.PredictionHorizonMin
	}
	if c.TriggerDelayThresholdSec != nil {
		cfg.Triggers.DelayThresholdSec = *c.TriggerDelayThresholdSec
	}
	if c.TriggerCongestionThreshold != nil {
		cfg.Triggers.CongestionThreshold = *c.TriggerCongestionThreshold
	}
	if c.TriggerHubApproach != nil {
		cfg.Triggers.HubApproach = *c.TriggerHubApproach
	}
	if c.ContinuousIntervalSec != nil {
		cfg.Triggers.ContinuousIntervalSec = *c.ContinuousIntervalSec
	}
	return cfg
}

// GetTickIntervalSeconds returns the tick_interval_seconds value or the default.
func (c *TuningConfig) GetTickIntervalSeconds() int {
	if c.TickIntervalSeconds == nil {
		return 10
	}
	return *c.TickIntervalSeconds
}

// GetMaxTicks returns the max_ticks value or the default.
func (c *TuningConfig) GetMaxTicks() int {
	if c.MaxTicks == nil {
		return 100
	}
	return *c.MaxTicks
}

// GetDelayProbability returns the delay_probability value or the default.
func (c *TuningConfig) GetDelayProbability() float64 {
	if c.DelayProbability == nil {
		return 0.1
	}
	return *c.DelayProbability
}

// GetSpeedVariation returns the speed_variation value or the default.
func (c *TuningConfig) GetSpeedVariation() float64 {
	if c.SpeedVariation == nil {
		return 0.2
	}
	return *c.SpeedVariation
}

// GetTrainSpawnRate returns the train_spawn_rate value or the default.
func (c *TuningConfig) GetTrainSpawnRate() float64 {
	if c.TrainSpawnRate == nil {
		return 0.3
	}
	return *c.TrainSpawnRate
}

// GetMaxActiveTrains returns the max_active_trains value or the default.
func (c *TuningConfig) GetMaxActiveTrains() int {
	if c.MaxActiveTrains == nil {
		return 50
	}
	return *c.MaxActiveTrains
}

// GetMaxDelaySeconds returns the max_delay_seconds value or the default.
func (c *TuningConfig) GetMaxDelaySeconds() int {
	if c.MaxDelaySeconds == nil {
		return 600
	}
	return *c.MaxDelaySeconds
}

// GetIncidentProbability returns the incident_probability value or the default.
func (c *TuningConfig) GetIncidentProbability() float64 {
	if c.IncidentProbability == nil {
		return 0.05
	}
	return *c.IncidentProbability
}

// GetTickRealSeconds returns the tick_real_seconds value or the default.
func (c *TuningConfig) GetTickRealSeconds() float64 {
	if c.TickRealSeconds == nil {
		return 0
	}
	return *c.TickRealSeconds
}

// GetPredictionHorizonMin returns the prediction_horizon_min value or the default.
func (c *TuningConfig) GetPredictionHorizonMin() float64 {
	if c.PredictionHorizonMin == nil {
		return 15
	}
	return *c.PredictionHorizonMin
}

// GetTriggerDelayThresholdSec returns the trigger_delay_threshold_sec value or the default.
func (c *TuningConfig) GetTriggerDelayThresholdSec() int {
	if c.TriggerDelayThresholdSec == nil {
		return 120
	}
	return *c.TriggerDelayThresholdSec
}

// GetTriggerCongestionThreshold returns the trigger_congestion_threshold value or the default.
func (c *TuningConfig) GetTriggerCongestionThreshold() float64 {
	if c.TriggerCongestionThreshold == nil {
		return 0.8
	}
	return *c.TriggerCongestionThreshold
}

// GetTriggerHubApproach returns the trigger_hub_approach value or the default.
func (c *TuningConfig) GetTriggerHubApproach() bool {
	if c.TriggerHubApproach == nil {
		return true
	}
	return *c.TriggerHubApproach
}

// GetContinuousIntervalSec returns the continuous_interval_sec value or the default.
func (c *TuningConfig) GetContinuousIntervalSec() int {
	if c.ContinuousIntervalSec == nil {
		return 30
	}
	return *c.ContinuousIntervalSec
}
