// Package predict scores trains for near-term conflict risk. A trained
// scaler-plus-classifier artifact drives the scoring when one is loaded;
// otherwise a deterministic heuristic keeps predictions flowing. Smart
// triggers gate when a train is worth scoring at all.
package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rail-mind/railmind/internal/rail/features"
)

// ErrNoModel signals that no trained artifact is available and the
// predictor is running on the heuristic.
var ErrNoModel = errors.New("no trained model loaded")

// Scaler holds per-feature standardisation parameters in training order.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Classifier is a logistic model over the scaled feature vector.
type Classifier struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
}

// Model is the trained artifact produced by the offline training batch.
// FeatureNames must match the extractor's training order exactly.
type Model struct {
	Version      string             `json:"version"`
	TrainedAt    time.Time          `json:"trained_at"`
	FeatureNames []string           `json:"feature_names"`
	Scaler       Scaler             `json:"scaler"`
	Classifier   Classifier         `json:"classifier"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

// LoadModel reads and validates a model artifact. An empty path returns
// ErrNoModel so callers can fall through to the heuristic.
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return nil, ErrNoModel
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoModel, path)
		}
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing model artifact: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the artifact against the extractor's training order.
func (m *Model) Validate() error {
	if len(m.FeatureNames) != features.Count {
		return fmt.Errorf("expected %d features, artifact has %d", features.Count, len(m.FeatureNames))
	}
	for i, name := range m.FeatureNames {
		if name != features.FeatureNames[i] {
			return fmt.Errorf("feature %d is %q, training order requires %q", i, name, features.FeatureNames[i])
		}
	}
	if len(m.Scaler.Mean) != features.Count || len(m.Scaler.Scale) != features.Count {
		return fmt.Errorf("scaler width %d/%d does not match %d features",
			len(m.Scaler.Mean), len(m.Scaler.Scale), features.Count)
	}
	if len(m.Classifier.Coefficients) != features.Count {
		return fmt.Errorf("classifier width %d does not match %d features",
			len(m.Classifier.Coefficients), features.Count)
	}
	return nil
}

// Score returns the conflict probability for an ordered feature vector.
func (m *Model) Score(ordered []float64) float64 {
	z := m.Classifier.Intercept
	for i, x := range ordered {
		scale := m.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		z += m.Classifier.Coefficients[i] * (x - m.Scaler.Mean[i]) / scale
	}
	return 1 / (1 + math.Exp(-z))
}

// Contributions returns each feature's signed share of the logit.
func (m *Model) Contributions(ordered []float64) []float64 {
	out := make([]float64, len(ordered))
	for i, x := range ordered {
		scale := m.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = m.Classifier.Coefficients[i] * (x - m.Scaler.Mean[i]) / scale
	}
	return out
}
