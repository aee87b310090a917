package network

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rail-mind/railmind/internal/units"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON string

var (
	schemaOnce     sync.Once
	snapshotSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("snapshot.schema.json", strings.NewReader(snapshotSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add snapshot schema resource: %w", err)
			return
		}
		snapshotSchema, schemaErr = compiler.Compile("snapshot.schema.json")
	})
	return snapshotSchema, schemaErr
}

// ValidateSnapshot checks raw snapshot JSON against the closed schema
// without constructing a model.
func ValidateSnapshot(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("snapshot is not valid JSON: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("snapshot schema violation: %w", err)
	}
	return nil
}

// ParseSnapshot validates and decodes a snapshot document, applies loader
// defaults and returns an indexed model. Any failure aborts with no partial
// model.
func ParseSnapshot(raw []byte) (*Network, error) {
	if err := ValidateSnapshot(raw); err != nil {
		return nil, err
	}
	var n Network
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	n.applyDefaults()
	n.buildIndex()
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot rejected: %w", err)
	}
	return &n, nil
}

// LoadSnapshot reads and parses a snapshot file.
func LoadSnapshot(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	n, err := ParseSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	return n, nil
}

// Loader defaults for fields a partial snapshot omits. Values are chosen so
// a minimal fixture (ids and endpoints only) yields a runnable network.
const (
	defaultMaxTrainsAtOnce = 2
	defaultRailCapacity    = 2
	defaultMinHeadwaySec   = 120
	defaultMaxSpeedKmh     = 160
	defaultTravelTimeMin   = 5
)

func (n *Network) applyDefaults() {
	for _, s := range n.Stations {
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.MaxTrainsAtOnce <= 0 {
			s.MaxTrainsAtOnce = defaultMaxTrainsAtOnce
		}
		if s.BlockingBehavior == "" {
			s.BlockingBehavior = BlockingSoft
		}
		if s.CurrentTrains == nil {
			s.CurrentTrains = []string{}
		}
		if s.ActiveIncidents == nil {
			s.ActiveIncidents = []*Incident{}
		}
	}
	for _, r := range n.Rails {
		if r.MaxSpeedKmh <= 0 {
			r.MaxSpeedKmh = defaultMaxSpeedKmh
		}
		if r.TravelTimeMin <= 0 {
			if r.DistanceKm > 0 {
				r.TravelTimeMin = units.HoursToMinutes(r.DistanceKm / r.MaxSpeedKmh)
			} else {
				r.TravelTimeMin = defaultTravelTimeMin
			}
		}
		if r.Capacity <= 0 {
			r.Capacity = defaultRailCapacity
		}
		if r.MinHeadwaySec <= 0 {
			r.MinHeadwaySec = defaultMinHeadwaySec
		}
		if r.Direction == "" {
			r.Direction = Bidirectional
		}
		if r.RiskProfile == "" {
			r.RiskProfile = RiskLow
		}
		if r.ActiveIncidents == nil {
			r.ActiveIncidents = []*Incident{}
		}
	}
	for _, t := range n.Trains {
		if t.TrainType == "" {
			t.TrainType = TypeRegional
		}
		if t.Status == "" {
			t.Status = StatusStopped
		}
		if t.CurrentPositionType == "" {
			t.CurrentPositionType = PositionUnknown
		}
		if t.Route == nil {
			t.Route = []RouteStop{}
		}
		for i := range t.Route {
			if t.Route[i].StationOrder == 0 {
				t.Route[i].StationOrder = i
			}
		}
	}
}

// Marshal serialises the model back to snapshot JSON with stable field
// order and indentation. The output round-trips through ParseSnapshot.
func (n *Network) Marshal() ([]byte, error) {
	return json.MarshalIndent(n, "", "  ")
}

// DeepCopy clones the model through its JSON form so the copy shares no
// memory with the original. The clone is re-indexed and ready for use.
func (n *Network) DeepCopy() (*Network, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("deep copy marshal: %w", err)
	}
	var out Network
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("deep copy unmarshal: %w", err)
	}
	out.buildIndex()
	return &out, nil
}
