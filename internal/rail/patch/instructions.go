// Package patch turns a chosen resolution's actions into value-level
// updates on the network model. The model's structure is inviolable: the
// patcher may change field values on existing trains, stations and rails,
// and nothing else. Every application runs on a deep copy and is validated
// for structural identity before it is handed back.
package patch

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Operation is one of the five value-level update verbs.
type Operation string

const (
	OpSet      Operation = "set"
	OpMultiply Operation = "multiply"
	OpAdd      Operation = "add"
	OpSubtract Operation = "subtract"
	OpKeepSame Operation = "keep_same"
)

// FieldUpdate is one change to a named field of an addressed element.
// Value is unused for keep_same and must be numeric for the arithmetic
// operations.
type FieldUpdate struct {
	Field     string    `json:"field"`
	Operation Operation `json:"operation"`
	Value     any       `json:"value,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// TrainUpdate addresses a train by id.
type TrainUpdate struct {
	TrainID string        `json:"train_id"`
	Updates []FieldUpdate `json:"updates"`
}

// RailUpdate addresses a rail by its directed endpoints.
type RailUpdate struct {
	Source  string        `json:"source"`
	Target  string        `json:"target"`
	Updates []FieldUpdate `json:"updates"`
}

// GlobalUpdate applies one parameter change to every rail the affected
// trains traverse. Entries without a parameter are narrative notes and are
// skipped at apply time.
type GlobalUpdate struct {
	Description string    `json:"description,omitempty"`
	Parameter   string    `json:"parameter,omitempty"`
	Operation   Operation `json:"operation,omitempty"`
	Value       any       `json:"value,omitempty"`
}

// Instructions is the full update plan derived from one resolution.
type Instructions struct {
	TrainUpdates  []TrainUpdate  `json:"train_updates"`
	RailUpdates   []RailUpdate   `json:"rail_updates"`
	GlobalUpdates []GlobalUpdate `json:"global_updates"`
}

// Empty reports whether the plan carries no updates at all.
func (ins *Instructions) Empty() bool {
	return ins == nil ||
		(len(ins.TrainUpdates) == 0 && len(ins.RailUpdates) == 0 && len(ins.GlobalUpdates) == 0)
}

func emptyInstructions() *Instructions {
	return &Instructions{
		TrainUpdates:  []TrainUpdate{},
		RailUpdates:   []RailUpdate{},
		GlobalUpdates: []GlobalUpdate{},
	}
}

//go:embed instructions.schema.json
var instructionsSchemaJSON string

var (
	schemaOnce         sync.Once
	instructionsSchema *jsonschema.Schema
	schemaErr          error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("instructions.schema.json", strings.NewReader(instructionsSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add instructions schema resource: %w", err)
			return
		}
		instructionsSchema, schemaErr = compiler.Compile("instructions.schema.json")
	})
	return instructionsSchema, schemaErr
}

// ValidateInstructions checks raw instruction JSON against the schema.
func ValidateInstructions(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("instructions are not valid JSON: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("instruction schema violation: %w", err)
	}
	return nil
}

// ParseInstructions validates and decodes an instruction document.
func ParseInstructions(raw []byte) (*Instructions, error) {
	if err := ValidateInstructions(raw); err != nil {
		return nil, err
	}
	var ins Instructions
	if err := json.Unmarshal(raw, &ins); err != nil {
		return nil, fmt.Errorf("decode instructions: %w", err)
	}
	return &ins, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
