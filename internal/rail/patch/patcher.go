package patch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rail-mind/railmind/internal/rail/judge"
	"github.com/rail-mind/railmind/internal/rail/network"
)

// ErrStructureChanged indicates the patched model no longer matches the
// input's structural skeleton. The patched copy is discarded when this is
// returned.
var ErrStructureChanged = errors.New("patch: context structure changed")

// Patcher executes a chosen resolution against a network model.
type Patcher struct {
	interp *Interpreter
}

// New creates a Patcher. A nil interpreter skips the LLM and goes straight
// to the keyword rules.
func New(interp *Interpreter) *Patcher {
	return &Patcher{interp: interp}
}

// Apply translates the resolution's actions into instructions and applies
// them to a deep copy of the model. The input model is never modified. The
// applied instructions are returned alongside the patched copy so callers
// can record what was done.
func (p *Patcher) Apply(ctx context.Context, res *judge.RankedResolution, n *network.Network) (*network.Network, *Instructions, error) {
	if res == nil {
		return nil, nil, errors.New("patch: no resolution to apply")
	}

	actions := res.BulletActions.Actions
	affected := res.Resolution.AffectedTrains
	strategy := res.Resolution.StrategyName
	if strategy == "" {
		strategy = res.ResolutionID
	}

	ins := p.interpret(ctx, actions, affected, strategy, n)
	patched, err := p.ApplyInstructions(ins, affected, n)
	if err != nil {
		return nil, nil, err
	}
	return patched, ins, nil
}

func (p *Patcher) interpret(ctx context.Context, actions, affected []string, strategy string, n *network.Network) *Instructions {
	if p.interp == nil {
		return KeywordFallback(actions)
	}
	ins, err := p.interp.Interpret(ctx, actions, affected, strategy, n)
	if err != nil {
		log.Printf("[patch] interpreter failed: %v; falling back to keyword rules", err)
		return KeywordFallback(actions)
	}
	return ins
}

// ApplyInstructions applies a pre-built instruction plan to a deep copy of
// the model and validates structural identity against the input. No partial
// result survives a validation failure.
func (p *Patcher) ApplyInstructions(ins *Instructions, affectedTrains []string, n *network.Network) (*network.Network, error) {
	patched, err := n.DeepCopy()
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}

	for _, ru := range ins.RailUpdates {
		applyRailUpdate(patched, ru)
	}
	for _, tu := range ins.TrainUpdates {
		applyTrainUpdate(patched, tu)
	}
	for _, gu := range ins.GlobalUpdates {
		applyGlobalUpdate(patched, gu, affectedTrains)
	}

	if err := validateStructure(n, patched); err != nil {
		return nil, err
	}
	return patched, nil
}

func applyRailUpdate(n *network.Network, ru RailUpdate) {
	rail := n.Rail(ru.Source, ru.Target)
	if rail == nil {
		log.Printf("[patch] no rail %s->%s, skipping update", ru.Source, ru.Target)
		return
	}
	where := fmt.Sprintf("rail %s->%s", ru.Source, ru.Target)
	for _, u := range ru.Updates {
		applyField(rail.NumericField, rail.SetField, u, where)
	}
}

func applyTrainUpdate(n *network.Network, tu TrainUpdate) {
	train := n.Train(tu.TrainID)
	if train == nil {
		log.Printf("[patch] no train %s, skipping update", tu.TrainID)
		return
	}
	where := "train " + tu.TrainID
	for _, u := range tu.Updates {
		applyField(train.NumericField, train.SetField, u, where)
	}
}

func applyGlobalUpdate(n *network.Network, gu GlobalUpdate, affectedTrains []string) {
	// Entries without a parameter are strategy notes, not updates.
	if gu.Parameter == "" {
		return
	}
	u := FieldUpdate{Field: gu.Parameter, Operation: gu.Operation, Value: gu.Value}
	for _, rail := range railsForTrains(n, affectedTrains) {
		applyField(rail.NumericField, rail.SetField, u, "rail "+rail.Key())
	}
}

// applyField performs one operation against a single element. Unknown
// fields and type mismatches are logged and skipped so one bad entry does
// not abort the plan; structural validation still guards the result.
func applyField(get func(string) (float64, error), set func(string, any) error, u FieldUpdate, where string) {
	switch u.Operation {
	case OpKeepSame:
		return
	case OpSet:
		if err := set(u.Field, u.Value); err != nil {
			log.Printf("[patch] %s: %v", where, err)
		}
	case OpMultiply, OpAdd, OpSubtract:
		current, err := get(u.Field)
		if err != nil {
			log.Printf("[patch] %s: %v", where, err)
			return
		}
		operand, ok := asNumber(u.Value)
		if !ok {
			log.Printf("[patch] %s: operation %q on %s needs a numeric value", where, u.Operation, u.Field)
			return
		}
		var next float64
		switch u.Operation {
		case OpMultiply:
			next = current * operand
		case OpAdd:
			next = current + operand
		case OpSubtract:
			next = current - operand
		}
		if err := set(u.Field, next); err != nil {
			log.Printf("[patch] %s: %v", where, err)
		}
	default:
		log.Printf("[patch] %s: unknown operation %q", where, u.Operation)
	}
}

// railsForTrains collects every rail the given trains traverse, taking
// consecutive route-stop pairs with a direction-insensitive edge match.
// Order follows route discovery and each rail appears once.
func railsForTrains(n *network.Network, trainIDs []string) []*network.Rail {
	seen := make(map[string]bool)
	var rails []*network.Rail
	for _, id := range trainIDs {
		train := n.Train(id)
		if train == nil {
			continue
		}
		for i := 0; i+1 < len(train.Route); i++ {
			rail := n.RailBetween(train.Route[i].StationName, train.Route[i+1].StationName)
			if rail == nil || seen[rail.Key()] {
				continue
			}
			seen[rail.Key()] = true
			rails = append(rails, rail)
		}
	}
	return rails
}

// validateStructure compares the serialized skeletons of the original and
// patched models: key sets and list lengths at every level must match. The
// patched document must also still satisfy the snapshot schema.
func validateStructure(original, patched *network.Network) error {
	origJSON, err := original.Marshal()
	if err != nil {
		return fmt.Errorf("patch: marshal original: %w", err)
	}
	patchedJSON, err := patched.Marshal()
	if err != nil {
		return fmt.Errorf("patch: marshal patched: %w", err)
	}

	var origDoc, patchedDoc any
	if err := json.Unmarshal(origJSON, &origDoc); err != nil {
		return fmt.Errorf("patch: decode original: %w", err)
	}
	if err := json.Unmarshal(patchedJSON, &patchedDoc); err != nil {
		return fmt.Errorf("patch: decode patched: %w", err)
	}

	if err := structuralDiff(origDoc, patchedDoc, "$"); err != nil {
		return fmt.Errorf("%w: %v", ErrStructureChanged, err)
	}
	if err := network.ValidateSnapshot(patchedJSON); err != nil {
		return fmt.Errorf("%w: %v", ErrStructureChanged, err)
	}
	return nil
}

// structuralDiff walks two JSON documents in parallel and reports the first
// skeleton difference. Scalar values are free to differ.
func structuralDiff(a, b any, path string) error {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: object replaced by %T", path, b)
		}
		if len(av) != len(bv) {
			return fmt.Errorf("%s: key count %d became %d", path, len(av), len(bv))
		}
		for k, sub := range av {
			bsub, ok := bv[k]
			if !ok {
				return fmt.Errorf("%s: key %q disappeared", path, k)
			}
			if err := structuralDiff(sub, bsub, path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		bv, ok := b.([]any)
		if !ok {
			return fmt.Errorf("%s: list replaced by %T", path, b)
		}
		if len(av) != len(bv) {
			return fmt.Errorf("%s: list length %d became %d", path, len(av), len(bv))
		}
		for i := range av {
			if err := structuralDiff(av[i], bv[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadResolution reads a judge output file and returns its top entry. The
// file may hold either a ranked array or a single resolution object.
func LoadResolution(path string) (*judge.RankedResolution, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("patch: read resolution %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var ranked []judge.RankedResolution
		if err := json.Unmarshal(raw, &ranked); err != nil {
			return nil, fmt.Errorf("patch: decode resolution file %s: %w", path, err)
		}
		if len(ranked) == 0 {
			return nil, fmt.Errorf("patch: resolution file %s is empty", path)
		}
		return &ranked[0], nil
	}
	var single judge.RankedResolution
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("patch: decode resolution file %s: %w", path, err)
	}
	return &single, nil
}
