// Package resolve projects heterogeneous resolution proposals onto one
// scoring schema. Verbose knowledge-based proposals arrive with narrative
// reasoning and self-assessed scores; terse optimizer outputs arrive with
// solver telemetry and no scores at all. Both leave as a
// NormalizedResolution so the judge cannot discriminate on verbosity.
package resolve

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rail-mind/railmind/internal/units"
)

// NormalizedResolution is the canonical schema every proposal is projected
// into before ranking.
type NormalizedResolution struct {
	ResolutionID      string         `json:"resolution_id"`
	SourceAgent       string         `json:"source_agent"`
	StrategyName      string         `json:"strategy_name"`
	Actions           []string       `json:"actions"`
	ExpectedOutcome   string         `json:"expected_outcome"`
	Reasoning         string         `json:"reasoning"`
	SafetyScore       float64        `json:"safety_score"`
	EfficiencyScore   float64        `json:"efficiency_score"`
	FeasibilityScore  float64        `json:"feasibility_score"`
	OverallFitness    float64        `json:"overall_fitness"`
	EstimatedDelayMin float64        `json:"estimated_delay_min"`
	AffectedTrains    []string       `json:"affected_trains"`
	SideEffects       []string       `json:"side_effects"`
	AlgorithmType     string         `json:"algorithm_type"`
	RawData           map[string]any `json:"raw_data,omitempty"`
}

// VerboseProposal is a knowledge-based proposal with narrative reasoning
// and self-assessed scores. The score fields are pointers so an absent
// self-assessment is distinguishable from a genuine zero; absent scores
// normalize to the neutral 0.5.
type VerboseProposal struct {
	AgentName                  string         `json:"agent_name"`
	StrategyName               string         `json:"strategy_name"`
	AlgorithmType              string         `json:"algorithm_type"`
	Actions                    []string       `json:"actions"`
	Reasoning                  string         `json:"reasoning"`
	ExpectedOutcome            string         `json:"expected_outcome"`
	SafetyScore                *float64       `json:"safety_score,omitempty"`
	EfficiencyScore            *float64       `json:"efficiency_score,omitempty"`
	FeasibilityScore           *float64       `json:"feasibility_score,omitempty"`
	Confidence                 *float64       `json:"confidence,omitempty"`
	EstimatedDelayReductionSec float64        `json:"estimated_delay_reduction_sec"`
	AffectedTrains             []string       `json:"affected_trains"`
	SideEffects                []string       `json:"side_effects"`
	RawData                    map[string]any `json:"raw_data,omitempty"`
}

// OptimizerProposal is a terse solver output with telemetry instead of
// scores.
type OptimizerProposal struct {
	SolverName         string         `json:"solver_name"`
	Fitness            float64        `json:"fitness"`
	TotalDelayMin      float64        `json:"total_delay_min"`
	OriginalDelayMin   float64        `json:"original_delay_min"`
	NumActions         int            `json:"num_actions"`
	PassengerImpact    float64        `json:"passenger_impact"`
	PropagationDepth   int            `json:"propagation_depth"`
	RecoverySmoothness float64        `json:"recovery_smoothness"`
	Actions            []string       `json:"actions"`
	RawData            map[string]any `json:"raw_data,omitempty"`
}

// ProposalSet carries both proposal classes of one ranking request.
type ProposalSet struct {
	Verbose   []VerboseProposal   `json:"verbose"`
	Optimizer []OptimizerProposal `json:"optimizer"`
}

// Per-solver baselines. Safety reflects how conservatively each solver
// treats constraints; feasibility reflects how directly its plans map to
// dispatcher actions.
var (
	solverSafetyBaseline = map[string]float64{
		"lns":                 0.90,
		"nsga2":               0.88,
		"simulated_annealing": 0.85,
		"genetic_algorithm":   0.85,
		"greedy":              0.80,
	}
	solverFeasibilityBaseline = map[string]float64{
		"greedy":              0.90,
		"lns":                 0.85,
		"simulated_annealing": 0.80,
		"genetic_algorithm":   0.80,
		"nsga2":               0.75,
	}
	solverStrategyName = map[string]string{
		"lns":                 "Large Neighborhood Search Recovery",
		"nsga2":               "Multi-Objective Evolutionary Plan (NSGA-II)",
		"simulated_annealing": "Simulated Annealing Schedule Repair",
		"genetic_algorithm":   "Genetic Algorithm Rescheduling",
		"greedy":              "Greedy Dispatch Heuristic",
	}
)

const defaultSolverBaseline = 0.80

// defaultSelfScore stands in for a missing self-assessment. A score-less
// historical proposal must not enter the ranking zeroed out.
const defaultSelfScore = 0.5

// reasoningKeywords select the sentences worth keeping when condensing
// narrative reasoning.
var reasoningKeywords = []string{"safety", "optimization", "constraint", "algorithm", "effective", "proven"}

// trainIDPattern matches train identifiers such as REG_2104 or IC_540
// inside free-text actions.
var trainIDPattern = regexp.MustCompile(`[A-Z]+_\d+`)

// Normalizer assigns stable ids and projects proposals onto the canonical
// schema.
type Normalizer struct {
	seq int
}

// NormalizeSet projects a full proposal set, verbose proposals first.
func (n *Normalizer) NormalizeSet(set ProposalSet) []NormalizedResolution {
	out := make([]NormalizedResolution, 0, len(set.Verbose)+len(set.Optimizer))
	for _, p := range set.Verbose {
		out = append(out, n.NormalizeVerbose(p))
	}
	for _, p := range set.Optimizer {
		out = append(out, n.NormalizeOptimizer(p))
	}
	return out
}

// NormalizeVerbose keeps the proposal's self-assessed scores verbatim and
// condenses its narrative to at most two key sentences.
func (n *Normalizer) NormalizeVerbose(p VerboseProposal) NormalizedResolution {
	agent := p.AgentName
	if agent == "" {
		agent = "historical_agent"
	}
	algorithm := p.AlgorithmType
	if algorithm == "" {
		algorithm = "knowledge_based"
	}
	strategy := p.StrategyName
	if strategy == "" {
		strategy = "Historical Precedent Plan"
	}
	outcome := p.ExpectedOutcome
	if outcome == "" {
		outcome = fmt.Sprintf("Recovers an estimated %.1f minutes of delay through %d coordinated actions.",
			units.SecondsToMinutes(p.EstimatedDelayReductionSec), len(p.Actions))
	}
	trains := p.AffectedTrains
	if len(trains) == 0 {
		trains = ExtractTrainIDs(p.Actions)
	}

	return NormalizedResolution{
		ResolutionID:      n.nextID(),
		SourceAgent:       agent,
		StrategyName:      strategy,
		Actions:           append([]string(nil), p.Actions...),
		ExpectedOutcome:   outcome,
		Reasoning:         CondenseReasoning(p.Reasoning),
		SafetyScore:       clamp01(selfScoreOr(p.SafetyScore)),
		EfficiencyScore:   clamp01(selfScoreOr(p.EfficiencyScore)),
		FeasibilityScore:  clamp01(selfScoreOr(p.FeasibilityScore)),
		OverallFitness:    clamp01(selfScoreOr(p.Confidence)),
		EstimatedDelayMin: units.SecondsToMinutes(p.EstimatedDelayReductionSec),
		AffectedTrains:    trains,
		SideEffects:       append([]string(nil), p.SideEffects...),
		AlgorithmType:     algorithm,
		RawData:           p.RawData,
	}
}

// NormalizeOptimizer computes objective scores from solver telemetry.
func (n *Normalizer) NormalizeOptimizer(p OptimizerProposal) NormalizedResolution {
	solver := strings.ToLower(strings.TrimSpace(p.SolverName))

	efficiency := 0.5
	if p.OriginalDelayMin > 0 {
		efficiency = clamp01(0.5 + 0.5*(p.OriginalDelayMin-p.TotalDelayMin)/p.OriginalDelayMin)
	}

	safety := baselineOr(solverSafetyBaseline, solver)
	if p.PropagationDepth == 0 {
		safety += 0.05
	}
	if p.RecoverySmoothness > 0.9 {
		safety += 0.05
	}
	safety = clamp01(safety)

	feasibility := baselineOr(solverFeasibilityBaseline, solver) - 0.05*float64(p.NumActions)
	if p.Fitness > 0.7 {
		feasibility += 0.05
	}
	feasibility = clamp01(feasibility)

	strategy := solverStrategyName[solver]
	if strategy == "" {
		strategy = fmt.Sprintf("%s Optimization Plan", titleCase(solver))
	}

	improvement := 0.0
	if p.OriginalDelayMin > 0 {
		improvement = (p.OriginalDelayMin - p.TotalDelayMin) / p.OriginalDelayMin * 100
	}

	return NormalizedResolution{
		ResolutionID: n.nextID(),
		SourceAgent:  "optimizer_" + solver,
		StrategyName: strategy,
		Actions:      append([]string(nil), p.Actions...),
		ExpectedOutcome: fmt.Sprintf("Reduces total delay from %.1f to %.1f minutes (%.0f%% improvement) through %d actions.",
			p.OriginalDelayMin, p.TotalDelayMin, improvement, p.NumActions),
		Reasoning: fmt.Sprintf("%s search converged at fitness %.2f with propagation depth %d and recovery smoothness %.2f.",
			strategy, p.Fitness, p.PropagationDepth, p.RecoverySmoothness),
		SafetyScore:       safety,
		EfficiencyScore:   efficiency,
		FeasibilityScore:  feasibility,
		OverallFitness:    clamp01(p.Fitness),
		// Recovered minutes, the same quantity the verbose path reports.
		EstimatedDelayMin: p.OriginalDelayMin - p.TotalDelayMin,
		AffectedTrains:    ExtractTrainIDs(p.Actions),
		SideEffects:       optimizerSideEffects(p),
		AlgorithmType:     solver,
		RawData:           p.RawData,
	}
}

func (n *Normalizer) nextID() string {
	n.seq++
	return fmt.Sprintf("RES_%03d", n.seq)
}

// CondenseReasoning keeps at most two sentences, preferring the ones that
// carry the decision-relevant keywords.
func CondenseReasoning(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	sentences := splitSentences(text)
	if len(sentences) <= 2 {
		return text
	}

	var kept []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, kw := range reasoningKeywords {
			if strings.Contains(lower, kw) {
				kept = append(kept, s)
				break
			}
		}
		if len(kept) == 2 {
			break
		}
	}
	if len(kept) == 0 {
		kept = sentences[:2]
	}
	joined := strings.Join(kept, " ")
	if !strings.HasSuffix(joined, ".") && !strings.HasSuffix(joined, "!") && !strings.HasSuffix(joined, "?") {
		joined += "."
	}
	return joined
}

// ExtractTrainIDs pulls train identifiers out of free-text actions,
// deduplicated and sorted.
func ExtractTrainIDs(actions []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range actions {
		for _, id := range trainIDPattern.FindAllString(a, -1) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

func optimizerSideEffects(p OptimizerProposal) []string {
	var out []string
	if p.PassengerImpact > 0.5 {
		out = append(out, "noticeable passenger-facing delay redistribution")
	}
	if p.PropagationDepth > 0 {
		out = append(out, fmt.Sprintf("touches %d downstream services", p.PropagationDepth))
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func selfScoreOr(v *float64) float64 {
	if v == nil {
		return defaultSelfScore
	}
	return *v
}

func baselineOr(m map[string]float64, solver string) float64 {
	if v, ok := m[solver]; ok {
		return v
	}
	return defaultSolverBaseline
}

func titleCase(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' || r == '-' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
