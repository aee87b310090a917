// Package judge ranks competing conflict resolutions with an LLM.
//
// Proposals from different resolution agents arrive in very different
// shapes; the resolve package flattens them into a uniform format first so
// the judge sees every candidate with the same level of detail. The judge
// then builds one evaluation prompt, asks the model for a ranked JSON
// array, and refuses to guess when the reply cannot be parsed.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rail-mind/railmind/internal/rail/llm"
	"github.com/rail-mind/railmind/internal/rail/resolve"
	"github.com/rail-mind/railmind/internal/timeutil"
)

// DefaultTopK is how many ranked resolutions a session returns.
const DefaultTopK = 3

// ErrUnparsable indicates the LLM reply carried no usable ranking array.
var ErrUnparsable = errors.New("judge: could not parse LLM judgment")

// ConflictContext describes the conflict the candidate resolutions address.
// It is rendered verbatim into the evaluation prompt.
type ConflictContext struct {
	Summary  string   `json:"conflict_summary"`
	Location string   `json:"location"`
	Severity string   `json:"severity"`
	Trains   []string `json:"trains"`
}

// Ranking is one element of the array the LLM returns.
type Ranking struct {
	Rank              int     `json:"rank"`
	ResolutionNumber  int     `json:"resolution_number"`
	ResolutionID      string  `json:"resolution_id"`
	OverallScore      float64 `json:"overall_score"`
	SafetyRating      float64 `json:"safety_rating"`
	EfficiencyRating  float64 `json:"efficiency_rating"`
	FeasibilityRating float64 `json:"feasibility_rating"`
	RobustnessRating  float64 `json:"robustness_rating"`
	Justification     string  `json:"justification"`
}

// ActionList carries the winning plan's actions in the shape the context
// patcher consumes.
type ActionList struct {
	Actions []string `json:"actions"`
}

// RankedResolution pairs an LLM ranking with the full normalized resolution
// it refers to.
type RankedResolution struct {
	Ranking
	BulletActions ActionList                   `json:"bullet_resolution_actions"`
	Resolution    resolve.NormalizedResolution `json:"full_resolution"`
}

// Result is one judging session.
type Result struct {
	SessionID string             `json:"session_id"`
	JudgedAt  time.Time          `json:"judged_at"`
	Model     string             `json:"model"`
	Conflict  ConflictContext    `json:"conflict_context"`
	Rankings  []RankedResolution `json:"rankings"`
}

// Best returns the top-ranked resolution, or nil for an empty session.
func (r *Result) Best() *RankedResolution {
	if r == nil || len(r.Rankings) == 0 {
		return nil
	}
	return &r.Rankings[0]
}

// Config controls a Judge.
type Config struct {
	// TopK is how many ranked resolutions Rank returns. Zero means
	// DefaultTopK.
	TopK int
	// Clock stamps sessions. Nil means the real clock.
	Clock timeutil.Clock
}

// Judge ranks normalized resolutions against a conflict.
type Judge struct {
	client *llm.Client
	clock  timeutil.Clock
	topK   int
}

// New creates a Judge over the given LLM client.
func New(client *llm.Client, cfg Config) *Judge {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Judge{client: client, clock: cfg.Clock, topK: cfg.TopK}
}

// Rank asks the LLM to score every resolution against the conflict and
// returns the top-K with their source material attached. Any LLM or parse
// failure is returned as an error; the judge never falls back to picking a
// winner itself.
func (j *Judge) Rank(ctx context.Context, conflict ConflictContext, resolutions []resolve.NormalizedResolution) (*Result, error) {
	if len(resolutions) == 0 {
		return nil, errors.New("judge: no resolutions to rank")
	}

	prompt := buildPrompt(conflict, resolutions, j.topK)
	reply, err := j.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("judge: LLM call: %w", err)
	}

	rankings, err := parseRankings(reply)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rankings, func(a, b int) bool { return rankings[a].Rank < rankings[b].Rank })

	ranked := make([]RankedResolution, 0, j.topK)
	for _, r := range rankings {
		if len(ranked) == j.topK {
			break
		}
		idx := r.ResolutionNumber - 1
		if idx < 0 || idx >= len(resolutions) {
			log.Printf("[judge] dropping ranking with resolution_number %d (have %d candidates)", r.ResolutionNumber, len(resolutions))
			continue
		}
		res := resolutions[idx]
		if r.ResolutionID == "" {
			r.ResolutionID = res.ResolutionID
		}
		ranked = append(ranked, RankedResolution{
			Ranking:       r,
			BulletActions: ActionList{Actions: res.Actions},
			Resolution:    res,
		})
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no ranking referenced a known resolution", ErrUnparsable)
	}

	return &Result{
		SessionID: uuid.NewString(),
		JudgedAt:  j.clock.Now().UTC(),
		Model:     j.client.Model(),
		Conflict:  conflict,
		Rankings:  ranked,
	}, nil
}

var (
	jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFenceRe  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// parseRankings extracts the ranking array from an LLM reply. It tries a
// ```json fence, then any fence, then the outermost bracketed span.
func parseRankings(reply string) ([]Ranking, error) {
	raw, ok := extractJSONArray(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON array in reply", ErrUnparsable)
	}
	var rankings []Ranking
	if err := json.Unmarshal([]byte(raw), &rankings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if len(rankings) == 0 {
		return nil, fmt.Errorf("%w: empty ranking array", ErrUnparsable)
	}
	return rankings, nil
}

func extractJSONArray(text string) (string, bool) {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := anyFenceRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1], true
	}
	return "", false
}

func buildPrompt(conflict ConflictContext, resolutions []resolve.NormalizedResolution, topK int) string {
	var b strings.Builder

	b.WriteString("You are an expert railway operations judge evaluating conflict resolution strategies.\n\n")
	b.WriteString("**CONFLICT CONTEXT:**\n")
	fmt.Fprintf(&b, "- Type: %s\n", conflict.Summary)
	fmt.Fprintf(&b, "- Location: %s\n", conflict.Location)
	fmt.Fprintf(&b, "- Severity: %s\n", conflict.Severity)
	fmt.Fprintf(&b, "- Affected Trains: %s\n\n", strings.Join(conflict.Trains, ", "))

	b.WriteString("**YOUR TASK:**\n")
	fmt.Fprintf(&b, "Evaluate the following %d resolution strategies objectively and rank the TOP %d.\n\n", len(resolutions), topK)

	b.WriteString("**EVALUATION CRITERIA (Equal Weight):**\n")
	b.WriteString("1. **Safety** (30%): Does it maintain operational safety and prevent cascading failures?\n")
	b.WriteString("2. **Efficiency** (30%): How effectively does it reduce delays and restore normal operations?\n")
	b.WriteString("3. **Feasibility** (25%): Can it be implemented quickly with available infrastructure?\n")
	b.WriteString("4. **Robustness** (15%): How well does it handle uncertainty and side effects?\n\n")

	b.WriteString("**IMPORTANT GUIDELINES:**\n")
	b.WriteString("- Mathematical optimization solutions are AS VALID as hybrid/historical approaches\n")
	b.WriteString("- Simpler solutions with fewer actions are OFTEN feasible in practice\n")
	b.WriteString("- Lower delay metrics indicate BETTER performance\n")
	b.WriteString("- Both verbal reasoning AND quantitative metrics matter equally\n")
	b.WriteString("- Judge based on OBJECTIVE CRITERIA, not on verbosity of explanation\n\n")
	b.WriteString("---\n\n**RESOLUTIONS TO EVALUATE:**\n\n")

	for i, res := range resolutions {
		fmt.Fprintf(&b, "### Resolution %d: %s\n", i+1, res.StrategyName)
		fmt.Fprintf(&b, "**Source:** %s\n", res.SourceAgent)
		fmt.Fprintf(&b, "**Algorithm Type:** %s\n\n", res.AlgorithmType)
		fmt.Fprintf(&b, "**Actions:**\n%s\n\n", formatActions(res.Actions))
		fmt.Fprintf(&b, "**Expected Outcome:**\n%s\n\n", res.ExpectedOutcome)
		fmt.Fprintf(&b, "**Technical Reasoning:**\n%s\n\n", res.Reasoning)
		b.WriteString("**Quantitative Metrics:**\n")
		fmt.Fprintf(&b, "- Overall Fitness/Confidence: %.3f\n", res.OverallFitness)
		fmt.Fprintf(&b, "- Safety Score: %.3f\n", res.SafetyScore)
		fmt.Fprintf(&b, "- Efficiency Score: %.3f\n", res.EfficiencyScore)
		fmt.Fprintf(&b, "- Feasibility Score: %.3f\n", res.FeasibilityScore)
		fmt.Fprintf(&b, "- Estimated Delay: %.1f minutes\n", res.EstimatedDelayMin)
		fmt.Fprintf(&b, "- Affected Trains: %d\n\n", len(res.AffectedTrains))
		fmt.Fprintf(&b, "**Side Effects:**\n%s\n\n---\n\n", formatSideEffects(res.SideEffects))
	}

	b.WriteString("**OUTPUT FORMAT:**\n")
	fmt.Fprintf(&b, "Return ONLY a JSON array with your top %d ranked resolutions:\n\n", topK)
	b.WriteString("[\n  {\n    \"rank\": 1,\n")
	fmt.Fprintf(&b, "    \"resolution_number\": <1-%d>,\n", len(resolutions))
	b.WriteString("    \"resolution_id\": \"<id>\",\n")
	b.WriteString("    \"overall_score\": <0-100>,\n")
	b.WriteString("    \"safety_rating\": <0-10>,\n")
	b.WriteString("    \"efficiency_rating\": <0-10>,\n")
	b.WriteString("    \"feasibility_rating\": <0-10>,\n")
	b.WriteString("    \"robustness_rating\": <0-10>,\n")
	b.WriteString("    \"justification\": \"<2-3 sentence explanation focusing on objective strengths>\"\n  },\n  ...\n]\n\n")
	b.WriteString("**CRITICAL:** Base your judgment on OBJECTIVE PERFORMANCE METRICS and PRACTICAL VIABILITY, ")
	b.WriteString("not on how detailed the explanation is. Mathematical optimization with strong metrics can ")
	b.WriteString("outperform verbose explanations with weaker performance.\n")

	return b.String()
}

func formatActions(actions []string) string {
	if len(actions) == 0 {
		return "  (none listed)"
	}
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = fmt.Sprintf("  %d. %s", i+1, a)
	}
	return strings.Join(lines, "\n")
}

func formatSideEffects(effects []string) string {
	if len(effects) == 0 {
		return "  - None identified"
	}
	lines := make([]string, len(effects))
	for i, e := range effects {
		lines[i] = "  - " + e
	}
	return strings.Join(lines, "\n")
}
