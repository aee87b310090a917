package detect

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rail-mind/railmind/internal/rail/state"
)

// Statistics accumulates emission counts across the engine's lifetime.
// Re-emissions on later ticks count again; the totals describe emissions,
// not distinct situations.
type Statistics struct {
	Total      int                  `json:"total"`
	ByType     map[ConflictType]int `json:"by_type"`
	BySeverity map[Severity]int     `json:"by_severity"`
}

// Engine runs the standing rule set over the tracker after each tick.
type Engine struct {
	mu       sync.Mutex
	rules    []namedRule
	seq      int
	stats    Statistics
	lastTick []Conflict
	emitters []Emitter
}

// NewEngine builds a detection engine with the standing rules.
func NewEngine() *Engine {
	return &Engine{
		rules: defaultRules(),
		stats: Statistics{
			ByType:     make(map[ConflictType]int),
			BySeverity: make(map[Severity]int),
		},
	}
}

// AddEmitter registers an output for every conflict the engine emits.
func (e *Engine) AddEmitter(em Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitters = append(e.emitters, em)
}

// Evaluate runs every rule against the tracker and returns this tick's
// conflicts. The caller must hold a read view over the tracker (or be the
// tick owner); Evaluate itself performs no state writes. A panicking rule
// is logged and skipped; the remaining rules still run.
func (e *Engine) Evaluate(tr *state.Tracker, tick int) []Conflict {
	now := tr.Now()
	seen := make(map[string]bool)
	var drafts []draft
	var names []string
	for _, r := range e.rules {
		for _, d := range e.runRule(r, tr) {
			key := dedupKey(r.name, d.Location, d.InvolvedTrains)
			if seen[key] {
				continue
			}
			seen[key] = true
			drafts = append(drafts, d)
			names = append(names, r.name)
		}
	}

	e.mu.Lock()
	conflicts := make([]Conflict, 0, len(drafts))
	for i, d := range drafts {
		e.seq++
		c := Conflict{
			ConflictID:     fmt.Sprintf("CONF_%04d", e.seq),
			Source:         SourceDetection,
			Type:           d.Type,
			Severity:       d.Severity,
			Probability:    1.0,
			Location:       d.Location,
			LocationType:   d.LocationType,
			InvolvedTrains: d.InvolvedTrains,
			Explanation:    d.Explanation,
			Timestamp:      now,
			Tick:           tick,
			RuleTriggered:  names[i],
			Suggestions:    d.Suggestions,
		}
		conflicts = append(conflicts, c)
		e.stats.Total++
		e.stats.ByType[c.Type]++
		e.stats.BySeverity[c.Severity]++
	}
	e.lastTick = conflicts
	emitters := append([]Emitter(nil), e.emitters...)
	e.mu.Unlock()

	for _, em := range emitters {
		for _, c := range conflicts {
			em.Emit(c)
		}
	}
	return conflicts
}

// runRule isolates a single rule so one failure cannot halt the tick.
func (e *Engine) runRule(r namedRule, tr *state.Tracker) (out []draft) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[detect] rule %s failed: %v", r.name, p)
			out = nil
		}
	}()
	return r.fn(tr)
}

// LastTick returns the conflicts from the most recent evaluation.
func (e *Engine) LastTick() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Conflict(nil), e.lastTick...)
}

// Stats returns a copy of the cumulative emission counters.
func (e *Engine) Stats() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := Statistics{
		Total:      e.stats.Total,
		ByType:     make(map[ConflictType]int, len(e.stats.ByType)),
		BySeverity: make(map[Severity]int, len(e.stats.BySeverity)),
	}
	for k, v := range e.stats.ByType {
		out.ByType[k] = v
	}
	for k, v := range e.stats.BySeverity {
		out.BySeverity[k] = v
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
