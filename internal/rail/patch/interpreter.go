package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rail-mind/railmind/internal/rail/llm"
	"github.com/rail-mind/railmind/internal/rail/network"
)

// Interpreter translates free-text resolution actions into structured
// update instructions with an LLM.
type Interpreter struct {
	client *llm.Client
}

// NewInterpreter creates an Interpreter over the given LLM client.
func NewInterpreter(client *llm.Client) *Interpreter {
	return &Interpreter{client: client}
}

// Interpret asks the LLM to express the actions as instruction JSON. Any
// transport, parse or schema failure is returned as an error; callers fall
// back to KeywordFallback.
func (i *Interpreter) Interpret(ctx context.Context, actions, affectedTrains []string, strategy string, n *network.Network) (*Instructions, error) {
	prompt := buildInterpreterPrompt(actions, affectedTrains, strategy, n)
	reply, err := i.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("patch: interpreter call: %w", err)
	}
	raw, ok := extractJSONObject(reply)
	if !ok {
		return nil, fmt.Errorf("patch: no JSON object in interpreter reply")
	}
	ins, err := ParseInstructions([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("patch: interpreter reply rejected: %w", err)
	}
	return ins, nil
}

var (
	jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	anyFenceRe  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

func extractJSONObject(text string) (string, bool) {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := anyFenceRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1], true
	}
	return "", false
}

type contextSummary struct {
	TotalTrains     int                 `json:"total_trains"`
	TotalRails      int                 `json:"total_rails"`
	TotalStations   int                 `json:"total_stations"`
	AvailableFields map[string][]string `json:"available_fields"`
}

func summarize(n *network.Network) contextSummary {
	return contextSummary{
		TotalTrains:   len(n.Trains),
		TotalRails:    len(n.Rails),
		TotalStations: len(n.Stations),
		AvailableFields: map[string][]string{
			"train_fields": {
				"train_id", "train_type", "priority", "status",
				"delay_seconds", "current_speed_kmh",
			},
			"rail_fields": {
				"source", "target", "distance_km", "travel_time_min",
				"capacity", "min_headway_sec", "max_speed_kmh", "direction",
				"reroutable", "priority_access", "risk_profile",
			},
			"station_fields": {
				"id", "region", "max_trains_at_once", "blocking_behavior",
			},
		},
	}
}

func buildInterpreterPrompt(actions, affectedTrains []string, strategy string, n *network.Network) string {
	actionsJSON, _ := json.MarshalIndent(actions, "", "  ")
	summaryJSON, _ := json.MarshalIndent(summarize(n), "", "  ")

	var b strings.Builder
	b.WriteString("You are a railway operations expert. Interpret the following resolution actions and translate them into specific parameter updates for the network context.\n\n")
	fmt.Fprintf(&b, "RESOLUTION STRATEGY: %s\n\n", strategy)
	fmt.Fprintf(&b, "ACTIONS TO IMPLEMENT:\n%s\n\n", actionsJSON)
	fmt.Fprintf(&b, "AFFECTED TRAINS: %s\n\n", strings.Join(affectedTrains, ", "))
	fmt.Fprintf(&b, "NETWORK CONTEXT STRUCTURE:\n%s\n\n", summaryJSON)

	b.WriteString("YOUR TASK:\n")
	b.WriteString("For each action, identify which parameters in the context need to be updated and by how much.\n\n")

	b.WriteString("CRITICAL RULES:\n")
	b.WriteString("1. You can ONLY modify VALUES of existing fields\n")
	b.WriteString("2. You CANNOT add new fields\n")
	b.WriteString("3. You CANNOT remove fields\n")
	b.WriteString("4. All changes must be to existing parameters in the context structure\n\n")

	b.WriteString("AVAILABLE PARAMETERS TO MODIFY:\n\n")
	b.WriteString("For RAILS (edges between stations):\n")
	b.WriteString("- travel_time_min: Increase/decrease travel time\n")
	b.WriteString("- min_headway_sec: Adjust minimum separation time\n")
	b.WriteString("- max_speed_kmh: Set speed restrictions\n")
	b.WriteString("- capacity: Modify capacity (rarely changed)\n")
	b.WriteString("- risk_profile: Update risk level (\"low\", \"medium\", \"high\")\n\n")
	b.WriteString("For TRAINS:\n")
	b.WriteString("- priority: Reorder departure precedence\n")
	b.WriteString("- delay_seconds: Book a planned hold as delay\n")
	b.WriteString("- status: \"on_time\", \"delayed\" or \"stopped\"\n\n")

	b.WriteString("INTERPRETATION RULES:\n")
	b.WriteString("- \"reduce speed by X%\" -> multiply max_speed_kmh on the relevant rails\n")
	b.WriteString("- \"extend dwell time\" -> add minutes to travel_time_min\n")
	b.WriteString("- \"speed restriction\" -> set max_speed_kmh\n")
	b.WriteString("- \"reschedule\" -> adjust travel_time_min\n")
	b.WriteString("- \"priority to train X\" -> raise that train's priority\n")
	b.WriteString("- \"hold train X\" -> add the hold to that train's delay_seconds\n\n")

	b.WriteString("Return ONLY a JSON object with this structure:\n")
	b.WriteString(`{
  "train_updates": [
    {
      "train_id": "REG_3053",
      "updates": [
        {"field": "priority", "operation": "set", "value": 8, "reason": "Give the delayed service precedence"}
      ]
    }
  ],
  "rail_updates": [
    {
      "source": "MILANO ROGOREDO",
      "target": "PAVIA",
      "updates": [
        {"field": "max_speed_kmh", "operation": "multiply", "value": 0.85, "reason": "Reduce speed by 15% for REG_3053"}
      ]
    }
  ],
  "global_updates": [
    {"description": "Slow all affected services", "parameter": "max_speed_kmh", "operation": "multiply", "value": 0.85}
  ]
}`)
	b.WriteString("\n\nOperations allowed: \"set\", \"multiply\", \"add\", \"subtract\", \"keep_same\"\n\n")
	b.WriteString("Focus on the DIRECT parameter changes needed to implement these actions.\n")
	b.WriteString("Be specific about which rails (source->target) are affected.\n")
	return b.String()
}

// percentRe pulls the figure out of phrases like "reduce speed by 20%".
var percentRe = regexp.MustCompile(`(\d+)[-\s]*%`)

// KeywordFallback derives instructions from action keywords when the
// interpreter is unavailable or rejected. It only ever emits global
// updates, scoped to the affected trains' routes at apply time.
func KeywordFallback(actions []string) *Instructions {
	ins := emptyInstructions()

	for _, action := range actions {
		lower := strings.ToLower(action)

		if strings.Contains(lower, "reduce speed") || strings.Contains(lower, "speed reduction") {
			reduction := 0.15
			if m := percentRe.FindStringSubmatch(action); m != nil {
				if pct, err := strconv.Atoi(m[1]); err == nil {
					reduction = float64(pct) / 100
				}
			}
			ins.GlobalUpdates = append(ins.GlobalUpdates, GlobalUpdate{
				Description: fmt.Sprintf("Apply %g%% speed reduction", reduction*100),
				Parameter:   "max_speed_kmh",
				Operation:   OpMultiply,
				Value:       1 - reduction,
			})
		}

		if strings.Contains(lower, "dwell time") || strings.Contains(lower, "extend") {
			ins.GlobalUpdates = append(ins.GlobalUpdates, GlobalUpdate{
				Description: "Extend dwell time",
				Parameter:   "travel_time_min",
				Operation:   OpAdd,
				Value:       1.5,
			})
		}

		if strings.Contains(lower, "speed restriction") || strings.Contains(lower, "limit speed") {
			ins.GlobalUpdates = append(ins.GlobalUpdates, GlobalUpdate{
				Description: "Apply speed restriction",
				Parameter:   "max_speed_kmh",
				Operation:   OpSet,
				Value:       80,
			})
		}
	}

	return ins
}
