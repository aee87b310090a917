// Package detect evaluates deterministic rules against the live network
// state and emits conflicts with explanations. Rules run after every tick
// on a stable read view; a failing rule is isolated and never halts the
// evaluation.
package detect

import (
	"sort"
	"strings"
	"time"
)

// Source distinguishes rule-detected conflicts from predicted ones.
type Source string

const (
	SourceDetection  Source = "detection"
	SourcePrediction Source = "prediction"
)

// Severity grades a conflict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LocationType tells whether a conflict sits on a station or a segment.
type LocationType string

const (
	LocationStation LocationType = "station"
	LocationEdge    LocationType = "edge"
)

// ConflictType names the rule family that produced a conflict.
type ConflictType string

const (
	TypeStationOvercapacity ConflictType = "station_overcapacity"
	TypeEdgeOvercapacity    ConflictType = "edge_overcapacity"
	TypeHeadwayViolation    ConflictType = "headway_violation"
	TypeBlockingIncident    ConflictType = "blocking_incident"
	TypeExcessiveDelay      ConflictType = "excessive_delay"
)

// Conflict is an immutable emitted value. Involved trains are sorted so
// equal conflicts render identically regardless of evaluation order.
type Conflict struct {
	ConflictID           string       `json:"conflict_id"`
	Source               Source       `json:"source"`
	Type                 ConflictType `json:"type"`
	Severity             Severity     `json:"severity"`
	Probability          float64      `json:"probability"`
	Location             string       `json:"location"`
	LocationType         LocationType `json:"location_type"`
	InvolvedTrains       []string     `json:"involved_trains"`
	Explanation          string       `json:"explanation"`
	Timestamp            time.Time    `json:"timestamp"`
	Tick                 int          `json:"tick"`
	PredictionHorizonMin float64      `json:"prediction_horizon_min,omitempty"`
	RuleTriggered        string       `json:"rule_triggered,omitempty"`
	Suggestions          []string     `json:"suggestions"`
}

// dedupKey identifies a conflict within one evaluation and across ticks:
// same rule, same location, same train set.
func dedupKey(rule, location string, trains []string) string {
	sorted := append([]string(nil), trains...)
	sort.Strings(sorted)
	return rule + "|" + location + "|" + strings.Join(sorted, ",")
}
