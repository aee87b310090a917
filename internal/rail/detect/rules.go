package detect

import (
	"fmt"
	"sort"

	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/state"
)

// Delay thresholds for the excessive-delay rule, in seconds.
const (
	delayConflictThresholdSec = 300
	delayEscalationSec        = 600
)

// draft is a rule's raw finding before the engine stamps identity, source
// and timing onto it.
type draft struct {
	Type           ConflictType
	Severity       Severity
	Location       string
	LocationType   LocationType
	InvolvedTrains []string
	Explanation    string
	Suggestions    []string
}

// RuleFunc evaluates one invariant over a stable read view of the tracker.
type RuleFunc func(tr *state.Tracker) []draft

type namedRule struct {
	name string
	fn   RuleFunc
}

// defaultRules returns the standing rule set in evaluation order.
func defaultRules() []namedRule {
	return []namedRule{
		{"station_overcapacity", ruleStationOvercapacity},
		{"edge_overcapacity", ruleEdgeOvercapacity},
		{"headway_violation", ruleHeadwayViolation},
		{"blocking_incident", ruleBlockingIncident},
		{"excessive_delay", ruleExcessiveDelay},
	}
}

// ruleStationOvercapacity flags stations holding more trains than their
// platform limit. Hard blocking makes the breach critical; soft blocking
// tolerates the overflow but reports it.
func ruleStationOvercapacity(tr *state.Tracker) []draft {
	var out []draft
	for _, st := range tr.Network().Stations {
		if st.MaxTrainsAtOnce <= 0 || len(st.CurrentTrains) <= st.MaxTrainsAtOnce {
			continue
		}
		severity := SeverityHigh
		if st.BlockingBehavior == network.BlockingHard {
			severity = SeverityCritical
		}
		out = append(out, draft{
			Type:           TypeStationOvercapacity,
			Severity:       severity,
			Location:       st.ID,
			LocationType:   LocationStation,
			InvolvedTrains: sortedCopy(st.CurrentTrains),
			Explanation: fmt.Sprintf("station %s holds %d trains against a limit of %d (%s blocking)",
				st.ID, len(st.CurrentTrains), st.MaxTrainsAtOnce, st.BlockingBehavior),
			Suggestions: []string{
				"hold approaching trains at the previous station",
				"route the lowest-priority occupant to an alternative platform",
			},
		})
	}
	return out
}

// ruleEdgeOvercapacity flags segments carrying more trains than their
// track capacity.
func ruleEdgeOvercapacity(tr *state.Tracker) []draft {
	var out []draft
	net := tr.Network()
	for _, r := range net.Rails {
		if r.Capacity <= 0 || r.CurrentLoad <= r.Capacity {
			continue
		}
		out = append(out, draft{
			Type:           TypeEdgeOvercapacity,
			Severity:       SeverityHigh,
			Location:       r.Key(),
			LocationType:   LocationEdge,
			InvolvedTrains: sortedCopy(net.TrainsOnRail(r)),
			Explanation: fmt.Sprintf("segment %s carries %d trains against a capacity of %d",
				r.Key(), r.CurrentLoad, r.Capacity),
			Suggestions: []string{
				"delay further entries onto the segment",
				"reduce segment speed until the load clears",
			},
		})
	}
	return out
}

// ruleHeadwayViolation flags pairs of trains that entered the same segment
// in the same direction closer together than the minimum headway. Only
// windows still open at evaluation time are reported, so a violation stops
// re-emitting once the headway has elapsed.
func ruleHeadwayViolation(tr *state.Tracker) []draft {
	var out []draft
	now := tr.Now()
	for _, r := range tr.Network().Rails {
		if r.MinHeadwaySec <= 0 {
			continue
		}
		entries := tr.EdgeEntries(r.Source, r.Target)
		headway := secondsToDuration(r.MinHeadwaySec)
		for i := 1; i < len(entries); i++ {
			lead, follow := entries[i-1], entries[i]
			if lead.From != follow.From || lead.To != follow.To {
				continue
			}
			gap := follow.At.Sub(lead.At)
			if gap >= headway || follow.At.Add(headway).Before(now) {
				continue
			}
			out = append(out, draft{
				Type:           TypeHeadwayViolation,
				Severity:       SeverityHigh,
				Location:       r.Key(),
				LocationType:   LocationEdge,
				InvolvedTrains: sortedCopy([]string{lead.TrainID, follow.TrainID}),
				Explanation: fmt.Sprintf("%s entered %s %.0fs after %s; the segment requires %.0fs",
					follow.TrainID, r.Key(), gap.Seconds(), lead.TrainID, r.MinHeadwaySec),
				Suggestions: []string{
					"slow the following train to restore separation",
					"hold departures onto the segment for one headway window",
				},
			})
			break // one finding per segment per evaluation
		}
	}
	return out
}

// ruleBlockingIncident flags blocking incidents at locations with trains
// present. The occupants cannot make progress until the incident clears.
func ruleBlockingIncident(tr *state.Tracker) []draft {
	var out []draft
	net := tr.Network()
	for _, st := range net.Stations {
		if !st.HasBlockingIncident() || len(st.CurrentTrains) == 0 {
			continue
		}
		out = append(out, draft{
			Type:           TypeBlockingIncident,
			Severity:       SeverityCritical,
			Location:       st.ID,
			LocationType:   LocationStation,
			InvolvedTrains: sortedCopy(st.CurrentTrains),
			Explanation: fmt.Sprintf("blocking incident at station %s with %d trains present",
				st.ID, len(st.CurrentTrains)),
			Suggestions: []string{
				"divert approaching trains before the station",
				"prioritise incident response crews",
			},
		})
	}
	for _, r := range net.Rails {
		if !r.HasBlockingIncident() {
			continue
		}
		trains := net.TrainsOnRail(r)
		if len(trains) == 0 {
			continue
		}
		out = append(out, draft{
			Type:           TypeBlockingIncident,
			Severity:       SeverityCritical,
			Location:       r.Key(),
			LocationType:   LocationEdge,
			InvolvedTrains: sortedCopy(trains),
			Explanation: fmt.Sprintf("blocking incident on segment %s with %d trains stranded",
				r.Key(), len(trains)),
			Suggestions: []string{
				"hold trains at adjacent stations until the segment clears",
				"reroute reroutable traffic around the segment",
			},
		})
	}
	return out
}

// ruleExcessiveDelay flags heavily delayed trains standing at stations
// that are at or near their platform limit, where the delay ties up scarce
// capacity. Severity escalates once the delay exceeds ten minutes.
func ruleExcessiveDelay(tr *state.Tracker) []draft {
	var out []draft
	net := tr.Network()
	for _, t := range net.Trains {
		if t.CurrentPositionType != network.PositionStation || t.DelaySeconds <= delayConflictThresholdSec {
			continue
		}
		st := net.Station(t.CurrentStation)
		if st == nil || st.MaxTrainsAtOnce <= 0 {
			continue
		}
		if len(st.CurrentTrains) < st.MaxTrainsAtOnce-1 {
			continue
		}
		severity := SeverityMedium
		if t.DelaySeconds > delayEscalationSec {
			severity = SeverityHigh
		}
		out = append(out, draft{
			Type:           TypeExcessiveDelay,
			Severity:       severity,
			Location:       st.ID,
			LocationType:   LocationStation,
			InvolvedTrains: []string{t.TrainID},
			Explanation: fmt.Sprintf("train %s is %ds late at %s while the station runs at %d/%d platforms",
				t.TrainID, t.DelaySeconds, st.ID, len(st.CurrentTrains), st.MaxTrainsAtOnce),
			Suggestions: []string{
				"move the delayed train to a siding or low-demand platform",
				"re-sequence departures to release the platform",
			},
		})
	}
	return out
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
