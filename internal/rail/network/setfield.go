package network

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// fieldPathRe matches structural locators of the form
// "rails[3].max_speed_kmh". Only the three top-level collections are
// addressable; nested sequences (routes, incidents) are not mutable.
var fieldPathRe = regexp.MustCompile(`^(trains|stations|rails)\[(\d+)\]\.([a-z_]+)$`)

// SetField applies a single value-level update at the given locator. The
// locator must address an existing element and a known mutable field;
// anything else is an error and the model is left untouched. This is the
// only mutation primitive the package exposes.
func (n *Network) SetField(path string, value any) error {
	m := fieldPathRe.FindStringSubmatch(path)
	if m == nil {
		return fmt.Errorf("invalid field path %q", path)
	}
	idx, err := strconv.Atoi(m[2])
	if err != nil {
		return fmt.Errorf("invalid index in field path %q", path)
	}
	collection, field := m[1], m[3]

	switch collection {
	case "trains":
		if idx >= len(n.Trains) {
			return fmt.Errorf("trains[%d]: index out of range", idx)
		}
		return n.Trains[idx].SetField(field, value)
	case "stations":
		if idx >= len(n.Stations) {
			return fmt.Errorf("stations[%d]: index out of range", idx)
		}
		return n.Stations[idx].SetField(field, value)
	case "rails":
		if idx >= len(n.Rails) {
			return fmt.Errorf("rails[%d]: index out of range", idx)
		}
		return n.Rails[idx].SetField(field, value)
	}
	return fmt.Errorf("invalid field path %q", path)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func asBool(value any) (bool, bool) {
	b, ok := value.(bool)
	return b, ok
}

// NumericField returns the named numeric field's value. The supported set
// matches the fields arithmetic patch operations may target.
func (r *Rail) NumericField(name string) (float64, error) {
	switch name {
	case "distance_km":
		return r.DistanceKm, nil
	case "travel_time_min":
		return r.TravelTimeMin, nil
	case "capacity":
		return float64(r.Capacity), nil
	case "min_headway_sec":
		return r.MinHeadwaySec, nil
	case "max_speed_kmh":
		return r.MaxSpeedKmh, nil
	}
	return 0, fmt.Errorf("rail field %q is not numeric", name)
}

// SetField assigns a single rail field. Type mismatches and unknown or
// immutable fields (endpoints, live load, incident list) are errors.
func (r *Rail) SetField(name string, value any) error {
	switch name {
	case "distance_km":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a number", name)
		}
		r.DistanceKm = f
	case "travel_time_min":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a number", name)
		}
		r.TravelTimeMin = f
	case "capacity":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a number", name)
		}
		r.Capacity = int(math.Round(f))
	case "min_headway_sec":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a number", name)
		}
		r.MinHeadwaySec = f
	case "max_speed_kmh":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a number", name)
		}
		r.MaxSpeedKmh = f
	case "reroutable":
		b, ok := asBool(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a boolean", name)
		}
		r.Reroutable = b
	case "priority_access":
		b, ok := asBool(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a boolean", name)
		}
		r.PriorityAccess = b
	case "risk_profile":
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("rail field %q wants a string", name)
		}
		r.RiskProfile = RiskProfile(s)
	default:
		return fmt.Errorf("rail field %q is unknown or immutable", name)
	}
	return nil
}

// NumericField returns the named numeric field's value.
func (t *Train) NumericField(name string) (float64, error) {
	switch name {
	case "priority":
		return float64(t.Priority), nil
	case "delay_seconds":
		return float64(t.DelaySeconds), nil
	case "current_speed_kmh":
		return t.CurrentSpeedKmh, nil
	}
	return 0, fmt.Errorf("train field %q is not numeric", name)
}

// SetField assigns a single train field. Position state and the route are
// not patchable; they belong to the live tracker.
func (t *Train) SetField(name string, value any) error {
	switch name {
	case "priority":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("train field %q wants a number", name)
		}
		t.Priority = int(math.Round(f))
	case "delay_seconds":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("train field %q wants a number", name)
		}
		t.DelaySeconds = int(math.Round(f))
	case "current_speed_kmh":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("train field %q wants a number", name)
		}
		t.CurrentSpeedKmh = f
	case "status":
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("train field %q wants a string", name)
		}
		t.Status = TrainStatus(s)
	case "train_type":
		s, ok := asString(value)
		if !ok {
			return fmt.Errorf("train field %q wants a string", name)
		}
		t.TrainType = TrainType(s)
	default:
		return fmt.Errorf("train field %q is unknown or immutable", name)
	}
	return nil
}

// NumericField returns the named numeric field's value.
func (s *Station) NumericField(name string) (float64, error) {
	switch name {
	case "max_trains_at_once":
		return float64(s.MaxTrainsAtOnce), nil
	}
	return 0, fmt.Errorf("station field %q is not numeric", name)
}

// SetField assigns a single station field. Identity, position and occupancy
// fields are immutable through this interface.
func (s *Station) SetField(name string, value any) error {
	switch name {
	case "max_trains_at_once":
		f, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("station field %q wants a number", name)
		}
		s.MaxTrainsAtOnce = int(math.Round(f))
	case "blocking_behavior":
		v, ok := asString(value)
		if !ok {
			return fmt.Errorf("station field %q wants a string", name)
		}
		s.BlockingBehavior = BlockingBehavior(v)
	case "region":
		v, ok := asString(value)
		if !ok {
			return fmt.Errorf("station field %q wants a string", name)
		}
		s.Region = v
	default:
		return fmt.Errorf("station field %q is unknown or immutable", name)
	}
	return nil
}
