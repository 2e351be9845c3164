// Package telemetry holds the nested key/value snapshot the simulator writes
// and the engine reads. Values are addressed by dotted paths such as
// "power.currentCharge_percent". The known-path table backs authoring-time
// validation of paths referenced by step conditions.
package telemetry

import (
	"sort"
	"strings"
)

// Snapshot is an arbitrary nested key/value mapping of spacecraft state.
type Snapshot map[string]any

// Lookup resolves a dotted path into the snapshot. The second return value is
// false when any segment of the path is absent.
func (s Snapshot) Lookup(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = map[string]any(s)
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			if snap, isSnap := current.(Snapshot); isSnap {
				node = map[string]any(snap)
			} else {
				return nil, false
			}
		}
		value, exists := node[segment]
		if !exists {
			return nil, false
		}
		current = value
	}
	return current, true
}

// Number resolves a dotted path and coerces the value to float64.
func (s Snapshot) Number(path string) (float64, bool) {
	value, ok := s.Lookup(path)
	if !ok {
		return 0, false
	}
	return AsNumber(value)
}

// Set writes a value at a dotted path, creating intermediate maps as needed.
func (s Snapshot) Set(path string, value any) {
	if s == nil || path == "" {
		return
	}
	segments := strings.Split(path, ".")
	node := map[string]any(s)
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			if snap, isSnap := node[segment].(Snapshot); isSnap {
				child = map[string]any(snap)
			} else {
				child = map[string]any{}
			}
			node[segment] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

// Merge deep-merges an update into the snapshot. Nested maps are merged key
// by key; scalar values are replaced.
func (s Snapshot) Merge(update Snapshot) {
	if s == nil {
		return
	}
	mergeMaps(map[string]any(s), map[string]any(update))
}

func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		srcChild, srcIsMap := asMap(value)
		dstChild, dstIsMap := asMap(dst[key])
		if srcIsMap && dstIsMap {
			mergeMaps(dstChild, srcChild)
			continue
		}
		dst[key] = value
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Snapshot:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// AsNumber coerces the numeric types a decoded snapshot may contain.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// knownPaths is the authoring-time schema of telemetry fields the simulator
// produces, keyed by subsystem.
var knownPaths = map[string][]string{
	"power": {
		"currentCharge_percent",
		"batteryTemp_c",
		"solarPanelOutput_w",
		"loadDraw_w",
	},
	"orbit": {
		"altitude_km",
		"semiMajorAxis_km",
		"eccentricity",
		"inclination_deg",
		"period_min",
	},
	"propulsion": {
		"fuelRemaining_kg",
		"fuelRemaining_percent",
		"thrusterStatus",
	},
	"communications": {
		"beaconCount",
		"beaconTimestamps",
		"dataDownlinked_mb",
		"signalStrength_db",
		"groundContact",
	},
	"thermal": {
		"internalTemp_c",
		"radiatorTemp_c",
	},
	"attitude": {
		"mode",
		"pointingError_deg",
		"angularVelocity_degps",
	},
}

// KnownPath reports whether a dotted path names a field the simulator is
// declared to produce. Only two-segment subsystem.field paths are known.
func KnownPath(path string) bool {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return false
	}
	fields, ok := knownPaths[parts[0]]
	if !ok {
		return false
	}
	for _, field := range fields {
		if field == parts[1] {
			return true
		}
	}
	return false
}

// KnownSubsystem reports whether the subsystem key is declared.
func KnownSubsystem(name string) bool {
	_, ok := knownPaths[name]
	return ok
}

// Subsystems returns the declared subsystem keys sorted alphabetically.
func Subsystems() []string {
	out := make([]string, 0, len(knownPaths))
	for name := range knownPaths {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
