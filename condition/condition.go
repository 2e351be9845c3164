// Package condition implements one pure evaluator per step condition kind.
// Evaluators are stateless: they take a raw condition config and a session
// state snapshot and return a set of named check outcomes. The set of kinds is
// closed; dispatch is polymorphic through the registry rather than a chain of
// type tests.
package condition

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/meridianhq/satops-trainer/types"
)

// Outcome is the result of evaluating one condition against session state.
// A condition passes only when every check it produced passed.
type Outcome struct {
	Passed bool
	Checks []types.Check
}

// Evaluator evaluates one condition kind. The unexported config method keeps
// the union closed to this package.
type Evaluator interface {
	Kind() types.ConditionKind
	Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error)
	config() any
}

// Registry maps condition kinds to their evaluators.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[types.ConditionKind]Evaluator
	schemas    map[types.ConditionKind]*gojsonschema.Schema
}

// NewRegistry returns a registry with every built-in evaluator registered.
func NewRegistry() *Registry {
	r := &Registry{
		evaluators: map[types.ConditionKind]Evaluator{},
		schemas:    map[types.ConditionKind]*gojsonschema.Schema{},
	}
	for _, ev := range []Evaluator{
		&telemetryThreshold{},
		&commandExecuted{},
		&commandSequence{},
		&subsystemStatus{},
		&timeElapsed{},
		&beaconReceived{},
		&manualConfirmation{},
		&orbitalManeuver{},
		&missionCompletion{},
	} {
		r.evaluators[ev.Kind()] = ev
	}
	return r
}

// Lookup returns the evaluator for a kind.
func (r *Registry) Lookup(kind types.ConditionKind) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ev, ok := r.evaluators[kind]
	return ev, ok
}

// Kinds returns all registered condition kinds sorted alphabetically.
func (r *Registry) Kinds() []types.ConditionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ConditionKind, 0, len(r.evaluators))
	for kind := range r.evaluators {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateConfig checks a raw condition config against the JSON Schema
// generated from the kind's typed config struct. Used at scenario-authoring
// time so malformed configs are rejected before a session ever runs.
func (r *Registry) ValidateConfig(kind types.ConditionKind, raw map[string]any) error {
	schema, err := r.schemaFor(kind)
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate %s config: %w", kind, err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, issue := range result.Errors() {
			issues = append(issues, issue.String())
		}
		sort.Strings(issues)
		return fmt.Errorf("invalid %s config: %v", kind, issues)
	}
	return nil
}

func (r *Registry) schemaFor(kind types.ConditionKind) (*gojsonschema.Schema, error) {
	r.mu.RLock()
	if schema, ok := r.schemas[kind]; ok {
		r.mu.RUnlock()
		return schema, nil
	}
	ev, ok := r.evaluators[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown condition kind %q", kind)
	}

	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	generated := reflector.Reflect(ev.config())
	// gojsonschema only speaks draft-07 and earlier; dropping the version
	// marker puts it in hybrid mode, which covers every keyword we generate.
	generated.Version = ""
	rawSchema, err := json.Marshal(generated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s config schema: %w", kind, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(rawSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s config schema: %w", kind, err)
	}

	r.mu.Lock()
	r.schemas[kind] = schema
	r.mu.Unlock()
	return schema, nil
}

// TelemetryPaths returns the dotted telemetry paths a config references, so
// scenario validation can check them against the telemetry schema.
func TelemetryPaths(kind types.ConditionKind, raw map[string]any) []string {
	switch kind {
	case types.ConditionTelemetryThreshold:
		var cfg TelemetryThresholdConfig
		if decodeConfig(raw, &cfg) == nil && cfg.Path != "" {
			return []string{cfg.Path}
		}
	case types.ConditionSubsystemStatus:
		var cfg SubsystemStatusConfig
		if decodeConfig(raw, &cfg) == nil && cfg.Subsystem != "" && cfg.Field != "" {
			return []string{cfg.Subsystem + "." + cfg.Field}
		}
	}
	return nil
}

// decodeConfig maps a raw config payload onto a typed config struct through a
// JSON round trip. YAML and JSON authored configs both decode to
// map[string]any, so this is the single conversion point.
func decodeConfig(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode condition config: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode condition config: %w", err)
	}
	return nil
}

func allPass(checks []types.Check) bool {
	if len(checks) == 0 {
		return false
	}
	for _, check := range checks {
		if !check.Passed {
			return false
		}
	}
	return true
}

// formatQuantity renders physical quantities (km, kg, seconds) with one
// decimal place so check output is deterministic.
func formatQuantity(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// formatPercent renders percentages with two decimal places.
func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
