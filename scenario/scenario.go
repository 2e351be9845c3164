// Package scenario loads and validates authored training scenarios. A
// scenario is a step graph: ordered objectives whose branches reference other
// steps by order. Validation happens once at load time so a session never
// runs against a malformed definition.
package scenario

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/meridianhq/satops-trainer/condition"
	"github.com/meridianhq/satops-trainer/telemetry"
	"github.com/meridianhq/satops-trainer/types"
)

// Scenario is one authored training exercise.
type Scenario struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Difficulty  string                 `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Steps       []types.StepDefinition `json:"steps" yaml:"steps"`
}

// Step returns the step with the given order, or false if no step has it.
func (s *Scenario) Step(order int) (types.StepDefinition, bool) {
	for _, step := range s.Steps {
		if step.Order == order {
			return step, true
		}
	}
	return types.StepDefinition{}, false
}

// NextOrder returns the order of the first step after the given one in
// authored sequence, or false when the given step is the last.
func (s *Scenario) NextOrder(after int) (int, bool) {
	orders := s.orders()
	for i, order := range orders {
		if order == after && i+1 < len(orders) {
			return orders[i+1], true
		}
	}
	return 0, false
}

// FirstOrder returns the lowest step order, or false for an empty scenario.
func (s *Scenario) FirstOrder() (int, bool) {
	orders := s.orders()
	if len(orders) == 0 {
		return 0, false
	}
	return orders[0], true
}

func (s *Scenario) orders() []int {
	orders := make([]int, 0, len(s.Steps))
	for _, step := range s.Steps {
		orders = append(orders, step.Order)
	}
	sort.Ints(orders)
	return orders
}

// Load reads and validates a scenario from a YAML file.
func Load(path string, registry *condition.Registry) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data, registry)
}

// Parse decodes a YAML scenario document and validates it.
func Parse(data []byte, registry *condition.Registry) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(registry); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the scenario's structural integrity: identity fields are
// present, step orders are unique, branch references resolve, recovery
// branches do not point back at their own step, condition kinds are known,
// every condition config satisfies its kind's schema, and referenced
// telemetry paths exist in the telemetry schema.
func (s *Scenario) Validate(registry *condition.Registry) error {
	if registry == nil {
		registry = condition.NewRegistry()
	}
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("scenario %q: name is required", s.ID)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.ID)
	}

	seen := map[int]bool{}
	for _, step := range s.Steps {
		if seen[step.Order] {
			return fmt.Errorf("scenario %q: duplicate step order %d", s.ID, step.Order)
		}
		seen[step.Order] = true
	}

	for _, step := range s.Steps {
		if step.Title == "" {
			return fmt.Errorf("scenario %q step %d: title is required", s.ID, step.Order)
		}
		if _, ok := registry.Lookup(step.ConditionKind); !ok {
			return fmt.Errorf("scenario %q step %d: unknown condition kind %q", s.ID, step.Order, step.ConditionKind)
		}
		if err := registry.ValidateConfig(step.ConditionKind, step.ConditionConfig); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", s.ID, step.Order, err)
		}
		for _, path := range condition.TelemetryPaths(step.ConditionKind, step.ConditionConfig) {
			if !telemetry.KnownPath(path) {
				return fmt.Errorf("scenario %q step %d: unknown telemetry path %q", s.ID, step.Order, path)
			}
		}
		if step.NominalBranch != nil && !seen[*step.NominalBranch] {
			return fmt.Errorf("scenario %q step %d: nominal branch references missing step %d", s.ID, step.Order, *step.NominalBranch)
		}
		if step.RecoveryBranch != nil {
			if *step.RecoveryBranch == step.Order {
				return fmt.Errorf("scenario %q step %d: recovery branch references itself", s.ID, step.Order)
			}
			if !seen[*step.RecoveryBranch] {
				return fmt.Errorf("scenario %q step %d: recovery branch references missing step %d", s.ID, step.Order, *step.RecoveryBranch)
			}
		}
	}
	return nil
}
