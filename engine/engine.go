// Package engine evaluates a step's declared condition against live session
// state and turns the outcome into a step-graph transition. It keeps no state
// of its own: identical inputs produce identical verdicts.
package engine

import (
	"fmt"

	"github.com/meridianhq/satops-trainer/condition"
	"github.com/meridianhq/satops-trainer/types"
)

// Validator dispatches step conditions to their evaluators and applies the
// nominal/recovery/failed transition rules.
type Validator struct {
	registry *condition.Registry
}

// Option configures a Validator.
type Option func(*Validator)

// WithRegistry overrides the default evaluator registry.
func WithRegistry(registry *condition.Registry) Option {
	return func(v *Validator) {
		if registry != nil {
			v.registry = registry
		}
	}
}

// NewValidator returns a Validator backed by the built-in evaluators.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{registry: condition.NewRegistry()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Evaluate inspects the session state against the step's condition and
// returns a verdict. Evaluation never returns an error to the caller: unknown
// kinds, malformed configs, and evaluator faults all fail closed into a
// path=failed result so a bad step definition cannot take down a session.
func (v *Validator) Evaluate(step types.StepDefinition, state *types.SessionState) types.ValidationResult {
	if state == nil {
		state = &types.SessionState{}
	}

	evaluator, ok := v.registry.Lookup(step.ConditionKind)
	if !ok {
		return failedResult(fmt.Sprintf("unknown condition kind %q", step.ConditionKind), types.Check{
			Name:    "condition_kind",
			Passed:  false,
			Actual:  string(step.ConditionKind),
			Message: fmt.Sprintf("step %d declares unknown condition kind %q", step.Order, step.ConditionKind),
		})
	}

	outcome, err := v.evaluate(evaluator, step.ConditionConfig, state)
	if err != nil {
		return failedResult(err.Error(), types.Check{
			Name:    "evaluator",
			Passed:  false,
			Message: err.Error(),
		})
	}

	result := types.ValidationResult{
		Passed: outcome.Passed,
		Checks: outcome.Checks,
	}
	switch {
	case outcome.Passed:
		result.Path = types.PathNominal
		result.NextStep = step.NominalBranch
		result.Message = fmt.Sprintf("step %d condition satisfied", step.Order)
	case step.RecoveryBranch != nil:
		result.Path = types.PathRecovery
		result.NextStep = step.RecoveryBranch
		result.Message = fmt.Sprintf("step %d condition not satisfied; routing to recovery step %d", step.Order, *step.RecoveryBranch)
	default:
		result.Path = types.PathFailed
		result.Message = fmt.Sprintf("step %d condition not satisfied", step.Order)
	}
	return result
}

// evaluate isolates evaluator faults: a panic inside an evaluator is
// converted into an error instead of propagating to the caller.
func (v *Validator) evaluate(evaluator condition.Evaluator, raw map[string]any, state *types.SessionState) (outcome condition.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = condition.Outcome{}
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return evaluator.Evaluate(raw, state)
}

// failedResult normalizes configuration and evaluator errors. Errors always
// take the failed path: recovery branches describe unsatisfied conditions,
// not broken step definitions.
func failedResult(message string, checks ...types.Check) types.ValidationResult {
	return types.ValidationResult{
		Passed:  false,
		Checks:  checks,
		Path:    types.PathFailed,
		Message: message,
	}
}
