package engine

import (
	"strings"
	"testing"

	"github.com/meridianhq/satops-trainer/telemetry"
	"github.com/meridianhq/satops-trainer/types"
)

func intPtr(v int) *int { return &v }

func TestEvaluate_NominalPath(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:         1,
		Title:         "Verify battery charge",
		ConditionKind: types.ConditionTelemetryThreshold,
		ConditionConfig: map[string]any{
			"path":       "power.currentCharge_percent",
			"comparator": "gte",
			"value":      50.0,
		},
	}
	st := &types.SessionState{
		Telemetry: telemetry.Snapshot{"power": map[string]any{"currentCharge_percent": 80.0}},
	}

	result := v.Evaluate(step, st)
	if !result.Passed {
		t.Fatalf("expected pass: %+v", result)
	}
	if result.Path != types.PathNominal {
		t.Fatalf("expected nominal path, got %q", result.Path)
	}
	if result.NextStep != nil {
		t.Fatalf("no nominal branch declared, NextStep should be nil, got %v", *result.NextStep)
	}
}

func TestEvaluate_NominalBranchTarget(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:           2,
		ConditionKind:   types.ConditionManualConfirmation,
		ConditionConfig: map[string]any{},
		NominalBranch:   intPtr(7),
	}
	result := v.Evaluate(step, &types.SessionState{StepConfirmed: true})
	if !result.Passed || result.NextStep == nil || *result.NextStep != 7 {
		t.Fatalf("expected nominal branch to 7, got %+v", result)
	}
}

func TestEvaluate_RecoveryPath(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:         3,
		ConditionKind: types.ConditionCommandExecuted,
		ConditionConfig: map[string]any{
			"command":     "DEPLOY_PANELS",
			"mustSucceed": true,
		},
		RecoveryBranch: intPtr(5),
	}
	result := v.Evaluate(step, &types.SessionState{})
	if result.Passed {
		t.Fatal("command never executed, must not pass")
	}
	if result.Path != types.PathRecovery {
		t.Fatalf("expected recovery path, got %q", result.Path)
	}
	if result.NextStep == nil || *result.NextStep != 5 {
		t.Fatalf("expected next step 5, got %+v", result.NextStep)
	}
}

func TestEvaluate_FailedPathWithoutRecovery(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:           4,
		ConditionKind:   types.ConditionTimeElapsed,
		ConditionConfig: map[string]any{"seconds": 60.0},
	}
	result := v.Evaluate(step, &types.SessionState{StepElapsedSeconds: 10})
	if result.Passed || result.Path != types.PathFailed {
		t.Fatalf("expected failed path, got %+v", result)
	}
}

func TestEvaluate_UnknownKindFailsClosed(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:          9,
		ConditionKind:  "warp_drive_engaged",
		RecoveryBranch: intPtr(2),
	}
	result := v.Evaluate(step, &types.SessionState{})
	if result.Passed {
		t.Fatal("unknown kind must not pass")
	}
	if result.Path != types.PathFailed {
		t.Fatalf("config errors take the failed path, not recovery: %+v", result)
	}
	if len(result.Checks) != 1 || result.Checks[0].Name != "condition_kind" {
		t.Fatalf("expected condition_kind check, got %+v", result.Checks)
	}
	if !strings.Contains(result.Message, "warp_drive_engaged") {
		t.Fatalf("message should name the unknown kind: %q", result.Message)
	}
}

func TestEvaluate_MalformedConfigFailsClosed(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:         5,
		ConditionKind: types.ConditionTelemetryThreshold,
		ConditionConfig: map[string]any{
			"path":       "power.currentCharge_percent",
			"comparator": "approximately",
			"value":      1.0,
		},
		RecoveryBranch: intPtr(1),
	}
	st := &types.SessionState{
		Telemetry: telemetry.Snapshot{"power": map[string]any{"currentCharge_percent": 80.0}},
	}
	result := v.Evaluate(step, st)
	if result.Passed || result.Path != types.PathFailed {
		t.Fatalf("malformed config must fail closed: %+v", result)
	}
}

func TestEvaluate_NilState(t *testing.T) {
	v := NewValidator()
	step := types.StepDefinition{
		Order:           6,
		ConditionKind:   types.ConditionCommandExecuted,
		ConditionConfig: map[string]any{"command": "PING"},
	}
	result := v.Evaluate(step, nil)
	if result.Passed {
		t.Fatal("empty state has no command history")
	}
}
