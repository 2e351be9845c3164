package condition

import (
	"strings"
	"testing"
	"time"

	"github.com/meridianhq/satops-trainer/telemetry"
	"github.com/meridianhq/satops-trainer/types"
)

func evaluate(t *testing.T, kind types.ConditionKind, cfg map[string]any, state *types.SessionState) Outcome {
	t.Helper()
	ev, ok := NewRegistry().Lookup(kind)
	if !ok {
		t.Fatalf("no evaluator registered for %q", kind)
	}
	outcome, err := ev.Evaluate(cfg, state)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return outcome
}

func stateWithTelemetry(snapshot telemetry.Snapshot) *types.SessionState {
	return &types.SessionState{Telemetry: snapshot}
}

func TestRegistry_CoversEveryKind(t *testing.T) {
	kinds := NewRegistry().Kinds()
	want := []types.ConditionKind{
		types.ConditionBeaconReceived,
		types.ConditionCommandExecuted,
		types.ConditionCommandSequence,
		types.ConditionManualConfirmation,
		types.ConditionMissionCompletion,
		types.ConditionOrbitalManeuver,
		types.ConditionSubsystemStatus,
		types.ConditionTelemetryThreshold,
		types.ConditionTimeElapsed,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d kinds, got %d: %v", len(want), len(kinds), kinds)
	}
	for i, kind := range want {
		if kinds[i] != kind {
			t.Fatalf("kind %d: expected %q, got %q", i, kind, kinds[i])
		}
	}
}

func TestTelemetryThreshold_Comparators(t *testing.T) {
	snapshot := telemetry.Snapshot{
		"power": map[string]any{"currentCharge_percent": 75.0},
	}

	cases := []struct {
		name string
		cfg  map[string]any
		pass bool
	}{
		{"gt pass", map[string]any{"path": "power.currentCharge_percent", "comparator": "gt", "value": 70.0}, true},
		{"gt fail", map[string]any{"path": "power.currentCharge_percent", "comparator": "gt", "value": 75.0}, false},
		{"gte boundary", map[string]any{"path": "power.currentCharge_percent", "comparator": "gte", "value": 75.0}, true},
		{"lt fail", map[string]any{"path": "power.currentCharge_percent", "comparator": "lt", "value": 75.0}, false},
		{"lte boundary", map[string]any{"path": "power.currentCharge_percent", "comparator": "lte", "value": 75.0}, true},
		{"eq pass", map[string]any{"path": "power.currentCharge_percent", "comparator": "eq", "value": 75.0}, true},
		{"neq pass", map[string]any{"path": "power.currentCharge_percent", "comparator": "neq", "value": 70.0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := evaluate(t, types.ConditionTelemetryThreshold, tc.cfg, stateWithTelemetry(snapshot))
			if outcome.Passed != tc.pass {
				t.Fatalf("expected passed=%v, got %v (%+v)", tc.pass, outcome.Passed, outcome.Checks)
			}
		})
	}
}

func TestTelemetryThreshold_BetweenIsInclusive(t *testing.T) {
	for _, value := range []float64{20, 25, 30} {
		snapshot := telemetry.Snapshot{"thermal": map[string]any{"internalTemp_c": value}}
		cfg := map[string]any{
			"path":       "thermal.internalTemp_c",
			"comparator": "between",
			"min":        20.0,
			"max":        30.0,
		}
		outcome := evaluate(t, types.ConditionTelemetryThreshold, cfg, stateWithTelemetry(snapshot))
		if !outcome.Passed {
			t.Fatalf("value %.0f should satisfy [20, 30]: %+v", value, outcome.Checks)
		}
	}

	snapshot := telemetry.Snapshot{"thermal": map[string]any{"internalTemp_c": 30.001}}
	cfg := map[string]any{"path": "thermal.internalTemp_c", "comparator": "between", "min": 20.0, "max": 30.0}
	if outcome := evaluate(t, types.ConditionTelemetryThreshold, cfg, stateWithTelemetry(snapshot)); outcome.Passed {
		t.Fatal("value above max should not pass")
	}
}

func TestTelemetryThreshold_MissingPathFailsWithoutError(t *testing.T) {
	cfg := map[string]any{"path": "power.currentCharge_percent", "comparator": "gt", "value": 10.0}
	outcome := evaluate(t, types.ConditionTelemetryThreshold, cfg, stateWithTelemetry(telemetry.Snapshot{}))
	if outcome.Passed {
		t.Fatal("missing telemetry path should fail the condition")
	}
	if len(outcome.Checks) != 1 || outcome.Checks[0].Name != "telemetry_path" {
		t.Fatalf("expected a single telemetry_path check, got %+v", outcome.Checks)
	}
}

func TestTelemetryThreshold_SustainIsReportedNotEvaluated(t *testing.T) {
	snapshot := telemetry.Snapshot{"power": map[string]any{"solarPanelOutput_w": 900.0}}
	cfg := map[string]any{
		"path":           "power.solarPanelOutput_w",
		"comparator":     "gt",
		"value":          800.0,
		"sustainSeconds": 60.0,
	}
	outcome := evaluate(t, types.ConditionTelemetryThreshold, cfg, stateWithTelemetry(snapshot))
	if !outcome.Passed {
		t.Fatalf("threshold should pass: %+v", outcome.Checks)
	}
	found := false
	for _, check := range outcome.Checks {
		if check.Name == "sustain_duration" {
			found = true
			if !check.Passed {
				t.Fatal("sustain check must not fail the condition")
			}
		}
	}
	if !found {
		t.Fatal("expected a sustain_duration check to be surfaced")
	}
}

func TestCommandExecuted_MustSucceedSkipsErrorRecords(t *testing.T) {
	st := &types.SessionState{
		CommandHistory: []types.CommandRecord{
			{Name: "PING", Status: types.StatusError},
		},
	}
	cfg := map[string]any{"command": "PING", "mustSucceed": true}
	if outcome := evaluate(t, types.ConditionCommandExecuted, cfg, st); outcome.Passed {
		t.Fatal("ERROR record must not satisfy mustSucceed")
	}

	st.CommandHistory = append(st.CommandHistory, types.CommandRecord{Name: "PING", Status: types.StatusOK})
	if outcome := evaluate(t, types.ConditionCommandExecuted, cfg, st); !outcome.Passed {
		t.Fatal("OK record after an ERROR record should satisfy mustSucceed")
	}
}

func TestCommandExecuted_ParameterMatching(t *testing.T) {
	st := &types.SessionState{
		CommandHistory: []types.CommandRecord{
			{Name: "SET_MODE", Parameters: map[string]any{"mode": "SAFE", "level": 2}, Status: types.StatusOK},
		},
	}
	match := map[string]any{"command": "SET_MODE", "parameters": map[string]any{"mode": "SAFE", "level": 2.0}}
	if outcome := evaluate(t, types.ConditionCommandExecuted, match, st); !outcome.Passed {
		t.Fatal("numeric parameters should compare loosely across int and float")
	}

	mismatch := map[string]any{"command": "SET_MODE", "parameters": map[string]any{"mode": "NOMINAL"}}
	if outcome := evaluate(t, types.ConditionCommandExecuted, mismatch, st); outcome.Passed {
		t.Fatal("mismatched parameter should not match")
	}
}

func TestCommandSequence_StrictOrderFlipsVerdict(t *testing.T) {
	history := []types.CommandRecord{
		{Name: "B", Status: types.StatusOK},
		{Name: "A", Status: types.StatusOK},
	}
	st := &types.SessionState{CommandHistory: history}

	strict := map[string]any{"commands": []string{"A", "B"}, "strictOrder": true}
	if outcome := evaluate(t, types.ConditionCommandSequence, strict, st); outcome.Passed {
		t.Fatal("out-of-order history must fail strict mode")
	}

	flexible := map[string]any{"commands": []string{"A", "B"}}
	if outcome := evaluate(t, types.ConditionCommandSequence, flexible, st); !outcome.Passed {
		t.Fatal("presence of both commands should pass flexible mode")
	}
}

func TestCommandSequence_ProgressReflectsPartialCompletion(t *testing.T) {
	st := &types.SessionState{
		CommandHistory: []types.CommandRecord{{Name: "A", Status: types.StatusOK}},
	}
	cfg := map[string]any{"commands": []string{"A", "B", "C", "D"}, "strictOrder": true}
	outcome := evaluate(t, types.ConditionCommandSequence, cfg, st)
	if outcome.Passed {
		t.Fatal("partial sequence should not pass")
	}
	summary := outcome.Checks[len(outcome.Checks)-1]
	if summary.Name != "sequence" {
		t.Fatalf("expected trailing sequence check, got %q", summary.Name)
	}
	if summary.Progress != 25 {
		t.Fatalf("expected 25%% progress, got %v", summary.Progress)
	}
}

func TestCommandSequence_AllMustSucceedIgnoresErrors(t *testing.T) {
	st := &types.SessionState{
		CommandHistory: []types.CommandRecord{
			{Name: "A", Status: types.StatusError},
			{Name: "B", Status: types.StatusOK},
		},
	}
	cfg := map[string]any{"commands": []string{"A", "B"}, "allMustSucceed": true}
	if outcome := evaluate(t, types.ConditionCommandSequence, cfg, st); outcome.Passed {
		t.Fatal("ERROR record must not count when allMustSucceed is set")
	}
}

func TestCommandSequence_StrictOrderSkipsFailedAttempts(t *testing.T) {
	strict := map[string]any{"commands": []string{"A", "B"}, "strictOrder": true}

	failed := &types.SessionState{
		CommandHistory: []types.CommandRecord{
			{Name: "A", Status: types.StatusError},
			{Name: "B", Status: types.StatusOK},
		},
	}
	if outcome := evaluate(t, types.ConditionCommandSequence, strict, failed); outcome.Passed {
		t.Fatal("a failed attempt must not satisfy the ordered sequence")
	}

	retried := &types.SessionState{
		CommandHistory: []types.CommandRecord{
			{Name: "A", Status: types.StatusError},
			{Name: "A", Status: types.StatusOK},
			{Name: "B", Status: types.StatusOK},
		},
	}
	if outcome := evaluate(t, types.ConditionCommandSequence, strict, retried); !outcome.Passed {
		t.Fatalf("a successful retry should satisfy the ordered sequence: %+v", outcome.Checks)
	}
}

func TestCommandSequence_ReportsCompletionTime(t *testing.T) {
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	last := first.Add(90 * time.Second)
	st := &types.SessionState{
		CommandHistory: []types.CommandRecord{
			{Name: "B", Status: types.StatusOK, IssuedAt: last},
			{Name: "A", Status: types.StatusOK, IssuedAt: first},
		},
	}

	outcome := evaluate(t, types.ConditionCommandSequence, map[string]any{"commands": []string{"A", "B"}}, st)
	if !outcome.Passed {
		t.Fatalf("both commands present, expected pass: %+v", outcome.Checks)
	}
	summary := outcome.Checks[len(outcome.Checks)-1]
	if want := "sequence completed at " + last.Format(time.RFC3339); summary.Message != want {
		t.Fatalf("expected %q, got %q", want, summary.Message)
	}
}

func TestSubsystemStatus_ExactEquality(t *testing.T) {
	snapshot := telemetry.Snapshot{"attitude": map[string]any{"mode": "SUN_POINTING"}}
	cfg := map[string]any{"subsystem": "attitude", "field": "mode", "expected": "SUN_POINTING"}
	if outcome := evaluate(t, types.ConditionSubsystemStatus, cfg, stateWithTelemetry(snapshot)); !outcome.Passed {
		t.Fatal("matching status should pass")
	}

	cfg["expected"] = "NADIR_POINTING"
	if outcome := evaluate(t, types.ConditionSubsystemStatus, cfg, stateWithTelemetry(snapshot)); outcome.Passed {
		t.Fatal("mismatched status should fail")
	}
}

func TestTimeElapsed(t *testing.T) {
	cfg := map[string]any{"seconds": 30.0}
	st := &types.SessionState{StepElapsedSeconds: 29}
	outcome := evaluate(t, types.ConditionTimeElapsed, cfg, st)
	if outcome.Passed {
		t.Fatal("29s of 30s should not pass")
	}
	if outcome.Checks[0].Progress < 96 || outcome.Checks[0].Progress > 97 {
		t.Fatalf("expected ~96.7%% progress, got %v", outcome.Checks[0].Progress)
	}

	st.StepElapsedSeconds = 30
	if outcome := evaluate(t, types.ConditionTimeElapsed, cfg, st); !outcome.Passed {
		t.Fatal("exactly 30s should pass")
	}
}

func TestBeaconReceived_CountReached(t *testing.T) {
	snapshot := telemetry.Snapshot{"communications": map[string]any{"beaconCount": 2}}
	cfg := map[string]any{"count": 2}
	if outcome := evaluate(t, types.ConditionBeaconReceived, cfg, stateWithTelemetry(snapshot)); !outcome.Passed {
		t.Fatal("2 beacons should satisfy count 2")
	}

	snapshot["communications"].(map[string]any)["beaconCount"] = 1
	if outcome := evaluate(t, types.ConditionBeaconReceived, cfg, stateWithTelemetry(snapshot)); outcome.Passed {
		t.Fatal("1 beacon should not satisfy count 2")
	}
}

func TestBeaconReceived_AfterCommandCountsOnlyLaterBeacons(t *testing.T) {
	gateTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshot := telemetry.Snapshot{
		"communications": map[string]any{
			"beaconCount": 3,
			"beaconTimestamps": []any{
				gateTime.Add(-time.Minute).Format(time.RFC3339),
				gateTime.Add(time.Minute).Format(time.RFC3339),
				gateTime.Add(2 * time.Minute).Format(time.RFC3339),
			},
		},
	}
	st := &types.SessionState{
		Telemetry: snapshot,
		CommandHistory: []types.CommandRecord{
			{Name: "RESET_TRANSPONDER", Status: types.StatusOK, IssuedAt: gateTime},
		},
	}

	cfg := map[string]any{"count": 2, "afterCommand": "RESET_TRANSPONDER"}
	if outcome := evaluate(t, types.ConditionBeaconReceived, cfg, st); !outcome.Passed {
		t.Fatalf("2 beacons after the gate should pass: %+v", outcome.Checks)
	}

	cfg["count"] = 3
	if outcome := evaluate(t, types.ConditionBeaconReceived, cfg, st); outcome.Passed {
		t.Fatal("only 2 of 3 beacons arrived after the gate")
	}
}

func TestBeaconReceived_MissingTimestampsFallsBackWithMessage(t *testing.T) {
	snapshot := telemetry.Snapshot{"communications": map[string]any{"beaconCount": 2}}
	st := &types.SessionState{
		Telemetry: snapshot,
		CommandHistory: []types.CommandRecord{
			{Name: "RESET_TRANSPONDER", Status: types.StatusOK, IssuedAt: time.Now().UTC()},
		},
	}
	cfg := map[string]any{"count": 2, "afterCommand": "RESET_TRANSPONDER"}
	outcome := evaluate(t, types.ConditionBeaconReceived, cfg, st)
	if !outcome.Passed {
		t.Fatalf("raw count fallback should pass: %+v", outcome.Checks)
	}
	last := outcome.Checks[len(outcome.Checks)-1]
	if !strings.Contains(last.Message, "timestamps unavailable") {
		t.Fatalf("expected fallback message, got %q", last.Message)
	}
}

func TestManualConfirmation_Gates(t *testing.T) {
	cfg := map[string]any{"minSeconds": 10.0}
	st := &types.SessionState{StepElapsedSeconds: 5, StepConfirmed: true}
	if outcome := evaluate(t, types.ConditionManualConfirmation, cfg, st); outcome.Passed {
		t.Fatal("confirmation before minSeconds should not pass")
	}

	st.StepElapsedSeconds = 15
	if outcome := evaluate(t, types.ConditionManualConfirmation, cfg, st); !outcome.Passed {
		t.Fatal("confirmation after minSeconds should pass")
	}

	st.StepConfirmed = false
	if outcome := evaluate(t, types.ConditionManualConfirmation, cfg, st); outcome.Passed {
		t.Fatal("unconfirmed step should not pass")
	}
}

func TestOrbitalManeuver_DerivedApsides(t *testing.T) {
	// a=7000, e=0.01: apoapsis=7070-6371=699, periapsis=6930-6371=559.
	snapshot := telemetry.Snapshot{
		"orbit":      map[string]any{"semiMajorAxis_km": 7000.0, "eccentricity": 0.01},
		"propulsion": map[string]any{"fuelRemaining_kg": 42.0},
	}
	cfg := map[string]any{
		"apoapsisKm":  map[string]any{"min": 690.0, "max": 710.0},
		"periapsisKm": map[string]any{"min": 550.0, "max": 570.0},
		"minFuelKg":   40.0,
	}
	outcome := evaluate(t, types.ConditionOrbitalManeuver, cfg, stateWithTelemetry(snapshot))
	if !outcome.Passed {
		t.Fatalf("orbit within bounds should pass: %+v", outcome.Checks)
	}

	cfg["minFuelKg"] = 45.0
	if outcome := evaluate(t, types.ConditionOrbitalManeuver, cfg, stateWithTelemetry(snapshot)); outcome.Passed {
		t.Fatal("insufficient fuel should fail the maneuver")
	}
}

func TestOrbitalManeuver_MissingElements(t *testing.T) {
	cfg := map[string]any{"apoapsisKm": map[string]any{"max": 700.0}}
	outcome := evaluate(t, types.ConditionOrbitalManeuver, cfg, stateWithTelemetry(telemetry.Snapshot{}))
	if outcome.Passed {
		t.Fatal("missing orbital elements should fail")
	}
	if outcome.Checks[0].Name != "orbital_elements" {
		t.Fatalf("expected orbital_elements check, got %+v", outcome.Checks)
	}
}

func TestMissionCompletion(t *testing.T) {
	st := &types.SessionState{
		Score:          85,
		CompletedSteps: []int{1, 2, 3},
		Telemetry: telemetry.Snapshot{
			"communications": map[string]any{"dataDownlinked_mb": 120.0},
		},
	}
	cfg := map[string]any{
		"minScore":      80.0,
		"requiredSteps": []int{1, 3},
		"minDownlinkMb": 100.0,
	}
	if outcome := evaluate(t, types.ConditionMissionCompletion, cfg, st); !outcome.Passed {
		t.Fatalf("all mission checks hold, expected pass: %+v", st)
	}

	cfg["requiredSteps"] = []int{1, 4}
	if outcome := evaluate(t, types.ConditionMissionCompletion, cfg, st); outcome.Passed {
		t.Fatal("missing required step should fail")
	}
}

func TestValidateConfig(t *testing.T) {
	registry := NewRegistry()

	good := map[string]any{"path": "power.currentCharge_percent", "comparator": "gt", "value": 50.0}
	if err := registry.ValidateConfig(types.ConditionTelemetryThreshold, good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := map[string]any{"path": 42}
	if err := registry.ValidateConfig(types.ConditionTelemetryThreshold, bad); err == nil {
		t.Fatal("numeric path should be rejected by the schema")
	}

	if err := registry.ValidateConfig("bogus_kind", map[string]any{}); err == nil {
		t.Fatal("unknown kind should be rejected")
	}
}

func TestTelemetryPaths(t *testing.T) {
	paths := TelemetryPaths(types.ConditionTelemetryThreshold, map[string]any{
		"path": "power.currentCharge_percent", "comparator": "gt", "value": 1.0,
	})
	if len(paths) != 1 || paths[0] != "power.currentCharge_percent" {
		t.Fatalf("unexpected paths: %v", paths)
	}

	paths = TelemetryPaths(types.ConditionSubsystemStatus, map[string]any{
		"subsystem": "attitude", "field": "mode", "expected": "SAFE",
	})
	if len(paths) != 1 || paths[0] != "attitude.mode" {
		t.Fatalf("unexpected paths: %v", paths)
	}

	if paths := TelemetryPaths(types.ConditionCommandExecuted, map[string]any{"command": "PING"}); paths != nil {
		t.Fatalf("command_executed should reference no telemetry paths, got %v", paths)
	}
}
