package condition

import (
	"fmt"
	"time"

	"github.com/meridianhq/satops-trainer/telemetry"
	"github.com/meridianhq/satops-trainer/types"
)

// SubsystemStatusConfig passes when state[subsystem][field] equals the
// expected value exactly.
type SubsystemStatusConfig struct {
	Subsystem string `json:"subsystem"`
	Field     string `json:"field"`
	Expected  any    `json:"expected"`
}

type subsystemStatus struct{}

func (subsystemStatus) Kind() types.ConditionKind { return types.ConditionSubsystemStatus }
func (subsystemStatus) config() any               { return &SubsystemStatusConfig{} }

func (e subsystemStatus) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg SubsystemStatusConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.Subsystem == "" || cfg.Field == "" {
		return Outcome{}, fmt.Errorf("subsystem_status requires subsystem and field")
	}

	path := cfg.Subsystem + "." + cfg.Field
	check := types.Check{
		Name:   path,
		Target: fmt.Sprintf("%v", cfg.Expected),
	}
	value, ok := state.Telemetry.Lookup(path)
	if !ok {
		check.Actual = "absent"
		check.Message = fmt.Sprintf("telemetry path %q is not present in the current snapshot", path)
		return Outcome{Passed: false, Checks: []types.Check{check}}, nil
	}
	check.Actual = fmt.Sprintf("%v", value)
	check.Passed = looseEqual(cfg.Expected, value)
	if !check.Passed {
		check.Message = fmt.Sprintf("%s is %s, want %s", path, check.Actual, check.Target)
	}
	return Outcome{Passed: check.Passed, Checks: []types.Check{check}}, nil
}

// TimeElapsedConfig passes once the step has been active for the required
// number of seconds.
type TimeElapsedConfig struct {
	Seconds float64 `json:"seconds"`
}

type timeElapsed struct{}

func (timeElapsed) Kind() types.ConditionKind { return types.ConditionTimeElapsed }
func (timeElapsed) config() any               { return &TimeElapsedConfig{} }

func (e timeElapsed) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg TimeElapsedConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.Seconds <= 0 {
		return Outcome{}, fmt.Errorf("time_elapsed requires seconds > 0")
	}

	check := types.Check{
		Name:     "time_elapsed",
		Passed:   state.StepElapsedSeconds >= cfg.Seconds,
		Actual:   formatQuantity(state.StepElapsedSeconds),
		Target:   formatQuantity(cfg.Seconds),
		Progress: clampProgress(state.StepElapsedSeconds / cfg.Seconds * 100),
	}
	if !check.Passed {
		check.Message = fmt.Sprintf("%s of %s seconds elapsed", check.Actual, check.Target)
	}
	return Outcome{Passed: check.Passed, Checks: []types.Check{check}}, nil
}

// BeaconReceivedConfig passes when the beacon count reaches the required
// value. When AfterCommand is set, the gate command must have executed and
// only beacons received after it count, provided per-beacon timestamps are
// available in telemetry.
type BeaconReceivedConfig struct {
	Count        int    `json:"count"`
	AfterCommand string `json:"afterCommand,omitempty"`
}

type beaconReceived struct{}

func (beaconReceived) Kind() types.ConditionKind { return types.ConditionBeaconReceived }
func (beaconReceived) config() any               { return &BeaconReceivedConfig{} }

func (e beaconReceived) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg BeaconReceivedConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.Count <= 0 {
		return Outcome{}, fmt.Errorf("beacon_received requires count > 0")
	}

	count, ok := state.Telemetry.Number("communications.beaconCount")
	if !ok {
		return Outcome{Passed: false, Checks: []types.Check{{
			Name:    "telemetry_path",
			Passed:  false,
			Target:  "communications.beaconCount",
			Message: "telemetry path \"communications.beaconCount\" is not present in the current snapshot",
		}}}, nil
	}

	if cfg.AfterCommand == "" {
		check := beaconCountCheck(int(count), cfg.Count, "")
		return Outcome{Passed: check.Passed, Checks: []types.Check{check}}, nil
	}

	checks := make([]types.Check, 0, 2)
	gate, gateFound := latestCommand(state.CommandHistory, cfg.AfterCommand)
	gateCheck := types.Check{
		Name:   "command:" + cfg.AfterCommand,
		Passed: gateFound,
		Target: "executed",
	}
	if gateFound {
		gateCheck.Actual = "executed"
	} else {
		gateCheck.Actual = "not executed"
		gateCheck.Message = fmt.Sprintf("gate command %q was not executed", cfg.AfterCommand)
	}
	checks = append(checks, gateCheck)

	if timestamps, present := beaconTimestamps(state.Telemetry); present && gateFound {
		after := 0
		for _, ts := range timestamps {
			if ts.After(gate.IssuedAt) {
				after++
			}
		}
		check := beaconCountCheck(after, cfg.Count, fmt.Sprintf("after command %q", cfg.AfterCommand))
		checks = append(checks, check)
	} else {
		check := beaconCountCheck(int(count), cfg.Count, "")
		if check.Message == "" {
			check.Message = "beacon timestamps unavailable; ordering relative to the gate command was not verified"
		}
		checks = append(checks, check)
	}

	return Outcome{Passed: allPass(checks), Checks: checks}, nil
}

func beaconCountCheck(got, want int, qualifier string) types.Check {
	name := "beacon_count"
	check := types.Check{
		Name:     name,
		Passed:   got >= want,
		Actual:   fmt.Sprintf("%d", got),
		Target:   fmt.Sprintf(">= %d", want),
		Progress: clampProgress(float64(got) / float64(want) * 100),
	}
	if !check.Passed {
		msg := fmt.Sprintf("%d of %d beacons received", got, want)
		if qualifier != "" {
			msg += " " + qualifier
		}
		check.Message = msg
	}
	return check
}

func beaconTimestamps(snapshot telemetry.Snapshot) ([]time.Time, bool) {
	raw, ok := snapshot.Lookup("communications.beaconTimestamps")
	if !ok {
		return nil, false
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]time.Time, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, false
			}
			out = append(out, ts)
		case time.Time:
			out = append(out, v)
		default:
			if n, isNum := telemetry.AsNumber(v); isNum {
				out = append(out, time.Unix(int64(n), 0).UTC())
			} else {
				return nil, false
			}
		}
	}
	return out, true
}

func latestCommand(history []types.CommandRecord, name string) (types.CommandRecord, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Name == name {
			return history[i], true
		}
	}
	return types.CommandRecord{}, false
}

// ManualConfirmationConfig passes when the operator has confirmed the step.
// Optional gates: a minimum step duration and a minimum running session score.
type ManualConfirmationConfig struct {
	MinSeconds float64  `json:"minSeconds,omitempty"`
	MinScore   *float64 `json:"minScore,omitempty"`
}

type manualConfirmation struct{}

func (manualConfirmation) Kind() types.ConditionKind { return types.ConditionManualConfirmation }
func (manualConfirmation) config() any               { return &ManualConfirmationConfig{} }

func (e manualConfirmation) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg ManualConfirmationConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}

	checks := make([]types.Check, 0, 3)
	if cfg.MinSeconds > 0 {
		check := types.Check{
			Name:     "min_duration",
			Passed:   state.StepElapsedSeconds >= cfg.MinSeconds,
			Actual:   formatQuantity(state.StepElapsedSeconds),
			Target:   formatQuantity(cfg.MinSeconds),
			Progress: clampProgress(state.StepElapsedSeconds / cfg.MinSeconds * 100),
		}
		if !check.Passed {
			check.Message = fmt.Sprintf("confirmation allowed after %s seconds", check.Target)
		}
		checks = append(checks, check)
	}
	if cfg.MinScore != nil {
		check := types.Check{
			Name:   "min_score",
			Passed: state.Score >= *cfg.MinScore,
			Actual: formatQuantity(state.Score),
			Target: fmt.Sprintf(">= %s", formatQuantity(*cfg.MinScore)),
		}
		if !check.Passed {
			check.Message = fmt.Sprintf("session score %s is below %s", check.Actual, formatQuantity(*cfg.MinScore))
		}
		checks = append(checks, check)
	}

	confirmed := types.Check{
		Name:   "confirmed",
		Passed: state.StepConfirmed,
		Target: "confirmed",
	}
	if state.StepConfirmed {
		confirmed.Actual = "confirmed"
	} else {
		confirmed.Actual = "pending"
		confirmed.Message = "waiting for operator confirmation"
	}
	checks = append(checks, confirmed)

	return Outcome{Passed: allPass(checks), Checks: checks}, nil
}
