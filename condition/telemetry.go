package condition

import (
	"fmt"
	"strings"

	"github.com/meridianhq/satops-trainer/types"
)

// TelemetryThresholdConfig compares a telemetry value against a bound.
// Comparator "between" requires min and max; every other comparator requires
// value. SustainSeconds is accepted but not evaluated (see the sustain check).
type TelemetryThresholdConfig struct {
	Path           string   `json:"path"`
	Comparator     string   `json:"comparator"`
	Value          *float64 `json:"value,omitempty"`
	Min            *float64 `json:"min,omitempty"`
	Max            *float64 `json:"max,omitempty"`
	SustainSeconds float64  `json:"sustainSeconds,omitempty"`
}

type telemetryThreshold struct{}

func (telemetryThreshold) Kind() types.ConditionKind { return types.ConditionTelemetryThreshold }
func (telemetryThreshold) config() any               { return &TelemetryThresholdConfig{} }

func (e telemetryThreshold) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg TelemetryThresholdConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.Path == "" {
		return Outcome{}, fmt.Errorf("telemetry_threshold requires a path")
	}

	format := formatQuantity
	if strings.HasSuffix(cfg.Path, "_percent") {
		format = formatPercent
	}

	checks := make([]types.Check, 0, 2)
	value, ok := state.Telemetry.Number(cfg.Path)
	if !ok {
		checks = append(checks, types.Check{
			Name:    "telemetry_path",
			Passed:  false,
			Target:  cfg.Path,
			Message: fmt.Sprintf("telemetry path %q is not present in the current snapshot", cfg.Path),
		})
		return Outcome{Passed: false, Checks: checks}, nil
	}

	check := types.Check{Name: "threshold", Actual: format(value)}
	switch cfg.Comparator {
	case "gt", "lt", "gte", "lte", "eq", "neq":
		if cfg.Value == nil {
			return Outcome{}, fmt.Errorf("telemetry_threshold comparator %q requires a value", cfg.Comparator)
		}
		bound := *cfg.Value
		check.Target = fmt.Sprintf("%s %s", cfg.Comparator, format(bound))
		switch cfg.Comparator {
		case "gt":
			check.Passed = value > bound
		case "lt":
			check.Passed = value < bound
		case "gte":
			check.Passed = value >= bound
		case "lte":
			check.Passed = value <= bound
		case "eq":
			check.Passed = value == bound
		case "neq":
			check.Passed = value != bound
		}
		if (cfg.Comparator == "gt" || cfg.Comparator == "gte") && bound > 0 {
			check.Progress = clampProgress(value / bound * 100)
		}
	case "between":
		if cfg.Min == nil || cfg.Max == nil {
			return Outcome{}, fmt.Errorf("telemetry_threshold comparator between requires min and max")
		}
		check.Target = fmt.Sprintf("[%s, %s]", format(*cfg.Min), format(*cfg.Max))
		check.Passed = value >= *cfg.Min && value <= *cfg.Max
	default:
		return Outcome{}, fmt.Errorf("telemetry_threshold has unknown comparator %q", cfg.Comparator)
	}
	if !check.Passed {
		check.Message = fmt.Sprintf("%s is %s, want %s", cfg.Path, check.Actual, check.Target)
	}
	checks = append(checks, check)

	// Sustain-over-time needs a rolling window of past snapshots the engine
	// does not keep. The check is surfaced rather than silently dropped so
	// authored configs are not misleading.
	if cfg.SustainSeconds > 0 {
		checks = append(checks, types.Check{
			Name:    "sustain_duration",
			Passed:  true,
			Target:  formatQuantity(cfg.SustainSeconds),
			Message: "sustain duration is not evaluated; the threshold is checked instantaneously",
		})
	}

	return Outcome{Passed: allPass(checks), Checks: checks}, nil
}
