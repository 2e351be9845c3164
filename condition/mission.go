package condition

import (
	"fmt"

	"github.com/meridianhq/satops-trainer/types"
)

// MissionCompletionConfig aggregates end-of-mission checks: a minimum running
// session score, a set of step orders that must have completed, and a minimum
// downlinked data volume. All declared checks must pass.
type MissionCompletionConfig struct {
	MinScore      *float64 `json:"minScore,omitempty"`
	RequiredSteps []int    `json:"requiredSteps,omitempty"`
	MinDownlinkMB *float64 `json:"minDownlinkMb,omitempty"`
}

type missionCompletion struct{}

func (missionCompletion) Kind() types.ConditionKind { return types.ConditionMissionCompletion }
func (missionCompletion) config() any               { return &MissionCompletionConfig{} }

func (e missionCompletion) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg MissionCompletionConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.MinScore == nil && len(cfg.RequiredSteps) == 0 && cfg.MinDownlinkMB == nil {
		return Outcome{}, fmt.Errorf("mission_completion declares no checks")
	}

	checks := make([]types.Check, 0, len(cfg.RequiredSteps)+2)

	if cfg.MinScore != nil {
		check := types.Check{
			Name:     "session_score",
			Passed:   state.Score >= *cfg.MinScore,
			Actual:   formatQuantity(state.Score),
			Target:   fmt.Sprintf(">= %s", formatQuantity(*cfg.MinScore)),
			Progress: clampProgress(state.Score / *cfg.MinScore * 100),
		}
		if !check.Passed {
			check.Message = fmt.Sprintf("session score %s is below %s", check.Actual, formatQuantity(*cfg.MinScore))
		}
		checks = append(checks, check)
	}

	for _, order := range cfg.RequiredSteps {
		check := types.Check{
			Name:   fmt.Sprintf("step:%d", order),
			Passed: state.StepCompleted(order),
			Target: "completed",
		}
		if check.Passed {
			check.Actual = "completed"
		} else {
			check.Actual = "incomplete"
			check.Message = fmt.Sprintf("required step %d has not completed", order)
		}
		checks = append(checks, check)
	}

	if cfg.MinDownlinkMB != nil {
		downlinked, ok := state.Telemetry.Number("communications.dataDownlinked_mb")
		check := types.Check{
			Name:   "data_downlinked_mb",
			Target: fmt.Sprintf(">= %s", formatQuantity(*cfg.MinDownlinkMB)),
		}
		if !ok {
			check.Actual = "absent"
			check.Message = "telemetry path \"communications.dataDownlinked_mb\" is not present in the current snapshot"
		} else {
			check.Passed = downlinked >= *cfg.MinDownlinkMB
			check.Actual = formatQuantity(downlinked)
			check.Progress = clampProgress(downlinked / *cfg.MinDownlinkMB * 100)
			if !check.Passed {
				check.Message = fmt.Sprintf("%s MB downlinked, want %s MB", check.Actual, formatQuantity(*cfg.MinDownlinkMB))
			}
		}
		checks = append(checks, check)
	}

	return Outcome{Passed: allPass(checks), Checks: checks}, nil
}
