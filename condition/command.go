package condition

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/meridianhq/satops-trainer/types"
)

// CommandExecutedConfig passes when the named command appears in the history.
// When Parameters is set, a record only matches if every given parameter
// equals the record's value. When MustSucceed is set, the matched record must
// have status OK.
type CommandExecutedConfig struct {
	Command     string         `json:"command"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	MustSucceed bool           `json:"mustSucceed,omitempty"`
}

type commandExecuted struct{}

func (commandExecuted) Kind() types.ConditionKind { return types.ConditionCommandExecuted }
func (commandExecuted) config() any               { return &CommandExecutedConfig{} }

func (e commandExecuted) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg CommandExecutedConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if cfg.Command == "" {
		return Outcome{}, fmt.Errorf("command_executed requires a command name")
	}

	check := types.Check{
		Name:   "command:" + cfg.Command,
		Target: "executed",
		Actual: "not executed",
	}
	if cfg.MustSucceed {
		check.Target = "executed with status OK"
	}

	for _, record := range state.CommandHistory {
		if record.Name != cfg.Command {
			continue
		}
		if !parametersMatch(cfg.Parameters, record.Parameters) {
			continue
		}
		check.Actual = fmt.Sprintf("executed (%s)", record.Status)
		if cfg.MustSucceed && record.Status != types.StatusOK {
			continue
		}
		check.Passed = true
		break
	}
	if !check.Passed {
		check.Message = fmt.Sprintf("command %q was %s, want %s", cfg.Command, check.Actual, check.Target)
	}

	return Outcome{Passed: check.Passed, Checks: []types.Check{check}}, nil
}

// parametersMatch reports whether every expected parameter equals the
// record's value. Numbers are compared as floats since decoded payloads mix
// int and float64 representations.
func parametersMatch(expected, got map[string]any) bool {
	for key, want := range expected {
		have, ok := got[key]
		if !ok {
			return false
		}
		if !looseEqual(want, have) {
			return false
		}
	}
	return true
}

// CommandSequenceConfig requires a set of commands to appear in the history.
// Strict mode requires them as an in-order subsequence of the successful
// commands; flexible mode only requires presence, restricted to OK records
// when AllMustSucceed is set.
type CommandSequenceConfig struct {
	Commands       []string `json:"commands"`
	StrictOrder    bool     `json:"strictOrder,omitempty"`
	AllMustSucceed bool     `json:"allMustSucceed,omitempty"`
}

type commandSequence struct{}

func (commandSequence) Kind() types.ConditionKind { return types.ConditionCommandSequence }
func (commandSequence) config() any               { return &CommandSequenceConfig{} }

func (e commandSequence) Evaluate(raw map[string]any, state *types.SessionState) (Outcome, error) {
	var cfg CommandSequenceConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return Outcome{}, err
	}
	if len(cfg.Commands) == 0 {
		return Outcome{}, fmt.Errorf("command_sequence requires at least one command")
	}

	matched := make([]bool, len(cfg.Commands))
	var completedAt time.Time
	if cfg.StrictOrder {
		// Ordering is judged over the successful commands only; a failed
		// attempt neither satisfies nor breaks the sequence.
		cursor := 0
		for _, record := range state.CommandHistory {
			if cursor >= len(cfg.Commands) {
				break
			}
			if record.Name != cfg.Commands[cursor] {
				continue
			}
			if record.Status != types.StatusOK {
				continue
			}
			matched[cursor] = true
			cursor++
			if record.IssuedAt.After(completedAt) {
				completedAt = record.IssuedAt
			}
		}
	} else {
		for i, name := range cfg.Commands {
			for _, record := range state.CommandHistory {
				if record.Name != name {
					continue
				}
				if cfg.AllMustSucceed && record.Status != types.StatusOK {
					continue
				}
				matched[i] = true
				if record.IssuedAt.After(completedAt) {
					completedAt = record.IssuedAt
				}
				break
			}
		}
	}

	checks := make([]types.Check, 0, len(cfg.Commands)+1)
	done := 0
	for i, name := range cfg.Commands {
		check := types.Check{Name: "command:" + name, Passed: matched[i], Target: "executed"}
		if matched[i] {
			done++
			check.Actual = "executed"
		} else {
			check.Actual = "not executed"
			if cfg.StrictOrder {
				check.Message = fmt.Sprintf("command %q did not occur in order", name)
			} else {
				check.Message = fmt.Sprintf("command %q was not executed", name)
			}
		}
		checks = append(checks, check)
	}
	summary := types.Check{
		Name:     "sequence",
		Passed:   done == len(cfg.Commands),
		Actual:   fmt.Sprintf("%d/%d", done, len(cfg.Commands)),
		Target:   strings.Join(cfg.Commands, " -> "),
		Progress: clampProgress(float64(done) / float64(len(cfg.Commands)) * 100),
	}
	if summary.Passed && !completedAt.IsZero() {
		summary.Message = fmt.Sprintf("sequence completed at %s", completedAt.UTC().Format(time.RFC3339))
	}
	checks = append(checks, summary)

	return Outcome{Passed: allPass(checks), Checks: checks}, nil
}

func looseEqual(want, have any) bool {
	wantNum, wantOK := toFloat(want)
	haveNum, haveOK := toFloat(have)
	if wantOK && haveOK {
		return wantNum == haveNum
	}
	return reflect.DeepEqual(want, have)
}

func toFloat(v any) (float64, bool) {
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
