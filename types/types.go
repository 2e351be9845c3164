package types

import (
	"time"

	"github.com/meridianhq/satops-trainer/telemetry"
)

// ResultStatus is the outcome a command produced when it was executed against
// the simulated spacecraft.
type ResultStatus string

const (
	StatusOK       ResultStatus = "OK"
	StatusError    ResultStatus = "ERROR"
	StatusNoEffect ResultStatus = "NO_EFFECT"
)

// CommandRecord is one entry in a session's command history. Records are
// immutable once appended and their order is significant for sequence checks.
type CommandRecord struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Status     ResultStatus   `json:"status"`
	IssuedAt   time.Time      `json:"issuedAt"`
}

// ConditionKind tags the completion check a training step uses.
type ConditionKind string

const (
	ConditionTelemetryThreshold ConditionKind = "telemetry_threshold"
	ConditionCommandExecuted    ConditionKind = "command_executed"
	ConditionCommandSequence    ConditionKind = "command_sequence"
	ConditionSubsystemStatus    ConditionKind = "subsystem_status"
	ConditionTimeElapsed        ConditionKind = "time_elapsed"
	ConditionBeaconReceived     ConditionKind = "beacon_received"
	ConditionManualConfirmation ConditionKind = "manual_confirmation"
	ConditionOrbitalManeuver    ConditionKind = "orbital_maneuver"
	ConditionMissionCompletion  ConditionKind = "mission_completion"
)

// StepDefinition is one authored objective within a scenario. Definitions are
// immutable; the engine only reads them.
type StepDefinition struct {
	Order                   int            `json:"order" yaml:"order"`
	Title                   string         `json:"title" yaml:"title"`
	Instructions            string         `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	ConditionKind           ConditionKind  `json:"conditionKind" yaml:"conditionKind"`
	ConditionConfig         map[string]any `json:"conditionConfig,omitempty" yaml:"conditionConfig,omitempty"`
	IsCheckpoint            bool           `json:"isCheckpoint,omitempty" yaml:"isCheckpoint,omitempty"`
	ExpectedDurationSeconds float64        `json:"expectedDurationSeconds,omitempty" yaml:"expectedDurationSeconds,omitempty"`
	Hint                    string         `json:"hint,omitempty" yaml:"hint,omitempty"`
	NominalBranch           *int           `json:"nominalBranch,omitempty" yaml:"nominalBranch,omitempty"`
	RecoveryBranch          *int           `json:"recoveryBranch,omitempty" yaml:"recoveryBranch,omitempty"`
}

// SessionState is the live state of one training run at evaluation time.
// External collaborators (the telemetry simulator and command executor) write
// into it; the engine reads it.
type SessionState struct {
	Telemetry           telemetry.Snapshot `json:"telemetry,omitempty"`
	CommandHistory      []CommandRecord    `json:"commandHistory,omitempty"`
	StepElapsedSeconds  float64            `json:"stepElapsedSeconds"`
	StepConfirmed       bool               `json:"stepConfirmed,omitempty"`
	ManualConfirmations map[int]bool       `json:"manualConfirmations,omitempty"`
	Score               float64            `json:"score,omitempty"`
	CompletedSteps      []int              `json:"completedSteps,omitempty"`
}

// StepCompleted reports whether the given step order is in the session's
// completed set.
func (s *SessionState) StepCompleted(order int) bool {
	if s == nil {
		return false
	}
	for _, o := range s.CompletedSteps {
		if o == order {
			return true
		}
	}
	return false
}

// Path is the step-graph transition outcome of one evaluation.
type Path string

const (
	PathNominal  Path = "nominal"
	PathRecovery Path = "recovery"
	PathFailed   Path = "failed"
)

// Check is one named outcome inside a validation result. Actual and Target
// carry pre-formatted values so results are deterministic across runs.
// Progress is an optional 0-100 enrichment for partially satisfied checks.
type Check struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Actual   string  `json:"actual,omitempty"`
	Target   string  `json:"target,omitempty"`
	Message  string  `json:"message,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// ValidationResult is the verdict of evaluating a step's condition.
//
// Invariant: Path is nominal only when Passed is true; recovery only when
// Passed is false and the step declares a recovery branch; failed otherwise.
type ValidationResult struct {
	Passed   bool    `json:"passed"`
	Checks   []Check `json:"checks"`
	Path     Path    `json:"path"`
	NextStep *int    `json:"nextStep,omitempty"`
	Message  string  `json:"message,omitempty"`
}
