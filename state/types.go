package state

import (
	"time"

	"github.com/meridianhq/satops-trainer/types"
)

// Session lifecycle statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// SessionRecord is the durable row for one training session. CheckpointStep
// is the most recent checkpoint step the operator passed, used as the restore
// point after a failure.
type SessionRecord struct {
	SessionID      string         `json:"sessionId"`
	ScenarioID     string         `json:"scenarioId"`
	OperatorID     string         `json:"operatorId,omitempty"`
	Status         string         `json:"status"`
	CurrentStep    int            `json:"currentStep"`
	CheckpointStep *int           `json:"checkpointStep,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// VerdictRecord is one persisted step evaluation. Seq is a per-session
// monotonic sequence number assigned by the caller.
type VerdictRecord struct {
	SessionID string                 `json:"sessionId"`
	Seq       int                    `json:"seq"`
	StepOrder int                    `json:"stepOrder"`
	Result    types.ValidationResult `json:"result"`
	CreatedAt time.Time              `json:"createdAt"`
}
