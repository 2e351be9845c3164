// Package observe carries structured training-session events to pluggable
// sinks. The session runner emits; sinks fan events out to logs, websockets,
// or tracing backends without the runner knowing which.
package observe

import "time"

type Kind string

type Status string

const (
	KindSession     Kind = "session"
	KindStep        Kind = "step"
	KindCommand     Kind = "command"
	KindScore       Kind = "score"
	KindAchievement Kind = "achievement"
	KindCustom      Kind = "custom"
)

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Event struct {
	ID         string         `json:"id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"sessionId,omitempty"`
	ScenarioID string         `json:"scenarioId,omitempty"`
	OperatorID string         `json:"operatorId,omitempty"`
	Kind       Kind           `json:"kind"`
	Status     Status         `json:"status,omitempty"`
	Name       string         `json:"name,omitempty"`
	StepOrder  int            `json:"stepOrder,omitempty"`
	Path       string         `json:"path,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindCustom
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
}
