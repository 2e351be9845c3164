package types

// EventType names one entry in a session's live event stream. The session
// runner uses these as delivery frame types and observability event names, so
// WebSocket clients and sinks see the same vocabulary.
type EventType string

const (
	EventSessionStarted      EventType = "session.started"
	EventCommandExecuted     EventType = "command.executed"
	EventTelemetryTick       EventType = "telemetry.tick"
	EventStepProgress        EventType = "step.progress"
	EventStepPassed          EventType = "step.passed"
	EventStepRecovery        EventType = "step.recovery"
	EventStepFailed          EventType = "step.failed"
	EventScoreUpdated        EventType = "score.updated"
	EventAchievementUnlocked EventType = "achievement.unlocked"
	EventSessionCompleted    EventType = "session.completed"
	EventSessionFailed       EventType = "session.failed"
)

// ErrorSeverity buckets operator errors for the error-avoidance score.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityMinor    ErrorSeverity = "minor"
)
