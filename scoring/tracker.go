package scoring

import (
	"time"

	"github.com/meridianhq/satops-trainer/types"
)

// defaultCriticalCommands is the fixed set of command names tracked
// distinctly because a mistake with them is unrecoverable in the simulator.
var defaultCriticalCommands = map[string]bool{
	"EXECUTE_BURN":     true,
	"DEPLOY_PAYLOAD":   true,
	"ARM_PYROTECHNICS": true,
	"SAFE_MODE_ENTER":  true,
}

// Tracker records session events into metrics and recomputes scores and
// achievements after every update. Recording against an unknown session id is
// a silent no-op: the session may have been cleaned up mid-flight.
type Tracker struct {
	store            Store
	clock            func() time.Time
	criticalCommands map[string]bool
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithCriticalCommands overrides the critical command set.
func WithCriticalCommands(names []string) TrackerOption {
	return func(t *Tracker) {
		set := make(map[string]bool, len(names))
		for _, name := range names {
			set[name] = true
		}
		t.criticalCommands = set
	}
}

// NewTracker returns a Tracker over the given metrics store.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:            store,
		clock:            time.Now,
		criticalCommands: defaultCriticalCommands,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = NewMemoryStore()
	}
	return t
}

// InitializeSession creates the metrics record for a new session. Resource
// levels start at 100% until the first snapshot arrives.
func (t *Tracker) InitializeSession(sessionID string, totalSteps int) {
	if sessionID == "" {
		return
	}
	metrics := &Metrics{
		SessionID:           sessionID,
		StartedAt:           t.clock().UTC(),
		TotalSteps:          totalSteps,
		StepDurations:       map[int]float64{},
		ErrorsByType:        map[string]int{},
		ErrorsBySeverity:    map[types.ErrorSeverity]int{},
		InitialPowerPercent: 100,
		FinalPowerPercent:   100,
		InitialFuelPercent:  100,
		FinalFuelPercent:    100,
	}
	t.recompute(metrics)
	t.store.Put(metrics)
}

// RecordCommand counts an issued command. Correctness and redundancy are the
// caller's judgment; the tracker only aggregates. The latency from session
// start to the first command is captured exactly once.
func (t *Tracker) RecordCommand(sessionID, name string, correct, redundant bool) {
	t.update(sessionID, func(m *Metrics) {
		m.TotalCommands++
		if correct {
			m.CorrectCommands++
		} else {
			m.IncorrectCommands++
		}
		if redundant {
			m.RedundantCommands++
		}
		if t.criticalCommands[name] {
			m.CriticalCommands++
		}
		if m.FirstCommandAfter == nil {
			latency := t.clock().UTC().Sub(m.StartedAt).Seconds()
			m.FirstCommandAfter = &latency
		}
	})
}

// RecordResponseTime appends a response-time sample in seconds. The average
// is always recomputed from the full sample set, never approximated.
func (t *Tracker) RecordResponseTime(sessionID string, seconds float64) {
	if seconds < 0 {
		return
	}
	t.update(sessionID, func(m *Metrics) {
		m.ResponseTimes = append(m.ResponseTimes, seconds)
	})
}

// RecordStepCompletion counts a finished step and keeps the duration of
// successful completions.
func (t *Tracker) RecordStepCompletion(sessionID string, order int, success bool, durationSeconds float64) {
	t.update(sessionID, func(m *Metrics) {
		if success {
			m.StepsCompleted++
			m.StepDurations[order] = durationSeconds
		} else {
			m.StepsFailed++
		}
	})
}

// RecordError counts an operator error by type and severity.
func (t *Tracker) RecordError(sessionID, errType string, severity types.ErrorSeverity) {
	t.update(sessionID, func(m *Metrics) {
		m.ErrorCount++
		m.ErrorsByType[errType]++
		m.ErrorsBySeverity[severity]++
	})
}

// RecordResourceSnapshot stores the latest power and fuel percentages.
func (t *Tracker) RecordResourceSnapshot(sessionID string, powerPercent, fuelPercent float64) {
	t.update(sessionID, func(m *Metrics) {
		m.ResourceSampled = true
		m.FinalPowerPercent = powerPercent
		m.FinalFuelPercent = fuelPercent
	})
}

// CompleteSession finalizes the metrics record: the completion timestamp is
// set, scores are recomputed one last time, and a tier is assigned. Returns
// the final summary, or nil for an unknown session.
func (t *Tracker) CompleteSession(sessionID string) *Summary {
	var summary *Summary
	t.update(sessionID, func(m *Metrics) {
		now := t.clock().UTC()
		m.CompletedAt = &now
	})
	metrics, ok := t.store.Get(sessionID)
	if !ok {
		return nil
	}
	metrics.Tier = tierFor(metrics.OverallScore)
	t.store.Put(metrics)
	summary = t.summarize(metrics)
	return summary
}

// CleanupSession discards the session's metrics.
func (t *Tracker) CleanupSession(sessionID string) {
	t.store.Delete(sessionID)
}

// GetSummary returns a read-only snapshot of the session's metrics, or nil if
// the session is unknown.
func (t *Tracker) GetSummary(sessionID string) *Summary {
	metrics, ok := t.store.Get(sessionID)
	if !ok {
		return nil
	}
	return t.summarize(metrics)
}

// GetMetrics returns a copy of the raw metrics record, or nil if the session
// is unknown.
func (t *Tracker) GetMetrics(sessionID string) *Metrics {
	metrics, ok := t.store.Get(sessionID)
	if !ok {
		return nil
	}
	snapshot := *metrics
	snapshot.ResponseTimes = append([]float64(nil), metrics.ResponseTimes...)
	snapshot.Achievements = append([]Achievement(nil), metrics.Achievements...)
	return &snapshot
}

// update applies a mutation to a session's metrics and recomputes scores and
// achievements. Unknown sessions are ignored.
func (t *Tracker) update(sessionID string, mutate func(*Metrics)) {
	metrics, ok := t.store.Get(sessionID)
	if !ok {
		return
	}
	mutate(metrics)
	t.recompute(metrics)
	t.store.Put(metrics)
}

func (t *Tracker) recompute(m *Metrics) {
	computeScores(m, t.elapsedSeconds(m))
	detectAchievements(m, t.elapsedSeconds(m))
}

func (t *Tracker) elapsedSeconds(m *Metrics) float64 {
	end := t.clock().UTC()
	if m.CompletedAt != nil {
		end = *m.CompletedAt
	}
	return end.Sub(m.StartedAt).Seconds()
}

func (t *Tracker) summarize(m *Metrics) *Summary {
	return &Summary{
		SessionID:        m.SessionID,
		OverallScore:     m.OverallScore,
		Tier:             m.Tier,
		DurationSeconds:  t.elapsedSeconds(m),
		CommandsIssued:   m.TotalCommands,
		AccuracyPercent:  formatAccuracy(m),
		StepsCompleted:   formatStepRatio(m),
		ErrorCount:       m.ErrorCount,
		AchievementCount: len(m.Achievements),
		Scores:           m.Scores,
	}
}
