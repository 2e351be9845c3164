// Package session drives live training sessions. The Runner owns the glue
// between the validation engine, the performance tracker, persistence, and
// delivery: commands and telemetry come in, verdicts and score updates go
// out. All events for one session are serialized through that session's
// mutex, so evaluation always sees a consistent state snapshot.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/satops-trainer/delivery"
	"github.com/meridianhq/satops-trainer/engine"
	"github.com/meridianhq/satops-trainer/observe"
	"github.com/meridianhq/satops-trainer/scenario"
	"github.com/meridianhq/satops-trainer/scoring"
	"github.com/meridianhq/satops-trainer/state"
	"github.com/meridianhq/satops-trainer/telemetry"
	"github.com/meridianhq/satops-trainer/types"
)

// Broadcaster is the slice of delivery.Hub the runner needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, frame delivery.Frame) (int, error)
}

type liveSession struct {
	mu sync.Mutex

	record    state.SessionRecord
	sc        *scenario.Scenario
	state     *types.SessionState
	seq       int
	stepSince time.Time
	responded bool
	announced int
}

// Runner coordinates every live session.
type Runner struct {
	validator *engine.Validator
	tracker   *scoring.Tracker
	store     state.Store
	hub       Broadcaster
	sink      observe.Sink
	clock     func() time.Time

	mu        sync.RWMutex
	scenarios map[string]*scenario.Scenario
	sessions  map[string]*liveSession
}

// Option configures a Runner.
type Option func(*Runner)

func WithValidator(v *engine.Validator) Option {
	return func(r *Runner) {
		if v != nil {
			r.validator = v
		}
	}
}

func WithTracker(t *scoring.Tracker) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracker = t
		}
	}
}

func WithStore(s state.Store) Option {
	return func(r *Runner) {
		if s != nil {
			r.store = s
		}
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(r *Runner) {
		if b != nil {
			r.hub = b
		}
	}
}

func WithSink(s observe.Sink) Option {
	return func(r *Runner) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewRunner wires a runner. Missing collaborators default to in-process
// implementations so tests can construct one with no arguments.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		sink:      observe.NoopSink{},
		clock:     time.Now,
		scenarios: map[string]*scenario.Scenario{},
		sessions:  map[string]*liveSession{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validator == nil {
		r.validator = engine.NewValidator()
	}
	if r.tracker == nil {
		r.tracker = scoring.NewTracker(scoring.NewMemoryStore())
	}
	return r
}

// RegisterScenario makes a validated scenario available to new sessions.
func (r *Runner) RegisterScenario(sc *scenario.Scenario) error {
	if sc == nil || sc.ID == "" {
		return fmt.Errorf("scenario is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[sc.ID] = sc
	return nil
}

// StartSession creates a live session on the given scenario and returns its
// id. The session starts at the scenario's first step.
func (r *Runner) StartSession(ctx context.Context, scenarioID, operatorID string) (string, error) {
	r.mu.RLock()
	sc, ok := r.scenarios[scenarioID]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown scenario %q", scenarioID)
	}
	first, ok := sc.FirstOrder()
	if !ok {
		return "", fmt.Errorf("scenario %q has no steps", scenarioID)
	}

	sessionID := uuid.NewString()
	now := r.clock().UTC()
	live := &liveSession{
		record: state.SessionRecord{
			SessionID:   sessionID,
			ScenarioID:  scenarioID,
			OperatorID:  operatorID,
			Status:      state.StatusActive,
			CurrentStep: first,
			StartedAt:   &now,
			UpdatedAt:   &now,
		},
		sc: sc,
		state: &types.SessionState{
			Telemetry:           telemetry.Snapshot{},
			ManualConfirmations: map[int]bool{},
		},
		stepSince: now,
	}

	r.mu.Lock()
	r.sessions[sessionID] = live
	r.mu.Unlock()

	r.tracker.InitializeSession(sessionID, len(sc.Steps))
	if err := r.persist(ctx, live); err != nil {
		return "", err
	}

	r.emit(ctx, observe.Event{
		SessionID:  sessionID,
		ScenarioID: scenarioID,
		OperatorID: operatorID,
		Kind:       observe.KindSession,
		Status:     observe.StatusStarted,
		Name:       string(types.EventSessionStarted),
		StepOrder:  first,
	})
	r.broadcast(ctx, sessionID, types.EventSessionStarted, map[string]any{
		"scenarioId":  scenarioID,
		"currentStep": first,
	})
	return sessionID, nil
}

// HandleCommand records an executed command and re-evaluates the active
// step. The verdict is returned to the caller as well as broadcast.
func (r *Runner) HandleCommand(ctx context.Context, sessionID string, cmd types.CommandRecord) (*types.ValidationResult, error) {
	live, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.record.Status != state.StatusActive {
		return nil, fmt.Errorf("session %s is %s", sessionID, live.record.Status)
	}

	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = r.clock().UTC()
	}
	live.state.CommandHistory = append(live.state.CommandHistory, cmd)

	correct := cmd.Status == types.StatusOK
	redundant := cmd.Status == types.StatusNoEffect
	r.tracker.RecordCommand(sessionID, cmd.Name, correct, redundant)
	if !live.responded {
		live.responded = true
		r.tracker.RecordResponseTime(sessionID, r.clock().UTC().Sub(live.stepSince).Seconds())
	}
	if cmd.Status == types.StatusError {
		r.tracker.RecordError(sessionID, cmd.Name, types.SeverityWarning)
	}

	r.emit(ctx, observe.Event{
		SessionID: sessionID,
		Kind:      observe.KindCommand,
		Status:    commandStatus(cmd.Status),
		Name:      cmd.Name,
		StepOrder: live.record.CurrentStep,
	})
	r.broadcast(ctx, sessionID, types.EventCommandExecuted, cmd)

	result := r.evaluateLocked(ctx, live)
	return &result, nil
}

// HandleTelemetry merges a telemetry snapshot into the session state,
// advances the step clock, and re-evaluates the active step.
func (r *Runner) HandleTelemetry(ctx context.Context, sessionID string, snapshot telemetry.Snapshot, tickSeconds float64) (*types.ValidationResult, error) {
	live, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.record.Status != state.StatusActive {
		return nil, fmt.Errorf("session %s is %s", sessionID, live.record.Status)
	}

	if live.state.Telemetry == nil {
		live.state.Telemetry = telemetry.Snapshot{}
	}
	live.state.Telemetry.Merge(snapshot)
	if tickSeconds > 0 {
		live.state.StepElapsedSeconds += tickSeconds
	}
	if power, ok := live.state.Telemetry.Number("power.currentCharge_percent"); ok {
		if fuel, fuelOK := live.state.Telemetry.Number("propulsion.fuelRemaining_percent"); fuelOK {
			r.tracker.RecordResourceSnapshot(sessionID, power, fuel)
		}
	}
	r.broadcast(ctx, sessionID, types.EventTelemetryTick, map[string]any{
		"snapshot":           snapshot,
		"stepElapsedSeconds": live.state.StepElapsedSeconds,
	})

	result := r.evaluateLocked(ctx, live)
	return &result, nil
}

// Confirm marks the active step as manually confirmed by the operator and
// re-evaluates it.
func (r *Runner) Confirm(ctx context.Context, sessionID string) (*types.ValidationResult, error) {
	live, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.record.Status != state.StatusActive {
		return nil, fmt.Errorf("session %s is %s", sessionID, live.record.Status)
	}

	live.state.StepConfirmed = true
	if live.state.ManualConfirmations == nil {
		live.state.ManualConfirmations = map[int]bool{}
	}
	live.state.ManualConfirmations[live.record.CurrentStep] = true

	result := r.evaluateLocked(ctx, live)
	return &result, nil
}

// Summary returns the session's current score summary, or nil for an
// unknown session.
func (r *Runner) Summary(sessionID string) *scoring.Summary {
	return r.tracker.GetSummary(sessionID)
}

// Abandon marks an active session abandoned and discards its metrics.
func (r *Runner) Abandon(ctx context.Context, sessionID string) error {
	live, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.record.Status != state.StatusActive {
		return fmt.Errorf("session %s is %s", sessionID, live.record.Status)
	}
	live.record.Status = state.StatusAbandoned
	now := r.clock().UTC()
	live.record.CompletedAt = &now
	if err := r.persist(ctx, live); err != nil {
		return err
	}
	r.tracker.CleanupSession(sessionID)
	r.forget(sessionID)
	return nil
}

// evaluateLocked runs the active step's condition and applies the verdict.
// The caller holds the session mutex.
//
// A verdict only moves the step graph when it is decisive. Passing always
// advances along the nominal path. A non-passing verdict is merely progress
// feedback until the step's expected duration (when declared) has run out;
// past the deadline it routes to the recovery branch or fails the step.
func (r *Runner) evaluateLocked(ctx context.Context, live *liveSession) types.ValidationResult {
	step, ok := live.sc.Step(live.record.CurrentStep)
	if !ok {
		return types.ValidationResult{
			Passed:  false,
			Path:    types.PathFailed,
			Message: fmt.Sprintf("session %s references missing step %d", live.record.SessionID, live.record.CurrentStep),
		}
	}

	// Score-gated conditions (minScore) read the live overall score off the
	// session state, so refresh it from the tracker before evaluating.
	if summary := r.tracker.GetSummary(live.record.SessionID); summary != nil {
		live.state.Score = summary.OverallScore
	}

	result := r.validator.Evaluate(step, live.state)
	result.Checks = append([]types.Check(nil), result.Checks...)

	seq := live.seq
	live.seq++
	r.saveVerdict(ctx, live, seq, step.Order, result)

	switch {
	case result.Passed:
		r.advanceLocked(ctx, live, step, result)
	case deadlineExpired(step, live.state):
		r.failStepLocked(ctx, live, step, result)
	default:
		// Not decisive yet: report progress, stay on the step.
		r.broadcast(ctx, live.record.SessionID, types.EventStepProgress, result)
	}
	r.announceAchievementsLocked(ctx, live)
	return result
}

// announceAchievementsLocked surfaces achievements the tracker unlocked since
// the previous evaluation. Achievements only accumulate, so a count cursor is
// enough to tell old from new.
func (r *Runner) announceAchievementsLocked(ctx context.Context, live *liveSession) {
	metrics := r.tracker.GetMetrics(live.record.SessionID)
	if metrics == nil || len(metrics.Achievements) <= live.announced {
		return
	}
	sessionID := live.record.SessionID
	for _, unlocked := range metrics.Achievements[live.announced:] {
		r.emit(ctx, observe.Event{
			SessionID: sessionID,
			Kind:      observe.KindAchievement,
			Status:    observe.StatusCompleted,
			Name:      string(unlocked),
			StepOrder: live.record.CurrentStep,
		})
		r.broadcast(ctx, sessionID, types.EventAchievementUnlocked, map[string]any{
			"achievement": unlocked,
		})
	}
	live.announced = len(metrics.Achievements)
}

// advanceLocked completes the current step along the nominal path and moves
// to the next one, or completes the session when none remains.
func (r *Runner) advanceLocked(ctx context.Context, live *liveSession, step types.StepDefinition, result types.ValidationResult) {
	sessionID := live.record.SessionID
	elapsed := r.clock().UTC().Sub(live.stepSince).Seconds()
	r.tracker.RecordStepCompletion(sessionID, step.Order, true, elapsed)
	live.state.CompletedSteps = append(live.state.CompletedSteps, step.Order)
	if step.IsCheckpoint {
		checkpoint := step.Order
		live.record.CheckpointStep = &checkpoint
	}

	r.emit(ctx, observe.Event{
		SessionID:  sessionID,
		Kind:       observe.KindStep,
		Status:     observe.StatusCompleted,
		Name:       string(types.EventStepPassed),
		StepOrder:  step.Order,
		Path:       string(result.Path),
		DurationMs: int64(elapsed * 1000),
	})
	r.broadcast(ctx, sessionID, types.EventStepPassed, result)

	next, ok := nextStep(live.sc, step, result)
	if !ok {
		r.completeLocked(ctx, live)
		return
	}
	r.enterStepLocked(ctx, live, next)
	r.broadcastScore(ctx, sessionID)
}

// failStepLocked applies a decisive non-passing verdict: the recovery branch
// when the step declares one, otherwise a hard failure. A hard failure
// restarts from the last checkpoint when one was reached; with no checkpoint
// the session is over.
func (r *Runner) failStepLocked(ctx context.Context, live *liveSession, step types.StepDefinition, result types.ValidationResult) {
	sessionID := live.record.SessionID
	elapsed := r.clock().UTC().Sub(live.stepSince).Seconds()
	r.tracker.RecordStepCompletion(sessionID, step.Order, false, elapsed)

	if result.Path == types.PathRecovery && result.NextStep != nil {
		r.tracker.RecordError(sessionID, fmt.Sprintf("step_%d_recovery", step.Order), types.SeverityWarning)
		r.emit(ctx, observe.Event{
			SessionID: sessionID,
			Kind:      observe.KindStep,
			Status:    observe.StatusFailed,
			Name:      string(types.EventStepRecovery),
			StepOrder: step.Order,
			Path:      string(result.Path),
			Message:   result.Message,
		})
		r.broadcast(ctx, sessionID, types.EventStepRecovery, result)
		r.enterStepLocked(ctx, live, *result.NextStep)
		return
	}

	r.tracker.RecordError(sessionID, fmt.Sprintf("step_%d_failed", step.Order), types.SeverityCritical)
	r.emit(ctx, observe.Event{
		SessionID: sessionID,
		Kind:      observe.KindStep,
		Status:    observe.StatusFailed,
		Name:      string(types.EventStepFailed),
		StepOrder: step.Order,
		Path:      string(result.Path),
		Message:   result.Message,
	})
	r.broadcast(ctx, sessionID, types.EventStepFailed, result)

	if live.record.CheckpointStep != nil {
		r.enterStepLocked(ctx, live, *live.record.CheckpointStep)
		return
	}

	live.record.Status = state.StatusFailed
	now := r.clock().UTC()
	live.record.CompletedAt = &now
	summary := r.tracker.CompleteSession(sessionID)
	_ = r.persist(ctx, live)
	r.emit(ctx, observe.Event{
		SessionID: sessionID,
		Kind:      observe.KindSession,
		Status:    observe.StatusFailed,
		Name:      string(types.EventSessionFailed),
		StepOrder: step.Order,
	})
	r.broadcast(ctx, sessionID, types.EventSessionFailed, summary)
	r.forget(sessionID)
}

func (r *Runner) completeLocked(ctx context.Context, live *liveSession) {
	sessionID := live.record.SessionID
	live.record.Status = state.StatusCompleted
	now := r.clock().UTC()
	live.record.CompletedAt = &now

	summary := r.tracker.CompleteSession(sessionID)
	_ = r.persist(ctx, live)
	r.emit(ctx, observe.Event{
		SessionID: sessionID,
		Kind:      observe.KindSession,
		Status:    observe.StatusCompleted,
		Name:      string(types.EventSessionCompleted),
	})
	r.broadcast(ctx, sessionID, types.EventSessionCompleted, summary)
	r.forget(sessionID)
}

func (r *Runner) enterStepLocked(ctx context.Context, live *liveSession, order int) {
	live.record.CurrentStep = order
	live.state.StepElapsedSeconds = 0
	live.state.StepConfirmed = false
	live.stepSince = r.clock().UTC()
	live.responded = false
	_ = r.persist(ctx, live)
}

func (r *Runner) broadcastScore(ctx context.Context, sessionID string) {
	summary := r.tracker.GetSummary(sessionID)
	if summary == nil {
		return
	}
	r.emit(ctx, observe.Event{
		SessionID: sessionID,
		Kind:      observe.KindScore,
		Name:      string(types.EventScoreUpdated),
		Attributes: map[string]any{
			"overallScore": summary.OverallScore,
		},
	})
	r.broadcast(ctx, sessionID, types.EventScoreUpdated, summary)
}

func (r *Runner) lookup(sessionID string) (*liveSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	return live, nil
}

func (r *Runner) forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func (r *Runner) persist(ctx context.Context, live *liveSession) error {
	if r.store == nil {
		return nil
	}
	now := r.clock().UTC()
	live.record.UpdatedAt = &now
	if err := r.store.SaveSession(ctx, live.record); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", live.record.SessionID, err)
	}
	return nil
}

func (r *Runner) saveVerdict(ctx context.Context, live *liveSession, seq, stepOrder int, result types.ValidationResult) {
	if r.store == nil {
		return
	}
	_ = r.store.SaveVerdict(ctx, state.VerdictRecord{
		SessionID: live.record.SessionID,
		Seq:       seq,
		StepOrder: stepOrder,
		Result:    result,
		CreatedAt: r.clock().UTC(),
	})
}

func (r *Runner) emit(ctx context.Context, event observe.Event) {
	if r.sink == nil {
		return
	}
	event.Normalize()
	_ = r.sink.Emit(ctx, event)
}

func (r *Runner) broadcast(ctx context.Context, sessionID string, eventType types.EventType, payload any) {
	if r.hub == nil {
		return
	}
	_, _ = r.hub.Broadcast(ctx, delivery.Frame{
		Type:      string(eventType),
		SessionID: sessionID,
		Payload:   payload,
	})
}

// nextStep resolves where the session goes after passing a step: the
// verdict's branch target when the step declared one, otherwise the next
// step in authored order.
func nextStep(sc *scenario.Scenario, step types.StepDefinition, result types.ValidationResult) (int, bool) {
	if result.NextStep != nil {
		return *result.NextStep, true
	}
	return sc.NextOrder(step.Order)
}

// deadlineExpired reports whether the step's expected duration has run out.
// Steps with no expected duration never expire; they wait for the condition
// or an operator action.
func deadlineExpired(step types.StepDefinition, st *types.SessionState) bool {
	return step.ExpectedDurationSeconds > 0 && st.StepElapsedSeconds > step.ExpectedDurationSeconds
}

func commandStatus(status types.ResultStatus) observe.Status {
	if status == types.StatusError {
		return observe.StatusFailed
	}
	return observe.StatusCompleted
}
