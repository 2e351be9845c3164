// Package scoring maintains per-session performance metrics, the weighted
// overall score, performance tiers, and achievements. Metrics are owned by
// the Tracker for a session's lifetime; callers read them through summaries.
package scoring

import (
	"sync"
	"time"

	"github.com/meridianhq/satops-trainer/types"
)

// Breakdown is the five-dimension score decomposition. All values are rounded
// to one decimal place.
type Breakdown struct {
	CommandAccuracy    float64 `json:"commandAccuracy"`
	ResponseTime       float64 `json:"responseTime"`
	ResourceManagement float64 `json:"resourceManagement"`
	CompletionTime     float64 `json:"completionTime"`
	ErrorAvoidance     float64 `json:"errorAvoidance"`
}

// Tier is the qualitative performance bracket assigned at session completion.
type Tier string

const (
	TierExcellent        Tier = "excellent"
	TierGood             Tier = "good"
	TierSatisfactory     Tier = "satisfactory"
	TierNeedsImprovement Tier = "needs_improvement"
)

// Achievement identifies a one-shot accomplishment unlocked during a session.
type Achievement string

const (
	AchievementPerfectCommander  Achievement = "perfect_commander"
	AchievementSpeedRunner       Achievement = "speed_runner"
	AchievementResourceMaster    Achievement = "resource_master"
	AchievementQuickResponder    Achievement = "quick_responder"
	AchievementCommandEfficiency Achievement = "command_efficiency"
)

// Metrics is the running per-session aggregate. Mutation goes through the
// Tracker's recording operations only.
type Metrics struct {
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`

	TotalCommands     int      `json:"totalCommands"`
	CorrectCommands   int      `json:"correctCommands"`
	IncorrectCommands int      `json:"incorrectCommands"`
	RedundantCommands int      `json:"redundantCommands"`
	CriticalCommands  int      `json:"criticalCommands"`
	FirstCommandAfter *float64 `json:"firstCommandAfterSeconds,omitempty"`

	ResponseTimes []float64 `json:"responseTimes,omitempty"`

	TotalSteps     int             `json:"totalSteps"`
	StepsCompleted int             `json:"stepsCompleted"`
	StepsFailed    int             `json:"stepsFailed"`
	StepDurations  map[int]float64 `json:"stepDurations,omitempty"`

	ErrorCount       int                         `json:"errorCount"`
	ErrorsByType     map[string]int              `json:"errorsByType,omitempty"`
	ErrorsBySeverity map[types.ErrorSeverity]int `json:"errorsBySeverity,omitempty"`

	ResourceSampled     bool    `json:"resourceSampled,omitempty"`
	InitialPowerPercent float64 `json:"initialPowerPercent"`
	FinalPowerPercent   float64 `json:"finalPowerPercent"`
	InitialFuelPercent  float64 `json:"initialFuelPercent"`
	FinalFuelPercent    float64 `json:"finalFuelPercent"`

	Scores       Breakdown     `json:"scores"`
	OverallScore float64       `json:"overallScore"`
	Tier         Tier          `json:"tier,omitempty"`
	Achievements []Achievement `json:"achievements,omitempty"`

	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (m *Metrics) hasAchievement(a Achievement) bool {
	for _, existing := range m.Achievements {
		if existing == a {
			return true
		}
	}
	return false
}

// Summary is the read-only snapshot exposed to callers.
type Summary struct {
	SessionID        string    `json:"sessionId"`
	OverallScore     float64   `json:"overallScore"`
	Tier             Tier      `json:"tier,omitempty"`
	DurationSeconds  float64   `json:"durationSeconds"`
	CommandsIssued   int       `json:"commandsIssued"`
	AccuracyPercent  string    `json:"accuracyPercent"`
	StepsCompleted   string    `json:"stepsCompleted"`
	ErrorCount       int       `json:"errorCount"`
	AchievementCount int       `json:"achievementCount"`
	Scores           Breakdown `json:"scores"`
}

// Store is the keyed table of per-session metrics. It is owned by the host
// service and passed into the Tracker so multiple tracker instances do not
// collide on hidden shared state.
type Store interface {
	Get(sessionID string) (*Metrics, bool)
	Put(metrics *Metrics)
	Delete(sessionID string)
	Len() int
}

// MemoryStore is the in-process Store used for live sessions. Entries exist
// from session start until cleanup.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Metrics
}

// NewMemoryStore returns an empty metrics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*Metrics{}}
}

func (s *MemoryStore) Get(sessionID string) (*Metrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metrics, ok := s.entries[sessionID]
	return metrics, ok
}

func (s *MemoryStore) Put(metrics *Metrics) {
	if metrics == nil || metrics.SessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[metrics.SessionID] = metrics
}

func (s *MemoryStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
