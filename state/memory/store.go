// Package memory is the in-process Store used by tests and the default dev
// wiring. Records do not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/satops-trainer/state"
)

const defaultLimit = 50

type Store struct {
	mu       sync.RWMutex
	sessions map[string]state.SessionRecord
	verdicts map[string][]state.VerdictRecord
}

func New() *Store {
	return &Store{
		sessions: map[string]state.SessionRecord{},
		verdicts: map[string][]state.VerdictRecord{},
	}
}

func (s *Store) SaveSession(_ context.Context, session state.SessionRecord) error {
	if session.SessionID == "" {
		return state.ErrNotFound
	}
	now := time.Now().UTC()
	if session.StartedAt == nil {
		session.StartedAt = &now
	}
	if session.UpdatedAt == nil {
		session.UpdatedAt = &now
	}
	if session.Status == "" {
		session.Status = state.StatusActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return nil
}

func (s *Store) LoadSession(_ context.Context, sessionID string) (state.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return state.SessionRecord{}, state.ErrNotFound
	}
	return session, nil
}

func (s *Store) ListSessions(_ context.Context, query state.ListSessionsQuery) ([]state.SessionRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	out := make([]state.SessionRecord, 0, len(s.sessions))
	for _, session := range s.sessions {
		if query.ScenarioID != "" && session.ScenarioID != query.ScenarioID {
			continue
		}
		if query.OperatorID != "" && session.OperatorID != query.OperatorID {
			continue
		}
		if query.Status != "" && session.Status != query.Status {
			continue
		}
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		left := time.Time{}
		if out[i].StartedAt != nil {
			left = *out[i].StartedAt
		}
		right := time.Time{}
		if out[j].StartedAt != nil {
			right = *out[j].StartedAt
		}
		return left.After(right)
	})

	if offset >= len(out) {
		return []state.SessionRecord{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveVerdict(_ context.Context, verdict state.VerdictRecord) error {
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.verdicts[verdict.SessionID] {
		if existing.Seq == verdict.Seq {
			return state.ErrConflict
		}
	}
	s.verdicts[verdict.SessionID] = append(s.verdicts[verdict.SessionID], verdict)
	return nil
}

func (s *Store) LoadLatestVerdict(_ context.Context, sessionID string) (state.VerdictRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	verdicts := s.verdicts[sessionID]
	if len(verdicts) == 0 {
		return state.VerdictRecord{}, state.ErrNotFound
	}
	latest := verdicts[0]
	for _, verdict := range verdicts[1:] {
		if verdict.Seq > latest.Seq {
			latest = verdict
		}
	}
	return latest, nil
}

func (s *Store) ListVerdicts(_ context.Context, sessionID string, limit int) ([]state.VerdictRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	s.mu.RLock()
	out := append([]state.VerdictRecord(nil), s.verdicts[sessionID]...)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq > out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
