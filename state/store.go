// Package state defines the persistence contract for training sessions and
// their step verdicts. Backends live in subpackages; callers depend only on
// the Store interface and the sentinel errors here.
package state

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("state: not found")
	ErrConflict = errors.New("state: conflict")
)

// ListSessionsQuery narrows a session listing. Zero values mean "no filter".
type ListSessionsQuery struct {
	ScenarioID string
	OperatorID string
	Status     string
	Limit      int
	Offset     int
}

// Store persists session records and their ordered verdict history.
//
// SaveVerdict returns ErrConflict when a verdict with the same session id and
// sequence number already exists: verdict history is append-only.
type Store interface {
	SaveSession(ctx context.Context, session SessionRecord) error
	LoadSession(ctx context.Context, sessionID string) (SessionRecord, error)
	ListSessions(ctx context.Context, query ListSessionsQuery) ([]SessionRecord, error)

	SaveVerdict(ctx context.Context, verdict VerdictRecord) error
	LoadLatestVerdict(ctx context.Context, sessionID string) (VerdictRecord, error)
	ListVerdicts(ctx context.Context, sessionID string, limit int) ([]VerdictRecord, error)

	Close() error
}
