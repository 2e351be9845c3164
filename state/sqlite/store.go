// Package sqlite persists sessions and verdicts in a local SQLite database.
// This is the default durable backend: single writer, WAL, embedded schema.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meridianhq/satops-trainer/state"
	"github.com/meridianhq/satops-trainer/types"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
)

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) SaveSession(ctx context.Context, session state.SessionRecord) error {
	if session.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if session.ScenarioID == "" {
		return fmt.Errorf("scenario_id is required")
	}
	if session.Status == "" {
		session.Status = state.StatusActive
	}

	now := time.Now().UTC()
	if session.StartedAt == nil {
		session.StartedAt = &now
	}
	if session.UpdatedAt == nil {
		session.UpdatedAt = &now
	}
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}
	metaRaw, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	const q = `
INSERT INTO sessions (
  session_id, scenario_id, operator_id, status, current_step, checkpoint_step, metadata, started_at, updated_at, completed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
  scenario_id=excluded.scenario_id,
  operator_id=excluded.operator_id,
  status=excluded.status,
  current_step=excluded.current_step,
  checkpoint_step=excluded.checkpoint_step,
  metadata=excluded.metadata,
  updated_at=excluded.updated_at,
  completed_at=excluded.completed_at;
`
	_, err = s.db.ExecContext(
		ctx,
		q,
		session.SessionID,
		session.ScenarioID,
		session.OperatorID,
		session.Status,
		session.CurrentStep,
		toNullableInt(session.CheckpointStep),
		string(metaRaw),
		toNullableTime(session.StartedAt),
		toNullableTime(session.UpdatedAt),
		toNullableTime(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, sessionID string) (state.SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return state.SessionRecord{}, fmt.Errorf("session_id is required")
	}

	const q = `
SELECT session_id, scenario_id, operator_id, status, current_step, checkpoint_step, metadata, started_at, updated_at, completed_at
FROM sessions
WHERE session_id = ?;
`
	row := s.db.QueryRowContext(ctx, q, sessionID)
	record, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.SessionRecord{}, state.ErrNotFound
		}
		return state.SessionRecord{}, fmt.Errorf("failed to load session: %w", err)
	}
	return record, nil
}

func (s *Store) ListSessions(ctx context.Context, query state.ListSessionsQuery) ([]state.SessionRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if query.ScenarioID != "" {
		where = append(where, "scenario_id = ?")
		args = append(args, query.ScenarioID)
	}
	if query.OperatorID != "" {
		where = append(where, "operator_id = ?")
		args = append(args, query.OperatorID)
	}
	if query.Status != "" {
		where = append(where, "status = ?")
		args = append(args, query.Status)
	}

	sqlText := `
SELECT session_id, scenario_id, operator_id, status, current_step, checkpoint_step, metadata, started_at, updated_at, completed_at
FROM sessions
`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY started_at DESC LIMIT ? OFFSET ?;"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]state.SessionRecord, 0, limit)
	for rows.Next() {
		record, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) SaveVerdict(ctx context.Context, verdict state.VerdictRecord) error {
	if verdict.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if verdict.Seq < 0 {
		return fmt.Errorf("seq must be >= 0")
	}
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now().UTC()
	}

	resultRaw, err := json.Marshal(verdict.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict result: %w", err)
	}

	const q = `
INSERT INTO verdicts (session_id, seq, step_order, result, created_at)
VALUES (?, ?, ?, ?, ?);
`
	_, err = s.db.ExecContext(
		ctx,
		q,
		verdict.SessionID,
		verdict.Seq,
		verdict.StepOrder,
		string(resultRaw),
		verdict.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return state.ErrConflict
		}
		return fmt.Errorf("failed to save verdict: %w", err)
	}
	return nil
}

func (s *Store) LoadLatestVerdict(ctx context.Context, sessionID string) (state.VerdictRecord, error) {
	if sessionID == "" {
		return state.VerdictRecord{}, fmt.Errorf("session_id is required")
	}

	const q = `
SELECT session_id, seq, step_order, result, created_at
FROM verdicts
WHERE session_id = ?
ORDER BY seq DESC
LIMIT 1;
`
	row := s.db.QueryRowContext(ctx, q, sessionID)
	record, err := scanVerdict(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.VerdictRecord{}, state.ErrNotFound
		}
		return state.VerdictRecord{}, fmt.Errorf("failed to load latest verdict: %w", err)
	}
	return record, nil
}

func (s *Store) ListVerdicts(ctx context.Context, sessionID string, limit int) ([]state.VerdictRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	const q = `
SELECT session_id, seq, step_order, result, created_at
FROM verdicts
WHERE session_id = ?
ORDER BY seq DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	out := make([]state.VerdictRecord, 0, limit)
	for rows.Next() {
		record, err := scanVerdict(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verdicts: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanSession(scan func(dest ...any) error) (state.SessionRecord, error) {
	var (
		record        state.SessionRecord
		checkpointRaw sql.NullInt64
		metadataRaw   string
		startedRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
	)
	if err := scan(
		&record.SessionID,
		&record.ScenarioID,
		&record.OperatorID,
		&record.Status,
		&record.CurrentStep,
		&checkpointRaw,
		&metadataRaw,
		&startedRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return state.SessionRecord{}, err
	}

	if checkpointRaw.Valid {
		checkpoint := int(checkpointRaw.Int64)
		record.CheckpointStep = &checkpoint
	}
	if strings.TrimSpace(metadataRaw) == "" {
		record.Metadata = map[string]any{}
	} else if err := json.Unmarshal([]byte(metadataRaw), &record.Metadata); err != nil {
		return state.SessionRecord{}, fmt.Errorf("failed to decode session metadata: %w", err)
	}
	started, err := parseRequiredTime(startedRaw)
	if err != nil {
		return state.SessionRecord{}, fmt.Errorf("failed to parse session started_at: %w", err)
	}
	updated, err := parseRequiredTime(updatedRaw)
	if err != nil {
		return state.SessionRecord{}, fmt.Errorf("failed to parse session updated_at: %w", err)
	}
	record.StartedAt = &started
	record.UpdatedAt = &updated
	if completedRaw.Valid && strings.TrimSpace(completedRaw.String) != "" {
		completed, err := parseRequiredTime(completedRaw.String)
		if err != nil {
			return state.SessionRecord{}, fmt.Errorf("failed to parse session completed_at: %w", err)
		}
		record.CompletedAt = &completed
	}
	return record, nil
}

func scanVerdict(scan func(dest ...any) error) (state.VerdictRecord, error) {
	var (
		record       state.VerdictRecord
		resultRaw    string
		createdAtRaw string
	)
	if err := scan(
		&record.SessionID,
		&record.Seq,
		&record.StepOrder,
		&resultRaw,
		&createdAtRaw,
	); err != nil {
		return state.VerdictRecord{}, err
	}
	record.CreatedAt, _ = parseRequiredTime(createdAtRaw)
	if record.CreatedAt.IsZero() {
		return state.VerdictRecord{}, fmt.Errorf("failed to parse verdict created_at %q", createdAtRaw)
	}
	var result types.ValidationResult
	if err := json.Unmarshal([]byte(resultRaw), &result); err != nil {
		return state.VerdictRecord{}, fmt.Errorf("failed to decode verdict result: %w", err)
	}
	record.Result = result
	return record, nil
}

func parseRequiredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func toNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toNullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
