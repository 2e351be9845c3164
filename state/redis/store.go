// Package redis persists sessions and verdicts in Redis with a TTL. Suited
// for multi-instance deployments where sessions are short-lived and an
// external system owns long-term archival.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/meridianhq/satops-trainer/state"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultLimit  = 50
	defaultPrefix = "satops"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return s, nil
}

func (s *Store) SaveSession(ctx context.Context, session state.SessionRecord) error {
	if session.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if session.ScenarioID == "" {
		return fmt.Errorf("scenario_id is required")
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
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	sessionKey := s.sessionKey(session.SessionID)
	scenarioIdx := s.scenarioIndexKey(session.ScenarioID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey, string(raw), s.ttl)
	pipe.ZAdd(ctx, scenarioIdx, goredis.Z{
		Score:  float64(session.UpdatedAt.Unix()),
		Member: session.SessionID,
	})
	pipe.Expire(ctx, scenarioIdx, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, sessionID string) (state.SessionRecord, error) {
	if sessionID == "" {
		return state.SessionRecord{}, fmt.Errorf("session_id is required")
	}

	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		if err == goredis.Nil {
			return state.SessionRecord{}, state.ErrNotFound
		}
		return state.SessionRecord{}, fmt.Errorf("failed to load session from redis: %w", err)
	}

	var session state.SessionRecord
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return state.SessionRecord{}, fmt.Errorf("failed to decode session from redis: %w", err)
	}
	return session, nil
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

	ids := make([]string, 0, limit)
	if query.ScenarioID != "" {
		values, err := s.client.ZRevRange(ctx, s.scenarioIndexKey(query.ScenarioID), int64(offset), int64(offset+limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list session ids by scenario: %w", err)
		}
		ids = append(ids, values...)
	} else {
		var cursor uint64
		match := s.sessionPattern()
		for len(ids) < limit {
			keys, next, err := s.client.Scan(ctx, cursor, match, int64(limit)).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to scan redis session keys: %w", err)
			}
			for _, key := range keys {
				if id := s.sessionIDFromKey(key); id != "" {
					ids = append(ids, id)
				}
				if len(ids) >= limit {
					break
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}

	if len(ids) == 0 {
		return []state.SessionRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}

	loaded, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to mget sessions from redis: %w", err)
	}

	out := make([]state.SessionRecord, 0, len(loaded))
	staleIDs := make([]string, 0)
	for i, raw := range loaded {
		if raw == nil {
			staleIDs = append(staleIDs, ids[i])
			continue
		}
		var session state.SessionRecord
		if err := json.Unmarshal([]byte(fmt.Sprintf("%v", raw)), &session); err != nil {
			continue
		}
		if query.Status != "" && session.Status != query.Status {
			continue
		}
		if query.OperatorID != "" && session.OperatorID != query.OperatorID {
			continue
		}
		out = append(out, session)
	}

	// Index entries whose value expired are pruned lazily here.
	if query.ScenarioID != "" && len(staleIDs) > 0 {
		members := make([]any, 0, len(staleIDs))
		for _, id := range staleIDs {
			members = append(members, id)
		}
		_ = s.client.ZRem(ctx, s.scenarioIndexKey(query.ScenarioID), members...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		left := time.Time{}
		if out[i].UpdatedAt != nil {
			left = *out[i].UpdatedAt
		}
		right := time.Time{}
		if out[j].UpdatedAt != nil {
			right = *out[j].UpdatedAt
		}
		return left.After(right)
	})

	return out, nil
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

	raw, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	seqKey := s.verdictKey(verdict.SessionID, verdict.Seq)
	ok, err := s.client.SetNX(ctx, seqKey, string(raw), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save verdict in redis: %w", err)
	}
	if !ok {
		return state.ErrConflict
	}

	idxKey := s.verdictIndexKey(verdict.SessionID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, idxKey, goredis.Z{
		Score:  float64(verdict.Seq),
		Member: seqKey,
	})
	pipe.Expire(ctx, idxKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index verdict in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadLatestVerdict(ctx context.Context, sessionID string) (state.VerdictRecord, error) {
	verdicts, err := s.ListVerdicts(ctx, sessionID, 1)
	if err != nil {
		return state.VerdictRecord{}, err
	}
	if len(verdicts) == 0 {
		return state.VerdictRecord{}, state.ErrNotFound
	}
	return verdicts[0], nil
}

func (s *Store) ListVerdicts(ctx context.Context, sessionID string, limit int) ([]state.VerdictRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	keys, err := s.client.ZRevRange(ctx, s.verdictIndexKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list verdict keys: %w", err)
	}
	if len(keys) == 0 {
		return []state.VerdictRecord{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load verdict values: %w", err)
	}

	out := make([]state.VerdictRecord, 0, len(values))
	for _, raw := range values {
		if raw == nil {
			continue
		}
		var verdict state.VerdictRecord
		if err := json.Unmarshal([]byte(fmt.Sprintf("%v", raw)), &verdict); err != nil {
			continue
		}
		out = append(out, verdict)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

func (s *Store) sessionPattern() string {
	return fmt.Sprintf("%s:session:*", s.prefix)
}

func (s *Store) sessionIDFromKey(key string) string {
	prefix := fmt.Sprintf("%s:session:", s.prefix)
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	return strings.TrimPrefix(key, prefix)
}

func (s *Store) scenarioIndexKey(scenarioID string) string {
	return fmt.Sprintf("%s:sessionidx:scenario:%s", s.prefix, scenarioID)
}

func (s *Store) verdictKey(sessionID string, seq int) string {
	return fmt.Sprintf("%s:verdict:%s:%d", s.prefix, sessionID, seq)
}

func (s *Store) verdictIndexKey(sessionID string) string {
	return fmt.Sprintf("%s:verdictidx:%s", s.prefix, sessionID)
}
