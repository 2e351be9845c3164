// Package sqlite stores API keys in SQLite. Secrets are bcrypt-hashed; the
// plaintext is returned exactly once, at creation. A secret embeds its key id
// so verification is a single row lookup plus one bcrypt comparison.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/meridianhq/satops-trainer/auth"
)

//go:embed schema.sql
var schemaSQL string

const secretPrefix = "sk_"

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("auth sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create auth db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize auth schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateKey(ctx context.Context, role auth.Role) (auth.KeyWithSecret, error) {
	if !role.Valid() {
		return auth.KeyWithSecret{}, fmt.Errorf("invalid role %q", role)
	}
	id := uuid.NewString()
	random, err := generateToken()
	if err != nil {
		return auth.KeyWithSecret{}, err
	}
	secret := secretPrefix + id + "." + random

	hash, err := bcrypt.GenerateFromPassword([]byte(random), bcrypt.DefaultCost)
	if err != nil {
		return auth.KeyWithSecret{}, fmt.Errorf("failed to hash api key: %w", err)
	}

	now := time.Now().UTC()
	const q = `INSERT INTO api_keys (id, key_hash, role, created_at) VALUES (?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, q, id, string(hash), string(role), now.Format(time.RFC3339Nano)); err != nil {
		return auth.KeyWithSecret{}, fmt.Errorf("create key: %w", err)
	}
	return auth.KeyWithSecret{
		APIKey: auth.APIKey{ID: id, Role: role, CreatedAt: now},
		Secret: secret,
	}, nil
}

func (s *Store) ListKeys(ctx context.Context) ([]auth.APIKey, error) {
	const q = `
SELECT id, role, created_at, rotated_at, disabled_at
FROM api_keys
ORDER BY created_at DESC;
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	out := []auth.APIKey{}
	for rows.Next() {
		var (
			key        auth.APIKey
			createdRaw string
			rotatedRaw sql.NullString
			disRaw     sql.NullString
		)
		if err := rows.Scan(&key.ID, &key.Role, &createdRaw, &rotatedRaw, &disRaw); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		decorateKey(&key, createdRaw, rotatedRaw, disRaw)
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *Store) DisableKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("key id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET disabled_at = ? WHERE id = ?;`, now, id)
	if err != nil {
		return fmt.Errorf("disable key: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("key %q not found", id)
	}
	return nil
}

func (s *Store) VerifyKey(ctx context.Context, secret string) (auth.APIKey, error) {
	id, random, err := splitSecret(secret)
	if err != nil {
		return auth.APIKey{}, err
	}

	const q = `
SELECT id, role, created_at, rotated_at, disabled_at, key_hash
FROM api_keys
WHERE id = ?;
`
	var (
		key        auth.APIKey
		createdRaw string
		rotatedRaw sql.NullString
		disRaw     sql.NullString
		hash       string
	)
	err = s.db.QueryRowContext(ctx, q, id).Scan(&key.ID, &key.Role, &createdRaw, &rotatedRaw, &disRaw, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.APIKey{}, fmt.Errorf("invalid api key")
		}
		return auth.APIKey{}, fmt.Errorf("verify key: %w", err)
	}
	decorateKey(&key, createdRaw, rotatedRaw, disRaw)
	if key.DisabledAt != nil {
		return auth.APIKey{}, fmt.Errorf("api key is disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(random)); err != nil {
		return auth.APIKey{}, fmt.Errorf("invalid api key")
	}
	return key, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decorateKey(key *auth.APIKey, createdRaw string, rotatedRaw, disRaw sql.NullString) {
	key.CreatedAt = parseTime(createdRaw)
	if rotatedRaw.Valid {
		t := parseTime(rotatedRaw.String)
		key.RotatedAt = &t
	}
	if disRaw.Valid {
		t := parseTime(disRaw.String)
		key.DisabledAt = &t
	}
}

func splitSecret(secret string) (id, random string, err error) {
	secret = strings.TrimSpace(secret)
	if !strings.HasPrefix(secret, secretPrefix) {
		return "", "", fmt.Errorf("invalid api key")
	}
	rest := strings.TrimPrefix(secret, secretPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid api key")
	}
	return parts[0], parts[1], nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ auth.Store = (*Store)(nil)
