// Package factory selects a state backend from the environment.
package factory

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meridianhq/satops-trainer/state"
	"github.com/meridianhq/satops-trainer/state/memory"
	redisstore "github.com/meridianhq/satops-trainer/state/redis"
	sqlitestore "github.com/meridianhq/satops-trainer/state/sqlite"
)

// FromEnv builds a Store from SATOPS_STATE_BACKEND. The default is sqlite.
func FromEnv(ctx context.Context) (state.Store, error) {
	_ = ctx

	backend := strings.ToLower(strings.TrimSpace(getenv("SATOPS_STATE_BACKEND", "sqlite")))
	switch backend {
	case "sqlite":
		path := getenv("SATOPS_SQLITE_PATH", "./.satops/state.db")
		return sqlitestore.New(path)

	case "redis":
		return newRedisStoreFromEnv()

	case "memory":
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported SATOPS_STATE_BACKEND %q (use sqlite, redis, or memory)", backend)
	}
}

func newRedisStoreFromEnv() (state.Store, error) {
	addr := getenv("SATOPS_REDIS_ADDR", "127.0.0.1:6379")
	password := strings.TrimSpace(os.Getenv("SATOPS_REDIS_PASSWORD"))
	db := getenvInt("SATOPS_REDIS_DB", 0)
	ttl := getenvDuration("SATOPS_REDIS_TTL", 72*time.Hour)

	opts := []redisstore.Option{
		redisstore.WithPassword(password),
		redisstore.WithDB(db),
		redisstore.WithTTL(ttl),
	}
	return redisstore.New(addr, opts...)
}

func getenv(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
