// Package config resolves process configuration from the environment. A
// .env file in the working directory is loaded first, so local development
// needs no exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the resolved process configuration.
type Config struct {
	Addr         string
	ScenarioDir  string
	StateBackend string
	SQLitePath   string
	AuthDBPath   string
	RedisAddr    string
	RedisDB      int
	RedisTTL     time.Duration
	RequireAuth  bool
	Verbose      bool
}

// FromEnv reads SATOPS_* variables, after loading .env if present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:         getenv("SATOPS_ADDR", ":8080"),
		ScenarioDir:  getenv("SATOPS_SCENARIO_DIR", "./scenarios"),
		StateBackend: strings.ToLower(getenv("SATOPS_STATE_BACKEND", "sqlite")),
		SQLitePath:   getenv("SATOPS_SQLITE_PATH", "./.satops/state.db"),
		AuthDBPath:   getenv("SATOPS_AUTH_DB_PATH", "./.satops/auth.db"),
		RedisAddr:    getenv("SATOPS_REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:      getenvInt("SATOPS_REDIS_DB", 0),
		RedisTTL:     getenvDuration("SATOPS_REDIS_TTL", 72*time.Hour),
		RequireAuth:  getenvBool("SATOPS_REQUIRE_AUTH", false),
		Verbose:      getenvBool("SATOPS_VERBOSE", false),
	}

	switch cfg.StateBackend {
	case "sqlite", "redis", "memory":
	default:
		return Config{}, fmt.Errorf("unsupported SATOPS_STATE_BACKEND %q (use sqlite, redis, or memory)", cfg.StateBackend)
	}
	return cfg, nil
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

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
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
