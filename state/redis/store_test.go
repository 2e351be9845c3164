package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/satops-trainer/state"
	"github.com/meridianhq/satops-trainer/types"
)

// newTestStore connects to a local Redis and skips the test when none is
// running. Keys are isolated under a per-test prefix and removed in cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("SATOPS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	prefix := fmt.Sprintf("satops-test-%s", uuid.NewString())

	store, err := New(addr, WithPrefix(prefix), WithTTL(time.Minute))
	if err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		var cursor uint64
		for {
			keys, next, err := store.client.Scan(ctx, cursor, prefix+":*", 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				_ = store.client.Del(ctx, keys...).Err()
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		if err := store.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return store
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := state.SessionRecord{
		SessionID:   "sess-1",
		ScenarioID:  "scn-1",
		OperatorID:  "op-1",
		Status:      state.StatusActive,
		CurrentStep: 3,
		Metadata:    map[string]any{"shift": "night"},
	}
	if err := store.SaveSession(ctx, record); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}

	loaded, err := store.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	if loaded.CurrentStep != 3 || loaded.OperatorID != "op-1" {
		t.Fatalf("unexpected session: %+v", loaded)
	}
	if loaded.StartedAt == nil || loaded.UpdatedAt == nil {
		t.Fatal("timestamps should be backfilled on save")
	}

	if _, err := store.LoadSession(ctx, "ghost"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListSessionsByScenario(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b"} {
		updated := base.Add(time.Duration(i) * time.Minute)
		record := state.SessionRecord{
			SessionID:  id,
			ScenarioID: "scn-1",
			UpdatedAt:  &updated,
		}
		if err := store.SaveSession(ctx, record); err != nil {
			t.Fatalf("failed to seed session %q: %v", id, err)
		}
	}

	sessions, err := store.ListSessions(ctx, state.ListSessionsQuery{ScenarioID: "scn-1"})
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].SessionID != "b" {
		t.Fatalf("expected most recently updated first, got %q", sessions[0].SessionID)
	}
}

func TestStore_VerdictConflictAndListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	verdict := state.VerdictRecord{
		SessionID: "sess-1",
		Seq:       0,
		StepOrder: 1,
		Result:    types.ValidationResult{Passed: true, Path: types.PathNominal},
	}
	if err := store.SaveVerdict(ctx, verdict); err != nil {
		t.Fatalf("failed to save verdict: %v", err)
	}
	if err := store.SaveVerdict(ctx, verdict); !errors.Is(err, state.ErrConflict) {
		t.Fatalf("duplicate seq should conflict, got %v", err)
	}

	verdict.Seq = 1
	verdict.Result.Passed = false
	verdict.Result.Path = types.PathFailed
	if err := store.SaveVerdict(ctx, verdict); err != nil {
		t.Fatalf("failed to save second verdict: %v", err)
	}

	latest, err := store.LoadLatestVerdict(ctx, "sess-1")
	if err != nil {
		t.Fatalf("failed to load latest verdict: %v", err)
	}
	if latest.Seq != 1 || latest.Result.Path != types.PathFailed {
		t.Fatalf("unexpected latest verdict: %+v", latest)
	}

	all, err := store.ListVerdicts(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("failed to list verdicts: %v", err)
	}
	if len(all) != 2 || all[0].Seq != 1 {
		t.Fatalf("expected verdicts newest first, got %+v", all)
	}

	if _, err := store.LoadLatestVerdict(ctx, "ghost"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
