package session

import (
	"context"
	"testing"
	"time"
)

func TestSweepIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithIdleExpiry(10 * time.Minute))
	store.now = func() time.Time { return clock }

	stale, _ := store.Create(ctx, "")
	clock = clock.Add(5 * time.Minute)
	fresh, _ := store.Create(ctx, "")

	clock = clock.Add(7 * time.Minute)
	if removed := store.SweepIdle(ctx); removed != 1 {
		t.Fatalf("SweepIdle: want 1 removed, got %d", removed)
	}

	if s, _ := store.Get(ctx, stale.ID); s != nil {
		t.Error("stale session should have been swept")
	}
	if s, _ := store.Get(ctx, fresh.ID); s == nil {
		t.Error("fresh session must survive the sweep")
	}
}

func TestSweepIdle_DisabledByDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	store.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	_, _ = store.Create(ctx, "")
	store.now = func() time.Time { return time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC) }

	if removed := store.SweepIdle(ctx); removed != 0 {
		t.Errorf("sweep without a TTL must be a no-op, removed %d", removed)
	}
}
