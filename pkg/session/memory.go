package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwolters/parlo/pkg/fault"
)

// record is the mutable stored form of one session. Each record carries its
// own mutex so that operations on different ids never contend.
type record struct {
	mu sync.Mutex
	s  Session
}

// snapshot returns a deep copy of the stored session under the record lock.
func (r *record) snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.s
	cp.Messages = make([]Message, len(r.s.Messages))
	copy(cp.Messages, r.s.Messages)
	return cp
}

// MemoryOption is a functional option for configuring a [MemoryStore].
type MemoryOption func(*MemoryStore)

// WithIdleExpiry enables the idle-expiry sweep: sessions whose LastActiveAt
// is older than ttl are removed by [MemoryStore.SweepIdle]. A zero ttl (the
// default) disables sweeping entirely.
func WithIdleExpiry(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) { m.idleTTL = ttl }
}

// MemoryStore is the in-memory [Store] implementation.
//
// The registry map is guarded by an RWMutex; each session additionally
// carries its own mutex, so appends on different ids proceed in parallel
// while appends on the same id serialize. Remove is safe concurrently with
// in-flight appends on the same id: the append either lands before the
// delete (and is discarded with the session) or observes the id as unknown.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*record

	idleTTL time.Duration

	// now is the clock; overridden in tests.
	now func() time.Time
}

// Compile-time assertion that MemoryStore satisfies the Store interface.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty, ready-to-use [MemoryStore].
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*record),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create implements [Store]. It never fails.
func (m *MemoryStore) Create(_ context.Context, systemPrompt string) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if systemPrompt != "" {
		s.Messages = []Message{{
			Role:      RoleSystem,
			Content:   systemPrompt,
			Timestamp: now,
		}}
	}

	m.mu.Lock()
	m.sessions[s.ID] = &record{s: s}
	m.mu.Unlock()

	return s, nil
}

// Get implements [Store]. An unknown id yields (nil, nil).
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	snap := rec.snapshot()
	return &snap, nil
}

// Resolve implements [Store]. An unknown id yields a session_not_found fault.
func (m *MemoryStore) Resolve(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fault.Newf(fault.CodeSessionNotFound, "session %q not found", id)
	}
	return s, nil
}

// Append implements [Store].
func (m *MemoryStore) Append(_ context.Context, id string, msg Message) error {
	m.mu.RLock()
	rec, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fault.Newf(fault.CodeSessionNotFound, "session %q not found", id)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now().UTC()
	}

	rec.mu.Lock()
	rec.s.Messages = append(rec.s.Messages, msg)
	rec.s.LastActiveAt = m.now().UTC()
	rec.mu.Unlock()
	return nil
}

// Remove implements [Store]. Removing an unknown id is not an error.
func (m *MemoryStore) Remove(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	return ok, nil
}

// ActiveIDs implements [Store].
func (m *MemoryStore) ActiveIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	return ids, nil
}

// SweepIdle removes every session idle for longer than the configured TTL
// and returns the number removed. A no-op when idle expiry is disabled.
func (m *MemoryStore) SweepIdle(_ context.Context) int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().UTC().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.sessions {
		rec.mu.Lock()
		idle := rec.s.LastActiveAt.Before(cutoff)
		rec.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper runs SweepIdle every interval until ctx is cancelled. Intended
// to be started from main in a goroutine when idle expiry is configured.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepIdle(ctx)
		}
	}
}
