// Package session defines conversation sessions and the Store that owns them.
//
// A Session is an ordered log of Messages identified by an opaque id. The
// Store is the only component allowed to mutate sessions; the orchestrator
// and the transport adapters go through its append/read operations and never
// touch a Session's message slice directly.
//
// The package ships an in-memory [MemoryStore] suitable for single-process
// deployments; pkg/session/postgres provides a durable drop-in replacement
// behind the same [Store] interface. Every implementation must be safe for
// concurrent use, and operations on different session ids must not block
// each other.
package session

import (
	"context"
	"time"
)

// Role classifies who produced a message. It is a closed set at the core
// boundary; adapters are responsible for mapping or rejecting anything else
// before it reaches the store.
type Role string

const (
	// RoleSystem marks the optional leading instruction message seeded at
	// session creation.
	RoleSystem Role = "system"

	// RoleUser marks recognized caller speech.
	RoleUser Role = "user"

	// RoleAssistant marks model replies.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the three recognised roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single entry in a session's conversation log. Messages are
// immutable once appended.
type Message struct {
	// Role is who produced the message.
	Role Role

	// Content is the text content.
	Content string

	// Timestamp is when the message was appended.
	Timestamp time.Time
}

// Session is a snapshot of one conversation context. Store methods return
// copies; mutating a returned Session has no effect on stored state.
type Session struct {
	// ID is the opaque unique identifier, generated at creation and
	// immutable for the session's lifetime.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// LastActiveAt is refreshed on every message append.
	LastActiveAt time.Time

	// Messages is the ordered conversation log. Insertion order is
	// conversation order. A freshly created session has zero messages
	// unless a system prompt was supplied, in which case exactly one
	// leading system message is present.
	Messages []Message
}

// Info is the metadata projection of a session exposed to transport
// adapters, which never need the message contents themselves.
type Info struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
	MessageCount int
}

// Info returns the metadata projection of s.
func (s *Session) Info() Info {
	return Info{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		MessageCount: len(s.Messages),
	}
}

// Store owns the lifecycle of conversation sessions.
//
// Implementations must be safe for concurrent use. Operations on the same id
// must serialize so that concurrent appends never lose a message or corrupt
// the sequence; the relative order of two racing appends on one id is
// otherwise unspecified; callers that need causal ordering serialize at a
// higher layer (the orchestrator holds a per-session turn lock).
type Store interface {
	// Create allocates a new session with a unique id. A non-blank
	// systemPrompt seeds exactly one leading system message; a blank one
	// leaves the session empty.
	Create(ctx context.Context, systemPrompt string) (Session, error)

	// Get returns a snapshot of the session, or (nil, nil) when the id is
	// unknown; absence is a normal, non-error outcome for this operation.
	Get(ctx context.Context, id string) (*Session, error)

	// Resolve is Get for callers that require the session to exist: an
	// unknown id yields a fault with code session_not_found.
	Resolve(ctx context.Context, id string) (*Session, error)

	// Append adds msg to the session's log and refreshes LastActiveAt.
	// An unknown id yields a fault with code session_not_found.
	Append(ctx context.Context, id string, msg Message) error

	// Remove deletes the session. It is idempotent and reports whether a
	// session was actually removed. Safe to call concurrently with
	// in-flight operations referencing the same id.
	Remove(ctx context.Context, id string) (bool, error)

	// ActiveIDs returns a snapshot of the currently registered session ids.
	// The snapshot may be stale by the time it is observed.
	ActiveIDs(ctx context.Context) ([]string, error)
}
