// Package chat defines the Provider interface for conversational language
// model backends.
//
// A chat provider receives the full ordered conversation history, including
// any leading system message, and returns the assistant's next reply as plain
// text. History management stays with the session store; providers are
// stateless between calls.
//
// Implementations must be safe for concurrent use.
package chat

import (
	"context"

	"github.com/mwolters/parlo/pkg/session"
)

// Provider is the abstraction over any chat completion backend.
type Provider interface {
	// Complete generates the assistant reply to the given conversation.
	// The returned text may be blank when the model produces an empty
	// completion; callers treat that as a failed completion.
	Complete(ctx context.Context, messages []session.Message) (string, error)
}
