// Package mock provides a test double for the chat.Provider interface.
//
// Use Provider in unit tests to verify the conversation history the pipeline
// sends and to feed controlled replies without a live model.
package mock

import (
	"context"
	"sync"

	"github.com/mwolters/parlo/pkg/provider/chat"
	"github.com/mwolters/parlo/pkg/session"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Messages is the conversation passed to Complete.
	Messages []session.Message
}

// Provider is a mock implementation of chat.Provider.
// Zero values cause Complete to return ("", nil). Set Err to inject a failure.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by Complete.
	Reply string

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Calls records every invocation of Complete in order.
	Calls []CompleteCall
}

// Complete records the call and returns Reply, Err.
func (p *Provider) Complete(ctx context.Context, messages []session.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]session.Message, len(messages))
	copy(msgs, messages)
	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Messages: msgs})
	return p.Reply, p.Err
}

// CallCount returns the number of recorded Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ chat.Provider = (*Provider)(nil)
