// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to verify what audio the pipeline sends and to
// feed controlled recognition outcomes without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/mwolters/parlo/pkg/provider/stt"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context
	// Req is the request passed to Recognize.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
// Zero values for response fields cause Recognize to return a zero Result and
// nil error. Set Err to inject a provider failure.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Recognize.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// Calls records every invocation of Recognize in order.
	Calls []RecognizeCall
}

// Recognize records the call and returns Result, Err.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, RecognizeCall{Ctx: ctx, Req: req})
	return p.Result, p.Err
}

// CallCount returns the number of recorded Recognize calls. Thread-safe.
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

var _ stt.Provider = (*Provider)(nil)
