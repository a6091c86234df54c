// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider in unit tests to verify the text and voice the pipeline sends
// and to feed controlled audio without a live backend.
package mock

import (
	"context"
	"sync"

	"github.com/mwolters/parlo/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice identifier passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider.
// Zero values cause Synthesize to return a zero Audio and nil error. Set Err
// to inject a failure.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio tts.Audio

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Audio, Err.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	return p.Audio, p.Err
}

// CallCount returns the number of recorded Synthesize calls. Thread-safe.
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

var _ tts.Provider = (*Provider)(nil)
