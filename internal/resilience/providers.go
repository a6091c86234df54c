package resilience

import (
	"context"

	"github.com/mwolters/parlo/pkg/provider/chat"
	"github.com/mwolters/parlo/pkg/provider/stt"
	"github.com/mwolters/parlo/pkg/provider/tts"
	"github.com/mwolters/parlo/pkg/session"
)

// STT implements [stt.Provider] with automatic failover across multiple
// speech recognition backends.
type STT struct {
	chain *chain[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates a failover STT provider with primary as the preferred
// backend.
func NewSTT(primary stt.Provider, primaryName string, breaker BreakerConfig) *STT {
	return &STT{chain: newChain(primary, primaryName, breaker)}
}

// AddFallback registers an additional backend, tried after the primary in
// registration order.
func (s *STT) AddFallback(name string, provider stt.Provider) {
	s.chain.add(name, provider)
}

// Recognize transcribes audio using the first healthy backend.
func (s *STT) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	return run(ctx, s.chain, func(p stt.Provider) (stt.Result, error) {
		return p.Recognize(ctx, req)
	})
}

// Chat implements [chat.Provider] with automatic failover across multiple
// completion backends.
type Chat struct {
	chain *chain[chat.Provider]
}

var _ chat.Provider = (*Chat)(nil)

// NewChat creates a failover chat provider with primary as the preferred
// backend.
func NewChat(primary chat.Provider, primaryName string, breaker BreakerConfig) *Chat {
	return &Chat{chain: newChain(primary, primaryName, breaker)}
}

// AddFallback registers an additional backend.
func (c *Chat) AddFallback(name string, provider chat.Provider) {
	c.chain.add(name, provider)
}

// Complete generates a reply using the first healthy backend.
func (c *Chat) Complete(ctx context.Context, messages []session.Message) (string, error) {
	return run(ctx, c.chain, func(p chat.Provider) (string, error) {
		return p.Complete(ctx, messages)
	})
}

// TTS implements [tts.Provider] with automatic failover across multiple
// synthesis backends.
type TTS struct {
	chain *chain[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates a failover TTS provider with primary as the preferred
// backend.
func NewTTS(primary tts.Provider, primaryName string, breaker BreakerConfig) *TTS {
	return &TTS{chain: newChain(primary, primaryName, breaker)}
}

// AddFallback registers an additional backend.
func (t *TTS) AddFallback(name string, provider tts.Provider) {
	t.chain.add(name, provider)
}

// Synthesize renders text using the first healthy backend.
func (t *TTS) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	return run(ctx, t.chain, func(p tts.Provider) (tts.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
