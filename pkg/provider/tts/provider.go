// Package tts defines the Provider interface for speech synthesis backends.
//
// A TTS provider turns one reply's worth of text into a single encoded audio
// clip. The clip carries its own MIME type so transport adapters can forward
// it verbatim without caring which backend produced it or in which format.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Audio is one synthesized clip.
type Audio struct {
	// Data is the encoded audio.
	Data []byte

	// ContentType is the MIME type of Data, e.g. "audio/mpeg" or
	// "audio/wav".
	ContentType string
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders text as speech using the given provider-specific
	// voice identifier. An empty voice selects the provider's default.
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}
