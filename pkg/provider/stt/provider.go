// Package stt defines the Provider interface for speech recognition backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI audio API or
// a local whisper.cpp server) behind a single batch operation: hand it one
// utterance of audio, get back a recognition outcome. The outcome separates
// two failure shapes deliberately. A transport or API error is a Go error; a
// well-formed "could not make out the speech" answer from the service is a
// successful call with Recognized set to false.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request is one utterance to recognize.
type Request struct {
	// Audio is the encoded utterance. Providers accept WAV containers;
	// callers holding raw PCM wrap it first (see audio.WrapPCM).
	Audio []byte

	// ContentType is the MIME type of Audio, e.g. "audio/wav".
	ContentType string

	// Language is a BCP-47 hint for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// Result is the outcome of a recognition attempt.
type Result struct {
	// Recognized reports whether the service produced usable text.
	Recognized bool

	// Text is the recognized utterance. Meaningful only when Recognized.
	Text string

	// Confidence is the provider's confidence in Text, in [0, 1]. Providers
	// that do not report confidence leave it at 0.
	Confidence float64

	// Message describes why recognition failed when Recognized is false.
	Message string
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Recognize transcribes one utterance. A non-nil error means the
	// provider itself failed; an unrecognizable utterance is reported via
	// Result.Recognized, not via the error.
	Recognize(ctx context.Context, req Request) (Result, error)
}
