// Package fault defines the closed error taxonomy shared by the Parlo
// conversation pipeline and its transport adapters.
//
// Every failure that crosses the core boundary is classified into one of a
// small set of [Code] values with a stable, machine-readable string form.
// Adapters translate codes into protocol-specific responses (HTTP status
// codes, WebSocket error frames) without ever inspecting the underlying
// cause; the cause is preserved internally for logging and diagnostics via
// [errors.Unwrap].
//
// The wrapping rule used throughout the pipeline is implemented by
// [Classify]: an error that is already a classified [*Fault] propagates
// unchanged, anything else is wrapped with the stage's code. This lets a
// capability implementation raise a precise taxonomy error itself (e.g. an
// STT adapter detecting an oversized input and returning [CodeAudioTooLong])
// without being double-wrapped by the orchestrator.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies one kind of classified failure. The string form is part of
// the public API: adapters serialize it verbatim to callers.
type Code string

const (
	// CodeSessionNotFound means the session id is not present in the store.
	CodeSessionNotFound Code = "session_not_found"

	// CodeSpeechRecognitionFailed means the STT capability errored or
	// returned an unsuccessful recognition outcome.
	CodeSpeechRecognitionFailed Code = "speech_recognition_failed"

	// CodeChatCompletionFailed means the chat capability errored or produced
	// a blank reply.
	CodeChatCompletionFailed Code = "chat_completion_failed"

	// CodeSpeechSynthesisFailed means the TTS capability errored.
	CodeSpeechSynthesisFailed Code = "speech_synthesis_failed"

	// CodeAudioTooLong means the input audio exceeds the configured maximum
	// duration.
	CodeAudioTooLong Code = "audio_too_long"

	// CodeInternal covers anything that does not match a more specific code.
	CodeInternal Code = "internal"
)

// IsValid reports whether c is one of the recognised taxonomy codes.
func (c Code) IsValid() bool {
	switch c {
	case CodeSessionNotFound, CodeSpeechRecognitionFailed,
		CodeChatCompletionFailed, CodeSpeechSynthesisFailed,
		CodeAudioTooLong, CodeInternal:
		return true
	}
	return false
}

// Fault is a classified pipeline error. The zero value is not meaningful;
// construct instances with [New], [Newf], or [Wrap].
type Fault struct {
	// Code is the stable machine-readable classification.
	Code Code

	// Message is the human-readable description exposed to callers.
	Message string

	// cause is the original triggering error, if any. Never exposed to
	// callers directly; reachable through errors.Unwrap for logging.
	cause error
}

// New returns a Fault with the given code and message and no cause.
func New(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Newf returns a Fault with a formatted message and no cause.
func Newf(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a Fault with the given code and message that preserves cause
// for diagnostics. A nil cause is allowed and equivalent to [New].
func Wrap(code Code, message string, cause error) *Fault {
	return &Fault{Code: code, Message: message, cause: cause}
}

// Error implements the error interface. The cause is included so that log
// lines carry the full chain; adapters must expose only Code and Message.
func (f *Fault) Error() string {
	if f.cause != nil {
		return string(f.Code) + ": " + f.Message + ": " + f.cause.Error()
	}
	return string(f.Code) + ": " + f.Message
}

// Unwrap returns the original triggering error, or nil.
func (f *Fault) Unwrap() error { return f.cause }

// Is makes errors.Is match two Faults by code, so sentinel-style comparisons
// like errors.Is(err, fault.New(fault.CodeSessionNotFound, "")) work without
// requiring identical messages.
func (f *Fault) Is(target error) bool {
	var other *Fault
	if !errors.As(target, &other) {
		return false
	}
	return f.Code == other.Code
}

// As extracts a *Fault from err's chain. Returns nil when err carries no
// classified fault.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// CodeOf returns the taxonomy code carried by err, or [CodeInternal] when
// err is unclassified. A nil err yields the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if f := As(err); f != nil {
		return f.Code
	}
	return CodeInternal
}

// Classify applies the pipeline wrapping rule: if err already carries a
// classified Fault it is returned unchanged, otherwise it is wrapped with
// code and message. A nil err returns nil.
func Classify(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	if As(err) != nil {
		return err
	}
	return Wrap(code, message, err)
}

// Messagef is a convenience for adapters: it returns the caller-visible
// message of err: the Fault message when classified, or a generic fallback
// otherwise (the raw error text of unclassified failures must not leak).
func Messagef(err error) string {
	if f := As(err); f != nil {
		return f.Message
	}
	return "internal error"
}
