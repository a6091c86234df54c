// Package pipeline implements the conversation orchestrator: the state
// machine that drives one voice turn through its three capability stages.
//
// A turn is a strict linear sequence: resolve the session, recognize the
// incoming audio (STT), complete a reply from the full conversation history
// (Chat), synthesize the reply into audio (TTS). Any stage failure is
// terminal for the turn and is classified into the closed taxonomy defined
// by pkg/fault. Messages appended before the failing stage stay committed:
// if synthesis fails the caller can still fall back to text-only display.
//
// The orchestrator never mutates sessions directly; all history updates go
// through the injected [session.Store]. Turns on the same session id are
// serialized with a per-session lock so that two concurrent submissions
// cannot interleave their STT and Chat stages and corrupt conversation
// order. Turns on different sessions run concurrently, bounded by an
// optional global limit.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mwolters/parlo/internal/observe"
	"github.com/mwolters/parlo/internal/transcript"
	"github.com/mwolters/parlo/pkg/audio"
	"github.com/mwolters/parlo/pkg/fault"
	"github.com/mwolters/parlo/pkg/provider/chat"
	"github.com/mwolters/parlo/pkg/provider/stt"
	"github.com/mwolters/parlo/pkg/provider/tts"
	"github.com/mwolters/parlo/pkg/session"
)

// Providers bundles the three capability implementations a turn runs
// through. All three must be non-nil and safe for concurrent use.
type Providers struct {
	STT  stt.Provider
	Chat chat.Provider
	TTS  tts.Provider
}

// Turn is the result of one successful pipeline run. A failed turn never
// produces a partial Turn; it yields only a classified error.
type Turn struct {
	// SessionID is the session the turn ran against.
	SessionID string

	// Transcript is the recognized user text, after lexicon correction if a
	// corrector is configured.
	Transcript string

	// Reply is the assistant reply text.
	Reply string

	// Audio is the synthesized reply audio with its content type.
	Audio tts.Audio
}

// Orchestrator sequences voice turns. It is safe for concurrent use;
// construct it once with [New] and share it across transport adapters.
type Orchestrator struct {
	store     session.Store
	providers Providers

	log     *slog.Logger
	metrics *observe.Metrics

	// cfgMu guards the hot-reloadable fields below. See SetCorrector and
	// SetVoice.
	cfgMu     sync.RWMutex
	corrector *transcript.Corrector
	voice     string

	language string

	maxAudioDuration time.Duration
	sem              *semaphore.Weighted // nil = no global turn limit

	locks *sessionLocks
}

// Option is a functional option for configuring an Orchestrator during
// construction.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCorrector enables domain-lexicon correction of recognized transcripts
// before they are persisted and sent to the chat capability.
func WithCorrector(c *transcript.Corrector) Option {
	return func(o *Orchestrator) { o.corrector = c }
}

// WithLanguage sets the language hint forwarded to the STT capability
// (ISO 639-1, e.g. "en"). Empty means auto-detect.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithVoice sets the voice hint forwarded to the TTS capability. The zero
// value lets the provider pick its default voice.
func WithVoice(voice string) Option {
	return func(o *Orchestrator) { o.voice = voice }
}

// WithMaxAudioDuration rejects input audio longer than d before any
// capability call. Only applies to containers whose duration the pipeline
// can determine (WAV or raw PCM); opaque formats are passed through for the
// STT capability to police. Zero disables the pre-check.
func WithMaxAudioDuration(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxAudioDuration = d }
}

// WithMaxConcurrentTurns caps the number of turns in flight across all
// sessions. Zero or negative disables the limit.
func WithMaxConcurrentTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// New constructs an Orchestrator over the given store and providers.
// Options are applied after defaults are set.
func New(store session.Store, providers Providers, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		providers: providers,
		log:       slog.Default(),
		locks:     newSessionLocks(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SetCorrector replaces the transcript corrector at runtime. A nil corrector
// disables lexicon correction. In-flight turns keep the corrector they
// started with.
func (o *Orchestrator) SetCorrector(c *transcript.Corrector) {
	o.cfgMu.Lock()
	o.corrector = c
	o.cfgMu.Unlock()
}

// SetVoice replaces the TTS voice hint at runtime.
func (o *Orchestrator) SetVoice(voice string) {
	o.cfgMu.Lock()
	o.voice = voice
	o.cfgMu.Unlock()
}

// ProcessTurn runs one full STT, Chat, TTS cycle for the given session.
//
// The session must already exist; a turn never creates one implicitly. The
// returned error always carries a taxonomy code retrievable via
// [fault.CodeOf]. Cancelling ctx unwinds the turn at the next suspension
// point; message appends already committed stay committed.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sessionID string, audioData []byte, contentType string) (Turn, error) {
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return Turn{}, fault.Wrap(fault.CodeInternal, "turn admission cancelled", err)
		}
		defer o.sem.Release(1)
	}

	// Serialize turns per session so concurrent submissions cannot
	// interleave their history appends.
	unlock := o.locks.lock(sessionID)
	defer unlock()

	ctx, span := observe.StartSpan(ctx, "turn.process")
	defer span.End()
	log := observe.Logger(ctx).With(slog.String("session_id", sessionID))

	start := time.Now()
	turn, err := o.runStages(ctx, log, sessionID, audioData, contentType)
	o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		code := fault.CodeOf(err)
		o.metrics.RecordTurn(ctx, string(code))
		log.ErrorContext(ctx, "turn failed",
			slog.String("code", string(code)),
			slog.String("error", err.Error()),
		)
		return Turn{}, err
	}

	o.metrics.RecordTurn(ctx, "ok")
	log.InfoContext(ctx, "turn completed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("transcript_len", len(turn.Transcript)),
		slog.Int("reply_len", len(turn.Reply)),
		slog.Int("audio_bytes", len(turn.Audio.Data)),
	)
	return turn, nil
}

// runStages executes the linear stage sequence. Caller holds the session
// lock and owns metrics/logging for the overall turn.
func (o *Orchestrator) runStages(ctx context.Context, log *slog.Logger, sessionID string, audioData []byte, contentType string) (Turn, error) {
	// A turn can never create a session; resolve before touching any
	// capability.
	if _, err := o.store.Resolve(ctx, sessionID); err != nil {
		return Turn{}, err
	}

	if err := o.checkDuration(audioData, contentType); err != nil {
		return Turn{}, err
	}

	// Stage 1: speech recognition.
	text, err := o.recognize(ctx, audioData, contentType)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "stt")
		return Turn{}, err
	}

	o.cfgMu.RLock()
	corrector := o.corrector
	o.cfgMu.RUnlock()
	if corrector != nil {
		corrected, corrections := corrector.Correct(text)
		if len(corrections) > 0 {
			log.DebugContext(ctx, "transcript corrected",
				slog.Int("corrections", len(corrections)),
			)
			text = corrected
		}
	}

	// Persist the user message before the chat stage. If a later stage
	// fails the message stays committed.
	if err := o.store.Append(ctx, sessionID, session.Message{
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}); err != nil {
		return Turn{}, err
	}

	// Stage 2: chat completion over the full history, including the user
	// message just appended and any leading system message.
	sess, err := o.store.Resolve(ctx, sessionID)
	if err != nil {
		return Turn{}, err
	}
	reply, err := o.complete(ctx, sess.Messages)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "chat")
		return Turn{}, err
	}

	if err := o.store.Append(ctx, sessionID, session.Message{
		Role:      session.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	}); err != nil {
		return Turn{}, err
	}

	// Stage 3: speech synthesis.
	replyAudio, err := o.synthesize(ctx, reply)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "tts")
		return Turn{}, err
	}

	return Turn{
		SessionID:  sessionID,
		Transcript: text,
		Reply:      reply,
		Audio:      replyAudio,
	}, nil
}

// checkDuration enforces the configured maximum input duration for audio
// whose length the pipeline can determine locally.
func (o *Orchestrator) checkDuration(audioData []byte, contentType string) error {
	if o.maxAudioDuration <= 0 {
		return nil
	}
	switch contentType {
	case "audio/wav", "audio/x-wav", "audio/pcm", "audio/l16", "":
	default:
		// Opaque container; the STT capability enforces its own limits.
		return nil
	}
	d, err := audio.Duration(audioData, audio.DefaultFormat)
	if err != nil {
		// Undeterminable duration is not a turn failure.
		return nil
	}
	if d > o.maxAudioDuration {
		return fault.Newf(fault.CodeAudioTooLong,
			"audio duration %s exceeds maximum %s", d.Round(time.Millisecond), o.maxAudioDuration)
	}
	return nil
}

// recognize runs the STT stage and applies its classification rules: a
// raised error and an unsuccessful outcome are treated identically.
func (o *Orchestrator) recognize(ctx context.Context, audioData []byte, contentType string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "turn.stt")
	defer span.End()

	start := time.Now()
	res, err := o.providers.STT.Recognize(ctx, stt.Request{
		Audio:       audioData,
		ContentType: contentType,
		Language:    o.language,
	})
	o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fault.Classify(err, fault.CodeSpeechRecognitionFailed, "speech recognition failed")
	}
	if !res.Recognized {
		msg := res.Message
		if msg == "" {
			msg = "speech could not be recognized"
		}
		return "", fault.New(fault.CodeSpeechRecognitionFailed, msg)
	}
	return res.Text, nil
}

// complete runs the chat stage. A blank reply is a semantic failure even
// though the capability call returned normally.
func (o *Orchestrator) complete(ctx context.Context, history []session.Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "turn.chat")
	defer span.End()

	start := time.Now()
	reply, err := o.providers.Chat.Complete(ctx, history)
	o.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", fault.Classify(err, fault.CodeChatCompletionFailed, "chat completion failed")
	}
	if strings.TrimSpace(reply) == "" {
		return "", fault.New(fault.CodeChatCompletionFailed, "chat capability returned an empty reply")
	}
	return reply, nil
}

// synthesize runs the TTS stage.
func (o *Orchestrator) synthesize(ctx context.Context, text string) (tts.Audio, error) {
	ctx, span := observe.StartSpan(ctx, "turn.tts")
	defer span.End()

	o.cfgMu.RLock()
	voice := o.voice
	o.cfgMu.RUnlock()

	start := time.Now()
	a, err := o.providers.TTS.Synthesize(ctx, text, voice)
	o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return tts.Audio{}, fault.Classify(err, fault.CodeSpeechSynthesisFailed, "speech synthesis failed")
	}
	if len(a.Data) == 0 {
		return tts.Audio{}, fault.New(fault.CodeSpeechSynthesisFailed, "speech synthesis produced no audio")
	}
	return a, nil
}

// sessionLocks hands out one mutex per live session id. Entries are
// reference counted and removed when the last holder releases, so idle
// sessions cost nothing.
type sessionLocks struct {
	mu sync.Mutex
	m  map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{m: make(map[string]*sessionLock)}
}

// lock acquires the mutex for id and returns its release function.
func (s *sessionLocks) lock(id string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.m[id]
	if !ok {
		l = &sessionLock{}
		s.m[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.m, id)
		}
		s.mu.Unlock()
	}
}
