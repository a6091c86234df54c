// Package channel exposes the conversation core over a persistent
// bidirectional WebSocket.
//
// The protocol mixes JSON text frames for control and binary frames for
// audio:
//
//	client → server
//	  {"type":"create","prompt":"...","audio_format":"pcm16|opus"}
//	  {"type":"open","session_id":"...","audio_format":"pcm16|opus"}
//	  <binary>                      uplink audio, buffered until commit
//	  {"type":"reset"}              discard buffered audio
//	  {"type":"commit"}             run one turn over the buffered audio
//
//	server → client
//	  {"type":"session","session_id":"..."}
//	  {"type":"turn","session_id":"...","transcript":"...","reply":"...",
//	   "audio_content_type":"..."}  followed by one binary frame with the
//	                                synthesized audio
//	  {"type":"error","code":"...","message":"..."}
//
// Uplink audio is either raw 16 kHz mono PCM16 or Opus frames (decoded
// per frame and downmixed to the pipeline format). The buffered PCM is
// wrapped in a WAV container before it enters the pipeline so the duration
// pre-check and providers see a self-describing payload.
//
// The connection-to-session binding lives entirely in this adapter; the
// session store never learns about connections. A client disconnect cancels
// the in-flight turn, but history appends already committed stay committed.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mwolters/parlo/internal/observe"
	"github.com/mwolters/parlo/internal/pipeline"
	"github.com/mwolters/parlo/pkg/audio"
	"github.com/mwolters/parlo/pkg/fault"
	"github.com/mwolters/parlo/pkg/session"
)

const (
	// defaultMaxBufferBytes caps buffered uplink audio per connection.
	// 4 MiB is over two minutes of 16 kHz mono PCM16.
	defaultMaxBufferBytes = 4 << 20

	// writeTimeout bounds a single downlink frame write.
	writeTimeout = 10 * time.Second
)

// AudioFormat names the uplink audio encoding negotiated per connection.
type AudioFormat string

const (
	// FormatPCM16 is raw little-endian 16 kHz mono PCM16.
	FormatPCM16 AudioFormat = "pcm16"

	// FormatOpus is one Opus frame per binary message.
	FormatOpus AudioFormat = "opus"
)

// IsValid reports whether f is a recognised uplink format.
func (f AudioFormat) IsValid() bool {
	return f == FormatPCM16 || f == FormatOpus
}

// Handler upgrades HTTP requests to the channel protocol. Construct with
// [New]; it implements http.Handler.
type Handler struct {
	store   session.Store
	orch    *pipeline.Orchestrator
	log     *slog.Logger
	metrics *observe.Metrics

	maxBufferBytes int
	originPatterns []string
}

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxBufferBytes overrides the per-connection uplink audio buffer cap.
func WithMaxBufferBytes(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBufferBytes = n
		}
	}
}

// WithOriginPatterns sets the allowed WebSocket origin patterns. Empty means
// same-origin only.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// New creates a channel Handler over the shared store and orchestrator.
func New(store session.Store, orch *pipeline.Orchestrator, opts ...Option) *Handler {
	h := &Handler{
		store:          store,
		orch:           orch,
		log:            slog.Default(),
		maxBufferBytes: defaultMaxBufferBytes,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// controlFrame is the JSON envelope of every text frame, both directions.
// Unused fields stay empty and are omitted on the wire.
type controlFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// client → server
	Prompt      string      `json:"prompt,omitempty"`
	AudioFormat AudioFormat `json:"audio_format,omitempty"`

	// server → client
	Transcript       string `json:"transcript,omitempty"`
	Reply            string `json:"reply,omitempty"`
	AudioContentType string `json:"audio_content_type,omitempty"`
	Code             string `json:"code,omitempty"`
	Message          string `json:"message,omitempty"`
}

// conn is the per-connection state. All fields are owned by the read loop
// except the write path, which is serialized by writeMu.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	sessionID string
	format    AudioFormat
	opusDec   *audio.OpusDecoder
	buf       bytes.Buffer

	// turnMu guards the in-flight turn state.
	turnMu     sync.Mutex
	turnActive bool
	turnCancel context.CancelFunc
	turnDone   chan struct{}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn("channel: accept failed", "err", err)
		return
	}

	ctx := r.Context()
	h.metrics.ActiveConnections.Add(ctx, 1)
	defer h.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	c := &conn{ws: ws, format: FormatPCM16}
	defer func() {
		// Unwind any in-flight turn before the connection state goes away.
		c.turnMu.Lock()
		cancel, done := c.turnCancel, c.turnDone
		c.turnMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		ws.Close(websocket.StatusNormalClosure, "bye")
	}()

	h.readLoop(ctx, c)
}

// readLoop dispatches incoming frames until the connection errors or ctx is
// cancelled.
func (h *Handler) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				h.log.Debug("channel: read ended", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageText:
			if err := h.handleControl(ctx, c, data); err != nil {
				h.log.Warn("channel: control frame failed", "err", err)
				return
			}
		case websocket.MessageBinary:
			if err := h.handleAudio(ctx, c, data); err != nil {
				h.log.Warn("channel: audio frame failed", "err", err)
				return
			}
		}
	}
}

// handleControl parses and executes one JSON control frame. A returned
// error tears down the connection; protocol-level problems are answered
// with error frames instead.
func (h *Handler) handleControl(ctx context.Context, c *conn, data []byte) error {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return h.writeError(ctx, c, fault.CodeInternal, "control frame is not valid JSON")
	}

	switch frame.Type {
	case "create":
		return h.handleCreate(ctx, c, frame)
	case "open":
		return h.handleOpen(ctx, c, frame)
	case "reset":
		c.buf.Reset()
		return nil
	case "commit":
		return h.handleCommit(ctx, c)
	default:
		return h.writeError(ctx, c, fault.CodeInternal, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (h *Handler) handleCreate(ctx context.Context, c *conn, frame controlFrame) error {
	if err := h.setFormat(c, frame.AudioFormat); err != nil {
		return h.writeError(ctx, c, fault.CodeInternal, err.Error())
	}

	sess, err := h.store.Create(ctx, frame.Prompt)
	if err != nil {
		return h.writeError(ctx, c, fault.CodeOf(err), fault.Messagef(err))
	}

	c.sessionID = sess.ID
	c.buf.Reset()
	h.log.Info("channel: session created", "session_id", sess.ID)
	return h.writeControl(ctx, c, controlFrame{Type: "session", SessionID: sess.ID})
}

func (h *Handler) handleOpen(ctx context.Context, c *conn, frame controlFrame) error {
	if err := h.setFormat(c, frame.AudioFormat); err != nil {
		return h.writeError(ctx, c, fault.CodeInternal, err.Error())
	}

	if _, err := h.store.Resolve(ctx, frame.SessionID); err != nil {
		return h.writeError(ctx, c, fault.CodeOf(err), fault.Messagef(err))
	}

	c.sessionID = frame.SessionID
	c.buf.Reset()
	return h.writeControl(ctx, c, controlFrame{Type: "session", SessionID: frame.SessionID})
}

// setFormat applies the negotiated uplink format, creating the Opus decoder
// lazily. An empty format keeps the current one.
func (h *Handler) setFormat(c *conn, f AudioFormat) error {
	if f == "" {
		return nil
	}
	if !f.IsValid() {
		return fmt.Errorf("unknown audio format %q", f)
	}
	if f == FormatOpus && c.opusDec == nil {
		dec, err := audio.NewOpusDecoder()
		if err != nil {
			return fmt.Errorf("opus decoder init: %w", err)
		}
		c.opusDec = dec
	}
	c.format = f
	return nil
}

// handleAudio appends one uplink frame to the connection buffer, decoding
// Opus frames into pipeline-format PCM first.
func (h *Handler) handleAudio(ctx context.Context, c *conn, data []byte) error {
	if c.sessionID == "" {
		return h.writeError(ctx, c, fault.CodeSessionNotFound, "no session bound; send a create or open frame first")
	}

	pcm := data
	if c.format == FormatOpus {
		decoded, err := c.opusDec.Decode(data)
		if err != nil {
			return h.writeError(ctx, c, fault.CodeSpeechRecognitionFailed, "opus frame could not be decoded")
		}
		pcm = audio.ToFormat(decoded, audio.OpusFormat, audio.DefaultFormat)
	}

	if c.buf.Len()+len(pcm) > h.maxBufferBytes {
		c.buf.Reset()
		return h.writeError(ctx, c, fault.CodeAudioTooLong, "uplink audio buffer limit exceeded; buffer discarded")
	}
	c.buf.Write(pcm)
	return nil
}

// handleCommit runs one turn over the buffered audio in a background
// goroutine so the read loop keeps seeing client frames (and disconnects,
// which cancel the turn).
func (h *Handler) handleCommit(ctx context.Context, c *conn) error {
	if c.sessionID == "" {
		return h.writeError(ctx, c, fault.CodeSessionNotFound, "no session bound; send a create or open frame first")
	}
	if c.buf.Len() == 0 {
		return h.writeError(ctx, c, fault.CodeSpeechRecognitionFailed, "no audio buffered")
	}

	c.turnMu.Lock()
	if c.turnActive {
		c.turnMu.Unlock()
		return h.writeError(ctx, c, fault.CodeInternal, "a turn is already in progress on this connection")
	}
	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.turnActive = true
	c.turnCancel = cancel
	c.turnDone = done
	c.turnMu.Unlock()

	// The buffer is handed to the turn wholesale; the client starts the
	// next utterance from empty.
	wav := audio.WrapPCM(c.buf.Bytes(), audio.DefaultFormat)
	c.buf.Reset()
	sessionID := c.sessionID

	go func() {
		defer close(done)
		defer func() {
			c.turnMu.Lock()
			c.turnActive = false
			c.turnCancel = nil
			c.turnMu.Unlock()
			cancel()
		}()

		turn, err := h.orch.ProcessTurn(turnCtx, sessionID, wav, "audio/wav")
		if err != nil {
			if turnCtx.Err() != nil {
				// Client went away; nobody is listening for the error frame.
				return
			}
			_ = h.writeError(turnCtx, c, fault.CodeOf(err), fault.Messagef(err))
			return
		}

		if err := h.writeControl(turnCtx, c, controlFrame{
			Type:             "turn",
			SessionID:        turn.SessionID,
			Transcript:       turn.Transcript,
			Reply:            turn.Reply,
			AudioContentType: turn.Audio.ContentType,
		}); err != nil {
			return
		}
		_ = h.writeBinary(turnCtx, c, turn.Audio.Data)
	}()

	return nil
}

// writeControl sends one JSON text frame. Writes from the read loop and the
// turn goroutine are serialized by the connection's write mutex.
func (h *Handler) writeControl(ctx context.Context, c *conn, frame controlFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("channel: encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, data)
}

// writeBinary sends one binary frame.
func (h *Handler) writeBinary(ctx context.Context, c *conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageBinary, data)
}

// writeError sends an error frame. The connection stays open; taxonomy
// errors are conversation-level, not protocol-level.
func (h *Handler) writeError(ctx context.Context, c *conn, code fault.Code, message string) error {
	return h.writeControl(ctx, c, controlFrame{
		Type:    "error",
		Code:    string(code),
		Message: message,
	})
}
