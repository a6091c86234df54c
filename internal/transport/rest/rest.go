// Package rest exposes the conversation core over a synchronous HTTP API.
//
// The adapter is deliberately thin: it deserializes requests, calls into the
// session store and the pipeline orchestrator, and maps taxonomy error codes
// to HTTP status codes. All error responses share one JSON shape:
//
//	{"code": "<taxonomy code>", "message": "<human readable>"}
//
// Audio is submitted as the raw request body of the turn endpoint (the
// Content-Type header names the container) and returned base64-encoded in
// the turn response JSON.
package rest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mwolters/parlo/internal/observe"
	"github.com/mwolters/parlo/internal/pipeline"
	"github.com/mwolters/parlo/pkg/fault"
	"github.com/mwolters/parlo/pkg/session"
)

// defaultMaxBodyBytes caps the size of a turn request body. 10 MiB holds
// well over a minute of 16-bit 48 kHz stereo PCM.
const defaultMaxBodyBytes = 10 << 20

// Handler serves the REST API. Construct with [New] and mount via
// [Handler.Register].
type Handler struct {
	store        session.Store
	orch         *pipeline.Orchestrator
	log          *slog.Logger
	maxBodyBytes int64
}

// Option is a functional option for configuring a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithMaxBodyBytes overrides the turn request body size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// New creates a Handler over the shared store and orchestrator.
func New(store session.Store, orch *pipeline.Orchestrator, opts ...Option) *Handler {
	h := &Handler{
		store:        store,
		orch:         orch,
		log:          slog.Default(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds all API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.createSession)
	mux.HandleFunc("GET /v1/sessions", h.listSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.deleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", h.processTurn)
}

// createSessionRequest is the JSON body of POST /v1/sessions. The body is
// optional; an absent or empty prompt creates an unseeded session.
type createSessionRequest struct {
	Prompt string `json:"prompt"`
}

// sessionResponse is the JSON projection of a session's metadata.
type sessionResponse struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int       `json:"message_count"`
}

// turnResponse is the JSON body of a successful turn.
type turnResponse struct {
	SessionID        string `json:"session_id"`
	Transcript       string `json:"transcript"`
	Reply            string `json:"reply"`
	Audio            string `json:"audio"` // base64
	AudioContentType string `json:"audio_content_type"`
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fault.CodeInternal, "request body is not valid JSON")
			return
		}
	}

	sess, err := h.store.Create(r.Context(), req.Prompt)
	if err != nil {
		h.writeFault(w, r, err)
		return
	}

	observe.Logger(r.Context()).InfoContext(r.Context(), "session created",
		slog.String("session_id", sess.ID),
		slog.Bool("seeded", req.Prompt != ""),
	)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess.Info()))
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ActiveIDs(r.Context())
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, fault.CodeSessionNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess.Info()))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.Remove(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFault(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, fault.CodeSessionNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) processTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	audio, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fault.CodeInternal, "failed to read request body")
		return
	}
	if int64(len(audio)) > h.maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fault.CodeAudioTooLong, "audio payload exceeds the request size limit")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, fault.CodeSpeechRecognitionFailed, "request body contains no audio")
		return
	}

	turn, err := h.orch.ProcessTurn(r.Context(), id, audio, r.Header.Get("Content-Type"))
	if err != nil {
		h.writeFault(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		SessionID:        turn.SessionID,
		Transcript:       turn.Transcript,
		Reply:            turn.Reply,
		Audio:            base64.StdEncoding.EncodeToString(turn.Audio.Data),
		AudioContentType: turn.Audio.ContentType,
	})
}

// writeFault maps a classified error onto an HTTP response. Unclassified
// errors are logged with their full cause and surface as a generic 500.
func (h *Handler) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	code := fault.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", string(code)),
			slog.String("error", err.Error()),
		)
	}
	if errors.Is(err, r.Context().Err()) {
		// Client went away; 499-style responses are not part of the API.
		return
	}
	writeError(w, status, code, fault.Messagef(err))
}

// statusFor maps taxonomy codes to HTTP status codes.
func statusFor(code fault.Code) int {
	switch code {
	case fault.CodeSessionNotFound:
		return http.StatusNotFound
	case fault.CodeAudioTooLong:
		return http.StatusRequestEntityTooLarge
	case fault.CodeSpeechRecognitionFailed:
		return http.StatusUnprocessableEntity
	case fault.CodeChatCompletionFailed, fault.CodeSpeechSynthesisFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toSessionResponse(info session.Info) sessionResponse {
	return sessionResponse{
		ID:           info.ID,
		CreatedAt:    info.CreatedAt,
		LastActiveAt: info.LastActiveAt,
		MessageCount: info.MessageCount,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"code":"internal","message":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, code fault.Code, message string) {
	writeJSON(w, status, errorResponse{Code: string(code), Message: message})
}
