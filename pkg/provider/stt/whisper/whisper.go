// Package whisper provides a speech recognition provider backed by a local
// whisper.cpp server (the whisper-server binary exposing /inference).
//
// The server accepts a multipart upload with the audio file and responds with
// a JSON body containing the transcribed text. Run it locally for fully
// offline recognition:
//
//	whisper-server -m models/ggml-base.en.bin --port 8081
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mwolters/parlo/pkg/provider/stt"
)

// Provider implements stt.Provider against a whisper.cpp server.
type Provider struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithLanguage sets a default recognition language used when the request
// carries none.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// New constructs a Provider talking to the whisper.cpp server at baseURL,
// e.g. "http://localhost:8081".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("whisper: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// inferenceResponse is the JSON body returned by whisper-server /inference.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Recognize implements stt.Provider.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build upload: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build upload: %w", err)
	}
	_ = mw.WriteField("response_format", "json")
	if lang := p.requestLanguage(req); lang != "" {
		_ = mw.WriteField("language", lang)
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, fmt.Errorf("whisper: inference: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: decode response: %w", err)
	}
	if out.Error != "" {
		return stt.Result{Recognized: false, Message: out.Error}, nil
	}

	text := strings.TrimSpace(out.Text)
	if text == "" {
		return stt.Result{Recognized: false, Message: "no speech recognized in audio"}, nil
	}
	return stt.Result{Recognized: true, Text: text}, nil
}

// requestLanguage picks the request's language hint, falling back to the
// provider default.
func (p *Provider) requestLanguage(req stt.Request) string {
	if req.Language != "" {
		return req.Language
	}
	return p.language
}

var _ stt.Provider = (*Provider)(nil)
