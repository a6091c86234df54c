// Package openai provides a speech recognition provider backed by the OpenAI
// audio transcription API.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mwolters/parlo/pkg/provider/stt"
)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   oai.AudioModel
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible transcription servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default transcription model (whisper-1).
func WithModel(model string) Option {
	return func(c *config) {
		c.model = oai.AudioModel(model)
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: oai.AudioModelWhisper1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Recognize implements stt.Provider.
func (p *Provider) Recognize(ctx context.Context, req stt.Request) (stt.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(req.Audio), fileName(req.ContentType), req.ContentType),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return stt.Result{
			Recognized: false,
			Message:    "no speech recognized in audio",
		}, nil
	}
	return stt.Result{Recognized: true, Text: text}, nil
}

// fileName picks an upload file name matching the content type; the API
// infers the container format from the extension.
func fileName(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.wav"
	}
}

var _ stt.Provider = (*Provider)(nil)
