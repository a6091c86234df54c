// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mwolters/parlo/pkg/provider/tts"
)

// defaultVoice is used when the caller passes an empty voice identifier.
const defaultVoice = oai.AudioSpeechNewParamsVoiceAlloy

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   oai.SpeechModel
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default speech model (tts-1).
func WithModel(model string) Option {
	return func(c *config) {
		c.model = oai.SpeechModel(model)
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}

	cfg := &config{model: oai.SpeechModelTTS1}
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

// Synthesize implements tts.Provider. Output is MP3.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	v := defaultVoice
	if voice != "" {
		v = oai.AudioSpeechNewParamsVoice(voice)
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Voice:          v,
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: read audio: %w", err)
	}

	return tts.Audio{Data: data, ContentType: "audio/mpeg"}, nil
}

var _ tts.Provider = (*Provider)(nil)
