package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mwolters/parlo/internal/config"
	"github.com/mwolters/parlo/pkg/provider/chat"
	chatmock "github.com/mwolters/parlo/pkg/provider/chat/mock"
	"github.com/mwolters/parlo/pkg/provider/stt"
	sttmock "github.com/mwolters/parlo/pkg/provider/stt/mock"
	"github.com/mwolters/parlo/pkg/provider/tts"
	ttsmock "github.com/mwolters/parlo/pkg/provider/tts/mock"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  chat:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    name: elevenlabs
    api_key: el-test
pipeline:
  language: en
  voice: rachel
  max_audio_seconds: 30
  max_concurrent_turns: 8
  lexicon:
    - Redis
    - PostgreSQL
session:
  backend: memory
  idle_expiry: 30m
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.Chat.Model != "gpt-4o-mini" {
		t.Errorf("chat model: got %q", cfg.Providers.Chat.Model)
	}
	if cfg.Pipeline.MaxAudioSeconds != 30 {
		t.Errorf("max_audio_seconds: got %d", cfg.Pipeline.MaxAudioSeconds)
	}
	if len(cfg.Pipeline.Lexicon) != 2 || cfg.Pipeline.Lexicon[0] != "Redis" {
		t.Errorf("lexicon: got %v", cfg.Pipeline.Lexicon)
	}
	if cfg.Session.IdleExpiry.Std() != 30*time.Minute {
		t.Errorf("idle_expiry: got %v", cfg.Session.IdleExpiry.Std())
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	in := strings.Replace(validYAML, "listen_addr:", "listenaddr_typo:", 1)
	if _, err := config.LoadFromReader(strings.NewReader(in)); err == nil {
		t.Error("unknown field must be rejected")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()

	in := strings.Replace(validYAML, "30m", "half an hour", 1)
	if _, err := config.LoadFromReader(strings.NewReader(in)); err == nil {
		t.Error("unparseable duration must be rejected")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mut  func(*config.Config)
	}{
		{"invalid log level", func(c *config.Config) { c.Server.LogLevel = "loud" }},
		{"missing provider", func(c *config.Config) { c.Providers.TTS.Name = "" }},
		{"invalid backend", func(c *config.Config) { c.Session.Backend = "etcd" }},
		{"postgres without dsn", func(c *config.Config) {
			c.Session.Backend = config.BackendPostgres
			c.Session.PostgresDSN = ""
		}},
		{"negative max audio", func(c *config.Config) { c.Pipeline.MaxAudioSeconds = -1 }},
		{"tls missing key", func(c *config.Config) {
			c.Server.TLS = &config.TLSConfig{CertFile: "cert.pem"}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("base config: %v", err)
			}
			tc.mut(cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestRegistry_CreateRoundTrip(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	r.RegisterChat("mock", func(config.ProviderEntry) (chat.Provider, error) {
		return &chatmock.Provider{}, nil
	})
	r.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	if _, err := r.CreateSTT(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := r.CreateChat(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateChat: %v", err)
	}
	if _, err := r.CreateTTS(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	_, err := r.CreateChat(config.ProviderEntry{Name: "ghost"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("want ErrProviderNotRegistered, got %v", err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	old, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("base config: %v", err)
	}
	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Pipeline.Voice = "adam"
	updated.Pipeline.Lexicon = []string{"Redis", "PostgreSQL", "Kafka"}

	d := config.Diff(old, &updated)
	if !d.HasChanges() {
		t.Fatal("diff reported no changes")
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff: %+v", d)
	}
	if !d.VoiceChanged || d.NewVoice != "adam" {
		t.Errorf("voice diff: %+v", d)
	}
	if !d.LexiconChanged || len(d.NewLexicon) != 3 {
		t.Errorf("lexicon diff: %+v", d)
	}

	if got := config.Diff(old, old); got.HasChanges() {
		t.Errorf("identical configs must produce an empty diff, got %+v", got)
	}
}

func TestValidate_Fallback(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("base config: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Providers.STT.Fallback = &config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8081"}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("valid fallback rejected: %v", err)
	}

	cfg = base()
	cfg.Providers.Chat.Fallback = &config.ProviderEntry{}
	if err := config.Validate(cfg); err == nil {
		t.Error("nameless fallback accepted")
	}

	cfg = base()
	cfg.Providers.TTS.Fallback = &config.ProviderEntry{
		Name:     "openai",
		Fallback: &config.ProviderEntry{Name: "elevenlabs"},
	}
	if err := config.Validate(cfg); err == nil {
		t.Error("nested fallback accepted")
	}
}
