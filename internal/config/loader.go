package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":  {"openai", "whisper"},
	"chat": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"tts":  {"elevenlabs", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.STT.Name == "" || cfg.Providers.Chat.Name == "" || cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.stt, providers.chat, and providers.tts must all be configured"))
	}

	for kind, entry := range map[string]ProviderEntry{
		"stt":  cfg.Providers.STT,
		"chat": cfg.Providers.Chat,
		"tts":  cfg.Providers.TTS,
	} {
		if entry.Fallback == nil {
			continue
		}
		if entry.Fallback.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallback requires a name", kind))
			continue
		}
		if entry.Fallback.Fallback != nil {
			errs = append(errs, fmt.Errorf("providers.%s.fallback must not nest another fallback", kind))
		}
		validateProviderName(kind, entry.Fallback.Name)
	}

	// Pipeline
	if cfg.Pipeline.MaxAudioSeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_audio_seconds %d must not be negative", cfg.Pipeline.MaxAudioSeconds))
	}
	if cfg.Pipeline.MaxConcurrentTurns < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent_turns %d must not be negative", cfg.Pipeline.MaxConcurrentTurns))
	}

	// Session store
	if cfg.Session.Backend != "" && !cfg.Session.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("session.backend %q is invalid; valid values: memory, postgres", cfg.Session.Backend))
	}
	if cfg.Session.Backend == BackendPostgres && cfg.Session.PostgresDSN == "" {
		errs = append(errs, errors.New("session.postgres_dsn is required when session.backend is postgres"))
	}
	if cfg.Session.IdleExpiry < 0 {
		errs = append(errs, errors.New("session.idle_expiry must not be negative"))
	}
	if cfg.Session.Backend == BackendMemory && cfg.Session.PostgresDSN != "" {
		slog.Warn("session.postgres_dsn is set but session.backend is memory; the DSN will be ignored")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
