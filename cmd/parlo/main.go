// Command parlo is the main entry point for the Parlo voice conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mwolters/parlo/internal/config"
	"github.com/mwolters/parlo/internal/health"
	"github.com/mwolters/parlo/internal/observe"
	"github.com/mwolters/parlo/internal/pipeline"
	"github.com/mwolters/parlo/internal/resilience"
	"github.com/mwolters/parlo/internal/transcript"
	"github.com/mwolters/parlo/internal/transport/channel"
	"github.com/mwolters/parlo/internal/transport/rest"
	"github.com/mwolters/parlo/pkg/provider/chat"
	"github.com/mwolters/parlo/pkg/provider/chat/anyllm"
	chatopenai "github.com/mwolters/parlo/pkg/provider/chat/openai"
	"github.com/mwolters/parlo/pkg/provider/stt"
	sttopenai "github.com/mwolters/parlo/pkg/provider/stt/openai"
	"github.com/mwolters/parlo/pkg/provider/stt/whisper"
	"github.com/mwolters/parlo/pkg/provider/tts"
	"github.com/mwolters/parlo/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/mwolters/parlo/pkg/provider/tts/openai"
	"github.com/mwolters/parlo/pkg/session"
	"github.com/mwolters/parlo/pkg/session/postgres"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlo: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it
	// without restarting.
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("parlo starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parlo",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Session store ─────────────────────────────────────────────────────────
	store, storeCheck, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise session store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orchOpts := []pipeline.Option{
		pipeline.WithLanguage(cfg.Pipeline.Language),
		pipeline.WithVoice(cfg.Pipeline.Voice),
		pipeline.WithMetrics(metrics),
	}
	if cfg.Pipeline.MaxAudioSeconds > 0 {
		orchOpts = append(orchOpts, pipeline.WithMaxAudioDuration(time.Duration(cfg.Pipeline.MaxAudioSeconds)*time.Second))
	}
	if cfg.Pipeline.MaxConcurrentTurns > 0 {
		orchOpts = append(orchOpts, pipeline.WithMaxConcurrentTurns(cfg.Pipeline.MaxConcurrentTurns))
	}
	if len(cfg.Pipeline.Lexicon) > 0 {
		orchOpts = append(orchOpts, pipeline.WithCorrector(transcript.New(cfg.Pipeline.Lexicon)))
		slog.Info("transcript corrector enabled", "terms", len(cfg.Pipeline.Lexicon))
	}
	orch := pipeline.New(store, providers, orchOpts...)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChanges(orch, level, config.Diff(old, new))
	})
	if err != nil {
		// A watcher failure is not fatal; the server just loses hot reload.
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP routes ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	rest.New(store, orch, rest.WithLogger(logger)).Register(mux)
	mux.Handle("/v1/channel", channel.New(store, orch,
		channel.WithLogger(logger),
		channel.WithMetrics(metrics),
	))
	health.New(storeCheck).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg)
	slog.Info("server ready, press Ctrl+C to shut down")

	// ── Serve and graceful shutdown ───────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends lists the hosted chat backends that share the any-llm-go
// configuration pattern: optional APIKey plus optional BaseURL.
var anyllmBackends = []string{"anthropic", "gemini", "deepseek", "mistral", "groq"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	// whisper talks to a self-hosted whisper.cpp server; BaseURL is the
	// server address, no API key.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []chatopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, chatopenai.WithBaseURL(entry.BaseURL))
		}
		return chatopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllmBackends {
		reg.RegisterChat(backend, func(entry config.ProviderEntry) (chat.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterChat("ollama", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the three pipeline capabilities named in cfg.
// Unlike optional subsystems, all three are required; an unregistered name is
// a fatal configuration error. Entries carrying a fallback are wrapped in a
// circuit-breaking failover chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (pipeline.Providers, error) {
	var ps pipeline.Providers

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return ps, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = sttProvider
	if fb := cfg.Providers.STT.Fallback; fb != nil {
		backup, err := reg.CreateSTT(*fb)
		if err != nil {
			return ps, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		chain := resilience.NewSTT(sttProvider, cfg.Providers.STT.Name, resilience.BreakerConfig{})
		chain.AddFallback(fb.Name, backup)
		ps.STT = chain
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name,
		"fallback", fallbackName(cfg.Providers.STT))

	chatProvider, err := reg.CreateChat(cfg.Providers.Chat)
	if err != nil {
		return ps, fmt.Errorf("create chat provider %q: %w", cfg.Providers.Chat.Name, err)
	}
	ps.Chat = chatProvider
	if fb := cfg.Providers.Chat.Fallback; fb != nil {
		backup, err := reg.CreateChat(*fb)
		if err != nil {
			return ps, fmt.Errorf("create chat fallback %q: %w", fb.Name, err)
		}
		chain := resilience.NewChat(chatProvider, cfg.Providers.Chat.Name, resilience.BreakerConfig{})
		chain.AddFallback(fb.Name, backup)
		ps.Chat = chain
	}
	slog.Info("provider created", "kind", "chat", "name", cfg.Providers.Chat.Name,
		"fallback", fallbackName(cfg.Providers.Chat))

	ttsProvider, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return ps, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = ttsProvider
	if fb := cfg.Providers.TTS.Fallback; fb != nil {
		backup, err := reg.CreateTTS(*fb)
		if err != nil {
			return ps, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
		}
		chain := resilience.NewTTS(ttsProvider, cfg.Providers.TTS.Name, resilience.BreakerConfig{})
		chain.AddFallback(fb.Name, backup)
		ps.TTS = chain
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name,
		"fallback", fallbackName(cfg.Providers.TTS))

	return ps, nil
}

// fallbackName returns the fallback provider name for startup logging, or
// "none".
func fallbackName(entry config.ProviderEntry) string {
	if entry.Fallback == nil {
		return "none"
	}
	return entry.Fallback.Name
}

// ── Session store ─────────────────────────────────────────────────────────────

// buildStore creates the configured session store. It returns the store, a
// readiness check for /readyz, and a close function for shutdown.
func buildStore(ctx context.Context, cfg *config.Config) (session.Store, health.Check, func(), error) {
	switch cfg.Session.Backend {
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, cfg.Session.PostgresDSN)
		if err != nil {
			return nil, health.Check{}, nil, err
		}
		if ttl := cfg.Session.IdleExpiry.Std(); ttl > 0 {
			go sweepIdleSessions(ctx, store, ttl)
		}
		check := health.Check{
			Name: "postgres",
			Probe: func(ctx context.Context) error {
				_, err := store.ActiveIDs(ctx)
				return err
			},
		}
		slog.Info("session store ready", "backend", "postgres")
		return store, check, store.Close, nil

	default:
		var opts []session.MemoryOption
		if ttl := cfg.Session.IdleExpiry.Std(); ttl > 0 {
			opts = append(opts, session.WithIdleExpiry(ttl))
		}
		store := session.NewMemoryStore(opts...)
		check := health.Check{
			Name: "session_store",
			Probe: func(ctx context.Context) error {
				_, err := store.ActiveIDs(ctx)
				return err
			},
		}
		slog.Info("session store ready", "backend", "memory")
		return store, check, func() {}, nil
	}
}

// sweepIdleSessions periodically removes sessions whose last activity is
// older than ttl. The sweep interval is a fraction of the ttl, clamped to at
// least one minute so short ttls do not hammer the database.
func sweepIdleSessions(ctx context.Context, store *postgres.Store, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.SweepIdle(ctx, ttl)
			if err != nil {
				slog.Warn("idle session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("swept idle sessions", "count", n)
			}
		}
	}
}

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyConfigChanges applies a hot-reloadable config diff to the running
// server. Provider and session-store changes require a restart and are not
// part of the diff.
func applyConfigChanges(orch *pipeline.Orchestrator, level *slog.LevelVar, diff config.ConfigDiff) {
	if !diff.HasChanges() {
		return
	}
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.LexiconChanged {
		if len(diff.NewLexicon) > 0 {
			orch.SetCorrector(transcript.New(diff.NewLexicon))
		} else {
			orch.SetCorrector(nil)
		}
		slog.Info("transcript lexicon reloaded", "terms", len(diff.NewLexicon))
	}
	if diff.VoiceChanged {
		orch.SetVoice(diff.NewVoice)
		slog.Info("voice changed", "voice", diff.NewVoice)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Parlo  startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Chat", cfg.Providers.Chat.Name, cfg.Providers.Chat.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	backend := cfg.Session.Backend
	if backend == "" {
		backend = config.BackendMemory
	}
	fmt.Printf("║  Session store   : %-19s ║\n", backend)
	fmt.Printf("║  Lexicon terms   : %-19d ║\n", len(cfg.Pipeline.Lexicon))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
