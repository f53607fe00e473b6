// Command rpgscribe is the main entry point for the RPG session
// transcription and summarization service.
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

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rpgscribe/rpgscribe/internal/admin"
	"github.com/rpgscribe/rpgscribe/internal/bus"
	"github.com/rpgscribe/rpgscribe/internal/config"
	"github.com/rpgscribe/rpgscribe/internal/health"
	"github.com/rpgscribe/rpgscribe/internal/observe"
	"github.com/rpgscribe/rpgscribe/internal/resilience"
	"github.com/rpgscribe/rpgscribe/internal/session"
	"github.com/rpgscribe/rpgscribe/internal/storage"
	"github.com/rpgscribe/rpgscribe/pkg/audio/discord"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm/anyllm"
	"github.com/rpgscribe/rpgscribe/pkg/provider/llm/openai"
	"github.com/rpgscribe/rpgscribe/pkg/provider/stt"
	sttopenai "github.com/rpgscribe/rpgscribe/pkg/provider/stt/openai"
	"github.com/rpgscribe/rpgscribe/pkg/provider/stt/whisper"
	"github.com/rpgscribe/rpgscribe/pkg/provider/vad/energy"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "rpgscribe: config file %q not found — copy configs/example.toml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rpgscribe: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("rpgscribe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"campaign", cfg.Campaign.Name,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "rpgscribe"})
	if err != nil {
		slog.Error("failed to initialise observability provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("observability shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	if fb := cfg.Providers.LLMFallback; fb.Name != "" {
		secondary, err := reg.CreateLLM(fb)
		if err != nil {
			slog.Error("failed to build llm fallback provider", "name", fb.Name, "err", err)
			return 1
		}
		group := resilience.NewLLMFallback(llmProvider, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		group.AddFallback(fb.Name, secondary)
		llmProvider = group
		slog.Info("llm fallback enabled", "primary", cfg.Providers.LLM.Name, "fallback", fb.Name)
	}

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	if fb := cfg.Providers.STTFallback; fb.Name != "" {
		secondary, err := reg.CreateSTT(fb)
		if err != nil {
			slog.Error("failed to build stt fallback provider", "name", fb.Name, "err", err)
			return 1
		}
		group := resilience.NewSTTFallback(sttProvider, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		group.AddFallback(fb.Name, secondary)
		sttProvider = group
		slog.Info("stt fallback enabled", "primary", cfg.Providers.STT.Name, "fallback", fb.Name)
	}

	vadEngine := energy.New()

	pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to storage", "err", err)
		return 1
	}
	defer pool.Close()

	gw := storage.NewPostgresGateway(pool)
	if err := gw.Migrate(ctx); err != nil {
		slog.Error("failed to apply storage schema", "err", err)
		return 1
	}

	discordSession, err := discordgo.New("Bot " + cfg.Discord.BotToken)
	if err != nil {
		slog.Error("failed to construct discord session", "err", err)
		return 1
	}

	// Supervise the gateway link: the monitor re-opens the session if the
	// websocket drops and discordgo's own reconnect gives up.
	gatewayLink := resilience.NewReconnector(resilience.ReconnectConfig{
		Name: "discord-gateway",
		Connect: func(context.Context) error {
			_ = discordSession.Close()
			return discordSession.Open()
		},
		Disconnect:  discordSession.Close,
		IsConnected: func() bool { return discordSession.DataReady },
	})
	if err := gatewayLink.Start(ctx); err != nil {
		slog.Error("failed to open discord gateway connection", "err", err)
		return 1
	}
	defer gatewayLink.Stop()

	platform := discord.New(discordSession, cfg.Discord.GuildID)

	b := bus.New()
	orch := session.New(b, platform, gw, session.Providers{
		VAD: vadEngine,
		STT: sttProvider,
		LLM: llmProvider,
	}, cfg, session.WithMetrics(observe.DefaultMetrics()))

	adminHandler := admin.New(gw, orch)
	adminHandler.AttachBus(b)

	healthHandler := health.New(health.Checker{
		Name: "storage",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	})

	mux := http.NewServeMux()
	adminHandler.Register(mux)
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := observe.Middleware(observe.DefaultMetrics())(mux)

	printStartupSummary(cfg)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	slog.Info("rpgscribe ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("admin server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if orch.IsActive() {
		if _, err := orch.Stop(shutdownCtx); err != nil {
			slog.Error("failed to stop active session during shutdown", "err", err)
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends lists the any-llm-go-backed provider names this service
// registers, beyond the direct "openai" factory.
var anyllmBackends = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires every LLM/STT implementation this service
// ships with into reg, keyed by the provider name a config file selects.
// Provider *selection* and auth live in a [config.ProviderEntry]; the model
// identifier is tuning that lives in the owning pipeline stage's own table
// ([config.TranscriberConfig] for STT, [config.SummarizerConfig] for LLM), so
// the factories close over cfg for that one field.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, cfg.Summarizer.Model, opts...)
	})
	for _, name := range anyllmBackends {
		name := name
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			return anyllm.New(name, cfg.Summarizer.Model, opts...)
		})
	}

	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.BatchProvider, error) {
		opts := []sttopenai.Option{}
		if e.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(e.BaseURL))
		}
		if cfg.Transcriber.Model != "" {
			opts = append(opts, sttopenai.WithModel(cfg.Transcriber.Model))
		}
		return sttopenai.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.BatchProvider, error) {
		opts := []whisper.Option{}
		if cfg.Transcriber.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Transcriber.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        rpgscribe — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Summarizer.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Transcriber.Model)
	fmt.Printf("║  Campaign        : %-19s ║\n", truncate(cfg.Campaign.Name, 19))
	fmt.Printf("║  Players         : %-19d ║\n", len(cfg.Campaign.Players))
	fmt.Printf("║  NPCs configured : %-19d ║\n", len(cfg.Campaign.NPCs))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
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
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
