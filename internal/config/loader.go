package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the TOML configuration file at path, applies environment
// variable overrides, and returns a validated [Config].
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

// LoadFromReader decodes a TOML config from r, applies environment variable
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers secret-bearing environment variables over values
// already present in the file, following the config-file-first,
// env-var-for-secrets convention: a config file committed to a repo carries
// structure and tuning, while credentials come from the deployment
// environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := os.Getenv("STORAGE_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Providers.STT.Name == "openai" || cfg.Providers.STT.Name == "" {
			cfg.Providers.STT.APIKey = v
		}
		if cfg.Providers.LLM.Name == "openai" || cfg.Providers.LLM.Name == "" {
			cfg.Providers.LLM.APIKey = v
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Providers.LLM.Name == "anthropic" {
		cfg.Providers.LLM.APIKey = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; sessions will not be persisted")
	}

	if cfg.Discord.BotToken == "" {
		slog.Warn("discord.bot_token is empty; the voice platform adapter will not be able to connect")
	}

	if cfg.Listener.SampleRate <= 0 {
		errs = append(errs, errors.New("listener.sample_rate must be positive"))
	}
	if cfg.Listener.ChunkDurationS <= 0 {
		errs = append(errs, errors.New("listener.chunk_duration_s must be positive"))
	}
	if cfg.Listener.SilenceThresholdS <= 0 {
		errs = append(errs, errors.New("listener.silence_threshold_s must be positive"))
	}
	if cfg.Listener.VADAggressiveness < 0 || cfg.Listener.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("listener.vad_aggressiveness %d is out of range [0, 3]", cfg.Listener.VADAggressiveness))
	}

	if cfg.Transcriber.MaxConcurrentRequests < 0 {
		errs = append(errs, errors.New("transcriber.max_concurrent_requests must not be negative"))
	}
	if cfg.Transcriber.MaxRetries < 0 {
		errs = append(errs, errors.New("transcriber.max_retries must not be negative"))
	}

	if cfg.Summarizer.MaxPendingTranscriptions < 0 {
		errs = append(errs, errors.New("summarizer.max_pending_transcriptions must not be negative"))
	}
	if cfg.Summarizer.MaxRetries < 0 {
		errs = append(errs, errors.New("summarizer.max_retries must not be negative"))
	}

	if cfg.Campaign.ID == "" {
		errs = append(errs, errors.New("campaign.id is required"))
	}

	playerIDsSeen := make(map[string]int, len(cfg.Campaign.Players))
	for i, p := range cfg.Campaign.Players {
		prefix := fmt.Sprintf("campaign.players[%d]", i)
		if p.DiscordID == "" {
			errs = append(errs, fmt.Errorf("%s.discord_id is required", prefix))
			continue
		}
		if prev, ok := playerIDsSeen[p.DiscordID]; ok {
			errs = append(errs, fmt.Errorf("%s.discord_id %q is a duplicate of campaign.players[%d]", prefix, p.DiscordID, prev))
		}
		playerIDsSeen[p.DiscordID] = i
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
