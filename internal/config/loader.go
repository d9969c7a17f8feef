package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"
	_ "time/tzdata" // assistant.time_zone must resolve in minimal images

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/pkg/command"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLocale          = "en-US"
	DefaultTemperature     = 0.2
	DefaultMaxTokens       = 256
	DefaultClassifyTimeout = 15 * time.Second
)

// ValidProviderNames lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names.
var ValidProviderNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero fields of cfg. Session loop timings and phrases
// are left zero; the assistant package supplies those.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	a := &cfg.Assistant
	if a.Locale == "" {
		a.Locale = DefaultLocale
	}
	if a.VoiceLocale == "" {
		a.VoiceLocale = a.Locale
	}
	if a.Greeting == "" && a.UserName != "" {
		a.Greeting = fmt.Sprintf("Hello %s, what can I help you with?", a.UserName)
	}
	if a.Opener == "" {
		a.Opener = OpenerBrowser
	}

	c := &cfg.Classifier
	if c.Timeout == 0 {
		c.Timeout = DefaultClassifyTimeout
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "voxassist"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Assistant
	a := cfg.Assistant
	if a.StalePolicy != "" && a.StalePolicy != "apply_always" && a.StalePolicy != "discard_stale" {
		errs = append(errs, fmt.Errorf("assistant.stale_policy %q is invalid; valid values: apply_always, discard_stale", a.StalePolicy))
	}
	if a.TimeZone != "" {
		if _, err := time.LoadLocation(a.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("assistant.time_zone %q: %w", a.TimeZone, err))
		}
	}
	if a.HistorySize < 0 {
		errs = append(errs, errors.New("assistant.history_size must not be negative"))
	}
	if a.CacheSize < 0 {
		errs = append(errs, errors.New("assistant.cache_size must not be negative"))
	}
	if a.Opener != "" && !a.Opener.IsValid() {
		errs = append(errs, fmt.Errorf("assistant.opener %q is invalid; valid values: browser, log", a.Opener))
	}
	for name, d := range map[string]time.Duration{
		"initial_delay":       a.Timings.InitialDelay,
		"restart_delay":       a.Timings.RestartDelay,
		"error_restart_delay": a.Timings.ErrorRestartDelay,
		"speech_cooldown":     a.Timings.SpeechCooldown,
		"action_pause":        a.Timings.ActionPause,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("assistant.timings.%s must not be negative", name))
		}
	}
	for typ, tmpl := range a.Actions {
		if !command.Type(typ).IsKnown() {
			errs = append(errs, fmt.Errorf("assistant.actions: unknown command type %q", typ))
			continue
		}
		if err := dispatch.ValidateTemplate(tmpl); err != nil {
			errs = append(errs, fmt.Errorf("assistant.actions[%s]: %w", typ, err))
		}
	}

	// Classifier
	c := cfg.Classifier
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("classifier.temperature %.2f is out of range [0, 2]", c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("classifier.max_tokens must not be negative"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("classifier.timeout must not be negative"))
	}
	if c.Cache.TTL < 0 || c.Cache.Size < 0 {
		errs = append(errs, errors.New("classifier.cache size and ttl must not be negative"))
	}
	if raw := c.Cache.RedisURL; raw != "" {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Errorf("classifier.cache.redis_url %q must be a redis:// or rediss:// URL", raw))
		}
	}

	// Providers
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}

	// Telemetry
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Client
	if raw := cfg.Client.ServerURL; raw != "" {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("client.server_url %q must be an absolute http(s) URL", raw))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
