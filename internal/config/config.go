// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for voxassist.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Opener names how the console host opens dispatched URLs.
type Opener string

const (
	// OpenerBrowser opens URLs in the default browser.
	OpenerBrowser Opener = "browser"
	// OpenerLog only logs them.
	OpenerLog Opener = "log"
)

// IsValid reports whether o is a recognised opener.
func (o Opener) IsValid() bool { return o == OpenerBrowser || o == OpenerLog }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Client     ClientConfig     `yaml:"client"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists the origin patterns accepted on /ws/session in
	// addition to same-origin requests.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AssistantConfig describes the assistant's identity and the session loop.
type AssistantConfig struct {
	// UserName is the person greeted on start-up.
	UserName string `yaml:"user_name"`

	// AssistantName, CreatorName, Locale and TimeZone form the classifier
	// persona. All four are hot-reloadable.
	AssistantName string `yaml:"assistant_name"`
	CreatorName   string `yaml:"creator_name"`
	Locale        string `yaml:"locale"`
	TimeZone      string `yaml:"time_zone"`

	// VoiceLocale picks the synthesiser voice. Defaults to Locale.
	VoiceLocale string `yaml:"voice_locale"`

	// VoiceToggle enables the "stop listening"/"start listening" phrases.
	// Defaults to true.
	VoiceToggle *bool `yaml:"voice_toggle"`

	// FuzzyCommands accepts near misses of the toggle phrases.
	FuzzyCommands bool `yaml:"fuzzy_commands"`

	// StalePolicy is "apply_always" (default) or "discard_stale".
	StalePolicy string `yaml:"stale_policy"`

	HistorySize int `yaml:"history_size"`
	CacheSize   int `yaml:"cache_size"`

	// Greeting is spoken on start-up. Defaults to a greeting for UserName.
	Greeting string `yaml:"greeting"`
	Fallback string `yaml:"fallback"`

	Timings TimingsConfig `yaml:"timings"`

	// Actions overrides URL templates per command type, e.g.
	// "google-search": "https://duckduckgo.com/?q={query}".
	Actions map[string]string `yaml:"actions"`

	// Opener selects how the console host opens URLs. Default: browser.
	Opener Opener `yaml:"opener"`
}

// VoiceToggleEnabled reports whether the toggle phrases are active.
func (a AssistantConfig) VoiceToggleEnabled() bool {
	return a.VoiceToggle == nil || *a.VoiceToggle
}

// TimingsConfig holds the session loop delays. Zero values select the
// built-in defaults.
type TimingsConfig struct {
	InitialDelay      time.Duration `yaml:"initial_delay"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
	ErrorRestartDelay time.Duration `yaml:"error_restart_delay"`
	SpeechCooldown    time.Duration `yaml:"speech_cooldown"`
	ActionPause       time.Duration `yaml:"action_pause"`
}

// ClassifierConfig tunes the language-model classifier.
type ClassifierConfig struct {
	// Timeout bounds one classification.
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`

	// Cache configures the shared cache in front of the classifier.
	Cache SharedCacheConfig `yaml:"cache"`
}

// SharedCacheConfig configures the cross-session command cache.
type SharedCacheConfig struct {
	// Disabled turns the shared cache off.
	Disabled bool `yaml:"disabled"`

	// Size bounds the in-memory store.
	Size int `yaml:"size"`

	TTL time.Duration `yaml:"ttl"`

	// RedisURL selects a Redis store instead of the in-memory one,
	// e.g. "redis://localhost:6379/0".
	RedisURL string `yaml:"redis_url"`
}

// ProvidersConfig selects the LLM providers. Each entry names a factory
// registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "gemini").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ClientConfig configures the console host.
type ClientConfig struct {
	// ServerURL points the console at a running voxassist server. When
	// empty the console classifies in-process with providers.llm.
	ServerURL string `yaml:"server_url"`
}

// TelemetryConfig names the service in exported metrics and traces.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// TraceSampleRatio is the fraction of new traces kept, in (0, 1].
	// Zero samples everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}
