package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxassist/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 5s

assistant:
  user_name: Priya
  assistant_name: Jarvis
  creator_name: Asha
  locale: hi-IN
  time_zone: Asia/Kolkata
  voice_toggle: false
  fuzzy_commands: true
  stale_policy: discard_stale
  history_size: 8
  cache_size: 64
  timings:
    initial_delay: 2s
    speech_cooldown: 1500ms
  actions:
    google-search: "https://duckduckgo.com/?q={query}"

classifier:
  timeout: 10s
  temperature: 0.4
  max_tokens: 128
  cache:
    size: 500
    ttl: 1h
    redis_url: redis://localhost:6379/0

providers:
  llm:
    name: gemini
    api_key: g-test
    model: gemini-2.5-flash
  llm_fallbacks:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini

client:
  server_url: http://localhost:9090

telemetry:
  service_name: voxassist-dev
`

func mustLoad(t *testing.T, y string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(y))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ─────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Server.ShutdownTimeout)
	}

	a := cfg.Assistant
	if a.AssistantName != "Jarvis" || a.CreatorName != "Asha" || a.Locale != "hi-IN" {
		t.Errorf("persona fields = %+v", a)
	}
	if a.VoiceLocale != "hi-IN" {
		t.Errorf("voice_locale default = %q, want locale", a.VoiceLocale)
	}
	if a.VoiceToggleEnabled() {
		t.Error("voice_toggle: false was ignored")
	}
	if a.Greeting != "Hello Priya, what can I help you with?" {
		t.Errorf("greeting = %q", a.Greeting)
	}
	if a.Timings.InitialDelay != 2*time.Second || a.Timings.SpeechCooldown != 1500*time.Millisecond {
		t.Errorf("timings = %+v", a.Timings)
	}
	if a.Timings.RestartDelay != 0 {
		t.Errorf("unset timing = %v, want 0", a.Timings.RestartDelay)
	}
	if a.Actions["google-search"] == "" {
		t.Error("actions not decoded")
	}

	if cfg.Classifier.Cache.TTL != time.Hour || cfg.Classifier.Cache.RedisURL == "" {
		t.Errorf("classifier.cache = %+v", cfg.Classifier.Cache)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "openai" {
		t.Errorf("llm_fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Telemetry.ServiceName != "voxassist-dev" {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Assistant.Locale != config.DefaultLocale || cfg.Assistant.VoiceLocale != config.DefaultLocale {
		t.Errorf("locale = %q / %q", cfg.Assistant.Locale, cfg.Assistant.VoiceLocale)
	}
	if !cfg.Assistant.VoiceToggleEnabled() {
		t.Error("voice toggle should default to enabled")
	}
	if cfg.Assistant.Greeting != "" {
		t.Errorf("greeting without user_name = %q, want empty", cfg.Assistant.Greeting)
	}
	if cfg.Assistant.Opener != config.OpenerBrowser {
		t.Errorf("opener = %q", cfg.Assistant.Opener)
	}
	if cfg.Classifier.Temperature != config.DefaultTemperature || cfg.Classifier.MaxTokens != config.DefaultMaxTokens {
		t.Errorf("classifier = %+v", cfg.Classifier)
	}
	if cfg.Telemetry.ServiceName != "voxassist" {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("assistant:\n  nickname: bob\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "nickname") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q", cfg.Providers.LLM.Model)
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"tls half", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"stale policy", "assistant:\n  stale_policy: sometimes\n", "assistant.stale_policy"},
		{"time zone", "assistant:\n  time_zone: Mars/Olympus\n", "assistant.time_zone"},
		{"history", "assistant:\n  history_size: -1\n", "assistant.history_size"},
		{"opener", "assistant:\n  opener: telepathy\n", "assistant.opener"},
		{"negative timing", "assistant:\n  timings:\n    action_pause: -1s\n", "assistant.timings.action_pause"},
		{"unknown action", "assistant:\n  actions:\n    teleport: \"https://x.example/{query}\"\n", "unknown command type"},
		{"bad template", "assistant:\n  actions:\n    google-search: \"ftp://x/{query}\"\n", "assistant.actions[google-search]"},
		{"temperature", "classifier:\n  temperature: 3\n", "classifier.temperature"},
		{"redis url", "classifier:\n  cache:\n    redis_url: http://localhost\n", "redis_url"},
		{"fallback name", "providers:\n  llm:\n    name: openai\n  llm_fallbacks:\n    - model: x\n", "llm_fallbacks[0].name"},
		{"fallback without primary", "providers:\n  llm_fallbacks:\n    - name: openai\n", "requires providers.llm"},
		{"server url", "client:\n  server_url: localhost:8080\n", "client.server_url"},
		{"sample ratio", "telemetry:\n  trace_sample_ratio: 1.5\n", "telemetry.trace_sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()
	y := "server:\n  log_level: loud\nassistant:\n  stale_policy: never\n"
	_, err := config.LoadFromReader(strings.NewReader(y))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "assistant.stale_policy"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var got config.ProviderEntry
	reg.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("no api key")
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "fake", Model: "m1"})
	if err != nil || p == nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if got.Model != "m1" {
		t.Errorf("factory received %+v", got)
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "missing"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"}); err == nil || !strings.Contains(err.Error(), "no api key") {
		t.Errorf("factory error not surfaced: %v", err)
	}

	if names := reg.LLMNames(); len(names) != 2 || names[0] != "broken" || names[1] != "fake" {
		t.Errorf("LLMNames() = %v", names)
	}

	// Registry must tolerate concurrent use.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = reg.CreateLLM(config.ProviderEntry{Name: "fake"})
				reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
			}
		}()
	}
	wg.Wait()
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Assistant.AssistantName != "Jarvis" || cfg.Providers.LLM.Name != "gemini" {
		t.Errorf("unexpected example config: %+v", cfg.Assistant)
	}
}
