package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxassist/internal/assistant"
	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/internal/health"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/resilience"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
)

// Providers holds the language model the classifier talks to. Nil LLM means
// no provider is configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider

	// Checkers report provider readiness on /readyz.
	Checkers []health.Checker
}

// BuildProviders instantiates providers.llm and every entry of
// providers.llm_fallbacks through reg. With fallbacks configured the result
// is a [resilience.LLMFallback]. Its breakers back a required "llm"
// readiness check plus an optional "llm/<name>" check per backend.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	entry := cfg.Providers.LLM
	if entry.Name == "" {
		return ps, nil
	}

	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	if len(cfg.Providers.LLMFallbacks) == 0 {
		ps.LLM = primary
		return ps, nil
	}

	fb := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fe := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(fe)
		if err != nil {
			return nil, fmt.Errorf("app: fallback: %w", err)
		}
		fb.AddFallback(fe.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", fe.Name, "model", fe.Model)
	}
	ps.LLM = fb
	ps.Checkers = append(ps.Checkers, health.Checker{Name: "llm", Check: fb.Healthy})
	for _, name := range fb.Backends() {
		ps.Checkers = append(ps.Checkers, health.Checker{
			Name:     "llm/" + name,
			Optional: true,
			Check:    func(context.Context) error { return fb.BackendHealthy(name) },
		})
	}
	return ps, nil
}

// persona maps the assistant section onto a classifier persona.
func persona(a config.AssistantConfig) classifier.Persona {
	return classifier.Persona{
		AssistantName: a.AssistantName,
		CreatorName:   a.CreatorName,
		Locale:        a.Locale,
		TimeZone:      a.TimeZone,
	}
}

// machineConfig maps the assistant section onto the session loop config.
// Timings are merged field by field so a partial timings block keeps the
// remaining defaults.
func machineConfig(a config.AssistantConfig) assistant.Config {
	t := assistant.DefaultTimings()
	ct := a.Timings
	if ct.InitialDelay > 0 {
		t.InitialDelay = ct.InitialDelay
	}
	if ct.RestartDelay > 0 {
		t.RestartDelay = ct.RestartDelay
	}
	if ct.ErrorRestartDelay > 0 {
		t.ErrorRestartDelay = ct.ErrorRestartDelay
	}
	if ct.SpeechCooldown > 0 {
		t.SpeechCooldown = ct.SpeechCooldown
	}
	if ct.ActionPause > 0 {
		t.ActionPause = ct.ActionPause
	}

	return assistant.Config{
		Timings:     t,
		VoiceToggle: a.VoiceToggleEnabled(),
		FuzzyToggle: a.FuzzyCommands,
		StalePolicy: assistant.StalePolicy(a.StalePolicy),
		Greeting:    a.Greeting,
		Fallback:    a.Fallback,
		HistorySize: a.HistorySize,
		CacheSize:   a.CacheSize,
	}
}

// sessionTemplate is the per-session config shared by every session the
// host creates. Engines, classifier and dispatcher are filled in per
// session.
func sessionTemplate(cfg *config.Config, m *observe.Metrics) assistant.SessionConfig {
	return assistant.SessionConfig{
		Machine:         machineConfig(cfg.Assistant),
		VoiceLocale:     cfg.Assistant.VoiceLocale,
		ClassifyTimeout: cfg.Classifier.Timeout,
		Metrics:         m,
	}
}

// dispatchOptions applies the configured URL template overrides.
func dispatchOptions(a config.AssistantConfig) []dispatch.Option {
	var opts []dispatch.Option
	if len(a.Actions) > 0 {
		opts = append(opts, dispatch.WithTemplates(a.Actions))
	}
	return opts
}

// newLLMClassifier builds the in-process classifier over p.
func newLLMClassifier(p llm.Provider, cfg *config.Config, m *observe.Metrics) (*classifier.LLM, error) {
	if p == nil {
		return nil, errors.New("app: providers.llm is required to classify locally")
	}
	return classifier.NewLLM(p, persona(cfg.Assistant),
		classifier.WithProviderName(cfg.Providers.LLM.Name),
		classifier.WithTemperature(cfg.Classifier.Temperature),
		classifier.WithMaxTokens(cfg.Classifier.MaxTokens),
		classifier.WithMetrics(m),
	), nil
}
