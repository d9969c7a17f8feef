package classifier

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/pkg/command"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 256
)

// Option configures an [LLM].
type Option func(*LLM)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(c *LLM) { c.temperature = temp }
}

// WithMaxTokens caps the reply length. Default: 256.
func WithMaxTokens(n int) Option {
	return func(c *LLM) { c.maxTokens = n }
}

// WithProviderName labels provider metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(c *LLM) { c.providerName = name }
}

// WithMetrics records provider metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *LLM) { c.metrics = m }
}

// WithClock overrides the clock used for the current time in the prompt.
func WithClock(now func() time.Time) Option {
	return func(c *LLM) { c.now = now }
}

// LLM classifies utterances with a language model.
type LLM struct {
	provider     llm.Provider
	persona      atomic.Pointer[Persona]
	temperature  float64
	maxTokens    int
	providerName string
	metrics      *observe.Metrics
	now          func() time.Time
}

var _ PersonaClassifier = (*LLM)(nil)

// NewLLM returns an LLM classifier using provider with persona p.
func NewLLM(provider llm.Provider, p Persona, opts ...Option) *LLM {
	c := &LLM{
		provider:     provider,
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
		providerName: "llm",
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.SetPersona(p)
	return c
}

// Persona returns the current default persona.
func (c *LLM) Persona() Persona { return *c.persona.Load() }

// SetPersona replaces the default persona. Safe to call while classifications
// are in flight.
func (c *LLM) SetPersona(p Persona) {
	p = p.WithDefaults()
	c.persona.Store(&p)
}

// Classify classifies utterance with the default persona.
func (c *LLM) Classify(ctx context.Context, utterance string) (command.Command, error) {
	return c.ClassifyAs(ctx, c.Persona(), utterance)
}

// ClassifyAs classifies utterance with p. Empty fields of p are taken from
// the default persona. Every failure is a [*command.ClassificationError].
func (c *LLM) ClassifyAs(ctx context.Context, p Persona, utterance string) (command.Command, error) {
	p = c.Persona().Merge(p)

	ctx, span := observe.StartSpan(ctx, "classifier.llm")
	defer span.End()
	span.SetAttributes(
		attribute.String("classifier.provider", c.providerName),
		attribute.String("classifier.locale", p.Locale),
	)

	if utterance == "" {
		err := command.AsClassificationError(utterance, "empty utterance", nil)
		span.SetStatus(codes.Error, err.Error())
		return command.Command{}, err
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(p, localTime(c.now(), p.TimeZone)),
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSON:         true,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: utterance},
		},
	}

	start := time.Now()
	resp, err := c.provider.Complete(ctx, req)
	c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", "error")
		c.metrics.RecordProviderError(ctx, c.providerName, "llm")
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return command.Command{}, command.AsClassificationError(utterance, "completion failed", err)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", "ok")
	if resp == nil {
		err := command.AsClassificationError(utterance, "empty completion", nil)
		span.SetStatus(codes.Error, err.Error())
		return command.Command{}, err
	}

	cmd, err := command.Parse(resp.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparsable reply")
		return command.Command{}, command.AsClassificationError(utterance, "unparsable reply", err)
	}

	span.SetAttributes(attribute.String("command.type", string(cmd.Type)))
	return cmd, nil
}
