package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends. The classifier sees a single provider; a backend outage only
// shows up as a slower reply.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Without cfg.OnFailure, failures are counted as provider errors on
// [observe.DefaultMetrics].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.OnFailure == nil {
		m := observe.DefaultMetrics()
		cfg.OnFailure = func(name string, _ error) {
			m.RecordProviderError(context.Background(), name, "llm")
		}
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend. Call before the first
// Complete.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Backends lists the backend names in failover order.
func (f *LLMFallback) Backends() []string { return f.group.Names() }

// Healthy reports an error when every backend's circuit is open. It backs
// the "llm" readiness check.
func (f *LLMFallback) Healthy(context.Context) error { return f.group.Healthy() }

// BackendHealthy reports an error while the named backend's circuit is open.
func (f *LLMFallback) BackendHealthy(name string) error {
	st, ok := f.group.States()[name]
	switch {
	case !ok:
		return fmt.Errorf("resilience: unknown backend %q", name)
	case st == StateOpen:
		return fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}
	return nil
}

// States reports each backend's breaker state.
func (f *LLMFallback) States() map[string]State { return f.group.States() }
