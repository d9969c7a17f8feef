package classifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxassist/internal/cache"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/pkg/command"
)

// Cached serves repeated utterances from a shared [cache.Store]. Keys combine
// the persona and the utterance, so renaming the assistant never reuses a
// reply that names the old one. Time-dependent commands are never stored.
//
// Store failures are logged and treated as misses.
type Cached struct {
	next    PersonaClassifier
	store   cache.Store
	metrics *observe.Metrics
}

var _ PersonaClassifier = (*Cached)(nil)

// NewCached wraps next with store. m defaults to [observe.DefaultMetrics].
func NewCached(next PersonaClassifier, store cache.Store, m *observe.Metrics) *Cached {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Cached{next: next, store: store, metrics: m}
}

// Persona returns the wrapped classifier's persona.
func (c *Cached) Persona() Persona { return c.next.Persona() }

// Classify classifies utterance with the default persona.
func (c *Cached) Classify(ctx context.Context, utterance string) (command.Command, error) {
	return c.ClassifyAs(ctx, Persona{}, utterance)
}

// ClassifyAs consults the store before delegating to the wrapped classifier.
func (c *Cached) ClassifyAs(ctx context.Context, p Persona, utterance string) (command.Command, error) {
	key := CacheKey(c.next.Persona().Merge(p), utterance)

	cmd, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("classifier: shared cache get failed", "error", err)
	}
	c.metrics.RecordCacheLookup(ctx, "shared", ok)
	if ok {
		return cmd, nil
	}

	cmd, err = c.next.ClassifyAs(ctx, p, utterance)
	if err != nil {
		return command.Command{}, err
	}
	if !cmd.Type.IsTimeDependent() {
		if err := c.store.Put(ctx, key, cmd); err != nil {
			slog.Warn("classifier: shared cache put failed", "error", err)
		}
	}
	return cmd, nil
}

// CacheKey returns the shared cache key for utterance under persona p.
// Utterances are compared exactly after trimming, since a reply's userInput
// may carry the original casing (a profile handle, say).
func CacheKey(p Persona, utterance string) string {
	return p.key() + "\x1e" + strings.TrimSpace(utterance)
}
