// Package cache stores classification results so a repeated utterance does not
// cost a second model call.
//
// Two scopes exist. [LRU] is the per-session cache consulted by the session
// loop before classifying: keyed by the exact trimmed utterance, bounded, and
// evicting the least recently used entry when full. [Store] is the shared
// cache used by the classification server across sessions; it is backed by an
// in-process TTL cache ([Memory]) or by Redis ([Redis]).
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/voxassist/pkg/command"
)

// DefaultSize is the session cache capacity used when none is configured.
const DefaultSize = 256

// LRU is a bounded utterance -> Command cache. It is safe for concurrent use.
type LRU struct {
	c *lru.Cache[string, command.Command]
}

// NewLRU returns an LRU holding at most size entries. A size <= 0 selects
// [DefaultSize].
func NewLRU(size int) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	// lru.New only fails for non-positive sizes.
	c, _ := lru.New[string, command.Command](size)
	return &LRU{c: c}
}

// Get returns the cached Command for utterance. The key is compared exactly.
func (l *LRU) Get(utterance string) (command.Command, bool) {
	return l.c.Get(utterance)
}

// Put stores cmd for utterance, overwriting any previous entry.
func (l *LRU) Put(utterance string, cmd command.Command) {
	l.c.Add(utterance, cmd)
}

// Len reports the number of cached entries.
func (l *LRU) Len() int { return l.c.Len() }

// Purge removes every entry.
func (l *LRU) Purge() { l.c.Purge() }
