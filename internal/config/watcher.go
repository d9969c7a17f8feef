package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// snapshot is one successfully parsed version of the watched file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher reloads a config file when polling notices a new modification time
// or when [Watcher.Reload] is called, for example on SIGHUP. The callback
// runs only when the file content changed and still validates; a broken edit
// is logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current snapshot
	seen    time.Time // last mtime inspected, valid or not
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher for it. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = snap, snap.mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.cfg
}

// Run polls until ctx is cancelled. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

// Reload rereads the file regardless of its modification time. It returns
// the parse or validation error of a broken file.
func (w *Watcher) Reload() error {
	snap, err := readSnapshot(w.path)
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", w.path, err)
	}
	w.apply(snap)
	return nil
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	stale := !info.ModTime().Equal(w.seen)
	w.seen = info.ModTime()
	w.mu.Unlock()
	if !stale {
		return
	}
	if err := w.Reload(); err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

func (w *Watcher) apply(snap snapshot) {
	w.mu.Lock()
	if snap.sum == w.current.sum {
		w.mu.Unlock()
		return
	}
	old := w.current.cfg
	w.current = snap
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	// Unlocked so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
