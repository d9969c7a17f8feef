// Package app wires the voxassist subsystems into a running application.
//
// [App] hosts the HTTP server: New builds the classifier stack, the shared
// command cache and the route table from the config, Run serves until the
// context is cancelled, and Shutdown releases what New opened. [Console]
// runs a single session against stdin and stdout.
//
// For testing, inject doubles via functional options (WithClassifier,
// WithStore, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxassist/internal/cache"
	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/health"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/server"
)

// personaSetter is implemented by classifiers whose persona can change
// while running.
type personaSetter interface {
	SetPersona(classifier.Persona)
}

// App owns the server lifetime.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	levelVar   *slog.LevelVar
	store      cache.Store
	classifier classifier.PersonaClassifier
	persona    personaSetter
	checkers   []health.Checker

	watchPath     string
	watchInterval time.Duration
	watcher       *config.Watcher

	srv     *server.Server
	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClassifier replaces the LLM classifier stack. Persona hot reload only
// reaches c when it has a SetPersona method.
func WithClassifier(c classifier.PersonaClassifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithStore injects the shared command cache instead of creating one from
// classifier.cache.
func WithStore(s cache.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot reload adjust the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithWatch reloads path every interval while Run is active. Persona and
// log level changes apply immediately; other changes are logged as needing
// a restart.
func WithWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchInterval = interval
	}
}

// New creates an App from cfg. providers comes from main.go (populated via
// the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.checkers = append(a.checkers, providers.Checkers...)

	if err := a.initClassifier(ctx); err != nil {
		a.runClosers()
		return nil, err
	}

	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.reload, config.WithInterval(a.watchInterval))
		if err != nil {
			a.runClosers()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	srv, err := server.New(server.Config{
		Classifier:     a.classifier,
		Session:        sessionTemplate(cfg, a.metrics),
		Dispatch:       dispatchOptions(cfg.Assistant),
		OriginPatterns: cfg.Server.AllowedOrigins,
		Health:         health.New(a.checkers...),
		Metrics:        a.metrics,
	})
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.srv = srv
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// initStore opens the shared command cache. Redis is preferred when
// configured; otherwise an in-memory store is used unless the cache is
// disabled, in which case a.store stays nil.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	cc := a.cfg.Classifier.Cache
	switch {
	case cc.Disabled:
		return nil
	case cc.RedisURL != "":
		r, err := cache.OpenRedis(ctx, cc.RedisURL, cc.TTL)
		if err != nil {
			return fmt.Errorf("app: open shared cache: %w", err)
		}
		a.store = r
		a.checkers = append(a.checkers, health.Ping("redis", r))
		a.closers = append(a.closers, r.Close)
		slog.Info("shared command cache", "backend", "redis")
	default:
		a.store = cache.NewMemory(cc.Size, cc.TTL)
		slog.Info("shared command cache", "backend", "memory", "size", cc.Size)
	}
	return nil
}

func (a *App) initClassifier(ctx context.Context) error {
	if a.classifier != nil {
		if ps, ok := a.classifier.(personaSetter); ok {
			a.persona = ps
		}
		return nil
	}

	base, err := newLLMClassifier(a.providers.LLM, a.cfg, a.metrics)
	if err != nil {
		return err
	}
	a.persona = base
	a.classifier = base

	if err := a.initStore(ctx); err != nil {
		return err
	}
	if a.store != nil {
		a.classifier = classifier.NewCached(base, a.store, a.metrics)
	}
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.srv.Handler() }

// Run serves HTTP on server.listen_addr, polls the config file when
// watching, and blocks until ctx is cancelled. It then stops accepting
// requests and ends every WebSocket session within
// server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
		if err := a.srv.Close(sctx); err != nil {
			slog.Warn("session shutdown", "err", err)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ErrNotWatching is returned by [App.Reload] when no config file is watched.
var ErrNotWatching = errors.New("app: config file is not watched")

// Reload rereads the watched config file immediately.
func (a *App) Reload() error {
	if a.watcher == nil {
		return ErrNotWatching
	}
	return a.watcher.Reload()
}

// reload is the watcher callback.
func (a *App) reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged && a.persona != nil {
		a.persona.SetPersona(persona(new.Assistant))
		slog.Info("persona changed",
			"assistant_name", new.Assistant.AssistantName,
			"locale", new.Assistant.Locale,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// LevelFor converts a config log level to a slog level.
func LevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown releases everything New opened. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
