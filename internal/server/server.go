// Package server exposes the classifier and the session loop over HTTP.
//
// Routes:
//
//	POST /api/classify     classify one utterance (JSON in, Command out)
//	GET  /api/auth/logout  expire the session cookie
//	GET  /ws/session       WebSocket bridge to a browser speech engine
//	GET  /healthz, /readyz liveness and readiness
//	GET  /metrics          Prometheus scrape endpoint
//
// Every route passes through [observe.Middleware].
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxassist/internal/assistant"
	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/internal/health"
	"github.com/MrWong99/voxassist/internal/observe"
)

// SessionCookie is set on the first classify call and expired by logout.
const SessionCookie = "voxassist_session"

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 64 << 10

// Config wires a [Server].
type Config struct {
	// Classifier serves /api/classify and every WebSocket session.
	Classifier classifier.PersonaClassifier

	// Session is the template for WebSocket sessions. Recognizer,
	// Synthesizer, Classifier, Dispatcher, ID and OnState are filled in per
	// connection.
	Session assistant.SessionConfig

	// Dispatch options for per-connection dispatchers, e.g. template
	// overrides.
	Dispatch []dispatch.Option

	// OriginPatterns are accepted on /ws/session in addition to same-origin
	// requests.
	OriginPatterns []string

	// Health serves /healthz and /readyz. Defaults to a handler without
	// checks.
	Health *health.Handler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler.
	MetricsHandler http.Handler
}

// Server is the voxassist HTTP server. Construct with [New].
type Server struct {
	cfg     Config
	handler http.Handler

	// base parents every WebSocket session so Close can end them.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards closing and wg.Add
	closing bool
	wg      sync.WaitGroup
}

// track registers a session with Close. It reports false once Close began.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("server: classifier is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, base: base, cancel: cancel}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/classify", s.handleClassify)
	mux.HandleFunc("GET /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /ws/session", s.handleSession)
	mux.Handle("GET /metrics", cfg.MetricsHandler)
	cfg.Health.Register(mux)

	s.handler = observe.Middleware(cfg.Metrics, observe.WithSessionCookie(SessionCookie))(mux)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Close ends every WebSocket session and waits until they have shut down or
// ctx expires. [http.Server.Shutdown] does not wait for hijacked
// connections, so call Close after it.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("server: sessions still running at shutdown deadline")
		return ctx.Err()
	}
}
