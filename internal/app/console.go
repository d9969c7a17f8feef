package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/voxassist/internal/assistant"
	"github.com/MrWong99/voxassist/internal/cache"
	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/config"
	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/speech"
)

// Console runs one assistant session in the terminal: every input line is
// a transcript and every reply is written to the output.
type Console struct {
	cfg        *config.Config
	providers  *Providers
	classifier classifier.PersonaClassifier
	opener     dispatch.Opener
	metrics    *observe.Metrics
	remote     *classifier.Remote
}

// ConsoleOption configures a [Console].
type ConsoleOption func(*Console)

// WithConsoleClassifier replaces the classifier chosen from the config.
func WithConsoleClassifier(cls classifier.PersonaClassifier) ConsoleOption {
	return func(c *Console) { c.classifier = cls }
}

// WithOpener replaces the opener selected by assistant.opener.
func WithOpener(o dispatch.Opener) ConsoleOption {
	return func(c *Console) { c.opener = o }
}

// WithConsoleMetrics records on m instead of [observe.DefaultMetrics].
func WithConsoleMetrics(m *observe.Metrics) ConsoleOption {
	return func(c *Console) { c.metrics = m }
}

// NewConsole picks the classifier: a [classifier.Remote] when
// client.server_url is set, otherwise a cached in-process LLM classifier
// over providers.LLM.
func NewConsole(cfg *config.Config, providers *Providers, opts ...ConsoleOption) (*Console, error) {
	if providers == nil {
		providers = &Providers{}
	}
	c := &Console{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.opener == nil {
		if cfg.Assistant.Opener == config.OpenerLog {
			c.opener = dispatch.LogOpener{}
		} else {
			c.opener = dispatch.BrowserOpener{}
		}
	}
	if c.classifier != nil {
		return c, nil
	}

	if url := cfg.Client.ServerURL; url != "" {
		r, err := classifier.NewRemote(url, persona(cfg.Assistant), classifier.WithHTTPTimeout(cfg.Classifier.Timeout))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		c.remote = r
		c.classifier = r
		return c, nil
	}

	base, err := newLLMClassifier(providers.LLM, cfg, c.metrics)
	if err != nil {
		return nil, err
	}
	c.classifier = base
	if cc := cfg.Classifier.Cache; !cc.Disabled {
		c.classifier = classifier.NewCached(base, cache.NewMemory(cc.Size, cc.TTL), c.metrics)
	}
	return c, nil
}

// Run reads transcripts from in and writes replies to out. It returns when
// ctx is cancelled, or once in is exhausted and every line has been
// delivered. While the microphone is paused lines still reach the session one
// at a time, so "start listening" resumes it and anything else is ignored.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := c.classifier.Persona().WithDefaults().AssistantName
	rec := speech.NewConsoleRecognizer()
	syn := speech.NewConsoleSynthesizer(out, name, c.cfg.Assistant.VoiceLocale)

	scfg := sessionTemplate(c.cfg, c.metrics)
	scfg.ID = "console"
	scfg.Recognizer = rec
	scfg.Synthesizer = syn
	scfg.Classifier = classifier.Bound{C: c.classifier}
	scfg.Dispatcher = dispatch.New(c.opener, dispatchOptions(c.cfg.Assistant)...)
	scfg.OnState = func(snap assistant.Snapshot) {
		// Arm only once the previous standby line has been processed.
		rec.Standby(snap.Phase == assistant.Paused && snap.Heard == rec.Delivered())
	}

	sess, err := assistant.NewSession(scfg)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	rec.SetHandler(sess)
	syn.SetHandler(sess)

	readErr := make(chan error, 1)
	go func() { readErr <- rec.Run(ctx, in) }()
	go func() { _ = sess.Run(ctx) }()

	var inputErr error
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-rec.Drained():
			break wait
		case err := <-readErr:
			inputErr = err
			readErr = nil
		}
	}

	cancel()
	<-sess.Done()

	if c.remote != nil {
		lctx, lcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer lcancel()
		if err := c.remote.Logout(lctx); err != nil {
			slog.Warn("console: logout failed", "err", err)
		}
	}
	return inputErr
}
