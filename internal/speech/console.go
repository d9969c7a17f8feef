package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// ConsoleRecognizer treats each line read from an io.Reader as one final
// transcript. Like a non-continuous browser recogniser, every recognition
// session ends after delivering a single transcript. Lines typed while no
// session is active are queued for the next one, unless the recogniser is in
// standby (see [ConsoleRecognizer.Standby]).
type ConsoleRecognizer struct {
	lines   chan string
	done    chan struct{}
	drained chan struct{}
	drain   sync.Once
	sent    atomic.Uint64

	mu      sync.Mutex
	handler RecognitionHandler
	stop    chan struct{}
	standby chan struct{}
}

// NewConsoleRecognizer returns an idle recogniser. Feed it with
// [ConsoleRecognizer.Run].
func NewConsoleRecognizer() *ConsoleRecognizer {
	return &ConsoleRecognizer{
		lines:   make(chan string, 16),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// SetHandler installs the event sink. Must be called before Start.
func (c *ConsoleRecognizer) SetHandler(h RecognitionHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Run scans r line by line until EOF or ctx is cancelled. Blank lines are
// skipped. Done is closed when Run returns.
func (c *ConsoleRecognizer) Run(ctx context.Context, r io.Reader) error {
	defer close(c.done)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("speech: read console: %w", err)
	}
	return nil
}

// Done is closed once input is exhausted.
func (c *ConsoleRecognizer) Done() <-chan struct{} { return c.done }

// Drained is closed when a recognition session or standby wait started
// after input was exhausted and found nothing left to deliver.
func (c *ConsoleRecognizer) Drained() <-chan struct{} { return c.drained }

// Start implements [Recognizer].
func (c *ConsoleRecognizer) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return ErrAlreadyActive
	}
	if c.handler == nil {
		return fmt.Errorf("speech: console recognizer has no handler")
	}
	c.cancelStandby()
	stop := make(chan struct{})
	c.stop = stop
	go c.listen(c.handler, stop)
	return nil
}

// Delivered returns the number of lines handed to the handler so far.
func (c *ConsoleRecognizer) Delivered() uint64 { return c.sent.Load() }

// Standby controls delivery while no recognition session is active. When on,
// the next line is passed straight to the handler as a transcript, without
// listening callbacks, and standby then switches itself off. The console uses
// it while the microphone is paused so the "start listening" phrase still
// reaches the session.
func (c *ConsoleRecognizer) Standby(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !on {
		c.cancelStandby()
		return
	}
	if c.stop != nil || c.standby != nil || c.handler == nil {
		return
	}
	standby := make(chan struct{})
	c.standby = standby
	go c.wait(c.handler, standby)
}

// cancelStandby must be called with c.mu held.
func (c *ConsoleRecognizer) cancelStandby() {
	if c.standby != nil {
		close(c.standby)
		c.standby = nil
	}
}

func (c *ConsoleRecognizer) wait(h RecognitionHandler, standby chan struct{}) {
	line, ok := c.next(standby)

	c.mu.Lock()
	if c.standby == standby {
		c.standby = nil
	}
	c.mu.Unlock()
	if ok {
		h.Transcript(line)
	}
}

func (c *ConsoleRecognizer) listen(h RecognitionHandler, stop chan struct{}) {
	h.ListeningStarted()
	if line, ok := c.next(stop); ok {
		h.Transcript(line)
	}

	c.mu.Lock()
	if c.stop == stop {
		c.stop = nil
	}
	c.mu.Unlock()
	h.ListeningEnded()
}

// next returns the next queued line. It gives up when stop is closed, and
// closes Drained when input is exhausted with nothing left to deliver.
func (c *ConsoleRecognizer) next(stop chan struct{}) (string, bool) {
	select {
	case line := <-c.lines:
		c.sent.Add(1)
		return line, true
	case <-stop:
		return "", false
	case <-c.done:
		select {
		case line := <-c.lines:
			c.sent.Add(1)
			return line, true
		default:
			c.drain.Do(func() { close(c.drained) })
			return "", false
		}
	}
}

// Stop implements [Recognizer].
func (c *ConsoleRecognizer) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	return nil
}

// ConsoleSynthesizer "speaks" by writing lines to an io.Writer and reports
// completion immediately.
type ConsoleSynthesizer struct {
	name string
	lang string

	mu      sync.Mutex
	w       io.Writer
	handler PlaybackHandler
}

// NewConsoleSynthesizer writes utterances to w prefixed with the speaker name.
func NewConsoleSynthesizer(w io.Writer, name, lang string) *ConsoleSynthesizer {
	return &ConsoleSynthesizer{w: w, name: name, lang: lang}
}

// SetHandler installs the completion sink.
func (c *ConsoleSynthesizer) SetHandler(h PlaybackHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Speak implements [Synthesizer].
func (c *ConsoleSynthesizer) Speak(_ context.Context, u Utterance) error {
	c.mu.Lock()
	_, err := fmt.Fprintf(c.w, "%s: %s\n", c.name, u.Text)
	h := c.handler
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if h != nil {
		go h.SpeechEnded(u.ID)
	}
	return nil
}

// Cancel implements [Synthesizer]. Console output cannot be recalled.
func (c *ConsoleSynthesizer) Cancel(context.Context) error { return nil }

// Voices implements [Synthesizer].
func (c *ConsoleSynthesizer) Voices(context.Context) ([]Voice, error) {
	return []Voice{{Name: "console", Lang: c.lang}}, nil
}

var (
	_ Recognizer  = (*ConsoleRecognizer)(nil)
	_ Synthesizer = (*ConsoleSynthesizer)(nil)
)
