// Package assistant implements the voice-interaction control loop: speech
// capture, classification, dispatch, spoken replies and the safe re-arming of
// listening in between.
//
// The loop is split in two. [Machine] is a pure reducer over events that
// returns effects; it owns the phase, the dedup state, the session command
// cache and the exchange history. [Session] is the runtime that feeds it: it
// receives engine callbacks as a [speech.RecognitionHandler] and
// [speech.PlaybackHandler], runs classifications in the background, owns the
// re-arm timers and executes every effect the machine returns. All machine
// access happens on the session goroutine.
package assistant

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/speech"
	"github.com/MrWong99/voxassist/pkg/command"
)

// Classifier turns an utterance into a Command.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (command.Command, error)
}

// DefaultClassifyTimeout bounds a single classification.
const DefaultClassifyTimeout = 15 * time.Second

// SessionConfig wires a [Session] to its collaborators.
type SessionConfig struct {
	// ID identifies the session in logs. A random UUID is used when empty.
	ID string

	Machine Config

	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Classifier  Classifier
	Dispatcher  *dispatch.Dispatcher

	// VoiceLocale selects the synthesiser voice, e.g. "hi-IN".
	VoiceLocale string

	// ClassifyTimeout bounds one classification. Zero selects
	// [DefaultClassifyTimeout].
	ClassifyTimeout time.Duration

	// OnState, if set, is called on the session goroutine after every
	// processed event. It must not block.
	OnState func(Snapshot)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session runs one [Machine] against real engines. Construct with
// [NewSession] and drive with [Session.Run].
type Session struct {
	id         string
	machine    *Machine
	input      *speech.Input
	output     *speech.Output
	classifier Classifier
	dispatcher *dispatch.Dispatcher
	timeout    time.Duration
	onState    func(Snapshot)
	metrics    *observe.Metrics
	log        *slog.Logger

	events chan Event
	done   chan struct{}

	timerMu sync.Mutex
	timers  map[uint64]*time.Timer

	snapMu sync.RWMutex
	snap   Snapshot

	inflight sync.WaitGroup
}

// NewSession validates cfg and returns an unstarted Session.
func NewSession(cfg SessionConfig) (*Session, error) {
	var errs []error
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("assistant: recognizer is required"))
	}
	if cfg.Synthesizer == nil {
		errs = append(errs, errors.New("assistant: synthesizer is required"))
	}
	if cfg.Classifier == nil {
		errs = append(errs, errors.New("assistant: classifier is required"))
	}
	if cfg.Dispatcher == nil {
		errs = append(errs, errors.New("assistant: dispatcher is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	timeout := cfg.ClassifyTimeout
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}

	m := NewMachine(cfg.Machine)
	s := &Session{
		id:         id,
		machine:    m,
		input:      speech.NewInput(cfg.Recognizer),
		output:     speech.NewOutput(cfg.Synthesizer, cfg.VoiceLocale),
		classifier: cfg.Classifier,
		dispatcher: cfg.Dispatcher,
		timeout:    timeout,
		onState:    cfg.OnState,
		metrics:    met,
		log:        slog.With(observe.SessionAttr, id),
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
		timers:     make(map[uint64]*time.Timer),
		snap:       m.Snapshot(),
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns the state after the most recently processed event. Safe for
// concurrent use.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run mounts the session and processes events until ctx is cancelled, then
// unmounts it. Run blocks until in-flight classifications have returned.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	ctx = observe.WithSession(ctx, s.id)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s.log.Info("assistant: session started")
	if err := s.output.LoadVoices(ctx); err != nil {
		s.log.Debug("assistant: voices unavailable", "error", err)
	}

	s.handle(ctx, Mounted{})
	for {
		select {
		case ev := <-s.events:
			s.handle(ctx, ev)
		case <-ctx.Done():
			s.handle(context.WithoutCancel(ctx), Unmounted{})
			s.drain()
			s.log.Info("assistant: session closed")
			return nil
		}
	}
}

// drain discards events until every in-flight classification has returned,
// so none of them blocks on a full queue.
func (s *Session) drain() {
	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	for {
		select {
		case <-s.events:
		case <-idle:
			return
		}
	}
}

// post enqueues ev unless the session has stopped.
func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// ── Controls ──────────────────────────────────────────────────────────────────

// SetMic turns the microphone on or off.
func (s *Session) SetMic(on bool) { s.post(MicToggled{On: on}) }

// ClearHistory empties the exchange history.
func (s *Session) ClearHistory() { s.post(HistoryCleared{}) }

// SetVoices updates the synthesiser voice list.
func (s *Session) SetVoices(vs []speech.Voice) { s.output.SetVoices(vs) }

// ── speech.RecognitionHandler ────────────────────────────────────────────────

// ListeningStarted implements [speech.RecognitionHandler].
func (s *Session) ListeningStarted() {
	s.input.ObserveStarted()
	s.post(ListeningStarted{})
}

// ListeningEnded implements [speech.RecognitionHandler].
func (s *Session) ListeningEnded() {
	s.input.ObserveEnded()
	s.post(ListeningEnded{})
}

// Transcript implements [speech.RecognitionHandler].
func (s *Session) Transcript(text string) { s.post(TranscriptReceived{Text: text}) }

// RecognitionError implements [speech.RecognitionHandler].
func (s *Session) RecognitionError(code string) { s.post(RecognitionFailed{Code: code}) }

// ── speech.PlaybackHandler ───────────────────────────────────────────────────

// SpeechEnded implements [speech.PlaybackHandler].
func (s *Session) SpeechEnded(id string) {
	s.output.Finished(id)
	s.post(SpeechEnded{ID: id})
}

// SpeechFailed implements [speech.PlaybackHandler].
func (s *Session) SpeechFailed(id string, err error) {
	s.output.Finished(id)
	s.post(SpeechFailed{ID: id, Err: err})
}

// ── Event loop ───────────────────────────────────────────────────────────────

// handle steps the machine with ev and executes the effects. Effects that fail
// synchronously feed follow-up events back through the same loop iteration.
func (s *Session) handle(ctx context.Context, ev Event) {
	queue := []Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		s.logEvent(ctx, next)

		for _, eff := range s.machine.Step(next) {
			if follow := s.execute(ctx, eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}

	snap := s.machine.Snapshot()
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
	if s.onState != nil {
		s.onState(snap)
	}
}

func (s *Session) logEvent(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case TranscriptReceived:
		s.log.Info("assistant: transcript", "text", e.Text, "phase", s.machine.Phase())
	case RecognitionFailed:
		if e.Code != speech.CodeAborted {
			s.log.Warn("assistant: recognition error", "code", e.Code)
		}
	case ClassificationFailed:
		s.log.Warn("assistant: classification failed", "utterance", e.Utterance, "error", e.Err)
	case SpeechFailed:
		s.log.Warn("assistant: speech output failed", "id", e.ID, "error", e.Err)
	case MicToggled:
		s.log.Info("assistant: mic toggled", "on", e.On)
	case TimerFired:
		// Too chatty for info level.
	default:
		s.log.DebugContext(ctx, "assistant: event", "event", e)
	}
}

// execute carries out eff. It returns a follow-up event when the effect failed
// in a way the machine must learn about.
func (s *Session) execute(ctx context.Context, eff Effect) Event {
	switch e := eff.(type) {
	case StartRecognition:
		if err := s.input.Start(ctx); err != nil {
			s.log.Warn("assistant: start recognition failed", "error", err)
			return RecognitionFailed{Code: speech.CodeStartFailed}
		}
	case StopRecognition:
		if err := s.input.Stop(ctx); err != nil {
			s.log.Warn("assistant: stop recognition failed", "error", err)
		}
	case Speak:
		if err := s.output.Speak(ctx, e.ID, e.Text); err != nil {
			return SpeechFailed{ID: e.ID, Err: err}
		}
	case CancelSpeech:
		if err := s.output.Cancel(ctx); err != nil {
			s.log.Warn("assistant: cancel speech failed", "error", err)
		}
	case Classify:
		s.metrics.RecordCacheLookup(ctx, "session", false)
		s.metrics.RecordUtterance(ctx, "classified")
		s.classify(ctx, e)
	case Dispatch:
		if e.Cached {
			s.metrics.RecordCacheLookup(ctx, "session", true)
			s.metrics.RecordUtterance(ctx, "cached")
		}
		if s.dispatcher.Dispatch(ctx, e.Command) {
			s.metrics.RecordDispatch(ctx, string(e.Command.Type))
		}
	case Schedule:
		s.metrics.RecordRecognitionRestart(ctx, e.Reason)
		s.schedule(e.ID, e.Delay)
	case CancelTimers:
		s.cancelTimers()
	}
	return nil
}

func (s *Session) classify(ctx context.Context, e Classify) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		start := time.Now()
		cmd, err := s.classifier.Classify(cctx, e.Utterance)
		if err != nil {
			s.metrics.RecordClassification(ctx, time.Since(start), "error")
			s.post(ClassificationFailed{
				Gen:       e.Gen,
				Utterance: e.Utterance,
				Err:       command.AsClassificationError(e.Utterance, "classifier failed", err),
			})
			return
		}
		s.metrics.RecordClassification(ctx, time.Since(start), "ok")
		s.post(Classified{Gen: e.Gen, Utterance: e.Utterance, Command: cmd})
	}()
}

func (s *Session) schedule(id uint64, d time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.timers[id] = time.AfterFunc(d, func() {
		s.timerMu.Lock()
		delete(s.timers, id)
		s.timerMu.Unlock()
		s.post(TimerFired{ID: id})
	})
}

func (s *Session) cancelTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

var (
	_ speech.RecognitionHandler = (*Session)(nil)
	_ speech.PlaybackHandler    = (*Session)(nil)
)
