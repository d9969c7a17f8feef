package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Input guards a [Recognizer] so that at most one recognition session runs at
// a time. Start and Stop are safe no-ops when the engine is already in the
// requested state.
//
// Input tracks activity from two sides: its own Start/Stop calls and the
// engine's started/ended callbacks relayed through ObserveStarted and
// ObserveEnded.
type Input struct {
	rec Recognizer

	mu     sync.Mutex
	active bool
}

// NewInput wraps rec.
func NewInput(rec Recognizer) *Input {
	return &Input{rec: rec}
}

// Start begins recognition unless a session is already active.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.active {
		in.mu.Unlock()
		return nil
	}
	in.active = true
	in.mu.Unlock()

	err := in.rec.Start(ctx)
	if err == nil || errors.Is(err, ErrAlreadyActive) {
		return nil
	}

	in.mu.Lock()
	in.active = false
	in.mu.Unlock()
	return fmt.Errorf("speech: start recognition: %w", err)
}

// Stop ends the active recognition session, if any.
func (in *Input) Stop(ctx context.Context) error {
	in.mu.Lock()
	if !in.active {
		in.mu.Unlock()
		return nil
	}
	in.active = false
	in.mu.Unlock()

	if err := in.rec.Stop(ctx); err != nil {
		return fmt.Errorf("speech: stop recognition: %w", err)
	}
	return nil
}

// Active reports whether a recognition session is believed to be running.
func (in *Input) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active
}

// ObserveStarted records the engine's started callback.
func (in *Input) ObserveStarted() {
	in.mu.Lock()
	in.active = true
	in.mu.Unlock()
}

// ObserveEnded records the engine's ended callback.
func (in *Input) ObserveEnded() {
	in.mu.Lock()
	in.active = false
	in.mu.Unlock()
}
