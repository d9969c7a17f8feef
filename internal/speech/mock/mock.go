// Package mock provides test doubles for the speech.Recognizer and
// speech.Synthesizer interfaces.
//
// The doubles only record calls. Tests drive engine callbacks themselves by
// invoking the session's handler methods, which keeps event ordering under the
// test's control.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxassist/internal/speech"
)

// Recognizer is a mock implementation of speech.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start.
	StartErr error

	// StopErr, if non-nil, is returned from Stop.
	StopErr error

	starts int
	stops  int
}

// Start records the call and returns StartErr.
func (r *Recognizer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return r.StartErr
}

// Stop records the call and returns StopErr.
func (r *Recognizer) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.StopErr
}

// Starts returns the number of Start calls.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Stops returns the number of Stop calls.
func (r *Recognizer) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// Synthesizer is a mock implementation of speech.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned from Speak.
	SpeakErr error

	// CancelErr, if non-nil, is returned from Cancel.
	CancelErr error

	// VoiceList is returned from Voices.
	VoiceList []speech.Voice

	// OnSpeak, if set, is called after each recorded Speak without the lock
	// held. Tests use it to complete playback.
	OnSpeak func(u speech.Utterance)

	spoken  []speech.Utterance
	cancels int
}

// Speak records u and returns SpeakErr.
func (s *Synthesizer) Speak(_ context.Context, u speech.Utterance) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, u)
	err, fn := s.SpeakErr, s.OnSpeak
	s.mu.Unlock()

	if err == nil && fn != nil {
		fn(u)
	}
	return err
}

// Cancel records the call and returns CancelErr.
func (s *Synthesizer) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return s.CancelErr
}

// Voices returns VoiceList.
func (s *Synthesizer) Voices(context.Context) ([]speech.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.VoiceList, nil
}

// Spoken returns a copy of every utterance passed to Speak.
func (s *Synthesizer) Spoken() []speech.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.Utterance(nil), s.spoken...)
}

// Texts returns the text of every utterance passed to Speak.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	for i, u := range s.spoken {
		out[i] = u.Text
	}
	return out
}

// Cancels returns the number of Cancel calls.
func (s *Synthesizer) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

var (
	_ speech.Recognizer  = (*Recognizer)(nil)
	_ speech.Synthesizer = (*Synthesizer)(nil)
)
