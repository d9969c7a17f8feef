// Package speech defines the two passive event sources the session loop is
// built around: a speech recogniser (speech-to-text) and a speech synthesiser
// (text-to-speech), plus the controllers that enforce their usage rules.
//
// Engines never call into the session directly. They report through the
// [RecognitionHandler] and [PlaybackHandler] interfaces, which the session
// implements by posting events onto its own queue. Engines live outside this
// module's trust boundary (a browser tab, a console, a test mock), so every
// controller method tolerates being called in an order the engine would
// reject.
package speech

import (
	"context"
	"errors"
)

// ErrAlreadyActive is returned by a [Recognizer] asked to start while a
// recognition session is already running.
var ErrAlreadyActive = errors.New("speech: recognition already active")

// Recognition error codes reported by engines. Engines may report others.
const (
	CodeAborted     = "aborted"
	CodeNoSpeech    = "no-speech"
	CodeNetwork     = "network"
	CodeStartFailed = "start-failed"
)

// Recognizer is a continuous speech-to-text engine.
type Recognizer interface {
	// Start begins a recognition session. Returning [ErrAlreadyActive] is
	// allowed and treated as success.
	Start(ctx context.Context) error

	// Stop ends the active session. The engine still reports ListeningEnded.
	Stop(ctx context.Context) error
}

// RecognitionHandler receives recogniser events. Implementations must not
// block.
type RecognitionHandler interface {
	ListeningStarted()
	ListeningEnded()
	Transcript(text string)
	RecognitionError(code string)
}

// Voice is a synthesiser voice.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance is one piece of text to speak.
type Utterance struct {
	// ID correlates the request with its completion callback.
	ID string

	Text string

	// Lang is the requested BCP-47 language tag, e.g. "hi-IN".
	Lang string

	// Voice is the chosen voice name. Empty selects the engine default.
	Voice string
}

// Synthesizer is a text-to-speech engine playing one utterance at a time.
type Synthesizer interface {
	// Speak starts playback. Completion is reported through the
	// PlaybackHandler with the same ID.
	Speak(ctx context.Context, u Utterance) error

	// Cancel stops the current utterance, if any. The engine may or may not
	// report completion for the cancelled utterance.
	Cancel(ctx context.Context) error

	// Voices lists the available voices.
	Voices(ctx context.Context) ([]Voice, error)
}

// PlaybackHandler receives synthesiser events. Implementations must not block.
type PlaybackHandler interface {
	SpeechEnded(id string)
	SpeechFailed(id string, err error)
}

// OutputError reports a failed playback.
type OutputError struct {
	ID  string
	Err error
}

func (e *OutputError) Error() string {
	if e.Err == nil {
		return "speech: output " + e.ID + " failed"
	}
	return "speech: output " + e.ID + " failed: " + e.Err.Error()
}

func (e *OutputError) Unwrap() error { return e.Err }
