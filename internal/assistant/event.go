package assistant

import (
	"time"

	"github.com/MrWong99/voxassist/pkg/command"
)

// Event is an input to [Machine.Step]. Engine callbacks, classifier results,
// timers and user controls are all events.
type Event interface{ event() }

// Mounted starts the session.
type Mounted struct{}

// Unmounted ends the session. Every later event is ignored.
type Unmounted struct{}

// ListeningStarted reports that the recogniser began a session.
type ListeningStarted struct{}

// ListeningEnded reports that the recogniser session ended.
type ListeningEnded struct{}

// TranscriptReceived carries one finalised transcript.
type TranscriptReceived struct{ Text string }

// RecognitionFailed carries a recogniser error code such as "no-speech".
type RecognitionFailed struct{ Code string }

// Classified carries a classifier result for generation Gen.
type Classified struct {
	Gen       uint64
	Utterance string
	Command   command.Command
}

// ClassificationFailed carries a classifier failure for generation Gen.
type ClassificationFailed struct {
	Gen       uint64
	Utterance string
	Err       error
}

// SpeechEnded reports that utterance ID finished playing.
type SpeechEnded struct{ ID string }

// SpeechFailed reports that utterance ID could not be played.
type SpeechFailed struct {
	ID  string
	Err error
}

// TimerFired reports that the timer scheduled under ID elapsed.
type TimerFired struct{ ID uint64 }

// MicToggled switches the microphone on or off.
type MicToggled struct{ On bool }

// HistoryCleared empties the exchange history.
type HistoryCleared struct{}

func (Mounted) event()              {}
func (Unmounted) event()            {}
func (ListeningStarted) event()     {}
func (ListeningEnded) event()       {}
func (TranscriptReceived) event()   {}
func (RecognitionFailed) event()    {}
func (Classified) event()           {}
func (ClassificationFailed) event() {}
func (SpeechEnded) event()          {}
func (SpeechFailed) event()         {}
func (TimerFired) event()           {}
func (MicToggled) event()           {}
func (HistoryCleared) event()       {}

// Effect is an instruction returned by [Machine.Step] for the runtime to
// carry out.
type Effect interface{ effect() }

// StartRecognition asks the recogniser to begin listening.
type StartRecognition struct{}

// StopRecognition asks the recogniser to stop listening.
type StopRecognition struct{}

// Speak asks the synthesiser to play Text under ID.
type Speak struct {
	ID   string
	Text string
}

// CancelSpeech silences the synthesiser.
type CancelSpeech struct{}

// Classify asks the runtime to classify Utterance and report back with Gen.
type Classify struct {
	Gen       uint64
	Utterance string
}

// Dispatch asks the runtime to carry out Command's side effect.
type Dispatch struct {
	Command command.Command
	Cached  bool
}

// Schedule asks the runtime to fire TimerFired{ID} after Delay. Reason is
// informational.
type Schedule struct {
	ID     uint64
	Delay  time.Duration
	Reason string
}

// CancelTimers stops every pending timer.
type CancelTimers struct{}

func (StartRecognition) effect() {}
func (StopRecognition) effect()  {}
func (Speak) effect()            {}
func (CancelSpeech) effect()     {}
func (Classify) effect()         {}
func (Dispatch) effect()         {}
func (Schedule) effect()         {}
func (CancelTimers) effect()     {}
