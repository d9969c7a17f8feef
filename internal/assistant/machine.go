package assistant

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/voxassist/internal/cache"
	"github.com/MrWong99/voxassist/internal/voicecmd"
	"github.com/MrWong99/voxassist/pkg/command"
)

// Phase is the session's position in the listen/classify/speak cycle.
// Recognition runs only in Listening and playback only in Speaking, so the
// two can never overlap.
type Phase int

const (
	Idle Phase = iota
	Listening
	Processing
	Speaking
	Paused
	Closed
)

var phaseNames = [...]string{"idle", "listening", "processing", "speaking", "paused", "closed"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON snapshots.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// StalePolicy decides what happens to a classification result that arrives
// after a newer utterance was submitted or the session left Processing.
type StalePolicy string

const (
	// ApplyAlways dispatches and speaks every result.
	ApplyAlways StalePolicy = "apply_always"
	// DiscardStale drops outdated results. They are still cached.
	DiscardStale StalePolicy = "discard_stale"
)

// IsValid reports whether p is a known policy.
func (p StalePolicy) IsValid() bool { return p == ApplyAlways || p == DiscardStale }

// Timings holds the re-arm delays of the session loop.
type Timings struct {
	// InitialDelay is the wait before the first listening window.
	InitialDelay time.Duration
	// RestartDelay follows a recogniser session that ended normally.
	RestartDelay time.Duration
	// ErrorRestartDelay follows a recogniser error.
	ErrorRestartDelay time.Duration
	// SpeechCooldown follows the end of playback.
	SpeechCooldown time.Duration
	// ActionPause is the minimum quiet time after an applied command.
	ActionPause time.Duration
}

// DefaultTimings returns the stock delays.
func DefaultTimings() Timings {
	return Timings{
		InitialDelay:      10 * time.Second,
		RestartDelay:      time.Second,
		ErrorRestartDelay: 3 * time.Second,
		SpeechCooldown:    1500 * time.Millisecond,
		ActionPause:       3 * time.Second,
	}
}

// Default phrases.
const (
	DefaultFallback     = "Sorry, I couldn't understand that."
	DefaultStopConfirm  = "Okay, I will stop listening."
	DefaultStartConfirm = "I'm listening now."
)

// Config configures a [Machine].
type Config struct {
	Timings Timings

	// VoiceToggle enables the "stop listening"/"start listening" phrases.
	VoiceToggle bool

	// FuzzyToggle accepts near misses of the toggle phrases.
	FuzzyToggle bool

	StalePolicy StalePolicy

	// Greeting is spoken on mount. Empty skips it.
	Greeting string

	Fallback     string
	StopConfirm  string
	StartConfirm string

	HistorySize int
	CacheSize   int

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	zero := Timings{}
	if c.Timings == zero {
		c.Timings = DefaultTimings()
	}
	if !c.StalePolicy.IsValid() {
		c.StalePolicy = ApplyAlways
	}
	if c.Fallback == "" {
		c.Fallback = DefaultFallback
	}
	if c.StopConfirm == "" {
		c.StopConfirm = DefaultStopConfirm
	}
	if c.StartConfirm == "" {
		c.StartConfirm = DefaultStartConfirm
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Snapshot is a read-only view of the machine state.
type Snapshot struct {
	Phase          Phase      `json:"phase"`
	MicOn          bool       `json:"micOn"`
	LastTranscript string     `json:"lastTranscript,omitempty"`
	Generation     uint64     `json:"generation"`
	SpeechID       string     `json:"speechId,omitempty"`
	Reply          string     `json:"reply,omitempty"`
	History        []Exchange `json:"history"`

	// Heard counts every transcript event received, including ignored ones.
	Heard uint64 `json:"heard"`
}

// Machine is the session reducer. Step consumes one event and returns the
// effects to execute. Machine performs no I/O and is not safe for concurrent
// use; the [Session] runtime serialises access.
type Machine struct {
	cfg     Config
	cache   *cache.LRU
	toggles *voicecmd.Matcher
	history *History

	mounted  bool
	phase    Phase
	micOn    bool
	last     string
	heard    uint64
	gen      uint64
	speechID string
	speaking string

	// armTimer is the id of the only timer allowed to start recognition.
	armTimer   uint64
	nextTimer  uint64
	nextSpeech uint64
	holdUntil  time.Time
}

// NewMachine returns a Machine in the Idle phase with the mic off. Send
// [Mounted] to start it.
func NewMachine(cfg Config) *Machine {
	cfg.applyDefaults()
	m := &Machine{
		cfg:     cfg,
		cache:   cache.NewLRU(cfg.CacheSize),
		history: NewHistory(cfg.HistorySize),
	}
	if cfg.VoiceToggle {
		var opts []voicecmd.Option
		if cfg.FuzzyToggle {
			opts = append(opts, voicecmd.WithFuzzy(0))
		}
		m.toggles = voicecmd.New(opts...)
	}
	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// MicOn reports whether the microphone is enabled.
func (m *Machine) MicOn() bool { return m.micOn }

// Cache exposes the session command cache.
func (m *Machine) Cache() *cache.LRU { return m.cache }

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Phase:          m.phase,
		MicOn:          m.micOn,
		LastTranscript: m.last,
		Generation:     m.gen,
		SpeechID:       m.speechID,
		Heard:          m.heard,
		Reply:          m.speaking,
		History:        m.history.Entries(),
	}
}

// Step applies ev and returns the resulting effects in execution order.
func (m *Machine) Step(ev Event) []Effect {
	if m.phase == Closed {
		return nil
	}

	switch e := ev.(type) {
	case Mounted:
		return m.onMounted()
	case Unmounted:
		m.phase = Closed
		m.armTimer = 0
		m.speechID = ""
		return []Effect{CancelTimers{}, StopRecognition{}, CancelSpeech{}}
	case ListeningStarted:
		if m.phase != Listening {
			// Late start after the session moved on.
			return []Effect{StopRecognition{}}
		}
		return nil
	case ListeningEnded:
		if m.phase != Listening {
			return nil
		}
		m.phase = Idle
		return m.rearm(m.cfg.Timings.RestartDelay, "ended")
	case RecognitionFailed:
		if e.Code == "aborted" || m.phase != Listening {
			return nil
		}
		m.phase = Idle
		return m.rearm(m.cfg.Timings.ErrorRestartDelay, "error:"+e.Code)
	case TimerFired:
		return m.onTimer(e.ID)
	case TranscriptReceived:
		m.heard++
		return m.onTranscript(e.Text)
	case Classified:
		return m.onClassified(e)
	case ClassificationFailed:
		return m.onClassificationFailed(e)
	case SpeechEnded:
		return m.onSpeechDone(e.ID)
	case SpeechFailed:
		return m.onSpeechDone(e.ID)
	case MicToggled:
		return m.onMic(e.On)
	case HistoryCleared:
		m.history.Clear()
		return nil
	default:
		slog.Warn("assistant: unknown event", "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (m *Machine) onMounted() []Effect {
	if m.mounted {
		return nil
	}
	m.mounted = true
	m.micOn = true
	m.holdUntil = m.cfg.Now().Add(m.cfg.Timings.InitialDelay)
	if m.cfg.Greeting != "" {
		return m.speak(m.cfg.Greeting)
	}
	return m.arm(m.cfg.Timings.InitialDelay, "initial")
}

func (m *Machine) onTimer(id uint64) []Effect {
	if id == 0 || id != m.armTimer {
		return nil
	}
	m.armTimer = 0
	if m.phase != Idle || !m.micOn {
		return nil
	}
	if wait := m.holdUntil.Sub(m.cfg.Now()); wait > 0 {
		return m.arm(wait, "hold")
	}
	m.phase = Listening
	return []Effect{StartRecognition{}}
}

func (m *Machine) onTranscript(raw string) []Effect {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	toggle := voicecmd.None
	if m.toggles != nil {
		toggle = m.toggles.Match(text)
	}

	if m.phase == Paused {
		if toggle == voicecmd.StartListening && !m.micOn {
			m.micOn = true
			return m.speak(m.cfg.StartConfirm)
		}
		return nil
	}
	if m.phase != Listening {
		return nil
	}
	if text == m.last {
		return nil
	}
	m.last = text

	effects := []Effect{StopRecognition{}}
	m.phase = Idle

	switch toggle {
	case voicecmd.StopListening:
		m.micOn = false
		return append(effects, m.speak(m.cfg.StopConfirm)...)
	case voicecmd.StartListening:
		// Already listening; just continue.
		return append(effects, m.rearm(m.cfg.Timings.RestartDelay, "toggle")...)
	}

	if cmd, ok := m.cache.Get(text); ok {
		return append(effects, m.apply(text, cmd, true)...)
	}

	m.gen++
	m.phase = Processing
	return append(effects, Classify{Gen: m.gen, Utterance: text})
}

// stale reports whether a result for gen should be treated as outdated.
func (m *Machine) stale(gen uint64) bool {
	return gen != m.gen || m.phase != Processing
}

func (m *Machine) onClassified(e Classified) []Effect {
	if e.Command.Validate() != nil {
		return m.onClassificationFailed(ClassificationFailed{
			Gen:       e.Gen,
			Utterance: e.Utterance,
			Err:       e.Command.Validate(),
		})
	}
	m.cache.Put(e.Utterance, e.Command)

	if m.stale(e.Gen) {
		if m.cfg.StalePolicy == DiscardStale {
			slog.Debug("assistant: discarding stale classification",
				"gen", e.Gen, "latest", m.gen, "phase", m.phase)
			return nil
		}
	}

	var effects []Effect
	if m.phase == Listening {
		effects = append(effects, StopRecognition{})
	}
	return append(effects, m.apply(e.Utterance, e.Command, false)...)
}

func (m *Machine) onClassificationFailed(e ClassificationFailed) []Effect {
	if m.stale(e.Gen) && m.cfg.StalePolicy == DiscardStale {
		return nil
	}

	var effects []Effect
	if m.phase == Listening {
		effects = append(effects, StopRecognition{})
	}
	m.holdUntil = time.Time{}
	return append(effects, m.speak(m.cfg.Fallback)...)
}

// apply dispatches cmd, records it and speaks its response. Listening stays
// suppressed for at least ActionPause afterwards.
func (m *Machine) apply(utterance string, cmd command.Command, cached bool) []Effect {
	m.history.Add(Exchange{User: utterance, Assistant: cmd.Response, At: m.cfg.Now()})
	m.holdUntil = m.cfg.Now().Add(m.cfg.Timings.ActionPause)

	effects := []Effect{Dispatch{Command: cmd, Cached: cached}}
	if cmd.Response == "" {
		m.phase = Idle
		return append(effects, m.afterSpeech()...)
	}
	return append(effects, m.speak(cmd.Response)...)
}

func (m *Machine) speak(text string) []Effect {
	m.nextSpeech++
	m.speechID = fmt.Sprintf("s%d", m.nextSpeech)
	m.speaking = text
	m.phase = Speaking
	m.armTimer = 0
	return []Effect{Speak{ID: m.speechID, Text: text}}
}

func (m *Machine) onSpeechDone(id string) []Effect {
	if m.phase != Speaking || id != m.speechID {
		return nil
	}
	m.speechID = ""
	m.speaking = ""
	return m.afterSpeech()
}

func (m *Machine) afterSpeech() []Effect {
	if !m.micOn {
		m.phase = Paused
		return nil
	}
	m.phase = Idle
	delay := m.cfg.Timings.SpeechCooldown
	if wait := m.holdUntil.Sub(m.cfg.Now()); wait > delay {
		delay = wait
	}
	return m.arm(delay, "speech")
}

func (m *Machine) onMic(on bool) []Effect {
	if on == m.micOn {
		return nil
	}
	m.micOn = on

	if !on {
		m.armTimer = 0
		switch m.phase {
		case Listening:
			m.phase = Paused
			return []Effect{CancelTimers{}, StopRecognition{}}
		case Idle, Processing:
			m.phase = Paused
			return []Effect{CancelTimers{}}
		}
		// Speaking finishes its utterance, then lands in Paused.
		return []Effect{CancelTimers{}}
	}

	if m.phase == Paused {
		m.phase = Listening
		return []Effect{StartRecognition{}}
	}
	return nil
}

// rearm schedules the next listening window if the mic is on.
func (m *Machine) rearm(d time.Duration, reason string) []Effect {
	if !m.micOn {
		return nil
	}
	return m.arm(d, reason)
}

func (m *Machine) arm(d time.Duration, reason string) []Effect {
	m.nextTimer++
	m.armTimer = m.nextTimer
	return []Effect{Schedule{ID: m.armTimer, Delay: d, Reason: reason}}
}
