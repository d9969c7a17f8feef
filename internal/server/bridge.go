package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxassist/internal/assistant"
	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/internal/speech"
)

// Client -> server message types. Transcripts are accepted in every phase:
// a client that keeps a recogniser running while the mic is paused can
// resume the session with "start listening".
const (
	MsgListeningStarted = "listening_started"
	MsgListeningEnded   = "listening_ended"
	MsgTranscript       = "transcript"
	MsgRecognitionError = "recognition_error"
	MsgSpeechEnded      = "speech_ended"
	MsgSpeechError      = "speech_error"
	MsgVoices           = "voices"
	MsgMic              = "mic"
	MsgClearHistory     = "clear_history"
)

// Server -> client message types.
const (
	MsgStartRecognition = "start_recognition"
	MsgStopRecognition  = "stop_recognition"
	MsgSpeak            = "speak"
	MsgCancelSpeech     = "cancel_speech"
	MsgOpen             = "open"
	MsgState            = "state"
)

// writeTimeout bounds a single frame write.
const writeTimeout = 5 * time.Second

// ClientMessage is a frame sent by the browser engine.
type ClientMessage struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Code   string         `json:"code,omitempty"`
	ID     string         `json:"id,omitempty"`
	Error  string         `json:"error,omitempty"`
	Voices []speech.Voice `json:"voices,omitempty"`
	On     *bool          `json:"on,omitempty"`
}

// ServerMessage is a frame sent to the browser engine.
type ServerMessage struct {
	Type  string              `json:"type"`
	ID    string              `json:"id,omitempty"`
	Text  string              `json:"text,omitempty"`
	Lang  string              `json:"lang,omitempty"`
	Voice string              `json:"voice,omitempty"`
	URL   string              `json:"url,omitempty"`
	State *assistant.Snapshot `json:"state,omitempty"`
}

var errBridgeClosed = errors.New("server: bridge closed")

// bridge is the speech engine, synthesiser and URL opener of one WebSocket
// session. Commands are queued for the writer goroutine; state snapshots are
// dropped when the queue is full.
type bridge struct {
	conn   *websocket.Conn
	out    chan ServerMessage
	closed chan struct{}
	log    *slog.Logger

	mu     sync.Mutex
	voices []speech.Voice
}

func newBridge(conn *websocket.Conn, log *slog.Logger) *bridge {
	return &bridge{
		conn:   conn,
		out:    make(chan ServerMessage, 32),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (b *bridge) send(m ServerMessage) error {
	select {
	case b.out <- m:
		return nil
	case <-b.closed:
		return errBridgeClosed
	}
}

// Start implements [speech.Recognizer].
func (b *bridge) Start(context.Context) error {
	return b.send(ServerMessage{Type: MsgStartRecognition})
}

// Stop implements [speech.Recognizer].
func (b *bridge) Stop(context.Context) error { return b.send(ServerMessage{Type: MsgStopRecognition}) }

// Speak implements [speech.Synthesizer].
func (b *bridge) Speak(_ context.Context, u speech.Utterance) error {
	return b.send(ServerMessage{Type: MsgSpeak, ID: u.ID, Text: u.Text, Lang: u.Lang, Voice: u.Voice})
}

// Cancel implements [speech.Synthesizer].
func (b *bridge) Cancel(context.Context) error { return b.send(ServerMessage{Type: MsgCancelSpeech}) }

// Voices implements [speech.Synthesizer]. Browsers usually load voices late
// and report them with a voices frame.
func (b *bridge) Voices(context.Context) ([]speech.Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]speech.Voice(nil), b.voices...), nil
}

// Open implements [dispatch.Opener].
func (b *bridge) Open(_ context.Context, rawURL string) error {
	return b.send(ServerMessage{Type: MsgOpen, URL: rawURL})
}

func (b *bridge) pushState(s assistant.Snapshot) {
	select {
	case b.out <- ServerMessage{Type: MsgState, State: &s}:
	default:
		b.log.Debug("server: state frame dropped")
	}
}

func (b *bridge) writeLoop(ctx context.Context) error {
	defer close(b.closed)
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, b.conn, m)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// readLoop relays client frames to sess until the client goes away.
func (b *bridge) readLoop(ctx context.Context, sess *assistant.Session) error {
	for {
		var m ClientMessage
		if err := wsjson.Read(ctx, b.conn, &m); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		b.relay(sess, m)
	}
}

func (b *bridge) relay(sess *assistant.Session, m ClientMessage) {
	switch m.Type {
	case MsgListeningStarted:
		sess.ListeningStarted()
	case MsgListeningEnded:
		sess.ListeningEnded()
	case MsgTranscript:
		sess.Transcript(m.Text)
	case MsgRecognitionError:
		sess.RecognitionError(m.Code)
	case MsgSpeechEnded:
		sess.SpeechEnded(m.ID)
	case MsgSpeechError:
		sess.SpeechFailed(m.ID, errors.New(m.Error))
	case MsgVoices:
		b.mu.Lock()
		b.voices = append([]speech.Voice(nil), m.Voices...)
		b.mu.Unlock()
		sess.SetVoices(m.Voices)
	case MsgMic:
		if m.On != nil {
			sess.SetMic(*m.On)
		}
	case MsgClearHistory:
		sess.ClearHistory()
	default:
		b.log.Warn("server: unknown client message", "type", m.Type)
	}
}

// handleSession handles GET /ws/session. Query parameters assistantName,
// creatorName and locale override the persona for this connection.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		slog.Warn("server: websocket accept failed", "err", err)
		return
	}

	q := r.URL.Query()
	persona := classifier.Persona{
		AssistantName: q.Get("assistantName"),
		CreatorName:   q.Get("creatorName"),
		Locale:        q.Get("locale"),
	}

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	scfg := s.cfg.Session
	scfg.ID = ""
	if persona.Locale != "" && scfg.VoiceLocale == "" {
		scfg.VoiceLocale = persona.Locale
	}

	b := newBridge(conn, slog.Default())
	scfg.Recognizer = b
	scfg.Synthesizer = b
	scfg.Classifier = classifier.Bound{C: s.cfg.Classifier, P: persona}
	scfg.Dispatcher = dispatch.New(b, s.cfg.Dispatch...)
	scfg.OnState = b.pushState

	sess, err := assistant.NewSession(scfg)
	if err != nil {
		slog.Error("server: create session", "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	b.log = slog.With("session_id", sess.ID())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.writeLoop(gctx) })
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error {
		// Closing the connection unblocks readLoop. Cancelling its context
		// instead would abort the close handshake.
		<-gctx.Done()
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return b.readLoop(context.WithoutCancel(gctx), sess)
	})

	if err := g.Wait(); err != nil {
		b.log.Info("server: session ended", "err", err)
	}
}

var (
	_ speech.Recognizer  = (*bridge)(nil)
	_ speech.Synthesizer = (*bridge)(nil)
	_ dispatch.Opener    = (*bridge)(nil)
)
