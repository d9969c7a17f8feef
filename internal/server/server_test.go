package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voxassist/internal/assistant"
	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/health"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/server"
	"github.com/MrWong99/voxassist/pkg/command"
)

// fakeClassifier records the personas it was asked to classify as.
type fakeClassifier struct {
	mu       sync.Mutex
	personas []classifier.Persona
	cmd      command.Command
	err      error
}

func (f *fakeClassifier) Persona() classifier.Persona {
	return classifier.Persona{}.WithDefaults()
}

func (f *fakeClassifier) ClassifyAs(_ context.Context, p classifier.Persona, _ string) (command.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.personas = append(f.personas, p)
	return f.cmd, f.err
}

func (f *fakeClassifier) Personas() []classifier.Persona {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]classifier.Persona(nil), f.personas...)
}

var catsCmd = command.Command{Type: command.YouTubeSearch, UserInput: "cats", Response: "Here's what I found"}

func newTestServer(t *testing.T, cls classifier.PersonaClassifier) (*server.Server, *httptest.Server) {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	fast := 5 * time.Millisecond
	s, err := server.New(server.Config{
		Classifier: cls,
		Session: assistant.SessionConfig{
			Machine: assistant.Config{
				Timings: assistant.Timings{
					InitialDelay:      fast,
					RestartDelay:      fast,
					ErrorRestartDelay: fast,
					SpeechCooldown:    fast,
					ActionPause:       fast,
				},
				VoiceToggle: true,
			},
			Metrics: met,
		},
		Health:  health.New(),
		Metrics: met,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, srv
}

func postClassify(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/classify", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/classify: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ── HTTP API ─────────────────────────────────────────────────────────────────

func TestNew_RequiresClassifier(t *testing.T) {
	t.Parallel()
	if _, err := server.New(server.Config{}); err == nil {
		t.Fatal("expected error without classifier")
	}
}

func TestClassify_OK(t *testing.T) {
	t.Parallel()
	cls := &fakeClassifier{cmd: catsCmd}
	_, srv := newTestServer(t, cls)

	resp := postClassify(t, srv, `{"utterance":"search cats on youtube","assistantName":"Jarvis","locale":"hi-IN"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got command.Command
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != catsCmd {
		t.Errorf("command = %+v", got)
	}
	if p := cls.Personas(); len(p) != 1 || p[0].AssistantName != "Jarvis" || p[0].Locale != "hi-IN" {
		t.Errorf("personas = %+v", p)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == server.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Error("session cookie not set")
	}
}

func TestClassify_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		classErr   error
		wantStatus int
	}{
		{"bad json", `{"utterance":`, nil, http.StatusBadRequest},
		{"empty utterance", `{"utterance":"   "}`, nil, http.StatusBadRequest},
		{"classifier failed", `{"utterance":"hello"}`, errors.New("upstream 500"), http.StatusBadGateway},
		{
			"classification error",
			`{"utterance":"hello"}`,
			&command.ClassificationError{Reason: "no JSON object in reply"},
			http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, srv := newTestServer(t, &fakeClassifier{err: tt.classErr})

			resp := postClassify(t, srv, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var e classifier.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				t.Fatal(err)
			}
			if e.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestClassify_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})

	resp, err := http.Get(srv.URL + "/api/classify")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})

	resp, err := http.Get(srv.URL + "/api/auth/logout")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	var expired bool
	for _, c := range resp.Cookies() {
		if c.Name == server.SessionCookie && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Error("logout did not expire the session cookie")
	}
}

// TestRemoteRoundTrip drives the HTTP client against the real handler.
func TestRemoteRoundTrip(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})

	r, err := classifier.NewRemote(srv.URL, classifier.Persona{AssistantName: "Jarvis"})
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := r.Classify(context.Background(), "search cats on youtube")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cmd != catsCmd {
		t.Errorf("command = %+v", cmd)
	}
	if err := r.Logout(context.Background()); err != nil {
		t.Errorf("Logout: %v", err)
	}
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Correlation-ID") == "" {
			t.Errorf("GET %s: missing correlation id", path)
		}
	}
}

// ── WebSocket bridge ─────────────────────────────────────────────────────────

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func dialSession(t *testing.T, srv *httptest.Server, query string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session" + query
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &wsClient{t: t, conn: conn, ctx: ctx}
}

func (c *wsClient) send(m server.ClientMessage) {
	c.t.Helper()
	if err := wsjson.Write(c.ctx, c.conn, m); err != nil {
		c.t.Fatalf("write %s: %v", m.Type, err)
	}
}

// expect reads frames until one of type typ arrives. State frames and other
// types are skipped; the skipped types are returned for inspection.
func (c *wsClient) expect(typ string) (server.ServerMessage, []string) {
	c.t.Helper()
	var skipped []string
	for {
		var m server.ServerMessage
		if err := wsjson.Read(c.ctx, c.conn, &m); err != nil {
			c.t.Fatalf("waiting for %s (skipped %v): %v", typ, skipped, err)
		}
		if m.Type == typ {
			return m, skipped
		}
		skipped = append(skipped, m.Type)
	}
}

func TestSession_YouTubeOverWebSocket(t *testing.T) {
	t.Parallel()
	cls := &fakeClassifier{cmd: catsCmd}
	_, srv := newTestServer(t, cls)
	c := dialSession(t, srv, "?assistantName=Jarvis&locale=hi-IN")

	c.send(server.ClientMessage{Type: server.MsgVoices, Voices: nil})
	c.expect(server.MsgStartRecognition)
	c.send(server.ClientMessage{Type: server.MsgListeningStarted})
	c.send(server.ClientMessage{Type: server.MsgTranscript, Text: "search cats on youtube"})

	open, _ := c.expect(server.MsgOpen)
	if open.URL != "https://www.youtube.com/results?search_query=cats" {
		t.Errorf("open url = %q", open.URL)
	}
	speak, _ := c.expect(server.MsgSpeak)
	if speak.Text != "Here's what I found" || speak.ID == "" {
		t.Errorf("speak = %+v", speak)
	}
	if speak.Lang != "hi-IN" {
		t.Errorf("speak lang = %q, want locale from query", speak.Lang)
	}

	c.send(server.ClientMessage{Type: server.MsgListeningEnded})
	c.send(server.ClientMessage{Type: server.MsgSpeechEnded, ID: speak.ID})
	c.expect(server.MsgStartRecognition)

	if p := cls.Personas(); len(p) != 1 || p[0].AssistantName != "Jarvis" {
		t.Errorf("personas = %+v", p)
	}
}

func TestSession_StateFrames(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})
	c := dialSession(t, srv, "")

	c.expect(server.MsgStartRecognition)
	c.send(server.ClientMessage{Type: server.MsgListeningStarted})

	for {
		st, _ := c.expect(server.MsgState)
		if st.State == nil {
			t.Fatal("state frame without snapshot")
		}
		if st.State.Phase == assistant.Listening {
			if !st.State.MicOn {
				t.Error("mic should be on while listening")
			}
			return
		}
	}
}

func TestSession_MicOffStopsRecognition(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})
	c := dialSession(t, srv, "")

	c.expect(server.MsgStartRecognition)
	c.send(server.ClientMessage{Type: server.MsgListeningStarted})

	off := false
	c.send(server.ClientMessage{Type: server.MsgMic, On: &off})
	c.expect(server.MsgStopRecognition)
}

func TestSession_VoiceResumeWhilePaused(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})
	c := dialSession(t, srv, "")

	c.expect(server.MsgStartRecognition)
	c.send(server.ClientMessage{Type: server.MsgListeningStarted})
	c.send(server.ClientMessage{Type: server.MsgTranscript, Text: "stop listening"})
	c.expect(server.MsgStopRecognition)
	stop, _ := c.expect(server.MsgSpeak)
	if stop.Text != assistant.DefaultStopConfirm {
		t.Fatalf("speak = %q, want stop confirmation", stop.Text)
	}
	c.send(server.ClientMessage{Type: server.MsgListeningEnded})
	c.send(server.ClientMessage{Type: server.MsgSpeechEnded, ID: stop.ID})

	// A standby recogniser in the client keeps sending transcripts.
	c.send(server.ClientMessage{Type: server.MsgTranscript, Text: "Start listening!"})
	start, skipped := c.expect(server.MsgSpeak)
	if start.Text != assistant.DefaultStartConfirm {
		t.Fatalf("speak = %q, want start confirmation", start.Text)
	}
	if slices.Contains(skipped, server.MsgStartRecognition) {
		t.Error("recognition restarted before the confirmation was spoken")
	}
	c.send(server.ClientMessage{Type: server.MsgSpeechEnded, ID: start.ID})
	c.expect(server.MsgStartRecognition)
}

func TestSession_ServerCloseEndsSessions(t *testing.T) {
	t.Parallel()
	s, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})
	c := dialSession(t, srv, "")
	c.expect(server.MsgStartRecognition)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for {
		var m server.ServerMessage
		err := wsjson.Read(c.ctx, c.conn, &m)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusNormalClosure {
			t.Errorf("close status = %v (err %v), want normal closure", got, err)
		}
		return
	}
}

func TestSession_RejectedAfterClose(t *testing.T) {
	t.Parallel()
	s, srv := newTestServer(t, &fakeClassifier{cmd: catsCmd})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("Dial succeeded after Close")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}
