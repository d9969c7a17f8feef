package assistant

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxassist/internal/dispatch"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/internal/speech"
	"github.com/MrWong99/voxassist/internal/speech/mock"
	"github.com/MrWong99/voxassist/pkg/command"
)

type classifierFunc func(ctx context.Context, utterance string) (command.Command, error)

func (f classifierFunc) Classify(ctx context.Context, u string) (command.Command, error) {
	return f(ctx, u)
}

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *recordingOpener) Open(_ context.Context, rawURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, rawURL)
	return nil
}

func (o *recordingOpener) URLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.urls)
}

func fastTimings() Timings {
	return Timings{
		InitialDelay:      5 * time.Millisecond,
		RestartDelay:      5 * time.Millisecond,
		ErrorRestartDelay: 5 * time.Millisecond,
		SpeechCooldown:    5 * time.Millisecond,
		ActionPause:       5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type sessionFixture struct {
	sess   *Session
	rec    *mock.Recognizer
	syn    *mock.Synthesizer
	opener *recordingOpener
	reader *sdkmetric.ManualReader
	cancel context.CancelFunc
}

func newSessionFixture(t *testing.T, cls Classifier, mutate func(*SessionConfig)) *sessionFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &sessionFixture{
		rec:    &mock.Recognizer{},
		syn:    &mock.Synthesizer{VoiceList: []speech.Voice{{Name: "Lekha", Lang: "hi-IN"}}},
		opener: &recordingOpener{},
		reader: reader,
	}
	cfg := SessionConfig{
		ID:          "test-session",
		Machine:     Config{Timings: fastTimings(), VoiceToggle: true},
		Recognizer:  f.rec,
		Synthesizer: f.syn,
		Classifier:  cls,
		Dispatcher:  dispatch.New(f.opener),
		VoiceLocale: "hi-IN",
		Metrics:     met,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sess, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	f.sess = sess
	// Playback completes as soon as it starts.
	f.syn.OnSpeak = func(u speech.Utterance) { go sess.SpeechEnded(u.ID) }

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { _ = sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-sess.Done()
	})
	return f
}

// startListening waits for the n-th recogniser start and reports it to the
// session the way an engine would.
func (f *sessionFixture) startListening(t *testing.T, n int) {
	t.Helper()
	waitFor(t, "recognition start", func() bool { return f.rec.Starts() >= n })
	f.sess.ListeningStarted()
}

func TestSession_YouTubeRoundTrip(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	cls := classifierFunc(func(_ context.Context, u string) (command.Command, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if u != "search cats on youtube" {
			t.Errorf("classified %q", u)
		}
		return catsCmd, nil
	})
	f := newSessionFixture(t, cls, nil)

	f.startListening(t, 1)
	f.sess.Transcript("search cats on youtube")

	waitFor(t, "dispatch", func() bool { return len(f.opener.URLs()) == 1 })
	if got := f.opener.URLs()[0]; got != "https://www.youtube.com/results?search_query=cats" {
		t.Errorf("opened %q", got)
	}
	waitFor(t, "reply", func() bool { return slices.Contains(f.syn.Texts(), "Here's what I found") })

	spoken := f.syn.Spoken()
	if spoken[0].Voice != "Lekha" || spoken[0].Lang != "hi-IN" {
		t.Errorf("utterance voice = %q/%q", spoken[0].Voice, spoken[0].Lang)
	}

	// Listening re-arms after playback.
	f.startListening(t, 2)
	waitFor(t, "listening phase", func() bool { return f.sess.Snapshot().Phase == Listening })
	if h := f.sess.Snapshot().History; len(h) != 1 || h[0].Assistant != "Here's what I found" {
		t.Errorf("history = %+v", h)
	}

	// Repeating the last utterance is ignored.
	mu.Lock()
	before := calls
	mu.Unlock()
	f.sess.Transcript("search cats on youtube")
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := calls
	mu.Unlock()
	if after != before {
		t.Errorf("duplicate utterance reached the classifier")
	}
}

func TestSession_ClassifierErrorSpeaksFallback(t *testing.T) {
	t.Parallel()

	cls := classifierFunc(func(context.Context, string) (command.Command, error) {
		return command.Command{}, errors.New("upstream 502")
	})
	f := newSessionFixture(t, cls, nil)

	f.startListening(t, 1)
	f.sess.Transcript("blorp")

	waitFor(t, "fallback", func() bool { return slices.Contains(f.syn.Texts(), DefaultFallback) })
	if urls := f.opener.URLs(); len(urls) != 0 {
		t.Errorf("failure dispatched %v", urls)
	}
	f.startListening(t, 2)
}

func TestSession_VoiceStopPausesRecognition(t *testing.T) {
	t.Parallel()

	cls := classifierFunc(func(context.Context, string) (command.Command, error) {
		t.Error("toggle phrase reached the classifier")
		return command.Command{}, nil
	})
	f := newSessionFixture(t, cls, nil)

	f.startListening(t, 1)
	f.sess.Transcript("stop listening")
	waitFor(t, "paused", func() bool { return f.sess.Snapshot().Phase == Paused })
	if f.sess.Snapshot().MicOn {
		t.Error("mic should be off")
	}

	// Engine noise while paused never restarts recognition.
	f.sess.ListeningEnded()
	f.sess.RecognitionError(speech.CodeNoSpeech)
	time.Sleep(30 * time.Millisecond)
	if n := f.rec.Starts(); n != 1 {
		t.Errorf("recognition started %d times while paused", n)
	}

	f.sess.SetMic(true)
	f.startListening(t, 2)
}

func TestSession_StartFailureRetries(t *testing.T) {
	t.Parallel()

	cls := classifierFunc(func(context.Context, string) (command.Command, error) {
		return command.Command{}, nil
	})
	f := newSessionFixture(t, cls, func(c *SessionConfig) {
		c.Recognizer.(*mock.Recognizer).StartErr = errors.New("mic busy")
	})

	waitFor(t, "retries", func() bool { return f.rec.Starts() >= 3 })
	if ph := f.sess.Snapshot().Phase; ph == Listening {
		t.Errorf("phase = %v after failed starts", ph)
	}
}

func TestSession_ShutdownWaitsForClassification(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	cls := classifierFunc(func(ctx context.Context, _ string) (command.Command, error) {
		close(entered)
		<-ctx.Done()
		return command.Command{}, ctx.Err()
	})
	f := newSessionFixture(t, cls, nil)

	f.startListening(t, 1)
	f.sess.Transcript("slow request")
	<-entered

	f.cancel()
	select {
	case <-f.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if ph := f.sess.Snapshot().Phase; ph != Closed {
		t.Errorf("phase = %v, want closed", ph)
	}
}

func TestSession_Metrics(t *testing.T) {
	t.Parallel()

	cls := classifierFunc(func(context.Context, string) (command.Command, error) {
		return catsCmd, nil
	})
	f := newSessionFixture(t, cls, nil)

	f.startListening(t, 1)
	f.sess.Transcript("search cats on youtube")
	waitFor(t, "dispatch", func() bool { return len(f.opener.URLs()) == 1 })

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := map[string]bool{
		"voxassist.dispatches":           false,
		"voxassist.cache.lookups":        false,
		"voxassist.classify.duration":    false,
		"voxassist.recognition.restarts": false,
		"voxassist.active_sessions":      false,
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if _, ok := want[m.Name]; ok {
				want[m.Name] = true
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestSession_OnState(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var phases []Phase
	cls := classifierFunc(func(context.Context, string) (command.Command, error) {
		return command.Command{Type: command.General, Response: "hi"}, nil
	})
	f := newSessionFixture(t, cls, func(c *SessionConfig) {
		c.OnState = func(s Snapshot) {
			mu.Lock()
			phases = append(phases, s.Phase)
			mu.Unlock()
		}
	})

	f.startListening(t, 1)
	f.sess.Transcript("hello")
	waitFor(t, "reply", func() bool { return slices.Contains(f.syn.Texts(), "hi") })

	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(phases, Listening) || !slices.Contains(phases, Processing) {
		t.Errorf("observed phases %v", phases)
	}
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewSession(SessionConfig{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"recognizer", "synthesizer", "classifier", "dispatcher"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
