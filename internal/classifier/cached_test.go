package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxassist/internal/cache"
	"github.com/MrWong99/voxassist/pkg/command"
	llmmock "github.com/MrWong99/voxassist/pkg/provider/llm/mock"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) (command.Command, bool, error) {
	return command.Command{}, false, errors.New("redis down")
}

func (failingStore) Put(context.Context, string, command.Command) error {
	return errors.New("redis down")
}

func TestCached_ServesRepeats(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: reply(`{"type":"youtube-search","userInput":"cats","response":"Here's what I found"}`)}
	c := NewCached(newTestLLM(t, p, Persona{}), cache.NewMemory(16, time.Hour), testMetrics(t))

	for range 3 {
		cmd, err := c.Classify(context.Background(), "search cats on youtube")
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if cmd.UserInput != "cats" {
			t.Errorf("cmd = %+v", cmd)
		}
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}

	// Surrounding space does not matter; case does.
	if _, err := c.Classify(context.Background(), "  search cats on youtube "); err != nil {
		t.Fatal(err)
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("provider called %d times after trimmed repeat", n)
	}
	if _, err := c.Classify(context.Background(), "Search cats on YouTube"); err != nil {
		t.Fatal(err)
	}
	if n := len(p.Calls()); n != 2 {
		t.Errorf("provider called %d times, want a fresh call for different casing", n)
	}
}

func TestCached_PersonaPartitionsKeys(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: reply(`{"type":"general","response":"I'm here"}`)}
	c := NewCached(newTestLLM(t, p, Persona{AssistantName: "Jarvis"}), cache.NewMemory(16, time.Hour), testMetrics(t))

	ctx := context.Background()
	_, _ = c.Classify(ctx, "who are you")
	_, _ = c.ClassifyAs(ctx, Persona{AssistantName: "Friday"}, "who are you")
	_, _ = c.ClassifyAs(ctx, Persona{Locale: "hi-IN"}, "who are you")
	_, _ = c.ClassifyAs(ctx, Persona{AssistantName: "Jarvis"}, "who are you")

	if n := len(p.Calls()); n != 3 {
		t.Errorf("provider called %d times, want 3 (one per distinct persona)", n)
	}
}

func TestCached_SkipsTimeDependent(t *testing.T) {
	t.Parallel()

	for _, typ := range []command.Type{command.GetTime, command.GetDate, command.GetDay, command.GetMonth} {
		t.Run(string(typ), func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteResponse: reply(`{"type":"` + string(typ) + `","response":"now"}`)}
			c := NewCached(newTestLLM(t, p, Persona{}), cache.NewMemory(16, time.Hour), testMetrics(t))

			_, _ = c.Classify(context.Background(), "when")
			_, _ = c.Classify(context.Background(), "when")
			if n := len(p.Calls()); n != 2 {
				t.Errorf("provider called %d times, want 2", n)
			}
		})
	}
}

func TestCached_ErrorsNotStored(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("boom")}
	store := cache.NewMemory(16, time.Hour)
	c := NewCached(newTestLLM(t, p, Persona{}), store, testMetrics(t))

	if _, err := c.Classify(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
}

func TestCached_StoreFailureFallsThrough(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: reply(`{"type":"general","response":"hi"}`)}
	c := NewCached(newTestLLM(t, p, Persona{}), failingStore{}, testMetrics(t))

	cmd, err := c.Classify(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cmd.Response != "hi" {
		t.Errorf("cmd = %+v", cmd)
	}
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	a := CacheKey(Persona{AssistantName: "Jarvis", Locale: "en-US"}, "open gmail")
	b := CacheKey(Persona{AssistantName: "jarvis", Locale: "en-US"}, " open gmail ")
	c := CacheKey(Persona{AssistantName: "Jarvis", Locale: "hi-IN"}, "open gmail")
	if a != b {
		t.Errorf("keys differ for equivalent inputs: %q vs %q", a, b)
	}
	if a == c {
		t.Error("locale must partition keys")
	}
	p := Persona{AssistantName: "Jarvis"}
	if CacheKey(p, "open instagram profile of JaneDoe") == CacheKey(p, "open instagram profile of janedoe") {
		t.Error("utterance casing must partition keys")
	}
}
