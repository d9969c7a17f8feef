package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// newGroup returns a group over the given names with a small failure budget.
func newGroup(t *testing.T, cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	t.Helper()
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 3
	}
	fg := NewFallbackGroup(names[0], names[0], cfg)
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failing  []string
		want     string
		wantErr  error
		wantSeen []string
	}{
		{name: "primary answers", want: "primary", wantSeen: []string{"primary"}},
		{name: "fails over in order", failing: []string{"primary"}, want: "secondary", wantSeen: []string{"primary", "secondary"}},
		{name: "skips to last", failing: []string{"primary", "secondary"}, want: "tertiary", wantSeen: []string{"primary", "secondary", "tertiary"}},
		{name: "all fail", failing: []string{"primary", "secondary", "tertiary"}, wantErr: ErrAllFailed, wantSeen: []string{"primary", "secondary", "tertiary"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(t, FallbackConfig{}, "primary", "secondary", "tertiary")

			var seen []string
			got, err := Do(context.Background(), fg, func(_ context.Context, v string) (string, error) {
				seen = append(seen, v)
				if slices.Contains(tt.failing, v) {
					return "", errTest
				}
				return v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want %v wrapping the last failure", err, tt.wantErr)
				}
			} else if err != nil || got != tt.want {
				t.Fatalf("Do = %q, %v; want %q", got, err, tt.want)
			}
			if !slices.Equal(seen, tt.wantSeen) {
				t.Errorf("tried %v, want %v", seen, tt.wantSeen)
			}
		})
	}
}

func TestDo_OpenBreakerIsSkipped(t *testing.T) {
	t.Parallel()

	var failures []string
	fg := newGroup(t, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
		OnFailure:      func(name string, _ error) { failures = append(failures, name) },
	}, "primary", "secondary")

	calls := map[string]int{}
	for range 4 {
		err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
			calls[v]++
			if v == "primary" {
				return errTest
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	if calls["primary"] != 2 || calls["secondary"] != 4 {
		t.Errorf("calls = %v, want primary 2 and secondary 4", calls)
	}
	if fg.States()["primary"] != StateOpen {
		t.Errorf("primary state = %v, want open", fg.States()["primary"])
	}
	// Two real failures plus two rejections by the open breaker.
	if len(failures) != 4 {
		t.Errorf("OnFailure called %d times, want 4", len(failures))
	}
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	t.Parallel()

	fg := newGroup(t, FallbackConfig{}, "primary", "secondary")
	ctx, cancel := context.WithCancel(context.Background())

	var seen []string
	_, err := Do(ctx, fg, func(ctx context.Context, v string) (string, error) {
		seen = append(seen, v)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if !slices.Equal(seen, []string{"primary"}) {
		t.Errorf("tried %v after cancellation", seen)
	}
	if fg.States()["primary"] != StateClosed {
		t.Error("a cancelled call must not count against the breaker")
	}

	if _, err := Do(ctx, fg, func(context.Context, string) (string, error) {
		t.Error("fn called with a done context")
		return "", nil
	}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFallbackGroup_NamesAndHealth(t *testing.T) {
	t.Parallel()

	fg := newGroup(t, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}},
		"gemini", "openai")
	if got := fg.Names(); !slices.Equal(got, []string{"gemini", "openai"}) {
		t.Errorf("Names() = %v", got)
	}
	if err := fg.Healthy(); err != nil {
		t.Errorf("Healthy() = %v on a fresh group", err)
	}

	_ = fg.Execute(context.Background(), func(context.Context, string) error { return errTest })
	if err := fg.Healthy(); !errors.Is(err, ErrAllFailed) {
		t.Errorf("Healthy() = %v, want ErrAllFailed with every circuit open", err)
	}
}
