package command_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxassist/pkg/command"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		want    command.Command
		wantErr bool
	}{
		{
			name:  "plain object",
			reply: `{"type":"youtube-search","userInput":"cats","response":"Searching YouTube for cats."}`,
			want:  command.Command{Type: command.YouTubeSearch, UserInput: "cats", Response: "Searching YouTube for cats."},
		},
		{
			name:  "fenced",
			reply: "```json\n{\"type\":\"get-time\",\"userInput\":\"\",\"response\":\"It is 3 PM.\"}\n```",
			want:  command.Command{Type: command.GetTime, Response: "It is 3 PM."},
		},
		{
			name:  "prose around object",
			reply: `Sure! {"type":"general","userInput":"hi","response":"Hello {there}"} Hope that helps.`,
			want:  command.Command{Type: command.General, UserInput: "hi", Response: "Hello {there}"},
		},
		{
			name:  "unknown type is accepted",
			reply: `{"type":"teleport","userInput":"mars","response":"I can't do that yet."}`,
			want:  command.Command{Type: "teleport", UserInput: "mars", Response: "I can't do that yet."},
		},
		{
			name:    "missing type",
			reply:   `{"userInput":"cats","response":"ok"}`,
			wantErr: true,
		},
		{
			name:    "no object",
			reply:   "I am not sure.",
			wantErr: true,
		},
		{
			name:    "unterminated",
			reply:   `{"type":"general"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := command.Parse(tt.reply)
			if tt.wantErr {
				var ce *command.ClassificationError
				if !errors.As(err, &ce) {
					t.Fatalf("Parse() error = %v, want *ClassificationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTypeIsKnown(t *testing.T) {
	t.Parallel()

	for _, typ := range command.Taxonomy() {
		if !typ.IsKnown() {
			t.Errorf("%q should be known", typ)
		}
	}
	if !command.YouTubeOpen.IsKnown() {
		t.Error("youtube-open alias should be known")
	}
	if command.Type("teleport").IsKnown() {
		t.Error("teleport should not be known")
	}
	if got := len(command.Taxonomy()); got != 24 {
		t.Errorf("taxonomy size = %d, want 24", got)
	}
}

func TestTypeIsTimeDependent(t *testing.T) {
	t.Parallel()

	for _, typ := range []command.Type{command.GetTime, command.GetDate, command.GetDay, command.GetMonth} {
		if !typ.IsTimeDependent() {
			t.Errorf("%q should be time dependent", typ)
		}
	}
	if command.GoogleSearch.IsTimeDependent() {
		t.Error("google-search should not be time dependent")
	}
}

func TestAsClassificationError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	ce := command.AsClassificationError("hello", "provider failed", cause)
	if !errors.Is(ce, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
	if ce.Utterance != "hello" {
		t.Errorf("Utterance = %q, want hello", ce.Utterance)
	}

	again := command.AsClassificationError("other", "x", ce)
	if again != ce {
		t.Error("existing ClassificationError should be returned as-is")
	}
}
