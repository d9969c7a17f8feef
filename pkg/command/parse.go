package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ClassificationError reports that an utterance could not be turned into a
// [Command]: the backend was unreachable, it failed, or its reply was not a
// usable command.
type ClassificationError struct {
	// Utterance is the input that failed to classify. May be empty when the
	// failure happened before the utterance was known.
	Utterance string

	// Reason is a short human-readable description.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ClassificationError) Error() string {
	var b strings.Builder
	b.WriteString("command: classification failed")
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// AsClassificationError wraps err in a *ClassificationError unless it already
// is one, filling in the utterance when missing.
func AsClassificationError(utterance, reason string, err error) *ClassificationError {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		if ce.Utterance == "" {
			ce.Utterance = utterance
		}
		return ce
	}
	return &ClassificationError{Utterance: utterance, Reason: reason, Err: err}
}

// Parse extracts a Command from a model reply. Markdown code fences and any
// prose around the first JSON object are ignored. A reply without a JSON
// object, with malformed JSON, or with an empty type yields a
// *ClassificationError.
func Parse(reply string) (Command, error) {
	raw, ok := extractObject(reply)
	if !ok {
		return Command{}, &ClassificationError{Reason: "no JSON object in reply"}
	}

	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return Command{}, &ClassificationError{Reason: "malformed JSON", Err: err}
	}

	cmd.Type = Type(strings.TrimSpace(string(cmd.Type)))
	cmd.UserInput = strings.TrimSpace(cmd.UserInput)
	cmd.Response = strings.TrimSpace(cmd.Response)
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// extractObject returns the first balanced {...} span of s, honouring JSON
// string literals so braces inside strings do not end the object early.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// String renders c for logs.
func (c Command) String() string {
	return fmt.Sprintf("%s(%q)", c.Type, c.UserInput)
}
