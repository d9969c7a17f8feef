// Package voicecmd recognises the global voice shortcuts that toggle the
// microphone ("stop listening", "start listening") before an utterance reaches
// the classifier.
//
// Matching is case-insensitive and ignores surrounding whitespace and trailing
// punctuation added by recognisers. With fuzzy matching enabled, near misses
// such as "stop listning" are accepted when their Jaro-Winkler similarity to a
// phrase reaches the configured threshold.
package voicecmd

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Toggle is the effect of a recognised voice command.
type Toggle int

const (
	// None means the utterance is not a voice command.
	None Toggle = iota
	// StopListening turns the microphone off.
	StopListening
	// StartListening turns the microphone on.
	StartListening
)

func (t Toggle) String() string {
	switch t {
	case StopListening:
		return "stop-listening"
	case StartListening:
		return "start-listening"
	default:
		return "none"
	}
}

const defaultFuzzyThreshold = 0.92

// Pattern pairs a compiled regex with the toggle it triggers.
type Pattern struct {
	// Regex is matched against the normalised utterance.
	Regex *regexp.Regexp

	// Phrase is the canonical wording, used for fuzzy comparison.
	Phrase string

	Toggle Toggle
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithFuzzy enables Jaro-Winkler matching against the canonical phrases.
// A threshold <= 0 keeps the default of 0.92.
func WithFuzzy(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzy = true
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// Matcher checks utterances against the voice command patterns. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	patterns  []Pattern
	fuzzy     bool
	threshold float64
}

// New returns a Matcher with the built-in patterns.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		patterns:  defaultPatterns(),
		threshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the toggle text triggers, or [None].
func (m *Matcher) Match(text string) Toggle {
	norm := normalise(text)
	if norm == "" {
		return None
	}

	for _, p := range m.patterns {
		if p.Regex.MatchString(norm) {
			return p.Toggle
		}
	}

	if !m.fuzzy {
		return None
	}

	best, bestScore := None, 0.0
	for _, p := range m.patterns {
		score := matchr.JaroWinkler(norm, p.Phrase, false)
		if score > bestScore {
			best, bestScore = p.Toggle, score
		}
	}
	if bestScore >= m.threshold {
		return best
	}
	return None
}

func normalise(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, ".!?, ")
	return strings.Join(strings.Fields(s), " ")
}

func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Regex:  regexp.MustCompile(`^stop listening$`),
			Phrase: "stop listening",
			Toggle: StopListening,
		},
		{
			Regex:  regexp.MustCompile(`^start listening$`),
			Phrase: "start listening",
			Toggle: StartListening,
		},
	}
}
