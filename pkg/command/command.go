// Package command defines the structured intent produced by classifying a
// spoken utterance, together with the closed taxonomy of intent types the
// assistant knows how to act on.
//
// A Command is the lingua franca between the classifier, the command cache,
// the action dispatcher and the session loop. Types outside the taxonomy are
// still valid Commands: they carry a spoken response but open nothing.
package command

import "slices"

// Type is the intent tag of a [Command].
type Type string

// The command taxonomy.
const (
	General          Type = "general"
	GoogleSearch     Type = "google-search"
	YouTubeSearch    Type = "youtube-search"
	YouTubePlay      Type = "youtube-play"
	GetTime          Type = "get-time"
	GetDate          Type = "get-date"
	GetDay           Type = "get-day"
	GetMonth         Type = "get-month"
	CalculatorOpen   Type = "calculator-open"
	InstagramOpen    Type = "instagram-open"
	FacebookOpen     Type = "facebook-open"
	WeatherShow      Type = "weather-show"
	WikipediaSearch  Type = "wikipedia-search"
	Translate        Type = "translate"
	GmailOpen        Type = "gmail-open"
	MapsSearch       Type = "maps-search"
	NewsSearch       Type = "news-search"
	NotepadOpen      Type = "notepad-open"
	CurrencyConvert  Type = "currency-convert"
	Timer            Type = "timer"
	LinkedInOpen     Type = "linkedin-open"
	ChatGPTOpen      Type = "chatgpt-open"
	InstagramProfile Type = "instagram-profile"
	LinkedInProfile  Type = "linkedin-profile"

	// YouTubeOpen is a legacy alias emitted by older prompts. It behaves
	// like [YouTubeSearch].
	YouTubeOpen Type = "youtube-open"
)

var taxonomy = []Type{
	General, GoogleSearch, YouTubeSearch, YouTubePlay,
	GetTime, GetDate, GetDay, GetMonth,
	CalculatorOpen, InstagramOpen, FacebookOpen, WeatherShow,
	WikipediaSearch, Translate, GmailOpen, MapsSearch, NewsSearch,
	NotepadOpen, CurrencyConvert, Timer, LinkedInOpen, ChatGPTOpen,
	InstagramProfile, LinkedInProfile,
}

// Taxonomy returns the canonical intent types in prompt order. The legacy
// [YouTubeOpen] alias is not included.
func Taxonomy() []Type {
	return slices.Clone(taxonomy)
}

// IsKnown reports whether t is part of the taxonomy or a recognised alias.
func (t Type) IsKnown() bool {
	return t == YouTubeOpen || slices.Contains(taxonomy, t)
}

// IsTimeDependent reports whether the response for t depends on the current
// clock, which makes it unsafe to share across requests.
func (t Type) IsTimeDependent() bool {
	switch t {
	case GetTime, GetDate, GetDay, GetMonth:
		return true
	}
	return false
}

// Command is the structured result of classifying one utterance.
type Command struct {
	// Type is the intent tag. An empty Type is invalid.
	Type Type `json:"type"`

	// UserInput is the portion of the utterance relevant to the action, for
	// example the search query with the assistant's name removed.
	UserInput string `json:"userInput"`

	// Response is the short text the assistant speaks back.
	Response string `json:"response"`
}

// Validate returns a *ClassificationError when c has no type.
func (c Command) Validate() error {
	if c.Type == "" {
		return &ClassificationError{Reason: "missing command type"}
	}
	return nil
}
