// Package classifier turns utterances into [command.Command] values.
//
// [LLM] prompts a language model and parses its JSON reply. [Cached] puts a
// shared [cache.Store] in front of another classifier. [Remote] calls the
// /api/classify endpoint of a running voxassist server. All three are safe
// for concurrent use.
package classifier

import (
	"context"
	"strings"

	"github.com/MrWong99/voxassist/pkg/command"
)

// Default identity.
const (
	DefaultAssistantName = "Assistant"
	DefaultCreatorName   = "the voxassist team"
	DefaultLocale        = "en-US"
)

// Persona is the identity the assistant presents in its replies.
type Persona struct {
	// AssistantName is the name the assistant answers to. It is removed from
	// the extracted user input.
	AssistantName string `json:"assistantName,omitempty" yaml:"name"`

	// CreatorName is named when the user asks who built the assistant.
	CreatorName string `json:"creatorName,omitempty" yaml:"creator"`

	// Locale selects the reply language, e.g. "hi-IN" for Hindi.
	Locale string `json:"locale,omitempty" yaml:"locale"`

	// TimeZone is an IANA zone name used for the current time in the prompt.
	// Empty selects the local zone.
	TimeZone string `json:"-" yaml:"time_zone"`
}

// WithDefaults fills empty fields with the package defaults.
func (p Persona) WithDefaults() Persona {
	if p.AssistantName == "" {
		p.AssistantName = DefaultAssistantName
	}
	if p.CreatorName == "" {
		p.CreatorName = DefaultCreatorName
	}
	if p.Locale == "" {
		p.Locale = DefaultLocale
	}
	return p
}

// Merge returns p with every non-empty field of override applied.
func (p Persona) Merge(override Persona) Persona {
	if override.AssistantName != "" {
		p.AssistantName = override.AssistantName
	}
	if override.CreatorName != "" {
		p.CreatorName = override.CreatorName
	}
	if override.Locale != "" {
		p.Locale = override.Locale
	}
	if override.TimeZone != "" {
		p.TimeZone = override.TimeZone
	}
	return p
}

// key identifies the persona in shared cache keys. The time zone is left out
// because time-dependent commands are never shared.
func (p Persona) key() string {
	return strings.Join([]string{
		strings.ToLower(p.AssistantName),
		strings.ToLower(p.CreatorName),
		p.Locale,
	}, "\x1f")
}

// PersonaClassifier classifies on behalf of an explicit persona.
type PersonaClassifier interface {
	// Persona returns the current default persona.
	Persona() Persona
	// ClassifyAs classifies utterance with p instead of the default persona.
	ClassifyAs(ctx context.Context, p Persona, utterance string) (command.Command, error)
}

// Bound classifies with a fixed persona override. Fields left empty in P
// follow the wrapped classifier's persona, so a hot-swapped assistant name
// still applies to sessions that only override the locale.
type Bound struct {
	C PersonaClassifier
	P Persona
}

// Classify classifies utterance as b.P.
func (b Bound) Classify(ctx context.Context, utterance string) (command.Command, error) {
	return b.C.ClassifyAs(ctx, b.P, utterance)
}
