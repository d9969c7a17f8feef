package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Output drives a [Synthesizer] so that at most one utterance is audible:
// starting a new utterance cancels the one in progress.
type Output struct {
	syn  Synthesizer
	lang string

	mu      sync.Mutex
	voices  []Voice
	current string
}

// NewOutput wraps syn. lang is the preferred voice locale, e.g. "hi-IN".
func NewOutput(syn Synthesizer, lang string) *Output {
	return &Output{syn: syn, lang: lang}
}

// LoadVoices queries the engine for its voice list.
func (o *Output) LoadVoices(ctx context.Context) error {
	vs, err := o.syn.Voices(ctx)
	if err != nil {
		return fmt.Errorf("speech: list voices: %w", err)
	}
	o.SetVoices(vs)
	return nil
}

// SetVoices replaces the known voice list. Engines that load voices lazily
// report them this way.
func (o *Output) SetVoices(vs []Voice) {
	o.mu.Lock()
	o.voices = append([]Voice(nil), vs...)
	o.mu.Unlock()
}

// SetLang changes the preferred voice locale.
func (o *Output) SetLang(lang string) {
	o.mu.Lock()
	o.lang = lang
	o.mu.Unlock()
}

// Voice returns the voice used for the preferred locale: an exact language
// match first, then a base-language match, else "" for the engine default.
func (o *Output) Voice() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return selectVoice(o.voices, o.lang)
}

func selectVoice(voices []Voice, lang string) string {
	if lang == "" {
		return ""
	}
	for _, v := range voices {
		if strings.EqualFold(v.Lang, lang) {
			return v.Name
		}
	}
	base, _, _ := strings.Cut(lang, "-")
	for _, v := range voices {
		vb, _, _ := strings.Cut(v.Lang, "-")
		if strings.EqualFold(vb, base) {
			return v.Name
		}
	}
	return ""
}

// Speak plays text under id, cancelling any utterance still in progress.
func (o *Output) Speak(ctx context.Context, id, text string) error {
	o.mu.Lock()
	busy := o.current != ""
	u := Utterance{ID: id, Text: text, Lang: o.lang, Voice: selectVoice(o.voices, o.lang)}
	o.current = id
	o.mu.Unlock()

	if busy {
		if err := o.syn.Cancel(ctx); err != nil {
			o.Finished(id)
			return &OutputError{ID: id, Err: fmt.Errorf("cancel previous utterance: %w", err)}
		}
	}
	if err := o.syn.Speak(ctx, u); err != nil {
		o.Finished(id)
		return &OutputError{ID: id, Err: err}
	}
	return nil
}

// Cancel stops the current utterance.
func (o *Output) Cancel(ctx context.Context) error {
	o.mu.Lock()
	busy := o.current != ""
	o.current = ""
	o.mu.Unlock()

	if !busy {
		return nil
	}
	if err := o.syn.Cancel(ctx); err != nil {
		return fmt.Errorf("speech: cancel: %w", err)
	}
	return nil
}

// Finished records the completion of id. It reports whether id was the
// current utterance.
func (o *Output) Finished(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == "" || o.current != id {
		return false
	}
	o.current = ""
	return true
}

// Speaking reports whether an utterance is in progress.
func (o *Output) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != ""
}
