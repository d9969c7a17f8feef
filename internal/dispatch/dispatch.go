// Package dispatch maps a classified command to its external side effect:
// opening a URL in a new browsing context.
//
// Dispatch is fire-and-forget. Conversational and clock types open nothing,
// unknown types open nothing, and a failure to open a URL is logged but never
// reported back to the session loop.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"

	"github.com/MrWong99/voxassist/pkg/command"
)

// Placeholders recognised in URL templates.
const (
	// QueryPlaceholder is replaced by the query-escaped user input.
	QueryPlaceholder = "{query}"
	// SegmentPlaceholder is replaced by the path-escaped user input.
	SegmentPlaceholder = "{segment}"
)

// DefaultTemplates returns the built-in type -> URL template table.
func DefaultTemplates() map[command.Type]string {
	youtube := "https://www.youtube.com/results?search_query={query}"
	google := "https://www.google.com/search?q={query}"
	return map[command.Type]string{
		command.GoogleSearch:     google,
		command.YouTubeSearch:    youtube,
		command.YouTubePlay:      youtube,
		command.YouTubeOpen:      youtube,
		command.WikipediaSearch:  "https://en.wikipedia.org/wiki/Special:Search?search={query}",
		command.Translate:        "https://translate.google.com/?sl=auto&text={query}&op=translate",
		command.MapsSearch:       "https://www.google.com/maps/search/?api=1&query={query}",
		command.NewsSearch:       "https://news.google.com/search?q={query}",
		command.CurrencyConvert:  google,
		command.CalculatorOpen:   "https://www.google.com/search?q=calculator",
		command.WeatherShow:      "https://www.google.com/search?q=weather",
		command.Timer:            "https://www.google.com/search?q=timer",
		command.InstagramOpen:    "https://www.instagram.com/",
		command.FacebookOpen:     "https://www.facebook.com/",
		command.GmailOpen:        "https://mail.google.com/",
		command.LinkedInOpen:     "https://www.linkedin.com/",
		command.NotepadOpen:      "https://www.rapidtables.com/tools/notepad.html",
		command.ChatGPTOpen:      "https://chatgpt.com/",
		command.InstagramProfile: "https://www.instagram.com/{segment}",
		command.LinkedInProfile:  "https://www.linkedin.com/in/{segment}",
	}
}

// Opener opens a resolved URL. Implementations decide where: the local
// browser, a connected client, or a log line.
type Opener interface {
	Open(ctx context.Context, rawURL string) error
}

// OpenerFunc adapts a function to the [Opener] interface.
type OpenerFunc func(ctx context.Context, rawURL string) error

// Open calls f(ctx, rawURL).
func (f OpenerFunc) Open(ctx context.Context, rawURL string) error { return f(ctx, rawURL) }

// Dispatcher resolves Commands to URLs and hands them to an Opener.
// It is safe for concurrent use once constructed.
type Dispatcher struct {
	templates map[command.Type]string
	opener    Opener
	onOpen    func(command.Type)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTemplates overrides or extends the default templates. An empty template
// disables the type.
func WithTemplates(overrides map[string]string) Option {
	return func(d *Dispatcher) {
		for typ, tmpl := range overrides {
			if tmpl == "" {
				delete(d.templates, command.Type(typ))
				continue
			}
			d.templates[command.Type(typ)] = tmpl
		}
	}
}

// WithOpenHook registers fn to be called after every successful open.
func WithOpenHook(fn func(command.Type)) Option {
	return func(d *Dispatcher) {
		d.onOpen = fn
	}
}

// New creates a Dispatcher that opens URLs through opener.
func New(opener Opener, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		templates: DefaultTemplates(),
		opener:    opener,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Templates returns a copy of the active template table.
func (d *Dispatcher) Templates() map[command.Type]string {
	return maps.Clone(d.templates)
}

// Resolve returns the URL cmd maps to. ok is false when the type has no
// external action.
func (d *Dispatcher) Resolve(cmd command.Command) (string, bool) {
	tmpl, ok := d.templates[cmd.Type]
	if !ok {
		return "", false
	}
	return Expand(tmpl, cmd.UserInput), true
}

// Dispatch opens the URL for cmd, if any. It reports whether a URL was
// opened. Opener errors are logged and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) bool {
	target, ok := d.Resolve(cmd)
	if !ok {
		slog.Debug("dispatch: no action for type", "type", cmd.Type)
		return false
	}

	if err := d.opener.Open(ctx, target); err != nil {
		slog.Warn("dispatch: open failed",
			"type", cmd.Type,
			"url", target,
			"error", err,
		)
		return false
	}

	slog.Info("dispatch: opened", "type", cmd.Type, "url", target)
	if d.onOpen != nil {
		d.onOpen(cmd.Type)
	}
	return true
}

// Expand substitutes input into tmpl. Query values are escaped the way a
// browser's encodeURIComponent does (spaces become %20), path segments with
// [url.PathEscape].
func Expand(tmpl, input string) string {
	input = strings.TrimSpace(input)
	r := strings.NewReplacer(
		QueryPlaceholder, QueryEscape(input),
		SegmentPlaceholder, url.PathEscape(strings.TrimPrefix(input, "@")),
	)
	return r.Replace(tmpl)
}

// QueryEscape escapes s for use as a query value, encoding spaces as %20.
func QueryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ValidateTemplate reports whether tmpl expands to an absolute http(s) URL.
func ValidateTemplate(tmpl string) error {
	u, err := url.Parse(Expand(tmpl, "probe"))
	if err != nil {
		return fmt.Errorf("dispatch: invalid template %q: %w", tmpl, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("dispatch: template %q must use http or https", tmpl)
	}
	if u.Host == "" {
		return fmt.Errorf("dispatch: template %q has no host", tmpl)
	}
	return nil
}
