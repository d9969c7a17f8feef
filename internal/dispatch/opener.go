package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/browser"
)

// BrowserOpener opens URLs in the local default browser.
type BrowserOpener struct{}

// Open implements [Opener].
func (BrowserOpener) Open(_ context.Context, rawURL string) error {
	if err := browser.OpenURL(rawURL); err != nil {
		return fmt.Errorf("dispatch: open browser: %w", err)
	}
	return nil
}

// LogOpener only logs the URL. Useful for headless hosts.
type LogOpener struct{}

// Open implements [Opener].
func (LogOpener) Open(_ context.Context, rawURL string) error {
	slog.Info("dispatch: would open", "url", rawURL)
	return nil
}

var (
	_ Opener = BrowserOpener{}
	_ Opener = LogOpener{}
	_ Opener = OpenerFunc(nil)
)
