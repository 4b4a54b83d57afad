package interfaces

import (
	"context"

	"github.com/ternarybob/plexus/internal/models"
)

// BrowserHandle is a live, controlled browser. It is only valid inside the
// callback passed to BrowserLauncher.WithBrowser. Every method fails with
// models.ErrAutomationFailed on timeout or navigation error.
type BrowserHandle interface {
	Navigate(url string) error
	// Traffic returns every request the browser made since acquisition
	Traffic() models.Trace
	Evaluate(script string, out interface{}) error
	Click(xpath string) error
	SendKeys(xpath, text string) error
	WaitVisible(xpath string) error
	PageHTML() (string, error)
	Title() (string, error)
	UserAgent() (string, error)
	SetCookie(name, value, domain string) error
}

// BrowserLauncher scopes a browser instance to a callback and tears it down
// (process and virtual display) on every exit path
type BrowserLauncher interface {
	WithBrowser(ctx context.Context, fn func(BrowserHandle) error) error
}
