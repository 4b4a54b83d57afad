package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/plexus/internal/models"
)

// handle is the per-session view of a running browser. Every action runs
// under its own step timeout derived from the session context.
type handle struct {
	ctx         context.Context
	stepTimeout time.Duration
	recorder    *recorder
}

func (h *handle) run(what string, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.stepTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrAutomationFailed, what, err)
	}
	return nil
}

func (h *handle) Navigate(url string) error {
	return h.run("navigate "+url, chromedp.Navigate(url))
}

func (h *handle) Traffic() models.Trace {
	return h.recorder.trace()
}

func (h *handle) Evaluate(script string, out interface{}) error {
	return h.run("evaluate", chromedp.Evaluate(script, out))
}

func (h *handle) Click(xpath string) error {
	return h.run("click "+xpath, chromedp.Click(xpath, chromedp.BySearch))
}

func (h *handle) SendKeys(xpath, text string) error {
	return h.run("send keys "+xpath, chromedp.SendKeys(xpath, text, chromedp.BySearch))
}

func (h *handle) WaitVisible(xpath string) error {
	return h.run("wait visible "+xpath, chromedp.WaitVisible(xpath, chromedp.BySearch))
}

func (h *handle) PageHTML() (string, error) {
	var html string
	err := h.run("read page", chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (h *handle) Title() (string, error) {
	var title string
	err := h.run("read title", chromedp.Title(&title))
	return title, err
}

func (h *handle) UserAgent() (string, error) {
	var ua string
	err := h.run("read user agent", chromedp.Evaluate(`navigator.userAgent`, &ua))
	return ua, err
}

func (h *handle) SetCookie(name, value, domain string) error {
	return h.run("set cookie "+name, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookie(name, value).
			WithDomain(domain).
			WithPath("/").
			WithSecure(true).
			Do(ctx)
	}))
}
