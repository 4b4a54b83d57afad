package signup

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
	"github.com/ternarybob/plexus/internal/services/extractor"
)

const (
	xpathSignUp           = `//div[normalize-space()='Sign Up']`
	xpathEmailInput       = `//input[@type='email']`
	xpathContinueWithMail = `//div[contains(text(), 'Continue with Email')]`
	xpathGenerateInbox    = `//*[@name='goBtn']`

	clearanceCookie = "cf_clearance"
)

// flow is one pass through both sites inside a single browser session
type flow struct {
	ctx     context.Context
	browser interfaces.BrowserHandle
	solver  interfaces.ChallengeSolver
	config  Config
	logger  arbor.ILogger
}

func (f *flow) pause() error {
	return common.ContextSleep(f.ctx, f.config.StepPause)
}

// acquireSite clears the challenge on the backend site and starts an email
// sign-in so the browser emits the authenticated request we copy
func (f *flow) acquireSite() (models.Bundle, error) {
	userAgent, err := f.browser.UserAgent()
	if err != nil {
		return models.Bundle{}, err
	}

	if err := f.browser.Navigate(f.config.SiteURL); err != nil {
		return models.Bundle{}, err
	}
	html, err := f.browser.PageHTML()
	if err != nil {
		return models.Bundle{}, err
	}

	siteKey := f.config.SiteKey
	if siteKey == "" {
		siteKey, err = DiscoverSiteKey(html)
		if err != nil {
			return models.Bundle{}, err
		}
		f.logger.Debug().Str("site_key", siteKey).Msg("Challenge site key discovered")
	}

	taskID, err := f.solver.SubmitChallenge(f.ctx, models.ChallengeTask{
		WebsiteURL:     f.config.SiteURL,
		WebsiteKey:     siteKey,
		Proxy:          f.config.Proxy,
		PageHTMLBase64: base64.StdEncoding.EncodeToString([]byte(html)),
		UserAgent:      userAgent,
	})
	if err != nil {
		return models.Bundle{}, err
	}
	token, err := f.solver.AwaitResult(f.ctx, taskID)
	if err != nil {
		return models.Bundle{}, err
	}

	if err := f.browser.SetCookie(clearanceCookie, token, cookieDomain(f.config.SiteURL)); err != nil {
		return models.Bundle{}, err
	}
	if err := f.browser.Navigate(f.config.SiteURL); err != nil {
		return models.Bundle{}, err
	}
	if title, err := f.browser.Title(); err == nil {
		f.logger.Debug().Str("title", title).Msg("Backend site loaded with clearance")
	}

	steps := []func() error{
		func() error { return f.browser.Click(xpathSignUp) },
		func() error { return f.browser.SendKeys(xpathEmailInput, f.config.SignupEmail) },
		func() error { return f.browser.Click(xpathContinueWithMail) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return models.Bundle{}, err
		}
		if err := f.pause(); err != nil {
			return models.Bundle{}, err
		}
	}

	trace, err := f.waitForTraffic(extractor.SiteCookieMatch)
	if err != nil {
		return models.Bundle{}, err
	}
	cookies, err := extractor.ExtractSiteCookies(trace, extractor.SiteCookieMatch)
	if err != nil {
		return models.Bundle{}, err
	}
	headers, err := extractor.ExtractSiteHeaders(trace, extractor.SiteTemplate(f.config.SiteURL))
	if err != nil {
		return models.Bundle{}, err
	}

	f.logger.Info().
		Strs("headers", headers.Names()).
		Strs("cookies", cookies.Names()).
		Msg("Backend site credentials captured")

	return models.Bundle{Headers: headers, Cookies: cookies}, nil
}

// acquireMail opens a disposable inbox and captures its polling request
func (f *flow) acquireMail() (models.Bundle, error) {
	if err := f.browser.Navigate(f.config.MailURL); err != nil {
		return models.Bundle{}, err
	}
	if err := f.browser.Click(xpathGenerateInbox); err != nil {
		return models.Bundle{}, err
	}

	trace, err := f.waitForTraffic(extractor.MailTrafficMatch)
	if err != nil {
		return models.Bundle{}, err
	}
	headers, err := extractor.ExtractSiteHeaders(trace, extractor.MailTemplate(f.config.MailURL))
	if err != nil {
		return models.Bundle{}, err
	}
	cookies, err := extractor.ExtractSiteCookies(trace, extractor.MailTrafficMatch)
	if err != nil {
		return models.Bundle{}, err
	}

	f.logger.Info().
		Strs("headers", headers.Names()).
		Strs("cookies", cookies.Names()).
		Msg("Mailbox credentials captured")

	return models.Bundle{Headers: headers, Cookies: cookies}, nil
}

// waitForTraffic polls the captured traffic until a request matching match appears
func (f *flow) waitForTraffic(match string) (models.Trace, error) {
	var trace models.Trace
	_, err := f.config.TrafficWait.Run(f.ctx, func(ctx context.Context, attempt int) (bool, error) {
		trace = f.browser.Traffic()
		_, findErr := extractor.FindRequest(trace, match)
		return findErr == nil, nil
	})
	if errors.Is(err, common.ErrPollExhausted) {
		return nil, fmt.Errorf("%w: no request matching %q after %d checks", models.ErrTraceNotFound, match, f.config.TrafficWait.MaxAttempts)
	}
	if err != nil {
		return nil, err
	}
	return trace, nil
}

// DiscoverSiteKey finds the challenge widget's site key in a page
func DiscoverSiteKey(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse challenge page: %w", models.ErrAutomationFailed, err)
	}

	if key, ok := doc.Find("[data-sitekey]").First().Attr("data-sitekey"); ok && key != "" {
		return key, nil
	}

	var key string
	doc.Find("iframe[src]").EachWithBreak(func(i int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		u, err := url.Parse(src)
		if err != nil {
			return true
		}
		if k := u.Query().Get("sitekey"); k != "" {
			key = k
			return false
		}
		return true
	})
	if key != "" {
		return key, nil
	}

	return "", fmt.Errorf("%w: challenge site key not configured and not found on page", models.ErrAutomationFailed)
}

func cookieDomain(siteURL string) string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Hostname() == "" {
		return siteURL
	}
	return u.Hostname()
}
