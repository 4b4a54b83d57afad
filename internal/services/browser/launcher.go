// -----------------------------------------------------------------------
// Browser launcher - scoped chromedp sessions used for credential renewal
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// Config holds browser launch configuration
type Config struct {
	ExecPath      string
	UserAgent     string
	Visible       bool // real display available (local environment)
	NoSandbox     bool
	DisableGPU    bool
	DisplayWidth  int
	DisplayHeight int
	XvfbPath      string // empty with Visible=false runs headless
	Watchdog      time.Duration
	StepTimeout   time.Duration
	ExtraFlags    []string
	Proxy         *models.Proxy
}

// Launcher starts one browser per WithBrowser call
type Launcher struct {
	config Config
	logger arbor.ILogger
}

var _ interfaces.BrowserLauncher = (*Launcher)(nil)

// NewLauncher creates a new browser launcher
func NewLauncher(config Config, logger arbor.ILogger) *Launcher {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 30 * time.Second
	}
	if config.DisplayWidth <= 0 || config.DisplayHeight <= 0 {
		config.DisplayWidth, config.DisplayHeight = 1000, 1000
	}
	return &Launcher{config: config, logger: logger}
}

// allocatorOptions builds the Chrome command line for one session
func (l *Launcher) allocatorOptions(display string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("no-sandbox", l.config.NoSandbox),
		chromedp.Flag("disable-gpu", l.config.DisableGPU),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(l.config.DisplayWidth, l.config.DisplayHeight),
	}

	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}
	if l.config.Proxy.Enabled() {
		opts = append(opts, chromedp.ProxyServer(l.config.Proxy.ServerAddress()))
	}

	switch {
	case display != "":
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Env("DISPLAY="+display))
	case l.config.Visible:
		opts = append(opts, chromedp.Flag("headless", false))
	default:
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	for _, flag := range l.config.ExtraFlags {
		name, value := splitFlag(flag)
		opts = append(opts, chromedp.Flag(name, value))
	}

	return opts
}

// WithBrowser launches a browser, runs fn against it and always tears the
// browser and any virtual display down before returning
func (l *Launcher) WithBrowser(ctx context.Context, fn func(interfaces.BrowserHandle) error) (err error) {
	startTime := time.Now()

	display := ""
	if !l.config.Visible && l.config.XvfbPath != "" {
		vd, derr := StartVirtualDisplay(l.config.XvfbPath, l.config.DisplayWidth, l.config.DisplayHeight)
		if derr != nil {
			return fmt.Errorf("%w: %w", models.ErrAutomationFailed, derr)
		}
		defer func() {
			if stopErr := vd.Stop(); stopErr != nil {
				l.logger.Warn().Err(stopErr).Str("display", vd.Name()).Msg("Failed to stop virtual display")
			}
		}()
		display = vd.Name()
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions(display)...)
	defer allocatorCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(s string, i ...interface{}) {
			l.logger.Trace().Msgf("chromedp: "+s, i...)
		}),
	)
	defer func() {
		if cancelErr := chromedp.Cancel(browserCtx); cancelErr != nil {
			l.logger.Debug().Err(cancelErr).Msg("Browser close reported an error")
		}
		browserCancel()
		l.logger.Debug().
			Dur("session_time", time.Since(startTime)).
			Msg("Browser session closed")
	}()

	rec := newRecorder()
	proxyAuth := l.config.Proxy.Enabled() && l.config.Proxy.Login != ""

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		rec.handle(ev)
		if proxyAuth {
			l.handleFetchEvent(browserCtx, ev)
		}
	})

	setup := []chromedp.Action{network.Enable()}
	if proxyAuth {
		setup = append(setup, fetch.Enable().WithHandleAuthRequests(true))
	}
	if l.config.Watchdog > 0 {
		script := WatchdogScript(l.config.Watchdog)
		setup = append(setup, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
	}

	// The first Run allocates the browser process and binds it to the
	// context it is given, so it must not carry a deadline
	if err := chromedp.Run(browserCtx); err != nil {
		return fmt.Errorf("%w: browser startup failed: %w", models.ErrAutomationFailed, err)
	}

	setupCtx, setupCancel := context.WithTimeout(browserCtx, l.config.StepTimeout)
	defer setupCancel()
	if err := chromedp.Run(setupCtx, setup...); err != nil {
		return fmt.Errorf("%w: browser setup failed: %w", models.ErrAutomationFailed, err)
	}

	l.logger.Debug().
		Bool("virtual_display", display != "").
		Str("proxy", l.config.Proxy.Redacted()).
		Int("watchdog_seconds", int(l.config.Watchdog/time.Second)).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return fn(&handle{
		ctx:         browserCtx,
		stepTimeout: l.config.StepTimeout,
		recorder:    rec,
	})
}

// handleFetchEvent answers proxy authentication challenges. Requests paused
// by the fetch domain are continued unchanged.
func (l *Launcher) handleFetchEvent(browserCtx context.Context, ev interface{}) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go l.runOnTarget(browserCtx, fetch.ContinueRequest(e.RequestID))
	case *fetch.EventAuthRequired:
		response := &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: l.config.Proxy.Login,
			Password: l.config.Proxy.Password,
		}
		go l.runOnTarget(browserCtx, fetch.ContinueWithAuth(e.RequestID, response))
	}
}

func (l *Launcher) runOnTarget(browserCtx context.Context, action chromedp.Action) {
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Target == nil {
		return
	}
	if err := action.Do(cdp.WithExecutor(browserCtx, c.Target)); err != nil {
		l.logger.Trace().Err(err).Msg("Fetch interception reply failed")
	}
}
