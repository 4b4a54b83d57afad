// -----------------------------------------------------------------------
// Renewer - acquires fresh backend and mailbox credentials in one browser
// -----------------------------------------------------------------------

package signup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// Config holds renewal configuration
type Config struct {
	SiteURL     string
	SiteKey     string // empty: discovered from the challenge page
	MailURL     string
	MinBalance  float64
	Proxy       *models.Proxy // reported to the solver so the clearance matches the browser exit IP
	SignupEmail string        // placeholder typed into the sign-up form
	StepPause   time.Duration // settle time between UI actions
	TrafficWait common.PollPolicy
}

// Renewer implements interfaces.CredentialRenewer
type Renewer struct {
	launcher interfaces.BrowserLauncher
	solver   interfaces.ChallengeSolver
	config   Config
	logger   arbor.ILogger
}

var _ interfaces.CredentialRenewer = (*Renewer)(nil)

// NewRenewer creates a new credential renewer
func NewRenewer(launcher interfaces.BrowserLauncher, solver interfaces.ChallengeSolver, config Config, logger arbor.ILogger) *Renewer {
	if config.SignupEmail == "" {
		config.SignupEmail = "aa@aa.aa"
	}
	if config.TrafficWait.MaxAttempts <= 0 {
		config.TrafficWait = common.PollPolicy{Interval: time.Second, MaxAttempts: 10, Sleep: config.TrafficWait.Sleep}
	}
	return &Renewer{
		launcher: launcher,
		solver:   solver,
		config:   config,
		logger:   logger,
	}
}

// Renew checks the solver balance, then drives one browser session through
// the backend sign-up and the disposable inbox and returns both bundles.
// No browser is launched when the balance is below the configured minimum.
func (r *Renewer) Renew(ctx context.Context) (*models.CredentialSet, error) {
	renewalID := uuid.New().String()
	logger := r.logger.WithCorrelationId(renewalID)
	startTime := time.Now()

	balance, err := r.solver.CheckBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("solver balance check failed: %w", err)
	}
	if balance < r.config.MinBalance {
		logger.Warn().
			Str("balance", fmt.Sprintf("%.4f", balance)).
			Str("min_balance", fmt.Sprintf("%.4f", r.config.MinBalance)).
			Msg("Solver balance too low, renewal aborted")
		return nil, fmt.Errorf("%w: %.4f below minimum %.4f", models.ErrInsufficientBalance, balance, r.config.MinBalance)
	}

	logger.Info().Msg("Fetching credentials for new backend session")

	set := &models.CredentialSet{}
	err = r.launcher.WithBrowser(ctx, func(browser interfaces.BrowserHandle) error {
		flow := &flow{
			ctx:     ctx,
			browser: browser,
			solver:  r.solver,
			config:  r.config,
			logger:  logger,
		}

		site, err := flow.acquireSite()
		if err != nil {
			return err
		}
		set.Site = site

		mail, err := flow.acquireMail()
		if err != nil {
			return err
		}
		set.Mail = mail
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(startTime)).Msg("Credential acquisition failed")
		return nil, err
	}

	logger.Info().
		Int("site_headers", set.Site.Headers.Len()).
		Int("site_cookies", set.Site.Cookies.Len()).
		Int("mail_headers", set.Mail.Headers.Len()).
		Int("mail_cookies", set.Mail.Cookies.Len()).
		Dur("elapsed", time.Since(startTime)).
		Msg("Credentials fetched")

	return set, nil
}
