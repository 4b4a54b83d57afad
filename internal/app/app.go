package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/handlers"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
	"github.com/ternarybob/plexus/internal/services/backend"
	"github.com/ternarybob/plexus/internal/services/browser"
	"github.com/ternarybob/plexus/internal/services/events"
	"github.com/ternarybob/plexus/internal/services/mailbox"
	"github.com/ternarybob/plexus/internal/services/metrics"
	"github.com/ternarybob/plexus/internal/services/scheduler"
	"github.com/ternarybob/plexus/internal/services/session"
	"github.com/ternarybob/plexus/internal/services/signup"
	"github.com/ternarybob/plexus/internal/services/solver"
	"github.com/ternarybob/plexus/internal/storage/badger"
)

// shutdownTimeout bounds how long Close waits for an in-flight renewal or query
const shutdownTimeout = 2 * time.Minute

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Storage
	DB             *badger.BadgerDB
	RenewalStorage interfaces.RenewalStorage

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService
	Metrics          *metrics.Collector

	// Credential lifecycle
	Solver   *solver.Client
	Launcher *browser.Launcher
	Renewer  *signup.Renewer
	Session  *session.Manager

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	StatusHandler  *handlers.StatusHandler
	SessionHandler *handlers.SessionHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("environment", cfg.Environment).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Bool("renew_on_startup", cfg.Session.RenewOnStartup).
		Str("mailbox", cfg.Mailbox.Provider).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the renewal history store (Badger)
func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}

	a.DB = db
	a.RenewalStorage = badger.NewRenewalStorage(db, a.Logger, 0)
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the renewal pipeline and the session manager in dependency order:
// metrics -> solver -> browser launcher -> renewer -> mailbox/backend factories -> session manager -> scheduler
func (a *App) initServices() error {
	cfg := a.Config
	proxy := proxyFromConfig(cfg.Proxy)

	// Metrics subscribe before the session manager publishes its first state
	if cfg.Server.Metrics {
		collector, err := metrics.NewCollector(a.EventService, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		a.Metrics = collector
	}

	// 1. Challenge solver
	a.Solver = solver.NewClient(solver.Config{
		APIKey:  cfg.Solver.APIKey,
		BaseURL: cfg.Solver.BaseURL,
		Poll: common.PollPolicy{
			Interval:    time.Duration(cfg.Solver.PollIntervalSeconds) * time.Second,
			MaxAttempts: cfg.Solver.MaxAttempts,
		},
		RequestsPerSecond: cfg.Solver.RequestsPerSecond,
	}, a.Logger)

	// 2. Browser launcher. The proxy is only applied to the browser on a
	// developer machine; deployed instances run behind the proxy host itself.
	browserConfig := browser.Config{
		ExecPath:      cfg.Browser.ExecPath,
		UserAgent:     cfg.Browser.UserAgent,
		Visible:       cfg.IsLocal(),
		NoSandbox:     cfg.Browser.NoSandbox,
		DisableGPU:    cfg.Browser.DisableGPU,
		DisplayWidth:  cfg.Browser.DisplayWidth,
		DisplayHeight: cfg.Browser.DisplayHeight,
		XvfbPath:      cfg.Browser.XvfbPath,
		Watchdog:      time.Duration(cfg.Browser.WatchdogSeconds) * time.Second,
		StepTimeout:   time.Duration(cfg.Browser.StepTimeoutSeconds) * time.Second,
		ExtraFlags:    cfg.Browser.ExtraFlags,
	}
	if cfg.IsLocal() {
		browserConfig.Proxy = proxy
	}
	a.Launcher = browser.NewLauncher(browserConfig, a.Logger)

	// 3. Renewer
	a.Renewer = signup.NewRenewer(a.Launcher, a.Solver, signup.Config{
		SiteURL:    cfg.Backend.URL,
		SiteKey:    cfg.Backend.ChallengeSiteKey,
		MailURL:    cfg.Mailbox.URL,
		MinBalance: cfg.Solver.MinBalance,
		Proxy:      proxy,
		StepPause:  2 * time.Second,
	}, a.Logger)

	// 4. Mailbox and backend factories
	mailboxes, err := mailbox.NewFactory(cfg.Mailbox, a.Logger)
	if err != nil {
		return err
	}
	backends := backend.NewFactory(backend.Config{
		URL:            cfg.Backend.URL,
		RequestTimeout: time.Duration(cfg.Backend.RequestTimeoutSeconds) * time.Second,
		AnswerTimeout:  time.Duration(cfg.Backend.AnswerTimeoutSeconds) * time.Second,
	}, mailboxes, a.Logger)

	// 5. Session manager
	a.Session = session.NewManager(a.Renewer, backends, session.Config{
		Quota:           cfg.Session.Quota,
		FreshnessWindow: cfg.FreshnessWindow(),
		BusyPolicy:      cfg.Session.BusyPolicy,
	}, a.Logger,
		session.WithEvents(a.EventService),
		session.WithHistory(a.RenewalStorage),
	)

	// 6. Scheduler (proactive refresh of stale credentials)
	if cfg.Scheduler.Enabled {
		svc := scheduler.NewService(a.Session, a.Logger)
		if err := svc.Start(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		a.SchedulerService = svc
		a.Logger.Debug().Str("schedule", cfg.Scheduler.Schedule).Msg("Scheduler service started")
	}

	// 7. Startup renewal runs in the background so the API is reachable immediately
	if cfg.Session.RenewOnStartup {
		common.SafeGo(a.Logger, "startup-renewal", func() {
			if err := a.Session.Renew(a.ctx, session.TriggerStartup); err != nil {
				a.Logger.Warn().Err(err).Msg("Startup renewal failed; the next query will retry")
			}
		})
	}

	return nil
}

// initHandlers creates the HTTP and WebSocket handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Session, a.RenewalStorage, a.SchedulerService, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.Session, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Session, a.EventService, a.Logger)
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	// Stop scheduler service
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Wait for the current occupant and close the backend session
	if a.Session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Session.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close session manager")
		}
		cancel()
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

// proxyFromConfig returns nil when no proxy host is configured
func proxyFromConfig(cfg common.ProxyConfig) *models.Proxy {
	if cfg.Host == "" {
		return nil
	}
	return &models.Proxy{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Login:    cfg.Login,
		Password: cfg.Password,
	}
}
