package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "local" drives a visible browser; anything else uses a virtual display
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Browser     BrowserConfig   `toml:"browser"`
	Proxy       ProxyConfig     `toml:"proxy"`
	Solver      SolverConfig    `toml:"solver"`
	Backend     BackendConfig   `toml:"backend"`
	Mailbox     MailboxConfig   `toml:"mailbox"`
	Session     SessionConfig   `toml:"session"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port       int    `toml:"port"`
	Host       string `toml:"host"`
	PathPrefix string `toml:"path_prefix"` // e.g. "/api"
	QueryRate  int    `toml:"query_rate"`  // Max query requests per minute (0 = unlimited)
	Metrics    bool   `toml:"metrics"`     // Serve prometheus metrics at /metrics
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BrowserConfig controls the browser used for credential renewal
type BrowserConfig struct {
	ExecPath           string   `toml:"exec_path"`           // Chrome binary; empty = chromedp lookup
	UserAgent          string   `toml:"user_agent"`          // Empty keeps the browser's own user agent
	NoSandbox          bool     `toml:"no_sandbox"`          // --no-sandbox
	DisableGPU         bool     `toml:"disable_gpu"`         // --disable-gpu
	DisplayWidth       int      `toml:"display_width"`       // Virtual display width
	DisplayHeight      int      `toml:"display_height"`      // Virtual display height
	XvfbPath           string   `toml:"xvfb_path"`           // Virtual display server binary
	WatchdogSeconds    int      `toml:"watchdog_seconds"`    // Abort page loading after N seconds (0 = disabled)
	StepTimeoutSeconds int      `toml:"step_timeout_seconds"` // Element lookup / navigation timeout
	ExtraFlags         []string `toml:"extra_flags"`         // Additional --flags passed to Chrome
}

// ProxyConfig is the upstream proxy for the browser and the solver task
type ProxyConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Login    string `toml:"login"`
	Password string `toml:"password"`
}

// SolverConfig contains challenge solving service configuration
type SolverConfig struct {
	APIKey              string  `toml:"api_key"`
	BaseURL             string  `toml:"base_url"`
	MinBalance          float64 `toml:"min_balance"`           // Renewal aborts below this balance
	PollIntervalSeconds int     `toml:"poll_interval_seconds"` // Delay between result polls
	MaxAttempts         int     `toml:"max_attempts"`          // Result polls before giving up
	RequestsPerSecond   float64 `toml:"requests_per_second"`   // Client-side rate limit against the API
}

// BackendConfig describes the fronted backend site
type BackendConfig struct {
	URL                   string `toml:"url"`
	ChallengeSiteKey      string `toml:"challenge_site_key"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	AnswerTimeoutSeconds  int    `toml:"answer_timeout_seconds"`
}

// MailboxConfig selects the disposable inbox used for account verification
type MailboxConfig struct {
	Provider            string     `toml:"provider"` // "emailnator" or "imap"
	URL                 string     `toml:"url"`
	PollIntervalSeconds int        `toml:"poll_interval_seconds"`
	MaxAttempts         int        `toml:"max_attempts"`
	IMAP                IMAPConfig `toml:"imap"`
}

// IMAPConfig is used when Mailbox.Provider is "imap"
type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UseTLS   bool   `toml:"use_tls"`
	Domain   string `toml:"domain"` // Catch-all domain for generated addresses
}

// SessionConfig controls credential reuse
type SessionConfig struct {
	FreshnessWindowSeconds int    `toml:"freshness_window_seconds"` // Max bundle age
	Quota                  int    `toml:"quota"`                    // Copilot queries per bundle
	BusyPolicy             string `toml:"busy_policy"`              // "reject" or "wait"
	RenewOnStartup         bool   `toml:"renew_on_startup"`
}

// SchedulerConfig controls proactive refresh of stale credentials
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "local",
		Server: ServerConfig{
			Port:       8000,
			Host:       "127.0.0.1",
			PathPrefix: "/api",
			QueryRate:  30,
			Metrics:    true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Browser: BrowserConfig{
			NoSandbox:          true,
			DisableGPU:         true,
			DisplayWidth:       1000,
			DisplayHeight:      1000,
			XvfbPath:           "Xvfb",
			WatchdogSeconds:    5,
			StepTimeoutSeconds: 30,
		},
		Proxy: ProxyConfig{
			Port: 3128,
		},
		Solver: SolverConfig{
			BaseURL:             "https://api.capmonster.cloud",
			MinBalance:          0.002,
			PollIntervalSeconds: 5,
			MaxAttempts:         30,
			RequestsPerSecond:   2,
		},
		Backend: BackendConfig{
			URL:                   "https://www.perplexity.ai/",
			RequestTimeoutSeconds: 30,
			AnswerTimeoutSeconds:  120,
		},
		Mailbox: MailboxConfig{
			Provider:            "emailnator",
			URL:                 "https://www.emailnator.com/",
			PollIntervalSeconds: 5,
			MaxAttempts:         24,
			IMAP: IMAPConfig{
				Port:   993,
				UseTLS: true,
			},
		},
		Session: SessionConfig{
			FreshnessWindowSeconds: 60 * 60,
			Quota:                  5,
			BusyPolicy:             "reject",
			RenewOnStartup:         true,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files; CLI flags are applied separately by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// PLEXUS_* names take priority over the legacy unprefixed names.
func applyEnvOverrides(config *Config) {
	lookup := func(names ...string) string {
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				return v
			}
		}
		return ""
	}
	setInt := func(target *int, names ...string) {
		if v := lookup(names...); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*target = i
			}
		}
	}
	setBool := func(target *bool, names ...string) {
		if v := lookup(names...); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*target = b
			}
		}
	}
	setString := func(target *string, names ...string) {
		if v := lookup(names...); v != "" {
			*target = v
		}
	}

	setString(&config.Environment, "PLEXUS_ENV", "ENV")

	// Server configuration
	setInt(&config.Server.Port, "PLEXUS_SERVER_PORT", "APP_PORT")
	setString(&config.Server.Host, "PLEXUS_SERVER_HOST")
	setString(&config.Server.PathPrefix, "PLEXUS_PATH_PREFIX", "PATH_PREFIX")
	setInt(&config.Server.QueryRate, "PLEXUS_SERVER_QUERY_RATE")
	setBool(&config.Server.Metrics, "PLEXUS_SERVER_METRICS")

	// Logging configuration
	setString(&config.Logging.Level, "PLEXUS_LOG_LEVEL")
	if output := lookup("PLEXUS_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	setString(&config.Storage.Badger.Path, "PLEXUS_BADGER_PATH")

	// Browser configuration
	setString(&config.Browser.ExecPath, "PLEXUS_BROWSER_EXEC_PATH")
	setString(&config.Browser.UserAgent, "PLEXUS_BROWSER_USER_AGENT")
	setInt(&config.Browser.WatchdogSeconds, "PLEXUS_BROWSER_WATCHDOG_SECONDS")
	setInt(&config.Browser.StepTimeoutSeconds, "PLEXUS_BROWSER_STEP_TIMEOUT_SECONDS")

	// Proxy configuration
	setString(&config.Proxy.Host, "PLEXUS_PROXY_HOST", "PROXY_HOST")
	setInt(&config.Proxy.Port, "PLEXUS_PROXY_PORT", "PROXY_PORT")
	setString(&config.Proxy.Login, "PLEXUS_PROXY_LOGIN", "PROXY_LOGIN")
	setString(&config.Proxy.Password, "PLEXUS_PROXY_PASSWORD", "PROXY_PASSWORD")

	// Solver configuration
	setString(&config.Solver.APIKey, "PLEXUS_SOLVER_API_KEY", "CAPMONSTER_API_KEY")
	setString(&config.Solver.BaseURL, "PLEXUS_SOLVER_BASE_URL")
	if v := lookup("PLEXUS_SOLVER_MIN_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Solver.MinBalance = f
		}
	}
	setInt(&config.Solver.PollIntervalSeconds, "PLEXUS_SOLVER_POLL_INTERVAL_SECONDS")
	setInt(&config.Solver.MaxAttempts, "PLEXUS_SOLVER_MAX_ATTEMPTS")

	// Backend configuration
	setString(&config.Backend.URL, "PLEXUS_BACKEND_URL", "PERPLEXITY_URL")
	setString(&config.Backend.ChallengeSiteKey, "PLEXUS_BACKEND_CHALLENGE_SITE_KEY", "PERPLEXITY_CLOUDFLARE_KEY")

	// Mailbox configuration
	setString(&config.Mailbox.Provider, "PLEXUS_MAILBOX_PROVIDER")
	setString(&config.Mailbox.URL, "PLEXUS_MAILBOX_URL")
	setString(&config.Mailbox.IMAP.Host, "PLEXUS_MAILBOX_IMAP_HOST")
	setInt(&config.Mailbox.IMAP.Port, "PLEXUS_MAILBOX_IMAP_PORT")
	setString(&config.Mailbox.IMAP.Username, "PLEXUS_MAILBOX_IMAP_USERNAME")
	setString(&config.Mailbox.IMAP.Password, "PLEXUS_MAILBOX_IMAP_PASSWORD")
	setBool(&config.Mailbox.IMAP.UseTLS, "PLEXUS_MAILBOX_IMAP_USE_TLS")
	setString(&config.Mailbox.IMAP.Domain, "PLEXUS_MAILBOX_IMAP_DOMAIN")

	// Session configuration
	setInt(&config.Session.FreshnessWindowSeconds, "PLEXUS_SESSION_FRESHNESS_WINDOW_SECONDS", "PERPLEXITY_UPDATE_INTERVAL")
	setInt(&config.Session.Quota, "PLEXUS_SESSION_QUOTA")
	setString(&config.Session.BusyPolicy, "PLEXUS_SESSION_BUSY_POLICY")
	setBool(&config.Session.RenewOnStartup, "PLEXUS_SESSION_RENEW_ON_STARTUP")

	// Scheduler configuration
	setBool(&config.Scheduler.Enabled, "PLEXUS_SCHEDULER_ENABLED")
	setString(&config.Scheduler.Schedule, "PLEXUS_SCHEDULER_SCHEDULE")
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks settings that would make every renewal fail
func (c *Config) Validate() error {
	if c.Session.Quota <= 0 {
		return fmt.Errorf("session.quota must be greater than 0, got: %d", c.Session.Quota)
	}
	if c.Session.FreshnessWindowSeconds <= 0 {
		return fmt.Errorf("session.freshness_window_seconds must be greater than 0, got: %d", c.Session.FreshnessWindowSeconds)
	}
	switch c.Session.BusyPolicy {
	case "reject", "wait":
	default:
		return fmt.Errorf("session.busy_policy must be \"reject\" or \"wait\", got: %q", c.Session.BusyPolicy)
	}
	if c.Solver.MaxAttempts <= 0 {
		return fmt.Errorf("solver.max_attempts must be greater than 0, got: %d", c.Solver.MaxAttempts)
	}
	switch c.Mailbox.Provider {
	case "emailnator", "imap":
	default:
		return fmt.Errorf("mailbox.provider must be \"emailnator\" or \"imap\", got: %q", c.Mailbox.Provider)
	}
	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	return nil
}

// ValidateSchedule validates a five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsLocal returns true when running on a developer machine with a real display
func (c *Config) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "local")
}

// FreshnessWindow returns the maximum bundle age
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Session.FreshnessWindowSeconds) * time.Second
}

// AppPath returns the base URL of the API
func (c *Config) AppPath() string {
	return fmt.Sprintf("http://%s:%d%s", c.Server.Host, c.Server.Port, c.Server.PathPrefix)
}
