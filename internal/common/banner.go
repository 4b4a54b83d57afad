package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the effective session settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Plexus", GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("backend", config.Backend.URL).
		Str("mailbox", config.Mailbox.Provider).
		Int("quota", config.Session.Quota).
		Int("freshness_window_seconds", config.Session.FreshnessWindowSeconds).
		Bool("proxy", config.Proxy.Host != "").
		Msg("Session configuration")
}
