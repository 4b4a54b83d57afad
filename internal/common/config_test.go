package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()

	require.NoError(t, config.Validate())
	assert.True(t, config.IsLocal())
	assert.Equal(t, 5, config.Session.Quota)
	assert.Equal(t, 30, config.Solver.MaxAttempts)
	assert.Equal(t, "http://127.0.0.1:8000/api", config.AppPath())
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"

[session]
quota = 3
freshness_window_seconds = 600

[proxy]
host = "proxy.internal"
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[session]
quota = 7
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.False(t, config.IsLocal())
	assert.Equal(t, 7, config.Session.Quota)
	assert.Equal(t, 600, config.Session.FreshnessWindowSeconds)
	assert.Equal(t, "proxy.internal", config.Proxy.Host)
	assert.Equal(t, 3128, config.Proxy.Port)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides_LegacyAndPrefixedNames(t *testing.T) {
	t.Setenv("CAPMONSTER_API_KEY", "legacy-key")
	t.Setenv("PERPLEXITY_UPDATE_INTERVAL", "120")
	t.Setenv("PROXY_HOST", "10.0.0.1")
	t.Setenv("PLEXUS_PROXY_HOST", "10.0.0.2")
	t.Setenv("PLEXUS_SESSION_QUOTA", "9")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "legacy-key", config.Solver.APIKey)
	assert.Equal(t, 120, config.Session.FreshnessWindowSeconds)
	assert.Equal(t, "10.0.0.2", config.Proxy.Host, "prefixed name wins")
	assert.Equal(t, 9, config.Session.Quota)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero quota", func(c *Config) { c.Session.Quota = 0 }},
		{"zero window", func(c *Config) { c.Session.FreshnessWindowSeconds = 0 }},
		{"bad policy", func(c *Config) { c.Session.BusyPolicy = "queue" }},
		{"bad mailbox", func(c *Config) { c.Mailbox.Provider = "gmail" }},
		{"bad schedule", func(c *Config) { c.Scheduler.Schedule = "every minute" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 9000, "0.0.0.0")

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 9000, config.Server.Port)
}
