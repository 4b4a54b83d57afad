package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/models"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")
	cfg.Session.RenewOnStartup = false
	cfg.Scheduler.Enabled = false
	return cfg
}

func TestNew_WiresComponents(t *testing.T) {
	app, err := New(testConfig(t), arbor.NewLogger())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.DB)
	assert.NotNil(t, app.RenewalStorage)
	assert.NotNil(t, app.EventService)
	assert.NotNil(t, app.Session)
	assert.Nil(t, app.SchedulerService)
	assert.NotNil(t, app.Metrics)
	assert.NotNil(t, app.APIHandler)
	assert.NotNil(t, app.StatusHandler)
	assert.NotNil(t, app.SessionHandler)
	assert.NotNil(t, app.WSHandler)

	status := app.Session.Status()
	assert.Equal(t, models.StateInitializing, status.State)
	assert.False(t, app.Session.IsValid())
}

func TestNew_StartsScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Schedule = "0 0 1 1 *"

	app, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.SchedulerService)
	assert.True(t, app.SchedulerService.IsRunning())
}

func TestNew_UnknownMailboxProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mailbox.Provider = "pigeon"

	_, err := New(cfg, arbor.NewLogger())
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	app, err := New(testConfig(t), arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, app.Close())
	assert.NoError(t, app.Close())
}

func TestProxyFromConfig(t *testing.T) {
	assert.Nil(t, proxyFromConfig(common.ProxyConfig{Port: 3128}))

	proxy := proxyFromConfig(common.ProxyConfig{Host: "10.0.0.1", Port: 3128, Login: "u", Password: "p"})
	require.NotNil(t, proxy)
	assert.Equal(t, "http://u:p@10.0.0.1:3128", proxy.URL())
}
