package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/app"
	"github.com/ternarybob/plexus/internal/common"
)

func newTestServer(t *testing.T, mutate func(cfg *common.Config)) *httptest.Server {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "db")
	cfg.Session.RenewOnStartup = false
	cfg.Scheduler.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	ts := httptest.NewServer(New(application).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestRoutes_StatusEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/api/status/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pong!", body["message"])

	code, body = getJSON(t, ts.URL+"/api/status/session")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "INITIALIZING", body["status"])
	assert.Equal(t, float64(0), body["copilots_left"])

	code, body = getJSON(t, ts.URL+"/api/status/renewals")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])

	code, body = getJSON(t, ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestRoutes_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/api/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "/api/nope", body["path"])
}

func TestRoutes_CustomPrefix(t *testing.T) {
	ts := newTestServer(t, func(cfg *common.Config) {
		cfg.Server.PathPrefix = "v1/"
	})

	code, body := getJSON(t, ts.URL+"/v1/status/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pong!", body["message"])

	code, _ = getJSON(t, ts.URL+"/api/status/ping")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/query", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRoutes_QueryRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *common.Config) {
		cfg.Server.QueryRate = 1
	})

	post := func() int {
		resp, err := http.Post(ts.URL+"/api/query", "application/json", strings.NewReader(`{`))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// The first request passes the limiter and fails validation; the second is limited
	assert.Equal(t, http.StatusBadRequest, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
}

func TestRoutes_Metrics(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `plexus_session_state{state="INITIALIZING"} 1`)
}

func TestRoutes_MetricsDisabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *common.Config) {
		cfg.Server.Metrics = false
	})

	code, _ := getJSON(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNormalizePrefix(t *testing.T) {
	tests := map[string]string{
		"":       "",
		"/":      "",
		"/api":   "/api",
		"/api/":  "/api",
		"api":    "/api",
		" /x/y ": "/x/y",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePrefix(in), in)
	}
}
