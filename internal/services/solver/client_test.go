package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/models"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Poll: common.PollPolicy{
			Interval:    5 * time.Second,
			MaxAttempts: 30,
			Sleep:       noSleep,
		},
	}, arbor.NewLogger())
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestCheckBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getBalance", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "test-key", body["clientKey"])
		w.Write([]byte(`{"errorId":0,"balance":1.25}`))
	})

	balance, err := client.CheckBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.25, balance, 0.0001)
}

func TestCheckBalance_ServiceError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorId":1,"errorCode":"ERROR_KEY_DOES_NOT_EXIST"}`))
	})

	_, err := client.CheckBalance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_KEY_DOES_NOT_EXIST")
}

func TestSubmitChallenge_WithProxy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createTask", r.URL.Path)
		body := decodeBody(t, r)
		task, ok := body["task"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "TurnstileTask", task["type"])
		assert.Equal(t, "cf_clearance", task["cloudflareTaskType"])
		assert.Equal(t, "https://example.test", task["websiteURL"])
		assert.Equal(t, "site-key", task["websiteKey"])
		assert.Equal(t, "http", task["proxyType"])
		assert.Equal(t, "10.0.0.1", task["proxyAddress"])
		assert.EqualValues(t, 3128, task["proxyPort"])
		assert.Equal(t, "user", task["proxyLogin"])
		assert.Equal(t, "PGh0bWw+", task["htmlPageBase64"])
		assert.Equal(t, "agent/1.0", task["userAgent"])
		w.Write([]byte(`{"errorId":0,"taskId":42}`))
	})

	id, err := client.SubmitChallenge(context.Background(), models.ChallengeTask{
		WebsiteURL:     "https://example.test",
		WebsiteKey:     "site-key",
		Proxy:          &models.Proxy{Host: "10.0.0.1", Port: 3128, Login: "user", Password: "pass"},
		PageHTMLBase64: "PGh0bWw+",
		UserAgent:      "agent/1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestSubmitChallenge_NoProxyOmitsFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		task := body["task"].(map[string]interface{})
		_, hasProxy := task["proxyAddress"]
		assert.False(t, hasProxy)
		w.Write([]byte(`{"errorId":0,"taskId":7}`))
	})

	id, err := client.SubmitChallenge(context.Background(), models.ChallengeTask{WebsiteURL: "https://example.test"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestSubmitChallenge_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorId":1,"errorCode":"ERROR_ZERO_BALANCE"}`))
	})

	_, err := client.SubmitChallenge(context.Background(), models.ChallengeTask{})
	assert.ErrorIs(t, err, models.ErrChallengeRejected)
}

func TestAwaitResult_ReadyAfterPolls(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getTaskResult", r.URL.Path)
		body := decodeBody(t, r)
		assert.EqualValues(t, 42, body["taskId"])
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Write([]byte(`{"errorId":0,"status":"processing"}`))
			return
		}
		w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"cf_clearance":"clearance-token"}}`))
	})

	token, err := client.AwaitResult(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "clearance-token", token)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAwaitResult_TimesOutAfterMaxAttempts(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"errorId":0,"status":"processing"}`))
	})

	_, err := client.AwaitResult(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrChallengeTimeout)
	assert.Equal(t, int32(30), atomic.LoadInt32(&calls))
}

func TestAwaitResult_ErrorStopsPolling(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"errorId":12,"errorCode":"ERROR_CAPTCHA_UNSOLVABLE"}`))
	})

	_, err := client.AwaitResult(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrChallengeRejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAwaitResult_MissingStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorId":0}`))
	})

	_, err := client.AwaitResult(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrChallengeRejected)
}
