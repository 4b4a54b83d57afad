package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// fakeSession implements interfaces.SessionManager for testing
type fakeSession struct {
	mu        sync.Mutex
	status    models.SessionStatus
	submitErr error
	renewErr  error
	queries   []string
	modes     []models.Mode
	renewals  []string
}

func (f *fakeSession) Submit(ctx context.Context, query string, mode models.Mode) (*models.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.modes = append(f.modes, mode)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.QueryResult{Query: query, Mode: mode, Answer: "42"}, nil
}

func (f *fakeSession) Renew(ctx context.Context, trigger string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewals = append(f.renewals, trigger)
	return f.renewErr
}

func (f *fakeSession) IsValid() bool { return f.status.State == models.StateReady }

func (f *fakeSession) Status() models.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeHistory struct {
	records []*models.RenewalRecord
	err     error
	limit   int
}

func (f *fakeHistory) SaveRenewal(ctx context.Context, record *models.RenewalRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeHistory) ListRenewals(ctx context.Context, limit int) ([]*models.RenewalRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func postQuery(h *SessionHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.QueryHandler(rec, req)
	return rec
}

func TestPingHandler(t *testing.T) {
	h := NewAPIHandler(arbor.NewLogger())
	rec := httptest.NewRecorder()
	h.PingHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pong!", decodeBody(t, rec)["message"])
}

func TestPingHandler_MethodNotAllowed(t *testing.T) {
	h := NewAPIHandler(arbor.NewLogger())
	rec := httptest.NewRecorder()
	h.PingHandler(rec, httptest.NewRequest(http.MethodPost, "/api/status/ping", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionStatusHandler(t *testing.T) {
	renewed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &fakeSession{status: models.SessionStatus{
		State:          models.StateReady,
		Message:        models.StateReady.Message(),
		QuotaRemaining: 3,
		LastRenewedAt:  renewed,
	}}
	h := NewStatusHandler(session, nil, nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.SessionStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "READY", body["status"])
	assert.Equal(t, "Session is ready to accept requests", body["message"])
	assert.Equal(t, float64(3), body["copilots_left"])
	assert.Equal(t, renewed.Format(time.RFC3339), body["last_authenticated"])
}

func TestRenewalsHandler(t *testing.T) {
	history := &fakeHistory{}
	for i := 0; i < 5; i++ {
		history.records = append(history.records, &models.RenewalRecord{ID: fmt.Sprintf("r-%d", i)})
	}
	h := NewStatusHandler(&fakeSession{}, history, nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RenewalsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/renewals?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, history.limit)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.RenewalsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/renewals?limit=9999", nil))
	assert.Equal(t, maxRenewalLimit, history.limit)

	rec = httptest.NewRecorder()
	h.RenewalsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/renewals?limit=abc", nil))
	assert.Equal(t, defaultRenewalLimit, history.limit)
}

func TestRenewalsHandler_Errors(t *testing.T) {
	h := NewStatusHandler(&fakeSession{}, nil, nil, arbor.NewLogger())
	rec := httptest.NewRecorder()
	h.RenewalsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/renewals", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = NewStatusHandler(&fakeSession{}, &fakeHistory{err: errors.New("disk")}, nil, arbor.NewLogger())
	rec = httptest.NewRecorder()
	h.RenewalsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/renewals", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSchedulerStatusHandler_Disabled(t *testing.T) {
	h := NewStatusHandler(&fakeSession{}, nil, nil, arbor.NewLogger())
	rec := httptest.NewRecorder()
	h.SchedulerStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/status/scheduler", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, "credential-refresh", body["name"])
}

func TestQueryHandler_Success(t *testing.T) {
	session := &fakeSession{}
	h := NewSessionHandler(session, arbor.NewLogger())

	rec := postQuery(h, `{"message":"What is Go?","mode":"concise"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	message, ok := body["message"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "42", message["answer"])
	assert.Equal(t, []string{"What is Go?"}, session.queries)
	assert.Equal(t, []models.Mode{models.ModeConcise}, session.modes)
}

func TestQueryHandler_QueryAliasAndDefaultMode(t *testing.T) {
	session := &fakeSession{}
	h := NewSessionHandler(session, arbor.NewLogger())

	rec := postQuery(h, `{"query":"  hello  "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hello"}, session.queries)
	assert.Equal(t, []models.Mode{models.ModeCopilot}, session.modes)
}

func TestQueryHandler_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{`, want: "Invalid request body"},
		{name: "missing text", body: `{"mode":"copilot"}`, want: "message is required"},
		{name: "blank text", body: `{"message":"   "}`, want: "message is required"},
		{name: "unknown mode", body: `{"message":"hi","mode":"turbo"}`, want: "mode must be one of"},
		{name: "too long", body: `{"message":"` + strings.Repeat("a", 4001) + `"}`, want: "at most 4000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{}
			h := NewSessionHandler(session, arbor.NewLogger())

			rec := postQuery(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.want)
			assert.Empty(t, session.queries)
		})
	}
}

func TestQueryHandler_UnavailableErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "busy", err: models.ErrServiceBusy},
		{name: "renewal failed", err: fmt.Errorf("%w: %w", models.ErrRenewalFailed, models.ErrInsufficientBalance)},
		{name: "backend unavailable", err: fmt.Errorf("%w: socket closed", models.ErrBackendUnavailable)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{
				submitErr: tt.err,
				status:    models.SessionStatus{State: models.StateRenewing},
			}
			h := NewSessionHandler(session, arbor.NewLogger())

			rec := postQuery(h, `{"message":"hi"}`)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "RENEWING", body["status"])
			assert.Equal(t, UnavailableMessage, body["message"])
		})
	}
}

func TestQueryHandler_UnexpectedError(t *testing.T) {
	h := NewSessionHandler(&fakeSession{submitErr: errors.New("boom")}, arbor.NewLogger())

	rec := postQuery(h, `{"message":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRenewHandler(t *testing.T) {
	session := &fakeSession{status: models.SessionStatus{State: models.StateReady, QuotaRemaining: 5}}
	h := NewSessionHandler(session, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RenewHandler(rec, httptest.NewRequest(http.MethodPost, "/api/session/renew", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"manual"}, session.renewals)
	assert.Equal(t, float64(5), decodeBody(t, rec)["copilots_left"])
}

func TestRenewHandler_Failure(t *testing.T) {
	session := &fakeSession{
		renewErr: fmt.Errorf("%w: %w", models.ErrRenewalFailed, models.ErrChallengeTimeout),
		status:   models.SessionStatus{State: models.StateReady},
	}
	h := NewSessionHandler(session, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.RenewHandler(rec, httptest.NewRequest(http.MethodPost, "/api/session/renew", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "READY", decodeBody(t, rec)["status"])
}

var _ interfaces.SessionManager = (*fakeSession)(nil)
