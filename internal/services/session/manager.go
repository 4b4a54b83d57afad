// -----------------------------------------------------------------------
// Session manager - owns the credential bundle, its quota and freshness,
// and serialises renewals and queries through a single occupancy gate
// -----------------------------------------------------------------------

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

// Busy policies
const (
	PolicyReject = "reject"
	PolicyWait   = "wait"
)

// Renewal triggers recorded in history
const (
	TriggerQuery    = "query"
	TriggerStartup  = "startup"
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

var (
	errIncompleteCredentials = errors.New("renewal produced incomplete credentials")
	errClosed                = fmt.Errorf("%w: session manager closed", models.ErrServiceBusy)
)

// Config holds session manager configuration
type Config struct {
	Quota           int
	FreshnessWindow time.Duration
	BusyPolicy      string
}

// Manager implements the credential lifecycle
type Manager struct {
	renewer  interfaces.CredentialRenewer
	backends interfaces.BackendFactory
	events   interfaces.EventService
	history  interfaces.RenewalStorage
	config   Config
	logger   arbor.ILogger
	now      func() time.Time

	// gate admits one occupant (renewal or query) at a time
	gate chan struct{}

	// mu guards the state record read by Status and IsValid
	mu            sync.RWMutex
	state         models.SessionState
	creds         *models.CredentialSet
	quota         int
	lastRenewedAt time.Time
	renewals      int
	lastError     string
	closed        bool

	// guarded by gate
	client         interfaces.BackendClient
	accountCreated bool
}

var (
	_ interfaces.SessionManager      = (*Manager)(nil)
	_ interfaces.CredentialRefresher = (*Manager)(nil)
)

// Option customises a Manager
type Option func(*Manager)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEvents publishes state transitions and renewal outcomes
func WithEvents(events interfaces.EventService) Option {
	return func(m *Manager) { m.events = events }
}

// WithHistory persists renewal outcomes
func WithHistory(history interfaces.RenewalStorage) Option {
	return func(m *Manager) { m.history = history }
}

// NewManager creates a manager in INITIALIZING state with no credentials
func NewManager(renewer interfaces.CredentialRenewer, backends interfaces.BackendFactory, config Config, logger arbor.ILogger, opts ...Option) *Manager {
	if config.BusyPolicy == "" {
		config.BusyPolicy = PolicyReject
	}
	m := &Manager{
		renewer:  renewer,
		backends: backends,
		config:   config,
		logger:   logger,
		now:      time.Now,
		gate:     make(chan struct{}, 1),
		state:    models.StateInitializing,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsValid reports whether the current bundle can serve a query without renewal
func (m *Manager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	return m.creds != nil &&
		m.quota > 0 &&
		m.now().Sub(m.lastRenewedAt) < m.config.FreshnessWindow
}

// Status returns a snapshot of the manager; it never waits on the gate
func (m *Manager) Status() models.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := models.SessionStatus{
		State:          m.state,
		Message:        m.state.Message(),
		QuotaRemaining: m.quota,
		LastRenewedAt:  m.lastRenewedAt,
		Renewals:       m.renewals,
		LastError:      m.lastError,
	}
	if !m.lastRenewedAt.IsZero() {
		status.NextRenewalDue = m.lastRenewedAt.Add(m.config.FreshnessWindow)
	}
	return status
}

// acquire takes the gate according to the busy policy
func (m *Manager) acquire(ctx context.Context, policy string) error {
	if m.isClosed() {
		return errClosed
	}

	if policy == PolicyWait {
		select {
		case m.gate <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		select {
		case m.gate <- struct{}{}:
		default:
			return fmt.Errorf("%w: %s", models.ErrServiceBusy, m.Status().State.Message())
		}
	}

	// Close may have run while this caller waited for the gate
	if m.isClosed() {
		<-m.gate
		return errClosed
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// release returns the manager to a resting state and frees the gate
func (m *Manager) release() {
	m.mu.Lock()
	if m.state == models.StateBusy || m.state == models.StateRenewing {
		m.state = models.StateReady
		m.mu.Unlock()
		m.publishState()
	} else {
		m.mu.Unlock()
	}
	<-m.gate
}

// detached runs work while holding the gate. The work is not cancelled when
// ctx is; the caller gets ctx.Err() and the work completes in the background.
func detached[T any](ctx context.Context, m *Manager, name string, work func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	workCtx := context.WithoutCancel(ctx)

	common.SafeGo(m.logger, name, func() {
		var value T
		err := fmt.Errorf("%s aborted", name)
		// The gate is released before the outcome is delivered
		defer func() {
			m.release()
			done <- outcome{value, err}
		}()
		value, err = work(workCtx)
	})

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit runs one query, renewing the credentials first when they are
// missing, exhausted or stale
func (m *Manager) Submit(ctx context.Context, query string, mode models.Mode) (*models.QueryResult, error) {
	if err := m.acquire(ctx, m.config.BusyPolicy); err != nil {
		return nil, err
	}
	return detached(ctx, m, "session-submit", func(ctx context.Context) (*models.QueryResult, error) {
		return m.submit(ctx, query, mode)
	})
}

func (m *Manager) submit(ctx context.Context, query string, mode models.Mode) (*models.QueryResult, error) {
	if !m.IsValid() {
		if err := m.renew(ctx, TriggerQuery); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.state = models.StateBusy
	if mode.ConsumesQuota() {
		m.quota--
	}
	creds := m.creds
	quota := m.quota
	m.mu.Unlock()
	m.publishState()

	m.logger.Debug().
		Str("mode", string(mode)).
		Int("quota_remaining", quota).
		Msg("Submitting query to backend")

	client, err := m.backendClient(ctx, creds)
	if err != nil {
		m.recordError(err)
		return nil, wrapBackend(err)
	}

	result, err := client.Search(ctx, query, mode)
	if err != nil {
		m.recordError(err)
		m.logger.Warn().Err(err).Str("mode", string(mode)).Msg("Backend query failed")
		return nil, wrapBackend(err)
	}
	return result, nil
}

// backendClient returns the client for creds, creating it and its account
// on first use. Callers hold the gate.
func (m *Manager) backendClient(ctx context.Context, creds *models.CredentialSet) (interfaces.BackendClient, error) {
	if m.client == nil {
		client, err := m.backends(creds.Site)
		if err != nil {
			return nil, err
		}
		m.client = client
		m.accountCreated = false
	}

	if !m.accountCreated {
		m.logger.Info().Msg("Authenticated, creating backend account")
		if err := m.client.CreateAccount(ctx, creds.Mail); err != nil {
			return nil, err
		}
		m.accountCreated = true
	}
	return m.client, nil
}

// Renew forces a renewal regardless of validity
func (m *Manager) Renew(ctx context.Context, trigger string) error {
	if err := m.acquire(ctx, m.config.BusyPolicy); err != nil {
		return err
	}
	_, err := detached(ctx, m, "session-renew", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.renew(ctx, trigger)
	})
	return err
}

// RefreshIfStale renews when the manager is idle and the credentials are
// invalid. It never waits: a busy manager is skipped and reports false.
func (m *Manager) RefreshIfStale(ctx context.Context, trigger string) (bool, error) {
	if m.IsValid() {
		return false, nil
	}
	if err := m.acquire(ctx, PolicyReject); err != nil {
		if errors.Is(err, models.ErrServiceBusy) {
			return false, nil
		}
		return false, err
	}
	_, err := detached(ctx, m, "session-refresh", func(ctx context.Context) (struct{}, error) {
		if m.IsValid() {
			return struct{}{}, nil
		}
		return struct{}{}, m.renew(ctx, trigger)
	})
	return err == nil, err
}

// renew runs the acquisition procedure and installs the result. On failure
// the previous bundle is kept. Callers hold the gate.
func (m *Manager) renew(ctx context.Context, trigger string) error {
	m.mu.Lock()
	m.state = models.StateRenewing
	m.mu.Unlock()
	m.publishState()

	started := m.now()
	record := &models.RenewalRecord{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: started,
	}

	m.logger.Info().Str("trigger", trigger).Msg("Renewing credentials")

	set, err := m.renewer.Renew(ctx)
	if err == nil && !set.Complete() {
		err = errIncompleteCredentials
	}
	record.Duration = m.now().Sub(started)

	if err != nil {
		m.mu.Lock()
		m.state = models.StateReady
		m.lastError = err.Error()
		m.mu.Unlock()
		m.publishState()

		record.Error = err.Error()
		m.saveRecord(ctx, record)
		m.publish(ctx, interfaces.EventRenewalFailed, record)

		m.logger.Error().Err(err).Str("trigger", trigger).Msg("Credential renewal failed")
		return fmt.Errorf("%w: %w", models.ErrRenewalFailed, err)
	}

	if m.client != nil {
		if cerr := m.client.Close(); cerr != nil {
			m.logger.Warn().Err(cerr).Msg("Failed to close previous backend client")
		}
		m.client = nil
		m.accountCreated = false
	}

	m.mu.Lock()
	m.creds = set
	m.quota = m.config.Quota
	m.lastRenewedAt = m.now()
	m.renewals++
	m.lastError = ""
	m.mu.Unlock()

	record.Success = true
	record.Quota = m.config.Quota
	record.SiteHeaders = set.Site.Headers.Len()
	record.SiteCookies = set.Site.Cookies.Len()
	record.MailHeaders = set.Mail.Headers.Len()
	record.MailCookies = set.Mail.Cookies.Len()
	m.saveRecord(ctx, record)
	m.publish(ctx, interfaces.EventRenewalCompleted, record)

	m.logger.Info().
		Str("trigger", trigger).
		Int("quota", m.config.Quota).
		Dur("duration", record.Duration).
		Msg("Credentials renewed")

	return nil
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastError = err.Error()
	m.mu.Unlock()
}

func (m *Manager) saveRecord(ctx context.Context, record *models.RenewalRecord) {
	if m.history == nil {
		return
	}
	if err := m.history.SaveRenewal(ctx, record); err != nil {
		m.logger.Warn().Err(err).Str("renewal_id", record.ID).Msg("Failed to save renewal record")
	}
}

func (m *Manager) publishState() {
	m.publish(context.Background(), interfaces.EventSessionStateChanged, m.Status())
}

func (m *Manager) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

// Close waits for the current occupant, closes the backend client and
// rejects further work
func (m *Manager) Close(ctx context.Context) error {
	if err := m.acquire(ctx, PolicyWait); err != nil {
		if errors.Is(err, errClosed) {
			return nil
		}
		return err
	}
	defer func() { <-m.gate }()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

func wrapBackend(err error) error {
	if errors.Is(err, models.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
}
