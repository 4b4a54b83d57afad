package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
)

const (
	jobName  = "credential-refresh"
	trigger  = "schedule"
	cycleMax = 10 * time.Minute
)

// Service implements SchedulerService. Each cycle renews the credentials if
// they are stale and the session is idle; a busy session skips the cycle.
type Service struct {
	refresher interfaces.CredentialRefresher
	cron      *cron.Cron
	logger    arbor.ILogger

	mu           sync.Mutex
	isProcessing bool
	running      bool
	schedule     string
	entryID      cron.EntryID
	lastRun      *time.Time
	lastError    string
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a new scheduler service
func NewService(refresher interfaces.CredentialRefresher, logger arbor.ILogger) *Service {
	return &Service{
		refresher: refresher,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start begins the scheduler with the given cron expression
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}

	id, err := s.cron.AddFunc(cronExpr, s.runScheduledTask)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	s.schedule = cronExpr

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Msg("Credential refresh scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running cycle to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(cycleMax):
		s.logger.Warn().Msg("Scheduler stop timed out waiting for running cycle")
	}

	s.logger.Info().Msg("Credential refresh scheduler stopped")
	return nil
}

// TriggerNow runs one refresh cycle on the caller's goroutine
func (s *Service) TriggerNow() error {
	s.runScheduledTask()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastError != "" {
		return fmt.Errorf("refresh failed: %s", s.lastError)
	}
	return nil
}

// IsRunning returns true if the scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetJobStatus returns the refresh job status
func (s *Service) GetJobStatus() *interfaces.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &interfaces.JobStatus{
		Name:      jobName,
		Enabled:   s.running,
		Schedule:  s.schedule,
		LastRun:   s.lastRun,
		IsRunning: s.isProcessing,
		LastError: s.lastError,
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

func (s *Service) runScheduledTask() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled refresh")
		}
	}()

	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		s.logger.Debug().Msg("Refresh cycle already running, skipping")
		return
	}
	s.isProcessing = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cycleMax)
	defer cancel()

	renewed, err := s.refresher.RefreshIfStale(ctx, trigger)

	now := time.Now()
	s.mu.Lock()
	s.isProcessing = false
	s.lastRun = &now
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled credential refresh failed")
		return
	}
	if renewed {
		s.logger.Info().Msg("Scheduled credential refresh completed")
	} else {
		s.logger.Debug().Msg("Credentials fresh or session busy, refresh skipped")
	}
}
