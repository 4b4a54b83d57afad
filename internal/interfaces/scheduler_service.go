package interfaces

import (
	"context"
	"time"
)

// JobStatus represents the current status of the refresh job
type JobStatus struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	IsRunning bool       `json:"is_running"`
	LastError string     `json:"last_error,omitempty"`
}

// CredentialRefresher renews stale credentials when nothing else holds the session
type CredentialRefresher interface {
	RefreshIfStale(ctx context.Context, trigger string) (bool, error)
}

// SchedulerService manages cron-based proactive refresh
type SchedulerService interface {
	// Start the scheduler with a cron expression
	Start(cronExpr string) error

	// Stop the scheduler
	Stop() error

	// TriggerNow runs one refresh cycle immediately
	TriggerNow() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// GetJobStatus returns the refresh job status
	GetJobStatus() *JobStatus
}
