package models

import (
	"fmt"
	"time"
)

// SessionState is the lifecycle state of the credential manager
type SessionState string

const (
	StateInitializing SessionState = "INITIALIZING"
	StateReady        SessionState = "READY"
	StateRenewing     SessionState = "RENEWING"
	StateBusy         SessionState = "BUSY"
)

// Message returns the human-readable description of the state
func (s SessionState) Message() string {
	switch s {
	case StateInitializing:
		return "Session is initializing"
	case StateReady:
		return "Session is ready to accept requests"
	case StateRenewing:
		return "Session is updating auth credentials"
	case StateBusy:
		return "Session is busy processing a request"
	default:
		return string(s)
	}
}

// Mode selects how the backend answers a query. ModeCopilot consumes quota.
type Mode string

const (
	ModeCopilot Mode = "copilot" // quota-limited
	ModeConcise Mode = "concise"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCopilot, ModeConcise:
		return Mode(s), nil
	case "":
		return ModeCopilot, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// ConsumesQuota reports whether a query in this mode decrements quota
func (m Mode) ConsumesQuota() bool {
	return m == ModeCopilot
}

// QueryResult is the backend answer to one query
type QueryResult struct {
	Query    string                 `json:"query"`
	Mode     Mode                   `json:"mode"`
	Answer   string                 `json:"answer"`
	Markdown string                 `json:"markdown,omitempty"`
	Sources  []string               `json:"sources,omitempty"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// SessionStatus is a read-only snapshot of the manager
type SessionStatus struct {
	State          SessionState `json:"status"`
	Message        string       `json:"message"`
	QuotaRemaining int          `json:"copilots_left"`
	LastRenewedAt  time.Time    `json:"last_authenticated"`
	NextRenewalDue time.Time    `json:"next_authentication"`
	Renewals       int          `json:"renewals"`
	LastError      string       `json:"last_error,omitempty"`
}
