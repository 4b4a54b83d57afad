package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
)

const (
	defaultRenewalLimit = 20
	maxRenewalLimit     = 200
)

// StatusHandler serves read-only views of the session, its history and the refresh schedule
type StatusHandler struct {
	session   interfaces.SessionManager
	history   interfaces.RenewalStorage
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler. history and scheduler may be nil.
func NewStatusHandler(
	session interfaces.SessionManager,
	history interfaces.RenewalStorage,
	scheduler interfaces.SchedulerService,
	logger arbor.ILogger,
) *StatusHandler {
	return &StatusHandler{
		session:   session,
		history:   history,
		scheduler: scheduler,
		logger:    logger,
	}
}

// SessionStatusHandler handles GET /api/status/session
func (h *StatusHandler) SessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, h.session.Status())
}

// RenewalsHandler handles GET /api/status/renewals?limit=N
func (h *StatusHandler) RenewalsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if h.history == nil {
		WriteError(w, http.StatusNotFound, "Renewal history is not enabled")
		return
	}

	limit := GetLimitParam(r, defaultRenewalLimit, maxRenewalLimit)
	records, err := h.history.ListRenewals(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list renewals")
		WriteError(w, http.StatusInternalServerError, "Failed to list renewals")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"renewals": records,
		"count":    len(records),
	})
}

// SchedulerStatusHandler handles GET /api/status/scheduler
func (h *StatusHandler) SchedulerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if h.scheduler == nil {
		WriteJSON(w, http.StatusOK, interfaces.JobStatus{Name: "credential-refresh"})
		return
	}

	WriteJSON(w, http.StatusOK, h.scheduler.GetJobStatus())
}
