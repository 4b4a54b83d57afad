package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/interfaces"
	"github.com/ternarybob/plexus/internal/models"
)

const maxQueryBodyBytes = 64 << 10

// QueryRequest is the body of POST /api/query. Message is the primary field
// and Query is accepted as an alias.
type QueryRequest struct {
	Message string `json:"message" validate:"required_without=Query,max=4000"`
	Query   string `json:"query" validate:"required_without=Message,max=4000"`
	Mode    string `json:"mode" validate:"omitempty,oneof=copilot concise"`
}

// Text returns the query text, preferring Message
func (q QueryRequest) Text() string {
	if strings.TrimSpace(q.Message) != "" {
		return strings.TrimSpace(q.Message)
	}
	return strings.TrimSpace(q.Query)
}

// SessionHandler serves the query and forced-renewal endpoints
type SessionHandler struct {
	session  interfaces.SessionManager
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(session interfaces.SessionManager, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		session:  session,
		validate: validator.New(),
		logger:   logger,
	}
}

// QueryHandler handles POST /api/query
func (h *SessionHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	text := req.Text()
	if text == "" {
		WriteError(w, http.StatusBadRequest, "message is required")
		return
	}

	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.session.Submit(r.Context(), text, mode)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": result,
	})
}

// RenewHandler handles POST /api/session/renew
func (h *SessionHandler) RenewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.session.Renew(r.Context(), "manual"); err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, h.session.Status())
}

// writeSessionError maps session failures onto HTTP responses
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		h.logger.Debug().Str("path", r.URL.Path).Msg("Client went away before the session finished")
	case errors.Is(err, models.ErrServiceBusy),
		errors.Is(err, models.ErrRenewalFailed),
		errors.Is(err, models.ErrBackendUnavailable):
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Session unavailable")
		WriteUnavailable(w, h.session.Status().State)
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Session request failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// validationMessage flattens validator errors into one line naming each field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required_without":
			parts = append(parts, fmt.Sprintf("%s is required", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
