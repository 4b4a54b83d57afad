package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ternarybob/plexus/internal/models"
)

// UnavailableMessage is returned with every 503 response
const UnavailableMessage = "Backend is unavailable at the moment, try again later."

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteUnavailable writes the 503 body carrying the session state name
func WriteUnavailable(w http.ResponseWriter, state models.SessionState) error {
	return WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":  string(state),
		"message": UnavailableMessage,
	})
}

// GetLimitParam reads ?limit= clamped to (0, max]; def when absent or invalid.
func GetLimitParam(r *http.Request, def, max int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
