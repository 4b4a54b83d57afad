package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes under the configured path prefix
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	prefix := normalizePrefix(s.app.Config.Server.PathPrefix)

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Status
	mux.HandleFunc(prefix+"/status/ping", s.app.APIHandler.PingHandler)
	mux.HandleFunc(prefix+"/status/session", s.app.StatusHandler.SessionStatusHandler)
	mux.HandleFunc(prefix+"/status/renewals", s.app.StatusHandler.RenewalsHandler)
	mux.HandleFunc(prefix+"/status/scheduler", s.app.StatusHandler.SchedulerStatusHandler)

	// API routes - Session
	mux.Handle(prefix+"/query", s.withQueryLimit(http.HandlerFunc(s.app.SessionHandler.QueryHandler)))
	mux.HandleFunc(prefix+"/session/renew", s.app.SessionHandler.RenewHandler)

	// API routes - System
	mux.HandleFunc(prefix+"/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc(prefix+"/health", s.app.APIHandler.HealthHandler)

	// Prometheus metrics
	if s.app.Metrics != nil {
		mux.Handle("/metrics", s.app.Metrics.Handler())
	}

	// 404 handler for unmatched routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// normalizePrefix returns "" or "/x" without a trailing slash
func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}
