package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

// HealthHandler handles GET /health. It pings the database.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{
		"status":    "ok",
		"database":  "connected",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("health check: database unreachable")
		resp["status"] = "unhealthy"
		resp["database"] = "disconnected"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// APIInfoHandler handles GET /api.
func (s *Server) APIInfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "passkeeper",
		"version": Version,
		"endpoints": map[string]string{
			"auth":      "/api/auth",
			"passwords": "/api/passwords",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

// NotFoundHandler answers unknown routes with a JSON 404.
func (s *Server) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}

// MethodNotAllowedHandler answers known routes hit with the wrong method.
func (s *Server) MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
