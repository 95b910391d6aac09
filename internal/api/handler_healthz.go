package api

import (
	"net/http"

	"github.com/sdhr-guard/sdhr/internal/service"
)

// HandleHealthz returns a handler for GET /healthz.
// No authentication is required.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleHealthStatus returns a handler for GET /api/v1/health.
func HandleHealthStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cp.GetHealthStatus())
	}
}
