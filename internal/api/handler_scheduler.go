package api

import (
	"net/http"
	"strings"

	"github.com/sdhr-guard/sdhr/internal/service"
)

// HandleSchedulerStatus returns a handler for GET /api/v1/scheduler/status.
func HandleSchedulerStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cp.GetStrategyStatus())
	}
}

// HandleSelectController returns a handler for POST /api/v1/scheduler/actions/select.
// An empty pool is not an error; the response reports selected=false.
func HandleSelectController(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cp.SelectController())
	}
}

type setStrategyRequest struct {
	Strategy string `json:"strategy"`
}

// HandleSetStrategy returns a handler for PUT /api/v1/scheduler/strategy.
func HandleSetStrategy(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setStrategyRequest
		if !decodeBodyOrWrite(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Strategy) == "" {
			writeInvalid(w, "strategy: must not be empty")
			return
		}
		if err := cp.SetStrategy(req.Strategy); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cp.GetStrategyStatus())
	}
}
