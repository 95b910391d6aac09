package api

import (
	"net/http"

	"github.com/sdhr-guard/sdhr/internal/service"
)

type configSyncRequest struct {
	ControllerID string `json:"controller_id"`
	Force        bool   `json:"force"`
}

// HandleConfigSync returns a handler for POST /api/v1/config-sync/actions/sync.
// An empty body syncs every controller without forcing.
func HandleConfigSync(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req configSyncRequest
		if r.ContentLength != 0 {
			if !decodeBodyOrWrite(w, r, &req) {
				return
			}
		}
		report, err := cp.SyncConfig(r.Context(), req.ControllerID, req.Force)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// HandleConfigSyncStatus returns a handler for GET /api/v1/config-sync/status.
func HandleConfigSyncStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cp.GetSyncStatus().Config)
	}
}

// HandleFlowSyncStatus returns a handler for GET /api/v1/flow-sync/status.
func HandleFlowSyncStatus(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cp.GetSyncStatus().Flow)
	}
}

type forceFlowSyncRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// HandleForceFlowSync returns a handler for POST /api/v1/flow-sync/actions/force.
func HandleForceFlowSync(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forceFlowSyncRequest
		if !decodeBodyOrWrite(w, r, &req) {
			return
		}
		report, err := cp.ForceFlowSync(r.Context(), req.Source, req.Target)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
