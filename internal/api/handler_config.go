package api

import (
	"net/http"
	"strconv"

	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/service"
	"github.com/sdhr-guard/sdhr/internal/state"
)

// HandleGetDesiredConfig returns a handler for GET /api/v1/config.
func HandleGetDesiredConfig(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur, err := cp.GetDesiredConfig(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cur)
	}
}

// HandlePutDesiredConfig returns a handler for PUT /api/v1/config.
// The body is the complete configuration object.
func HandlePutDesiredConfig(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg model.ConfigSnapshot
		if !decodeBodyOrWrite(w, r, &cfg) {
			return
		}
		saved, err := cp.UpdateDesiredConfig(r.Context(), cfg)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// HandlePatchDesiredConfig returns a handler for PATCH /api/v1/config.
// The body is a JSON merge patch.
func HandlePatchDesiredConfig(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBodyOrWrite(w, r)
		if !ok {
			return
		}
		saved, err := cp.PatchDesiredConfig(r.Context(), body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// HandleListDesiredConfigVersions returns a handler for GET /api/v1/config/versions.
// Versions are newest first; limit=0 or absent returns all.
func HandleListDesiredConfigVersions(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeInvalid(w, "limit: must be a non-negative integer")
				return
			}
			limit = n
		}
		versions, err := cp.ListDesiredConfigVersions(r.Context(), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if versions == nil {
			versions = []state.DesiredConfigVersion{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": versions})
	}
}
