package api

import (
	"net/http"

	"github.com/sdhr-guard/sdhr/internal/config"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/service"
)

// HandleListControllers returns a handler for GET /api/v1/controllers.
// Optional filters: type, status, role. Sort keys: registered (default),
// id, type, status, health.
func HandleListControllers(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		typ, status, role := q.Get("type"), q.Get("status"), q.Get("role")
		controllerListing.serve(w, r, func() []model.Controller {
			controllers := make([]model.Controller, 0)
			for _, c := range cp.ListControllers() {
				if typ != "" && string(c.Type) != typ {
					continue
				}
				if status != "" && string(c.Status) != status {
					continue
				}
				if role != "" && string(c.Role) != role {
					continue
				}
				controllers = append(controllers, c)
			}
			return controllers
		})
	}
}

// HandleGetController returns a handler for GET /api/v1/controllers/{id}.
func HandleGetController(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		c, err := cp.GetController(id)
		if err != nil {
			writeControllerError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type registerControllerRequest struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Driver         string          `json:"driver"`
	BaseURL        string          `json:"base_url"`
	Username       string          `json:"username"`
	Password       string          `json:"password"`
	StartupTimeout config.Duration `json:"startup_timeout"`
}

// HandleRegisterController returns a handler for POST /api/v1/controllers.
func HandleRegisterController(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerControllerRequest
		if !decodeBodyOrWrite(w, r, &req) {
			return
		}
		if req.Driver == "" {
			req.Driver = config.DriverHTTP
		}
		c, err := cp.RegisterController(r.Context(), config.ControllerSpec{
			ID:             req.ID,
			Type:           req.Type,
			Driver:         req.Driver,
			BaseURL:        req.BaseURL,
			Username:       req.Username,
			Password:       req.Password,
			StartupTimeout: req.StartupTimeout,
		})
		if err != nil {
			writeControllerError(w, req.ID, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

// HandleRemoveController returns a handler for DELETE /api/v1/controllers/{id}.
func HandleRemoveController(cp *service.ControlPlaneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := cp.RemoveController(r.Context(), id); err != nil {
			writeControllerError(w, id, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
