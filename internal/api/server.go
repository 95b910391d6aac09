package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/sdhr-guard/sdhr/internal/config"
	"github.com/sdhr-guard/sdhr/internal/service"
)

// Server wraps the HTTP server and mux for the SDHR API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with all routes.
// cp may be nil if the control plane is not yet initialized; metrics may be
// nil to leave /metrics unregistered.
func NewServer(
	port int,
	adminToken string,
	system service.SystemService,
	envCfg *config.EnvConfig,
	cp *service.ControlPlaneService,
	apiMaxBodyBytes int64,
	metrics http.Handler,
) *Server {
	return NewServerWithAddress("", port, adminToken, system, envCfg, cp, apiMaxBodyBytes, metrics)
}

// NewServerWithAddress creates a new API server with an explicit listen address.
func NewServerWithAddress(
	listenAddress string,
	port int,
	adminToken string,
	system service.SystemService,
	envCfg *config.EnvConfig,
	cp *service.ControlPlaneService,
	apiMaxBodyBytes int64,
	metrics http.Handler,
) *Server {
	mux := http.NewServeMux()

	// Public (no auth)
	mux.Handle("GET /healthz", HandleHealthz())
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// Authenticated routes
	authed := http.NewServeMux()
	if system != nil {
		authed.Handle("GET /api/v1/system/info", HandleSystemInfo(system))
		authed.Handle("GET /api/v1/system/settings", HandleSystemSettings(system))
	}
	authed.Handle("GET /api/v1/system/config/env", HandleSystemEnvConfig(envCfg))

	if cp != nil {
		// Controllers.
		authed.Handle("GET /api/v1/controllers", HandleListControllers(cp))
		authed.Handle("POST /api/v1/controllers", HandleRegisterController(cp))
		authed.Handle("GET /api/v1/controllers/{id}", HandleGetController(cp))
		authed.Handle("DELETE /api/v1/controllers/{id}", HandleRemoveController(cp))

		// Scheduling.
		authed.Handle("GET /api/v1/scheduler/status", HandleSchedulerStatus(cp))
		authed.Handle("POST /api/v1/scheduler/actions/select", HandleSelectController(cp))
		authed.Handle("PUT /api/v1/scheduler/strategy", HandleSetStrategy(cp))

		// Switching.
		authed.Handle("POST /api/v1/switch", HandleSwitch(cp))
		authed.Handle("GET /api/v1/switch/history", HandleSwitchHistory(cp))
		authed.Handle("GET /api/v1/switch/history/{id}", HandleGetSwitchRecord(cp))

		// Synchronization.
		authed.Handle("POST /api/v1/config-sync/actions/sync", HandleConfigSync(cp))
		authed.Handle("GET /api/v1/config-sync/status", HandleConfigSyncStatus(cp))
		authed.Handle("GET /api/v1/flow-sync/status", HandleFlowSyncStatus(cp))
		authed.Handle("POST /api/v1/flow-sync/actions/force", HandleForceFlowSync(cp))

		// Desired controller configuration.
		authed.Handle("GET /api/v1/config", HandleGetDesiredConfig(cp))
		authed.Handle("PUT /api/v1/config", HandlePutDesiredConfig(cp))
		authed.Handle("PATCH /api/v1/config", HandlePatchDesiredConfig(cp))
		authed.Handle("GET /api/v1/config/versions", HandleListDesiredConfigVersions(cp))

		// Pool health.
		authed.Handle("GET /api/v1/health", HandleHealthStatus(cp))
	}

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
