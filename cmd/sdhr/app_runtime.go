package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/api"
	"github.com/sdhr-guard/sdhr/internal/buildinfo"
	"github.com/sdhr-guard/sdhr/internal/config"
	"github.com/sdhr-guard/sdhr/internal/configsync"
	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/driver/httpdriver"
	"github.com/sdhr-guard/sdhr/internal/driver/memdriver"
	"github.com/sdhr-guard/sdhr/internal/flowsync"
	"github.com/sdhr-guard/sdhr/internal/health"
	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/metrics"
	"github.com/sdhr-guard/sdhr/internal/registry"
	"github.com/sdhr-guard/sdhr/internal/scheduler"
	"github.com/sdhr-guard/sdhr/internal/service"
	"github.com/sdhr-guard/sdhr/internal/state"
	"github.com/sdhr-guard/sdhr/internal/switcher"
)

type sdhrApp struct {
	envCfg   *config.EnvConfig
	logger   *zap.Logger
	settings *atomic.Pointer[config.DHRSettings]

	stateRepo   *state.Repo
	stateCloser io.Closer

	registry *registry.Registry
	monitor  *health.Monitor
	flows    *flowsync.Synchronizer
	configs  *configsync.Synchronizer
	cp       *service.ControlPlaneService
	failover *service.Failover

	apiSrv *api.Server
}

func run(ctx context.Context) error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	inv, err := config.LoadInventory(envCfg.InventoryPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(envCfg.LogLevel, envCfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.String("build", buildinfo.Summary()))

	app, err := newSDHRApp(envCfg, inv, logger)
	if err != nil {
		return err
	}
	defer app.closeState()

	if err := app.cp.ApplyInventory(ctx, inv); err != nil {
		// Controllers that failed to register are logged; the rest serve.
		logger.Warn("inventory applied with errors", zap.Error(err))
	}

	app.startBackgroundServices(ctx)
	serverErrCh := app.startServers()
	runtimeErr := waitForShutdown(logger, serverErrCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(shutdownCtx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newSDHRApp(envCfg *config.EnvConfig, inv *config.Inventory, logger *zap.Logger) (*sdhrApp, error) {
	if envCfg.AdminToken == "" {
		logger.Warn("SDHR_ADMIN_TOKEN is empty; API authentication is disabled")
	} else if strength := config.CheckAdminToken(envCfg.AdminToken, inv); strength.Weak {
		logger.Warn("SDHR_ADMIN_TOKEN is weak; use a long random token",
			zap.Int("score", strength.Score), zap.String("crack_time", strength.CrackTime))
	}

	app := &sdhrApp{
		envCfg:   envCfg,
		logger:   logger,
		settings: &atomic.Pointer[config.DHRSettings]{},
	}
	settings := inv.DHR
	app.settings.Store(&settings)

	repo, closer, err := state.Bootstrap(envCfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("state bootstrap: %w", err)
	}
	app.stateRepo, app.stateCloser = repo, closer
	logger.Info("state bootstrap complete", zap.String("state_dir", envCfg.StateDir))

	if err := app.buildControlPlane(); err != nil {
		app.closeState()
		return nil, err
	}
	app.buildAPIServer()
	return app, nil
}

func (a *sdhrApp) buildControlPlane() error {
	cfg, settings := a.envCfg, a.settings.Load()

	a.registry = registry.New(registry.Config{
		MaxControllers: func() int { return a.settings.Load().MaxControllers },
	})
	a.flows = flowsync.New(flowsync.Config{
		Interval:    cfg.FlowSyncInterval,
		CallTimeout: cfg.DriverCallTimeout,
		Concurrency: cfg.FanoutConcurrency,
		Strict:      cfg.FlowSyncStrict,
		Logger:      logging.Component(a.logger, "flowsync"),
	})
	a.monitor = health.New(health.Config{
		Registry:    a.registry,
		SyncClock:   a.flows,
		Thresholds:  healthThresholds(settings.Thresholds),
		Interval:    cfg.HealthInterval,
		CallTimeout: cfg.DriverCallTimeout,
		Concurrency: cfg.FanoutConcurrency,
		Logger:      logging.Component(a.logger, "health"),
	})

	strategy, err := configsync.NewStrategy(cfg.ConfigSyncStrategy, configsync.StrategyOptions{
		TimedInterval:         settings.TimedSyncInterval.Std(),
		DifferentialThreshold: settings.DifferentialThreshold,
	})
	if err != nil {
		return fmt.Errorf("config sync strategy: %w", err)
	}
	a.configs, err = configsync.New(configsync.Config{
		Source:             a.stateRepo,
		Strategy:           strategy,
		Loads:              service.NewLoadSource(a.registry, a.monitor),
		Interval:           cfg.ConfigSyncInterval,
		FullResyncSchedule: cfg.ConfigFullResyncSchedule,
		CallTimeout:        cfg.DriverCallTimeout,
		Concurrency:        cfg.FanoutConcurrency,
		Logger:             logging.Component(a.logger, "configsync"),
	})
	if err != nil {
		return fmt.Errorf("config synchronizer: %w", err)
	}

	sched, err := scheduler.NewAdaptive(scheduler.AdaptiveConfig{
		Pool:               a.registry,
		AdaptationInterval: cfg.AdaptationInterval,
		Logger:             logging.Component(a.logger, "scheduler"),
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	sw, err := switcher.New(switcher.Config{
		Registry:      a.registry,
		Flows:         a.flows,
		Sink:          a.stateRepo,
		Settle:        cfg.SwitchSettle,
		HealthTimeout: cfg.HealthCheckTimeout,
		CallTimeout:   cfg.DriverCallTimeout,
		Logger:        logging.Component(a.logger, "switcher"),
	})
	if err != nil {
		return fmt.Errorf("switcher: %w", err)
	}

	a.cp = &service.ControlPlaneService{
		Registry:      a.registry,
		Monitor:       a.monitor,
		Scheduler:     sched,
		Flows:         a.flows,
		Configs:       a.configs,
		Switcher:      sw,
		State:         a.stateRepo,
		Settings:      a.settings,
		NewDriver:     newDriverFactory(cfg, logging.Component(a.logger, "driver")),
		HealthTimeout: cfg.HealthCheckTimeout,
		CallTimeout:   cfg.DriverCallTimeout,
		Logger:        logging.Component(a.logger, "service"),
	}

	a.failover = service.NewFailover(service.FailoverConfig{
		Registry:       a.registry,
		Selector:       sched,
		Switcher:       sw,
		MinControllers: func() int { return a.settings.Load().MinControllers },
		Interval:       cfg.ScheduleInterval,
		Cooldown:       failoverCooldown(cfg.SwitchCooldown, settings.MinSwitchInterval.Std()),
		Logger:         logging.Component(a.logger, "failover"),
	})
	return nil
}

func (a *sdhrApp) buildAPIServer() {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.Register(promReg)

	system := service.NewMemorySystemService(service.SystemInfo{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		StartedAt: time.Now().UTC(),
	}, a.settings)

	a.apiSrv = api.NewServerWithAddress(
		a.envCfg.ListenAddress,
		a.envCfg.Port,
		a.envCfg.AdminToken,
		system,
		a.envCfg,
		a.cp,
		int64(a.envCfg.APIMaxBodyBytes),
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	)
}

// newDriverFactory builds drivers for inventory and API registrations.
func newDriverFactory(cfg *config.EnvConfig, logger *zap.SugaredLogger) service.DriverFactory {
	client := &http.Client{Timeout: cfg.DriverCallTimeout}
	return func(spec config.ControllerSpec) (driver.Driver, error) {
		switch spec.Driver {
		case config.DriverMemory:
			return memdriver.New(), nil
		case config.DriverHTTP:
			return httpdriver.New(httpdriver.Config{
				BaseURL:  spec.BaseURL,
				Username: spec.Username,
				Password: spec.Password,
				Client:   client,
				Logger:   logger.With("controller", spec.ID),
			})
		default:
			return nil, fmt.Errorf("unknown driver %q", spec.Driver)
		}
	}
}

func healthThresholds(t config.AnomalyThresholds) health.Thresholds {
	return health.Thresholds{
		FlowChangeRate:   t.FlowChangeRate,
		PacketRateChange: t.PacketRateChange,
		ResponseTimeMax:  t.ResponseTimeMax.Std(),
		ErrorRateMax:     t.ErrorRateMax,
		SyncDelayMax:     t.SyncDelayMax.Std(),
	}
}

// failoverCooldown honors whichever of the env cooldown and the inventory's
// min_switch_interval is longer.
func failoverCooldown(envCooldown, minSwitchInterval time.Duration) time.Duration {
	return max(envCooldown, minSwitchInterval)
}

func (a *sdhrApp) startBackgroundServices(ctx context.Context) {
	a.monitor.Start(ctx)
	a.flows.Start(ctx)
	a.configs.Start(ctx)
	a.failover.Start(ctx)
	a.logger.Info("background loops started")
}

func (a *sdhrApp) startServers() <-chan error {
	serverErrCh := make(chan error, 1)
	go func() {
		a.logger.Info("API server starting", zap.String("url", formatListenURL(a.envCfg.ListenAddress, a.envCfg.Port)))
		err := a.apiSrv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		select {
		case serverErrCh <- fmt.Errorf("api server: %w", err):
		default:
		}
	}()
	return serverErrCh
}

func waitForShutdown(logger *zap.Logger, serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	case err := <-serverErrCh:
		logger.Error("server runtime error, shutting down", zap.Error(err))
		return err
	}
}

func formatListenAddress(listenAddress string, port int) string {
	return net.JoinHostPort(listenAddress, strconv.Itoa(port))
}

func formatListenURL(listenAddress string, port int) string {
	return "http://" + formatListenAddress(listenAddress, port)
}

// shutdown stops the API first so no new operations start, then the loops,
// then persistence.
func (a *sdhrApp) shutdown(ctx context.Context) {
	if err := a.apiSrv.Shutdown(ctx); err != nil {
		a.logger.Warn("API server shutdown error", zap.Error(err))
	}
	a.logger.Info("API server stopped")

	a.failover.Stop()
	a.configs.Stop()
	a.flows.Stop()
	a.monitor.Stop()
	a.logger.Info("background loops stopped")
}

func (a *sdhrApp) closeState() {
	if a.stateCloser == nil {
		return
	}
	if err := a.stateCloser.Close(); err != nil {
		a.logger.Warn("state close error", zap.Error(err))
	}
	a.stateCloser = nil
}
