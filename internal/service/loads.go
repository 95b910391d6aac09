package service

import (
	"math"

	"github.com/sdhr-guard/sdhr/internal/configsync"
	"github.com/sdhr-guard/sdhr/internal/health"
	"github.com/sdhr-guard/sdhr/internal/registry"
)

// LoadSource feeds the adaptive config sync strategy from the registry and
// the health monitor. Load is the latest response time as a fraction of the
// response-time threshold, clamped to [0, 1].
type LoadSource struct {
	registry *registry.Registry
	monitor  *health.Monitor
}

var _ configsync.LoadSource = (*LoadSource)(nil)

// NewLoadSource creates a LoadSource.
func NewLoadSource(reg *registry.Registry, mon *health.Monitor) *LoadSource {
	return &LoadSource{registry: reg, monitor: mon}
}

// ControllerLoad reports health and load for a registered controller.
// ErrorRate is left for the strategy to fill from its own history.
func (l *LoadSource) ControllerLoad(controllerID string) (configsync.ControllerMetrics, bool) {
	e, ok := l.registry.Get(controllerID)
	if !ok {
		return configsync.ControllerMetrics{}, false
	}
	out := configsync.ControllerMetrics{HealthScore: e.Health()}
	if l.monitor == nil {
		return out, true
	}
	rt, ok := l.monitor.LatestResponseTime(controllerID)
	if !ok {
		return out, true
	}
	limit := l.monitor.Thresholds().ResponseTimeMax
	if limit <= 0 {
		return out, true
	}
	out.Load = math.Max(0, math.Min(1, float64(rt)/float64(limit)))
	return out, true
}
