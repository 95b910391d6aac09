package scheduler

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/metrics"
	"github.com/sdhr-guard/sdhr/internal/model"
)

// PerformanceWindow is the number of performance samples kept per strategy.
const PerformanceWindow = 10

// Adaptation thresholds.
const (
	errorRateThreshold  = 0.3
	loadLevelThreshold  = 0.8
	diversityThreshold  = 0.6
	unhealthyScoreBelow = 0.5
)

// PoolSource yields the current controller pool in registration order.
type PoolSource interface {
	Snapshot() []model.Controller
}

// SystemMetrics summarizes the pool for strategy adaptation.
type SystemMetrics struct {
	LoadLevel      float64 `json:"load_level"`
	ErrorRate      float64 `json:"error_rate"`
	DiversityScore float64 `json:"diversity_score"`
}

// Status is a read-only view of the adaptive scheduler.
type Status struct {
	CurrentStrategy     string             `json:"current_strategy"`
	SystemMetrics       SystemMetrics      `json:"system_metrics"`
	StrategyPerformance map[string]float64 `json:"strategy_performance"`
	LastAdaptation      time.Time          `json:"last_adaptation"`
}

// AdaptiveConfig configures an Adaptive scheduler.
type AdaptiveConfig struct {
	Pool               PoolSource
	AdaptationInterval time.Duration
	InitialStrategy    string
	Logger             *zap.SugaredLogger
	Now                func() time.Time
}

// Adaptive delegates to one of the built-in strategies and periodically
// switches strategy based on pool-wide metrics.
type Adaptive struct {
	pool     PoolSource
	interval time.Duration
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu             sync.Mutex
	order          []string
	strategies     map[string]Strategy
	performance    map[string][]float64
	current        string
	lastAdaptation time.Time
	system         SystemMetrics
}

// NewAdaptive creates an Adaptive scheduler. The first selection evaluates
// the adaptation rules immediately.
func NewAdaptive(cfg AdaptiveConfig) (*Adaptive, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("scheduler: pool source is required")
	}
	if cfg.AdaptationInterval <= 0 {
		cfg.AdaptationInterval = 60 * time.Second
	}
	if cfg.InitialStrategy == "" {
		cfg.InitialStrategy = HealthAwareName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	a := &Adaptive{
		pool:     cfg.Pool,
		interval: cfg.AdaptationInterval,
		logger:   logging.OrNop(cfg.Logger),
		now:      cfg.Now,
		order:    []string{RoundRobinName, HealthAwareName, DiversityAwareName},
		strategies: map[string]Strategy{
			RoundRobinName:     NewRoundRobin(),
			HealthAwareName:    NewHealthAware(),
			DiversityAwareName: NewDiversityAware(),
		},
		performance: make(map[string][]float64, 3),
	}
	if _, ok := a.strategies[cfg.InitialStrategy]; !ok {
		return nil, fmt.Errorf("scheduler: unknown strategy %q", cfg.InitialStrategy)
	}
	a.current = cfg.InitialStrategy
	return a, nil
}

// SelectController refreshes system metrics, adapts the active strategy if
// the adaptation interval has elapsed, and delegates the pick. Internal
// failures are logged and reported as no selection.
func (a *Adaptive) SelectController() (id string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorw("controller selection failed", "strategy", a.current, "panic", r)
			id, ok = "", false
		}
	}()

	pool := a.pool.Snapshot()
	a.updateSystemMetrics(pool)
	if len(pool) > 0 {
		a.adapt()
	}

	strategy := a.strategies[a.current]
	id, ok = strategy.Select(pool)
	a.recordPerformance(pool, id, ok)
	if ok {
		metrics.RecordSelection(a.current)
	}
	return id, ok
}

// Status returns the current strategy, metrics, and mean performance.
func (a *Adaptive) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	perf := make(map[string]float64, len(a.order))
	for _, name := range a.order {
		perf[name] = mean(a.performance[name])
	}
	return Status{
		CurrentStrategy:     a.current,
		SystemMetrics:       a.system,
		StrategyPerformance: perf,
		LastAdaptation:      a.lastAdaptation,
	}
}

// SetStrategy forces the active strategy. Automatic adaptation resumes after
// the adaptation interval.
func (a *Adaptive) SetStrategy(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.strategies[name]; !ok {
		return fmt.Errorf("unknown strategy %q: %w", name, model.ErrInvalid)
	}
	if name != a.current {
		a.logger.Infow("strategy set manually", "from", a.current, "to", name)
		a.current = name
		metrics.RecordStrategyChange(name)
	}
	a.lastAdaptation = a.now()
	return nil
}

// CurrentStrategy returns the active strategy name.
func (a *Adaptive) CurrentStrategy() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adaptive) updateSystemMetrics(pool []model.Controller) {
	if len(pool) == 0 {
		a.system = SystemMetrics{}
		return
	}
	var total float64
	unhealthy := 0
	types := make(map[model.ControllerType]struct{}, len(model.SupportedControllerTypes))
	for _, c := range pool {
		total += c.Health
		if c.Health < unhealthyScoreBelow {
			unhealthy++
		}
		types[c.Type] = struct{}{}
	}
	a.system = SystemMetrics{
		LoadLevel:      total / float64(len(pool)),
		ErrorRate:      float64(unhealthy) / float64(len(pool)),
		DiversityScore: float64(len(types)) / float64(len(model.SupportedControllerTypes)),
	}
}

func (a *Adaptive) adapt() {
	now := a.now()
	if !a.lastAdaptation.IsZero() && now.Sub(a.lastAdaptation) < a.interval {
		return
	}

	var next string
	switch {
	case a.system.ErrorRate > errorRateThreshold:
		next = HealthAwareName
	case a.system.LoadLevel > loadLevelThreshold:
		next = RoundRobinName
	case a.system.DiversityScore < diversityThreshold:
		next = DiversityAwareName
	default:
		next = a.bestPerforming()
	}

	if next != a.current {
		a.logger.Infow("switching scheduling strategy", "from", a.current, "to", next,
			"load_level", a.system.LoadLevel, "error_rate", a.system.ErrorRate, "diversity", a.system.DiversityScore)
		a.current = next
		metrics.RecordStrategyChange(next)
	}
	a.lastAdaptation = now
}

// bestPerforming returns the strategy with the highest mean performance.
// Ties resolve in a.order.
func (a *Adaptive) bestPerforming() string {
	best := a.order[0]
	bestScore := mean(a.performance[best])
	for _, name := range a.order[1:] {
		if s := mean(a.performance[name]); s > bestScore {
			best, bestScore = name, s
		}
	}
	return best
}

func (a *Adaptive) recordPerformance(pool []model.Controller, id string, ok bool) {
	perf := 0.0
	if ok {
		for _, c := range pool {
			if c.ID == id {
				perf = c.Health
				break
			}
		}
	}
	p := append(a.performance[a.current], perf)
	if len(p) > PerformanceWindow {
		p = p[len(p)-PerformanceWindow:]
	}
	a.performance[a.current] = p
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
