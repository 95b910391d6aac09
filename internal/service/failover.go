package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/registry"
	"github.com/sdhr-guard/sdhr/internal/scanloop"
)

// Selector picks a controller from the pool.
type Selector interface {
	SelectController() (string, bool)
}

// MasterSwitcher changes the master controller.
type MasterSwitcher interface {
	SwitchController(ctx context.Context, fromID, toID string) bool
	Elect(ctx context.Context, id string) bool
}

// Decision is the outcome of one failover tick.
type Decision string

const (
	DecisionBelowMinimum Decision = "below_minimum"
	DecisionBusy         Decision = "busy"
	DecisionNoCandidate  Decision = "no_candidate"
	DecisionElected      Decision = "elected"
	DecisionElectFailed  Decision = "elect_failed"
	DecisionSteady       Decision = "steady"
	DecisionCooldown     Decision = "cooldown"
	DecisionSwitched     Decision = "switched"
	DecisionSwitchFailed Decision = "switch_failed"
)

// FailoverConfig configures a Failover loop.
type FailoverConfig struct {
	Registry *registry.Registry
	Selector Selector
	Switcher MasterSwitcher
	// MinControllers is read every tick. Nil means 2.
	MinControllers func() int
	Interval       time.Duration
	// Cooldown is the minimum gap between two automatic switch attempts.
	Cooldown time.Duration
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

// Failover periodically asks the scheduler for a controller and moves the
// master role to it.
type Failover struct {
	registry       *registry.Registry
	selector       Selector
	switcher       MasterSwitcher
	minControllers func() int
	cooldown       time.Duration
	logger         *zap.SugaredLogger
	now            func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
	last        Decision

	loop *scanloop.Loop
}

// NewFailover creates a Failover loop. Zero-valued config fields take
// defaults.
func NewFailover(cfg FailoverConfig) *Failover {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MinControllers == nil {
		cfg.MinControllers = func() int { return 2 }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &Failover{
		registry:       cfg.Registry,
		selector:       cfg.Selector,
		switcher:       cfg.Switcher,
		minControllers: cfg.MinControllers,
		cooldown:       cfg.Cooldown,
		logger:         logging.OrNop(cfg.Logger),
		now:            cfg.Now,
	}
	f.loop = scanloop.New("failover", cfg.Interval, 0, func(ctx context.Context) { f.Tick(ctx) }, f.logger)
	return f
}

// Start launches the periodic loop.
func (f *Failover) Start(ctx context.Context) { f.loop.Start(ctx) }

// Stop cancels the loop and waits for it to exit.
func (f *Failover) Stop() { f.loop.Stop() }

// LastDecision returns the outcome of the most recent tick.
func (f *Failover) LastDecision() Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Tick runs one failover decision.
func (f *Failover) Tick(ctx context.Context) Decision {
	d := f.decide(ctx)
	f.mu.Lock()
	f.last = d
	f.mu.Unlock()
	return d
}

func (f *Failover) decide(ctx context.Context) Decision {
	if n, minimum := f.registry.Len(), f.minControllers(); n < minimum {
		f.logger.Debugw("pool below minimum size", "controllers", n, "min_controllers", minimum)
		return DecisionBelowMinimum
	}
	if f.registry.Switching() {
		return DecisionBusy
	}

	selected, ok := f.selector.SelectController()
	if !ok {
		return DecisionNoCandidate
	}

	master, hasMaster := f.registry.Master()
	if !hasMaster {
		f.markAttempt()
		if f.switcher.Elect(ctx, selected) {
			return DecisionElected
		}
		return DecisionElectFailed
	}
	if selected == master {
		return DecisionSteady
	}
	if !f.cooledDown() {
		return DecisionCooldown
	}

	f.markAttempt()
	f.logger.Infow("automatic switch", "from", master, "to", selected)
	if f.switcher.SwitchController(ctx, master, selected) {
		return DecisionSwitched
	}
	return DecisionSwitchFailed
}

func (f *Failover) cooledDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAttempt.IsZero() || f.now().Sub(f.lastAttempt) >= f.cooldown
}

func (f *Failover) markAttempt() {
	f.mu.Lock()
	f.lastAttempt = f.now()
	f.mu.Unlock()
}
