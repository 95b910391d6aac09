package configsync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/metrics"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/scanloop"
)

// DesiredConfigSource yields the configuration every controller should run.
type DesiredConfigSource interface {
	DesiredConfig(ctx context.Context) (model.ConfigSnapshot, error)
}

// LoadSource reports load signals used by the adaptive strategy. ErrorRate
// is ignored; the strategy derives it from its own history.
type LoadSource interface {
	ControllerLoad(controllerID string) (ControllerMetrics, bool)
}

// Config configures a Synchronizer.
type Config struct {
	Source   DesiredConfigSource
	Strategy SyncStrategy
	Loads    LoadSource
	Interval time.Duration
	// FullResyncSchedule is an optional standard cron expression for a
	// forced push to every controller.
	FullResyncSchedule string
	CallTimeout        time.Duration
	Concurrency        int
	Logger             *zap.SugaredLogger
	Now                func() time.Time
}

// Result is the outcome for one controller.
type Result struct {
	Status   model.SyncStatus `json:"status"`
	Priority float64          `json:"priority"`
	Error    string           `json:"error,omitempty"`
}

// Report summarizes one SyncConfig call.
type Report struct {
	StartedAt   time.Time         `json:"started_at"`
	Strategy    string            `json:"strategy"`
	Forced      bool              `json:"forced"`
	Fingerprint string            `json:"fingerprint"`
	Results     map[string]Result `json:"results"`
}

// Status is a read-only view of the synchronizer.
type Status struct {
	Strategy    string                     `json:"strategy"`
	Controllers map[string]model.SyncState `json:"controllers"`
	LastReport  *Report                    `json:"last_report,omitempty"`
}

type member struct {
	id     string
	driver driver.Driver
}

// Synchronizer pushes desired configuration to its members.
type Synchronizer struct {
	source      DesiredConfigSource
	strategy    SyncStrategy
	loads       LoadSource
	callTimeout time.Duration
	concurrency int
	logger      *zap.SugaredLogger
	now         func() time.Time

	membership sync.RWMutex
	members    []member

	states     *xsync.Map[string, model.SyncState]
	lastReport atomic.Pointer[Report]

	loop       *scanloop.Loop
	schedule   cron.Schedule
	scheduler  *cron.Cron
	cronCancel context.CancelFunc
	cronMu     sync.Mutex
}

// New creates a Synchronizer. The strategy defaults to adaptive.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("configsync: desired config source is required")
	}
	if cfg.Strategy == nil {
		cfg.Strategy = NewAdaptive()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = driver.DefaultCallTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Synchronizer{
		source:      cfg.Source,
		strategy:    cfg.Strategy,
		loads:       cfg.Loads,
		callTimeout: cfg.CallTimeout,
		concurrency: cfg.Concurrency,
		logger:      logging.OrNop(cfg.Logger),
		now:         cfg.Now,
		states:      xsync.NewMap[string, model.SyncState](),
	}
	if cfg.FullResyncSchedule != "" {
		sched, err := cron.ParseStandard(cfg.FullResyncSchedule)
		if err != nil {
			return nil, fmt.Errorf("configsync: full resync schedule %q: %w", cfg.FullResyncSchedule, err)
		}
		s.schedule = sched
	}
	s.loop = scanloop.New("configsync", cfg.Interval, 0, func(ctx context.Context) {
		if _, err := s.SyncConfig(ctx, "", false); err != nil {
			s.logger.Warnw("periodic config sync failed", "error", err)
		}
	}, s.logger)
	return s, nil
}

// Start launches the periodic sync and, if configured, the cron resync.
func (s *Synchronizer) Start(ctx context.Context) {
	s.loop.Start(ctx)
	if s.schedule == nil {
		return
	}
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.scheduler != nil {
		return
	}
	cronCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.logger.Infow("scheduled full config resync")
		if _, err := s.SyncConfig(cronCtx, "", true); err != nil {
			s.logger.Warnw("scheduled config resync failed", "error", err)
		}
	}))
	c.Start()
	s.scheduler = c
	s.cronCancel = cancel
}

// Stop halts both loops and waits for in-flight passes.
func (s *Synchronizer) Stop() {
	s.cronMu.Lock()
	if s.scheduler != nil {
		s.cronCancel()
		<-s.scheduler.Stop().Done()
		s.scheduler = nil
	}
	s.cronMu.Unlock()
	s.loop.Stop()
}

// StrategyName returns the active strategy.
func (s *Synchronizer) StrategyName() string { return s.strategy.Name() }

// AddController adds a member with status never.
func (s *Synchronizer) AddController(id string, d driver.Driver) error {
	if id == "" || d == nil {
		return fmt.Errorf("add controller %q: %w", id, model.ErrInvalid)
	}
	s.membership.Lock()
	defer s.membership.Unlock()
	if s.indexOf(id) >= 0 {
		return fmt.Errorf("controller %s already synchronized: %w", id, model.ErrConflict)
	}
	s.members = append(s.members, member{id: id, driver: d})
	s.states.Store(id, model.SyncState{Status: model.SyncNever})
	return nil
}

// RemoveController drops a member and its sync state.
func (s *Synchronizer) RemoveController(id string) bool {
	s.membership.Lock()
	defer s.membership.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.members = slices.Delete(s.members, i, i+1)
	s.states.Delete(id)
	if a, ok := s.strategy.(*Adaptive); ok {
		a.Forget(id)
	}
	return true
}

// Status returns per-controller sync state.
func (s *Synchronizer) Status() Status {
	states := make(map[string]model.SyncState, s.states.Size())
	s.states.Range(func(id string, st model.SyncState) bool {
		states[id] = st
		return true
	})
	return Status{
		Strategy:    s.strategy.Name(),
		Controllers: states,
		LastReport:  s.lastReport.Load(),
	}
}

// SyncConfig pushes the desired configuration. With a controller id only
// that controller is considered; otherwise every member is, dispatched in
// descending priority. Unless force is set, the strategy may skip a
// controller. Per-controller failures are reported in the Report and never
// fail the call.
func (s *Synchronizer) SyncConfig(ctx context.Context, controllerID string, force bool) (Report, error) {
	desired, err := s.source.DesiredConfig(ctx)
	if err != nil {
		return Report{}, model.Wrap(model.KindConfig, "sync_config", controllerID, err)
	}

	s.membership.RLock()
	defer s.membership.RUnlock()

	report := Report{
		StartedAt:   s.now(),
		Strategy:    s.strategy.Name(),
		Forced:      force,
		Fingerprint: desired.Fingerprint().Hex(),
		Results:     make(map[string]Result),
	}

	var targets []member
	if controllerID != "" {
		i := s.indexOf(controllerID)
		if i < 0 {
			return Report{}, model.Wrap(model.KindSync, "sync_config", controllerID, model.ErrNotFound)
		}
		targets = []member{s.members[i]}
	} else {
		targets = slices.Clone(s.members)
	}
	s.refreshLoads(targets)

	priorities := make(map[string]float64, len(targets))
	for _, m := range targets {
		priorities[m.id] = s.strategy.Priority(m.id)
	}
	slices.SortStableFunc(targets, func(a, b member) int {
		pa, pb := priorities[a.id], priorities[b.id]
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		}
		return 0
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, m := range targets {
		g.Go(func() error {
			res := s.syncOne(gctx, m, desired, force)
			res.Priority = priorities[m.id]
			mu.Lock()
			report.Results[m.id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if controllerID == "" {
		s.lastReport.Store(&report)
	}
	return report, nil
}

func (s *Synchronizer) syncOne(ctx context.Context, m member, desired model.ConfigSnapshot, force bool) Result {
	prev, _ := s.states.Load(m.id)
	var lastSync time.Time
	if prev.LastSync != nil {
		lastSync = *prev.LastSync
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	current, err := m.driver.GetConfig(callCtx)
	cancel()
	if err != nil {
		s.logger.Warnw("controller config fetch failed", "controller", m.id, "error", err)
		current = nil
	}

	if !force && !s.strategy.ShouldSync(m.id, lastSync, desired, current) {
		s.setStatus(m.id, model.SyncSkipped, nil)
		return Result{Status: model.SyncSkipped}
	}

	callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
	err = m.driver.UpdateConfig(callCtx, desired.Clone())
	cancel()
	if rec, ok := s.strategy.(ResultRecorder); ok {
		rec.RecordResult(m.id, err == nil)
	}
	if err != nil {
		s.logger.Warnw("config push failed", "controller", m.id, "error", err)
		s.setStatus(m.id, model.SyncFailed, nil)
		return Result{Status: model.SyncFailed, Error: err.Error()}
	}

	now := s.now()
	s.setStatus(m.id, model.SyncSynced, &now)
	s.logger.Infow("config synced", "controller", m.id, "forced", force)
	return Result{Status: model.SyncSynced}
}

// setStatus records status and, when synced is non-nil, the sync time. A
// controller removed mid-pass is not re-added.
func (s *Synchronizer) setStatus(id string, status model.SyncStatus, synced *time.Time) {
	s.states.Compute(id, func(old model.SyncState, loaded bool) (model.SyncState, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		old.Status = status
		if synced != nil {
			old.LastSync = synced
		}
		return old, xsync.UpdateOp
	})
	metrics.RecordConfigSync(id, string(status))
}

func (s *Synchronizer) refreshLoads(targets []member) {
	a, ok := s.strategy.(*Adaptive)
	if !ok || s.loads == nil {
		return
	}
	for _, m := range targets {
		lm, ok := s.loads.ControllerLoad(m.id)
		if !ok {
			continue
		}
		lm.ErrorRate = a.FailureRatio(m.id)
		a.UpdateMetrics(m.id, lm)
	}
}

func (s *Synchronizer) indexOf(id string) int {
	return slices.IndexFunc(s.members, func(m member) bool { return m.id == id })
}
