// Package switcher moves the master role between controllers through a
// prepare, sync, execute, verify sequence with rollback on failure.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/flowsync"
	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/metrics"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/registry"
)

// Machine states.
const (
	StateIdle        = "idle"
	StatePreparing   = "preparing"
	StateSyncing     = "syncing"
	StateExecuting   = "executing"
	StateVerifying   = "verifying"
	StateRollingBack = "rolling_back"
)

const (
	eventPrepare   = "prepare"
	eventSync      = "sync"
	eventExecute   = "execute"
	eventVerify    = "verify"
	eventComplete  = "complete"
	eventAbort     = "abort"
	eventRecovered = "recovered"
)

// DefaultHistorySize is the number of switch records kept in memory.
const DefaultHistorySize = 10

// DefaultSettle is how long Execute waits for a role change to take effect.
const DefaultSettle = time.Second

// FlowSyncer copies a source flow table onto a target.
type FlowSyncer interface {
	ForceSync(ctx context.Context, sourceID, targetID string) (flowsync.InstallReport, error)
}

// HistorySink persists switch records.
type HistorySink interface {
	SaveSwitchRecord(ctx context.Context, rec model.SwitchRecord) error
}

// Config configures a Switcher. Settle is the wait after role changes;
// negative disables it.
type Config struct {
	Registry      *registry.Registry
	Flows         FlowSyncer
	Sink          HistorySink
	Settle        time.Duration
	HealthTimeout time.Duration
	CallTimeout   time.Duration
	ReadyPoll     time.Duration
	HistorySize   int
	Logger        *zap.SugaredLogger
	Now           func() time.Time
}

// Switcher performs master failover. At most one switch runs at a time;
// the exclusion flag lives in the registry so removals can observe it.
type Switcher struct {
	registry      *registry.Registry
	flows         FlowSyncer
	sink          HistorySink
	settle        time.Duration
	healthTimeout time.Duration
	callTimeout   time.Duration
	readyPoll     time.Duration
	historySize   int
	logger        *zap.SugaredLogger
	now           func() time.Time

	machine *fsm.FSM

	mu      sync.Mutex
	history []model.SwitchRecord
}

// phaseError marks the phase a switch failed in.
type phaseError struct {
	phase string
	err   error
}

func (e *phaseError) Error() string { return e.phase + ": " + e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }

// New creates a Switcher. Zero-valued config fields take defaults.
func New(cfg Config) (*Switcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("switcher: registry is required")
	}
	if cfg.Flows == nil {
		return nil, fmt.Errorf("switcher: flow syncer is required")
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = driver.DefaultHealthCheckTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = driver.DefaultCallTimeout
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = driver.DefaultReadyPoll
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Switcher{
		registry:      cfg.Registry,
		flows:         cfg.Flows,
		sink:          cfg.Sink,
		settle:        cfg.Settle,
		healthTimeout: cfg.HealthTimeout,
		callTimeout:   cfg.CallTimeout,
		readyPoll:     cfg.ReadyPoll,
		historySize:   cfg.HistorySize,
		logger:        logging.OrNop(cfg.Logger),
		now:           cfg.Now,
	}
	working := []string{StatePreparing, StateSyncing, StateExecuting, StateVerifying}
	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventPrepare, Src: []string{StateIdle}, Dst: StatePreparing},
			{Name: eventSync, Src: []string{StatePreparing}, Dst: StateSyncing},
			{Name: eventExecute, Src: []string{StateSyncing}, Dst: StateExecuting},
			{Name: eventVerify, Src: []string{StateExecuting}, Dst: StateVerifying},
			{Name: eventComplete, Src: []string{StateVerifying}, Dst: StateIdle},
			{Name: eventAbort, Src: working, Dst: StateRollingBack},
			{Name: eventRecovered, Src: []string{StateRollingBack}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugw("switch phase", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s, nil
}

// State returns the machine's current state.
func (s *Switcher) State() string { return s.machine.Current() }

// SwitchController promotes to and demotes from. It returns true only when
// every phase succeeded. A failed phase triggers a rollback that restores
// from as master. A call made while another switch runs returns false
// immediately without side effects or a history record.
func (s *Switcher) SwitchController(ctx context.Context, fromID, toID string) bool {
	rec := s.Switch(ctx, fromID, toID)
	return rec != nil && rec.Success
}

// Switch runs the same sequence as SwitchController and returns the record
// it appended to the history, or nil when the request was rejected before
// any phase ran.
func (s *Switcher) Switch(ctx context.Context, fromID, toID string) (rec *model.SwitchRecord) {
	if fromID == "" || toID == "" || fromID == toID {
		s.logger.Warnw("invalid switch request", "from", fromID, "to", toID)
		return nil
	}
	if !s.registry.TryBeginSwitch() {
		s.logger.Warnw("another switch operation is in progress", "from", fromID, "to", toID)
		metrics.RecordSwitchBusy()
		return nil
	}
	defer s.registry.EndSwitch()

	// Removal is rejected while the flag is held, so these lookups stay valid
	// for the whole switch.
	from, foundFrom := s.registry.Get(fromID)
	to, foundTo := s.registry.Get(toID)
	if !foundFrom || !foundTo {
		s.logger.Warnw("switch references unknown controller", "from", fromID, "to", toID)
		return nil
	}

	start := s.now()
	var end time.Time
	s.machine.SetState(StateIdle)

	var failure *phaseError
	defer func() {
		if r := recover(); r != nil {
			if end.IsZero() {
				end = s.now()
			}
			failure = &phaseError{phase: s.State(), err: fmt.Errorf("panic: %v", r)}
			s.logger.Errorw("switch panicked", "from", fromID, "to", toID, "phase", failure.phase, "panic", r)
			s.rollback(ctx, from, to)
			rec = s.finish(ctx, fromID, toID, start, end, failure)
		}
	}()

	failure = s.run(ctx, from, to)
	end = s.now()
	if failure != nil {
		s.logger.Errorw("switch failed", "from", fromID, "to", toID, "phase", failure.phase, "error", failure.err)
		s.rollback(ctx, from, to)
	} else {
		s.fire(ctx, eventComplete)
		s.logger.Infow("switch complete", "from", fromID, "to", toID)
	}
	return s.finish(ctx, fromID, toID, start, end, failure)
}

// Elect promotes id to master when the pool has no master. It shares the
// switch exclusion flag and records the promotion in the history.
func (s *Switcher) Elect(ctx context.Context, id string) bool {
	rec := s.Promote(ctx, id)
	return rec != nil && rec.Success
}

// Promote runs Elect and returns the appended record, or nil when the
// request was rejected before anything ran.
func (s *Switcher) Promote(ctx context.Context, id string) *model.SwitchRecord {
	if !s.registry.TryBeginSwitch() {
		metrics.RecordSwitchBusy()
		return nil
	}
	defer s.registry.EndSwitch()

	e, found := s.registry.Get(id)
	if !found {
		s.logger.Warnw("elect references unknown controller", "controller", id)
		return nil
	}

	start := s.now()
	var failure *phaseError
	if master, ok := s.registry.Master(); ok {
		failure = &phaseError{phase: StatePreparing, err: fmt.Errorf("controller %s is already master: %w", master, model.ErrConflict)}
	} else if err := s.prepareTarget(ctx, e); err != nil {
		failure = &phaseError{phase: StatePreparing, err: err}
	} else if err := s.setRole(ctx, e, model.RoleMaster); err != nil {
		failure = &phaseError{phase: StateExecuting, err: err}
	}
	if failure == nil {
		s.registry.SetRole(id, model.RoleMaster)
		for _, other := range s.registry.Entries() {
			if other.ID != id && other.Role() == model.RoleNone {
				s.registry.SetRole(other.ID, model.RoleSlave)
			}
		}
		s.logger.Infow("master elected", "controller", id)
	} else {
		s.logger.Warnw("master election failed", "controller", id, "phase", failure.phase, "error", failure.err)
	}
	return s.finish(ctx, "", id, start, s.now(), failure)
}

// History returns the retained switch records, oldest first.
func (s *Switcher) History() []model.SwitchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SwitchRecord(nil), s.history...)
}

// Restore seeds the in-memory history, typically from persisted records.
func (s *Switcher) Restore(records []model.SwitchRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	for _, rec := range records {
		s.appendLocked(rec)
	}
}

func (s *Switcher) run(ctx context.Context, from, to *registry.Entry) *phaseError {
	s.fire(ctx, eventPrepare)
	if err := s.prepare(ctx, to); err != nil {
		return &phaseError{phase: StatePreparing, err: err}
	}

	s.fire(ctx, eventSync)
	if _, err := s.flows.ForceSync(ctx, from.ID, to.ID); err != nil {
		return &phaseError{phase: StateSyncing, err: err}
	}

	s.fire(ctx, eventExecute)
	if err := s.execute(ctx, from, to); err != nil {
		return &phaseError{phase: StateExecuting, err: err}
	}

	s.fire(ctx, eventVerify)
	if err := s.verify(ctx, to); err != nil {
		return &phaseError{phase: StateVerifying, err: err}
	}
	return nil
}

func (s *Switcher) prepare(ctx context.Context, to *registry.Entry) error {
	if !s.healthCheck(ctx, to) {
		return model.Errorf(model.KindSwitch, "prepare", to.ID, "target failed health check")
	}
	return s.prepareTarget(ctx, to)
}

// prepareTarget starts e when it is not active and waits for readiness
// within the controller's startup timeout.
func (s *Switcher) prepareTarget(ctx context.Context, e *registry.Entry) error {
	if e.Status() == model.StatusActive {
		return nil
	}
	if err := driver.StartAndWait(ctx, e.Driver, e.StartupTimeout(), s.readyPoll); err != nil {
		s.registry.SetStatus(e.ID, model.StatusError)
		return model.Wrap(model.KindSwitch, "start", e.ID, err)
	}
	s.registry.SetStatus(e.ID, model.StatusActive)
	return nil
}

func (s *Switcher) execute(ctx context.Context, from, to *registry.Entry) error {
	if err := s.setRole(ctx, from, model.RoleSlave); err != nil {
		return err
	}
	s.registry.SetRole(from.ID, model.RoleSlave)
	if err := s.setRole(ctx, to, model.RoleMaster); err != nil {
		return err
	}
	s.registry.SetRole(to.ID, model.RoleMaster)

	t := time.NewTimer(s.settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Switcher) verify(ctx context.Context, to *registry.Entry) error {
	if !s.healthCheck(ctx, to) {
		return model.Errorf(model.KindSwitch, "verify", to.ID, "target failed health check")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	flows, err := to.Driver.GetFlows(callCtx)
	if err != nil {
		return model.Wrap(model.KindSwitch, "verify", to.ID, err)
	}
	if len(flows) == 0 {
		return model.Errorf(model.KindSwitch, "verify", to.ID, "flow table is empty")
	}
	return nil
}

// rollback restores from as master and to as slave, then re-syncs flows.
// Failures are logged only.
func (s *Switcher) rollback(ctx context.Context, from, to *registry.Entry) {
	if s.State() != StateRollingBack {
		s.fire(ctx, eventAbort)
	}
	// Rollback must run even when the switch context was cancelled.
	rbCtx := context.WithoutCancel(ctx)

	var errs []error
	if err := s.setRole(rbCtx, from, model.RoleMaster); err != nil {
		errs = append(errs, err)
	}
	s.registry.SetRole(from.ID, model.RoleMaster)
	if err := s.setRole(rbCtx, to, model.RoleSlave); err != nil {
		errs = append(errs, err)
	}
	s.registry.SetRole(to.ID, model.RoleSlave)
	if _, err := s.flows.ForceSync(rbCtx, from.ID, to.ID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Errorw("rollback incomplete", "from", from.ID, "to", to.ID, "error", err)
	} else {
		s.logger.Infow("rollback complete", "from", from.ID, "to", to.ID)
	}
	s.fire(ctx, eventRecovered)
}

// finish records the outcome. Duration covers the phases only; rollback
// time is excluded.
func (s *Switcher) finish(ctx context.Context, fromID, toID string, start, end time.Time, failure *phaseError) *model.SwitchRecord {
	rec := model.SwitchRecord{
		ID:        uuid.NewString(),
		Timestamp: end,
		From:      fromID,
		To:        toID,
		Success:   failure == nil,
		Duration:  end.Sub(start),
	}
	if failure != nil {
		rec.FailedPhase = failure.phase
		rec.Error = failure.err.Error()
	}
	s.mu.Lock()
	s.appendLocked(rec)
	s.mu.Unlock()
	metrics.RecordSwitch(rec.Success, rec.Duration.Seconds())

	if s.sink != nil {
		if err := s.sink.SaveSwitchRecord(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Warnw("failed to persist switch record", "id", rec.ID, "error", err)
		}
	}
	s.machine.SetState(StateIdle)
	return &rec
}

func (s *Switcher) appendLocked(rec model.SwitchRecord) {
	s.history = append(s.history, rec)
	if len(s.history) > s.historySize {
		s.history = append([]model.SwitchRecord(nil), s.history[len(s.history)-s.historySize:]...)
	}
}

func (s *Switcher) fire(ctx context.Context, event string) {
	if err := s.machine.Event(ctx, event); err != nil {
		s.logger.Warnw("switch machine rejected event", "event", event, "state", s.machine.Current(), "error", err)
	}
}

func (s *Switcher) healthCheck(ctx context.Context, e *registry.Entry) bool {
	callCtx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()
	return e.Driver.HealthCheck(callCtx)
}

func (s *Switcher) setRole(ctx context.Context, e *registry.Entry, role model.Role) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return model.Wrap(model.KindSwitch, "set_role", e.ID, e.Driver.SetRole(callCtx, role))
}
