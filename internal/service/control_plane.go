package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/config"
	"github.com/sdhr-guard/sdhr/internal/configsync"
	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/flowsync"
	"github.com/sdhr-guard/sdhr/internal/health"
	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/registry"
	"github.com/sdhr-guard/sdhr/internal/scheduler"
	"github.com/sdhr-guard/sdhr/internal/state"
	"github.com/sdhr-guard/sdhr/internal/switcher"
)

// SwitchHistoryRetention is how many switch records are kept in state.db.
const SwitchHistoryRetention = 1000

// DriverFactory builds the driver for a controller entry.
type DriverFactory func(spec config.ControllerSpec) (driver.Driver, error)

// ControlPlaneService provides all control plane operations.
// Handlers call its methods; business logic lives here, not in handlers.
type ControlPlaneService struct {
	Registry  *registry.Registry
	Monitor   *health.Monitor
	Scheduler *scheduler.Adaptive
	Flows     *flowsync.Synchronizer
	Configs   *configsync.Synchronizer
	Switcher  *switcher.Switcher
	State     *state.Repo
	Settings  *atomic.Pointer[config.DHRSettings]
	NewDriver DriverFactory

	HealthTimeout time.Duration
	CallTimeout   time.Duration
	ReadyPoll     time.Duration

	Logger *zap.SugaredLogger
	Now    func() time.Time

	configMu sync.Mutex
}

func (s *ControlPlaneService) log() *zap.SugaredLogger { return logging.OrNop(s.Logger) }

func (s *ControlPlaneService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ControlPlaneService) settings() *config.DHRSettings {
	if s.Settings != nil {
		if cur := s.Settings.Load(); cur != nil {
			return cur
		}
	}
	return config.NewDefaultDHRSettings()
}

// ------------------------------------------------------------------
// Bootstrap
// ------------------------------------------------------------------

// ApplyInventory seeds the desired config when none is stored, restores the
// persisted switch history, and registers every listed controller. A
// controller that fails to register is logged and reported in the returned
// error without stopping the others.
func (s *ControlPlaneService) ApplyInventory(ctx context.Context, inv *config.Inventory) error {
	if inv == nil {
		inv = config.DefaultInventory()
	}
	if s.State != nil {
		seeded, err := s.State.SeedDesiredConfig(ctx, model.ConfigSnapshot(inv.DesiredConfig), s.now())
		if err != nil {
			return fmt.Errorf("seed desired config: %w", err)
		}
		if seeded {
			s.log().Infow("desired config seeded from inventory", "keys", len(inv.DesiredConfig))
		}
		if err := s.restoreSwitchHistory(ctx); err != nil {
			return err
		}
	}

	var errs []error
	for _, spec := range inv.Controllers {
		if _, err := s.RegisterController(ctx, spec); err != nil {
			s.log().Errorw("inventory controller registration failed", "controller", spec.ID, "error", err)
			errs = append(errs, fmt.Errorf("register %s: %w", spec.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *ControlPlaneService) restoreSwitchHistory(ctx context.Context) error {
	if s.Switcher == nil {
		return nil
	}
	if pruned, err := s.State.PruneSwitchRecords(ctx, SwitchHistoryRetention); err != nil {
		return fmt.Errorf("prune switch history: %w", err)
	} else if pruned > 0 {
		s.log().Infow("switch history pruned", "removed", pruned)
	}
	records, err := s.State.ListSwitchRecords(ctx, switcher.DefaultHistorySize)
	if err != nil {
		return fmt.Errorf("load switch history: %w", err)
	}
	s.Switcher.Restore(records)
	return nil
}

// ------------------------------------------------------------------
// Controllers
// ------------------------------------------------------------------

// RegisterController builds a driver for spec, adds the controller to the
// registry and both synchronizers, then brings it up. A controller that
// fails to start stays registered with status error.
func (s *ControlPlaneService) RegisterController(ctx context.Context, spec config.ControllerSpec) (model.Controller, error) {
	spec.ID = strings.TrimSpace(spec.ID)
	if err := spec.Validate(); err != nil {
		return model.Controller{}, invalidArg(err.Error())
	}
	if s.NewDriver == nil {
		return model.Controller{}, internal("no driver factory configured", nil)
	}
	raw, err := s.NewDriver(spec)
	if err != nil {
		return model.Controller{}, invalidArg("driver: " + err.Error())
	}
	d := driver.NewBounded(raw, s.HealthTimeout, s.CallTimeout)

	entry, err := s.Registry.Register(spec.ID, model.ControllerType(spec.Type), d, model.StatusUninitialized)
	if err != nil {
		return model.Controller{}, classify(err)
	}
	s.Registry.SetStartupTimeout(spec.ID, spec.StartupTimeout.Std())
	if err := s.join(spec.ID, d); err != nil {
		s.leave(spec.ID)
		_ = s.Registry.Remove(spec.ID)
		return model.Controller{}, classify(err)
	}

	s.activate(ctx, entry)
	s.log().Infow("controller registered", "controller", spec.ID, "type", spec.Type, "status", entry.Status())
	return entry.Snapshot(), nil
}

func (s *ControlPlaneService) join(id string, d driver.Driver) error {
	if s.Flows != nil {
		if err := s.Flows.AddController(id, d); err != nil {
			return err
		}
	}
	if s.Configs != nil {
		if err := s.Configs.AddController(id, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *ControlPlaneService) leave(id string) {
	if s.Flows != nil {
		s.Flows.RemoveController(id)
	}
	if s.Configs != nil {
		s.Configs.RemoveController(id)
	}
	if s.Monitor != nil {
		s.Monitor.Forget(id)
	}
}

// activate marks an already healthy controller active, otherwise starts it
// and waits for readiness.
func (s *ControlPlaneService) activate(ctx context.Context, e *registry.Entry) {
	if e.Driver.HealthCheck(ctx) {
		s.Registry.SetStatus(e.ID, model.StatusActive)
		return
	}
	if err := driver.StartAndWait(ctx, e.Driver, e.StartupTimeout(), s.ReadyPoll); err != nil {
		s.log().Warnw("controller failed to start", "controller", e.ID, "error", err)
		s.Registry.SetStatus(e.ID, model.StatusError)
		return
	}
	s.Registry.SetStatus(e.ID, model.StatusActive)
}

// RemoveController deregisters a controller everywhere and stops it. It is
// rejected while a switch is running.
func (s *ControlPlaneService) RemoveController(ctx context.Context, id string) error {
	e, ok := s.Registry.Get(id)
	if !ok {
		return notFound("controller not found")
	}
	if err := s.Registry.Remove(id); err != nil {
		return classify(err)
	}
	s.leave(id)
	if e.Role() == model.RoleMaster {
		s.log().Warnw("master controller removed", "controller", id)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout())
	defer cancel()
	if !e.Driver.Stop(stopCtx) {
		s.log().Warnw("controller stop failed after removal", "controller", id)
	}
	s.log().Infow("controller removed", "controller", id)
	return nil
}

func (s *ControlPlaneService) callTimeout() time.Duration {
	if s.CallTimeout > 0 {
		return s.CallTimeout
	}
	return driver.DefaultCallTimeout
}

// ListControllers returns every registered controller in registration order.
func (s *ControlPlaneService) ListControllers() []model.Controller {
	return s.Registry.Snapshot()
}

// GetController returns one controller.
func (s *ControlPlaneService) GetController(id string) (model.Controller, error) {
	e, ok := s.Registry.Get(id)
	if !ok {
		return model.Controller{}, notFound("controller not found")
	}
	return e.Snapshot(), nil
}

// ------------------------------------------------------------------
// Scheduling & switching
// ------------------------------------------------------------------

// Selection is the outcome of a scheduler decision.
type Selection struct {
	ControllerID string `json:"controller_id"`
	Selected     bool   `json:"selected"`
	Strategy     string `json:"strategy"`
}

// SelectController asks the adaptive scheduler for a controller.
func (s *ControlPlaneService) SelectController() Selection {
	id, ok := s.Scheduler.SelectController()
	return Selection{ControllerID: id, Selected: ok, Strategy: s.Scheduler.CurrentStrategy()}
}

// GetStrategyStatus returns the adaptive scheduler state.
func (s *ControlPlaneService) GetStrategyStatus() scheduler.Status {
	return s.Scheduler.Status()
}

// SetStrategy forces the active scheduling strategy.
func (s *ControlPlaneService) SetStrategy(name string) error {
	if err := s.Scheduler.SetStrategy(strings.TrimSpace(name)); err != nil {
		return classify(err)
	}
	return nil
}

// SwitchRequest names the controllers of a manual switch. An empty From
// means the current master; with no master the target is elected.
type SwitchRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SwitchResult reports a manual switch.
type SwitchResult struct {
	Success bool                `json:"success"`
	Record  *model.SwitchRecord `json:"record,omitempty"`
}

// SwitchController runs a manual master switch. The switch is detached from
// ctx cancellation so a dropped request never aborts it midway.
func (s *ControlPlaneService) SwitchController(ctx context.Context, req SwitchRequest) (SwitchResult, error) {
	from, to := strings.TrimSpace(req.From), strings.TrimSpace(req.To)
	if to == "" {
		return SwitchResult{}, invalidArg("to: must not be empty")
	}
	if _, ok := s.Registry.Get(to); !ok {
		return SwitchResult{}, notFound(fmt.Sprintf("controller %q not found", to))
	}
	if from != "" {
		if _, ok := s.Registry.Get(from); !ok {
			return SwitchResult{}, notFound(fmt.Sprintf("controller %q not found", from))
		}
	}
	if s.Registry.Switching() {
		return SwitchResult{}, conflict("another switch operation is in progress")
	}

	runCtx := context.WithoutCancel(ctx)
	if from == "" {
		master, ok := s.Registry.Master()
		if !ok {
			return switchResult(s.Switcher.Promote(runCtx, to))
		}
		from = master
	}
	if from == to {
		return SwitchResult{}, invalidArg("from and to must differ")
	}
	return switchResult(s.Switcher.Switch(runCtx, from, to))
}

// switchResult maps a switcher record to the API result. A nil record means
// the switcher rejected the request before running it.
func switchResult(rec *model.SwitchRecord) (SwitchResult, error) {
	if rec == nil {
		return SwitchResult{}, conflict("switch rejected: another switch is in progress or a controller was removed")
	}
	return SwitchResult{Success: rec.Success, Record: rec}, nil
}

// GetSwitchHistory returns the retained switch records, oldest first.
func (s *ControlPlaneService) GetSwitchHistory() []model.SwitchRecord {
	return s.Switcher.History()
}

// GetSwitchRecord returns one retained switch record by id.
func (s *ControlPlaneService) GetSwitchRecord(id string) (model.SwitchRecord, error) {
	for _, rec := range s.Switcher.History() {
		if rec.ID == id {
			return rec, nil
		}
	}
	return model.SwitchRecord{}, notFound("switch record not found")
}

// ------------------------------------------------------------------
// Synchronization
// ------------------------------------------------------------------

// SyncStatus combines config and flow synchronization state.
type SyncStatus struct {
	Config configsync.Status `json:"config"`
	Flow   flowsync.Status   `json:"flow"`
}

// SyncConfig pushes the desired config to one controller or, with an empty
// id, to every controller.
func (s *ControlPlaneService) SyncConfig(ctx context.Context, controllerID string, force bool) (configsync.Report, error) {
	controllerID = strings.TrimSpace(controllerID)
	if controllerID != "" {
		if _, ok := s.Registry.Get(controllerID); !ok {
			return configsync.Report{}, notFound("controller not found")
		}
	}
	report, err := s.Configs.SyncConfig(ctx, controllerID, force)
	if err != nil {
		return configsync.Report{}, classify(err)
	}
	return report, nil
}

// GetSyncStatus returns config and flow synchronization state.
func (s *ControlPlaneService) GetSyncStatus() SyncStatus {
	return SyncStatus{Config: s.Configs.Status(), Flow: s.Flows.Status()}
}

// ForceFlowSync copies source's flow table onto target.
func (s *ControlPlaneService) ForceFlowSync(ctx context.Context, sourceID, targetID string) (flowsync.InstallReport, error) {
	sourceID, targetID = strings.TrimSpace(sourceID), strings.TrimSpace(targetID)
	if sourceID == "" || targetID == "" {
		return flowsync.InstallReport{}, invalidArg("source and target: must not be empty")
	}
	if sourceID == targetID {
		return flowsync.InstallReport{}, invalidArg("source and target must differ")
	}
	report, err := s.Flows.ForceSync(ctx, sourceID, targetID)
	if errors.Is(err, flowsync.ErrIncompleteSync) {
		return report, internal(err.Error(), err)
	}
	if err != nil {
		return report, classify(err)
	}
	return report, nil
}

// ------------------------------------------------------------------
// Desired config
// ------------------------------------------------------------------

// GetDesiredConfig returns the current desired controller configuration.
func (s *ControlPlaneService) GetDesiredConfig(ctx context.Context) (state.DesiredConfig, error) {
	if s.State == nil {
		return state.DesiredConfig{}, internal("state store not configured", nil)
	}
	cur, err := s.State.GetDesiredConfig(ctx)
	if err != nil {
		return state.DesiredConfig{}, internal("load desired config", err)
	}
	return cur, nil
}

// UpdateDesiredConfig replaces the desired controller configuration.
// Controllers pick it up on the next config sync pass.
func (s *ControlPlaneService) UpdateDesiredConfig(ctx context.Context, cfg model.ConfigSnapshot) (state.DesiredConfig, error) {
	if cfg == nil {
		return state.DesiredConfig{}, invalidArg("config: must be a JSON object")
	}
	if s.State == nil {
		return state.DesiredConfig{}, internal("state store not configured", nil)
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.saveDesired(ctx, cfg)
}

// PatchDesiredConfig merges patchJSON into the desired configuration. A null
// value deletes a key and nested objects merge recursively.
func (s *ControlPlaneService) PatchDesiredConfig(ctx context.Context, patchJSON []byte) (state.DesiredConfig, error) {
	patch, verr := parseMergePatch(patchJSON)
	if verr != nil {
		return state.DesiredConfig{}, verr
	}
	if s.State == nil {
		return state.DesiredConfig{}, internal("state store not configured", nil)
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()

	cur, err := s.State.GetDesiredConfig(ctx)
	if err != nil {
		return state.DesiredConfig{}, internal("load desired config", err)
	}
	return s.saveDesired(ctx, patch.applyTo(cur.Config))
}

func (s *ControlPlaneService) saveDesired(ctx context.Context, cfg model.ConfigSnapshot) (state.DesiredConfig, error) {
	saved, err := s.State.SaveDesiredConfig(ctx, cfg, s.now())
	if err != nil {
		return state.DesiredConfig{}, internal("persist desired config", err)
	}
	s.log().Infow("desired config updated", "version", saved.Version, "fingerprint", saved.Fingerprint)
	return saved, nil
}

// ListDesiredConfigVersions returns desired config history, newest first.
func (s *ControlPlaneService) ListDesiredConfigVersions(ctx context.Context, limit int) ([]state.DesiredConfigVersion, error) {
	if limit < 0 {
		return nil, invalidArg("limit: must be non-negative")
	}
	if s.State == nil {
		return nil, internal("state store not configured", nil)
	}
	versions, err := s.State.ListDesiredConfigVersions(ctx, limit)
	if err != nil {
		return nil, internal("list desired config versions", err)
	}
	return versions, nil
}

// ------------------------------------------------------------------
// Health
// ------------------------------------------------------------------

// ControllerHealth is one controller's health view.
type ControllerHealth struct {
	model.Controller
	Report       *health.Report `json:"report,omitempty"`
	LastFlowSync *time.Time     `json:"last_flow_sync"`
}

// HealthStatus is the pool-wide health view.
type HealthStatus struct {
	Master        string              `json:"master"`
	Switching     bool                `json:"switching"`
	SwitcherState string              `json:"switcher_state"`
	Degraded      bool                `json:"degraded"`
	Settings      *config.DHRSettings `json:"settings"`
	Controllers   []ControllerHealth  `json:"controllers"`
}

// GetHealthStatus reports every controller's latest evaluation plus
// pool-level state. Degraded means fewer than min_controllers are active.
func (s *ControlPlaneService) GetHealthStatus() HealthStatus {
	settings := s.settings()
	out := HealthStatus{
		Switching: s.Registry.Switching(),
		Settings:  settings,
	}
	if master, ok := s.Registry.Master(); ok {
		out.Master = master
	}
	if s.Switcher != nil {
		out.SwitcherState = s.Switcher.State()
	}

	active := 0
	for _, c := range s.Registry.Snapshot() {
		if c.Status == model.StatusActive {
			active++
		}
		ch := ControllerHealth{Controller: c}
		if s.Monitor != nil {
			if r, ok := s.Monitor.Report(c.ID); ok {
				ch.Report = &r
			}
		}
		if s.Flows != nil {
			if t, ok := s.Flows.LastSync(c.ID); ok {
				ch.LastFlowSync = &t
			}
		}
		out.Controllers = append(out.Controllers, ch)
	}
	out.Degraded = active < settings.MinControllers
	return out
}
