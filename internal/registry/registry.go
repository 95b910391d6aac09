// Package registry owns the set of controllers under DHR management.
package registry

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/sdhr-guard/sdhr/internal/driver"
	"github.com/sdhr-guard/sdhr/internal/model"
)

// Entry is one registered controller. ID, Type, and Driver are immutable;
// the mutable fields are guarded by mu.
type Entry struct {
	ID           string
	Type         model.ControllerType
	Driver       driver.Driver
	RegisteredAt time.Time

	seq uint64

	mu      sync.RWMutex
	status  model.ControllerStatus
	role    model.Role
	health  float64
	startup time.Duration
}

// Snapshot returns the entry's externally visible state.
func (e *Entry) Snapshot() model.Controller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return model.Controller{
		ID:     e.ID,
		Type:   e.Type,
		Status: e.status,
		Role:   e.role,
		Health: e.health,
	}
}

// Status returns the lifecycle status.
func (e *Entry) Status() model.ControllerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Role returns the current role.
func (e *Entry) Role() model.Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// Health returns the current health score.
func (e *Entry) Health() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health
}

// StartupTimeout returns how long to wait for the controller to become
// ready after a start: the configured override, else the type default.
func (e *Entry) StartupTimeout() time.Duration {
	e.mu.RLock()
	d := e.startup
	e.mu.RUnlock()
	if d > 0 {
		return d
	}
	return driver.StartupTimeout(e.Type)
}

// Registry is the single source of truth for registered controllers.
// Health is written only by the health monitor; role and status only by the
// switcher. Registration order is preserved for deterministic tie-breaks.
type Registry struct {
	entries *xsync.Map[string, *Entry]
	seq     atomic.Uint64

	// membership serializes Register, Remove, and TryBeginSwitch.
	membership sync.Mutex

	maxControllers func() int
	switching      atomic.Bool
}

// Config configures a Registry.
type Config struct {
	// MaxControllers caps registrations. Nil or non-positive means no cap.
	MaxControllers func() int
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	return &Registry{
		entries:        xsync.NewMap[string, *Entry](),
		maxControllers: cfg.MaxControllers,
	}
}

// Register adds a controller with status uninitialized, no role, and health
// 1.0. It returns an error wrapping model.ErrConflict for a duplicate id or
// when the cap is reached.
func (r *Registry) Register(id string, typ model.ControllerType, d driver.Driver, status model.ControllerStatus) (*Entry, error) {
	if id == "" {
		return nil, fmt.Errorf("controller id: %w", model.ErrInvalid)
	}
	if !typ.IsValid() {
		return nil, fmt.Errorf("controller type %q: %w", typ, model.ErrInvalid)
	}
	if d == nil {
		return nil, fmt.Errorf("controller %s: nil driver: %w", id, model.ErrInvalid)
	}
	if status == "" {
		status = model.StatusUninitialized
	}

	r.membership.Lock()
	defer r.membership.Unlock()

	if r.maxControllers != nil {
		if limit := r.maxControllers(); limit > 0 && r.entries.Size() >= limit {
			return nil, fmt.Errorf("max_controllers (%d) reached: %w", limit, model.ErrConflict)
		}
	}

	created := false
	entry, _ := r.entries.Compute(id, func(old *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		created = true
		return &Entry{
			ID:           id,
			Type:         typ,
			Driver:       d,
			RegisteredAt: time.Now(),
			seq:          r.seq.Add(1),
			status:       status,
			health:       1.0,
		}, xsync.UpdateOp
	})
	if !created {
		return nil, fmt.Errorf("controller %s already registered: %w", id, model.ErrConflict)
	}
	return entry, nil
}

// Remove deletes a controller. It is rejected while a switch is running.
func (r *Registry) Remove(id string) error {
	r.membership.Lock()
	defer r.membership.Unlock()

	if r.switching.Load() {
		return fmt.Errorf("remove %s: %w", id, model.ErrSwitchInProgress)
	}

	found := false
	r.entries.Compute(id, func(old *Entry, loaded bool) (*Entry, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		found = true
		return nil, xsync.DeleteOp
	})
	if !found {
		return fmt.Errorf("controller %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, bool) {
	return r.entries.Load(id)
}

// Len returns the number of registered controllers.
func (r *Registry) Len() int {
	return r.entries.Size()
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, r.entries.Size())
	r.entries.Range(func(_ string, e *Entry) bool {
		out = append(out, e)
		return true
	})
	slices.SortFunc(out, func(a, b *Entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// Snapshot returns every controller's state in registration order.
func (r *Registry) Snapshot() []model.Controller {
	entries := r.Entries()
	out := make([]model.Controller, len(entries))
	for i, e := range entries {
		out[i] = e.Snapshot()
	}
	return out
}

// Master returns the id of the controller currently holding the master role.
func (r *Registry) Master() (string, bool) {
	for _, e := range r.Entries() {
		if e.Role() == model.RoleMaster {
			return e.ID, true
		}
	}
	return "", false
}

// SetHealth stores a health score clamped to [0, 1].
func (r *Registry) SetHealth(id string, score float64) bool {
	e, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	score = max(0, min(1, score))
	e.mu.Lock()
	e.health = score
	e.mu.Unlock()
	return true
}

// SetRole records a controller's role.
func (r *Registry) SetRole(id string, role model.Role) bool {
	e, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.role = role
	e.mu.Unlock()
	return true
}

// SetStartupTimeout overrides the controller's startup wait. Non-positive
// restores the type default.
func (r *Registry) SetStartupTimeout(id string, d time.Duration) bool {
	e, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.startup = max(d, 0)
	e.mu.Unlock()
	return true
}

// SetStatus records a controller's lifecycle status.
func (r *Registry) SetStatus(id string, status model.ControllerStatus) bool {
	e, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	return true
}

// TryBeginSwitch claims the global switching flag. It returns false if a
// switch is already running.
func (r *Registry) TryBeginSwitch() bool {
	r.membership.Lock()
	defer r.membership.Unlock()
	return r.switching.CompareAndSwap(false, true)
}

// EndSwitch releases the switching flag.
func (r *Registry) EndSwitch() {
	r.switching.Store(false)
}

// Switching reports whether a switch is running.
func (r *Registry) Switching() bool {
	return r.switching.Load()
}
