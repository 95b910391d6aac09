// Package memdriver provides an in-memory controller driver. It backs the
// "memory" inventory kind for sandbox deployments and is the fake used in
// tests across the control plane.
package memdriver

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// Faults injects failures into a Controller.
type Faults struct {
	FailStart        bool
	FailHealth       bool
	FailGetFlows     bool
	FailInstall      bool
	FailInstallIDs   map[string]bool
	FailMetrics      bool
	FailSetRole      bool
	FailGetConfig    bool
	FailUpdateConfig bool

	// StartDelay is how long after Start the controller stays unhealthy.
	StartDelay time.Duration
	// CallLatency delays every call; calls respect ctx while waiting.
	CallLatency time.Duration
}

var errInjected = errors.New("injected failure")

// Controller is a thread-safe in-memory controller.
type Controller struct {
	mu        sync.Mutex
	running   bool
	startedAt time.Time
	flows     map[string]model.FlowRule
	config    model.ConfigSnapshot
	metrics   model.Metrics
	role      model.Role
	faults    Faults

	installCalls int
	updateCalls  int
	roleHistory  []model.Role
}

// New returns a running controller with an empty flow table.
func New() *Controller {
	return &Controller{
		running: true,
		flows:   make(map[string]model.FlowRule),
	}
}

// NewStopped returns a controller that must be started before it is healthy.
func NewStopped() *Controller {
	c := New()
	c.running = false
	return c
}

// SetFaults replaces the injected faults.
func (c *Controller) SetFaults(f Faults) {
	c.mu.Lock()
	c.faults = f
	c.mu.Unlock()
}

// SetMetrics sets the snapshot returned by GetMetrics.
func (c *Controller) SetMetrics(m model.Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// SetFlows replaces the flow table.
func (c *Controller) SetFlows(rules ...model.FlowRule) {
	c.mu.Lock()
	c.flows = make(map[string]model.FlowRule, len(rules))
	for _, r := range rules {
		c.flows[r.FlowID] = r
	}
	c.mu.Unlock()
}

// Flows returns a copy of the flow table.
func (c *Controller) Flows() map[string]model.FlowRule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.flows)
}

// SetConfig replaces the controller's current configuration.
func (c *Controller) SetConfig(cfg model.ConfigSnapshot) {
	c.mu.Lock()
	c.config = cfg.Clone()
	c.mu.Unlock()
}

// Config returns a copy of the current configuration.
func (c *Controller) Config() model.ConfigSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Clone()
}

// Role returns the role last set by SetRole.
func (c *Controller) Role() model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// RoleHistory returns every role set, oldest first.
func (c *Controller) RoleHistory() []model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Role(nil), c.roleHistory...)
}

// InstallCalls returns how many InstallFlow calls were made.
func (c *Controller) InstallCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installCalls
}

// UpdateCalls returns how many UpdateConfig calls were made.
func (c *Controller) UpdateCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateCalls
}

// Running reports whether the controller has been started.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) Start(ctx context.Context) bool {
	if !c.wait(ctx) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults.FailStart {
		return false
	}
	if !c.running {
		c.running = true
		c.startedAt = time.Now()
	}
	return true
}

func (c *Controller) Stop(ctx context.Context) bool {
	if !c.wait(ctx) {
		return false
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return true
}

func (c *Controller) HealthCheck(ctx context.Context) bool {
	if !c.wait(ctx) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.faults.FailHealth {
		return false
	}
	return time.Since(c.startedAt) >= c.faults.StartDelay
}

func (c *Controller) GetFlows(ctx context.Context) (map[string]model.FlowRule, error) {
	if !c.wait(ctx) {
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults.FailGetFlows {
		return nil, errInjected
	}
	return maps.Clone(c.flows), nil
}

func (c *Controller) InstallFlow(ctx context.Context, rule model.FlowRule) bool {
	if !c.wait(ctx) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installCalls++
	if c.faults.FailInstall || c.faults.FailInstallIDs[rule.FlowID] {
		return false
	}
	if rule.Validate() != nil {
		return false
	}
	c.flows[rule.FlowID] = rule
	return true
}

func (c *Controller) RemoveFlow(ctx context.Context, flowID string) bool {
	if !c.wait(ctx) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flows[flowID]; !ok {
		return false
	}
	delete(c.flows, flowID)
	return true
}

func (c *Controller) GetMetrics(ctx context.Context) (model.Metrics, error) {
	if !c.wait(ctx) {
		return model.Metrics{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults.FailMetrics {
		return model.Metrics{}, errInjected
	}
	m := c.metrics
	if m.FlowCount == 0 {
		m.FlowCount = len(c.flows)
	}
	return m, nil
}

func (c *Controller) SetRole(ctx context.Context, role model.Role) error {
	if !c.wait(ctx) {
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults.FailSetRole {
		return errInjected
	}
	c.role = role
	c.roleHistory = append(c.roleHistory, role)
	return nil
}

func (c *Controller) GetConfig(ctx context.Context) (model.ConfigSnapshot, error) {
	if !c.wait(ctx) {
		return nil, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.faults.FailGetConfig {
		return nil, errInjected
	}
	return c.config.Clone(), nil
}

func (c *Controller) UpdateConfig(ctx context.Context, cfg model.ConfigSnapshot) error {
	if !c.wait(ctx) {
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCalls++
	if c.faults.FailUpdateConfig {
		return errInjected
	}
	c.config = cfg.Clone()
	return nil
}

// wait applies CallLatency. It returns false if ctx ended first.
func (c *Controller) wait(ctx context.Context) bool {
	c.mu.Lock()
	d := c.faults.CallLatency
	c.mu.Unlock()
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
