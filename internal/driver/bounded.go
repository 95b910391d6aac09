package driver

import (
	"context"
	"time"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// Bounded wraps a Driver so every call runs under a deadline. A controller
// that hangs is reported as failed instead of stalling the caller.
type Bounded struct {
	inner         Driver
	healthTimeout time.Duration
	callTimeout   time.Duration
}

// NewBounded wraps d. Non-positive timeouts fall back to the defaults.
func NewBounded(d Driver, healthTimeout, callTimeout time.Duration) *Bounded {
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthCheckTimeout
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Bounded{inner: d, healthTimeout: healthTimeout, callTimeout: callTimeout}
}

// Unwrap returns the wrapped driver.
func (b *Bounded) Unwrap() Driver { return b.inner }

// Start is bounded by ctx only; startup readiness is handled by WaitReady.
func (b *Bounded) Start(ctx context.Context) bool {
	return b.inner.Start(ctx)
}

func (b *Bounded) Stop(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return b.inner.Stop(ctx)
}

func (b *Bounded) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.healthTimeout)
	defer cancel()
	return boundedCall(ctx, false, func() bool { return b.inner.HealthCheck(ctx) })
}

func (b *Bounded) GetFlows(ctx context.Context) (map[string]model.FlowRule, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	type result struct {
		flows map[string]model.FlowRule
		err   error
	}
	r := boundedCall(ctx, result{err: context.DeadlineExceeded}, func() result {
		flows, err := b.inner.GetFlows(ctx)
		return result{flows, err}
	})
	return r.flows, r.err
}

func (b *Bounded) InstallFlow(ctx context.Context, rule model.FlowRule) bool {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return boundedCall(ctx, false, func() bool { return b.inner.InstallFlow(ctx, rule) })
}

func (b *Bounded) RemoveFlow(ctx context.Context, flowID string) bool {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return boundedCall(ctx, false, func() bool { return b.inner.RemoveFlow(ctx, flowID) })
}

func (b *Bounded) GetMetrics(ctx context.Context) (model.Metrics, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	type result struct {
		m   model.Metrics
		err error
	}
	r := boundedCall(ctx, result{err: context.DeadlineExceeded}, func() result {
		m, err := b.inner.GetMetrics(ctx)
		return result{m, err}
	})
	return r.m, r.err
}

func (b *Bounded) SetRole(ctx context.Context, role model.Role) error {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return boundedCall(ctx, error(context.DeadlineExceeded), func() error { return b.inner.SetRole(ctx, role) })
}

func (b *Bounded) GetConfig(ctx context.Context) (model.ConfigSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	type result struct {
		cfg model.ConfigSnapshot
		err error
	}
	r := boundedCall(ctx, result{err: context.DeadlineExceeded}, func() result {
		cfg, err := b.inner.GetConfig(ctx)
		return result{cfg, err}
	})
	return r.cfg, r.err
}

func (b *Bounded) UpdateConfig(ctx context.Context, cfg model.ConfigSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()
	return boundedCall(ctx, error(context.DeadlineExceeded), func() error { return b.inner.UpdateConfig(ctx, cfg) })
}

// boundedCall runs fn in its own goroutine and returns onTimeout if ctx ends
// first. Drivers that ignore ctx therefore cannot block the caller.
func boundedCall[T any](ctx context.Context, onTimeout T, fn func() T) T {
	done := make(chan T, 1)
	go func() { done <- fn() }()
	select {
	case v := <-done:
		return v
	case <-ctx.Done():
		return onTimeout
	}
}
