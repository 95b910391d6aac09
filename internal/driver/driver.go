// Package driver defines the capability surface the control plane needs from
// a concrete SDN controller, plus helpers for bounded calls and startup.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// Driver is implemented once per controller implementation family.
// Start and Stop are idempotent and report false on failure.
type Driver interface {
	Start(ctx context.Context) bool
	Stop(ctx context.Context) bool
	HealthCheck(ctx context.Context) bool

	GetFlows(ctx context.Context) (map[string]model.FlowRule, error)
	InstallFlow(ctx context.Context, rule model.FlowRule) bool
	RemoveFlow(ctx context.Context, flowID string) bool

	GetMetrics(ctx context.Context) (model.Metrics, error)

	// SetRole is used by the switcher only.
	SetRole(ctx context.Context, role model.Role) error

	// GetConfig and UpdateConfig are used by config sync only.
	GetConfig(ctx context.Context) (model.ConfigSnapshot, error)
	UpdateConfig(ctx context.Context, cfg model.ConfigSnapshot) error
}

const (
	DefaultHealthCheckTimeout = time.Second
	DefaultCallTimeout        = 5 * time.Second
	DefaultReadyPoll          = 250 * time.Millisecond
)

// StartupTimeout returns how long a controller of type t may take to become
// healthy after Start.
func StartupTimeout(t model.ControllerType) time.Duration {
	if t == model.ControllerOpenDaylight {
		return 90 * time.Second
	}
	return 20 * time.Second
}

// ErrNotReady is returned by WaitReady when the controller never reported
// healthy within the allowed time.
var ErrNotReady = errors.New("controller not ready")

// WaitReady polls HealthCheck with exponential backoff until the driver
// reports healthy, ctx is done, or timeout elapses.
func WaitReady(ctx context.Context, d Driver, timeout, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultReadyPoll
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = poll
	b.MaxInterval = 8 * poll
	b.MaxElapsedTime = timeout

	op := func() error {
		if d.HealthCheck(ctx) {
			return nil
		}
		return ErrNotReady
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, ctxErr)
		}
		return err
	}
	return nil
}

// StartAndWait starts d and waits for it to become healthy.
func StartAndWait(ctx context.Context, d Driver, timeout, poll time.Duration) error {
	if !d.Start(ctx) {
		return errors.New("start failed")
	}
	return WaitReady(ctx, d, timeout, poll)
}
