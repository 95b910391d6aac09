// Package scanloop runs periodic control-plane tasks.
package scanloop

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdhr-guard/sdhr/internal/logging"
)

// Run executes fn at a jittered interval until ctx is done.
// The interval is: minInterval + random([0, jitterRange)).
func Run(ctx context.Context, minInterval, jitterRange time.Duration, fn func(ctx context.Context)) {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		interval := minInterval
		if jitterRange > 0 {
			interval += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		fn(ctx)
	}
}

// Loop is a supervised Run: Start launches it, Stop cancels it and waits for
// the in-flight iteration to return. A panicking iteration is logged and the
// loop keeps going.
type Loop struct {
	name     string
	interval time.Duration
	jitter   time.Duration
	fn       func(ctx context.Context)
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped Loop.
func New(name string, interval, jitter time.Duration, fn func(ctx context.Context), logger *zap.SugaredLogger) *Loop {
	if fn == nil {
		panic("scanloop: New requires non-nil fn")
	}
	return &Loop{
		name:     name,
		interval: interval,
		jitter:   jitter,
		fn:       fn,
		logger:   logging.OrNop(logger),
	}
}

// Start launches the loop. Calling Start on a running loop is a no-op.
func (l *Loop) Start(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		Run(ctx, l.interval, l.jitter, l.safeCall)
	}()
	l.logger.Debugw("loop started", "loop", l.name, "interval", l.interval)
}

// Stop cancels the loop and blocks until it exits. Safe to call repeatedly.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.logger.Debugw("loop stopped", "loop", l.name)
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Loop) safeCall(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("loop iteration panicked", "loop", l.name, "panic", r)
		}
	}()
	l.fn(ctx)
}
