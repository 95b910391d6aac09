package scanloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		Run(ctx, 5*time.Millisecond, 0, func(context.Context) { calls.Add(1) })
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if calls.Load() < 2 {
		t.Fatalf("calls: got %d, want >= 2", calls.Load())
	}
}

func TestLoop_StartStopAndPanicRecovery(t *testing.T) {
	var calls atomic.Int32
	l := New("test", 5*time.Millisecond, 0, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("first iteration")
		}
	}, zaptest.NewLogger(t).Sugar())

	l.Start(context.Background())
	l.Start(context.Background()) // no-op
	if !l.Running() {
		t.Fatal("expected running loop")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	l.Stop()
	l.Stop()
	if l.Running() {
		t.Fatal("expected stopped loop")
	}
	if calls.Load() < 3 {
		t.Fatalf("loop did not survive panic: calls=%d", calls.Load())
	}

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Fatal("loop kept running after Stop")
	}
}
