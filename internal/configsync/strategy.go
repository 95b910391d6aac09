// Package configsync pushes the desired controller configuration to every
// controller in the pool under a pluggable sync strategy.
package configsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/sdhr-guard/sdhr/internal/model"
)

// Strategy names.
const (
	ImmediateName    = "immediate"
	TimedName        = "timed"
	DifferentialName = "differential"
	AdaptiveName     = "adaptive"
)

// StrategyNames lists every built-in strategy.
var StrategyNames = []string{ImmediateName, TimedName, DifferentialName, AdaptiveName}

// SyncStrategy decides whether a controller's configuration should be
// pushed and how urgently. A zero lastSync means the controller was never
// synced; a nil current means the controller's configuration is unknown.
type SyncStrategy interface {
	Name() string
	ShouldSync(controllerID string, lastSync time.Time, desired, current model.ConfigSnapshot) bool
	Priority(controllerID string) float64
}

// ResultRecorder is implemented by strategies that learn from outcomes.
type ResultRecorder interface {
	RecordResult(controllerID string, success bool)
}

// compile-time type validation
var (
	_ SyncStrategy   = (*Immediate)(nil)
	_ SyncStrategy   = (*Timed)(nil)
	_ SyncStrategy   = (*Differential)(nil)
	_ SyncStrategy   = (*Adaptive)(nil)
	_ ResultRecorder = (*Adaptive)(nil)
)

// StrategyOptions tunes the built-in strategies.
type StrategyOptions struct {
	TimedInterval         time.Duration
	DifferentialThreshold float64
	Now                   func() time.Time
}

// NewStrategy builds a strategy by name.
func NewStrategy(name string, opts StrategyOptions) (SyncStrategy, error) {
	switch name {
	case ImmediateName:
		return &Immediate{}, nil
	case TimedName:
		return NewTimed(opts.TimedInterval, opts.Now), nil
	case DifferentialName:
		return NewDifferential(opts.DifferentialThreshold), nil
	case AdaptiveName:
		return NewAdaptive(), nil
	default:
		return nil, fmt.Errorf("unknown config sync strategy %q: %w", name, model.ErrInvalid)
	}
}

// Immediate syncs whenever the configurations differ.
type Immediate struct{}

func (*Immediate) Name() string { return ImmediateName }

func (*Immediate) ShouldSync(_ string, _ time.Time, desired, current model.ConfigSnapshot) bool {
	return !sameConfig(desired, current)
}

func (*Immediate) Priority(string) float64 { return 1.0 }

// Timed syncs a controller that was never synced or whose last sync is at
// least Interval old.
type Timed struct {
	Interval time.Duration
	now      func() time.Time
}

// NewTimed returns a Timed strategy. A non-positive interval means 300s.
func NewTimed(interval time.Duration, now func() time.Time) *Timed {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Timed{Interval: interval, now: now}
}

func (*Timed) Name() string { return TimedName }

func (s *Timed) ShouldSync(_ string, lastSync time.Time, _, _ model.ConfigSnapshot) bool {
	if lastSync.IsZero() {
		return true
	}
	return s.now().Sub(lastSync) >= s.Interval
}

func (*Timed) Priority(string) float64 { return 0.5 }

// Differential syncs when the share of differing top-level keys exceeds
// Threshold, or when the controller reports no configuration.
type Differential struct {
	Threshold float64
}

// NewDifferential returns a Differential strategy. A non-positive threshold
// means 0.1.
func NewDifferential(threshold float64) *Differential {
	if threshold <= 0 {
		threshold = 0.1
	}
	return &Differential{Threshold: threshold}
}

func (*Differential) Name() string { return DifferentialName }

func (s *Differential) ShouldSync(_ string, _ time.Time, desired, current model.ConfigSnapshot) bool {
	if len(current) == 0 {
		return true
	}
	return DiffRatio(desired, current) > s.Threshold
}

func (*Differential) Priority(string) float64 { return 0.8 }

// DiffRatio returns the fraction of top-level keys, over the union of both
// key sets, whose values differ. Two empty configurations have ratio 0.
func DiffRatio(a, b model.ConfigSnapshot) float64 {
	fa, fb := a.KeyFingerprints(), b.KeyFingerprints()
	keys := make(map[string]struct{}, len(fa)+len(fb))
	for k := range fa {
		keys[k] = struct{}{}
	}
	for k := range fb {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 0
	}
	diff := 0
	for k := range keys {
		va, okA := fa[k]
		vb, okB := fb[k]
		if okA != okB || va != vb {
			diff++
		}
	}
	return float64(diff) / float64(len(keys))
}

// ControllerMetrics are the load signals the adaptive strategy weighs.
type ControllerMetrics struct {
	Load        float64 `json:"load"`
	HealthScore float64 `json:"health_score"`
	ErrorRate   float64 `json:"error_rate"`
}

const (
	adaptiveHistory       = 10
	adaptiveRecent        = 3
	adaptiveMaxRecentFail = 1
	adaptiveLoadCeiling   = 0.8
)

// Adaptive backs off loaded or repeatedly failing controllers and
// prioritizes healthy, lightly loaded ones.
type Adaptive struct {
	mu      sync.Mutex
	metrics map[string]ControllerMetrics
	history map[string][]bool
}

// NewAdaptive returns an Adaptive strategy with no recorded state.
func NewAdaptive() *Adaptive {
	return &Adaptive{
		metrics: make(map[string]ControllerMetrics),
		history: make(map[string][]bool),
	}
}

func (*Adaptive) Name() string { return AdaptiveName }

func (s *Adaptive) ShouldSync(controllerID string, _ time.Time, desired, current model.ConfigSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.metrics[controllerID]; ok && m.Load > adaptiveLoadCeiling {
		return false
	}
	if sameConfig(desired, current) {
		return false
	}
	h := s.history[controllerID]
	if len(h) >= adaptiveRecent {
		failures := 0
		for _, ok := range h[len(h)-adaptiveRecent:] {
			if !ok {
				failures++
			}
		}
		if failures > adaptiveMaxRecentFail {
			return false
		}
	}
	return true
}

// Priority is 0.5 x (1 - load/2) x health x (1 - 0.3 x error_rate). A
// controller without metrics has load 0, health 1, and error rate 0.
func (s *Adaptive) Priority(controllerID string) float64 {
	s.mu.Lock()
	m, ok := s.metrics[controllerID]
	s.mu.Unlock()
	if !ok {
		m = ControllerMetrics{HealthScore: 1.0}
	}
	return 0.5 * (1 - m.Load*0.5) * m.HealthScore * (1 - m.ErrorRate*0.3)
}

// UpdateMetrics replaces the controller's load signals.
func (s *Adaptive) UpdateMetrics(controllerID string, m ControllerMetrics) {
	s.mu.Lock()
	s.metrics[controllerID] = m
	s.mu.Unlock()
}

// RecordResult appends a sync outcome to the controller's bounded history.
func (s *Adaptive) RecordResult(controllerID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[controllerID], success)
	if len(h) > adaptiveHistory {
		h = h[len(h)-adaptiveHistory:]
	}
	s.history[controllerID] = h
}

// FailureRatio returns the share of failed attempts in the controller's
// history, or 0 without history.
func (s *Adaptive) FailureRatio(controllerID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[controllerID]
	if len(h) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range h {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(h))
}

// Forget drops all state for a controller.
func (s *Adaptive) Forget(controllerID string) {
	s.mu.Lock()
	delete(s.metrics, controllerID)
	delete(s.history, controllerID)
	s.mu.Unlock()
}

// sameConfig compares configurations by canonical content. A nil config
// equals only another empty config.
func sameConfig(a, b model.ConfigSnapshot) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return a.Fingerprint() == b.Fingerprint()
}
