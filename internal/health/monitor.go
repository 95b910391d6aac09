// Package health scores controllers from a rolling window of metric samples.
package health

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sdhr-guard/sdhr/internal/logging"
	"github.com/sdhr-guard/sdhr/internal/metrics"
	"github.com/sdhr-guard/sdhr/internal/model"
	"github.com/sdhr-guard/sdhr/internal/registry"
	"github.com/sdhr-guard/sdhr/internal/scanloop"
)

// WindowSize is the number of samples kept per controller.
const WindowSize = 10

// Score weights per anomaly kind. They sum to 1.
const (
	weightFlow        = 0.3
	weightPerformance = 0.3
	weightError       = 0.2
	weightSync        = 0.2
)

// Thresholds configures anomaly detection.
type Thresholds struct {
	FlowChangeRate   float64       `json:"flow_change_rate" yaml:"flow_change_rate"`
	PacketRateChange float64       `json:"packet_rate_change" yaml:"packet_rate_change"`
	ResponseTimeMax  time.Duration `json:"response_time_max" yaml:"response_time_max"`
	ErrorRateMax     float64       `json:"error_rate_max" yaml:"error_rate_max"`
	SyncDelayMax     time.Duration `json:"sync_delay_max" yaml:"sync_delay_max"`
}

// DefaultThresholds returns the stock detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FlowChangeRate:   0.3,
		PacketRateChange: 0.5,
		ResponseTimeMax:  time.Second,
		ErrorRateMax:     0.1,
		SyncDelayMax:     5 * time.Second,
	}
}

// AnomalyReport flags each anomaly kind for one controller.
type AnomalyReport struct {
	Flow        bool `json:"flow"`
	Performance bool `json:"performance"`
	Error       bool `json:"error"`
	Sync        bool `json:"sync"`
}

// Score converts a report into a health score in [0, 1].
func (a AnomalyReport) Score() float64 {
	score := 1.0
	if a.Flow {
		score -= weightFlow
	}
	if a.Performance {
		score -= weightPerformance
	}
	if a.Error {
		score -= weightError
	}
	if a.Sync {
		score -= weightSync
	}
	return math.Max(0, math.Min(1, score))
}

// Report is the latest evaluation of one controller.
type Report struct {
	ControllerID string              `json:"controller_id"`
	Anomalies    AnomalyReport       `json:"anomalies"`
	Score        float64             `json:"score"`
	Samples      int                 `json:"samples"`
	Latest       *model.HealthSample `json:"latest,omitempty"`
	EvaluatedAt  time.Time           `json:"evaluated_at"`
}

// SyncClock reports when a controller's flow table was last synchronized.
type SyncClock interface {
	LastSync(controllerID string) (time.Time, bool)
}

// Config configures a Monitor.
type Config struct {
	Registry    *registry.Registry
	SyncClock   SyncClock
	Thresholds  Thresholds
	Interval    time.Duration
	CallTimeout time.Duration
	Concurrency int
	// ReportTTL bounds how long an evaluation stays visible through Report.
	ReportTTL time.Duration
	Logger    *zap.SugaredLogger
	Now       func() time.Time
}

// Monitor keeps per-controller sample windows and publishes health scores
// into the registry. It is the only writer of registry health.
type Monitor struct {
	registry    *registry.Registry
	syncClock   SyncClock
	thresholds  Thresholds
	callTimeout time.Duration
	concurrency int
	logger      *zap.SugaredLogger
	now         func() time.Time

	mu      sync.Mutex
	windows map[string][]model.HealthSample

	reports otter.Cache[string, Report]
	loop    *scanloop.Loop
}

// New creates a Monitor. Zero-valued config fields take defaults.
func New(cfg Config) *Monitor {
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 10 * cfg.Interval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	reports, err := otter.MustBuilder[string, Report](1024).
		Cost(func(_ string, _ Report) uint32 { return 1 }).
		WithTTL(cfg.ReportTTL).
		Build()
	if err != nil {
		panic("health: failed to create report cache: " + err.Error())
	}

	m := &Monitor{
		registry:    cfg.Registry,
		syncClock:   cfg.SyncClock,
		thresholds:  cfg.Thresholds,
		callTimeout: cfg.CallTimeout,
		concurrency: cfg.Concurrency,
		logger:      logging.OrNop(cfg.Logger),
		now:         cfg.Now,
		windows:     make(map[string][]model.HealthSample),
		reports:     reports,
	}
	m.loop = scanloop.New("health", cfg.Interval, 0, m.Sample, m.logger)
	return m
}

// Start launches periodic sampling.
func (m *Monitor) Start(ctx context.Context) { m.loop.Start(ctx) }

// Stop halts sampling and waits for the in-flight pass.
func (m *Monitor) Stop() { m.loop.Stop() }

// Observe appends a sample derived from metrics to the controller's window,
// evicting the oldest sample once the window is full.
func (m *Monitor) Observe(controllerID string, snap model.Metrics) {
	sample := model.HealthSample{
		FlowCount:    snap.FlowCount,
		PacketRate:   snap.PacketRate(),
		ResponseTime: snap.ResponseTime,
		ErrorCount:   snap.ErrorCount,
		Timestamp:    m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	w := append(m.windows[controllerID], sample)
	if len(w) > WindowSize {
		w = append([]model.HealthSample(nil), w[len(w)-WindowSize:]...)
	}
	m.windows[controllerID] = w
}

// Forget drops all state for a removed controller.
func (m *Monitor) Forget(controllerID string) {
	m.mu.Lock()
	delete(m.windows, controllerID)
	m.mu.Unlock()
	m.reports.Delete(controllerID)
	metrics.ForgetController(controllerID)
}

// Window returns a copy of the controller's samples, oldest first.
func (m *Monitor) Window(controllerID string) []model.HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HealthSample(nil), m.windows[controllerID]...)
}

// DetectAnomalies evaluates the controller's current window.
func (m *Monitor) DetectAnomalies(controllerID string) AnomalyReport {
	window := m.Window(controllerID)
	return AnomalyReport{
		Flow:        m.flowAnomaly(window),
		Performance: m.performanceAnomaly(window),
		Error:       m.errorAnomaly(window),
		Sync:        m.syncAnomaly(controllerID),
	}
}

// HealthScore returns the weighted score for the controller's window.
func (m *Monitor) HealthScore(controllerID string) float64 {
	return m.DetectAnomalies(controllerID).Score()
}

// Evaluate scores a controller, publishes the score into the registry, and
// caches the report.
func (m *Monitor) Evaluate(controllerID string) Report {
	window := m.Window(controllerID)
	anomalies := m.DetectAnomalies(controllerID)
	r := Report{
		ControllerID: controllerID,
		Anomalies:    anomalies,
		Score:        anomalies.Score(),
		Samples:      len(window),
		EvaluatedAt:  m.now(),
	}
	if len(window) > 0 {
		latest := window[len(window)-1]
		r.Latest = &latest
	}

	if m.registry != nil {
		m.registry.SetHealth(controllerID, r.Score)
	}
	m.reports.Set(controllerID, r)
	metrics.RecordHealthScore(controllerID, r.Score)
	for kind, hit := range map[string]bool{
		"flow":        anomalies.Flow,
		"performance": anomalies.Performance,
		"error":       anomalies.Error,
		"sync":        anomalies.Sync,
	} {
		if hit {
			metrics.RecordAnomaly(controllerID, kind)
		}
	}
	return r
}

// Report returns the cached evaluation for a controller.
func (m *Monitor) Report(controllerID string) (Report, bool) {
	return m.reports.Get(controllerID)
}

// LatestResponseTime returns the response time of the newest sample.
func (m *Monitor) LatestResponseTime(controllerID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows[controllerID]
	if len(w) == 0 {
		return 0, false
	}
	return w[len(w)-1].ResponseTime, true
}

// Thresholds returns the detection thresholds in use.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// Sample fetches metrics from every registered controller concurrently,
// observes them, and re-scores the controller. A controller whose metrics
// cannot be fetched is skipped without touching its window.
func (m *Monitor) Sample(ctx context.Context) {
	if m.registry == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, e := range m.registry.Entries() {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, m.callTimeout)
			defer cancel()
			snapshot, err := e.Driver.GetMetrics(callCtx)
			if err != nil {
				m.logger.Warnw("metrics fetch failed", "controller", e.ID, "error", err)
				metrics.RecordSampleError(e.ID)
				return nil
			}
			m.Observe(e.ID, snapshot)
			r := m.Evaluate(e.ID)
			m.logger.Debugw("controller evaluated", "controller", e.ID, "score", r.Score, "anomalies", r.Anomalies)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) flowAnomaly(w []model.HealthSample) bool {
	for i := 1; i < len(w); i++ {
		if relativeChange(float64(w[i-1].FlowCount), float64(w[i].FlowCount)) > m.thresholds.FlowChangeRate {
			return true
		}
	}
	return false
}

func (m *Monitor) performanceAnomaly(w []model.HealthSample) bool {
	if len(w) == 0 {
		return false
	}
	latest := w[len(w)-1]
	if latest.ResponseTime > m.thresholds.ResponseTimeMax {
		return true
	}
	if len(w) > 1 {
		return relativeChange(w[len(w)-2].PacketRate, latest.PacketRate) > m.thresholds.PacketRateChange
	}
	return false
}

// errorAnomaly compares the controller's reported error count against the
// number of samples in the window.
func (m *Monitor) errorAnomaly(w []model.HealthSample) bool {
	if len(w) == 0 {
		return false
	}
	rate := float64(w[len(w)-1].ErrorCount) / float64(len(w))
	return rate > m.thresholds.ErrorRateMax
}

func (m *Monitor) syncAnomaly(controllerID string) bool {
	if m.syncClock == nil {
		return true
	}
	last, ok := m.syncClock.LastSync(controllerID)
	if !ok {
		return true
	}
	return m.now().Sub(last) > m.thresholds.SyncDelayMax
}

// relativeChange returns |cur-prev|/prev. A change away from zero is
// infinite; zero to zero is no change.
func relativeChange(prev, cur float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(cur-prev) / math.Abs(prev)
}
