package config

import (
	"fmt"
	"strings"
	"time"
)

// AnomalyThresholds configures health anomaly detection.
type AnomalyThresholds struct {
	FlowChangeRate   float64  `json:"flow_change_rate" yaml:"flow_change_rate"`
	PacketRateChange float64  `json:"packet_rate_change" yaml:"packet_rate_change"`
	ResponseTimeMax  Duration `json:"response_time_max" yaml:"response_time_max"`
	ErrorRateMax     float64  `json:"error_rate_max" yaml:"error_rate_max"`
	SyncDelayMax     Duration `json:"sync_delay_max" yaml:"sync_delay_max"`
}

// DHRSettings holds pool-level settings. They are read from the inventory
// file and served via GET /api/v1/health.
type DHRSettings struct {
	MinControllers int `json:"min_controllers" yaml:"min_controllers"`
	MaxControllers int `json:"max_controllers" yaml:"max_controllers"`

	// MinSwitchInterval is the shortest gap between two automatic switches.
	MinSwitchInterval Duration `json:"min_switch_interval" yaml:"min_switch_interval"`

	Thresholds AnomalyThresholds `json:"thresholds" yaml:"thresholds"`

	// Config sync strategy tuning
	TimedSyncInterval     Duration `json:"timed_sync_interval" yaml:"timed_sync_interval"`
	DifferentialThreshold float64  `json:"differential_threshold" yaml:"differential_threshold"`
}

// NewDefaultDHRSettings returns DHRSettings populated with default values.
func NewDefaultDHRSettings() *DHRSettings {
	return &DHRSettings{
		MinControllers:    2,
		MaxControllers:    5,
		MinSwitchInterval: Duration(5 * time.Second),
		Thresholds: AnomalyThresholds{
			FlowChangeRate:   0.3,
			PacketRateChange: 0.5,
			ResponseTimeMax:  Duration(time.Second),
			ErrorRateMax:     0.1,
			SyncDelayMax:     Duration(5 * time.Second),
		},
		TimedSyncInterval:     Duration(300 * time.Second),
		DifferentialThreshold: 0.1,
	}
}

// Validate checks the settings and returns every violation at once.
func (s *DHRSettings) Validate() error {
	var errs []string
	validatePositive("min_controllers", s.MinControllers, &errs)
	validatePositive("max_controllers", s.MaxControllers, &errs)
	if s.MinControllers > s.MaxControllers {
		errs = append(errs, fmt.Sprintf("min_controllers (%d) must be less than or equal to max_controllers (%d)",
			s.MinControllers, s.MaxControllers))
	}
	if s.MinSwitchInterval < 0 {
		errs = append(errs, "min_switch_interval must not be negative")
	}
	validateRatio("thresholds.flow_change_rate", s.Thresholds.FlowChangeRate, &errs)
	validateRatio("thresholds.packet_rate_change", s.Thresholds.PacketRateChange, &errs)
	validateRatio("thresholds.error_rate_max", s.Thresholds.ErrorRateMax, &errs)
	validatePositiveDuration("thresholds.response_time_max", s.Thresholds.ResponseTimeMax.Std(), &errs)
	validatePositiveDuration("thresholds.sync_delay_max", s.Thresholds.SyncDelayMax.Std(), &errs)
	validatePositiveDuration("timed_sync_interval", s.TimedSyncInterval.Std(), &errs)
	if s.DifferentialThreshold <= 0 || s.DifferentialThreshold > 1 {
		errs = append(errs, fmt.Sprintf("differential_threshold: must be in (0, 1], got %v", s.DifferentialThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("dhr settings invalid:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func validateRatio(name string, value float64, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %v", name, value))
	}
}
