package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestNewDefaultDHRSettings(t *testing.T) {
	s := NewDefaultDHRSettings()

	assertEqual(t, "MinControllers", s.MinControllers, 2)
	assertEqual(t, "MaxControllers", s.MaxControllers, 5)
	assertEqual(t, "MinSwitchInterval", s.MinSwitchInterval.Std(), 5*time.Second)
	assertEqual(t, "FlowChangeRate", s.Thresholds.FlowChangeRate, 0.3)
	assertEqual(t, "PacketRateChange", s.Thresholds.PacketRateChange, 0.5)
	assertEqual(t, "ResponseTimeMax", s.Thresholds.ResponseTimeMax.Std(), time.Second)
	assertEqual(t, "ErrorRateMax", s.Thresholds.ErrorRateMax, 0.1)
	assertEqual(t, "SyncDelayMax", s.Thresholds.SyncDelayMax.Std(), 5*time.Second)
	assertEqual(t, "TimedSyncInterval", s.TimedSyncInterval.Std(), 300*time.Second)
	assertEqual(t, "DifferentialThreshold", s.DifferentialThreshold, 0.1)

	if err := s.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestDHRSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DHRSettings)
		want   string
	}{
		{"min above max", func(s *DHRSettings) { s.MinControllers = 6 }, "min_controllers (6) must be less than or equal to max_controllers (5)"},
		{"zero max", func(s *DHRSettings) { s.MaxControllers = 0 }, "max_controllers: must be positive"},
		{"flow rate", func(s *DHRSettings) { s.Thresholds.FlowChangeRate = 0 }, "thresholds.flow_change_rate"},
		{"response time", func(s *DHRSettings) { s.Thresholds.ResponseTimeMax = 0 }, "thresholds.response_time_max must be positive"},
		{"differential", func(s *DHRSettings) { s.DifferentialThreshold = 1.5 }, "differential_threshold: must be in (0, 1]"},
		{"negative switch interval", func(s *DHRSettings) { s.MinSwitchInterval = Duration(-time.Second) }, "min_switch_interval must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewDefaultDHRSettings()
			tt.mutate(s)
			err := s.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestDHRSettings_JSONRoundTrip(t *testing.T) {
	original := NewDefaultDHRSettings()
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if !strings.Contains(string(data), `"sync_delay_max":"5s"`) {
		t.Fatalf("durations should encode as strings: %s", data)
	}
	var decoded DHRSettings
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded != *original {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, *original)
	}
}

func TestDuration_JSON(t *testing.T) {
	d := Duration(5 * time.Minute)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `"5m0s"` {
		t.Errorf("marshal: got %s, want %q", data, "5m0s")
	}

	var decoded Duration
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if time.Duration(decoded) != 5*time.Minute {
		t.Errorf("unmarshal: got %v, want 5m", time.Duration(decoded))
	}
}

func TestDuration_JSONInvalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for invalid duration string")
	}
	if err := json.Unmarshal([]byte(`123`), &d); err == nil {
		t.Fatal("expected error for non-string duration")
	}
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte("d: 1m30s\n"), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assertEqual(t, "D", v.D.Std(), 90*time.Second)

	out, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	assertEqual(t, "yaml", string(out), "d: 1m30s\n")

	if err := yaml.Unmarshal([]byte("d: [1, 2]\n"), &v); err == nil {
		t.Fatal("expected error for non-scalar duration")
	}
}
