// Package config handles environment-based configuration loading, the
// controller inventory file, and the DHR settings model.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config sync strategy names accepted by SDHR_CONFIG_SYNC_STRATEGY.
var ConfigSyncStrategies = []string{"immediate", "timed", "differential", "adaptive"}

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories and files
	StateDir      string
	InventoryPath string

	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// Logging
	LogLevel  string
	LogFormat string

	// Driver calls
	HealthCheckTimeout time.Duration
	DriverCallTimeout  time.Duration
	FanoutConcurrency  int

	// Loops
	HealthInterval           time.Duration
	FlowSyncInterval         time.Duration
	FlowSyncStrict           bool
	ConfigSyncInterval       time.Duration
	ConfigFullResyncSchedule string
	ConfigSyncStrategy       string
	ScheduleInterval         time.Duration
	AdaptationInterval       time.Duration
	SwitchCooldown           time.Duration
	SwitchSettle             time.Duration
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories and files ---
	cfg.StateDir = envStr("SDHR_STATE_DIR", "/var/lib/sdhr")
	cfg.InventoryPath = strings.TrimSpace(envStr("SDHR_INVENTORY", ""))

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("SDHR_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("SDHR_PORT", 6680, &errs)
	cfg.APIMaxBodyBytes = envInt("SDHR_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("SDHR_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Logging ---
	cfg.LogLevel = strings.ToLower(envStr("SDHR_LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(envStr("SDHR_LOG_FORMAT", "json"))

	// --- Driver calls ---
	cfg.HealthCheckTimeout = envDuration("SDHR_HEALTH_CHECK_TIMEOUT", time.Second, &errs)
	cfg.DriverCallTimeout = envDuration("SDHR_DRIVER_CALL_TIMEOUT", 5*time.Second, &errs)
	cfg.FanoutConcurrency = envInt("SDHR_FANOUT_CONCURRENCY", 16, &errs)

	// --- Loops ---
	cfg.HealthInterval = envDuration("SDHR_HEALTH_INTERVAL", 5*time.Second, &errs)
	cfg.FlowSyncInterval = envDuration("SDHR_FLOW_SYNC_INTERVAL", 5*time.Second, &errs)
	cfg.FlowSyncStrict = envBool("SDHR_FLOW_SYNC_STRICT", false, &errs)
	cfg.ConfigSyncInterval = envDuration("SDHR_CONFIG_SYNC_INTERVAL", 30*time.Second, &errs)
	cfg.ConfigFullResyncSchedule = strings.TrimSpace(envStr("SDHR_CONFIG_FULL_RESYNC_SCHEDULE", ""))
	cfg.ConfigSyncStrategy = strings.ToLower(envStr("SDHR_CONFIG_SYNC_STRATEGY", "adaptive"))
	cfg.ScheduleInterval = envDuration("SDHR_SCHEDULE_INTERVAL", 5*time.Second, &errs)
	cfg.AdaptationInterval = envDuration("SDHR_ADAPTATION_INTERVAL", 60*time.Second, &errs)
	cfg.SwitchCooldown = envDuration("SDHR_SWITCH_COOLDOWN", 10*time.Second, &errs)
	cfg.SwitchSettle = envDuration("SDHR_SWITCH_SETTLE", time.Second, &errs)

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "SDHR_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "SDHR_LISTEN_ADDRESS must not be empty")
	}
	if strings.TrimSpace(cfg.StateDir) == "" {
		errs = append(errs, "SDHR_STATE_DIR must not be empty")
	}
	validatePort("SDHR_PORT", cfg.Port, &errs)
	validatePositive("SDHR_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("SDHR_FANOUT_CONCURRENCY", cfg.FanoutConcurrency, &errs)

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		errs = append(errs, fmt.Sprintf("SDHR_LOG_LEVEL: invalid value %q (allowed: debug, info, warn, error)", cfg.LogLevel))
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs = append(errs, fmt.Sprintf("SDHR_LOG_FORMAT: invalid value %q (allowed: json, console)", cfg.LogFormat))
	}

	validatePositiveDuration("SDHR_HEALTH_CHECK_TIMEOUT", cfg.HealthCheckTimeout, &errs)
	validatePositiveDuration("SDHR_DRIVER_CALL_TIMEOUT", cfg.DriverCallTimeout, &errs)
	validatePositiveDuration("SDHR_HEALTH_INTERVAL", cfg.HealthInterval, &errs)
	validatePositiveDuration("SDHR_FLOW_SYNC_INTERVAL", cfg.FlowSyncInterval, &errs)
	validatePositiveDuration("SDHR_CONFIG_SYNC_INTERVAL", cfg.ConfigSyncInterval, &errs)
	validatePositiveDuration("SDHR_SCHEDULE_INTERVAL", cfg.ScheduleInterval, &errs)
	validatePositiveDuration("SDHR_ADAPTATION_INTERVAL", cfg.AdaptationInterval, &errs)
	if cfg.SwitchCooldown < 0 {
		errs = append(errs, "SDHR_SWITCH_COOLDOWN must not be negative")
	}
	if cfg.SwitchSettle < 0 {
		errs = append(errs, "SDHR_SWITCH_SETTLE must not be negative")
	}
	if cfg.HealthCheckTimeout > cfg.DriverCallTimeout {
		errs = append(errs, "SDHR_HEALTH_CHECK_TIMEOUT must be less than or equal to SDHR_DRIVER_CALL_TIMEOUT")
	}
	if cfg.ConfigFullResyncSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ConfigFullResyncSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("SDHR_CONFIG_FULL_RESYNC_SCHEDULE: invalid cron expression %q: %v", cfg.ConfigFullResyncSchedule, err))
		}
	}
	if !slices.Contains(ConfigSyncStrategies, cfg.ConfigSyncStrategy) {
		errs = append(errs, fmt.Sprintf(
			"SDHR_CONFIG_SYNC_STRATEGY: invalid value %q (allowed: %s)",
			cfg.ConfigSyncStrategy, strings.Join(ConfigSyncStrategies, ", "),
		))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validatePositiveDuration(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive", name))
	}
}
