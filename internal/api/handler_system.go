package api

import (
	"net/http"

	"github.com/sdhr-guard/sdhr/internal/config"
	"github.com/sdhr-guard/sdhr/internal/service"
)

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(system service.SystemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, system.GetSystemInfo())
	}
}

// HandleSystemSettings returns a handler for GET /api/v1/system/settings.
func HandleSystemSettings(system service.SystemService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, system.GetDHRSettings())
	}
}

type envConfigView struct {
	StateDir                 string `json:"state_dir"`
	InventoryPath            string `json:"inventory_path"`
	ListenAddress            string `json:"listen_address"`
	Port                     int    `json:"port"`
	APIMaxBodyBytes          int    `json:"api_max_body_bytes"`
	AdminTokenSet            bool   `json:"admin_token_set"`
	LogLevel                 string `json:"log_level"`
	LogFormat                string `json:"log_format"`
	HealthCheckTimeout       string `json:"health_check_timeout"`
	DriverCallTimeout        string `json:"driver_call_timeout"`
	FanoutConcurrency        int    `json:"fanout_concurrency"`
	HealthInterval           string `json:"health_interval"`
	FlowSyncInterval         string `json:"flow_sync_interval"`
	FlowSyncStrict           bool   `json:"flow_sync_strict"`
	ConfigSyncInterval       string `json:"config_sync_interval"`
	ConfigFullResyncSchedule string `json:"config_full_resync_schedule"`
	ConfigSyncStrategy       string `json:"config_sync_strategy"`
	ScheduleInterval         string `json:"schedule_interval"`
	AdaptationInterval       string `json:"adaptation_interval"`
	SwitchCooldown           string `json:"switch_cooldown"`
	SwitchSettle             string `json:"switch_settle"`
}

// HandleSystemEnvConfig returns a handler for GET /api/v1/system/config/env.
// The admin token is never echoed back.
func HandleSystemEnvConfig(envCfg *config.EnvConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if envCfg == nil {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, envConfigView{
			StateDir:                 envCfg.StateDir,
			InventoryPath:            envCfg.InventoryPath,
			ListenAddress:            envCfg.ListenAddress,
			Port:                     envCfg.Port,
			APIMaxBodyBytes:          envCfg.APIMaxBodyBytes,
			AdminTokenSet:            envCfg.AdminToken != "",
			LogLevel:                 envCfg.LogLevel,
			LogFormat:                envCfg.LogFormat,
			HealthCheckTimeout:       envCfg.HealthCheckTimeout.String(),
			DriverCallTimeout:        envCfg.DriverCallTimeout.String(),
			FanoutConcurrency:        envCfg.FanoutConcurrency,
			HealthInterval:           envCfg.HealthInterval.String(),
			FlowSyncInterval:         envCfg.FlowSyncInterval.String(),
			FlowSyncStrict:           envCfg.FlowSyncStrict,
			ConfigSyncInterval:       envCfg.ConfigSyncInterval.String(),
			ConfigFullResyncSchedule: envCfg.ConfigFullResyncSchedule,
			ConfigSyncStrategy:       envCfg.ConfigSyncStrategy,
			ScheduleInterval:         envCfg.ScheduleInterval.String(),
			AdaptationInterval:       envCfg.AdaptationInterval.String(),
			SwitchCooldown:           envCfg.SwitchCooldown.String(),
			SwitchSettle:             envCfg.SwitchSettle.String(),
		})
	}
}
