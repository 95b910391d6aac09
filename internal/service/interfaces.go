// Package service defines the control-plane operations that API handlers
// depend on. Concrete components live in other packages and are wired in main.
package service

import (
	"sync/atomic"
	"time"

	"github.com/sdhr-guard/sdhr/internal/config"
)

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// SystemService provides system-level operations.
type SystemService interface {
	GetSystemInfo() SystemInfo
	GetDHRSettings() *config.DHRSettings
}

// MemorySystemService is a SystemService backed by in-memory state.
type MemorySystemService struct {
	info     SystemInfo
	settings *atomic.Pointer[config.DHRSettings]
}

// NewMemorySystemService creates a MemorySystemService with the given info and settings.
func NewMemorySystemService(
	info SystemInfo,
	settings *atomic.Pointer[config.DHRSettings],
) *MemorySystemService {
	return &MemorySystemService{
		info:     info,
		settings: settings,
	}
}

func (s *MemorySystemService) GetSystemInfo() SystemInfo {
	return s.info
}

func (s *MemorySystemService) GetDHRSettings() *config.DHRSettings {
	if s.settings == nil {
		return nil
	}
	return s.settings.Load()
}
