// Package model defines the controller, flow, and sync types shared across
// the DHR control plane.
package model

import (
	"fmt"
	"time"
)

// ControllerType identifies a controller implementation family.
type ControllerType string

const (
	ControllerRyu          ControllerType = "ryu"
	ControllerPOX          ControllerType = "pox"
	ControllerOpenDaylight ControllerType = "opendaylight"
)

// SupportedControllerTypes lists every heterogeneous implementation the
// scheduler knows about. Diversity is measured against this set.
var SupportedControllerTypes = []ControllerType{
	ControllerRyu,
	ControllerPOX,
	ControllerOpenDaylight,
}

// IsValid reports whether t is one of SupportedControllerTypes.
func (t ControllerType) IsValid() bool {
	for _, s := range SupportedControllerTypes {
		if t == s {
			return true
		}
	}
	return false
}

// ControllerStatus is the lifecycle status of a registered controller.
type ControllerStatus string

const (
	StatusUninitialized ControllerStatus = "uninitialized"
	StatusActive        ControllerStatus = "active"
	StatusInactive      ControllerStatus = "inactive"
	StatusError         ControllerStatus = "error"
)

// Role is the OpenFlow role a controller holds toward the data plane.
// The empty Role means no role has been assigned yet.
type Role string

const (
	RoleNone   Role = ""
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Controller is the externally visible state of one registered controller.
type Controller struct {
	ID     string           `json:"id"`
	Type   ControllerType   `json:"type"`
	Status ControllerStatus `json:"status"`
	Role   Role             `json:"role"`
	Health float64          `json:"health"`
}

// FlowRule is one forwarding rule installed on a controller.
type FlowRule struct {
	FlowID      string            `json:"flow_id"`
	SwitchID    string            `json:"switch_id"`
	Priority    int               `json:"priority"`
	Match       map[string]string `json:"match"`
	Actions     []Action          `json:"actions"`
	IdleTimeout int               `json:"idle_timeout"`
	HardTimeout int               `json:"hard_timeout"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Action is an opaque action descriptor such as {"type":"OUTPUT","port":"2"}.
type Action map[string]string

// Validate checks the rule's structural constraints.
func (r FlowRule) Validate() error {
	if r.FlowID == "" {
		return fmt.Errorf("flow_id: must not be empty")
	}
	if r.Priority < 0 {
		return fmt.Errorf("priority: must be non-negative, got %d", r.Priority)
	}
	if r.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout: must be non-negative, got %d", r.IdleTimeout)
	}
	if r.HardTimeout < 0 {
		return fmt.Errorf("hard_timeout: must be non-negative, got %d", r.HardTimeout)
	}
	return nil
}

// Metrics is a point-in-time statistics snapshot reported by a controller.
type Metrics struct {
	FlowCount    int           `json:"flow_count"`
	PacketCount  int64         `json:"packet_count"`
	ByteCount    int64         `json:"byte_count"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorCount   int           `json:"error_count"`
	// DurationSec is the sampling window PacketCount was accumulated over.
	// Zero is treated as one second.
	DurationSec float64 `json:"duration_sec"`
}

// PacketRate returns packets per second over the reported window.
func (m Metrics) PacketRate() float64 {
	d := m.DurationSec
	if d <= 0 {
		d = 1
	}
	return float64(m.PacketCount) / d
}

// HealthSample is one entry of a controller's rolling health window.
type HealthSample struct {
	FlowCount    int           `json:"flow_count"`
	PacketRate   float64       `json:"packet_rate"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorCount   int           `json:"error_count"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SwitchRecord is an immutable entry in the switch history.
type SwitchRecord struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	FailedPhase string        `json:"failed_phase,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// SyncStatus is the outcome of the latest config sync for a controller.
type SyncStatus string

const (
	SyncNever   SyncStatus = "never"
	SyncSynced  SyncStatus = "synced"
	SyncSkipped SyncStatus = "skipped"
	SyncFailed  SyncStatus = "failed"
)

// SyncState tracks config sync progress for one controller.
type SyncState struct {
	LastSync *time.Time `json:"last_sync"`
	Status   SyncStatus `json:"status"`
}
