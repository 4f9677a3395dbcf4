package models

import "time"

// SessionInfo describes one live mirroring process.
type SessionInfo struct {
	DeviceID  string    `json:"device_id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	UptimeMs  int64     `json:"uptime_ms"`
	Running   bool      `json:"running"` // false once termination was requested
}

// EventType names an entry on the event stream.
type EventType string

const (
	EventDevicesUpdated EventType = "devices-updated"
	EventSessionStarted EventType = "session-started"
	EventSessionEnded   EventType = "session-ended"
	EventSessionError   EventType = "session-error"
)

// Event is published by the registry and the session manager.
type Event struct {
	Type      EventType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Devices   []Device  `json:"devices,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}
