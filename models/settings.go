package models

import "time"

// Document ids in the settings table.
const (
	MirroringDocument     = "mirroring"
	RefreshPolicyDocument = "refreshPolicy"
)

// MirroringSettings controls the flags passed to scrcpy. Pointer fields
// are optional: nil means "unset, let scrcpy decide".
type MirroringSettings struct {
	MaxFps               int     `json:"maxFps"`
	VideoBitrateKbps     int     `json:"videoBitrateKbps"`
	MaxSize              *int    `json:"maxSize"`
	ScreenWidth          int     `json:"screenWidth"`
	ScreenHeight         int     `json:"screenHeight"`
	LockVideoOrientation *int    `json:"lockVideoOrientation"`
	EncoderName          *string `json:"encoderName"`
	Fullscreen           bool    `json:"fullscreen"`
	Borderless           bool    `json:"borderless"`
	AlwaysOnTop          bool    `json:"alwaysOnTop"`
	StayAwake            bool    `json:"stayAwake"`
	TurnScreenOff        bool    `json:"turnScreenOff"`
	ShowTouches          bool    `json:"showTouches"`
	PowerOffOnClose      bool    `json:"powerOffOnClose"`
	DisableScreensaver   bool    `json:"disableScreensaver"`
	AudioEnabled         bool    `json:"audioEnabled"`
	ClipboardAutosync    bool    `json:"clipboardAutosync"`
	ShortcutKeysEnabled  bool    `json:"shortcutKeysEnabled"`
}

// Documented defaults. The arg builder compares against these.
const (
	DefaultMaxFps           = 30
	DefaultVideoBitrateKbps = 2000
	DefaultScreenWidth      = 800
	DefaultScreenHeight     = 600
)

// DefaultMirroringSettings returns the compiled-in defaults.
func DefaultMirroringSettings() MirroringSettings {
	return MirroringSettings{
		MaxFps:              DefaultMaxFps,
		VideoBitrateKbps:    DefaultVideoBitrateKbps,
		ScreenWidth:         DefaultScreenWidth,
		ScreenHeight:        DefaultScreenHeight,
		AudioEnabled:        true,
		ClipboardAutosync:   true,
		ShortcutKeysEnabled: true,
	}
}

// Normalize folds the legacy sentinel values (maxSize=0,
// lockVideoOrientation=-1, encoderName="") into nil.
func (s *MirroringSettings) Normalize() {
	if s.MaxSize != nil && *s.MaxSize == 0 {
		s.MaxSize = nil
	}
	if s.LockVideoOrientation != nil && *s.LockVideoOrientation == -1 {
		s.LockVideoOrientation = nil
	}
	if s.EncoderName != nil && *s.EncoderName == "" {
		s.EncoderName = nil
	}
}

// RefreshMode selects how the device list is kept current.
type RefreshMode string

const (
	RefreshAuto   RefreshMode = "auto"
	RefreshSmart  RefreshMode = "smart"
	RefreshManual RefreshMode = "manual"
)

// RefreshEvent is a lifecycle event that may trigger a smart refresh.
type RefreshEvent string

const (
	EventConnect    RefreshEvent = "connect"
	EventDisconnect RefreshEvent = "disconnect"
	EventPair       RefreshEvent = "pair"
)

// KnownRefreshEvents lists every event smart mode understands.
var KnownRefreshEvents = []RefreshEvent{EventConnect, EventDisconnect, EventPair}

const (
	// DefaultRefreshInterval is in milliseconds, like the stored value.
	DefaultRefreshInterval = 5000
	// MinimumRefreshInterval bounds refreshInterval from below.
	MinimumRefreshInterval = 1000
)

// RefreshPolicy is the device-list refresh configuration.
type RefreshPolicy struct {
	RefreshMode        RefreshMode    `json:"refreshMode"`
	RefreshInterval    int            `json:"refreshInterval"`
	SmartRefreshEvents []RefreshEvent `json:"smartRefreshEvents"`
}

// DefaultRefreshPolicy returns the compiled-in defaults.
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{
		RefreshMode:        RefreshSmart,
		RefreshInterval:    DefaultRefreshInterval,
		SmartRefreshEvents: append([]RefreshEvent(nil), KnownRefreshEvents...),
	}
}

// Interval returns RefreshInterval as a duration.
func (p RefreshPolicy) Interval() time.Duration {
	return time.Duration(p.RefreshInterval) * time.Millisecond
}

// Triggers reports whether ev is one of the smart refresh events.
func (p RefreshPolicy) Triggers(ev RefreshEvent) bool {
	for _, e := range p.SmartRefreshEvents {
		if e == ev {
			return true
		}
	}
	return false
}
