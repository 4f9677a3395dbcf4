package models

import "strings"

// DeviceStatus is the reconciled connection state of a device.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Unknown is substituted for any metadata field that could not be read.
const Unknown = "Unknown"

// Device is one Android device known to the registry, keyed by its adb
// identity (USB serial or ip:port).
type Device struct {
	ID                string         `json:"id"`
	DisplayName       string         `json:"display_name"`
	Model             string         `json:"model"`
	Brand             string         `json:"brand"`
	AndroidVersion    string         `json:"android_version"`
	Resolution        string         `json:"resolution"`
	Density           string         `json:"density"`
	SupportedEncoders []string       `json:"supported_encoders"`
	EncoderName       string         `json:"encoder_name,omitempty"`
	Status            DeviceStatus   `json:"status"` // online, offline
	Settings          map[string]any `json:"device_settings,omitempty"`
	LastSeen          int64          `json:"last_seen"`
}

// IsNetwork reports whether the identity is an ip:port pair rather than
// a USB serial.
func (d Device) IsNetwork() bool {
	return IsNetworkIdentity(d.ID)
}

// IsNetworkIdentity reports whether id contains a port separator.
func IsNetworkIdentity(id string) bool {
	return strings.Contains(id, ":")
}

// PlaceholderDevice returns the record used for identities the registry
// has never seen.
func PlaceholderDevice(id string) Device {
	return Device{
		ID:                id,
		DisplayName:       id,
		Model:             Unknown,
		Brand:             Unknown,
		AndroidVersion:    Unknown,
		Resolution:        Unknown,
		Density:           Unknown,
		SupportedEncoders: []string{},
		Status:            StatusOffline,
	}
}

// Clone returns a deep copy so callers can't mutate cached state.
func (d Device) Clone() Device {
	out := d
	if d.SupportedEncoders != nil {
		out.SupportedEncoders = append([]string(nil), d.SupportedEncoders...)
	}
	if d.Settings != nil {
		out.Settings = make(map[string]any, len(d.Settings))
		for k, v := range d.Settings {
			out.Settings[k] = v
		}
	}
	return out
}
