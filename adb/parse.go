package adb

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// StateDevice is the adb state of a connected, authorized device.
const StateDevice = "device"

const listHeader = "List of devices attached"

// DeviceEntry is one row of `adb devices -l`.
type DeviceEntry struct {
	Serial     string
	State      string            // device, offline, unauthorized, ...
	Attributes map[string]string // product, model, device, transport_id
}

// Online reports whether adb considers the device usable.
func (e DeviceEntry) Online() bool {
	return e.State == StateDevice
}

// FallbackEncoders is used when a device does not report its encoders.
var FallbackEncoders = []string{
	"h264",
	"h265",
	"OMX.qcom.video.encoder.avc",
	"OMX.qcom.video.encoder.hevc",
	"OMX.MTK.VIDEO.ENCODER.AVC",
	"OMX.MTK.VIDEO.ENCODER.HEVC",
	"c2.android.avc.encoder",
	"c2.android.hevc.encoder",
}

// ParseDeviceList parses the output of 'adb devices -l'. Daemon status
// lines are skipped; a missing header or a row without a state makes the
// whole output malformed.
func ParseDeviceList(output string) ([]DeviceEntry, error) {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")

	headerSeen := false
	devices := make([]DeviceEntry, 0)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "*") {
			continue
		}
		if !headerSeen {
			if strings.HasPrefix(trimmed, listHeader) {
				headerSeen = true
			}
			continue
		}

		// Expected format: <serial> <state> [key:value ...]
		parts := strings.Fields(trimmed)
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed device line %q", trimmed)
		}

		entry := DeviceEntry{
			Serial:     parts[0],
			State:      parts[1],
			Attributes: make(map[string]string),
		}
		for _, part := range parts[2:] {
			if key, value, ok := strings.Cut(part, ":"); ok {
				entry.Attributes[key] = value
			}
		}
		devices = append(devices, entry)
	}

	if !headerSeen {
		return nil, errors.New("device list header not found")
	}
	return devices, nil
}

// ParseScreenSize parses `wm size`. The override size wins over the
// physical size because that is what the display actually renders.
func ParseScreenSize(output string) (string, error) {
	return parseWMValue(output, "size")
}

// ParseDensity parses `wm density` with the same override rule.
func ParseDensity(output string) (string, error) {
	return parseWMValue(output, "density")
}

func parseWMValue(output, field string) (string, error) {
	var physical, override string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Physical " + field:
			physical = strings.TrimSpace(value)
		case "Override " + field:
			override = strings.TrimSpace(value)
		}
	}

	if override != "" {
		return override, nil
	}
	if physical != "" {
		return physical, nil
	}
	return "", fmt.Errorf("no %s in wm output", field)
}

var encoderNamePattern = regexp.MustCompile(`name=([^,\s]+)`)

// ParseEncoders extracts video encoder names from `dumpsys media.codec`.
func ParseEncoders(output string) ([]string, error) {
	seen := make(map[string]bool)
	var encoders []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "encoder: video") {
			continue
		}
		match := encoderNamePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		name := strings.TrimSpace(match[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		encoders = append(encoders, name)
	}
	if len(encoders) == 0 {
		return nil, errors.New("no video encoders reported")
	}
	return encoders, nil
}

// connectSucceeded interprets `adb connect` output. adb exits 0 for
// most failures, so the text is authoritative.
func connectSucceeded(output string) bool {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "cannot") || strings.Contains(lower, "unable") {
		return false
	}
	return strings.Contains(lower, "connected to")
}

// pairSucceeded interprets `adb pair` output.
func pairSucceeded(output string) bool {
	return strings.Contains(strings.ToLower(output), "successfully paired")
}
