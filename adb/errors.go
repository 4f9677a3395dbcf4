package adb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotNetworkDevice is returned when a network-only operation is asked
// for a USB serial.
var ErrNotNetworkDevice = errors.New("device is not connected over the network")

// EnumerationError means the device list could not be read. Callers
// treat it as "no live devices".
type EnumerationError struct {
	Output string
	Err    error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate devices: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// MetadataFetchError reports one failed property query. It is logged and
// replaced by a sentinel value, never returned out of a refresh.
type MetadataFetchError struct {
	DeviceID string
	Field    string
	Err      error
}

func (e *MetadataFetchError) Error() string {
	return fmt.Sprintf("fetch %s for %s: %v", e.Field, e.DeviceID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error { return e.Err }

// ConnectError carries the raw adb output of a failed connect or
// disconnect so callers can pattern-match it.
type ConnectError struct {
	Op      string // connect, disconnect
	Address string
	Output  string
	Err     error
}

func (e *ConnectError) Error() string {
	out := strings.TrimSpace(e.Output)
	if e.Err != nil && out == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Address, out)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// NeedsPairing reports whether adb refused the connection, which on
// Android 11+ wireless debugging means the host has not been paired yet.
func (e *ConnectError) NeedsPairing() bool {
	return strings.Contains(strings.ToLower(e.Output), "connection refused")
}

// PairError carries the raw adb output of a failed pairing attempt.
type PairError struct {
	Address string
	Output  string
	Err     error
}

func (e *PairError) Error() string {
	out := strings.TrimSpace(e.Output)
	if e.Err != nil && out == "" {
		return fmt.Sprintf("pair %s: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("pair %s: %s", e.Address, out)
}

func (e *PairError) Unwrap() error { return e.Err }

// CommandError is a failed shell command on a device.
type CommandError struct {
	DeviceID string
	Command  string
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q on %s failed: %v", e.Command, e.DeviceID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
