package adb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"devicemirror/process"
)

// DefaultCommandTimeout bounds every bookkeeping adb call (listing,
// properties, connect). User shell commands only use the caller's context.
const DefaultCommandTimeout = 15 * time.Second

// Runner executes the adb binary. *process.Runner satisfies it.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
	Start(ctx context.Context, name string, args ...string) (*process.Stream, error)
}

// ADBClient wraps ADB command execution
type ADBClient struct {
	ADBPath        string
	CommandTimeout time.Duration
	runner         Runner
}

// NewADBClient creates a new ADB client. An empty path means "adb" from PATH.
func NewADBClient(adbPath string, runner Runner) *ADBClient {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &ADBClient{
		ADBPath:        adbPath,
		CommandTimeout: DefaultCommandTimeout,
		runner:         runner,
	}
}

func (c *ADBClient) output(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.runner.Output(ctx, c.ADBPath, args...)
	return string(out), err
}

func (c *ADBClient) combined(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out, err := c.runner.CombinedOutput(ctx, c.ADBPath, args...)
	return string(out), err
}

func (c *ADBClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.CommandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.CommandTimeout)
}

// ListDevices returns every row of 'adb devices -l' in adb's order,
// whatever the state.
func (c *ADBClient) ListDevices(ctx context.Context) ([]DeviceEntry, error) {
	output, err := c.output(ctx, "devices", "-l")
	if err != nil {
		return nil, &EnumerationError{Output: output, Err: err}
	}

	devices, err := ParseDeviceList(output)
	if err != nil {
		return nil, &EnumerationError{Output: output, Err: err}
	}
	return devices, nil
}

// GetProperty gets a system property from the device
func (c *ADBClient) GetProperty(ctx context.Context, deviceID, property string) (string, error) {
	output, err := c.output(ctx, "-s", deviceID, "shell", "getprop", property)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(output)
	if value == "" {
		return "", fmt.Errorf("property %s is empty", property)
	}
	return value, nil
}

// ScreenResolution gets the device screen resolution
func (c *ADBClient) ScreenResolution(ctx context.Context, deviceID string) (string, error) {
	output, err := c.output(ctx, "-s", deviceID, "shell", "wm", "size")
	if err != nil {
		return "", err
	}
	return ParseScreenSize(output)
}

// ScreenDensity gets the device display density in dpi
func (c *ADBClient) ScreenDensity(ctx context.Context, deviceID string) (string, error) {
	output, err := c.output(ctx, "-s", deviceID, "shell", "wm", "density")
	if err != nil {
		return "", err
	}
	return ParseDensity(output)
}

// VideoEncoders lists the hardware/software video encoders scrcpy can use.
func (c *ADBClient) VideoEncoders(ctx context.Context, deviceID string) ([]string, error) {
	output, err := c.output(ctx, "-s", deviceID, "shell", "dumpsys", "media.codec")
	if err != nil {
		return nil, err
	}
	return ParseEncoders(output)
}

// Connect runs 'adb connect <address>' and returns adb's output.
func (c *ADBClient) Connect(ctx context.Context, address string) (string, error) {
	output, err := c.combined(ctx, "connect", address)
	if err != nil || !connectSucceeded(output) {
		if err == nil {
			err = errors.New("adb did not report a connection")
		}
		return output, &ConnectError{Op: "connect", Address: address, Output: output, Err: err}
	}
	return output, nil
}

// Disconnect runs 'adb disconnect <address>'.
func (c *ADBClient) Disconnect(ctx context.Context, address string) (string, error) {
	output, err := c.combined(ctx, "disconnect", address)
	if err != nil || strings.Contains(strings.ToLower(output), "error") {
		if err == nil {
			err = errors.New("adb reported an error")
		}
		return output, &ConnectError{Op: "disconnect", Address: address, Output: output, Err: err}
	}
	return output, nil
}

// Pair runs 'adb pair <address> <code>' for Android 11+ wireless debugging.
func (c *ADBClient) Pair(ctx context.Context, address, code string) (string, error) {
	output, err := c.combined(ctx, "pair", address, code)
	if err != nil || !pairSucceeded(output) {
		if err == nil {
			err = errors.New("adb did not report a successful pairing")
		}
		return output, &PairError{Address: address, Output: output, Err: err}
	}
	return output, nil
}

// ExecuteCommand executes a generic ADB shell command
func (c *ADBClient) ExecuteCommand(ctx context.Context, deviceID, command string) (string, error) {
	out, err := c.runner.Output(ctx, c.ADBPath, "-s", deviceID, "shell", command)
	if err != nil {
		detail := string(out)
		var procErr *process.Error
		if errors.As(err, &procErr) && procErr.Stderr != "" {
			detail = procErr.Stderr
		}
		return string(out), &CommandError{DeviceID: deviceID, Command: command, Output: detail, Err: err}
	}
	return string(out), nil
}
