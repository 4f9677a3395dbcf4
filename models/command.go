package models

// CommandRequest is the body of a shell command sent to one or more devices.
type CommandRequest struct {
	Command   string   `json:"command"`
	DeviceIDs []string `json:"device_ids,omitempty"` // empty means every known device
}

// CommandResult is the outcome of a shell command on a single device.
type CommandResult struct {
	DeviceID string `json:"device_id"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}
