package service

import (
	"context"
	"log/slog"
	"strings"

	"devicemirror/models"
	"devicemirror/store"
)

// CommandBroadcaster fans a shell command out to several devices.
type CommandBroadcaster struct {
	deviceManager *DeviceManager
	logger        *slog.Logger
}

func NewCommandBroadcaster(dm *DeviceManager, logger *slog.Logger) *CommandBroadcaster {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CommandBroadcaster{
		deviceManager: dm,
		logger:        logger.With("component", "broadcast"),
	}
}

// Broadcast runs req.Command on req.DeviceIDs, or on every known device
// when none are named. Each device gets its own result.
func (b *CommandBroadcaster) Broadcast(ctx context.Context, req models.CommandRequest) (map[string]models.CommandResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, &store.ValidationError{Field: "command", Message: "command is required"}
	}

	var results map[string]models.CommandResult
	if len(req.DeviceIDs) == 0 {
		results = b.deviceManager.Broadcast(ctx, req.Command)
	} else {
		ids := make([]string, 0, len(req.DeviceIDs))
		seen := make(map[string]bool)
		for _, id := range req.DeviceIDs {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		results = b.deviceManager.runOn(ctx, ids, req.Command)
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	b.logger.Info("📣 Broadcast finished", "command", req.Command, "devices", len(results), "failed", failed)
	return results, nil
}
