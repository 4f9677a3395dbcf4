package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"devicemirror/adb"
	"devicemirror/models"
)

const (
	minAutoInterval  = time.Second
	minSmartInterval = 10 * time.Second
	// minRefreshGap skips a non-forced refresh that follows another too closely.
	minRefreshGap = time.Second
)

// Refreshable is the registry as the scheduler sees it.
type Refreshable interface {
	Refresh(ctx context.Context) []models.Device
}

// PolicySource provides the current refresh policy.
type PolicySource interface {
	RefreshPolicy(ctx context.Context) (models.RefreshPolicy, error)
}

// Tracker streams device-list snapshots. *adb.ADBClient satisfies it.
type Tracker interface {
	TrackDevices(ctx context.Context) (<-chan []adb.DeviceEntry, error)
}

// Refresher keeps the device list current according to the refresh
// policy: a poll timer plus event-driven refreshes from the adb tracker
// and pair notifications.
type Refresher struct {
	devices  Refreshable
	policies PolicySource
	tracker  Tracker
	logger   *slog.Logger

	reload chan struct{}
	events chan models.RefreshEvent

	mu          sync.Mutex
	gap         time.Duration
	lastRefresh time.Time
}

func NewRefresher(devices Refreshable, policies PolicySource, tracker Tracker, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Refresher{
		devices:  devices,
		policies: policies,
		tracker:  tracker,
		logger:   logger.With("component", "refresher"),
		reload:   make(chan struct{}, 1),
		events:   make(chan models.RefreshEvent, 8),
		gap:      minRefreshGap,
	}
}

// Reload makes Run re-read the policy.
func (r *Refresher) Reload() {
	select {
	case r.reload <- struct{}{}:
	default:
	}
}

// Notify reports a lifecycle event; DeviceManager.OnLifecycle accepts it.
func (r *Refresher) Notify(ev models.RefreshEvent) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("⚠️ Refresh event queue full, dropping", "event", ev)
	}
}

// Run refreshes once, then schedules refreshes until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	policy := r.loadPolicy(ctx)
	r.refresh(ctx, true)

	ticker, tick := newPollTicker(policy)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	track := r.startTracker(ctx)
	var previous []adb.DeviceEntry
	primed := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-r.reload:
			policy = r.loadPolicy(ctx)
			if ticker != nil {
				ticker.Stop()
			}
			ticker, tick = newPollTicker(policy)

		case <-tick:
			r.refresh(ctx, false)
			if track == nil {
				track = r.startTracker(ctx)
				primed = false
			}

		case snapshot, ok := <-track:
			if !ok {
				r.logger.Debug("Device tracker stopped, restarting on next poll")
				track = nil
				continue
			}
			// The first snapshot is the current list, not a change.
			if !primed {
				previous, primed = snapshot, true
				continue
			}
			changes := diffSnapshots(previous, snapshot)
			previous = snapshot
			for _, ev := range changes {
				if shouldRefresh(policy, ev) {
					r.logger.Info("🔄 Device change detected", "event", ev)
					r.refresh(ctx, false)
					break
				}
			}

		case ev := <-r.events:
			if shouldRefresh(policy, ev) {
				// A new pairing always gets its refresh.
				r.refresh(ctx, ev == models.EventPair)
			}
		}
	}
}

func (r *Refresher) loadPolicy(ctx context.Context) models.RefreshPolicy {
	policy, err := r.policies.RefreshPolicy(ctx)
	if err != nil {
		r.logger.Warn("⚠️ Could not read refresh policy, using defaults", "error", err)
		policy = models.DefaultRefreshPolicy()
	}
	interval, _ := pollInterval(policy)
	r.logger.Info("⚙️ Refresh policy loaded", "mode", policy.RefreshMode, "poll", interval, "events", policy.SmartRefreshEvents)
	return policy
}

func (r *Refresher) startTracker(ctx context.Context) <-chan []adb.DeviceEntry {
	if r.tracker == nil {
		return nil
	}
	ch, err := r.tracker.TrackDevices(ctx)
	if err != nil {
		r.logger.Warn("⚠️ Could not start device tracker", "error", err)
		return nil
	}
	return ch
}

// refresh runs a cycle unless a non-forced one would follow the previous
// refresh within the minimum gap.
func (r *Refresher) refresh(ctx context.Context, force bool) {
	r.mu.Lock()
	now := time.Now()
	if !force && now.Sub(r.lastRefresh) < r.gap {
		r.mu.Unlock()
		r.logger.Debug("Skipping refresh, too soon after the previous one")
		return
	}
	r.lastRefresh = now
	r.mu.Unlock()

	r.devices.Refresh(ctx)
}

func newPollTicker(policy models.RefreshPolicy) (*time.Ticker, <-chan time.Time) {
	interval, ok := pollInterval(policy)
	if !ok {
		return nil, nil
	}
	t := time.NewTicker(interval)
	return t, t.C
}

// pollInterval returns the timer period for policy; ok is false in
// manual mode.
func pollInterval(policy models.RefreshPolicy) (time.Duration, bool) {
	switch policy.RefreshMode {
	case models.RefreshAuto:
		return max(policy.Interval(), minAutoInterval), true
	case models.RefreshSmart:
		return max(2*policy.Interval(), minSmartInterval), true
	default:
		return 0, false
	}
}

// shouldRefresh decides whether ev triggers a refresh under policy.
func shouldRefresh(policy models.RefreshPolicy, ev models.RefreshEvent) bool {
	switch policy.RefreshMode {
	case models.RefreshAuto:
		return true
	case models.RefreshSmart:
		return policy.Triggers(ev)
	default:
		return false
	}
}

// diffSnapshots turns two tracker snapshots into connect/disconnect
// events, at most one of each.
func diffSnapshots(prev, next []adb.DeviceEntry) []models.RefreshEvent {
	online := func(entries []adb.DeviceEntry) map[string]bool {
		set := make(map[string]bool, len(entries))
		for _, e := range entries {
			if e.Online() {
				set[e.Serial] = true
			}
		}
		return set
	}
	before, after := online(prev), online(next)

	var events []models.RefreshEvent
	for id := range after {
		if !before[id] {
			events = append(events, models.EventConnect)
			break
		}
	}
	for id := range before {
		if !after[id] {
			events = append(events, models.EventDisconnect)
			break
		}
	}
	return events
}
