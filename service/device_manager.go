package service

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net"
	"strings"
	"sync"
	"time"

	"devicemirror/adb"
	"devicemirror/models"
	"devicemirror/store"
)

// DefaultADBPort is used when connect or pair is given no port.
const DefaultADBPort = "5555"

// DefaultSettleDelay is the pause between a connect/disconnect and the
// refresh that follows it.
const DefaultSettleDelay = time.Second

// DeviceBridge is the adb surface the registry needs. *adb.ADBClient
// satisfies it.
type DeviceBridge interface {
	ListDevices(ctx context.Context) ([]adb.DeviceEntry, error)
	GetProperty(ctx context.Context, deviceID, property string) (string, error)
	ScreenResolution(ctx context.Context, deviceID string) (string, error)
	ScreenDensity(ctx context.Context, deviceID string) (string, error)
	VideoEncoders(ctx context.Context, deviceID string) ([]string, error)
	Connect(ctx context.Context, address string) (string, error)
	Disconnect(ctx context.Context, address string) (string, error)
	Pair(ctx context.Context, address, code string) (string, error)
	ExecuteCommand(ctx context.Context, deviceID, command string) (string, error)
}

// DeviceStore persists the device table. *store.Store satisfies it.
type DeviceStore interface {
	UpsertDevice(ctx context.Context, d models.Device) error
	GetDevice(ctx context.Context, id string) (models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	SetDisplayName(ctx context.Context, id, name string) error
	SetDeviceEncoder(ctx context.Context, id, encoder string) error
	UpdateDeviceSettings(ctx context.Context, id string, partial map[string]any) (map[string]any, error)
	DisplayName(ctx context.Context, id string) (name string, ok bool, err error)
	DisplayNames(ctx context.Context) (map[string]string, error)
}

// LifecycleListener is told about connect, disconnect and pair events.
type LifecycleListener func(ev models.RefreshEvent)

// DeviceManagerConfig configures NewDeviceManager.
type DeviceManagerConfig struct {
	Bridge      DeviceBridge
	Store       DeviceStore
	Events      Publisher
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// DeviceManager reconciles live adb devices with the persisted device
// table and caches the result.
type DeviceManager struct {
	bridge DeviceBridge
	store  DeviceStore
	events Publisher
	settle time.Duration
	logger *slog.Logger

	refreshMu sync.Mutex // one refresh cycle at a time

	mu      sync.RWMutex
	devices map[string]models.Device
	order   []string

	listenersMu sync.RWMutex
	listeners   []LifecycleListener
}

func NewDeviceManager(cfg DeviceManagerConfig) *DeviceManager {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &DeviceManager{
		bridge:  cfg.Bridge,
		store:   cfg.Store,
		events:  cfg.Events,
		settle:  cfg.SettleDelay,
		logger:  cfg.Logger.With("component", "devices"),
		devices: make(map[string]models.Device),
	}
}

// OnLifecycle registers fn for lifecycle notifications.
func (m *DeviceManager) OnLifecycle(fn LifecycleListener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

func (m *DeviceManager) notify(ev models.RefreshEvent) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, fn := range m.listeners {
		fn(ev)
	}
}

// Enumerate returns adb's raw device list.
func (m *DeviceManager) Enumerate(ctx context.Context) ([]adb.DeviceEntry, error) {
	return m.bridge.ListDevices(ctx)
}

// Refresh rebuilds the inventory: online devices in adb order with fresh
// metadata, then every persisted device that is not online, marked
// offline. Failures degrade instead of aborting the cycle.
func (m *DeviceManager) Refresh(ctx context.Context) []models.Device {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	entries, err := m.bridge.ListDevices(ctx)
	if err != nil {
		m.logger.Warn("⚠️ Device enumeration failed, treating as no live devices", "error", err)
		entries = nil
	}

	persisted, err := m.store.ListDevices(ctx)
	known := make(map[string]models.Device, len(persisted))
	if err != nil {
		// Without history, keep the user overrides from the last cycle.
		m.logger.Warn("⚠️ Could not load device history", "error", err)
		persisted = nil
		m.mu.RLock()
		for id, d := range m.devices {
			known[id] = d
		}
		m.mu.RUnlock()
	}
	for _, d := range persisted {
		known[d.ID] = d
	}

	var live []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Online() && !seen[e.Serial] {
			seen[e.Serial] = true
			live = append(live, e.Serial)
		}
	}

	fetched := make([]models.Device, len(live))
	var wg sync.WaitGroup
	for i, id := range live {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			fetched[i] = m.fetchDevice(ctx, id)
		}(i, id)
	}
	wg.Wait()

	now := time.Now().Unix()
	devices := make([]models.Device, 0, len(live)+len(persisted))
	for _, d := range fetched {
		d.Status = models.StatusOnline
		d.LastSeen = now
		d.DisplayName = d.ID
		if prev, ok := known[d.ID]; ok {
			d.DisplayName = prev.DisplayName
			d.EncoderName = prev.EncoderName
			d.Settings = prev.Settings
		}
		if err := m.store.UpsertDevice(ctx, d); err != nil {
			m.logger.Warn("⚠️ Could not persist device", "device", d.ID, "error", err)
		}
		devices = append(devices, d)
	}
	for _, d := range persisted {
		if seen[d.ID] {
			continue
		}
		d.Status = models.StatusOffline
		devices = append(devices, d)
	}

	m.mu.Lock()
	m.devices = make(map[string]models.Device, len(devices))
	m.order = m.order[:0]
	for _, d := range devices {
		m.devices[d.ID] = d
		m.order = append(m.order, d.ID)
	}
	m.mu.Unlock()

	m.logger.Info("📱 Devices refreshed", "online", len(live), "total", len(devices))
	result := cloneDevices(devices)
	m.publish(models.Event{Type: models.EventDevicesUpdated, Devices: cloneDevices(devices)})
	return result
}

// fetchDevice reads every metadata field independently; a failed field
// becomes Unknown (or the fallback encoder list) and is logged.
func (m *DeviceManager) fetchDevice(ctx context.Context, id string) models.Device {
	d := models.PlaceholderDevice(id)

	field := func(name string, fetch func() (string, error)) string {
		value, err := fetch()
		if err != nil {
			m.logger.Warn("⚠️ Metadata fetch failed", "error", &adb.MetadataFetchError{DeviceID: id, Field: name, Err: err})
			return models.Unknown
		}
		return value
	}
	prop := func(name string) func() (string, error) {
		return func() (string, error) { return m.bridge.GetProperty(ctx, id, name) }
	}

	d.Model = field("model", prop("ro.product.model"))
	d.Brand = field("brand", prop("ro.product.brand"))
	d.AndroidVersion = field("android_version", prop("ro.build.version.release"))
	d.Resolution = field("resolution", func() (string, error) { return m.bridge.ScreenResolution(ctx, id) })
	d.Density = field("density", func() (string, error) { return m.bridge.ScreenDensity(ctx, id) })

	encoders, err := m.bridge.VideoEncoders(ctx, id)
	if err != nil {
		m.logger.Warn("⚠️ Metadata fetch failed, using fallback encoders", "error", &adb.MetadataFetchError{DeviceID: id, Field: "encoders", Err: err})
		encoders = append([]string(nil), adb.FallbackEncoders...)
	}
	d.SupportedEncoders = encoders
	return d
}

// GetDevice returns the cached device, or an Unknown/offline placeholder.
func (m *DeviceManager) GetDevice(id string) models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devices[id]; ok {
		return d.Clone()
	}
	return models.PlaceholderDevice(id)
}

// GetAllDevices returns the result of the last refresh.
func (m *DeviceManager) GetAllDevices() []models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]models.Device, 0, len(m.order))
	for _, id := range m.order {
		devices = append(devices, m.devices[id].Clone())
	}
	return devices
}

// Connect runs adb connect against host:port, waits for adb to settle
// and refreshes. The *adb.ConnectError carries adb's output.
func (m *DeviceManager) Connect(ctx context.Context, host, port string) (string, error) {
	address, err := joinAddress(host, port)
	if err != nil {
		return "", err
	}

	m.logger.Info("🔌 Connecting", "address", address)
	output, err := m.bridge.Connect(ctx, address)
	if err != nil {
		m.logger.Warn("❌ Connect failed", "address", address, "output", strings.TrimSpace(output))
		return output, err
	}

	m.settleAndRefresh(ctx)
	return output, nil
}

// Disconnect drops a network device and refreshes.
func (m *DeviceManager) Disconnect(ctx context.Context, id string) (string, error) {
	if !models.IsNetworkIdentity(id) {
		return "", adb.ErrNotNetworkDevice
	}

	m.logger.Info("🔌 Disconnecting", "device", id)
	output, err := m.bridge.Disconnect(ctx, id)
	if err != nil {
		return output, err
	}

	m.settleAndRefresh(ctx)
	return output, nil
}

// Pair pairs with a wireless debugging endpoint. It does not connect.
func (m *DeviceManager) Pair(ctx context.Context, host, port, code string) (string, error) {
	address, err := joinAddress(host, port)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(code) == "" {
		return "", &store.ValidationError{Field: "code", Message: "pairing code is required"}
	}

	m.logger.Info("🔗 Pairing", "address", address)
	output, err := m.bridge.Pair(ctx, address, strings.TrimSpace(code))
	if err != nil {
		return output, err
	}

	m.notify(models.EventPair)
	return output, nil
}

func (m *DeviceManager) settleAndRefresh(ctx context.Context) {
	timer := time.NewTimer(m.settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	m.Refresh(ctx)
}

// Rename sets the display name of a persisted device and refreshes.
func (m *DeviceManager) Rename(ctx context.Context, id, name string) error {
	if _, err := m.store.GetDevice(ctx, id); err != nil {
		return err
	}
	if err := m.store.SetDisplayName(ctx, id, name); err != nil {
		return err
	}

	m.mu.Lock()
	if d, ok := m.devices[id]; ok {
		d.DisplayName = strings.TrimSpace(name)
		m.devices[id] = d
	}
	m.mu.Unlock()

	m.Refresh(ctx)
	return nil
}

// SetEncoder stores the encoder scrcpy uses for id; "" clears it.
func (m *DeviceManager) SetEncoder(ctx context.Context, id, encoder string) error {
	if err := m.store.SetDeviceEncoder(ctx, id, encoder); err != nil {
		return err
	}

	m.mu.Lock()
	if d, ok := m.devices[id]; ok {
		d.EncoderName = strings.TrimSpace(encoder)
		m.devices[id] = d
	}
	m.mu.Unlock()
	return nil
}

// DisplayName returns the name shown for id; a device that was never
// persisted is shown by its identity.
func (m *DeviceManager) DisplayName(ctx context.Context, id string) (string, error) {
	name, ok, err := m.store.DisplayName(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok || name == "" {
		return id, nil
	}
	return name, nil
}

// DisplayNames maps every persisted identity to its display name.
func (m *DeviceManager) DisplayNames(ctx context.Context) (map[string]string, error) {
	return m.store.DisplayNames(ctx)
}

// DeviceSettings returns the per-device settings object of a persisted
// device, empty when none were saved.
func (m *DeviceManager) DeviceSettings(ctx context.Context, id string) (map[string]any, error) {
	d, err := m.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Settings == nil {
		return map[string]any{}, nil
	}
	return d.Settings, nil
}

// UpdateDeviceSettings merges partial into the settings of id, in the
// store and in the cached device.
func (m *DeviceManager) UpdateDeviceSettings(ctx context.Context, id string, partial map[string]any) (map[string]any, error) {
	settings, err := m.store.UpdateDeviceSettings(ctx, id, partial)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if d, ok := m.devices[id]; ok {
		d.Settings = maps.Clone(settings)
		m.devices[id] = d
	}
	m.mu.Unlock()

	m.logger.Info("⚙️ Device settings updated", "device", id, "keys", len(partial))
	return settings, nil
}

// ExecuteShellCommand runs command on one device.
func (m *DeviceManager) ExecuteShellCommand(ctx context.Context, id, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", &store.ValidationError{Field: "command", Message: "command is required"}
	}
	return m.bridge.ExecuteCommand(ctx, id, command)
}

// Broadcast runs command on every known device in turn. A failure on
// one device is recorded and the rest still run.
func (m *DeviceManager) Broadcast(ctx context.Context, command string) map[string]models.CommandResult {
	ids := make([]string, 0)
	for _, d := range m.GetAllDevices() {
		ids = append(ids, d.ID)
	}
	return m.runOn(ctx, ids, command)
}

func (m *DeviceManager) runOn(ctx context.Context, ids []string, command string) map[string]models.CommandResult {
	results := make(map[string]models.CommandResult, len(ids))
	for _, id := range ids {
		output, err := m.ExecuteShellCommand(ctx, id, command)
		result := models.CommandResult{DeviceID: id, Success: err == nil, Output: output}
		if err != nil {
			var cmdErr *adb.CommandError
			if errors.As(err, &cmdErr) && cmdErr.Output != "" {
				result.Output = cmdErr.Output
			}
			result.Error = err.Error()
			m.logger.Warn("⚠️ Command failed", "device", id, "error", err)
		}
		results[id] = result
	}
	return results
}

func (m *DeviceManager) publish(ev models.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}

func joinAddress(host, port string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", &store.ValidationError{Field: "ip", Message: "address is required"}
	}
	port = strings.TrimSpace(port)
	if port == "" {
		port = DefaultADBPort
	}
	return net.JoinHostPort(host, port), nil
}

func cloneDevices(devices []models.Device) []models.Device {
	out := make([]models.Device, len(devices))
	for i, d := range devices {
		out[i] = d.Clone()
	}
	return out
}
