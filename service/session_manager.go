package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"devicemirror/models"
	"devicemirror/process"
)

// DefaultSpawnGrace is how long a fresh scrcpy process must survive to
// count as started.
const DefaultSpawnGrace = time.Second

// SessionState represents the lifecycle state of a mirroring session
type SessionState int

const (
	StateStopped  SessionState = iota // Process gone
	StateStarting                     // Spawned, inside the grace window
	StateRunning                      // Survived the grace window
	StateStopping                     // Termination requested
)

func (s SessionState) String() string {
	return [...]string{"STOPPED", "STARTING", "RUNNING", "STOPPING"}[s]
}

// ProcessHandle is a spawned mirroring process. *process.Process
// satisfies it.
type ProcessHandle interface {
	Pid() int
	Done() <-chan struct{}
	ExitCode() int
	Terminate() error
}

// Spawner starts detached processes.
type Spawner interface {
	Spawn(name string, args []string, logger *slog.Logger) (ProcessHandle, error)
}

// ProcessSpawner adapts *process.Runner to Spawner.
type ProcessSpawner struct {
	Runner *process.Runner
}

func (s ProcessSpawner) Spawn(name string, args []string, logger *slog.Logger) (ProcessHandle, error) {
	p, err := s.Runner.Spawn(name, args, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SettingsSource provides the current mirroring settings.
type SettingsSource interface {
	MirroringSettings(ctx context.Context) (models.MirroringSettings, error)
}

// DeviceLookup resolves the per-device encoder override.
type DeviceLookup interface {
	GetDevice(id string) models.Device
}

// SpawnError means a session could not be started. ExitCode is -1 when
// the process never ran.
type SpawnError struct {
	DeviceID string
	ExitCode int
	Err      error
}

func (e *SpawnError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("scrcpy for %s exited with code %d: %v", e.DeviceID, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("scrcpy for %s failed to start: %v", e.DeviceID, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// session is one mirroring process bound to a device identity.
type session struct {
	deviceID  string
	proc      ProcessHandle
	startedAt time.Time

	mu       sync.Mutex
	state    SessionState
	replaced bool // superseded by a newer session for the same device
}

func (s *session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *session) info(now time.Time) models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionInfo{
		DeviceID:  s.deviceID,
		PID:       s.proc.Pid(),
		State:     s.state.String(),
		StartedAt: s.startedAt,
		UptimeMs:  now.Sub(s.startedAt).Milliseconds(),
		Running:   s.state == StateStarting || s.state == StateRunning,
	}
}

// SessionManagerConfig configures NewSessionManager.
type SessionManagerConfig struct {
	ScrcpyPath string
	Grace      time.Duration
	Spawner    Spawner
	Settings   SettingsSource
	Devices    DeviceLookup
	Events     Publisher
	Logger     *slog.Logger
}

// SessionManager keeps at most one scrcpy process per device. Operations
// on the same device are serialised by a per-device lock.
type SessionManager struct {
	scrcpyPath string
	grace      time.Duration
	spawner    Spawner
	settings   SettingsSource
	devices    DeviceLookup
	events     Publisher
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	locks    map[string]*deviceLock
}

func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.ScrcpyPath == "" {
		cfg.ScrcpyPath = "scrcpy"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultSpawnGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &SessionManager{
		scrcpyPath: cfg.ScrcpyPath,
		grace:      cfg.Grace,
		spawner:    cfg.Spawner,
		settings:   cfg.Settings,
		devices:    cfg.Devices,
		events:     cfg.Events,
		logger:     cfg.Logger.With("component", "sessions"),
		sessions:   make(map[string]*session),
		locks:      make(map[string]*deviceLock),
	}
}

// deviceLock serialises operations on one device. refs counts holders
// and waiters; the entry is dropped from the map when it reaches zero.
type deviceLock struct {
	sync.Mutex
	refs int
}

func (m *SessionManager) acquire(deviceID string) *deviceLock {
	m.mu.Lock()
	l, ok := m.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		m.locks[deviceID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return l
}

func (m *SessionManager) release(deviceID string, l *deviceLock) {
	l.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, deviceID)
	}
	m.mu.Unlock()
}

// StartSession launches scrcpy for deviceID, stopping any session it
// already has. It returns a *SpawnError if the process cannot be started
// or exits within the grace window.
func (m *SessionManager) StartSession(ctx context.Context, deviceID string) (models.SessionInfo, error) {
	lock := m.acquire(deviceID)
	defer m.release(deviceID, lock)

	logger := m.logger.With("device", deviceID)

	if m.stopLocked(deviceID, true) {
		logger.Info("🔁 Replacing existing session")
	}

	settings, err := m.settings.MirroringSettings(ctx)
	if err != nil {
		logger.Warn("⚠️ Could not read mirroring settings, using defaults", "error", err)
		settings = models.DefaultMirroringSettings()
	}
	var encoder string
	if m.devices != nil {
		encoder = m.devices.GetDevice(deviceID).EncoderName
	}
	args := BuildArgs(deviceID, settings, encoder)

	logger.Info("🚀 Starting scrcpy", "args", args)
	proc, err := m.spawner.Spawn(m.scrcpyPath, args, logger.With("process", "scrcpy"))
	if err != nil {
		return models.SessionInfo{}, m.fail(deviceID, &SpawnError{DeviceID: deviceID, ExitCode: -1, Err: err})
	}

	s := &session{
		deviceID:  deviceID,
		proc:      proc,
		startedAt: time.Now(),
		state:     StateStarting,
	}

	grace := time.NewTimer(m.grace)
	defer grace.Stop()
	select {
	case <-proc.Done():
		code := proc.ExitCode()
		return models.SessionInfo{}, m.fail(deviceID, &SpawnError{
			DeviceID: deviceID,
			ExitCode: code,
			Err:      fmt.Errorf("process exited within %s", m.grace),
		})
	case <-ctx.Done():
		_ = proc.Terminate()
		return models.SessionInfo{}, ctx.Err()
	case <-grace.C:
	}

	s.setState(StateRunning)
	m.mu.Lock()
	m.sessions[deviceID] = s
	m.mu.Unlock()
	go m.watch(s)

	logger.Info("✅ Session started", "pid", proc.Pid())
	m.publish(models.Event{Type: models.EventSessionStarted, DeviceID: deviceID})
	return s.info(time.Now()), nil
}

func (m *SessionManager) fail(deviceID string, err *SpawnError) error {
	m.logger.Error("❌ Session failed to start", "device", deviceID, "exit_code", err.ExitCode, "error", err.Err)
	m.publish(models.Event{Type: models.EventSessionError, DeviceID: deviceID, Error: err.Error()})
	return err
}

// watch removes the session once its process exits. The explicit stop
// path may already have removed it.
func (m *SessionManager) watch(s *session) {
	<-s.proc.Done()
	code := s.proc.ExitCode()

	m.mu.Lock()
	if current, ok := m.sessions[s.deviceID]; ok && current == s {
		delete(m.sessions, s.deviceID)
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.state = StateStopped
	replaced := s.replaced
	s.mu.Unlock()

	m.logger.Info("🛑 Session ended", "device", s.deviceID, "exit_code", code)
	if !replaced {
		m.publish(models.Event{Type: models.EventSessionEnded, DeviceID: s.deviceID, ExitCode: &code})
	}
}

// StopSession requests termination of the session for deviceID. It
// returns false if there is none. It does not wait for the exit.
func (m *SessionManager) StopSession(deviceID string) bool {
	lock := m.acquire(deviceID)
	defer m.release(deviceID, lock)
	return m.stopLocked(deviceID, false)
}

func (m *SessionManager) stopLocked(deviceID string, replacing bool) bool {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if ok {
		delete(m.sessions, deviceID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	s.state = StateStopping
	s.replaced = replacing
	s.mu.Unlock()

	if err := s.proc.Terminate(); err != nil {
		m.logger.Warn("⚠️ Terminate failed", "device", deviceID, "pid", s.proc.Pid(), "error", err)
	} else {
		m.logger.Info("⏹️ Termination requested", "device", deviceID, "pid", s.proc.Pid())
	}
	return true
}

// StopAllSessions stops every session concurrently and reports the
// result per device.
func (m *SessionManager) StopAllSessions() map[string]bool {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]bool, len(ids))
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			stopped := m.StopSession(id)
			mu.Lock()
			results[id] = stopped
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// GetSessionInfo returns the live session for deviceID, if any.
func (m *SessionManager) GetSessionInfo(deviceID string) (models.SessionInfo, bool) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		return models.SessionInfo{}, false
	}
	return s.info(time.Now()), true
}

// ListSessions returns every live session, oldest first.
func (m *SessionManager) ListSessions() []models.SessionInfo {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	now := time.Now()
	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info(now))
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].DeviceID < infos[j].DeviceID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

func (m *SessionManager) publish(ev models.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}
