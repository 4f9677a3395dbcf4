package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"devicemirror/adb"
	"devicemirror/models"
	"devicemirror/store"
)

// fakeBridge is a scripted adb. Metadata comes from meta; missing ids or
// fields fail the way a flaky device would.
type fakeBridge struct {
	mu       sync.Mutex
	list     []adb.DeviceEntry
	listErr  error
	meta     map[string]map[string]string
	encoders map[string][]string

	connectOutput string
	connectErr    error
	pairErr       error
	commandErr    map[string]error

	connected []string
	paired    []string
	commands  []string
}

func newFakeBridge(serials ...string) *fakeBridge {
	b := &fakeBridge{
		meta:       make(map[string]map[string]string),
		encoders:   make(map[string][]string),
		commandErr: make(map[string]error),
	}
	b.setLive(serials...)
	return b
}

func (b *fakeBridge) setLive(serials ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.list = nil
	for _, s := range serials {
		b.list = append(b.list, adb.DeviceEntry{Serial: s, State: adb.StateDevice})
	}
}

func (b *fakeBridge) addMeta(id, model, brand, version string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta[id] = map[string]string{
		"ro.product.model":         model,
		"ro.product.brand":         brand,
		"ro.build.version.release": version,
		"size":                     "1080x2400",
		"density":                  "420",
	}
	b.encoders[id] = []string{"c2.android.avc.encoder"}
}

func (b *fakeBridge) field(id, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.meta[id][key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("no %s for %s", key, id)
}

func (b *fakeBridge) ListDevices(context.Context) ([]adb.DeviceEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, &adb.EnumerationError{Err: b.listErr}
	}
	return append([]adb.DeviceEntry(nil), b.list...), nil
}

func (b *fakeBridge) GetProperty(_ context.Context, id, property string) (string, error) {
	return b.field(id, property)
}

func (b *fakeBridge) ScreenResolution(_ context.Context, id string) (string, error) {
	return b.field(id, "size")
}

func (b *fakeBridge) ScreenDensity(_ context.Context, id string) (string, error) {
	return b.field(id, "density")
}

func (b *fakeBridge) VideoEncoders(_ context.Context, id string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if enc, ok := b.encoders[id]; ok {
		return enc, nil
	}
	return nil, errors.New("dumpsys failed")
}

func (b *fakeBridge) Connect(_ context.Context, address string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectOutput, b.connectErr
	}
	b.connected = append(b.connected, address)
	b.list = append(b.list, adb.DeviceEntry{Serial: address, State: adb.StateDevice})
	return "connected to " + address, nil
}

func (b *fakeBridge) Disconnect(_ context.Context, address string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.list[:0]
	for _, e := range b.list {
		if e.Serial != address {
			kept = append(kept, e)
		}
	}
	b.list = kept
	return "disconnected " + address, nil
}

func (b *fakeBridge) Pair(_ context.Context, address, code string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pairErr != nil {
		return "Failed: Wrong password", b.pairErr
	}
	b.paired = append(b.paired, address+" "+code)
	return "Successfully paired to " + address, nil
}

func (b *fakeBridge) ExecuteCommand(_ context.Context, id, command string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, id)
	if err := b.commandErr[id]; err != nil {
		return "", &adb.CommandError{DeviceID: id, Command: command, Output: "error: device offline", Err: err}
	}
	return "ok from " + id, nil
}

// memStore is an in-memory DeviceStore that keeps insertion order.
type memStore struct {
	mu      sync.Mutex
	order   []string
	devices map[string]models.Device
	listErr error
}

func newMemStore() *memStore {
	return &memStore{devices: make(map[string]models.Device)}
}

func (s *memStore) UpsertDevice(_ context.Context, d models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.devices[d.ID]
	if !ok {
		s.order = append(s.order, d.ID)
		if d.DisplayName == "" {
			d.DisplayName = d.ID
		}
	} else {
		d.DisplayName = prev.DisplayName
		d.EncoderName = prev.EncoderName
		d.Settings = prev.Settings
	}
	s.devices[d.ID] = d.Clone()
	return nil
}

func (s *memStore) ListDevices(context.Context) ([]models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Device, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id].Clone())
	}
	return out, nil
}

func (s *memStore) SetDisplayName(_ context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}
	d.DisplayName = name
	s.devices[id] = d
	return nil
}

func (s *memStore) SetDeviceEncoder(_ context.Context, id, encoder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return &store.NotFoundError{ID: id}
	}
	d.EncoderName = encoder
	s.devices[id] = d
	return nil
}

func (s *memStore) GetDevice(_ context.Context, id string) (models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return models.Device{}, &store.NotFoundError{ID: id}
	}
	return d.Clone(), nil
}

func (s *memStore) UpdateDeviceSettings(_ context.Context, id string, partial map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, &store.NotFoundError{ID: id}
	}
	merged := make(map[string]any, len(d.Settings)+len(partial))
	for k, v := range d.Settings {
		merged[k] = v
	}
	for k, v := range partial {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	d.Settings = merged
	s.devices[id] = d
	out := make(map[string]any, len(merged))
	for k, v := range merged {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) DisplayName(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d.DisplayName, ok, nil
}

func (s *memStore) DisplayNames(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make(map[string]string, len(s.devices))
	for id, d := range s.devices {
		names[id] = d.DisplayName
	}
	return names, nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeProc is a controllable process handle.
type fakeProc struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	mu         sync.Mutex
	code       int
	terminated int
	// exitOnTerminate makes Terminate end the process like a real SIGTERM.
	exitOnTerminate bool
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, done: make(chan struct{}), code: -1, exitOnTerminate: true}
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProc) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated++
	exit := p.exitOnTerminate
	p.mu.Unlock()
	if exit {
		go p.exit(143)
	}
	return nil
}

func (p *fakeProc) terminateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// fakeSpawner hands out fakeProcs and records the args of every spawn.
type fakeSpawner struct {
	mu      sync.Mutex
	nextPID int
	procs   []*fakeProc
	args    [][]string
	err     error
	// prepare lets a test shape a process before it is returned.
	prepare func(p *fakeProc)
}

func (s *fakeSpawner) Spawn(_ string, args []string, _ *slog.Logger) (ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.nextPID++
	p := newFakeProc(1000 + s.nextPID)
	if s.prepare != nil {
		s.prepare(p)
	}
	s.procs = append(s.procs, p)
	s.args = append(s.args, args)
	return p, nil
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

type staticSettings struct {
	settings models.MirroringSettings
	err      error
}

func (s staticSettings) MirroringSettings(context.Context) (models.MirroringSettings, error) {
	return s.settings, s.err
}

type staticPolicy struct {
	mu     sync.Mutex
	policy models.RefreshPolicy
}

func (s *staticPolicy) RefreshPolicy(context.Context) (models.RefreshPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy, nil
}

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	ch    chan struct{}
}

func newCountingRefresher() *countingRefresher {
	return &countingRefresher{ch: make(chan struct{}, 16)}
}

func (c *countingRefresher) Refresh(context.Context) []models.Device {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type chanTracker struct {
	ch chan []adb.DeviceEntry
}

func (t chanTracker) TrackDevices(context.Context) (<-chan []adb.DeviceEntry, error) {
	return t.ch, nil
}
