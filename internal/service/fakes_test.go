package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"glassvpn/internal/backend"
	"glassvpn/internal/core"
	"glassvpn/internal/store"
)

var errBoom = errors.New("boom")

// callLog records store and backend calls in the order they happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeStore is an in-memory ConfigStore with scripted failures.
type fakeStore struct {
	log *callLog

	mu        sync.Mutex
	cfgs      map[core.Handle]core.TunnelConfiguration
	createErr error
	saveErr   error

	// When blockSave is set, the first Save signals on saving and then waits
	// for blockSave to be closed.
	blockSave chan struct{}
	saving    chan struct{}
	saves     int
}

var _ store.ConfigStore = (*fakeStore)(nil)

func newFakeStore(log *callLog) *fakeStore {
	return &fakeStore{log: log, cfgs: make(map[core.Handle]core.TunnelConfiguration)}
}

// seed adds a persisted configuration and returns it.
func (f *fakeStore) seed(enabled bool) core.TunnelConfiguration {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := core.TunnelConfiguration{
		Handle:        core.Handle(uuid.NewString()),
		Identifier:    core.BundleIdentifier,
		Description:   core.DefaultDescription,
		ServerAddress: core.DefaultServerAddress,
		Enabled:       enabled,
	}
	f.cfgs[cfg.Handle] = cfg
	return cfg
}

func (f *fakeStore) FindByIdentifier(_ context.Context, id string) (core.TunnelConfiguration, bool, error) {
	f.log.add("find")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cfg := range f.cfgs {
		if cfg.Identifier == id {
			return cfg, true, nil
		}
	}
	return core.TunnelConfiguration{}, false, nil
}

func (f *fakeStore) Create(_ context.Context, draft core.TunnelConfiguration) (core.TunnelConfiguration, error) {
	f.log.add("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return core.TunnelConfiguration{}, &core.PersistError{Op: "create", Err: f.createErr}
	}
	cfg := draft
	cfg.Handle = core.Handle(uuid.NewString())
	cfg.Identifier = core.BundleIdentifier
	cfg.ServerAddress = core.DefaultServerAddress
	cfg.Enabled = true
	f.cfgs[cfg.Handle] = cfg
	return cfg, nil
}

func (f *fakeStore) Load(_ context.Context, handle core.Handle) (core.TunnelConfiguration, error) {
	f.log.add("load")
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.cfgs[handle]
	if !ok {
		return core.TunnelConfiguration{}, &core.PersistError{Op: "load", Handle: handle, Err: core.ErrNotFound}
	}
	return cfg, nil
}

func (f *fakeStore) Save(_ context.Context, cfg core.TunnelConfiguration) error {
	f.log.add("save(enabled=%v)", cfg.Enabled)

	f.mu.Lock()
	f.saves++
	first := f.saves == 1
	block, saving := f.blockSave, f.saving
	f.mu.Unlock()

	if first && block != nil {
		saving <- struct{}{}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return &core.PersistError{Op: "save", Handle: cfg.Handle, Err: f.saveErr}
	}
	f.cfgs[cfg.Handle] = cfg
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) get(handle core.Handle) core.TunnelConfiguration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfgs[handle]
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cfgs)
}

// recordingBackend logs Start and Stop into the shared call log.
type recordingBackend struct {
	*backend.Simulated
	log *callLog
}

func (r *recordingBackend) Start(ctx context.Context) error {
	r.log.add("start")
	return r.Simulated.Start(ctx)
}

func (r *recordingBackend) Stop(ctx context.Context) error {
	r.log.add("stop")
	return r.Simulated.Stop(ctx)
}

// manualBackend accepts Start and Stop without changing status, like a
// facility that reports the outcome later.
type manualBackend struct {
	*backend.Simulated
	log *callLog
}

func (m *manualBackend) Start(context.Context) error {
	m.log.add("start")
	return nil
}

func (m *manualBackend) Stop(context.Context) error {
	m.log.add("stop")
	return nil
}
