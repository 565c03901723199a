package service

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"glassvpn/internal/backend"
	"glassvpn/internal/core"
	"glassvpn/internal/store"
)

type harness struct {
	log   *callLog
	store *fakeStore
	sim   *backend.Simulated
	orch  *Orchestrator
	sub   *core.Subscription[core.StatusChange]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := &callLog{}
	sim := backend.NewSimulated()
	return newHarnessWith(t, log, sim, &recordingBackend{Simulated: sim, log: log})
}

func newHarnessWith(t *testing.T, log *callLog, sim *backend.Simulated, b backend.Backend) *harness {
	t.Helper()
	h := &harness{
		log:   log,
		store: newFakeStore(log),
		sim:   sim,
	}
	h.orch = New(Deps{Store: h.store, Backend: b})
	h.sub = h.orch.Subscribe("test", 64)
	t.Cleanup(func() {
		h.sub.Cancel()
		h.orch.Close()
	})
	return h
}

// changes returns the notifications received so far.
func (h *harness) changes() []core.StatusChange {
	var out []core.StatusChange
	for {
		select {
		case c := <-h.sub.Events():
			out = append(out, c)
		default:
			return out
		}
	}
}

func (h *harness) sentLines() []string {
	var out []string
	for _, b := range h.sim.Sent() {
		out = append(out, string(b))
	}
	return out
}

func TestStartWithoutConfiguration(t *testing.T) {
	h := newHarness(t)
	h.orch.Start(context.Background())

	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
	assert.Equal(t, core.RawInvalid, h.orch.LastRawStatus())
	_, ok := h.orch.Configuration()
	assert.False(t, ok)
	assert.Equal(t, []string{"find"}, h.log.get())
	assert.Empty(t, h.changes(), "Off to Off is not a change")
}

func TestStartAdoptsRunningTunnel(t *testing.T) {
	h := newHarness(t)
	seeded := h.store.seed(true)
	h.sim.Inject(core.RawConnected)

	h.orch.Start(context.Background())

	assert.Equal(t, core.StatusOn, h.orch.CurrentStatus())
	cfg, ok := h.orch.Configuration()
	require.True(t, ok)
	assert.Equal(t, seeded, cfg)
	assert.Equal(t, []core.StatusChange{{Old: core.StatusOff, New: core.StatusOn, Raw: core.RawConnected}}, h.changes())
}

func TestStartIsOnce(t *testing.T) {
	h := newHarness(t)
	h.orch.Start(context.Background())
	h.orch.Start(context.Background())
	assert.Equal(t, []string{"find"}, h.log.get())
}

func TestEnableFreshCreatesSavesAndStarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orch.Start(ctx)

	h.orch.SetEnabled(ctx, true)

	assert.Equal(t, []string{"find", "create", "load", "save(enabled=true)", "start"}, h.log.get())
	assert.Equal(t, core.StatusOn, h.orch.CurrentStatus())
	assert.Equal(t, []core.StatusChange{{Old: core.StatusOff, New: core.StatusOn, Raw: core.RawConnected}}, h.changes())

	cfg, ok := h.orch.Configuration()
	require.True(t, ok)
	assert.Equal(t, 1, h.store.count())
	persisted := h.store.get(cfg.Handle)
	assert.True(t, persisted.Enabled)
	assert.Equal(t, core.BundleIdentifier, persisted.Identifier)
	assert.Equal(t, core.DefaultServerAddress, persisted.ServerAddress)
	assert.Equal(t, core.DefaultDescription, persisted.Description)
}

func TestEnableTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.SetEnabled(ctx, true)
	h.orch.SetEnabled(ctx, true)

	assert.Equal(t, []string{"create", "load", "save(enabled=true)", "start"}, h.log.get())
	starts, stops := h.sim.Calls()
	assert.Equal(t, 1, starts)
	assert.Zero(t, stops)
}

func TestDisableFreshOnlyCreates(t *testing.T) {
	h := newHarness(t)
	h.orch.SetEnabled(context.Background(), false)

	assert.Equal(t, []string{"create"}, h.log.get())
	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
	_, ok := h.orch.Configuration()
	assert.True(t, ok)
}

func TestDisableStopsAndKeepsEnabledFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.orch.SetEnabled(ctx, true)
	h.orch.SetEnabled(ctx, false)

	assert.Equal(t, []string{
		"create", "load", "save(enabled=true)", "start",
		"load", "save(enabled=true)", "stop",
	}, h.log.get())
	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())

	cfg, _ := h.orch.Configuration()
	assert.True(t, h.store.get(cfg.Handle).Enabled)
	assert.Equal(t, []core.StatusChange{
		{Old: core.StatusOff, New: core.StatusOn, Raw: core.RawConnected},
		{Old: core.StatusOn, New: core.StatusOff, Raw: core.RawDisconnected},
	}, h.changes())
}

func TestEnableWithDisabledConfiguration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seeded := h.store.seed(false)
	h.sim.Inject(core.RawConnected)
	h.orch.Start(ctx)

	// Connected but not enabled counts as off.
	h.orch.SetEnabled(ctx, true)

	assert.Equal(t, []string{"find", "load", "save(enabled=true)", "start"}, h.log.get())
	assert.True(t, h.store.get(seeded.Handle).Enabled)
	cfg, _ := h.orch.Configuration()
	assert.True(t, cfg.Enabled)
}

func TestLoadPicksUpExternalEdits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seeded := h.store.seed(false)
	h.orch.Start(ctx)

	edited := seeded
	edited.Description = "edited elsewhere"
	h.store.mu.Lock()
	h.store.cfgs[seeded.Handle] = edited
	h.store.mu.Unlock()

	h.orch.SetEnabled(ctx, true)

	persisted := h.store.get(seeded.Handle)
	assert.Equal(t, "edited elsewhere", persisted.Description)
	assert.True(t, persisted.Enabled)
}

func TestCreateFailureTurnsOff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.createErr = errBoom
	h.sim.Inject(core.RawConnecting)
	h.changes()

	h.orch.SetEnabled(ctx, true)

	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
	assert.Equal(t, core.RawConnecting, h.orch.LastRawStatus())
	assert.Equal(t, []core.StatusChange{{Old: core.StatusTransitioning, New: core.StatusOff, Raw: core.RawConnecting}}, h.changes())
	starts, _ := h.sim.Calls()
	assert.Zero(t, starts)
	_, ok := h.orch.Configuration()
	assert.False(t, ok)

	// The next request tries again.
	h.store.mu.Lock()
	h.store.createErr = nil
	h.store.mu.Unlock()
	h.orch.SetEnabled(ctx, true)
	assert.Equal(t, core.StatusOn, h.orch.CurrentStatus())
	assert.Equal(t, 1, h.store.count())
}

func TestCreateFailureKeepsBackendRawStatus(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errBoom
	h.sim.Inject(core.RawConnected)
	require.Equal(t, core.StatusOn, h.orch.CurrentStatus())

	h.orch.SetEnabled(context.Background(), true)

	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
	assert.Equal(t, h.sim.RawStatus(), h.orch.LastRawStatus())
	assert.Equal(t, core.RawConnected, h.orch.LastRawStatus())

	// The next report from the backend is relayed normally.
	h.sim.Inject(core.RawReasserting)
	assert.Equal(t, core.StatusTransitioning, h.orch.CurrentStatus())
	assert.Equal(t, core.RawReasserting, h.orch.LastRawStatus())
}

func TestEnableAfterFailedLookupReusesStoredConfiguration(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tunnels.yaml")
	fs := store.NewFileStore(path)
	stored, err := fs.Create(ctx, core.NewDraft())
	require.NoError(t, err)

	sim := backend.NewSimulated()
	orch := New(Deps{Store: fs, Backend: sim})
	t.Cleanup(orch.Close)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	orch.Start(canceled)
	_, ok := orch.Configuration()
	require.False(t, ok)

	orch.SetEnabled(ctx, true)

	assert.Equal(t, core.StatusOn, orch.CurrentStatus())
	cfg, ok := orch.Configuration()
	require.True(t, ok)
	assert.Equal(t, stored.Handle, cfg.Handle)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Configurations []core.TunnelConfiguration `yaml:"configurations"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Len(t, doc.Configurations, 1)
}

func TestSaveFailureSkipsBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.seed(false)
	h.orch.Start(ctx)
	h.store.saveErr = errBoom

	h.orch.SetEnabled(ctx, true)

	assert.Equal(t, []string{"find", "load", "save(enabled=true)"}, h.log.get())
	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
	assert.Equal(t, core.RawDisconnected, h.sim.RawStatus())
}

func TestLoadFailureSkipsBackend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orch.SetEnabled(ctx, false) // creates

	cfg, _ := h.orch.Configuration()
	h.store.mu.Lock()
	delete(h.store.cfgs, cfg.Handle)
	h.store.mu.Unlock()

	h.orch.SetEnabled(ctx, true)

	assert.Equal(t, []string{"create", "load"}, h.log.get())
	starts, _ := h.sim.Calls()
	assert.Zero(t, starts)
}

func TestReassertingIsTransitioning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orch.SetEnabled(ctx, true)
	h.changes()

	h.sim.Inject(core.RawReasserting)
	assert.Equal(t, core.StatusTransitioning, h.orch.CurrentStatus())
	assert.Equal(t, []core.StatusChange{{Old: core.StatusOn, New: core.StatusTransitioning, Raw: core.RawReasserting}}, h.changes())

	h.sim.Inject(core.RawConnected)
	assert.Equal(t, []core.StatusChange{{Old: core.StatusTransitioning, New: core.StatusOn, Raw: core.RawConnected}}, h.changes())
}

func TestNotificationsFollowObservationOrder(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []core.RawStatus{
		core.RawConnecting,
		core.RawConnected,
		core.RawDisconnecting,
		core.RawDisconnected,
		core.RawInvalid,
	} {
		h.orch.HandleRawStatus(raw)
	}

	assert.Equal(t, []core.StatusChange{
		{Old: core.StatusOff, New: core.StatusTransitioning, Raw: core.RawConnecting},
		{Old: core.StatusTransitioning, New: core.StatusOn, Raw: core.RawConnected},
		{Old: core.StatusOn, New: core.StatusTransitioning, Raw: core.RawDisconnecting},
		{Old: core.StatusTransitioning, New: core.StatusOff, Raw: core.RawDisconnected},
	}, h.changes())
	assert.Equal(t, core.RawInvalid, h.orch.LastRawStatus())
}

func TestUnknownRawStatusIsOff(t *testing.T) {
	h := newHarness(t)
	h.orch.HandleRawStatus(core.RawConnected)
	h.orch.HandleRawStatus(core.RawStatusFromWire(42))
	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
}

func TestSubscriptionCancel(t *testing.T) {
	h := newHarness(t)
	sub := h.orch.Subscribe("short-lived", 4)
	sub.Cancel()

	h.orch.HandleRawStatus(core.RawConnected)
	assert.Empty(t, sub.Events())
	assert.Len(t, h.changes(), 1)
}

func TestSendRequiresOn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.False(t, h.orch.Send(ctx, core.RecordingNow(true)))

	// Transitioning is not enough even when the backend would accept it.
	h.sim.Inject(core.RawConnected)
	h.orch.HandleRawStatus(core.RawConnecting)
	assert.False(t, h.orch.Send(ctx, core.RecordingNow(true)))
	assert.Empty(t, h.sim.Sent())

	h.orch.HandleRawStatus(core.RawConnected)
	assert.True(t, h.orch.Send(ctx, core.RecordingNow(true)))
	assert.True(t, h.orch.Send(ctx, core.AutoDelete(3600)))
	assert.Equal(t, []string{"recording-now:1", "auto-delete:3600"}, h.sentLines())
}

func TestDomainFilterForwarding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bus := core.NewBus[core.DomainFilterChanged]("domain-filter")
	h.orch.WatchDomainFilter(bus)

	domain := "evil.example"
	bus.Publish(core.DomainFilterChanged{Domain: &domain})
	assert.Empty(t, h.sim.Sent(), "dropped while off")

	h.orch.SetEnabled(ctx, true)
	bus.Publish(core.DomainFilterChanged{Domain: &domain})
	bus.Publish(core.DomainFilterChanged{})
	assert.Equal(t, []string{"filter-update:evil.example", "filter-update:"}, h.sentLines())

	h.orch.Close()
	bus.Publish(core.DomainFilterChanged{Domain: &domain})
	assert.Len(t, h.sim.Sent(), 2)
	assert.Zero(t, bus.Len())
}

func TestOverlappingRequestsRunInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.blockSave = make(chan struct{})
	h.store.saving = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.orch.SetEnabled(ctx, true)
	}()
	<-h.store.saving

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.orch.SetEnabled(ctx, false)
	}()

	// The second request must not touch the store while the first is saving.
	assert.Never(t, func() bool { return len(h.log.get()) > 3 }, 50*time.Millisecond, 5*time.Millisecond)

	close(h.store.blockSave)
	wg.Wait()

	assert.Equal(t, []string{
		"create", "load", "save(enabled=true)", "start",
		"load", "save(enabled=true)", "stop",
	}, h.log.get())
	starts, stops := h.sim.Calls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, core.RawDisconnected, h.sim.RawStatus())
	assert.Equal(t, core.StatusOff, h.orch.CurrentStatus())
}

func TestConcurrentTogglesStayConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.orch.Start(ctx)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.SetEnabled(ctx, i%2 == 0 || rand.IntN(2) == 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.store.count(), "exactly one configuration")
	assert.Equal(t, core.MapRawStatus(h.sim.RawStatus()), h.orch.CurrentStatus())

	var last core.ConnectionStatus = core.StatusOff
	for _, c := range h.changes() {
		assert.Equal(t, last, c.Old, "notifications chain")
		assert.NotEqual(t, c.Old, c.New)
		last = c.New
	}
	assert.Equal(t, h.orch.CurrentStatus(), last)
}

func TestDisableWhileStartPendingIsNoop(t *testing.T) {
	log := &callLog{}
	sim := backend.NewSimulated()
	h := newHarnessWith(t, log, sim, &manualBackend{Simulated: sim, log: log})
	ctx := context.Background()

	h.orch.SetEnabled(ctx, true)
	// The facility has not reported Connected yet, so this sees "off".
	h.orch.SetEnabled(ctx, false)

	assert.Equal(t, []string{"create", "load", "save(enabled=true)", "start"}, h.log.get())

	sim.Inject(core.RawConnecting)
	sim.Inject(core.RawConnected)
	assert.Equal(t, []core.StatusChange{
		{Old: core.StatusOff, New: core.StatusTransitioning, Raw: core.RawConnecting},
		{Old: core.StatusTransitioning, New: core.StatusOn, Raw: core.RawConnected},
	}, h.changes())

	h.orch.SetEnabled(ctx, false)
	assert.Equal(t, "stop", h.log.get()[len(h.log.get())-1])
}
