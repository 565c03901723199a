// Package service ties the configuration store, the tunnel backend and the
// status feed together into the tunnel lifecycle seen by the host.
package service

import (
	"context"
	"sync"
	"time"

	"glassvpn/internal/backend"
	"glassvpn/internal/core"
	"glassvpn/internal/store"
)

// filterSendTimeout bounds a filter update triggered by the domain filter
// bus, which carries no context of its own.
const filterSendTimeout = 5 * time.Second

// Deps holds everything the Orchestrator needs.
type Deps struct {
	Store   store.ConfigStore
	Backend backend.Backend
}

// Orchestrator owns the lifecycle of the single tunnel configuration:
// it creates it on demand, persists enable requests, starts and stops the
// backend and republishes the backend's raw status as a ConnectionStatus.
//
// SetEnabled calls are serialized. Status notifications are delivered in
// the order the raw statuses were observed and only when the processed
// status changes.
type Orchestrator struct {
	opMu sync.Mutex // serializes SetEnabled

	store   store.ConfigStore
	backend backend.Backend
	channel *MessageChannel

	mu      sync.RWMutex
	status  core.ConnectionStatus
	raw     core.RawStatus
	cfg     core.TunnelConfiguration
	haveCfg bool

	pubMu  sync.Mutex // orders status notifications
	events *core.Bus[core.StatusChange]

	watchMu sync.Mutex
	unwatch []func()
	started bool
	closed  bool
}

// New creates an Orchestrator with status Off, attached to the backend's
// status feed. Call Start to sync with the persisted configuration.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		store:   deps.Store,
		backend: deps.Backend,
		status:  core.StatusOff,
		raw:     core.RawUnknown,
		events:  core.NewBus[core.StatusChange]("tunnel-status"),
	}
	o.channel = NewMessageChannel(deps.Backend, o.CurrentStatus)
	o.unwatch = append(o.unwatch, deps.Backend.WatchStatus(o.HandleRawStatus))
	return o
}

// Start looks up the persisted configuration. Without one the status is
// derived from RawInvalid; otherwise from the backend's current raw status.
// Lookup failures are logged and treated as a missing configuration. Later
// calls are no-ops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.watchMu.Lock()
	if o.started || o.closed {
		o.watchMu.Unlock()
		return
	}
	o.started = true
	o.watchMu.Unlock()

	cfg, found, err := o.store.FindByIdentifier(ctx, core.BundleIdentifier)
	if err != nil {
		core.Log.Warnf("Orchestrator", "Lookup of %s failed: %v", core.BundleIdentifier, err)
	}
	if err != nil || !found {
		core.Log.Infof("Orchestrator", "No tunnel configuration yet")
		o.HandleRawStatus(core.RawInvalid)
		return
	}

	o.setConfig(cfg)
	core.Log.Infof("Orchestrator", "Using configuration %s (enabled=%v, backend=%s)",
		cfg.Handle, cfg.Enabled, o.backend.Name())
	o.HandleRawStatus(o.backend.RawStatus())
}

// SetEnabled drives the tunnel towards requested. It blocks until the
// request was handed to the backend or abandoned; the resulting status
// arrives through Subscribe. Store and backend failures are logged and
// swallowed.
//
// The persisted Enabled flag is always set to true: it marks the
// configuration as selectable by the system, while requested decides
// whether the session is started or stopped.
func (o *Orchestrator) SetEnabled(ctx context.Context, requested bool) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	cfg, ok := o.Configuration()
	if !ok {
		created, err := o.store.Create(ctx, core.NewDraft())
		if err != nil {
			core.Log.Errorf("Orchestrator", "Create configuration: %v", err)
			o.setStatus(core.StatusOff, o.backend.RawStatus())
			return
		}
		core.Log.Infof("Orchestrator", "Created configuration %s", created.Handle)
		o.setConfig(created)
		cfg = created
	}

	current := cfg.Enabled && o.backend.RawStatus() == core.RawConnected
	if current == requested {
		core.Log.Debugf("Orchestrator", "Tunnel already %s", onOff(requested))
		return
	}

	latest, err := o.store.Load(ctx, cfg.Handle)
	if err != nil {
		core.Log.Errorf("Orchestrator", "Load configuration: %v", err)
		return
	}
	latest.Enabled = true
	if err := o.store.Save(ctx, latest); err != nil {
		core.Log.Errorf("Orchestrator", "Save configuration: %v", err)
		return
	}
	o.setConfig(latest)

	if requested {
		core.Log.Infof("Orchestrator", "Starting tunnel")
		err = o.backend.Start(ctx)
	} else {
		core.Log.Infof("Orchestrator", "Stopping tunnel")
		err = o.backend.Stop(ctx)
	}
	if err != nil {
		core.Log.Errorf("Orchestrator", "Turn tunnel %s: %v", onOff(requested), err)
	}
}

// Send delivers msg to the running session. It reports false without
// contacting the backend unless the tunnel is On.
func (o *Orchestrator) Send(ctx context.Context, msg core.ControlMessage) bool {
	return o.channel.Send(ctx, msg)
}

// HandleRawStatus maps raw to a ConnectionStatus, records it and notifies
// subscribers if it changed.
func (o *Orchestrator) HandleRawStatus(raw core.RawStatus) {
	o.setStatus(core.MapRawStatus(raw), raw)
}

// HandleDomainFilterChanged forwards a filter list edit to the session.
// A nil domain asks for a full reload.
func (o *Orchestrator) HandleDomainFilterChanged(domain *string) {
	ctx, cancel := context.WithTimeout(context.Background(), filterSendTimeout)
	defer cancel()
	o.Send(ctx, core.FilterUpdate(domain))
}

// WatchDomainFilter forwards every event on bus until Close.
func (o *Orchestrator) WatchDomainFilter(bus *core.Bus[core.DomainFilterChanged]) {
	cancel := bus.Handle("orchestrator", func(e core.DomainFilterChanged) {
		o.HandleDomainFilterChanged(e.Domain)
	})

	o.watchMu.Lock()
	defer o.watchMu.Unlock()
	if o.closed {
		cancel()
		return
	}
	o.unwatch = append(o.unwatch, cancel)
}

// Subscribe registers for status changes. Cancel the subscription to stop.
func (o *Orchestrator) Subscribe(subscriber string, size int) *core.Subscription[core.StatusChange] {
	return o.events.Subscribe(subscriber, size)
}

// CurrentStatus returns the last processed status.
func (o *Orchestrator) CurrentStatus() core.ConnectionStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// LastRawStatus returns the raw status behind CurrentStatus.
func (o *Orchestrator) LastRawStatus() core.RawStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.raw
}

// Configuration returns the configuration in use, if any.
func (o *Orchestrator) Configuration() (core.TunnelConfiguration, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg, o.haveCfg
}

// Close detaches from the backend and the domain filter bus. It does not
// stop the tunnel or close the store and backend.
func (o *Orchestrator) Close() {
	o.watchMu.Lock()
	unwatch := o.unwatch
	o.unwatch = nil
	o.closed = true
	o.watchMu.Unlock()

	for _, cancel := range unwatch {
		cancel()
	}
}

func (o *Orchestrator) setConfig(cfg core.TunnelConfiguration) {
	o.mu.Lock()
	o.cfg = cfg
	o.haveCfg = true
	o.mu.Unlock()
}

func (o *Orchestrator) setStatus(status core.ConnectionStatus, raw core.RawStatus) {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	o.mu.Lock()
	old := o.status
	o.status = status
	o.raw = raw
	o.mu.Unlock()

	if old == status {
		return
	}
	core.Log.Infof("Orchestrator", "Tunnel %s → %s (raw %s)", old, status, raw)
	o.events.Publish(core.StatusChange{Old: old, New: status, Raw: raw})
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
