// Package backend abstracts "a tunnel session exists and can be started,
// stopped and messaged".
package backend

import (
	"context"
	"fmt"

	"glassvpn/internal/core"
	"glassvpn/internal/ipc"
)

// Backend is the contract every tunnel facility must implement.
type Backend interface {
	// Name returns a human-readable name for this backend.
	Name() string

	// RawStatus returns the last status reported by the facility.
	RawStatus() core.RawStatus

	// Start asks the facility to bring the session up. Returning does not
	// mean Connected; the outcome arrives through WatchStatus.
	Start(ctx context.Context) error

	// Stop asks the facility to tear the session down.
	Stop(ctx context.Context) error

	// SendRaw transmits an encoded control message to the running session.
	// Fails with *core.TransportError.
	SendRaw(ctx context.Context, data []byte) error

	// WatchStatus registers fn for every raw status change. Calls are made
	// in the order the changes are observed. The returned func unregisters.
	WatchStatus(fn func(core.RawStatus)) (cancel func())

	// Close releases the facility.
	Close() error
}

// New creates the backend selected by cfg.
func New(ctx context.Context, cfg core.AppConfig) (Backend, error) {
	switch cfg.Backend {
	case core.BackendSimulated, "":
		return NewSimulated(), nil
	case core.BackendReal:
		client, err := ipc.Dial(cfg.IPC.Address, cfg.IPC.DialTimeoutDuration())
		if err != nil {
			return nil, err
		}
		rb := NewReal(ctx, client)
		syncCtx, cancel := context.WithTimeout(ctx, cfg.IPC.DialTimeoutDuration())
		defer cancel()
		if err := rb.WaitSynced(syncCtx); err != nil {
			core.Log.Warnf("Backend", "Daemon at %s not reachable yet: %v", cfg.IPC.Address, err)
		}
		return rb, nil
	default:
		return nil, fmt.Errorf("[Backend] unknown backend %q", cfg.Backend)
	}
}
