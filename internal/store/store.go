// Package store persists tunnel configurations.
//
// Every operation goes back to the backing medium; nothing is cached, so a
// configuration edited by another process is seen by the next Load.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"glassvpn/internal/core"
)

// ConfigStore loads and saves tunnel configurations.
// Failures are returned as *core.PersistError and never retried.
type ConfigStore interface {
	// FindByIdentifier returns the configuration whose Identifier matches id
	// exactly. found is false when none exists.
	FindByIdentifier(ctx context.Context, id string) (cfg core.TunnelConfiguration, found bool, err error)
	// Create persists a new configuration built from draft with Enabled set,
	// the well-known identifier and default server filled in. When a
	// configuration with that identifier is already stored it is returned
	// unchanged instead, so at most one ever exists.
	Create(ctx context.Context, draft core.TunnelConfiguration) (core.TunnelConfiguration, error)
	// Load returns the persisted state of the configuration behind handle.
	Load(ctx context.Context, handle core.Handle) (core.TunnelConfiguration, error)
	// Save overwrites the persisted configuration with cfg.Handle.
	Save(ctx context.Context, cfg core.TunnelConfiguration) error
	// Close releases the backing medium.
	Close() error
}

// Open creates the store selected by cfg.
func Open(cfg core.StoreConfig) (ConfigStore, error) {
	switch cfg.Driver {
	case "", "yaml":
		return NewFileStore(cfg.Path), nil
	case "bbolt":
		return OpenBoltStore(cfg.Path)
	default:
		return nil, fmt.Errorf("[Store] unknown driver %q", cfg.Driver)
	}
}

// prepareDraft applies the create contract to draft.
func prepareDraft(draft core.TunnelConfiguration) core.TunnelConfiguration {
	cfg := draft
	cfg.Handle = core.Handle(uuid.NewString())
	cfg.Identifier = core.BundleIdentifier
	cfg.ServerAddress = core.DefaultServerAddress
	if cfg.Description == "" {
		cfg.Description = core.DefaultDescription
	}
	cfg.Enabled = true
	return cfg
}

func persistErr(op string, handle core.Handle, err error) error {
	return &core.PersistError{Op: op, Handle: handle, Err: err}
}
