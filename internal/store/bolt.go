package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"gopkg.in/yaml.v3"

	"glassvpn/internal/core"
)

var configBucket = []byte("tunnel-configurations")

// BoltStore keeps configurations in a bbolt database, keyed by handle.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens/creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistErr("open", "", err)
	}

	opts := &bbolt.Options{Timeout: 1 * time.Second}
	db, err := bbolt.Open(path, 0o600, opts)
	// Another process may briefly hold the file lock.
	for i := 0; i < 3 && err != nil; i++ {
		db, err = bbolt.Open(path, 0o600, opts)
	}
	if err != nil {
		return nil, persistErr("open", "", fmt.Errorf("open %s: %w", path, err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(configBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, persistErr("open", "", err)
	}

	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) FindByIdentifier(ctx context.Context, id string) (core.TunnelConfiguration, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.TunnelConfiguration{}, false, persistErr("find", "", err)
	}

	var (
		found  core.TunnelConfiguration
		exists bool
	)
	err := bs.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, exists, err = findIn(tx.Bucket(configBucket), id)
		return err
	})
	if err != nil {
		return core.TunnelConfiguration{}, false, persistErr("find", "", err)
	}
	return found, exists, nil
}

func (bs *BoltStore) Create(ctx context.Context, draft core.TunnelConfiguration) (core.TunnelConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return core.TunnelConfiguration{}, persistErr("create", "", err)
	}

	cfg := prepareDraft(draft)
	created := true
	err := bs.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(configBucket)
		existing, found, err := findIn(bucket, core.BundleIdentifier)
		if err != nil {
			return err
		}
		if found {
			cfg, created = existing, false
			return nil
		}
		return putRecord(bucket, cfg)
	})
	if err != nil {
		return core.TunnelConfiguration{}, persistErr("create", cfg.Handle, err)
	}

	if created {
		core.Log.Infof("Store", "Created configuration %s (%s)", cfg.Handle, cfg.Identifier)
	} else {
		core.Log.Infof("Store", "Configuration %s already exists", cfg.Handle)
	}
	return cfg, nil
}

func (bs *BoltStore) Load(ctx context.Context, handle core.Handle) (core.TunnelConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return core.TunnelConfiguration{}, persistErr("load", handle, err)
	}

	var cfg core.TunnelConfiguration
	err := bs.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(configBucket).Get([]byte(handle))
		if v == nil {
			return core.ErrNotFound
		}
		var err error
		cfg, err = decodeRecord([]byte(handle), v)
		return err
	})
	if err != nil {
		return core.TunnelConfiguration{}, persistErr("load", handle, err)
	}
	return cfg, nil
}

func (bs *BoltStore) Save(ctx context.Context, cfg core.TunnelConfiguration) error {
	if err := ctx.Err(); err != nil {
		return persistErr("save", cfg.Handle, err)
	}

	err := bs.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(configBucket)
		if bucket.Get([]byte(cfg.Handle)) == nil {
			return core.ErrNotFound
		}
		return putRecord(bucket, cfg)
	})
	if err != nil {
		return persistErr("save", cfg.Handle, err)
	}

	core.Log.Debugf("Store", "Saved configuration %s (enabled=%v)", cfg.Handle, cfg.Enabled)
	return nil
}

// Close closes the database.
func (bs *BoltStore) Close() error {
	return bs.db.Close()
}

func findIn(bucket *bbolt.Bucket, id string) (core.TunnelConfiguration, bool, error) {
	var (
		found  core.TunnelConfiguration
		exists bool
	)
	err := bucket.ForEach(func(k, v []byte) error {
		if exists {
			return nil
		}
		cfg, err := decodeRecord(k, v)
		if err != nil {
			return err
		}
		if cfg.Identifier == id {
			found, exists = cfg, true
		}
		return nil
	})
	return found, exists, err
}

func putRecord(bucket *bbolt.Bucket, cfg core.TunnelConfiguration) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", cfg.Handle, err)
	}
	return bucket.Put([]byte(cfg.Handle), data)
}

// decodeRecord is safe inside a transaction: the decoded struct does not
// alias v.
func decodeRecord(key, v []byte) (core.TunnelConfiguration, error) {
	var cfg core.TunnelConfiguration
	if err := yaml.Unmarshal(v, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", key, err)
	}
	cfg.Handle = core.Handle(key)
	return cfg, nil
}
