package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"glassvpn/internal/core"
)

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Configurations []core.TunnelConfiguration `yaml:"configurations"`
}

// FileStore keeps all configurations in one YAML document.
type FileStore struct {
	mu   sync.Mutex // serializes read-modify-write of the document
	path string
}

// NewFileStore returns a store backed by the YAML file at path.
// The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (fs *FileStore) Path() string { return fs.path }

func (fs *FileStore) FindByIdentifier(ctx context.Context, id string) (core.TunnelConfiguration, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.TunnelConfiguration{}, false, persistErr("find", "", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.read()
	if err != nil {
		return core.TunnelConfiguration{}, false, persistErr("find", "", err)
	}
	for _, cfg := range doc.Configurations {
		if cfg.Identifier == id {
			return cfg, true, nil
		}
	}
	return core.TunnelConfiguration{}, false, nil
}

func (fs *FileStore) Create(ctx context.Context, draft core.TunnelConfiguration) (core.TunnelConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return core.TunnelConfiguration{}, persistErr("create", "", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.read()
	if err != nil {
		return core.TunnelConfiguration{}, persistErr("create", "", err)
	}
	for _, existing := range doc.Configurations {
		if existing.Identifier == core.BundleIdentifier {
			core.Log.Infof("Store", "Configuration %s already exists", existing.Handle)
			return existing, nil
		}
	}
	cfg := prepareDraft(draft)
	doc.Configurations = append(doc.Configurations, cfg)
	if err := fs.write(doc); err != nil {
		return core.TunnelConfiguration{}, persistErr("create", cfg.Handle, err)
	}

	core.Log.Infof("Store", "Created configuration %s (%s)", cfg.Handle, cfg.Identifier)
	return cfg, nil
}

func (fs *FileStore) Load(ctx context.Context, handle core.Handle) (core.TunnelConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return core.TunnelConfiguration{}, persistErr("load", handle, err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.read()
	if err != nil {
		return core.TunnelConfiguration{}, persistErr("load", handle, err)
	}
	for _, cfg := range doc.Configurations {
		if cfg.Handle == handle {
			return cfg, nil
		}
	}
	return core.TunnelConfiguration{}, persistErr("load", handle, core.ErrNotFound)
}

func (fs *FileStore) Save(ctx context.Context, cfg core.TunnelConfiguration) error {
	if err := ctx.Err(); err != nil {
		return persistErr("save", cfg.Handle, err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.read()
	if err != nil {
		return persistErr("save", cfg.Handle, err)
	}
	idx := -1
	for i := range doc.Configurations {
		if doc.Configurations[i].Handle == cfg.Handle {
			idx = i
			break
		}
	}
	if idx < 0 {
		return persistErr("save", cfg.Handle, core.ErrNotFound)
	}
	doc.Configurations[idx] = cfg
	if err := fs.write(doc); err != nil {
		return persistErr("save", cfg.Handle, err)
	}

	core.Log.Debugf("Store", "Saved configuration %s (enabled=%v)", cfg.Handle, cfg.Enabled)
	return nil
}

// Close is a no-op; the file is not held open.
func (fs *FileStore) Close() error { return nil }

func (fs *FileStore) read() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("read %s: %w", fs.path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", fs.path, err)
	}
	return doc, nil
}

// write replaces the document atomically.
func (fs *FileStore) write(doc fileDocument) error {
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tunnels-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
