package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// BundleIdentifier locates the tunnel configuration among every
	// configuration the store knows about. Must match exactly.
	BundleIdentifier = "de.uni-bamberg.psi.AppCheck.VPN"
	// DefaultDescription is the human-readable name of a new configuration.
	DefaultDescription = "AppCheck Monitor"
	// DefaultServerAddress is the placeholder server of the local tunnel.
	DefaultServerAddress = "127.0.0.1"
)

// Handle is the opaque store-assigned key of a persisted configuration.
type Handle string

// TunnelConfiguration is the persisted record describing the tunnel.
type TunnelConfiguration struct {
	Handle        Handle `yaml:"handle"`
	Identifier    string `yaml:"identifier"`
	Description   string `yaml:"description"`
	ServerAddress string `yaml:"server_address"`
	Enabled       bool   `yaml:"enabled"`
}

// NewDraft returns the configuration template used on first enable.
func NewDraft() TunnelConfiguration {
	return TunnelConfiguration{
		Identifier:    BundleIdentifier,
		Description:   DefaultDescription,
		ServerAddress: DefaultServerAddress,
	}
}

// BackendKind selects the Backend implementation at runtime.
type BackendKind string

const (
	BackendSimulated BackendKind = "simulated"
	BackendReal      BackendKind = "real"
)

// StoreConfig selects and locates the configuration store.
type StoreConfig struct {
	// Driver is "yaml" (default) or "bbolt".
	Driver string `yaml:"driver,omitempty"`
	// Path is the store file. Relative paths resolve against the app config dir.
	Path string `yaml:"path,omitempty"`
}

// IPCConfig locates the tunnel daemon.
type IPCConfig struct {
	// Address is a unix socket path (named pipe name on Windows).
	Address string `yaml:"address,omitempty"`
	// DialTimeout, e.g. "5s".
	DialTimeout string `yaml:"dial_timeout,omitempty"`
}

// DaemonConfig holds tunnel daemon settings.
type DaemonConfig struct {
	// ActivationDelay simulates the interceptor start-up time, e.g. "250ms".
	ActivationDelay string `yaml:"activation_delay,omitempty"`
	// IdleGrace is how long the daemon waits after the last client left
	// while the tunnel is down before exiting. "0" disables idle exit.
	IdleGrace string `yaml:"idle_grace,omitempty"`
	// MetricsAddress serves Prometheus metrics, e.g. "127.0.0.1:9477".
	// Empty disables the endpoint.
	MetricsAddress string `yaml:"metrics_address,omitempty"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend BackendKind  `yaml:"backend"`
	Store   StoreConfig  `yaml:"store,omitempty"`
	IPC     IPCConfig    `yaml:"ipc,omitempty"`
	Daemon  DaemonConfig `yaml:"daemon,omitempty"`
	Logging LogConfig    `yaml:"logging,omitempty"`
}

// DefaultAppConfig returns a valid configuration for a fresh install.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Backend: BackendSimulated,
		Store: StoreConfig{
			Driver: "yaml",
			Path:   "tunnels.yaml",
		},
		IPC: IPCConfig{
			Address:     DefaultIPCAddress,
			DialTimeout: "5s",
		},
		Daemon: DaemonConfig{
			ActivationDelay: "250ms",
			IdleGrace:       "30s",
		},
	}
}

// LoadAppConfig reads and parses the configuration from disk.
// If the file does not exist, it creates one with default values.
func LoadAppConfig(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			Log.Infof("Core", "Config %s not found, creating default config", path)
			cfg := DefaultAppConfig()
			if saveErr := SaveAppConfig(path, cfg); saveErr != nil {
				return AppConfig{}, fmt.Errorf("[Core] failed to create default config: %w", saveErr)
			}
			return cfg.resolve(path), nil
		}
		return AppConfig{}, fmt.Errorf("[Core] failed to read config %s: %w", path, err)
	}

	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("[Core] failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg.resolve(path), nil
}

// SaveAppConfig writes cfg to path.
func SaveAppConfig(path string, cfg AppConfig) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("[Core] failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("[Core] failed to create config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("[Core] failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate checks enumerations and durations.
func (c AppConfig) Validate() error {
	switch c.Backend {
	case BackendSimulated, BackendReal:
	default:
		return fmt.Errorf("[Core] unknown backend %q", c.Backend)
	}
	switch c.Store.Driver {
	case "", "yaml", "bbolt":
	default:
		return fmt.Errorf("[Core] unknown store driver %q", c.Store.Driver)
	}
	for name, v := range map[string]string{
		"ipc.dial_timeout":        c.IPC.DialTimeout,
		"daemon.activation_delay": c.Daemon.ActivationDelay,
		"daemon.idle_grace":       c.Daemon.IdleGrace,
	} {
		if _, err := parseDuration(v); err != nil {
			return fmt.Errorf("[Core] invalid %s: %w", name, err)
		}
	}
	return nil
}

// resolve makes the store path absolute relative to the config file.
func (c AppConfig) resolve(configPath string) AppConfig {
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(filepath.Dir(configPath), c.Store.Path)
	}
	return c
}

// DialTimeoutDuration returns the parsed IPC dial timeout.
func (c IPCConfig) DialTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.DialTimeout)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ActivationDelayDuration returns the parsed activation delay.
func (c DaemonConfig) ActivationDelayDuration() time.Duration {
	d, _ := parseDuration(c.ActivationDelay)
	return d
}

// IdleGraceDuration returns the parsed idle grace. Zero disables idle exit.
func (c DaemonConfig) IdleGraceDuration() time.Duration {
	d, _ := parseDuration(c.IdleGrace)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// UnmarshalYAML implements yaml.Unmarshaler for BackendKind.
func (k *BackendKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch BackendKind(s) {
	case BackendSimulated, BackendReal:
		*k = BackendKind(s)
	case "":
		*k = BackendSimulated
	default:
		return fmt.Errorf("unknown backend %q", s)
	}
	return nil
}

// ResolveRelativeToExe resolves a relative path against the directory of
// the running executable.
func ResolveRelativeToExe(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		Log.Warnf("Core", "Cannot determine executable path, using %q as-is: %v", path, err)
		return path
	}
	return filepath.Join(filepath.Dir(exe), path)
}
