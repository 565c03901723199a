package tunneld

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"

	"glassvpn/internal/core"
)

// Settings is the session configuration pushed by the host through control
// messages.
type Settings struct {
	AutoDelete             time.Duration
	Recording              bool
	DisconnectUnresolvable bool
	DisconnectSWCD         bool
	// LastFilterUpdate is the canonical domain of the last filter update,
	// empty for a full reload.
	LastFilterUpdate string
	FilterReloads    int
	PrefsReloads     int
}

// SettingsInterceptor applies control messages to Settings. Filtering
// itself happens outside this daemon; this type only keeps the state it
// would be configured with.
type SettingsInterceptor struct {
	mu       sync.Mutex
	active   bool
	settings Settings
}

// NewSettingsInterceptor returns an inactive interceptor with zero settings.
func NewSettingsInterceptor() *SettingsInterceptor {
	return &SettingsInterceptor{}
}

func (si *SettingsInterceptor) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	si.mu.Lock()
	si.active = true
	si.mu.Unlock()
	core.Log.Infof("Daemon", "Interceptor active")
	return nil
}

func (si *SettingsInterceptor) Deactivate() error {
	si.mu.Lock()
	si.active = false
	si.mu.Unlock()
	core.Log.Infof("Daemon", "Interceptor stopped")
	return nil
}

func (si *SettingsInterceptor) Deliver(msg core.ControlMessage) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	if !si.active {
		return core.ErrNoSession
	}

	switch msg.Kind {
	case core.MsgFilterUpdate:
		domain := ""
		if msg.Domain() != "" {
			if _, ok := dns.IsDomainName(msg.Domain()); !ok {
				return fmt.Errorf("filter update: invalid domain %q", msg.Domain())
			}
			domain = dns.CanonicalName(msg.Domain())
		}
		si.settings.LastFilterUpdate = domain
		si.settings.FilterReloads++
		core.Log.Infof("Daemon", "Filter list changed (domain=%q)", domain)
	case core.MsgAutoDelete:
		si.settings.AutoDelete = time.Duration(msg.Seconds()) * time.Second
		core.Log.Infof("Daemon", "Auto-delete after %s", si.settings.AutoDelete)
	case core.MsgNotifyPrefsChange:
		si.settings.PrefsReloads++
		core.Log.Infof("Daemon", "Notification preferences changed")
	case core.MsgRecordingNow:
		si.settings.Recording = msg.Flag()
		core.Log.Infof("Daemon", "Recording: %v", msg.Flag())
	case core.MsgDisconnectUnresolvable:
		si.settings.DisconnectUnresolvable = msg.Flag()
		core.Log.Infof("Daemon", "Disconnect unresolvable: %v", msg.Flag())
	case core.MsgDisconnectSWCD:
		si.settings.DisconnectSWCD = msg.Flag()
		core.Log.Infof("Daemon", "Disconnect swcd: %v", msg.Flag())
	default:
		return fmt.Errorf("unhandled message kind %s", msg.Kind)
	}
	return nil
}

// Settings returns a copy of the current settings.
func (si *SettingsInterceptor) Settings() Settings {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.settings
}
