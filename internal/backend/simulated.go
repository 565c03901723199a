package backend

import (
	"context"
	"sync"

	"glassvpn/internal/core"
)

// Simulated is an in-process stand-in for the tunnel facility. Start and
// Stop complete synchronously; SendRaw succeeds only while Connected and
// records what it sent.
type Simulated struct {
	pubMu  sync.Mutex // orders Inject notifications
	mu     sync.Mutex
	status core.RawStatus
	sent   [][]byte
	starts int
	stops  int

	watchers *core.Bus[core.RawStatus]
}

var _ Backend = (*Simulated)(nil)

// NewSimulated returns a Disconnected simulated backend.
func NewSimulated() *Simulated {
	return &Simulated{
		status:   core.RawDisconnected,
		watchers: core.NewBus[core.RawStatus]("simulated-status"),
	}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) RawStatus() core.RawStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Simulated) Start(context.Context) error {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	s.Inject(core.RawConnected)
	return nil
}

func (s *Simulated) Stop(context.Context) error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.Inject(core.RawDisconnected)
	return nil
}

func (s *Simulated) SendRaw(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != core.RawConnected {
		return &core.TransportError{Op: "send", Err: core.ErrNoSession}
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *Simulated) WatchStatus(fn func(core.RawStatus)) func() {
	return s.watchers.Handle("watch", fn)
}

// Inject sets the raw status as if the facility reported it, notifying
// watchers when it changed.
func (s *Simulated) Inject(raw core.RawStatus) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	changed := s.status != raw
	s.status = raw
	s.mu.Unlock()

	if changed {
		core.Log.Debugf("Backend", "Simulated tunnel: %s", raw)
		s.watchers.Publish(raw)
	}
}

// Sent returns copies of every transmitted message.
func (s *Simulated) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	for i, b := range s.sent {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// Calls returns how often Start and Stop were called.
func (s *Simulated) Calls() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func (s *Simulated) Close() error { return nil }
