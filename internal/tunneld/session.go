// Package tunneld implements the privileged tunnel daemon: a session state
// machine around an opaque Interceptor, exposed over the TunnelControl gRPC
// service.
package tunneld

import (
	"context"
	"fmt"
	"sync"
	"time"

	"glassvpn/internal/core"
)

// Interceptor is the traffic-filtering engine driven by a Session.
// Its inner workings are opaque to the daemon.
type Interceptor interface {
	// Activate brings filtering up. Blocks until ready or ctx is done.
	Activate(ctx context.Context) error
	// Deactivate tears filtering down.
	Deactivate() error
	// Deliver hands a decoded control message to the running engine.
	Deliver(msg core.ControlMessage) error
}

// Session tracks the raw status of the tunnel and drives the Interceptor.
//
//	Disconnected → Start → Connecting → Connected
//	Connected    → Stop  → Disconnecting → Disconnected
//	Connected    → Reassert → Reasserting → Connected
//
// A failed activation returns to Disconnected. Every change is published
// on Events in the order it happened.
type Session struct {
	mu     sync.Mutex
	status core.RawStatus
	gen    uint64             // bumped by every transition; stale workers back off
	cancel context.CancelFunc // cancels an in-flight activation

	interceptor     Interceptor
	activationDelay time.Duration
	events          *core.Bus[core.RawStatus]
	wg              sync.WaitGroup
}

// NewSession creates a Disconnected session.
// activationDelay is waited before Activate, as a real tunnel takes a
// moment to come up.
func NewSession(interceptor Interceptor, activationDelay time.Duration) *Session {
	return &Session{
		status:          core.RawDisconnected,
		interceptor:     interceptor,
		activationDelay: activationDelay,
		events:          core.NewBus[core.RawStatus]("session-status"),
	}
}

// Status returns the current raw status.
func (s *Session) Status() core.RawStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Watch atomically returns the current status and a subscription to every
// later change.
func (s *Session) Watch(subscriber string) (core.RawStatus, *core.Subscription[core.RawStatus]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.events.Subscribe(subscriber, 32)
}

// Start begins activation. It is a no-op while up or coming up.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case core.RawConnected, core.RawConnecting, core.RawReasserting:
		return
	}

	gen := s.nextGenLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStatusLocked(core.RawConnecting)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		err := s.activate(ctx)
		s.finishActivation(gen, err)
	}()
}

// Stop begins teardown. It is a no-op while down or going down.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case core.RawDisconnected, core.RawDisconnecting, core.RawInvalid, core.RawUnknown:
		return
	}

	wasUp := s.status == core.RawConnected
	gen := s.nextGenLocked()
	s.setStatusLocked(core.RawDisconnecting)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if wasUp {
			if err := s.interceptor.Deactivate(); err != nil {
				core.Log.Warnf("Daemon", "Deactivate: %v", err)
			}
		}
		s.mu.Lock()
		if s.gen == gen {
			s.setStatusLocked(core.RawDisconnected)
		}
		s.mu.Unlock()
	}()
}

// Reassert re-establishes a connected session, e.g. after a network change.
func (s *Session) Reassert() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != core.RawConnected {
		return
	}

	gen := s.nextGenLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setStatusLocked(core.RawReasserting)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.interceptor.Deactivate(); err != nil {
			core.Log.Warnf("Daemon", "Deactivate before reassert: %v", err)
		}
		err := s.activate(ctx)
		s.finishActivation(gen, err)
	}()
}

// Deliver decodes a control message line and hands it to the interceptor.
// Returns core.ErrNoSession unless Connected.
func (s *Session) Deliver(line []byte) error {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != core.RawConnected {
		return core.ErrNoSession
	}

	msg, err := core.ParseControlMessage(string(line))
	if err != nil {
		return err
	}
	return s.interceptor.Deliver(msg)
}

// Close stops the session and waits for in-flight transitions.
func (s *Session) Close() {
	s.Stop()
	s.wg.Wait()
}

func (s *Session) activate(ctx context.Context) error {
	if s.activationDelay > 0 {
		t := time.NewTimer(s.activationDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.interceptor.Activate(ctx); err != nil {
		return fmt.Errorf("activate interceptor: %w", err)
	}
	return nil
}

func (s *Session) finishActivation(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		// Superseded by Stop; undo a successful activation.
		if err == nil {
			if derr := s.interceptor.Deactivate(); derr != nil {
				core.Log.Warnf("Daemon", "Deactivate superseded session: %v", derr)
			}
		}
		return
	}
	if err != nil {
		core.Log.Errorf("Daemon", "Tunnel activation failed: %v", err)
		s.setStatusLocked(core.RawDisconnected)
		return
	}
	s.setStatusLocked(core.RawConnected)
}

func (s *Session) nextGenLocked() uint64 {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	return s.gen
}

func (s *Session) setStatusLocked(status core.RawStatus) {
	if s.status == status {
		return
	}
	core.Log.Infof("Daemon", "Session: %s → %s", s.status, status)
	s.status = status
	s.events.Publish(status)
}
