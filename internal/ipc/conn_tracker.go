package ipc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"glassvpn/internal/core"
)

// ConnTracker counts in-flight RPCs (unary + streaming). A host attached
// through WatchStatus keeps the count above zero for as long as it runs.
// When the count drops to zero, a grace timer starts and onIdle is called
// once it expires without a client coming back.
type ConnTracker struct {
	active      atomic.Int64
	gracePeriod time.Duration
	onIdle      func() // called when grace period expires with no clients

	mu         sync.Mutex
	graceTimer *time.Timer
}

// NewConnTracker creates a ConnTracker with the given grace period.
// A zero grace period disables the idle callback.
func NewConnTracker(gracePeriod time.Duration, onIdle func()) *ConnTracker {
	return &ConnTracker{
		gracePeriod: gracePeriod,
		onIdle:      onIdle,
	}
}

// ActiveCount returns the current number of active RPCs.
func (ct *ConnTracker) ActiveCount() int64 {
	return ct.active.Load()
}

// CancelGrace cancels any pending grace timer. Used during explicit shutdown
// to prevent the idle callback from firing.
func (ct *ConnTracker) CancelGrace() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.graceTimer != nil {
		ct.graceTimer.Stop()
		ct.graceTimer = nil
	}
}

func (ct *ConnTracker) inc() {
	if ct.active.Add(1) == 1 {
		ct.mu.Lock()
		if ct.graceTimer != nil {
			ct.graceTimer.Stop()
			ct.graceTimer = nil
			core.Log.Debugf("IPC", "Client reconnected, grace timer cancelled")
		}
		ct.mu.Unlock()
	}
}

func (ct *ConnTracker) dec() {
	if ct.active.Add(-1) != 0 || ct.gracePeriod <= 0 {
		return
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.graceTimer != nil {
		ct.graceTimer.Stop()
	}
	core.Log.Debugf("IPC", "All clients disconnected, starting %s grace timer", ct.gracePeriod)
	ct.graceTimer = time.AfterFunc(ct.gracePeriod, func() {
		ct.mu.Lock()
		ct.graceTimer = nil
		ct.mu.Unlock()
		if ct.active.Load() == 0 && ct.onIdle != nil {
			ct.onIdle()
		}
	})
}

// ServerOptions returns the interceptor options to install on a grpc.Server.
func (ct *ConnTracker) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(ct.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(ct.StreamInterceptor()),
	}
}

// UnaryInterceptor returns a gRPC unary server interceptor that tracks active RPCs.
func (ct *ConnTracker) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ct.inc()
		defer ct.dec()
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream server interceptor that tracks active streams.
func (ct *ConnTracker) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ct.inc()
		defer ct.dec()
		return handler(srv, ss)
	}
}
