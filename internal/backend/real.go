package backend

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"glassvpn/internal/core"
	"glassvpn/internal/ipc"
)

const (
	minWatchBackoff = 200 * time.Millisecond
	maxWatchBackoff = 10 * time.Second
)

// Real drives the tunnel daemon over IPC. Raw status, including transient
// states, comes from the daemon's WatchStatus stream; while the stream is
// down the backend reports RawInvalid.
type Real struct {
	client *ipc.Client

	mu     sync.RWMutex
	status core.RawStatus

	pubMu    sync.Mutex // orders watcher notifications
	watchers *core.Bus[core.RawStatus]

	synced   chan struct{} // closed on the first status from the daemon
	syncOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Backend = (*Real)(nil)

// NewReal starts watching the daemon's status and returns the backend.
// The watch stops when ctx is done or Close is called.
func NewReal(ctx context.Context, client *ipc.Client) *Real {
	ctx, cancel := context.WithCancel(ctx)
	r := &Real{
		client:   client,
		status:   core.RawInvalid,
		watchers: core.NewBus[core.RawStatus]("real-status"),
		synced:   make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.watchLoop(ctx)
	return r
}

func (r *Real) Name() string { return "real" }

func (r *Real) RawStatus() core.RawStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// WaitSynced blocks until the daemon reported its status once.
func (r *Real) WaitSynced(ctx context.Context) error {
	select {
	case <-r.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Real) Start(ctx context.Context) error {
	if _, err := r.client.Service.StartTunnel(ctx, &emptypb.Empty{}); err != nil {
		return &core.TransportError{Op: "start", Err: err}
	}
	return nil
}

func (r *Real) Stop(ctx context.Context) error {
	if _, err := r.client.Service.StopTunnel(ctx, &emptypb.Empty{}); err != nil {
		return &core.TransportError{Op: "stop", Err: err}
	}
	return nil
}

func (r *Real) SendRaw(ctx context.Context, data []byte) error {
	_, err := r.client.Service.SendMessage(ctx, wrapperspb.Bytes(data))
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.FailedPrecondition {
		return &core.TransportError{Op: "send", Err: core.ErrNoSession}
	}
	return &core.TransportError{Op: "send", Err: err}
}

func (r *Real) WatchStatus(fn func(core.RawStatus)) func() {
	return r.watchers.Handle("watch", fn)
}

// Close stops the status watch and closes the IPC connection.
func (r *Real) Close() error {
	r.cancel()
	<-r.done
	return r.client.Close()
}

func (r *Real) watchLoop(ctx context.Context) {
	defer close(r.done)

	backoff := minWatchBackoff
	for {
		err := r.watchOnce(ctx, &backoff)
		if ctx.Err() != nil {
			return
		}
		core.Log.Debugf("Backend", "Status stream ended: %v (retry in %s)", err, backoff)
		r.set(core.RawInvalid)

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
		backoff = min(backoff*2, maxWatchBackoff)
	}
}

func (r *Real) watchOnce(ctx context.Context, backoff *time.Duration) error {
	stream, err := r.client.Service.WatchStatus(ctx, &emptypb.Empty{})
	if err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		*backoff = minWatchBackoff
		r.set(core.RawStatusFromWire(msg.GetValue()))
		r.syncOnce.Do(func() { close(r.synced) })
	}
}

func (r *Real) set(raw core.RawStatus) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	changed := r.status != raw
	r.status = raw
	r.mu.Unlock()

	if changed {
		core.Log.Debugf("Backend", "Daemon reports %s", raw)
		r.watchers.Publish(raw)
	}
}
