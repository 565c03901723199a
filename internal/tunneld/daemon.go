package tunneld

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"glassvpn/internal/core"
	"glassvpn/internal/ipc"
)

const stopTimeout = 5 * time.Second

// Config holds parameters for creating a Daemon.
type Config struct {
	ActivationDelay time.Duration
	// IdleGrace: exit this long after the last client left while the tunnel
	// is down. Zero keeps the daemon running.
	IdleGrace time.Duration
	// Interceptor defaults to a SettingsInterceptor.
	Interceptor Interceptor
	// MetricsAddress is a TCP address for the Prometheus endpoint; empty
	// disables it.
	MetricsAddress string
}

// Daemon serves TunnelControl and owns the tunnel session:
//
//	spawn → serve (session Disconnected) → clients Start/Stop the session
//	      → last client gone + session down + grace expired → exit
type Daemon struct {
	session *Session
	tracker *ipc.ConnTracker
	server  *ipc.Server
	metrics *Metrics

	metricsAddr string
	metricsSrv  *http.Server

	done       chan struct{} // closed on shutdown, ends WatchStatus streams
	shutdownCh chan struct{}
	closeOnce  sync.Once
}

// New creates a daemon. Call Run to serve.
func New(cfg Config) *Daemon {
	interceptor := cfg.Interceptor
	if interceptor == nil {
		interceptor = NewSettingsInterceptor()
	}

	d := &Daemon{
		session:     NewSession(interceptor, cfg.ActivationDelay),
		metricsAddr: cfg.MetricsAddress,
		done:        make(chan struct{}),
		shutdownCh:  make(chan struct{}),
	}
	d.tracker = ipc.NewConnTracker(cfg.IdleGrace, d.onAllClientsDisconnected)
	d.metrics = NewMetrics(d.tracker.ActiveCount)
	d.metrics.Status.Set(float64(d.session.Status()))
	d.session.events.Handle("metrics", d.metrics.observeStatus)
	d.server = ipc.NewServer(NewService(d.session, d.done, d.metrics), d.tracker.ServerOptions()...)
	return d
}

// Session returns the daemon's tunnel session.
func (d *Daemon) Session() *Session { return d.session }

// Metrics returns the daemon's collectors.
func (d *Daemon) Metrics() *Metrics { return d.metrics }

// Run serves on ln until ctx is done, Shutdown is called or the idle grace
// expires. Returns nil on clean exit.
func (d *Daemon) Run(ctx context.Context, ln net.Listener) error {
	core.Log.Infof("Daemon", "Serving TunnelControl on %s", ln.Addr())
	if err := d.startMetrics(); err != nil {
		d.session.Close()
		_ = ln.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		core.Log.Infof("Daemon", "Context done, shutting down")
	case <-d.shutdownCh:
		core.Log.Infof("Daemon", "Shutdown requested")
	case err := <-errCh:
		// Serve failed on its own; nothing left to stop gracefully.
		d.Shutdown()
		close(d.done)
		d.session.Close()
		_ = d.stopMetrics()
		return err
	}

	return d.stop(errCh)
}

// Shutdown initiates a clean shutdown.
func (d *Daemon) Shutdown() {
	d.tracker.CancelGrace()
	d.closeOnce.Do(func() {
		close(d.shutdownCh)
	})
}

func (d *Daemon) stop(errCh <-chan error) error {
	var result *multierror.Error

	d.Shutdown()
	close(d.done)
	d.session.Close()

	stopped := make(chan struct{})
	go func() {
		d.server.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		result = multierror.Append(result, errors.New("graceful stop timed out"))
		d.server.ForceStop()
	}

	if err := <-errCh; err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.stopMetrics(); err != nil {
		result = multierror.Append(result, err)
	}

	core.Log.Infof("Daemon", "Daemon exiting")
	return result.ErrorOrNil()
}

func (d *Daemon) startMetrics() error {
	if d.metricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", d.metricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	d.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	core.Log.Infof("Daemon", "Serving metrics on http://%s/metrics", ln.Addr())
	go func() {
		if err := d.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.Log.Errorf("Daemon", "Metrics server: %v", err)
		}
	}()
	return nil
}

func (d *Daemon) stopMetrics() error {
	if d.metricsSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := d.metricsSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}

// onAllClientsDisconnected is called by ConnTracker when all gRPC clients
// have disconnected and the grace period has elapsed.
func (d *Daemon) onAllClientsDisconnected() {
	if st := d.session.Status(); st != core.RawDisconnected {
		core.Log.Infof("Daemon", "All clients disconnected, tunnel is %s, staying up", st)
		return
	}
	core.Log.Infof("Daemon", "All clients disconnected and grace period expired, shutting down")
	d.Shutdown()
}
