//go:build windows

// Package winsvc runs glassvpn-tunneld under the Windows Service Control
// Manager.
package winsvc

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/windows/svc"

	"glassvpn/internal/core"
)

const (
	ServiceName        = "GlassVPNTunnel"
	ServiceDisplayName = "GlassVPN Tunnel Daemon"
	ServiceDescription = "Runs the GlassVPN traffic-filtering tunnel session"
)

// IsWindowsService reports whether the current process was started by the SCM.
func IsWindowsService() bool {
	isSvc, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isSvc
}

// Run hands the process to the SCM and calls run until it returns or the
// service is stopped, which cancels run's context. A "paramchange" control
// calls reassert. Blocks until the service has stopped.
func Run(run func(ctx context.Context) error, reassert func()) error {
	return svc.Run(ServiceName, &handler{run: run, reassert: reassert})
}

type handler struct {
	run      func(ctx context.Context) error
	reassert func()
}

func (h *handler) Execute(_ []string, r <-chan svc.ChangeRequest, s chan<- svc.Status) (bool, uint32) {
	s <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.run(ctx)
	}()

	accepted := svc.AcceptStop | svc.AcceptShutdown | svc.AcceptParamChange
	s <- svc.Status{State: svc.Running, Accepts: accepted}

	for {
		select {
		case cr := <-r:
			switch cr.Cmd {
			case svc.Interrogate:
				s <- cr.CurrentStatus
				time.Sleep(100 * time.Millisecond)
				s <- cr.CurrentStatus
			case svc.ParamChange:
				h.reassert()
			case svc.Stop, svc.Shutdown:
				s <- svc.Status{State: svc.StopPending}
				cancel()
				if err := <-errCh; err != nil {
					core.Log.Errorf("Service", "Daemon stopped with error: %v", err)
					return true, 1
				}
				return false, 0
			}
		case err := <-errCh:
			if err != nil {
				core.Log.Errorf("Service", "Daemon exited: %v", err)
				return true, 1
			}
			return false, 0
		}
	}
}

// ServiceError wraps SCM errors with the failed operation.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("winsvc: %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
