package ipc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
)

// Server wraps a gRPC server exposing TunnelControl.
type Server struct {
	grpc *grpc.Server
}

// NewServer creates a new IPC server with the given TunnelControl implementation.
func NewServer(svc TunnelControlServer, opts ...grpc.ServerOption) *Server {
	gs := grpc.NewServer(opts...)
	RegisterTunnelControlServer(gs, svc)
	return &Server{grpc: gs}
}

// Serve accepts connections on ln. Blocks until Stop is called or an error occurs.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.grpc.Serve(ln); err != nil {
		return fmt.Errorf("ipc: serve %s: %w", ln.Addr(), err)
	}
	return nil
}

// Stop gracefully stops the gRPC server and closes the listener.
// It waits for open streams, so callers end WatchStatus streams first.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// ForceStop immediately stops the gRPC server.
func (s *Server) ForceStop() {
	s.grpc.Stop()
}
