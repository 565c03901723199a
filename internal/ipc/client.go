package ipc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultDialTimeout = 5 * time.Second
)

// Dialer opens a raw connection to the tunnel daemon.
type Dialer func(ctx context.Context) (net.Conn, error)

// Client wraps a gRPC client connected to the tunnel daemon.
type Client struct {
	conn    *grpc.ClientConn
	Service *TunnelControlClient
}

// Dial connects to the tunnel daemon listening on address.
// The connection is established lazily on the first call.
func Dial(address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return DialWith(func(ctx context.Context) (net.Conn, error) {
		return dialAddress(ctx, address, timeout)
	})
}

// DialWith connects through a custom dialer, e.g. an in-memory listener.
func DialWith(dial Dialer) (*Client, error) {
	conn, err := grpc.NewClient(
		"passthrough:///glassvpn-tunneld",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return dial(ctx)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial daemon: %w", err)
	}

	return &Client{
		conn:    conn,
		Service: NewTunnelControlClient(conn),
	}, nil
}

// Close shuts down the gRPC client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
