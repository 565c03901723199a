//go:build !windows

package core

// DefaultIPCAddress is the Unix Domain Socket of the tunnel daemon.
const DefaultIPCAddress = "/var/run/glassvpn-tunneld.sock"
