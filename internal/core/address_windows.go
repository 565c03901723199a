//go:build windows

package core

// DefaultIPCAddress is the Named Pipe of the tunnel daemon.
const DefaultIPCAddress = `\\.\pipe\glassvpn-tunneld`
