//go:build !windows

package main

import (
	"errors"

	"glassvpn/internal/core"
)

var errNoServiceManager = errors.New("service management is only supported on Windows; use launchd or systemd")

func isService() bool { return false }

func runService(core.AppConfig) error { return errNoServiceManager }

func manageService(bool, string) error { return errNoServiceManager }
