//go:build windows

package main

import (
	"context"
	"fmt"
	"os"

	"glassvpn/internal/core"
	"glassvpn/internal/winsvc"
)

func isService() bool { return winsvc.IsWindowsService() }

func runService(cfg core.AppConfig) error {
	reassert := make(chan struct{}, 1)
	return winsvc.Run(
		func(ctx context.Context) error { return serve(ctx, cfg, reassert) },
		func() {
			select {
			case reassert <- struct{}{}:
			default:
			}
		},
	)
}

func manageService(install bool, configPath string) error {
	if !install {
		if err := winsvc.Uninstall(); err != nil {
			return err
		}
		fmt.Println("Service removed.")
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := winsvc.Install(exe, configPath); err != nil {
		return err
	}
	fmt.Printf("Service %s installed.\n", winsvc.ServiceName)
	return nil
}
