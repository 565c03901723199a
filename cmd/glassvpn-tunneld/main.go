// Command glassvpn-tunneld is the tunnel daemon driven by glassvpnctl with
// the "real" backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"glassvpn/internal/core"
	"glassvpn/internal/ipc"
	"glassvpn/internal/tunneld"
)

// Build info, injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "glassvpn.yaml", "Path to configuration file")
	address := flag.String("listen", "", "Override the IPC address from the config")
	asService := flag.Bool("service", false, "Run under the service manager (Windows)")
	install := flag.Bool("install", false, "Install as a system service and exit (Windows)")
	uninstall := flag.Bool("uninstall", false, "Remove the system service and exit (Windows)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("glassvpn-tunneld %s (commit=%s, built=%s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	resolvedConfig := core.ResolveRelativeToExe(*configPath)
	if *install || *uninstall {
		if err := manageService(*install, resolvedConfig); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := core.LoadAppConfig(resolvedConfig)
	if err != nil {
		core.Log.Fatalf("Core", "Failed to load config: %v", err)
	}
	core.Log.Configure(cfg.Logging)
	if *address != "" {
		cfg.IPC.Address = *address
	}

	core.Log.Infof("Core", "glassvpn-tunneld %s starting", version)
	if *asService || isService() {
		err = runService(cfg)
	} else {
		err = runInteractive(cfg)
	}
	if err != nil {
		core.Log.Fatalf("Core", "%v", err)
	}
	core.Log.Infof("Core", "Shutdown complete")
}

// runInteractive serves until SIGINT/SIGTERM or idle exit. SIGHUP
// reasserts the session, like a network change would.
func runInteractive(cfg core.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	reassert := make(chan struct{}, 1)
	go func() {
		for range hup {
			select {
			case reassert <- struct{}{}:
			default:
			}
		}
	}()

	return serve(ctx, cfg, reassert)
}

func serve(ctx context.Context, cfg core.AppConfig, reassert <-chan struct{}) error {
	ln, err := ipc.Listen(cfg.IPC.Address)
	if err != nil {
		return err
	}

	d := tunneld.New(tunneld.Config{
		ActivationDelay: cfg.Daemon.ActivationDelayDuration(),
		IdleGrace:       cfg.Daemon.IdleGraceDuration(),
		MetricsAddress:  cfg.Daemon.MetricsAddress,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return d.Run(ctx, ln)
	})
	g.Go(func() error {
		for {
			select {
			case <-reassert:
				core.Log.Infof("Daemon", "Reasserting session")
				d.Session().Reassert()
			case <-ctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}
