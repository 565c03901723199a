// Command glassvpnctl is the host-side control tool for the GlassVPN tunnel.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"glassvpn/internal/backend"
	"glassvpn/internal/core"
	"glassvpn/internal/service"
	"glassvpn/internal/store"
)

// Build info, injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	rootCmd = &cobra.Command{
		Use:           "glassvpnctl",
		Short:         "Control the GlassVPN traffic-filtering tunnel",
		Version:       fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configPath string
	verbose    bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "glassvpn.yaml", "path to configuration file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "glassvpnctl: %v\n", err)
		os.Exit(1)
	}
}

// host is the lifecycle stack of one CLI invocation.
type host struct {
	cfg     core.AppConfig
	store   store.ConfigStore
	backend backend.Backend
	orch    *service.Orchestrator
}

func openHost(ctx context.Context) (*host, error) {
	cfg, err := core.LoadAppConfig(core.ResolveRelativeToExe(configPath))
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	core.Log.Configure(cfg.Logging)

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	be, err := backend.New(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orch := service.New(service.Deps{Store: st, Backend: be})
	orch.Start(ctx)
	return &host{cfg: cfg, store: st, backend: be, orch: orch}, nil
}

func (h *host) Close() error {
	var result *multierror.Error
	h.orch.Close()
	if err := h.backend.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close backend: %w", err))
	}
	if err := h.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	return result.ErrorOrNil()
}

// withHost opens the stack, runs fn and closes the stack again.
func withHost(fn func(cmd *cobra.Command, args []string, h *host) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		h, err := openHost(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := h.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, args, h)
	}
}
