package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"glassvpn/internal/core"
	"glassvpn/internal/service"
)

var waitTimeout time.Duration

func init() {
	rootCmd.AddCommand(statusCmd, enableCmd, disableCmd, watchCmd, filterChangedCmd, sendCmd)

	for _, cmd := range []*cobra.Command{enableCmd, disableCmd} {
		cmd.Flags().DurationVarP(&waitTimeout, "timeout", "t", 10*time.Second,
			"how long to wait for the tunnel to settle (0 to return immediately)")
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tunnel status and its configuration",
	Args:  cobra.NoArgs,
	RunE: withHost(func(cmd *cobra.Command, _ []string, h *host) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "status:  %s (raw %s, backend %s)\n",
			h.orch.CurrentStatus(), h.orch.LastRawStatus(), h.backend.Name())

		cfg, ok := h.orch.Configuration()
		if !ok {
			fmt.Fprintln(out, "config:  none")
			return nil
		}
		fmt.Fprintf(out, "config:  %s %q enabled=%v server=%s\n",
			cfg.Handle, cfg.Description, cfg.Enabled, cfg.ServerAddress)
		return nil
	}),
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn the tunnel on, creating its configuration if needed",
	Args:  cobra.NoArgs,
	RunE: withHost(func(cmd *cobra.Command, _ []string, h *host) error {
		return toggle(cmd, h, true)
	}),
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn the tunnel off",
	Args:  cobra.NoArgs,
	RunE: withHost(func(cmd *cobra.Command, _ []string, h *host) error {
		return toggle(cmd, h, false)
	}),
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print every tunnel status change until interrupted",
	Args:  cobra.NoArgs,
	RunE: withHost(func(cmd *cobra.Command, _ []string, h *host) error {
		sub := h.orch.Subscribe("glassvpnctl-watch", 32)
		defer sub.Cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), h.orch.CurrentStatus())
		for {
			select {
			case c := <-sub.Events():
				fmt.Fprintf(out, "%s  %s → %s (raw %s)\n", time.Now().Format(time.TimeOnly), c.Old, c.New, c.Raw)
			case <-cmd.Context().Done():
				return nil
			}
		}
	}),
}

var filterChangedCmd = &cobra.Command{
	Use:   "filter-changed [domain]",
	Short: "Tell the running tunnel that the domain filter list changed",
	Args:  cobra.MaximumNArgs(1),
	RunE: withHost(func(cmd *cobra.Command, args []string, h *host) error {
		var domain *string
		if len(args) == 1 {
			domain = &args[0]
		}

		if st := h.orch.CurrentStatus(); st != core.StatusOn {
			return fmt.Errorf("tunnel is %s, update not delivered", st)
		}
		bus := core.NewBus[core.DomainFilterChanged]("domain-filter")
		h.orch.WatchDomainFilter(bus)
		bus.Publish(core.DomainFilterChanged{Domain: domain})
		return nil
	}),
}

var sendCmd = &cobra.Command{
	Use:   "send <kind> [value]",
	Short: "Send a control message to the running tunnel",
	Long: `Send a control message to the running tunnel.

Kinds:
  auto-delete <seconds>
  notify-prefs
  recording <bool>
  disconnect-unresolvable <bool>
  disconnect-swcd <bool>`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withHost(func(cmd *cobra.Command, args []string, h *host) error {
		msg, err := parseMessage(args)
		if err != nil {
			return err
		}
		if !h.orch.Send(cmd.Context(), msg) {
			return fmt.Errorf("%s not delivered (tunnel is %s)", msg, h.orch.CurrentStatus())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msg)
		return nil
	}),
}

func toggle(cmd *cobra.Command, h *host, on bool) error {
	want := core.StatusOff
	if on {
		want = core.StatusOn
	}

	sub := h.orch.Subscribe("glassvpnctl-toggle", 16)
	defer sub.Cancel()

	h.orch.SetEnabled(cmd.Context(), on)

	if waitTimeout > 0 {
		if err := waitFor(cmd.Context(), h.orch, sub, want, waitTimeout); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tunnel %s\n", h.orch.CurrentStatus())
	return nil
}

// waitFor blocks until orch reports want or timeout expires.
func waitFor(ctx context.Context, orch *service.Orchestrator, sub *core.Subscription[core.StatusChange],
	want core.ConnectionStatus, timeout time.Duration,
) error {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for orch.CurrentStatus() != want {
		select {
		case <-sub.Events():
		case <-t.C:
			return fmt.Errorf("tunnel did not turn %s within %s (status %s)", want, timeout, orch.CurrentStatus())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// parseMessage builds a control message from "<kind> [value]".
func parseMessage(args []string) (core.ControlMessage, error) {
	kind := args[0]
	value := ""
	if len(args) > 1 {
		value = args[1]
	}

	needValue := func() error {
		if value == "" {
			return fmt.Errorf("%s needs a value", kind)
		}
		return nil
	}
	parseFlag := func() (bool, error) {
		if err := needValue(); err != nil {
			return false, err
		}
		on, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s: %q is not a boolean", kind, value)
		}
		return on, nil
	}

	switch kind {
	case "auto-delete":
		if err := needValue(); err != nil {
			return core.ControlMessage{}, err
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			return core.ControlMessage{}, fmt.Errorf("auto-delete: %q is not a number of seconds", value)
		}
		return core.AutoDelete(seconds), nil
	case "notify-prefs":
		if value != "" {
			return core.ControlMessage{}, fmt.Errorf("notify-prefs takes no value")
		}
		return core.NotifyPrefsChanged(), nil
	case "recording":
		on, err := parseFlag()
		return core.RecordingNow(on), err
	case "disconnect-unresolvable":
		on, err := parseFlag()
		return core.DisconnectUnresolvable(on), err
	case "disconnect-swcd":
		on, err := parseFlag()
		return core.DisconnectSWCD(on), err
	default:
		return core.ControlMessage{}, fmt.Errorf("unknown message kind %q", kind)
	}
}
