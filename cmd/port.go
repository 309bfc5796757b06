package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/monitor"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/tui"
)

var portCmd = &cobra.Command{
	Use:   "port",
	Short: "Manage host port forwards into the dev container",
}

var portAddCmd = &cobra.Command{
	Use:   "add <spec>...",
	Short: "Forward host ports into the dev container",
	Long: `Forward host ports into the dev container.

Spec forms:
  8080              host 8080 to container 8080
  8080:80           host 8080 to container 80
  0.0.0.0:8080:80   bound to all interfaces
  :80               any free port from the session range to container 80
  [::1]:8080/udp    IPv6 bind, udp

All specs are added or none of them is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPortAdd,
}

var portLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List forwards of the dev container",
	Args:    cobra.NoArgs,
	RunE:    runPortLs,
}

var portRmCmd = &cobra.Command{
	Use:   "rm [host_port...]",
	Short: "Remove forwards",
	Long: `Remove forwards by host port, or every forward with --all.

Without arguments on a terminal an interactive picker opens. Forwards of
a live remote session cannot be removed; close the session instead.`,
	RunE: runPortRm,
}

var portWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Forward container ports automatically as they start listening",
	Long: `Polls the ports the dev container listens on and forwards each new one,
preferring the same host port and falling back to the session range.
Forwards of ports that stop listening are removed. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runPortWatch,
}

var (
	portLabel         string
	portFormat        string
	portRmAll         bool
	portWatchExclude  []int
	portWatchInterval time.Duration
	portWatchKeep     bool
)

func init() {
	portAddCmd.Flags().StringVar(&portLabel, "label", "", "Label shown in listings")
	portLsCmd.Flags().StringVar(&portFormat, "format", formatTable, "Output format: table, json or yaml")
	portRmCmd.Flags().BoolVar(&portRmAll, "all", false, "Remove every forward not held by a live session")
	portWatchCmd.Flags().IntSliceVar(&portWatchExclude, "exclude", nil, "Container ports to ignore (repeatable)")
	portWatchCmd.Flags().DurationVar(&portWatchInterval, "interval", monitor.DefaultInterval, "Polling interval")
	portWatchCmd.Flags().BoolVar(&portWatchKeep, "keep", false, "Keep forwards when the watch stops")

	portCmd.AddCommand(portAddCmd, portLsCmd, portRmCmd, portWatchCmd)
	rootCmd.AddCommand(portCmd)
}

func runPortAdd(cmd *cobra.Command, args []string) error {
	specs, err := port.ParseSpecs(args)
	if err != nil {
		return err
	}

	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	reqs := make([]forward.Request, len(specs))
	for i, s := range specs {
		reqs[i] = forward.Request{
			Spec:  s.Raw,
			Alloc: s.Request(w.Config.Ports.SessionRange.From, w.Config.Ports.SessionRange.To, w.Config.Ports.BindAddress),
			Owner: port.OwnerUser,
			Label: portLabel,
		}
	}

	fwds, err := w.Controller.Add(cmd.Context(), reqs)
	if err != nil {
		return err
	}
	for _, fwd := range fwds {
		logSuccess("Forwarding %s", fwd)
	}

	if w.Controller.Backend() == config.BackendProxy {
		return holdProxyForwards(cmd, w)
	}
	return nil
}

// holdProxyForwards keeps the process alive while in-process forwards
// serve traffic, then removes them.
func holdProxyForwards(cmd *cobra.Command, w *app.Workspace) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logInfo("Forwards stay up until interrupted (Ctrl-C)")
	<-ctx.Done()

	removed, _, err := w.Controller.RemoveAll(context.WithoutCancel(ctx))
	logging.Debug("proxy forwards released", "count", len(removed))
	return err
}

func runPortLs(cmd *cobra.Command, args []string) error {
	if err := checkFormat(portFormat); err != nil {
		return err
	}

	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	fwds := w.Controller.List(nil)
	if len(fwds) == 0 && portFormat == formatTable {
		logInfo("No forwards. Add one with: berth port add <spec>")
		return nil
	}
	if fwds == nil {
		fwds = []port.PortForward{}
	}

	rows := make([][]string, 0, len(fwds))
	for _, fwd := range fwds {
		owner := string(fwd.Owner)
		if fwd.Owner == port.OwnerSession {
			owner = fmt.Sprintf("session %s", shortSession(fwd.SessionID))
		}
		rows = append(rows, []string{
			fwd.HostAddr(),
			strconv.Itoa(fwd.TargetPort),
			string(fwd.Protocol),
			owner,
			fwd.Label,
		})
	}

	return writeFormatted(cmd.OutOrStdout(), portFormat, fwds,
		[]string{"HOST", "TARGET", "PROTO", "OWNER", "LABEL"}, rows)
}

func runPortRm(cmd *cobra.Command, args []string) error {
	if portRmAll && len(args) > 0 {
		return errors.InvalidArgs("--all takes no host ports")
	}

	hostPorts := make([]int, 0, len(args))
	for _, a := range args {
		p, err := strconv.Atoi(a)
		if err != nil || !port.ValidPort(p) {
			return errors.InvalidArgs("invalid host port %q", a)
		}
		hostPorts = append(hostPorts, p)
	}

	if !portRmAll && len(hostPorts) == 0 && !interactive(cmd) {
		return errors.InvalidArgs("usage: berth port rm <host_port>... | --all")
	}

	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if portRmAll {
		removed, skipped, err := w.Controller.RemoveAll(ctx)
		for _, fwd := range removed {
			logSuccess("Removed %s", fwd)
		}
		for _, fwd := range skipped {
			logWarning("Kept %s: held by live session %s", fwd, shortSession(fwd.SessionID))
		}
		if len(removed) == 0 && len(skipped) == 0 {
			logInfo("No forwards to remove")
		}
		return err
	}

	if len(hostPorts) == 0 {
		return pickAndRemove(cmd, w)
	}

	removed, err := w.Controller.Remove(ctx, hostPorts)
	if err != nil {
		return err
	}
	for _, fwd := range removed {
		logSuccess("Removed %s", fwd)
	}
	return nil
}

func pickAndRemove(cmd *cobra.Command, w *app.Workspace) error {
	fwds := w.Controller.List(nil)
	if len(fwds) == 0 {
		logInfo("No forwards to remove")
		return nil
	}

	locked := func(fwd port.PortForward) bool {
		return fwd.Owner == port.OwnerSession && w.Store.IsLive(fwd.SessionID)
	}
	result, err := tui.RunPicker(fwds, locked)
	if err != nil {
		return fmt.Errorf("picker error: %w", err)
	}
	logging.Debug("picker result", "action", result.Action, "count", len(result.Forwards))

	if result.Action != tui.ActionRemove || len(result.Forwards) == 0 {
		return nil
	}

	for _, fwd := range result.Forwards {
		if _, err := w.Controller.RemoveKey(cmd.Context(), fwd.Key()); err != nil {
			return err
		}
	}
	logSuccess("Removed %d forward(s):\n%s", len(result.Forwards), tui.Summary(result.Forwards))
	return nil
}

func runPortWatch(cmd *cobra.Command, args []string) error {
	if portWatchInterval <= 0 {
		return errors.InvalidArgs("--interval must be positive")
	}

	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	mon := monitor.New(portWatchInterval, w.Runtime, w.Controller, w.Config,
		monitor.WithExclude(portWatchExclude...),
		monitor.WithKeepOnExit(portWatchKeep),
	)

	logInfo("Watching %s for listening ports (interval: %s)", w.Container.ShortID(), portWatchInterval)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = mon.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logInfo("Watch stopped")
		return nil
	}
	return err
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
