package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or start the dev container of the workspace",
	Args:  cobra.NoArgs,
	RunE:  runUp,
}

var upRebuild bool

func init() {
	upCmd.Flags().BoolVar(&upRebuild, "rebuild", false, "Remove the existing container first")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	dir, err := config.ResolveWorkspace(workspaceDir)
	if err != nil {
		return errors.InvalidArgs("%v", err)
	}
	if _, err := config.DevcontainerConfig(dir); err != nil {
		return errors.ConfigError("not a dev container workspace", err)
	}

	rt, err := app.Default.ContainerRuntime()
	if err != nil {
		return err
	}

	logging.Debug("bringing up dev container", "workspace", dir, "rebuild", upRebuild)
	logInfo("Starting dev container for %s...", dir)

	id, err := rt.Up(cmd.Context(), runtime.UpOptions{Workspace: dir, Rebuild: upRebuild})
	if err != nil {
		return errors.ContainerFailed("up", err)
	}

	info := &runtime.ContainerInfo{ID: id}
	details := ""
	if upRebuild {
		details = "rebuild"
	}
	_ = app.Default.Audit().LogEvent(audit.EventUp, id, details)

	logSuccess("Dev container %s is running", info.ShortID())
	fmt.Fprintf(cmd.OutOrStdout(), "  Forward ports: berth port add <spec>\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Edit remotely: berth remote-open\n")
	return nil
}
