package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the dev container of the workspace",
	Long: `Stops the dev container. Its remote session is closed and its
forwards are removed first.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	rt, info, err := resolveContainer(cmd)
	if err != nil {
		return err
	}

	if info.Status != runtime.StatusRunning {
		logInfo("Dev container %s is not running", info.ShortID())
		return nil
	}

	if err := releaseWorkspace(cmd); err != nil {
		return err
	}

	logInfo("Stopping dev container %s...", info.ShortID())
	if err := rt.Stop(cmd.Context(), info.ID); err != nil {
		return errors.ContainerFailed("stop", err)
	}

	_ = app.Default.Audit().LogEvent(audit.EventStop, info.ID, "")
	logSuccess("Dev container %s stopped", info.ShortID())
	return nil
}
