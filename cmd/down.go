package cmd

import (
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the dev container of the workspace",
	Args:  cobra.NoArgs,
	RunE:  runDown,
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	rt, info, err := resolveContainer(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if info.Status == runtime.StatusRunning {
		if err := releaseWorkspace(cmd); err != nil {
			return err
		}
		if err := rt.Stop(ctx, info.ID); err != nil {
			logging.Warn("stop failed, removing anyway", "container", info.ShortID(), "error", err)
		}
	}

	logInfo("Removing dev container %s...", info.ShortID())
	if err := rt.Remove(ctx, info.ID); err != nil {
		return errors.ContainerFailed("remove", err)
	}

	if err := app.Default.Store().Delete(info.ID, ""); err != nil {
		logging.Warn("failed to remove session record", "error", err)
	}
	auditLog := app.Default.Audit()
	_ = auditLog.LogEvent(audit.EventDown, info.ID, "")

	logSuccess("Dev container %s removed", info.ShortID())
	return nil
}
