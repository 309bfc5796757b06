package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var neovimCmd = &cobra.Command{
	Use:     "neovim [-- args...]",
	Aliases: []string{"v"},
	Short:   "Run neovim in the terminal inside the dev container",
	Long: `Runs nvim inside the dev container attached to this terminal.
Use remote-open for a host GUI client instead.`,
	RunE: runNeovim,
}

func init() {
	rootCmd.AddCommand(neovimCmd)
}

func runNeovim(cmd *cobra.Command, args []string) error {
	rt, info, err := resolveContainer(cmd)
	if err != nil {
		return err
	}
	if info.Status == runtime.StatusRunning {
		res, err := rt.Exec(cmd.Context(), info.ID, []string{"nvim", "--version"}, runtime.ExecOptions{})
		if err != nil || res.ExitCode != 0 {
			return errors.ContainerFailed("exec",
				fmt.Errorf("nvim not found in dev container %s; install it in the image", info.ShortID()))
		}
	}
	return runInContainer(cmd, append([]string{"nvim"}, args...))
}
