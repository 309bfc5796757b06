package cmd

import (
	"fmt"
	"os"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/audit"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var execCmd = &cobra.Command{
	Use:   "exec -- <command>",
	Short: "Execute a command in the dev container",
	Long: `Execute a command in the dev container and exit with its status.

A single argument is split like a shell would: berth exec "ls -la".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	execArgs := args
	if len(args) == 1 {
		words, err := shellquote.Split(args[0])
		if err != nil {
			return errors.InvalidArgs("cannot parse command %q: %v", args[0], err)
		}
		execArgs = words
	}
	if len(execArgs) == 0 {
		return errors.InvalidArgs("usage: berth exec -- <command>")
	}

	return runInContainer(cmd, execArgs)
}

// runInContainer runs argv attached to the terminal and propagates its
// exit status.
func runInContainer(cmd *cobra.Command, argv []string) error {
	rt, info, err := resolveContainer(cmd)
	if err != nil {
		return err
	}
	if info.Status != runtime.StatusRunning {
		return errors.ContainerFailed("exec",
			fmt.Errorf("dev container %s is %s; start it with 'berth up'", info.ShortID(), info.Status))
	}

	_ = app.Default.Audit().LogEvent(audit.EventExec, info.ID, shellquote.Join(argv...))

	code, err := rt.ExecInteractive(cmd.Context(), info.ID, argv, runtime.ExecOptions{
		Interactive: isTerminal(os.Stdin),
	})
	if err != nil {
		return errors.ContainerFailed("exec", err)
	}
	if code != 0 {
		return errors.ChildExit(code, nil)
	}
	return nil
}
