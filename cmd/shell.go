package cmd

import (
	"github.com/spf13/cobra"
)

var shellCmd = &cobra.Command{
	Use:   "shell [-- args...]",
	Short: "Open a shell in the dev container",
	Long: `Runs shell.command from the config (default: the container user's
login shell) attached to the terminal. Arguments are passed on to the shell:

  berth shell -- -c 'make test'`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runInContainer(cmd, append(cfg.ShellCommand(), args...))
}
