package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
)

var (
	verbose      bool
	jsonOutput   bool
	configPath   string
	workspaceDir string
)

var rootCmd = &cobra.Command{
	Use:   "berth",
	Short: "Dev container ports and remote editing sessions",
	Long: `berth drives dev containers from the host.

It forwards host ports into the container network, runs remote editing
sessions (an editor server in the container and a client on the host)
and bridges the host clipboard into the container.

Forwards created with 'port add' outlive the command; 'port ls' and
'port rm' find them again from any later invocation.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose, jsonOutput, os.Stderr)
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logging.Debug("command failed", "kind", errors.KindOf(err), "exit_code", errors.GetExitCode(err))
		logError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/berth/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace folder of the dev container (default current directory)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceErrors = true
}

// Helper aliases for user-facing output (delegates to logging package)
var (
	logInfo    = logging.UserInfo
	logSuccess = logging.UserSuccess
	logWarning = logging.UserWarning
	logError   = logging.UserError
)
