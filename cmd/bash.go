package cmd

import (
	"github.com/spf13/cobra"
)

var bashCmd = &cobra.Command{
	Use:   "bash [-- args...]",
	Short: "Run bash in the dev container",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInContainer(cmd, append([]string{"bash"}, args...))
	},
}

func init() {
	rootCmd.AddCommand(bashCmd)
}
