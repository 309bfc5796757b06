package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Show container runtime information",
	Long: `Display the available container engines and the configured forward backend.

berth supports two container engines:
  - docker:  Docker Engine (preferred, the dev containers CLI default)
  - podman:  Podman

The engine is auto-detected unless runtime.engine is set in the config.`,
	Args: cobra.NoArgs,
	RunE: runRuntime,
}

func init() {
	rootCmd.AddCommand(runtimeCmd)
}

func runRuntime(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	detected, err := runtime.Detect()
	if err != nil {
		fmt.Fprintf(out, "Detection failed: %s\n", err)
	} else {
		fmt.Fprintf(out, "Detected engine: %s\n", detected)
	}
	fmt.Fprintf(out, "Configured engine: %s\n", cfg.Runtime.Engine)
	fmt.Fprintln(out)

	available := runtime.Available()
	fmt.Fprintln(out, "Available engines:")
	if len(available) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		for _, rt := range available {
			marker := "  "
			if rt == detected {
				marker = "* "
			}
			fmt.Fprintf(out, "%s%s\n", marker, rt)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Forward backend: %s\n", cfg.Forward.Backend)
	if cfg.Forward.Backend == config.BackendSocat {
		fmt.Fprintf(out, "  sidecar image: %s\n", cfg.Forward.SocatImage)
	}
	fmt.Fprintf(out, "Dev containers CLI: %s\n", cfg.Runtime.DevcontainerCLI)
	return nil
}
