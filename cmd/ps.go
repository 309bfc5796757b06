package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "Show the workspace configuration and its containers",
	Long: `Shows the workspace folder, its devcontainer.json and the containers
that belong to it: the dev container and its forwarding sidecars.`,
	Args: cobra.NoArgs,
	RunE: runPs,
}

var psFormat string

func init() {
	psCmd.Flags().StringVar(&psFormat, "format", formatTable, "Output format: table, json or yaml")
	rootCmd.AddCommand(psCmd)
}

// psContainer is one row of the container table.
type psContainer struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Role   string `json:"role" yaml:"role"`
	Status string `json:"status" yaml:"status"`
	Image  string `json:"image" yaml:"image"`
}

type psReport struct {
	Workspace    string        `json:"workspace" yaml:"workspace"`
	Devcontainer string        `json:"devcontainer,omitempty" yaml:"devcontainer,omitempty"`
	Containers   []psContainer `json:"containers" yaml:"containers"`
}

func runPs(cmd *cobra.Command, args []string) error {
	if err := checkFormat(psFormat); err != nil {
		return err
	}
	if _, err := loadConfig(); err != nil {
		return err
	}
	dir, err := config.ResolveWorkspace(workspaceDir)
	if err != nil {
		return errors.InvalidArgs("%v", err)
	}
	rt, err := app.Default.ContainerRuntime()
	if err != nil {
		return err
	}

	report := psReport{Workspace: dir, Containers: []psContainer{}}
	if path, err := config.DevcontainerConfig(dir); err == nil {
		report.Devcontainer = path
	}

	ctx := cmd.Context()
	devs, err := rt.List(ctx, map[string]string{config.LabelLocalFolder: dir})
	if err != nil {
		return errors.ContainerFailed("list", err)
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	for _, dev := range devs {
		report.Containers = append(report.Containers, psRow(dev, "dev"))
		sidecars, err := rt.List(ctx, map[string]string{forward.LabelTarget: dev.ID})
		if err != nil {
			return errors.ContainerFailed("list", err)
		}
		sort.Slice(sidecars, func(i, j int) bool { return sidecars[i].ID < sidecars[j].ID })
		for _, sc := range sidecars {
			role := fmt.Sprintf("forward %s:%s", sc.Labels[forward.LabelBind], sc.Labels[forward.LabelHostPort])
			report.Containers = append(report.Containers, psRow(sc, role))
		}
	}

	out := cmd.OutOrStdout()
	if psFormat != formatTable {
		return writeFormatted(out, psFormat, report, nil, nil)
	}

	devcontainer := report.Devcontainer
	if devcontainer == "" {
		devcontainer = "(none)"
	}
	fmt.Fprintln(out, "Configuration")
	fmt.Fprintf(out, "  Workspace:    %s\n", report.Workspace)
	fmt.Fprintf(out, "  Devcontainer: %s\n", devcontainer)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Containers")
	if len(report.Containers) == 0 {
		fmt.Fprintln(out, "  (none)")
		return nil
	}

	rows := make([][]string, 0, len(report.Containers))
	for _, c := range report.Containers {
		id := c.ID
		if len(id) > 12 {
			id = id[:12]
		}
		rows = append(rows, []string{id, c.Name, c.Role, c.Status, c.Image})
	}
	return writeFormatted(out, formatTable, nil, []string{"ID", "NAME", "ROLE", "STATUS", "IMAGE"}, rows)
}

func psRow(info *runtime.ContainerInfo, role string) psContainer {
	image := info.Image
	if image == "" {
		image = "-"
	}
	return psContainer{
		ID:     info.ID,
		Name:   info.Name,
		Role:   role,
		Status: string(info.Status),
		Image:  image,
	}
}
