package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

// Output formats for list commands
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	return app.Default.LoadConfig(configPath)
}

// openWorkspace resolves the dev container for --workspace.
func openWorkspace(cmd *cobra.Command) (*app.Workspace, error) {
	if _, err := loadConfig(); err != nil {
		return nil, err
	}
	return app.Default.Open(cmd.Context(), workspaceDir)
}

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return errors.InvalidArgs("unknown format %q (want table, json or yaml)", format)
}

// writeFormatted renders v as json or yaml, or as a table built from
// headers and rows.
func writeFormatted(w io.Writer, format string, v any, headers []string, rows [][]string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

var (
	headerCellStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle       = lipgloss.NewStyle().Padding(0, 1)
)

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// interactive reports whether the command can prompt the user.
func interactive(cmd *cobra.Command) bool {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	out, ok := cmd.OutOrStdout().(*os.File)
	return ok && isTerminal(in) && isTerminal(out)
}

// saveTerminal records the terminal state of stdin and returns a function
// that restores it. Clients that crash can leave the terminal in raw mode.
func saveTerminal() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	return func() {
		_ = term.Restore(fd, state)
	}
}

// resolveContainer finds the dev container of --workspace in any state.
func resolveContainer(cmd *cobra.Command) (runtime.Runtime, *runtime.ContainerInfo, error) {
	if _, err := loadConfig(); err != nil {
		return nil, nil, err
	}
	dir, err := config.ResolveWorkspace(workspaceDir)
	if err != nil {
		return nil, nil, errors.InvalidArgs("%v", err)
	}
	rt, err := app.Default.ContainerRuntime()
	if err != nil {
		return nil, nil, err
	}
	info, err := rt.Resolve(cmd.Context(), dir)
	if err != nil {
		return nil, nil, errors.ContainerFailed("lookup", err)
	}
	return rt, info, nil
}

// releaseWorkspace closes the remote session of a running container and
// removes its forwards so nothing outlives the container.
func releaseWorkspace(cmd *cobra.Command) error {
	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	rec, err := w.Store.Load(w.Container.ID)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := closeRecord(ctx, w, rec); err != nil {
			return err
		}
	}

	removed, skipped, err := w.Controller.RemoveAll(ctx)
	if err != nil {
		return err
	}
	for _, fwd := range skipped {
		logWarning("Forward %s still held by session %s", fwd, shortSession(fwd.SessionID))
	}
	logging.Debug("released workspace forwards", "container", w.Container.ShortID(), "count", len(removed))
	return nil
}
