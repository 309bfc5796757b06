package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/forward"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/session"
)

var gcForce bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect orphaned forwards and session records",
	Long: `Reconciles forwarding sidecars and session records with the containers
that are actually running.

Without --force, prints what would be cleaned (dry run).
With --force, removes the orphaned resources.

Detects:
  - Orphaned sidecars: forwarding sidecars whose dev container is gone or stopped
  - Stale sessions: session records whose owning process has exited`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().BoolVar(&gcForce, "force", false, "Actually remove orphaned resources (default is dry run)")
	rootCmd.AddCommand(gcCmd)
}

// orphanedSidecar is a forwarding sidecar whose target is not running.
type orphanedSidecar struct {
	id     string
	target string
	desc   string
}

// gcResult tracks what gc found and would/did clean up.
type gcResult struct {
	sidecars []orphanedSidecar
	sessions []session.Record
}

func (r *gcResult) empty() bool {
	return len(r.sidecars) == 0 && len(r.sessions) == 0
}

func runGC(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	rt, err := app.Default.ContainerRuntime()
	if err != nil {
		return err
	}

	result, err := collectGarbage(cmd, rt, app.Default.Store())
	if err != nil {
		return err
	}

	if result.empty() {
		logSuccess("Nothing to clean up")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, s := range result.sidecars {
		fmt.Fprintf(out, "  orphaned sidecar %s (%s, container %s)\n", shortSession(s.id), s.desc, shortSession(s.target))
	}
	for _, rec := range result.sessions {
		fmt.Fprintf(out, "  stale session %s (container %s, pid %d)\n", shortSession(rec.SessionID), shortSession(rec.ContainerID), rec.OwnerPID)
	}

	if !gcForce {
		logInfo("Dry run: %d sidecar(s) and %d session record(s). Re-run with --force to remove them.",
			len(result.sidecars), len(result.sessions))
		return nil
	}

	ctx := cmd.Context()
	var failed int
	for _, s := range result.sidecars {
		if err := rt.Remove(ctx, s.id); err != nil {
			logWarning("Failed to remove sidecar %s: %v", shortSession(s.id), err)
			failed++
		}
	}
	store := app.Default.Store()
	for _, rec := range result.sessions {
		if err := store.Delete(rec.ContainerID, rec.SessionID); err != nil {
			logWarning("Failed to remove session record %s: %v", shortSession(rec.SessionID), err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d resource(s) could not be removed", failed)
	}
	logSuccess("Removed %d sidecar(s) and %d session record(s)", len(result.sidecars), len(result.sessions))
	return nil
}

// collectGarbage finds sidecars of containers that are not running and
// session records whose owner has exited.
func collectGarbage(cmd *cobra.Command, rt runtime.Runtime, store *session.Store) (*gcResult, error) {
	ctx := cmd.Context()
	result := &gcResult{}

	sidecars, err := rt.List(ctx, map[string]string{forward.LabelTarget: ""})
	if err != nil {
		return nil, fmt.Errorf("failed to list sidecars: %w", err)
	}

	running := make(map[string]bool)
	for _, c := range sidecars {
		target := c.Labels[forward.LabelTarget]
		alive, seen := running[target]
		if !seen {
			info, err := rt.Inspect(ctx, target)
			alive = err == nil && info.Status == runtime.StatusRunning
			running[target] = alive
		}
		if alive {
			continue
		}
		result.sidecars = append(result.sidecars, orphanedSidecar{
			id:     c.ID,
			target: target,
			desc:   fmt.Sprintf("%s:%s -> %s", c.Labels[forward.LabelBind], c.Labels[forward.LabelHostPort], c.Labels[forward.LabelTargetPort]),
		})
	}
	sort.Slice(result.sidecars, func(i, j int) bool { return result.sidecars[i].id < result.sidecars[j].id })

	records, err := store.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if store.Live(&rec) {
			continue
		}
		result.sessions = append(result.sessions, rec)
	}

	logging.Debug("gc scan", "sidecars", len(sidecars), "orphaned", len(result.sidecars), "stale_sessions", len(result.sessions))
	return result, nil
}
