package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/session"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/system"
)

var remoteOpenCmd = &cobra.Command{
	Use:   "remote-open",
	Short: "Open a remote editing session in the dev container",
	Long: `Starts the editor server inside the dev container, forwards a host port
to it and launches the editor client on the host.

The session closes when the client exits or on Ctrl-C. A running session
for the same container is reused unless --force-new is given. With
session.background set in the config the session is handed to a
background process and the command returns once it is ready.`,
	Args: cobra.NoArgs,
	RunE: runRemoteOpen,
}

var remoteLsCmd = &cobra.Command{
	Use:   "remote-ls",
	Short: "List remote sessions",
	Args:  cobra.NoArgs,
	RunE:  runRemoteLs,
}

var remoteCloseCmd = &cobra.Command{
	Use:   "remote-close",
	Short: "Close the remote session of the dev container",
	Args:  cobra.NoArgs,
	RunE:  runRemoteClose,
}

var (
	remoteHostPort      int
	remoteContainerPort int
	remoteNoUI          bool
	remoteWait          bool
	remoteForceNew      bool
	remoteFormat        string
)

// pollInterval paces waits on another process's session record.
const pollInterval = 100 * time.Millisecond

func init() {
	remoteOpenCmd.Flags().IntVar(&remoteHostPort, "host-port", 0, "Host port for the session (default: first free port in the session range)")
	remoteOpenCmd.Flags().IntVar(&remoteContainerPort, "container-port", 0, "Port the server listens on inside the container")
	remoteOpenCmd.Flags().BoolVar(&remoteNoUI, "no-remote-ui", false, "Start the server only, without the host client")
	remoteOpenCmd.Flags().BoolVar(&remoteWait, "wait", false, "Stay in the foreground even when session.background is set")
	remoteOpenCmd.Flags().BoolVar(&remoteForceNew, "force-new", false, "Close a running session and start a new one")
	remoteLsCmd.Flags().StringVar(&remoteFormat, "format", formatTable, "Output format: table, json or yaml")

	rootCmd.AddCommand(remoteOpenCmd, remoteLsCmd, remoteCloseCmd)
}

func runRemoteOpen(cmd *cobra.Command, args []string) error {
	if remoteHostPort != 0 && !port.ValidPort(remoteHostPort) {
		return errors.InvalidArgs("invalid --host-port %d", remoteHostPort)
	}
	if remoteContainerPort != 0 && !port.ValidPort(remoteContainerPort) {
		return errors.InvalidArgs("invalid --container-port %d", remoteContainerPort)
	}

	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	if w.Config.Session.Background && !remoteWait {
		return startBackground(cmd, w)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := w.Store.Load(w.Container.ID)
	if err != nil {
		logging.Warn("ignoring unreadable session record", "error", err)
	}
	if rec != nil && rec.OwnerPID != os.Getpid() && w.Store.Live(rec) {
		if !remoteForceNew {
			return attachSession(ctx, cmd, w, rec)
		}
		if err := closeRecord(ctx, w, rec); err != nil {
			return err
		}
	}

	defer saveTerminal()()

	orch := w.Orchestrator(session.Options{ClientOutput: cmd.ErrOrStderr()})
	s, err := orch.Open(ctx, session.OpenOptions{
		HostPort:      remoteHostPort,
		ContainerPort: remoteContainerPort,
		Headless:      remoteNoUI,
		ForceNew:      remoteForceNew,
	})
	if err != nil {
		return err
	}

	logSuccess("Session %s ready at %s", shortSession(s.ID), s.Server())
	if clip, ok := s.Clipboard(); ok {
		logInfo("Clipboard bridge on %s", clip.HostAddr())
	}
	if s.Headless {
		logInfo("Connect with: %s", clientCommandLine(w.Config, s.Server()))
	}
	logInfo("Press Ctrl-C to close the session")

	// The session context is ctx; cancelling it drives teardown.
	if err := orch.Wait(context.Background(), s); err != nil {
		return err
	}
	logInfo("Session %s closed", shortSession(s.ID))
	return nil
}

func clientCommandLine(cfg *config.Config, server string) string {
	return shellquote.Join(cfg.ClientTemplate().Render(map[string]string{config.KeyServer: server})...)
}

// attachSession launches a client against a session owned by another
// process and waits for it.
func attachSession(ctx context.Context, cmd *cobra.Command, w *app.Workspace, rec *session.Record) error {
	logInfo("Session %s already running at %s (pid %d)", shortSession(rec.SessionID), rec.Server, rec.OwnerPID)
	if remoteNoUI {
		return nil
	}

	defer saveTerminal()()

	argv := w.Config.ClientTemplate().Render(map[string]string{config.KeyServer: rec.Server})
	proc, err := app.Default.Launcher.Start(ctx, argv, system.StartOptions{
		Stdout: cmd.ErrOrStderr(),
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return errors.ClientLaunchFailed(err)
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Terminate()
		select {
		case <-proc.Done():
		case <-time.After(w.Config.Session.ShutdownTimeout.Duration):
			_ = proc.Kill()
		}
	}
	return nil
}

// startBackground re-executes remote-open --wait as a detached process
// and returns once its session is ready.
func startBackground(cmd *cobra.Command, w *app.Workspace) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate berth executable: %w", err)
	}

	paths := app.Default.Paths
	logPath, err := paths.LogFile(w.Container.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(paths.LogsDir, 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	defer logFile.Close()

	argv := []string{exe, "remote-open", "--wait", "--workspace", w.Dir}
	if configPath != "" {
		argv = append(argv, "--config", configPath)
	}
	if verbose {
		argv = append(argv, "--verbose")
	}
	if remoteHostPort != 0 {
		argv = append(argv, "--host-port", strconv.Itoa(remoteHostPort))
	}
	if remoteContainerPort != 0 {
		argv = append(argv, "--container-port", strconv.Itoa(remoteContainerPort))
	}
	if remoteNoUI {
		argv = append(argv, "--no-remote-ui")
	}
	if remoteForceNew {
		argv = append(argv, "--force-new")
	}

	ctx := cmd.Context()
	proc, err := app.Default.Launcher.Start(ctx, argv, system.StartOptions{
		Stdout: logFile,
		Stderr: logFile,
		Detach: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start background session: %w", err)
	}
	logging.Debug("background session started", "pid", proc.Pid(), "log", logPath)

	deadline := time.NewTimer(w.Config.Session.ReadyTimeout.Duration + w.Config.Session.ShutdownTimeout.Duration)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.Done():
			return fmt.Errorf("background session exited with status %d; see %s", proc.ExitCode(), logPath)
		case <-deadline.C:
			return fmt.Errorf("background session not ready in time; see %s", logPath)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rec, err := w.Store.Load(w.Container.ID)
			if err != nil || rec == nil || rec.OwnerPID != proc.Pid() || !rec.State.Live() {
				continue
			}
			logSuccess("Session %s ready at %s (pid %d)", shortSession(rec.SessionID), rec.Server, proc.Pid())
			logInfo("Logs: %s", logPath)
			return nil
		}
	}
}

// closeRecord ends the session described by rec. A live owner is asked to
// close it; forwards of a dead owner are released here.
func closeRecord(ctx context.Context, w *app.Workspace, rec *session.Record) error {
	if !w.Store.Live(rec) {
		released, err := w.Controller.ReleaseSession(ctx, rec.SessionID)
		if err != nil {
			return err
		}
		logging.Debug("released stale session", "session", rec.SessionID, "forwards", len(released))
		return w.Store.Delete(rec.ContainerID, rec.SessionID)
	}

	owner, err := os.FindProcess(rec.OwnerPID)
	if err != nil {
		return fmt.Errorf("session owner %d: %w", rec.OwnerPID, err)
	}
	if err := owner.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal session owner %d: %w", rec.OwnerPID, err)
	}

	// The owner releases the server and forwards, then deletes the record.
	grace := 2*w.Config.Session.ShutdownTimeout.Duration + 5*time.Second
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		cur, err := w.Store.Load(rec.ContainerID)
		if err == nil && (cur == nil || cur.SessionID != rec.SessionID || !w.Store.Live(cur)) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("session %s did not close within %s", shortSession(rec.SessionID), grace)
		case <-ticker.C:
		}
	}
}

func runRemoteClose(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	rec, err := w.Store.Load(w.Container.ID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New(errors.KindNotFound, fmt.Sprintf("no session in container %s", w.Container.ShortID()))
	}

	if err := closeRecord(cmd.Context(), w, rec); err != nil {
		return err
	}
	logSuccess("Closed session %s", shortSession(rec.SessionID))
	return nil
}

func runRemoteLs(cmd *cobra.Command, args []string) error {
	if err := checkFormat(remoteFormat); err != nil {
		return err
	}
	if _, err := loadConfig(); err != nil {
		return err
	}

	store := app.Default.Store()
	pruned, err := store.Prune()
	if err != nil {
		logging.Warn("failed to prune session records", "error", err)
	}
	for _, rec := range pruned {
		logging.Debug("pruned stale session", "session", rec.SessionID, "container", rec.ContainerID)
	}

	records, err := store.List()
	if err != nil {
		return err
	}
	if len(records) == 0 && remoteFormat == formatTable {
		logInfo("No remote sessions. Start one with: berth remote-open")
		return nil
	}
	if records == nil {
		records = []session.Record{}
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		clip := "-"
		if rec.ClipboardPort != 0 {
			clip = strconv.Itoa(rec.ClipboardPort)
		}
		container := rec.ContainerID
		if len(container) > 12 {
			container = container[:12]
		}
		rows = append(rows, []string{
			shortSession(rec.SessionID),
			container,
			string(rec.State),
			rec.Server,
			clip,
			strconv.Itoa(rec.OwnerPID),
			rec.Workspace,
		})
	}

	return writeFormatted(cmd.OutOrStdout(), remoteFormat, records,
		[]string{"SESSION", "CONTAINER", "STATE", "SERVER", "CLIPBOARD", "PID", "WORKSPACE"}, rows)
}
