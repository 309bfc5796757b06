package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/clipboard"
)

var clipboardServerCmd = &cobra.Command{
	Use:   "clipboard-server",
	Short: "Serve the host clipboard to the dev container until interrupted",
	Long: `Runs the clipboard bridge without an editor session.

The bridge listens on a port from the session range and publishes its
endpoint inside the container at clipboard.publish_path. GET reads the
host clipboard, POST replaces it.`,
	Args: cobra.NoArgs,
	RunE: runClipboardServer,
}

func init() {
	rootCmd.AddCommand(clipboardServerCmd)
}

func runClipboardServer(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fwd, err := w.Bridge().Start(ctx, "")
	if err != nil {
		return clipboardError(err)
	}
	logSuccess("Clipboard bridge listening on %s", fwd.HostAddr())
	logInfo("Endpoint published at %s in the container", w.Config.Clipboard.PublishPath)

	<-ctx.Done()

	if _, err := w.Controller.RemoveKey(context.WithoutCancel(ctx), fwd.Key()); err != nil {
		return err
	}
	logInfo("Clipboard bridge stopped")
	return nil
}

func clipboardError(err error) error {
	if app.Default.Clipboard == nil && !(clipboard.System{}).Available() {
		logWarning("No host clipboard available (install xclip, xsel or wl-clipboard)")
	}
	return err
}
