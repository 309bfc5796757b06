package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the log of the background remote session",
	Long: `Shows the output of the remote session that remote-open started in the
background for the dev container (session.background = true).`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var logsFollow bool
var logsLines int

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "Number of lines to show")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	if logsLines < 0 {
		return errors.InvalidArgs("--lines must not be negative")
	}

	_, info, err := resolveContainer(cmd)
	if err != nil {
		return err
	}

	path, err := app.Default.Paths.LogFile(info.ID)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.KindNotFound, fmt.Sprintf("no session log for container %s", info.ShortID()))
		}
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	lines, err := lastLines(f, logsLines)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}

	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// f is at EOF after lastLines; poll for appended output.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := io.Copy(out, f); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// lastLines reads r to the end and returns its final n lines.
func lastLines(r io.Reader, n int) ([]string, error) {
	if n == 0 {
		_, err := io.Copy(io.Discard, r)
		return nil, err
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	return ring, scanner.Err()
}
