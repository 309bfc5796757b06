package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Display the forward and session events of the dev container",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

var eventsJSON bool

func init() {
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Output events as JSON lines")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	w, err := openWorkspace(cmd)
	if err != nil {
		return err
	}

	events, err := w.Audit.Events(w.Container.ID)
	if err != nil {
		return fmt.Errorf("failed to read event log: %w", err)
	}

	if len(events) == 0 {
		logInfo("No events found for container %s", w.Container.ShortID())
		return nil
	}

	out := cmd.OutOrStdout()
	for _, e := range events {
		if eventsJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			fmt.Fprintln(out, string(data))
			continue
		}

		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		subject := e.Forward
		if subject == "" {
			subject = shortSession(e.Session)
		}
		if e.Details != "" {
			fmt.Fprintf(out, "[%s] %-22s %s (%s)\n", ts, e.Type, subject, e.Details)
		} else {
			fmt.Fprintf(out, "[%s] %-22s %s\n", ts, e.Type, subject)
		}
	}

	return nil
}
