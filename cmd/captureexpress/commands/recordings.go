package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "List past recordings",
	Long:  `List journaled recording sessions, newest first.`,
	Example: `  # Last 10 recordings
  captureexpress recordings --limit 10`,
	Args: cobra.NoArgs,
	RunE: runRecordings,
}

var (
	recordingsLimit  int
	recordingsFormat string
)

func init() {
	rootCmd.AddCommand(recordingsCmd)
	recordingsCmd.Flags().IntVarP(&recordingsLimit, "limit", "n", 20, "maximum number of sessions")
	recordingsCmd.Flags().StringVarP(&recordingsFormat, "format", "f", "table", "output format (table or json)")
}

func runRecordings(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	entries, err := c.Recordings(cmd.Context(), recordingsLimit)
	if err != nil {
		return err
	}
	if recordingsFormat == "json" {
		return printJSON(entries)
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		duration := "-"
		if e.StoppedAt != nil {
			duration = e.StoppedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		rows[i] = []string{
			e.ID,
			humanize.Time(e.StartedAt),
			duration,
			string(e.Status),
			e.ContainerFormat,
			e.OutputDirectory,
			e.Error,
		}
	}
	fmt.Println(renderTable(
		[]string{"Session", "Started", "Duration", "Status", "Format", "Directory", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
	return nil
}
