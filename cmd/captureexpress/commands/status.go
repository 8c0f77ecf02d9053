package commands

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorder state",
	Long:  `Show whether the engine is initialized, the recording state and engine statistics.`,
	Example: `  # Show status as a table (default)
  captureexpress status

  # Show status as JSON
  captureexpress status --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running server",
	Long:  `Ask the server to stop any recording, release the engine and exit.`,
	Args:  cobra.NoArgs,
	RunE:  runShutdown,
}

var statusFormat string

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(shutdownCmd)

	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "output format (table or json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	st, err := c.Status(cmd.Context())
	if err != nil {
		return err
	}
	if statusFormat == "json" {
		return printJSON(st)
	}

	rows := [][]string{
		{"Initialized", strconv.FormatBool(st.Initialized)},
		{"State", st.State},
		{"Recording", strconv.FormatBool(st.Recording)},
	}
	if st.SessionID != "" {
		rows = append(rows,
			[]string{"Session", st.SessionID},
			[]string{"Recording time", fmt.Sprintf("%.1fs", st.RecordingTime)},
		)
	}
	if s := st.Statistics; s != nil {
		rows = append(rows,
			[]string{"CPU", fmt.Sprintf("%.1f%%", s.CPU)},
			[]string{"Memory", fmt.Sprintf("%.1f MB", s.MemoryUsage)},
			[]string{"Active sources", strconv.Itoa(s.ActiveSources)},
			[]string{"Dropped frames", fmt.Sprintf("%d (%.2f%%)", s.NumberDroppedFrames, s.PercentageDropped)},
		)
		if s.RecordingBytes > 0 {
			rows = append(rows, []string{"File size", humanize.Bytes(uint64(s.RecordingBytes))})
		}
	}
	fmt.Println(renderTable([]string{"Field", "Value"}, rows, nil))
	return nil
}

func runShutdown(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.Shutdown(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Server is shutting down")
	return nil
}
