package commands

import (
	"fmt"

	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices speakers|microphones",
	Short: "List audio devices",
	Long:  `List the speakers or microphones the engine can capture.`,
	Example: `  # List speakers
  captureexpress devices speakers

  # List microphones as JSON
  captureexpress devices microphones --format json`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"speakers", "microphones"},
	RunE:      runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	kind, err := devices.ParseKind(args[0])
	if err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}
	list, err := c.Devices(cmd.Context(), kind)
	if err != nil {
		return err
	}
	if devicesFormat == "json" {
		return printJSON(list)
	}

	rows := make([][]string, len(list))
	for i, d := range list {
		rows[i] = []string{d.ID, d.Name}
	}
	fmt.Println(renderTable([]string{"Device ID", "Name"}, rows, nil))
	return nil
}
