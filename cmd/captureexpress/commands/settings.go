package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bryanchriswhite/CaptureExpress/internal/settings"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and change engine settings",
	Long: `Read and change the engine settings tree.

Settings are grouped into categories (General, Output, Video, Audio,
Advanced), then subcategories, then parameters.`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get CATEGORY",
	Short: "Show a settings category",
	Example: `  # Show the output settings
  captureexpress settings get Output

  # Show types, allowed values and flags as JSON
  captureexpress settings get Output --detailed`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set CATEGORY SUBCATEGORY PARAMETER VALUE",
	Short: "Change one setting",
	Long: `Change one setting. VALUE is parsed as JSON when possible, so numbers
and booleans keep their type; anything else is sent as a string.`,
	Example: `  # Record to MKV
  captureexpress settings set Output Recording RecFormat mkv

  # Constant rate factor 18
  captureexpress settings set Output Recording Reccrf 18`,
	Args: cobra.ExactArgs(4),
	RunE: runSettingsSet,
}

var settingsDetailed bool

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsGetCmd.Flags().BoolVarP(&settingsDetailed, "detailed", "d", false, "print the full parameter descriptions as JSON")
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if settingsDetailed {
		data, err := c.DetailedSettings(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(data)
	}

	compact, err := c.Settings(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	var rows [][]string
	subs := make([]string, 0, len(compact))
	for sub := range compact {
		subs = append(subs, sub)
	}
	sort.Strings(subs)
	for _, sub := range subs {
		params := make([]string, 0, len(compact[sub]))
		for p := range compact[sub] {
			params = append(params, p)
		}
		sort.Strings(params)
		for _, p := range params {
			rows = append(rows, []string{sub, p, fmt.Sprint(compact[sub][p])})
		}
	}
	fmt.Println(renderTable([]string{"Subcategory", "Parameter", "Value"}, rows, nil))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	category, sub, param := args[0], args[1], args[2]
	value := parseSettingValue(args[3])

	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.UpdateSettings(cmd.Context(), category, settings.Updates{sub: {param: value}}); err != nil {
		return err
	}
	fmt.Printf("Setting updated: %s/%s/%s = %v\n", category, sub, param, value)
	return nil
}

// parseSettingValue keeps JSON scalars typed; other input stays a string
func parseSettingValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		switch v.(type) {
		case float64, bool, string:
			return v
		}
	}
	return raw
}
