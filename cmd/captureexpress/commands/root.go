package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/CaptureExpress/internal/client"
	"github.com/bryanchriswhite/CaptureExpress/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile   string
	logLevel  string
	serverURL string
	rootCmd   = &cobra.Command{
		Use:   "captureexpress",
		Short: "CaptureExpress - screen and audio recording service",
		Long: `CaptureExpress drives a capture engine behind a local HTTP API.

It records a region of the desktop spanning any number of displays, mixes
speaker and microphone audio into separate tracks and can highlight mouse
clicks in the recording.

Features:
  • Region capture across multiple displays
  • Up to four audio devices, each on its own track
  • Live volume meters over WebSocket
  • Engine settings exposed per category
  • Recording history journal
  • Persistent configuration`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/captureexpress/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API base URL for client commands (default from config)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// newClient talks to --server or the address in the config file
func newClient() (*client.Client, error) {
	base := serverURL
	if base == "" {
		mgr, err := config.NewManager(GetConfigFile())
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		base = "http://" + mgr.Get().Server.Addr()
	}
	return client.New(base)
}
