package main

import (
	"os"

	"github.com/frostdev-ops/pma-alerting/pkg/version"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "pma-alerting",
		Short: "Storage alerting and notification engine",
		Long: `pma-alerting evaluates threshold rules against storage metrics, tracks
alert lifecycles, escalates unacknowledged alerts and delivers notifications.

  pma-alerting serve                 Run the engine and HTTP API
  pma-alerting import bundle.yaml    Load channels, policies and rules
  pma-alerting token --subject ops   Mint an API token`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ./configs/config.yaml)")

	rootCmd.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
