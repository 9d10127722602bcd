package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ledger-alarm-bridge/internal/config"
	"github.com/oshokin/ledger-alarm-bridge/internal/service/bridge"
	"github.com/oshokin/ledger-alarm-bridge/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides log.level from the configuration.
	logLevel string

	// rootCmd runs the bridge.
	rootCmd = &cobra.Command{
		Use:   "ledger-alarm-bridge [listen-address]",
		Short: "Bridge device telemetry to the ledger and ledger alarms to the telemetry platform.",
		Long: `Runs the ledger alarm bridge.

Inbound HTTP requests (/thingsboard, /register-asset, /change-temperature) are
submitted to the asset contract as transactions. Contract events carrying an
alarm are forwarded to the telemetry platform of the device they refer to.

The listen address can be provided as argument to override the configuration
(e.g., :3000, 0.0.0.0:8081).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			return bridge.Run(ctx, &bridge.Options{
				ConfigPath:    configPath,
				LogLevel:      logLevel,
				ListenAddress: listenAddress,
			})
		},
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newWalletCommand())
}
