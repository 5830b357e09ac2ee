package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"validator-watch/internal/app"
	"validator-watch/internal/config"
	"validator-watch/internal/logging"
	"validator-watch/internal/solana"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "validatorwatch",
	Short:         "Monitor Solana validators and notify their subscribers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(untrackCmd)
	rootCmd.AddCommand(thresholdsCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(contactCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

// networkFlag parses the --network value shared by several commands.
func networkFlag(raw string) (solana.Network, error) {
	network, err := solana.ParseNetwork(raw)
	if err != nil {
		return "", fmt.Errorf("invalid --network value: %w", err)
	}
	return network, nil
}
