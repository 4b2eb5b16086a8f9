// Package cli implements the upiswitch command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitwit/upiswitch/config"
	"github.com/vitwit/upiswitch/logger"
)

var (
	configPath string
	logLevel   string
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "upiswitch",
		Short: "UPI payment switch",
		Long: `upiswitch relays UPI payments between PSPs and banks: it debits the payer's
bank, credits the payee's bank and answers the originator.

The simulate command runs demo banks and PSPs to talk to.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level")
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, logger.NewZapLogger(cfg.LogLevel), nil
}
