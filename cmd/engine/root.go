package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Multi-channel campaign execution and handover engine",
	Long: `engine walks leads through email, SMS and chat campaign steps on a schedule
and hands them to a human when a campaign's handover rule fires.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (environment variables override it)")
}

// loadConfig reads the config named by --config and applies the logging
// settings so every subcommand logs the same way.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())
	return cfg, nil
}
