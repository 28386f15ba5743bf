package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Archive and delete terminal executions older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("max-age-days")
		if !cmd.Flags().Changed("max-age-days") {
			days = cfg.Engine.RetentionDays
		}

		a, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.scheduler.CleanupOldExecutions(cmd.Context(), days)
		logger.Info("[Engine] cleanup finished", "removed", removed, "max_age_days", days)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d executions older than %d days\n", removed, days)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Int("max-age-days", 0, "Age threshold in days (defaults to engine.retention_days)")
}
