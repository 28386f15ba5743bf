package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/db"
)

var errNeedsPostgres = errors.New("migrations need store=postgres and database.url")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store != config.StorePostgres {
			return errNeedsPostgres
		}
		return db.Migrate(cfg.Database.URL)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store != config.StorePostgres {
			return errNeedsPostgres
		}
		steps, _ := cmd.Flags().GetInt("steps")
		if err := db.Rollback(cfg.Database.URL, steps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}
