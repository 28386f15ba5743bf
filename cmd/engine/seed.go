package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/db"
	"github.com/copp1723/onekeel-swarm/internal/repository/memory"
	"github.com/copp1723/onekeel-swarm/internal/repository/postgres"
)

var seedCmd = &cobra.Command{
	Use:   "seed [fixtures.yaml]",
	Short: "Load leads and campaigns from a fixtures file into postgres",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store != config.StorePostgres {
			return errNeedsPostgres
		}
		path := cfg.FixturesFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no fixtures file given")
		}

		fx, err := memory.LoadFixtures(path)
		if err != nil {
			return err
		}
		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx := cmd.Context()
		leads, campaigns := postgres.NewLeadRepo(conn), postgres.NewCampaignRepo(conn)
		for i := range fx.Leads {
			if err := leads.SaveLead(ctx, &fx.Leads[i]); err != nil {
				return fmt.Errorf("seed lead %s: %w", fx.Leads[i].ID, err)
			}
		}
		for i := range fx.Campaigns {
			if err := campaigns.SaveCampaign(ctx, &fx.Campaigns[i]); err != nil {
				return fmt.Errorf("seed campaign %s: %w", fx.Campaigns[i].ID, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d leads and %d campaigns from %s\n", len(fx.Leads), len(fx.Campaigns), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
