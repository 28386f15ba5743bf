package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/copp1723/onekeel-swarm/internal/api"
	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/db"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the step scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		migrateFirst, _ := cmd.Flags().GetBool("migrate")
		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if migrateFirst && cfg.Store == config.StorePostgres {
			if err := db.Migrate(cfg.Database.URL); err != nil {
				return err
			}
		}
		return serve(ctx, cfg, !noScheduler)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("migrate", false, "Apply pending migrations before starting")
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the API only; another process runs the scheduler")
}

func serve(ctx context.Context, cfg *config.Config, runScheduler bool) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if !runScheduler {
		logger.Warn("[Engine] scheduler disabled; chat streams opened here are not visible to the scheduling process")
	}

	deps := api.Deps{
		Engine:        a.machine,
		Registry:      a.registry,
		Leads:         a.leads,
		Campaigns:     a.campaigns,
		Dispatcher:    a.adapter,
		Renderer:      a.renderer,
		Scheduler:     a.scheduler,
		Health:        api.NewHealthChecker(a.db, a.redis, a.scheduler),
		Chat:          a.chat,
		ChatHeartbeat: cfg.Chat.Heartbeat(),
		ChatBuffer:    cfg.Chat.BufferSize,
		RetentionDays: cfg.Engine.RetentionDays,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = a.metrics
	}
	srv := api.NewServer(cfg.Server, api.NewHandlers(deps), cfg.Chat.AllowedOrigins, cfg.Metrics.Path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("[Engine] HTTP server listening", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if runScheduler {
		g.Go(func() error {
			a.scheduler.Start()
			<-gctx.Done()
			a.scheduler.Stop()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("[Engine] shutting down", "timeout", cfg.Server.ShutdownTimeout().String())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("[Engine] stopped")
	return err
}
