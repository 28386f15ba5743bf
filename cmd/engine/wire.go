package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/copp1723/onekeel-swarm/internal/archive"
	"github.com/copp1723/onekeel-swarm/internal/config"
	"github.com/copp1723/onekeel-swarm/internal/content"
	"github.com/copp1723/onekeel-swarm/internal/db"
	"github.com/copp1723/onekeel-swarm/internal/dispatch"
	"github.com/copp1723/onekeel-swarm/internal/execution"
	"github.com/copp1723/onekeel-swarm/internal/handover"
	"github.com/copp1723/onekeel-swarm/internal/metrics"
	"github.com/copp1723/onekeel-swarm/internal/pkg/distlock"
	"github.com/copp1723/onekeel-swarm/internal/pkg/httpretry"
	"github.com/copp1723/onekeel-swarm/internal/pkg/logger"
	"github.com/copp1723/onekeel-swarm/internal/registry"
	"github.com/copp1723/onekeel-swarm/internal/repository/memory"
	"github.com/copp1723/onekeel-swarm/internal/repository/postgres"
	"github.com/copp1723/onekeel-swarm/internal/scheduler"
)

// app holds the wired engine. Close releases the connections it opened.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	redis     *redis.Client
	registry  registry.Registry
	leads     execution.LeadStore
	campaigns execution.CampaignStore
	metrics   *metrics.Metrics
	chat      *dispatch.ConnectionRegistry
	adapter   *dispatch.Adapter
	renderer  *content.Renderer
	machine   *execution.Machine
	scheduler *scheduler.Scheduler
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New(), renderer: content.NewRenderer()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("[Engine] redis unavailable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			a.redis.Close()
			a.redis = nil
		} else {
			logger.Info("[Engine] connected to redis", "addr", cfg.Redis.Addr)
		}
	}

	a.chat = dispatch.NewConnectionRegistry(a.metrics)
	senders, err := buildSenders(ctx, cfg, a.chat)
	if err != nil {
		return nil, err
	}
	a.adapter = dispatch.NewAdapter(nil, a.metrics, senders...)

	notifier, err := buildNotifier(ctx, cfg.Handover)
	if err != nil {
		return nil, err
	}

	retry := cfg.Engine.Retry
	a.machine = execution.NewMachine(a.registry, a.leads, a.campaigns, a.adapter, a.renderer,
		execution.WithMetrics(a.metrics),
		execution.WithNotifier(notifier),
		execution.WithRetryPolicy(execution.RetryPolicy{
			MaxAttempts: retry.MaxAttempts,
			Backoff: execution.ExponentialBackoff{
				Initial:    retry.InitialBackoff(),
				Max:        retry.MaxBackoff(),
				Multiplier: retry.Multiplier,
			},
		}),
	)

	opts := []scheduler.Option{scheduler.WithMetrics(a.metrics)}
	if cfg.Engine.DistributedLocks {
		if f := distlock.NewFactory(a.redis, a.db, cfg.Engine.LockTTL()); f != nil {
			opts = append(opts, scheduler.WithLocks(f))
		} else {
			return nil, fmt.Errorf("distributed locks enabled but neither redis nor postgres is available")
		}
	}
	arch, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if arch != nil {
		opts = append(opts, scheduler.WithArchiver(arch))
	}

	a.scheduler = scheduler.New(a.registry, a.machine, scheduler.Config{
		TickInterval:    cfg.Engine.TickInterval(),
		BatchSize:       cfg.Engine.BatchSize,
		MaxConcurrent:   cfg.Engine.MaxConcurrent,
		AdvanceTimeout:  cfg.Engine.AdvanceTimeout(),
		RetentionDays:   cfg.Engine.RetentionDays,
		CleanupInterval: cfg.Engine.CleanupInterval(),
	}, opts...)

	ok = true
	return a, nil
}

// openStores picks the execution registry and the lead and campaign
// sources. Memory mode only runs when asked for; a missing database never
// falls back to it.
func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Store {
	case config.StoreMemory:
		store := memory.NewStore()
		if a.cfg.FixturesFile != "" {
			fx, err := memory.LoadFixtures(a.cfg.FixturesFile)
			if err != nil {
				return err
			}
			store = memory.NewStoreFromFixtures(fx)
			logger.Info("[Engine] loaded fixtures", "file", a.cfg.FixturesFile,
				"leads", len(fx.Leads), "campaigns", len(fx.Campaigns))
		}
		a.registry = registry.NewMemoryStore()
		a.leads, a.campaigns = store, store
		logger.Warn("[Engine] running with in-memory store; executions are lost on restart")
		return nil

	case config.StorePostgres:
		conn, err := db.Open(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.db = conn
		a.registry = registry.NewPostgresStore(conn)
		a.leads = postgres.NewLeadRepo(conn)
		a.campaigns = postgres.NewCampaignRepo(conn)
		logger.Info("[Engine] connected to postgres")
		return nil
	}
	return fmt.Errorf("unknown store %q", a.cfg.Store)
}

func buildSenders(ctx context.Context, cfg *config.Config, chat *dispatch.ConnectionRegistry) ([]dispatch.ChannelSender, error) {
	senders := []dispatch.ChannelSender{dispatch.NewChatSender(chat, nil)}

	if strings.EqualFold(cfg.Email.Provider, "ses") {
		ses, err := dispatch.NewSESProvider(ctx, cfg.Email.Region, cfg.Email.AccessKey, cfg.Email.SecretKey, cfg.Email.ConfigurationSet)
		if err != nil {
			return nil, fmt.Errorf("ses provider: %w", err)
		}
		senders = append(senders, dispatch.NewEmailSender(ses, dispatch.FromIdentity{
			Name:    cfg.Email.FromName,
			Email:   cfg.Email.FromEmail,
			ReplyTo: cfg.Email.ReplyTo,
		}, nil))
		logger.Info("[Engine] email channel enabled", "provider", "ses", "region", cfg.Email.Region)
	} else {
		logger.Warn("[Engine] email channel not configured; email steps will fail")
	}

	if strings.EqualFold(cfg.SMS.Provider, "twilio") {
		client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.SMS.Timeout()}, cfg.SMS.MaxRetries)
		senders = append(senders, dispatch.NewSMSSender(
			dispatch.NewTwilioProvider(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber, cfg.SMS.BaseURL, client), nil))
		logger.Info("[Engine] sms channel enabled", "provider", "twilio")
	} else {
		logger.Warn("[Engine] sms channel not configured; sms steps will fail")
	}
	return senders, nil
}

// buildNotifier always logs handovers and additionally fans out to SQS and
// the webhook when they are configured.
func buildNotifier(ctx context.Context, cfg config.HandoverConfig) (handover.Notifier, error) {
	multi := handover.Multi{handover.LogNotifier{}}
	if cfg.SQSQueueURL != "" {
		opts := []func(*awsconfig.LoadOptions) error{}
		if cfg.SQSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.SQSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("aws config for sqs: %w", err)
		}
		multi = append(multi, handover.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL))
	}
	if cfg.WebhookURL != "" {
		multi = append(multi, handover.NewWebhookNotifier(&http.Client{Timeout: 10 * time.Second}, cfg.WebhookURL, cfg.WebhookSecret))
	}
	return multi, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
