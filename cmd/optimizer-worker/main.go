package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adpilot-hq/adpilot-backend/internal/advertisers"
	"github.com/adpilot-hq/adpilot-backend/internal/analytics"
	"github.com/adpilot-hq/adpilot-backend/internal/applier"
	"github.com/adpilot-hq/adpilot-backend/internal/audit"
	"github.com/adpilot-hq/adpilot-backend/internal/caps"
	"github.com/adpilot-hq/adpilot-backend/internal/cron"
	"github.com/adpilot-hq/adpilot-backend/internal/insights"
	"github.com/adpilot-hq/adpilot-backend/internal/ledger"
	"github.com/adpilot-hq/adpilot-backend/internal/notify"
	"github.com/adpilot-hq/adpilot-backend/internal/optimizer"
	"github.com/adpilot-hq/adpilot-backend/internal/snapshots"
	"github.com/adpilot-hq/adpilot-backend/pkg/bigquery"
	"github.com/adpilot-hq/adpilot-backend/pkg/cache"
	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	"github.com/adpilot-hq/adpilot-backend/pkg/db"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	"github.com/adpilot-hq/adpilot-backend/pkg/instance"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/meta"
	"github.com/adpilot-hq/adpilot-backend/pkg/metrics"
	"github.com/adpilot-hq/adpilot-backend/pkg/migrate"
	"github.com/adpilot-hq/adpilot-backend/pkg/pubsub"
	"github.com/adpilot-hq/adpilot-backend/pkg/redis"
	"github.com/adpilot-hq/adpilot-backend/pkg/retry"
	"github.com/adpilot-hq/adpilot-backend/pkg/sheets"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "optimizer-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "optimizer-worker"

	logg = logger.New(logger.Options{
		ServiceName: "optimizer-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		requireResource(ctx, logg, "dev migrations", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "error closing bigquery", err)
		}
	}()

	sheetsClient, err := sheets.NewClient(ctx, cfg.GCP, cfg.Sheets, logg)
	requireResource(ctx, logg, "sheets", err)

	optimizerMetrics := metrics.NewOptimizerMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	snapshotService, err := snapshots.NewService(snapshots.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "snapshot service", err)

	runner, err := buildRunner(cfg, logg, dbClient, redisClient, pubsubClient, bqClient, sheetsClient, snapshotService, optimizerMetrics)
	requireResource(ctx, logg, "optimizer runner", err)

	sweepJob, err := cron.NewSweepJob(cron.SweepJobParams{
		Logger: logg,
		Runner: runner,
	})
	requireResource(ctx, logg, "sweep job", err)

	auditPruner, err := audit.NewPruner(audit.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "audit pruner", err)

	retentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:    logg,
		Snapshots: snapshotService,
		Audit:     auditPruner,
		Retention: cfg.Optimizer.SnapshotRetentionDays,
	})
	requireResource(ctx, logg, "retention job", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, retentionJob),
		Locks:    cron.RedisLocks(redisClient, 0),
		Metrics:  cronMetrics,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.App.MetricsPort, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "metrics server stopped unexpectedly", err)
		}
	}()
	defer func() {
		if err := metricsServer.Close(); err != nil {
			logg.Error(runCtx, "error closing metrics server", err)
		}
	}()

	logg.Info(logg.WithField(runCtx, "metrics_addr", metricsServer.Addr), "starting optimizer worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "optimizer worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "optimizer worker shutting down gracefully")
}

func buildRunner(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
	bqClient *bigquery.Client,
	sheetsClient *sheets.Client,
	snapshotService snapshots.Service,
	optimizerMetrics *metrics.OptimizerMetrics,
) (*optimizer.Runner, error) {
	conn := dbClient.DB()

	advertiserService, err := advertisers.NewService(advertisers.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	capResolver, err := caps.NewResolver(caps.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	auditRecorder, err := audit.NewRecorder(audit.NewRepository(conn))
	if err != nil {
		return nil, err
	}

	sink, err := notify.NewPubSubSink(notify.SinkParams{
		Publisher: pubsubClient.NotificationPublisher(),
		Dedup:     redisClient,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	decisionApplier, err := applier.New(applier.Params{
		Audit:   auditRecorder,
		Sink:    sink,
		Metrics: optimizerMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}

	insightsCache := cache.NewRedis(redisClient)
	ledgerService, err := ledger.NewService(sheetsClient, insightsCache, cfg.Optimizer.CacheTTL, logg)
	if err != nil {
		return nil, err
	}

	metaFactory, err := meta.NewFactory(cfg.Meta, logg)
	if err != nil {
		return nil, err
	}

	clientsFactory := func(_ context.Context, advertiser *models.Advertiser) (optimizer.Clients, error) {
		token := ""
		if advertiser.AccessToken != nil {
			token = *advertiser.AccessToken
		}
		graph, err := metaFactory.ClientFor(token)
		if err != nil {
			return optimizer.Clients{}, err
		}
		loc, err := time.LoadLocation(advertiser.Timezone)
		if err != nil {
			loc = time.UTC
		}
		gateway, err := insights.NewGateway(graph, ledgerService, insightsCache, cfg.Optimizer.CacheTTL, loc, logg, nil)
		if err != nil {
			return optimizer.Clients{}, err
		}
		return optimizer.Clients{Lister: graph, Gateway: gateway, Mutator: graph}, nil
	}

	locker, err := optimizer.NewRedisLocker(redisClient, cfg.Optimizer.LockTTL)
	if err != nil {
		return nil, err
	}

	exporter, err := analytics.New(bqClient, logg, analytics.Config{
		Table: cfg.BigQuery.DecisionsTable,
	})
	if err != nil {
		return nil, err
	}

	return optimizer.NewRunner(optimizer.RunnerParams{
		Config:      cfg.Optimizer,
		ForceDryRun: cfg.FeatureFlags.ForceDryRun,
		Logger:      logg,
		Advertisers: advertiserService,
		Snapshots:   snapshotService,
		Caps:        capResolver,
		Applier:     decisionApplier,
		Clients:     clientsFactory,
		Locker:      locker,
		Exporter:    exporter,
		Notifier:    sink,
		Metrics:     optimizerMetrics,
		Retry:       retry.Policy{},
	})
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
