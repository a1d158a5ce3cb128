package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adpilot-hq/adpilot-backend/api/controllers"
	"github.com/adpilot-hq/adpilot-backend/api/routes"
	"github.com/adpilot-hq/adpilot-backend/internal/advertisers"
	"github.com/adpilot-hq/adpilot-backend/internal/analytics"
	"github.com/adpilot-hq/adpilot-backend/internal/applier"
	"github.com/adpilot-hq/adpilot-backend/internal/audit"
	"github.com/adpilot-hq/adpilot-backend/internal/caps"
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
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	snapshotService, err := snapshots.NewService(snapshots.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "snapshot service", err)

	advertiserService, err := advertisers.NewService(advertisers.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "advertiser service", err)

	capsService, err := caps.NewService(caps.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "caps service", err)

	runner, err := buildRunner(cfg, logg, dbClient, redisClient, pubsubClient, bqClient, sheetsClient, advertiserService, snapshotService, optimizerMetrics)
	requireResource(ctx, logg, "optimizer runner", err)

	checks := controllers.ReadyChecks{
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		BigQuery: bqClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	instance := os.Getenv("K_REVISION")
	if instance == "" {
		instance = "local"
	}
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, checks, runner, snapshotService, advertiserService, capsService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildRunner(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
	bqClient *bigquery.Client,
	sheetsClient *sheets.Client,
	advertiserService advertisers.Service,
	snapshotService snapshots.Service,
	optimizerMetrics *metrics.OptimizerMetrics,
) (*optimizer.Runner, error) {
	conn := dbClient.DB()

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
