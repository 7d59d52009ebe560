// cmd/notification-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"service-notifications/internal/analytics"
	"service-notifications/internal/api"
	awsclients "service-notifications/internal/common/aws"
	"service-notifications/internal/common/camunda"
	"service-notifications/internal/common/config"
	"service-notifications/internal/common/database"
	httpclient "service-notifications/internal/common/http"
	"service-notifications/internal/common/logger"
	"service-notifications/internal/common/observability"
	"service-notifications/internal/models"
	"service-notifications/internal/notifications/channels"
	"service-notifications/internal/notifications/dispatch"
	"service-notifications/internal/notifications/orchestration"
	"service-notifications/internal/notifications/store"
	dn "service-notifications/internal/workers/notifications/dispatch-notification"
	"service-notifications/pkg/seed"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("storage", cfg.Storage.Driver),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	tracing, err := observability.InitTracing(cfg.App.Name, cfg.Tracing)
	if err != nil {
		zapLog.Fatal("tracing init failed", zap.Error(err))
	}
	defer tracing.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.Checker{}

	// --- Configuration store and attempt log ---
	var (
		configStore store.ConfigStore
		attempts    dispatch.AttemptLog
	)
	switch cfg.Storage.Driver {
	case "memory":
		s, err := seed.LoadOrDefault(cfg.Storage.SeedPath)
		if err != nil {
			zapLog.Fatal("seed load failed", zap.Error(err))
		}
		mem, err := store.NewMemoryStore(s)
		if err != nil {
			zapLog.Fatal("seed rejected", zap.Error(err))
		}
		configStore = mem
		attempts = dispatch.NewMemoryAttemptLog()
		zapLog.Warn("Using in-memory storage; attempts are lost on restart")

	default:
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")

		if cfg.Storage.Migrate {
			if err := store.Migrate(ctx, pg.DB); err != nil {
				zapLog.Fatal("schema migration failed", zap.Error(err))
			}
		}
		configStore = store.NewPostgresStore(pg.DB)
		attempts = dispatch.NewPostgresAttemptLog(pg.DB)
		checks["postgres"] = pg.Ping
	}

	// --- Delayed queue ---
	var queue dispatch.Queue
	if cfg.Storage.Driver != "memory" && cfg.Database.Redis.Address != "" {
		rdb := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")

		queue = dispatch.NewRedisQueue(rdb.Client, cfg.Dispatch.QueueKey).WithLogger(log.Named("queue"))
		checks["redis"] = rdb.Ping
	} else {
		queue = dispatch.NewMemoryQueue()
		zapLog.Warn("Using in-memory queue")
	}

	// --- Channel adapters ---
	registry, err := buildRegistry(ctx, cfg.Channels, log)
	if err != nil {
		zapLog.Fatal("channel adapters failed", zap.Error(err))
	}

	// --- Analytics ---
	opts := []dispatch.Option{
		dispatch.WithObservability(obs),
		dispatch.WithSendTimeout(config.GetDuration(cfg.Dispatch.SendTimeout)),
	}
	var summary api.SummaryReader
	if cfg.Analytics.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch, nil)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		indexer := analytics.NewIndexer(esClient.Client, cfg.Analytics.Index, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("analytics index setup failed", zap.Error(err))
		}
		opts = append(opts, dispatch.WithSink(indexer))
		summary = indexer
		checks["elasticsearch"] = esClient.Ping
	}

	// --- Dispatch pipeline ---
	policy := dispatch.Policy{
		MaxAttempts:      cfg.Dispatch.MaxAttempts,
		BaseBackoff:      config.GetDuration(cfg.Dispatch.BaseBackoff),
		FallbackCooldown: config.GetDuration(cfg.Dispatch.FallbackCooldown),
		Lease:            dispatch.DefaultLease,
	}
	dispatcher := dispatch.NewDispatcher(queue, attempts, configStore, registry, policy, log, opts...)
	engine := orchestration.NewEngine(configStore, dispatcher, log)

	scheduler := dispatch.NewScheduler(queue, dispatcher, dispatch.SchedulerConfig{
		PollInterval: config.GetDuration(cfg.Dispatch.PollInterval),
		BatchSize:    cfg.Dispatch.BatchSize,
		Workers:      cfg.Dispatch.Workers,
	}, log)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	// --- Zeebe worker ---
	var (
		zeebe      *camunda.Client
		taskWorker *camunda.Worker
	)
	if cfg.Camunda.Enabled {
		zeebe, err = camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda))
		if err != nil {
			zapLog.Fatal("zeebe client failed", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")

		wcfg := config.GetWorkerConfig(cfg, dn.TaskType)
		handlerCfg := dn.LoadConfig()
		if wcfg.Timeout > 0 {
			handlerCfg.Timeout = config.GetDuration(wcfg.Timeout)
		}
		handler := dn.NewHandler(handlerCfg, engine, log)
		taskWorker = camunda.StartWorker(zeebe.GetClient(), dn.TaskType, wcfg, handler.Handle, log)
		checks["zeebe"] = zeebe.HealthCheck
	}

	// --- HTTP API, health and metrics ---
	server := &http.Server{
		Addr: cfg.HTTP.Address,
		Handler: api.NewServer(api.Deps{
			Orchestrator: engine,
			Catalog:      configStore,
			History:      dispatcher,
			Summary:      summary,
			Checks:       checks,
		}, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	taskWorker.Stop()
	if zeebe != nil {
		if err := zeebe.Close(); err != nil {
			zapLog.Error("Error closing Zeebe client", zap.Error(err))
		}
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		zapLog.Warn("Scheduler did not stop before the shutdown deadline")
	}

	zapLog.Info("Notification manager stopped gracefully")
}

// buildRegistry wires one adapter per channel. A disabled channel gets a log
// adapter so development setups still record attempts end to end.
func buildRegistry(ctx context.Context, cfg config.ChannelsConfig, log logger.Logger) (channels.Registry, error) {
	registry := channels.Registry{}

	if cfg.Email.Enabled {
		client, err := awsclients.NewSESClient(ctx, cfg.Email.Region)
		if err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
		registry[models.ChannelEmail] = channels.NewEmailAdapter(client, channels.EmailConfig{
			FromEmail:      cfg.Email.FromEmail,
			DefaultSubject: cfg.Email.DefaultSubject,
		}, log)
	} else {
		registry[models.ChannelEmail] = channels.NewLogAdapter(string(models.ChannelEmail), log)
	}

	if cfg.Chat.Enabled {
		registry[models.ChannelChat] = channels.NewChatAdapter(
			httpclient.NewClient(config.GetDuration(cfg.Chat.Timeout)),
			channels.ChatConfig{BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey, Instance: cfg.Chat.Instance},
			log,
		)
	} else {
		registry[models.ChannelChat] = channels.NewLogAdapter(string(models.ChannelChat), log)
	}

	if cfg.Push.Enabled {
		client, err := awsclients.NewSNSClient(ctx, cfg.Push.Region)
		if err != nil {
			return nil, fmt.Errorf("push: %w", err)
		}
		registry[models.ChannelPush] = channels.NewPushAdapter(client, channels.PushConfig{DefaultTitle: cfg.Push.DefaultTitle}, log)
	} else {
		registry[models.ChannelPush] = channels.NewLogAdapter(string(models.ChannelPush), log)
	}

	return registry, nil
}
