// cmd/pipeline/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedly-pipeline/internal/api"
	"feedly-pipeline/internal/common/agent"
	awsclient "feedly-pipeline/internal/common/aws"
	"feedly-pipeline/internal/common/config"
	"feedly-pipeline/internal/common/database"
	"feedly-pipeline/internal/common/feedly"
	"feedly-pipeline/internal/common/index"
	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/observability"
	"feedly-pipeline/internal/common/queue"
	"feedly-pipeline/internal/common/validation"
	"feedly-pipeline/pkg/registry"

	deadletters "feedly-pipeline/internal/workers/maintenance/dead-letters"
	analyzeevent "feedly-pipeline/internal/workers/pipeline/analyze-event"
	enrichevent "feedly-pipeline/internal/workers/pipeline/enrich-event"
	feedingest "feedly-pipeline/internal/workers/pipeline/feed-ingest"
	notifyopportunity "feedly-pipeline/internal/workers/pipeline/notify-opportunity"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
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
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Logging.Level != "" {
		zapLog = logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	}
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting feedly pipeline...", zap.String("version", cfg.App.Version))

	obs := observability.New("feedly-pipeline")
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(ctx, func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully", zap.String("mode", redis.Mode()))

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(ctx, func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	store := index.NewStore(esClient.Client, cfg.Index, log)
	if err := store.EnsureIndex(ctx); err != nil {
		zapLog.Fatal("index setup failed", zap.Error(err))
	}

	// --- Init PostgreSQL journal with retry ---
	var stageJournal journal.Journal = journal.NoopJournal{}
	if cfg.Journal.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(ctx, func() error {
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

		pj := journal.NewPostgresJournal(pg.DB)
		if err := pj.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("journal schema setup failed", zap.Error(err))
		}
		stageJournal = pj
		zapLog.Info("PostgreSQL journal connected successfully")
	}

	// --- Shared components ---
	stages := registry.Default(cfg.Queues, cfg.Agents)
	if err := stages.Validate(); err != nil {
		zapLog.Fatal("stage registry invalid", zap.Error(err))
	}

	broker := queue.NewRedisBroker(redis.Client, log,
		queue.WithMaxDeliveries(cfg.Queues.MaxDeliveries),
		queue.WithPollInterval(config.GetDuration(cfg.Queues.PollInterval)),
	)

	validator, err := validation.NewResponseValidator(cfg.Agents.RequiredFields)
	if err != nil {
		zapLog.Fatal("agent response schemas invalid", zap.Error(err))
	}
	agents := agent.NewRetrier(
		agent.NewClientFactory(cfg.Agents, validator, log),
		cfg.Agents.MaxAttempts,
		config.GetDuration(cfg.Agents.BackoffBase),
		log,
		agent.WithCooldown(config.GetDuration(cfg.Agents.Cooldown)),
		agent.WithObservability(obs),
	)

	g, gctx := errgroup.WithContext(ctx)
	receiveWait := config.GetDuration(cfg.Queues.ReceiveWait)

	startConsumer := func(taskType string, stage registry.Stage, queueName string, timeout time.Duration, handler queue.Handler) {
		if !config.IsWorkerEnabled(cfg, taskType) {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		wcfg := config.GetWorkerConfig(cfg, taskType)
		consumer := queue.NewConsumer(broker, queue.ConsumerConfig{
			Queue:       queueName,
			Stage:       string(stage),
			Concurrency: wcfg.MaxJobsActive,
			Timeout:     timeout,
			ReceiveWait: receiveWait,
		}, handler, obs, log)
		g.Go(func() error { return consumer.Run(gctx) })
		zapLog.Info("worker started",
			zap.String("taskType", taskType),
			zap.String("queue", queueName),
			zap.Int("concurrency", wcfg.MaxJobsActive),
		)
	}

	// --- Register Workers ---
	ingestHandler := feedingest.NewHandler(feedingest.LoadConfig(cfg), feedly.NewClient(cfg.Feedly, log), store, broker, stageJournal, log)

	enrichCfg := enrichevent.LoadConfig(cfg)
	startConsumer(enrichevent.TaskType, registry.StageEnrich, enrichCfg.InputQueue, enrichCfg.Timeout,
		enrichevent.NewHandler(enrichCfg, agents, store, broker, stageJournal, log))

	analyzeCfg := analyzeevent.LoadConfig(cfg)
	startConsumer(analyzeevent.TaskType, registry.StageAnalyze, analyzeCfg.InputQueue, analyzeCfg.Timeout,
		analyzeevent.NewHandler(analyzeCfg, agents, store, broker, stageJournal, log))

	notifyCfg := notifyopportunity.LoadConfig(cfg)
	if notifyCfg.EmailEnabled || notifyCfg.SNSEnabled {
		awsCfg, err := awsclient.LoadConfig(ctx, notifyCfg.AWSRegion)
		if err != nil {
			zapLog.Fatal("failed to load AWS config", zap.Error(err))
		}
		startConsumer(notifyopportunity.TaskType, registry.StageNotify, notifyCfg.InputQueue, notifyCfg.Timeout,
			notifyopportunity.NewHandler(notifyCfg, awsclient.NewSESClient(awsCfg), awsclient.NewSNSClient(awsCfg), stageJournal, log))
	} else {
		zapLog.Info("notifications disabled, opportunities stay queued", zap.String("queue", notifyCfg.InputQueue))
	}

	// --- HTTP Server ---
	server := api.NewServer(api.Deps{
		Feed:         ingestHandler,
		DeadLetters:  deadletters.NewManager(broker, log),
		Journal:      stageJournal,
		Queues:       stages,
		DefaultQueue: cfg.Queues.RawEvents,
		HealthFlags:  cfg.HealthFlags(),
		Pingers: map[string]api.Pinger{
			"redis": broker.Ping,
			"elasticsearch": func(ctx context.Context) error {
				return esClient.Ping()
			},
		},
	}, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.Router(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	g.Go(func() error {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// --- Graceful Shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, stopping workers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("pipeline stopped with error", zap.Error(err))
		os.Exit(1)
	}
	zapLog.Info("Feedly pipeline stopped gracefully")
}
