package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/carebridge/dispatch/internal/api"
	"github.com/carebridge/dispatch/internal/config"
	"github.com/carebridge/dispatch/internal/ingest"
	"github.com/carebridge/dispatch/internal/notify"
	"github.com/carebridge/dispatch/internal/publisher"
	"github.com/carebridge/dispatch/internal/queue"
	"github.com/carebridge/dispatch/internal/ratelimit"
	"github.com/carebridge/dispatch/internal/reconcile"
	"github.com/carebridge/dispatch/internal/store"
	"github.com/carebridge/dispatch/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	webhookQ := queue.New(redisClient, queue.WebhookQueue)
	pushQ := queue.New(redisClient, queue.PushQueue)

	pub := publisher.New(pgStore, pgStore, webhookQ, pushQ, logger)

	retryPolicy := worker.RetryPolicy{
		MaxAttempts: cfg.MaxDeliveryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	// Dispatchers are joined on shutdown before the pools close their job
	// channels, so a poll can never submit into a closed channel.
	var dispatchers sync.WaitGroup

	// Webhook pipeline.
	webhookSender := worker.NewWebhookSender(cfg.DeliveryTimeout).
		WithBreaker(worker.NewEndpointBreaker(redisClient, logger))
	webhookProcessor := worker.NewProcessor(pgStore, webhookQ, webhookSender, retryPolicy, logger)
	webhookPool := worker.NewPool(cfg.WebhookWorkers, webhookProcessor, logger)
	webhookPool.Start(ctx)
	dispatchers.Add(1)
	go func() {
		defer dispatchers.Done()
		worker.NewDispatcher(webhookQ, webhookPool, logger).Start(ctx)
	}()

	// Push pipeline. Without FCM credentials the log sink stands in so the
	// pipeline stays exercisable in development.
	var sink notify.Sink
	if cfg.FCMCredentialsFile != "" {
		sink, err = notify.NewFCMSink(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			logger.Error("failed to initialize FCM", "error", err)
			os.Exit(1)
		}
		logger.Info("FCM sink initialized")
	} else {
		sink = notify.NewLogSink(logger)
		logger.Warn("FCM_CREDENTIALS_FILE not set, push deliveries go to the log sink")
	}
	pushProcessor := worker.NewProcessor(pgStore, pushQ,
		worker.NewPushSender(sink, cfg.DeliveryTimeout), retryPolicy, logger)
	pushPool := worker.NewPool(cfg.PushWorkers, pushProcessor, logger)
	pushPool.Start(ctx)
	dispatchers.Add(1)
	go func() {
		defer dispatchers.Done()
		worker.NewDispatcher(pushQ, pushPool, logger).Start(ctx)
	}()

	// Optional Kafka ingestion from upstream domain services.
	var consumer *ingest.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		consumer = ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, pub, 10, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("kafka consumer stopped", "error", err)
			}
		}()
		defer consumer.Close()
	}

	// Sweep records whose queue message was lost. The stale horizon sits
	// past the longest scheduled backoff so live retries are never swept.
	reconciler := reconcile.New(pgStore, webhookQ, pushQ, retryPolicy,
		cfg.RetryMaxDelay+cfg.ReconcileInterval, logger)
	if err := reconciler.Start(ctx, cfg.ReconcileInterval); err != nil {
		logger.Error("failed to start reconciler", "error", err)
		os.Exit(1)
	}
	defer reconciler.Stop()

	limiter := ratelimit.NewLimiter(redisClient, logger)
	otpLimiter := ratelimit.NewOTPLimiter(redisClient, logger, cfg.OTPLimit, cfg.OTPWindow)

	policies := ratelimit.DefaultPolicies()
	for role, rl := range cfg.RateLimits {
		pol := policies[role]
		if rl.Capacity > 0 {
			pol.Capacity = rl.Capacity
		}
		if rl.RefillRate > 0 {
			pol.RefillRate = rl.RefillRate
		}
		policies[role] = pol
	}

	router := api.NewRouter(api.Deps{
		Store:      pgStore,
		Publisher:  pub,
		WebhookQ:   webhookQ,
		PushQ:      pushQ,
		Limiter:    limiter,
		Policies:   policies,
		OTPLimiter: otpLimiter,
		OTPNotify:  &api.LogOTPNotifier{Logger: logger},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop the dispatchers first: only once they have returned is it safe
	// to close the pool job channels and drain in-flight deliveries.
	cancel()
	dispatchers.Wait()
	webhookPool.Stop()
	pushPool.Stop()

	logger.Info("server stopped")
}
