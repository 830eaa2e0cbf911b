package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/embedpay/gateway/internal/config"
	"github.com/embedpay/gateway/internal/delivery"
	"github.com/embedpay/gateway/internal/lock"
	"github.com/embedpay/gateway/internal/obs"
	"github.com/embedpay/gateway/internal/processor"
	"github.com/embedpay/gateway/internal/queue"
	"github.com/embedpay/gateway/internal/resilience"
	"github.com/embedpay/gateway/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(nil)
	queue.MustRegisterMetrics(nil)
	resilience.MustRegisterMetrics(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	st := store.New(pool)
	enqueuer := queue.Enqueuer{R: redisClient, Prefix: cfg.QueueRedisPrefix}
	publisher := &delivery.Publisher{
		Store:   st,
		Queue:   enqueuer,
		Enabled: cfg.WebhookDeliveryEnabled,
		Logger:  logger,
	}

	paymentProc := &processor.PaymentProcessor{
		Store:     st,
		Publisher: publisher,
		Outcome:   processor.DefaultOutcome(),
		Logger:    logger,
	}
	refundProc := &processor.RefundProcessor{
		Store:     st,
		Publisher: publisher,
		Logger:    logger,
	}

	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget("merchant-webhooks").
		WithLogger(logger)
	dispatcher := &delivery.Dispatcher{
		Store: st,
		Queue: enqueuer,
		Client: resilience.HTTPClient{
			Client:      delivery.HTTPClient(cfg.WebhookRequestTimeout),
			Breaker:     breaker,
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.RetryMaxAttempts,
			Jitter:      cfg.RetryJitterPercent,
			Timeout:     cfg.OutboundTimeout,
		},
		Locker:      &lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:     cfg.LockTTL,
		Replay:      delivery.RedisReplay{R: redisClient, Prefix: cfg.QueueRedisPrefix},
		ReplayTTL:   cfg.WebhookReplayTTL,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Logger:      logger,
	}

	workers := []queue.Worker{
		{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			Kind:        queue.KindProcessPayment,
			Concurrency: cfg.EventWorkerConcurrency,
			Handler:     paymentProc.HandleTask,
			RetryBase:   cfg.RetryBase,
			RetryJitter: cfg.RetryJitterPercent,
		},
		{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			Kind:        queue.KindProcessRefund,
			Concurrency: cfg.EventWorkerConcurrency,
			Handler:     refundProc.HandleTask,
			RetryBase:   cfg.RetryBase,
			RetryJitter: cfg.RetryJitterPercent,
		},
		{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			Kind:        queue.KindDeliverWebhook,
			Concurrency: cfg.EventWorkerConcurrency,
			Handler:     dispatcher.HandleTask,
			RetryBase:   cfg.RetryBase,
			RetryJitter: cfg.RetryJitterPercent,
		},
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w queue.Worker) {
			defer wg.Done()
			logger.Info().Str("kind", w.Kind).Msg("worker starting")
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("kind", w.Kind).Msg("worker stopped")
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		purgeExpiredKeys(ctx, st, logger)
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	wg.Wait()
	logger.Info().Msg("worker stopped")
}

// purgeExpiredKeys sweeps stale idempotency records so replays stay bounded
// to their TTL even when traffic never touches the expired rows.
func purgeExpiredKeys(ctx context.Context, st *store.Store, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeExpiredIdempotencyKeys(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				logger.Info().Int64("purged", n).Msg("idempotency keys expired")
			}
		}
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
