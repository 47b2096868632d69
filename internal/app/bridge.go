package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/settlement-bridge/internal/avstemming"
	jobmetrics "github.com/odyssey-erp/settlement-bridge/internal/jobs"
	"github.com/odyssey-erp/settlement-bridge/internal/leader"
	"github.com/odyssey-erp/settlement-bridge/internal/observability"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/cache"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/db"
	"github.com/odyssey-erp/settlement-bridge/internal/platform/queue"
)

// Bridge holds the connections and services shared by the API and worker
// processes.
type Bridge struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Queue      *queue.Client
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics
	Orders     *oppdrag.Service
	Avstemming *avstemming.Service
	Leader     *leader.Guard
}

// NewBridge connects to PostgreSQL, Redis and Pub/Sub and builds the services.
func NewBridge(ctx context.Context, cfg *Config, logger *slog.Logger, component string) (*Bridge, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "settlement-" + component})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	queueClient, err := queue.New(ctx, cfg.PubSubProjectID)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	jm := jobmetrics.NewMetrics(metrics.Registerer())

	orderRepo := oppdrag.NewRepository(pool)
	transport := oppdrag.NewTransport(queueClient, oppdrag.TransportConfig{
		RequestTopic: cfg.OppdragRequestTopic,
		ReplyTo:      cfg.OppdragReplyTopic,
		Timeout:      cfg.SendTimeout,
	}, logger)
	mapper := oppdrag.NewMapper(oppdrag.MapperConfig{Fagomraade: cfg.Fagomraade, Klassifisering: cfg.Klassifisering})
	orders := oppdrag.NewService(orderRepo, mapper, transport, oppdrag.NewKeyClock(time.Now), logger, jm)

	recon := avstemming.NewService(avstemming.NewRepository(pool), orderRepo, queueClient, avstemming.Config{
		Topic:     cfg.AvstemmingTopic,
		Epoch:     cfg.AvstemmingEpoch,
		SettleLag: cfg.AvstemmingSettleLag,
		Report: avstemming.ReportConfig{
			Fagomraade:        cfg.Fagomraade,
			DetailsPerMessage: cfg.AvstemmingDetailsPage,
		},
	}, logger, jm)

	guard := leader.NewGuard(redisClient, leader.Config{
		Key:        cfg.LeaderKey,
		TTL:        cfg.LeaderTTL,
		InstanceID: cfg.InstanceID,
	}, logger)

	return &Bridge{
		Pool:       pool,
		Redis:      redisClient,
		Queue:      queueClient,
		Metrics:    metrics,
		JobMetrics: jm,
		Orders:     orders,
		Avstemming: recon,
		Leader:     guard,
	}, nil
}

// Provision creates the topics and the kvittering subscription when missing.
func (b *Bridge) Provision(ctx context.Context, cfg *Config) error {
	for _, topic := range []string{cfg.OppdragRequestTopic, cfg.OppdragDeadLetterTopic, cfg.AvstemmingTopic} {
		if _, err := b.Queue.EnsureTopic(ctx, topic); err != nil {
			return err
		}
	}
	return b.Queue.EnsureSubscription(ctx, queue.SubscriptionSpec{
		Name:                cfg.OppdragReplySubscription,
		Topic:               cfg.OppdragReplyTopic,
		AckDeadline:         30 * time.Second,
		DeadLetterTopic:     cfg.OppdragDeadLetterTopic,
		MaxDeliveryAttempts: cfg.OppdragMaxDelivery,
		MinBackoff:          cfg.OppdragRetryMinBackoff,
		MaxBackoff:          cfg.OppdragRetryMaxBackoff,
	})
}

// Readiness returns the dependency checks served on /readyz.
func (b *Bridge) Readiness() map[string]Pinger {
	return map[string]Pinger{
		"postgres": PingFunc(b.Pool.Ping),
		"redis": PingFunc(func(ctx context.Context) error {
			return b.Redis.Ping(ctx).Err()
		}),
	}
}

// Close releases every connection. The leadership lease is released first.
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	if b.Leader != nil {
		if err := b.Leader.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release leader: %w", err))
		}
	}
	if b.Queue != nil {
		if err := b.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
	return errors.Join(errs...)
}
