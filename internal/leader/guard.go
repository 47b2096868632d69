// Package leader elects one instance of the fleet to run singleton batch work.
package leader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Guard holds a Redis lease. The lease is refreshed on every check while held
// and lapses after TTL when the holder disappears.
type Guard struct {
	locker   *redislock.Client
	key      string
	ttl      time.Duration
	instance string
	logger   *slog.Logger

	mu   sync.Mutex
	held *redislock.Lock
}

// Config names the lease.
type Config struct {
	Key        string
	TTL        time.Duration
	InstanceID string
}

// NewGuard constructs a guard over client.
func NewGuard(client redis.UniversalClient, cfg Config, logger *slog.Logger) *Guard {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &Guard{
		locker:   redislock.New(client),
		key:      cfg.Key,
		ttl:      cfg.TTL,
		instance: cfg.InstanceID,
		logger:   logger,
	}
}

// IsLeader reports whether this instance holds the lease, taking it when
// free. Redis errors report false.
func (g *Guard) IsLeader(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held != nil {
		err := g.held.Refresh(ctx, g.ttl, nil)
		if err == nil {
			return true
		}
		if !errors.Is(err, redislock.ErrNotObtained) {
			g.log().Warn("leader lease refresh failed", slog.Any("error", err))
			return false
		}
		g.log().Warn("leader lease lost", slog.String("key", g.key))
		g.held = nil
	}

	lock, err := g.locker.Obtain(ctx, g.key, g.ttl, &redislock.Options{Metadata: g.instance})
	switch {
	case err == nil:
		g.held = lock
		g.log().Info("leader lease obtained", slog.String("key", g.key), slog.Duration("ttl", g.ttl))
		return true
	case errors.Is(err, redislock.ErrNotObtained):
		return false
	default:
		g.log().Warn("leader lease obtain failed", slog.Any("error", err))
		return false
	}
}

// Release gives up the lease if held.
func (g *Guard) Release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		return nil
	}
	err := g.held.Release(ctx)
	g.held = nil
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

func (g *Guard) log() *slog.Logger {
	if g.logger != nil {
		return g.logger.With(slog.String("instance", g.instance))
	}
	return slog.Default().With(slog.String("component", "leader"), slog.String("instance", g.instance))
}
