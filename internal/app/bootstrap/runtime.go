package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-queue/internal/audit"
	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/sequence"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// ErrDatabaseRequired is returned when a postgres backend is selected
// without DATABASE_URL.
var ErrDatabaseRequired = errors.New("bootstrap: DATABASE_URL is required")

// ErrRedisRequired is returned when a redis backend is selected without a
// reachable REDIS_ADDR.
var ErrRedisRequired = errors.New("bootstrap: REDIS_ADDR is required")

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// NeedsPostgres reports whether any configured component uses the database.
func NeedsPostgres(cfg *appconfig.Config) bool {
	return cfg.QueueStore == appconfig.BackendPostgres ||
		cfg.SequenceBackend == appconfig.BackendPostgres ||
		cfg.AuditEnabled
}

// BuildPostgresPool opens and pings a pool, or returns nil when no component needs it.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if !NeedsPostgres(cfg) {
		return nil, nil
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, ErrDatabaseRequired
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// BuildStore selects the token store.
func BuildStore(cfg *appconfig.Config, pool *pgxpool.Pool) (queue.Store, error) {
	switch cfg.QueueStore {
	case "", appconfig.BackendMemory:
		return queue.NewInMemoryStore(), nil
	case appconfig.BackendPostgres:
		if pool == nil {
			return nil, ErrDatabaseRequired
		}
		return queue.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown QUEUE_STORE %q", cfg.QueueStore)
	}
}

// BuildCounter selects the daily token counter.
func BuildCounter(cfg *appconfig.Config, redisClient *redis.Client, pool *pgxpool.Pool) (sequence.Counter, error) {
	switch cfg.SequenceBackend {
	case "", appconfig.BackendMemory:
		return sequence.NewMemoryCounter(), nil
	case appconfig.BackendRedis:
		if redisClient == nil {
			return nil, ErrRedisRequired
		}
		return sequence.NewRedisCounter(redisClient), nil
	case appconfig.BackendPostgres:
		if pool == nil {
			return nil, ErrDatabaseRequired
		}
		return sequence.NewPostgresCounter(pool), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown SEQUENCE_BACKEND %q", cfg.SequenceBackend)
	}
}

// BuildAuditLog returns the transition log when auditing is enabled.
func BuildAuditLog(cfg *appconfig.Config, pool *pgxpool.Pool) *audit.TransitionLog {
	if !cfg.AuditEnabled || pool == nil {
		return nil
	}
	return audit.NewTransitionLog(stdlib.OpenDBFromPool(pool))
}
