package repositories

import (
	"context"

	"rillnet/internal/core/ports"
	"rillnet/internal/infrastructure/repositories/memory"
	redisrepo "rillnet/internal/infrastructure/repositories/redis"
	"rillnet/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory channel directory",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis channel directory")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory channel directory")
	}

	return factory, nil
}

// CreateChannelDirectory creates the channel directory repository (Redis
// or memory with fallback).
func (f *RepositoryFactory) CreateChannelDirectory() ports.ChannelDirectory {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisChannelDirectory(f.redisClient)
	}
	return memory.NewMemoryChannelDirectory()
}

// RedisClient returns the shared Redis client backing this factory's
// repositories, or nil when Redis is disabled or unreachable. Infrastructure
// that wants to piggyback on the same connection (the cross-instance event
// bus) uses this rather than opening a second client.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

// Close closes the Redis connection if one was opened.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
