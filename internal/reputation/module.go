package reputation

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/metrics"
)

// NewModule returns the reputation module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			newCache,
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, collector *metrics.Collector, hasher *identity.Hasher, cache Cache) *Client {
					return NewClient(&cfg.Reputation, log, collector, hasher, cache)
				},
				fx.As(new(Checker)),
			),
		),
	)
}

// newCache returns a Redis-backed cache when an address is configured and
// nil otherwise.
func newCache(lifecycle fx.Lifecycle, cfg *config.AppConfig, log *zap.Logger) Cache {
	if cfg.Redis.Addr == "" {
		log.Info("reputation cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, reputation lookups will not be cached", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisCache(client)
}
