package ratelimit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/metrics"
)

// NewModule returns the rate limit module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(log *zap.Logger, repo Repository, users account.Repository, collector *metrics.Collector) *Limiter {
					return NewLimiter(log, repo, users, collector)
				},
			),
			fx.Annotate(
				func(log *zap.Logger, repo Repository, transactor database.Transactor) *Admin {
					return NewAdmin(log, repo, transactor)
				},
			),
			fx.Annotate(
				func(log *zap.Logger, repo Repository, collector *metrics.Collector) *Sweeper {
					return NewSweeper(log, repo, collector)
				},
			),
		),
	)
}
