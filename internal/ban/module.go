package ban

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/encryption"
	"github.com/elskow/boardguard/internal/metrics"
)

// NewModule returns the ban module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(db *gorm.DB) ContentDirectory {
					return NewDirectory(db)
				},
			),
			fx.Annotate(
				func(log *zap.Logger, repo Repository, collector *metrics.Collector) *Matcher {
					return NewMatcher(log, repo, collector)
				},
			),
			fx.Annotate(
				func(log *zap.Logger, repo Repository, dir ContentDirectory, enc encryption.Encryptor) *Service {
					return NewService(log, repo, dir, enc)
				},
			),
		),
	)
}
