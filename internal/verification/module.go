package verification

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/captcha"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/fingerprint"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/metrics"
	"github.com/elskow/boardguard/internal/reputation"
)

// NewModule returns the verification module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, repo Repository) *fingerprint.Deduplicator {
					return fingerprint.NewDeduplicator(&cfg.Fingerprint, log, repo)
				},
			),
			fx.Annotate(
				func(
					cfg *config.AppConfig,
					log *zap.Logger,
					repo Repository,
					users account.Repository,
					transactor database.Transactor,
					verifier captcha.Verifier,
					dedup *fingerprint.Deduplicator,
					checker reputation.Checker,
					hasher *identity.Hasher,
					collector *metrics.Collector,
				) *Orchestrator {
					return NewOrchestrator(Dependencies{
						Config:     &cfg.Reputation,
						Log:        log,
						Attempts:   repo,
						Users:      users,
						Transactor: transactor,
						Captcha:    verifier,
						Dedup:      dedup,
						Reputation: checker,
						Hasher:     hasher,
						Metrics:    collector,
					})
				},
			),
		),
	)
}
