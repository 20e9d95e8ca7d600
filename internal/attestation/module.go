package attestation

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/ban"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/verification"
)

// NewModule returns the attestation module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig) (*Issuer, error) {
					return NewIssuer(&cfg.Attestation)
				},
			),
			fx.Annotate(
				func(
					cfg *config.AppConfig,
					log *zap.Logger,
					issuer *Issuer,
					orchestrator *verification.Orchestrator,
					attempts verification.Repository,
					accounts *account.Service,
					matcher *ban.Matcher,
					hasher *identity.Hasher,
					transactor database.Transactor,
				) *Service {
					return NewService(Dependencies{
						Config:       &cfg.Attestation,
						Log:          log,
						Issuer:       issuer,
						Orchestrator: orchestrator,
						Attempts:     attempts,
						Accounts:     accounts,
						Matcher:      matcher,
						Hasher:       hasher,
						Transactor:   transactor,
					})
				},
			),
		),
	)
}
