package identity

import (
	"go.uber.org/fx"

	"github.com/elskow/boardguard/internal/config"
)

func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig) (*Hasher, error) {
					return NewHasher(&cfg.Identity)
				},
			),
		),
	)
}
