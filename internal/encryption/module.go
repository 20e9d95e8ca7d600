package encryption

import (
	"go.uber.org/fx"

	"github.com/elskow/boardguard/internal/config"
)

func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig) (*Box, error) {
					return NewBox(&cfg.Encryption)
				},
				fx.As(new(Encryptor)),
			),
		),
	)
}
