package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/config"
)

// Module provides the migrator and syncs the engine schema on start.
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig) (*Migrator, error) {
					return NewMigrator(&cfg.Database)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, migrator *Migrator, log *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			_, err := migrator.Sync(log.Named("migration"))
			return err
		},
		OnStop: func(context.Context) error {
			return migrator.Close()
		},
	})
}
