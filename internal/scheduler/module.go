package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewModule returns the scheduler module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(New),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(lifecycle fx.Lifecycle, s *Scheduler, logger *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping scheduled jobs")
			return s.Stop(ctx)
		},
	})
}
