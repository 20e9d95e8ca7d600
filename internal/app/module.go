package app

import (
	"context"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/attestation"
	"github.com/elskow/boardguard/internal/ban"
	"github.com/elskow/boardguard/internal/captcha"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/encryption"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/metrics"
	"github.com/elskow/boardguard/internal/migration"
	"github.com/elskow/boardguard/internal/ratelimit"
	"github.com/elskow/boardguard/internal/reputation"
	"github.com/elskow/boardguard/internal/scheduler"
	"github.com/elskow/boardguard/internal/server"
	"github.com/elskow/boardguard/internal/verification"
)

const SweepJobName = "ratelimit-sweep"

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Storage
		database.Module(),
		migration.Module(),

		// Engine
		Engine(),

		// Background jobs
		scheduler.NewModule(),
		fx.Invoke(registerJobs),

		// Server
		fx.Provide(server.NewServer),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

// Engine provides every verification component. It expects a logger, the
// configuration and the database module to be supplied by the caller.
func Engine() fx.Option {
	return fx.Options(
		metrics.NewModule(),
		encryption.NewModule(),
		identity.NewModule(),
		account.NewModule(),
		ban.NewModule(),
		ratelimit.NewModule(),
		captcha.NewModule(),
		reputation.NewModule(),
		verification.NewModule(),
		attestation.NewModule(),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return server.NewLogger(env)
}

// RegisterJobs adds the periodic maintenance jobs to s.
func RegisterJobs(s *scheduler.Scheduler, sweeper *ratelimit.Sweeper, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	return s.Every(SweepJobName, interval, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	})
}

func registerJobs(s *scheduler.Scheduler, sweeper *ratelimit.Sweeper, cfg *config.AppConfig) error {
	return RegisterJobs(s, sweeper, cfg.RateLimit.SweepInterval)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("failed to start server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			srv.Stop(ctx)
			return nil
		},
	})
}
