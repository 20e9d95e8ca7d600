package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/app"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/metrics"
	"github.com/elskow/boardguard/internal/migration"
	"github.com/elskow/boardguard/internal/ratelimit"
	"github.com/elskow/boardguard/internal/scheduler"
	"github.com/elskow/boardguard/internal/server"
)

type CLI struct {
	Up      Up      `kong:"cmd,default='1',help='Apply all pending migrations.'"`
	Down    Down    `kong:"cmd,help='Roll back the latest migration.'"`
	DownTo  DownTo  `kong:"cmd,name='down-to',help='Roll back to a specific version.'"`
	Status  Status  `kong:"cmd,help='Print migration status.'"`
	Version Version `kong:"cmd,help='Print the current schema version.'"`
	Reset   Reset   `kong:"cmd,help='Roll back the latest migration and re-apply all.'"`
	Sweep   Sweep   `kong:"cmd,help='Delete stale rate limit events and expired locks.'"`
	Unlock  Unlock  `kong:"cmd,help='Remove a rate limit lock by target key.'"`

	Timeout time.Duration `kong:"default='1m',help='Deadline for maintenance commands.'"`
}

func withMigrator(fn func(m *migration.Migrator) error) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	m, err := migration.NewMigrator(&cfg.Database)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

type Up struct{}

func (Up) Run() error {
	return withMigrator(func(m *migration.Migrator) error {
		if err := m.Up(); err != nil {
			return err
		}
		fmt.Println("Successfully ran migrations")
		return nil
	})
}

type Down struct{}

func (Down) Run() error {
	return withMigrator(func(m *migration.Migrator) error {
		if err := m.Down(); err != nil {
			return err
		}
		fmt.Println("Successfully rolled back migrations")
		return nil
	})
}

type DownTo struct {
	Target int64 `kong:"arg,help='Version to stop at.'"`
}

func (d DownTo) Run() error {
	return withMigrator(func(m *migration.Migrator) error {
		if err := m.DownTo(d.Target); err != nil {
			return err
		}
		fmt.Printf("Migrated down to version %d\n", d.Target)
		return nil
	})
}

type Status struct{}

func (Status) Run() error {
	return withMigrator(func(m *migration.Migrator) error {
		return m.Status()
	})
}

type Version struct{}

func (Version) Run() error {
	return withMigrator(func(m *migration.Migrator) error {
		plan, err := m.Plan()
		if err != nil {
			return err
		}
		fmt.Printf("Schema version %d, newest %d in %s (%s)\n", plan.Current, plan.Latest, plan.Dir, plan.Direction())
		return nil
	})
}

type Reset struct{}

func (Reset) Run() error {
	return withMigrator(func(m *migration.Migrator) error {
		if err := m.Reset(); err != nil {
			return err
		}
		fmt.Println("Successfully reset migrations")
		return nil
	})
}

// maintenance opens the database and hands fn a rate limit repository.
func maintenance(cli *CLI, fn func(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, repo ratelimit.Repository, tx database.Transactor) error) error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := server.NewLogger(server.EnvProduction)
	if err != nil {
		return err
	}
	defer log.Sync()

	manager, err := database.NewManager(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()
	return fn(ctx, cfg, log, ratelimit.NewRepository(manager.DB()), manager)
}

type Sweep struct{}

func (Sweep) Run(cli *CLI) error {
	return maintenance(cli, func(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, repo ratelimit.Repository, _ database.Transactor) error {
		s := scheduler.New(log)
		sweeper := ratelimit.NewSweeper(log, repo, metrics.NewCollector())
		if err := app.RegisterJobs(s, sweeper, cfg.RateLimit.SweepInterval); err != nil {
			return err
		}
		return s.RunOnce(ctx)
	})
}

type Unlock struct {
	TargetKey string `kong:"arg,name='target-key',help='Lock target key, for example ip:<hash>.'"`
}

func (u Unlock) Run(cli *CLI) error {
	return maintenance(cli, func(ctx context.Context, _ *config.AppConfig, log *zap.Logger, repo ratelimit.Repository, tx database.Transactor) error {
		admin := ratelimit.NewAdmin(log, repo, tx)
		if err := admin.DeleteLock(ctx, account.RoleAdmin, u.TargetKey); err != nil {
			return err
		}
		fmt.Printf("Removed lock %s\n", u.TargetKey)
		return nil
	})
}
