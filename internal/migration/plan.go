package migration

import (
	"fmt"

	"go.uber.org/zap"
)

// EngineTables are the tables the engine's migrations own. The board,
// post and comment tables belong to the board service.
var EngineTables = []string{
	"users",
	"device_linking_tokens",
	"verification_attempts",
	"bans",
	"rate_limit_rules",
	"rate_limit_tracker",
	"rate_limit_locks",
}

type Direction int

const (
	InSync Direction = iota
	Upgrade
	Downgrade
)

func (d Direction) String() string {
	switch d {
	case Upgrade:
		return "upgrade"
	case Downgrade:
		return "downgrade"
	default:
		return "in-sync"
	}
}

// Plan is the gap between the applied schema and the newest migration file.
type Plan struct {
	Dir     string
	Current int64
	Latest  int64
}

func (p Plan) Direction() Direction {
	switch {
	case p.Current < p.Latest:
		return Upgrade
	case p.Current > p.Latest:
		return Downgrade
	default:
		return InSync
	}
}

// Plan reads the applied version and the newest file under the migrations dir.
func (m *Migrator) Plan() (Plan, error) {
	dir, err := getMigrationsDir()
	if err != nil {
		return Plan{}, fmt.Errorf("locate migrations: %w", err)
	}
	current, err := m.GetCurrentVersion()
	if err != nil {
		return Plan{}, fmt.Errorf("read applied schema version: %w", err)
	}
	latest, err := m.GetLatestVersion()
	if err != nil {
		return Plan{}, fmt.Errorf("read newest migration in %s: %w", dir, err)
	}
	return Plan{Dir: dir, Current: current, Latest: latest}, nil
}

// Sync moves the schema to the newest migration, rolling back when the
// database is ahead of the shipped files.
func (m *Migrator) Sync(log *zap.Logger) (Plan, error) {
	plan, err := m.Plan()
	if err != nil {
		return plan, err
	}

	log.Info("engine schema",
		zap.String("migrations_dir", plan.Dir),
		zap.Strings("tables", EngineTables),
		zap.Int64("applied", plan.Current),
		zap.Int64("newest", plan.Latest),
		zap.Stringer("action", plan.Direction()))

	switch plan.Direction() {
	case Upgrade:
		if err := m.Up(); err != nil {
			return plan, err
		}
	case Downgrade:
		if err := m.DownTo(plan.Latest); err != nil {
			return plan, err
		}
	case InSync:
	}
	return plan, nil
}
