// Package dbtest opens a migrated Postgres database for repository tests.
//
// Tests using it are skipped unless TEST_DATABASE_DSN is set. Every call
// truncates the schema, so run gated packages with -p 1.
package dbtest

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/migration"
)

const EnvDSN = "TEST_DATABASE_DSN"

// Open migrates the database behind TEST_DATABASE_DSN to the latest version
// and returns an empty pool on it.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}
	cfg := &config.DatabaseConfig{URL: dsn}

	migrator, err := migration.NewMigrator(cfg)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	manager, err := database.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	db := manager.DB()
	truncate := "TRUNCATE " + strings.Join(migration.EngineTables, ", ") + " RESTART IDENTITY CASCADE"
	require.NoError(t, db.Exec(truncate).Error)
	return db
}

// User inserts a plain account and returns its id.
func User(t *testing.T, db *gorm.DB, email string) uint {
	t.Helper()

	var id uint
	err := db.Raw("INSERT INTO users (email) VALUES (?) RETURNING id", email).Scan(&id).Error
	require.NoError(t, err)
	return id
}
