package database

import (
	"context"

	"gorm.io/gorm"
)

// NoopTransactor calls fn with a nil tx. Repositories treat nil as "no
// transaction", which suits in-memory fakes in tests.
type NoopTransactor struct{}

func (NoopTransactor) Transaction(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
