package ban

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/metrics"
)

type Matcher struct {
	log        *zap.Logger
	repository Repository
	metrics    *metrics.Collector
	now        func() time.Time
}

func NewMatcher(log *zap.Logger, repo Repository, collector *metrics.Collector) *Matcher {
	return &Matcher{
		log:        log,
		repository: repo,
		metrics:    collector,
		now:        time.Now,
	}
}

// IsBanned probes all non-empty hashes in one lookup.
func (m *Matcher) IsBanned(ctx context.Context, tx *gorm.DB, target Target, hashes Hashes) (bool, error) {
	keys := hashes.Keys()
	if len(keys) == 0 {
		return false, nil
	}

	bans, err := m.repository.WithTx(tx).FindActive(ctx, keys, m.now())
	if err != nil {
		return false, apperr.Internal("ban lookup", err)
	}
	for i := range bans {
		if bans[i].Applies(target) {
			m.log.Info("ban matched",
				zap.Uint("ban_id", bans[i].ID),
				zap.String("scope", string(bans[i].Scope())))
			m.metrics.BanMatch()
			return true, nil
		}
	}
	return false, nil
}

// Check returns a message-less Banned error when any hash is banned for target.
func (m *Matcher) Check(ctx context.Context, tx *gorm.DB, target Target, hashes Hashes) error {
	banned, err := m.IsBanned(ctx, tx, target, hashes)
	if err != nil {
		return err
	}
	if banned {
		return apperr.Banned()
	}
	return nil
}
