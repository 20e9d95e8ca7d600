package fingerprint

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
)

const (
	ReasonFullMatch = "Fingerprint (3-hash) has been used recently."
	ReasonPairMatch = "Fingerprint (2-hash) has been used recently."
)

// Reuse reports which windows contain a prior attempt with matching hashes.
type Reuse struct {
	Full bool
	Pair bool
}

// History answers both window checks with a single query.
type History interface {
	RecentReuse(ctx context.Context, tx *gorm.DB, h Hashes, fullSince, pairSince time.Time) (Reuse, error)
}

type Deduplicator struct {
	config  *config.FingerprintConfig
	log     *zap.Logger
	history History
	now     func() time.Time
}

func NewDeduplicator(cfg *config.FingerprintConfig, log *zap.Logger, history History) *Deduplicator {
	return &Deduplicator{
		config:  cfg,
		log:     log,
		history: history,
		now:     time.Now,
	}
}

// Check returns a rate-limit rejection when the hashes were seen inside
// their window. Storage failures are returned as internal errors.
func (d *Deduplicator) Check(ctx context.Context, tx *gorm.DB, h Hashes, bypass bool) error {
	if bypass {
		return nil
	}
	if d.config.DisableDedup {
		d.log.Warn("fingerprint dedup disabled by configuration")
		return nil
	}

	now := d.now()
	reuse, err := d.history.RecentReuse(ctx, tx, h, now.Add(-d.config.FullWindow), now.Add(-d.config.PairWindow))
	if err != nil {
		return apperr.Internal("fingerprint history lookup", err)
	}

	switch {
	case reuse.Full:
		return apperr.RateLimited(ReasonFullMatch, d.config.FullWindow)
	case reuse.Pair:
		return apperr.RateLimited(ReasonPairMatch, d.config.PairWindow)
	}
	return nil
}
