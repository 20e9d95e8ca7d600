package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/metrics"
)

// SweepResult counts the rows removed by one sweep.
type SweepResult struct {
	Events int64
	Locks  int64
}

// Sweeper prunes tracker rows past twice the longest rule window and
// locks that have expired. It only issues timestamp-bounded deletes so it
// can run alongside live traffic.
type Sweeper struct {
	log        *zap.Logger
	repository Repository
	metrics    *metrics.Collector
	now        func() time.Time
}

func NewSweeper(log *zap.Logger, repo Repository, collector *metrics.Collector) *Sweeper {
	return &Sweeper{
		log:        log,
		repository: repo,
		metrics:    collector,
		now:        time.Now,
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	maxWindow, err := s.repository.MaxTimeFrame(ctx)
	if err != nil {
		return result, err
	}

	now := s.now()
	cutoff := now.Add(-2 * time.Duration(maxWindow) * time.Second)
	if result.Events, err = s.repository.DeleteEventsBefore(ctx, cutoff); err != nil {
		return result, err
	}
	if result.Locks, err = s.repository.DeleteExpiredLocks(ctx, now); err != nil {
		return result, err
	}

	s.metrics.SweepDeleted("rate_limit_tracker", result.Events)
	s.metrics.SweepDeleted("rate_limit_locks", result.Locks)
	if result.Events > 0 || result.Locks > 0 {
		s.log.Info("rate limit sweep finished",
			zap.Int64("events_deleted", result.Events),
			zap.Int64("locks_deleted", result.Locks),
			zap.Time("event_cutoff", cutoff))
	}
	return result, nil
}
