package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/metrics"
)

const ReasonLimited = "You are posting too frequently. Please wait before trying again."

// Limiter enforces the configured rules for write actions. Every call runs
// inside the caller's transaction so a rejection rolls back the action.
type Limiter struct {
	log        *zap.Logger
	repository Repository
	users      account.Repository
	metrics    *metrics.Collector
	now        func() time.Time
}

func NewLimiter(log *zap.Logger, repo Repository, users account.Repository, collector *metrics.Collector) *Limiter {
	return &Limiter{
		log:        log,
		repository: repo,
		users:      users,
		metrics:    collector,
		now:        time.Now,
	}
}

// CheckAndTrack rejects the action when any key of the subject is locked or
// when the action would reach the threshold of an enabled rule for action.
// Otherwise it records one tracker event per rule.
func (l *Limiter) CheckAndTrack(ctx context.Context, tx *gorm.DB, subject Subject, action Action) error {
	user, err := l.users.WithTx(tx).GetUser(ctx, subject.UserID)
	if errors.Is(err, account.ErrUserNotFound) {
		return apperr.Internal("user not found during rate limit check", err)
	}
	if err != nil {
		return apperr.Internal("load user for rate limit check", err)
	}
	if user.Role.IsAdmin() && user.IsRateLimitExempt {
		l.log.Debug("skipping rate limit for exempt admin", zap.Uint("user_id", user.ID))
		return nil
	}

	repo := l.repository.WithTx(tx)
	now := l.now()

	lock, err := repo.ActiveLock(ctx, subject.Keys(), now)
	if err != nil {
		return apperr.Internal("rate limit lock lookup", err)
	}
	if lock != nil {
		l.metrics.RateLimitRejection(string(action), metrics.SourceLock)
		return apperr.RateLimited(ReasonLimited, lock.ExpiresAt.Sub(now))
	}

	rules, err := repo.EnabledRules(ctx, action)
	if err != nil {
		return apperr.Internal("load rate limit rules", err)
	}
	if len(rules) == 0 {
		return nil
	}

	events := make([]Event, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		key := subject.Key(rule.Target)

		count, err := repo.CountEvents(ctx, rule.ID, key, now.Add(-rule.Window()))
		if err != nil {
			return apperr.Internal("count rate limit events", err)
		}

		// The action that would be the threshold-th inside the window is refused.
		if count+1 >= int64(rule.Threshold) {
			// The lock is written on the pool, not tx: the rejection rolls tx
			// back and the lock has to outlive it.
			lock := &Lock{TargetKey: key, RuleID: rule.ID, ExpiresAt: now.Add(rule.Lockout()), CreatedAt: now}
			if err := l.repository.UpsertLock(ctx, lock); err != nil {
				return apperr.Internal("create rate limit lock", err)
			}
			l.log.Warn("rate limit triggered",
				zap.Uint("rule_id", rule.ID),
				zap.String("rule", rule.Name),
				zap.String("target_key", key),
				zap.Time("locked_until", lock.ExpiresAt))
			l.metrics.RateLimitRejection(string(action), metrics.SourceRule)
			return apperr.RateLimited(ReasonLimited, rule.Lockout())
		}

		events = append(events, Event{RuleID: rule.ID, TargetKey: key, CreatedAt: now})
	}

	if err := repo.InsertEvents(ctx, events); err != nil {
		return apperr.Internal("track rate limit events", err)
	}
	return nil
}
