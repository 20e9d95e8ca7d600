package attestation

import (
	"time"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
)

const (
	LevelUpCooldown   = 23 * time.Hour
	FailureLockout    = 5 * time.Minute
	MaxLevelUpFailure = 3

	ReasonCooldown        = "You can only level up once every 23 hours."
	ReasonTooManyFailures = "Too many failed attempts. Please wait 5 minutes."
	ReasonMaxLevel        = "You are already at the maximum level."
)

// Status is whether a user may attempt a level-up right now.
type Status struct {
	CanAttempt bool
	Remaining  time.Duration
	Reason     string
	Level      int
	MaxLevel   int
}

// ComputeStatus is evaluated fresh on every query. Admins are never locked.
func ComputeStatus(user *account.User, maxLevel int, now time.Time) Status {
	status := Status{CanAttempt: true, Level: user.Level, MaxLevel: maxLevel}
	if user.Role.IsAdmin() {
		return status
	}

	if user.LastLevelUpAt != nil {
		if deadline := user.LastLevelUpAt.Add(LevelUpCooldown); now.Before(deadline) {
			return locked(status, deadline.Sub(now), ReasonCooldown)
		}
	}
	if user.LevelUpFailureCount >= MaxLevelUpFailure && user.LastLevelUpAttemptAt != nil {
		if deadline := user.LastLevelUpAttemptAt.Add(FailureLockout); now.Before(deadline) {
			return locked(status, deadline.Sub(now), ReasonTooManyFailures)
		}
	}
	return status
}

func locked(s Status, remaining time.Duration, reason string) Status {
	s.CanAttempt = false
	s.Remaining = remaining
	s.Reason = reason
	return s
}

// Err converts a locked status into the rejection returned to callers.
func (s Status) Err() error {
	if s.CanAttempt {
		return nil
	}
	return apperr.RateLimited(s.Reason, s.Remaining)
}
