package ratelimit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRuleNotFound = errors.New("rate limit rule not found")
	ErrLockNotFound = errors.New("rate limit lock not found")
)

// defaultRetentionSeconds stands in for the longest rule window when no rules exist.
const defaultRetentionSeconds = 3600

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// ActiveLock returns the unexpired lock on any of keys that expires last,
	// or nil when none is held.
	ActiveLock(ctx context.Context, keys []string, at time.Time) (*Lock, error)
	EnabledRules(ctx context.Context, action Action) ([]Rule, error)
	CountEvents(ctx context.Context, ruleID uint, key string, since time.Time) (int64, error)
	// UpsertLock inserts the lock or refreshes the expiry of the one already
	// held on the same target key.
	UpsertLock(ctx context.Context, lock *Lock) error
	InsertEvents(ctx context.Context, events []Event) error

	CreateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, id uint) (*Rule, error)
	ListRules(ctx context.Context) ([]Rule, error)
	UpdateRule(ctx context.Context, rule *Rule) error
	ToggleRule(ctx context.Context, id uint, at time.Time) (*Rule, error)
	// DeleteRule removes the rule and every lock it created.
	DeleteRule(ctx context.Context, id uint) error

	ListLocks(ctx context.Context, at time.Time) ([]LockInfo, error)
	DeleteLock(ctx context.Context, key string) error

	// MaxTimeFrame returns the longest window of any rule in seconds.
	MaxTimeFrame(ctx context.Context) (int, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredLocks(ctx context.Context, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ActiveLock(ctx context.Context, keys []string, at time.Time) (*Lock, error) {
	var locks []Lock
	err := r.db.WithContext(ctx).
		Where("target_key IN ? AND expires_at > ?", keys, at).
		Order("expires_at DESC").
		Limit(1).
		Find(&locks).Error
	if err != nil || len(locks) == 0 {
		return nil, err
	}
	return &locks[0], nil
}

func (r *repository) EnabledRules(ctx context.Context, action Action) ([]Rule, error) {
	var rules []Rule
	err := r.db.WithContext(ctx).
		Where("is_enabled AND action_type = ?", action).
		Order("id").
		Find(&rules).Error
	return rules, err
}

func (r *repository) CountEvents(ctx context.Context, ruleID uint, key string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Event{}).
		Where("rule_id = ? AND target_key = ? AND created_at > ?", ruleID, key, since).
		Count(&count).Error
	return count, err
}

func (r *repository) UpsertLock(ctx context.Context, lock *Lock) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "target_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).
		Create(lock).Error
}

func (r *repository) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&events).Error
}

func (r *repository) CreateRule(ctx context.Context, rule *Rule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) GetRule(ctx context.Context, id uint) (*Rule, error) {
	var rule Rule
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (r *repository) ListRules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rules).Error
	return rules, err
}

func (r *repository) UpdateRule(ctx context.Context, rule *Rule) error {
	res := r.db.WithContext(ctx).Model(&Rule{}).Where("id = ?", rule.ID).Updates(map[string]any{
		"name":               rule.Name,
		"target":             rule.Target,
		"action_type":        rule.ActionType,
		"threshold":          rule.Threshold,
		"time_frame_seconds": rule.TimeFrameSeconds,
		"lockout_seconds":    rule.LockoutSeconds,
		"is_enabled":         rule.IsEnabled,
		"updated_at":         rule.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *repository) ToggleRule(ctx context.Context, id uint, at time.Time) (*Rule, error) {
	var rule Rule
	res := r.db.WithContext(ctx).Model(&rule).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_enabled": gorm.Expr("NOT is_enabled"),
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRuleNotFound
	}
	return &rule, nil
}

func (r *repository) DeleteRule(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("rule_id = ?", id).Delete(&Lock{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&Rule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *repository) ListLocks(ctx context.Context, at time.Time) ([]LockInfo, error) {
	var locks []LockInfo
	err := r.db.WithContext(ctx).
		Table("rate_limit_locks AS l").
		Select("l.target_key, l.expires_at, l.rule_id, r.name AS rule_name").
		Joins("LEFT JOIN rate_limit_rules r ON r.id = l.rule_id").
		Where("l.expires_at > ?", at).
		Order("l.expires_at ASC").
		Scan(&locks).Error
	return locks, err
}

func (r *repository) DeleteLock(ctx context.Context, key string) error {
	res := r.db.WithContext(ctx).Where("target_key = ?", key).Delete(&Lock{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLockNotFound
	}
	return nil
}

func (r *repository) MaxTimeFrame(ctx context.Context) (int, error) {
	var seconds int
	err := r.db.WithContext(ctx).Model(&Rule{}).
		Select("COALESCE(MAX(time_frame_seconds), ?)", defaultRetentionSeconds).
		Scan(&seconds).Error
	return seconds, err
}

func (r *repository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Event{})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteExpiredLocks(ctx context.Context, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", at).Delete(&Lock{})
	return res.RowsAffected, res.Error
}
