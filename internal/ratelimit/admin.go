package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/validation"
)

type RuleRequest struct {
	Name             string `validate:"required,min=1,max=255"`
	Target           Target `validate:"required,oneof=user ip device user_ip user_device ip_device all"`
	ActionType       Action `validate:"required,oneof=create_board create_post create_comment search_history"`
	Threshold        int    `validate:"min=1"`
	TimeFrameSeconds int    `validate:"min=1"`
	LockoutSeconds   int    `validate:"min=1"`
	IsEnabled        bool
}

// Admin manages rules and locks. Every operation requires the admin role.
type Admin struct {
	log        *zap.Logger
	repository Repository
	transactor database.Transactor
	now        func() time.Time
}

func NewAdmin(log *zap.Logger, repo Repository, transactor database.Transactor) *Admin {
	return &Admin{
		log:        log,
		repository: repo,
		transactor: transactor,
		now:        time.Now,
	}
}

func requireAdmin(role account.Role) error {
	if !role.IsAdmin() {
		return apperr.Forbidden("admin only")
	}
	return nil
}

func (a *Admin) CreateRule(ctx context.Context, role account.Role, createdBy uint, req RuleRequest) (*Rule, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	now := a.now()
	rule := &Rule{CreatedBy: &createdBy, CreatedAt: now, UpdatedAt: now}
	req.apply(rule)
	if err := a.repository.CreateRule(ctx, rule); err != nil {
		return nil, apperr.Internal("create rate limit rule", err)
	}

	a.log.Info("rate limit rule created",
		zap.Uint("rule_id", rule.ID),
		zap.String("target", string(rule.Target)),
		zap.String("action", string(rule.ActionType)))
	return rule, nil
}

func (a *Admin) ListRules(ctx context.Context, role account.Role) ([]Rule, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	rules, err := a.repository.ListRules(ctx)
	if err != nil {
		return nil, apperr.Internal("list rate limit rules", err)
	}
	return rules, nil
}

func (a *Admin) GetRule(ctx context.Context, role account.Role, id uint) (*Rule, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	rule, err := a.repository.GetRule(ctx, id)
	if err != nil {
		return nil, ruleError("load rate limit rule", err)
	}
	return rule, nil
}

func (a *Admin) UpdateRule(ctx context.Context, role account.Role, id uint, req RuleRequest) (*Rule, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var rule *Rule
	err := a.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		repo := a.repository.WithTx(tx)
		current, err := repo.GetRule(ctx, id)
		if err != nil {
			return err
		}
		req.apply(current)
		current.UpdatedAt = a.now()
		if err := repo.UpdateRule(ctx, current); err != nil {
			return err
		}
		rule = current
		return nil
	})
	if err != nil {
		return nil, ruleError("update rate limit rule", err)
	}
	return rule, nil
}

func (a *Admin) ToggleRule(ctx context.Context, role account.Role, id uint) (*Rule, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	rule, err := a.repository.ToggleRule(ctx, id, a.now())
	if err != nil {
		return nil, ruleError("toggle rate limit rule", err)
	}
	a.log.Info("rate limit rule toggled", zap.Uint("rule_id", id), zap.Bool("enabled", rule.IsEnabled))
	return rule, nil
}

// DeleteRule removes the rule together with the locks it created.
func (a *Admin) DeleteRule(ctx context.Context, role account.Role, id uint) error {
	if err := requireAdmin(role); err != nil {
		return err
	}
	err := a.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		return a.repository.WithTx(tx).DeleteRule(ctx, id)
	})
	if err != nil {
		return ruleError("delete rate limit rule", err)
	}
	a.log.Info("rate limit rule deleted", zap.Uint("rule_id", id))
	return nil
}

func (a *Admin) ListLocks(ctx context.Context, role account.Role) ([]LockInfo, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	locks, err := a.repository.ListLocks(ctx, a.now())
	if err != nil {
		return nil, apperr.Internal("list rate limit locks", err)
	}
	return locks, nil
}

// DeleteLock lifts a lock before it expires.
func (a *Admin) DeleteLock(ctx context.Context, role account.Role, targetKey string) error {
	if err := requireAdmin(role); err != nil {
		return err
	}
	err := a.repository.DeleteLock(ctx, targetKey)
	if errors.Is(err, ErrLockNotFound) {
		return apperr.NotFound("rate limit lock not found")
	}
	if err != nil {
		return apperr.Internal("delete rate limit lock", err)
	}
	a.log.Info("rate limit lock removed", zap.String("target_key", targetKey))
	return nil
}

func (req RuleRequest) apply(rule *Rule) {
	rule.Name = req.Name
	rule.Target = req.Target
	rule.ActionType = req.ActionType
	rule.Threshold = req.Threshold
	rule.TimeFrameSeconds = req.TimeFrameSeconds
	rule.LockoutSeconds = req.LockoutSeconds
	rule.IsEnabled = req.IsEnabled
}

func ruleError(msg string, err error) error {
	if errors.Is(err, ErrRuleNotFound) {
		return apperr.NotFound("rate limit rule not found")
	}
	return apperr.Internal(msg, err)
}
