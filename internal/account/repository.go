package account

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrTokenNotFound = errors.New("linking token not found or already used")
)

type Repository interface {
	// WithTx binds the repository to the caller's transaction. A nil tx keeps the pool.
	WithTx(tx *gorm.DB) Repository
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uint) (*User, error)
	// GetUserForUpdate row-locks the user until the surrounding transaction ends.
	GetUserForUpdate(ctx context.Context, id uint) (*User, error)
	RecordLevelUpFailure(ctx context.Context, id uint, at time.Time) error
	CompleteLevelUp(ctx context.Context, id uint, at time.Time, ip string) error
	CreateLinkingToken(ctx context.Context, token *LinkingToken) error
	ConsumeLinkingToken(ctx context.Context, tokenHash string, at time.Time) (uint, error)
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

func (r *repository) CreateUser(ctx context.Context, user *User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserExists
	}
	return err
}

func (r *repository) GetUser(ctx context.Context, id uint) (*User, error) {
	return r.first(r.db.WithContext(ctx), id)
}

func (r *repository) GetUserForUpdate(ctx context.Context, id uint) (*User, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) first(db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) RecordLevelUpFailure(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"level_up_failure_count":   gorm.Expr("level_up_failure_count + 1"),
		"last_level_up_attempt_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) CompleteLevelUp(ctx context.Context, id uint, at time.Time, ip string) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(map[string]any{
		"level":                  gorm.Expr("level + 1"),
		"last_level_up_at":       at,
		"last_level_up_ip":       ip,
		"level_up_failure_count": 0,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) CreateLinkingToken(ctx context.Context, token *LinkingToken) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(token).Error; err != nil {
		return err
	}
	return db.Model(&User{}).Where("id = ?", token.UserID).
		Update("last_linking_token_generated_at", token.CreatedAt).Error
}

func (r *repository) ConsumeLinkingToken(ctx context.Context, tokenHash string, at time.Time) (uint, error) {
	var token LinkingToken
	res := r.db.WithContext(ctx).Model(&token).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "user_id"}}}).
		Where("token_hash = ? AND used_at IS NULL AND expires_at > ?", tokenHash, at).
		Update("used_at", at)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrTokenNotFound
	}
	return token.UserID, nil
}
