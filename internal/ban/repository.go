package ban

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrBanNotFound = errors.New("ban not found")

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// FindActive returns unexpired bans matching any of keys, in any scope.
	FindActive(ctx context.Context, keys []Key, at time.Time) ([]Ban, error)
	Create(ctx context.Context, ban *Ban) error
	Get(ctx context.Context, id uint) (*Ban, error)
	Delete(ctx context.Context, id uint) error
	// List pages through bans newest first, optionally only those by createdBy.
	List(ctx context.Context, createdBy *uint, offset, limit int) ([]Ban, int64, error)
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

func (r *repository) FindActive(ctx context.Context, keys []Key, at time.Time) ([]Ban, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pairs := make([][]any, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []any{string(k.Type), k.Hash})
	}

	var bans []Ban
	err := r.db.WithContext(ctx).
		Where("(ban_type, hash_value) IN ?", pairs).
		Where("expires_at IS NULL OR expires_at > ?", at).
		Find(&bans).Error
	return bans, err
}

func (r *repository) Create(ctx context.Context, ban *Ban) error {
	return r.db.WithContext(ctx).Create(ban).Error
}

func (r *repository) Get(ctx context.Context, id uint) (*Ban, error) {
	var ban Ban
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ban).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBanNotFound
		}
		return nil, err
	}
	return &ban, nil
}

func (r *repository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Ban{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBanNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, createdBy *uint, offset, limit int) ([]Ban, int64, error) {
	query := r.db.WithContext(ctx).Model(&Ban{})
	if createdBy != nil {
		query = query.Where("created_by = ?", *createdBy)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var bans []Ban
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&bans).Error
	return bans, total, err
}
