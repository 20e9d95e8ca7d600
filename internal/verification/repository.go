package verification

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/fingerprint"
)

var (
	ErrAttemptNotFound = errors.New("verification attempt not found")
	// ErrAttemptUnavailable means the attempt failed, was already consumed,
	// or belongs to another action or user.
	ErrAttemptUnavailable = errors.New("verification attempt unavailable")
)

type Repository interface {
	fingerprint.History

	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *Attempt) error
	Get(ctx context.Context, id uint) (*Attempt, error)
	// Consume marks a successful attempt of attemptType as used. userID nil
	// matches attempts recorded without a user.
	Consume(ctx context.Context, id uint, attemptType Type, userID *uint, at time.Time) error
	LinkUser(ctx context.Context, id, userID uint) error
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

func (r *repository) Create(ctx context.Context, attempt *Attempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) Get(ctx context.Context, id uint) (*Attempt, error) {
	var attempt Attempt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) Consume(ctx context.Context, id uint, attemptType Type, userID *uint, at time.Time) error {
	q := r.db.WithContext(ctx).Model(&Attempt{}).
		Where("id = ? AND attempt_type = ? AND is_success AND consumed_at IS NULL", id, attemptType)
	if userID == nil {
		q = q.Where("user_id IS NULL")
	} else {
		q = q.Where("user_id = ?", *userID)
	}

	res := q.Update("consumed_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttemptUnavailable
	}
	return nil
}

func (r *repository) LinkUser(ctx context.Context, id, userID uint) error {
	res := r.db.WithContext(ctx).Model(&Attempt{}).Where("id = ?", id).Update("user_id", userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// RecentReuse answers both fingerprint windows in one round trip.
func (r *repository) RecentReuse(ctx context.Context, tx *gorm.DB, h fingerprint.Hashes, fullSince, pairSince time.Time) (fingerprint.Reuse, error) {
	db := r.db
	if tx != nil {
		db = tx
	}

	var row struct {
		FullMatch bool
		PairMatch bool
	}
	err := db.WithContext(ctx).Raw(`
		SELECT
			EXISTS (
				SELECT 1 FROM verification_attempts
				WHERE hash_webgl_canvas_audio = ? AND created_at > ?
			) AS full_match,
			EXISTS (
				SELECT 1 FROM verification_attempts
				WHERE (hash_webgl_canvas = ? OR hash_webgl_audio = ? OR hash_canvas_audio = ?)
				  AND created_at > ?
			) AS pair_match`,
		h.WebGLCanvasAudio, fullSince,
		h.WebGLCanvas, h.WebGLAudio, h.CanvasAudio, pairSince,
	).Scan(&row).Error
	if err != nil {
		return fingerprint.Reuse{}, err
	}
	return fingerprint.Reuse{Full: row.FullMatch, Pair: row.PairMatch}, nil
}
