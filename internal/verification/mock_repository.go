package verification

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/fingerprint"
)

// MockRepository is an in-memory Repository for tests across packages.
type MockRepository struct {
	attempts map[uint]*Attempt
	nextID   uint
	mu       sync.RWMutex
}

func NewMockRepository() *MockRepository {
	return &MockRepository{attempts: make(map[uint]*Attempt)}
}

func (r *MockRepository) WithTx(*gorm.DB) Repository {
	return r
}

func (r *MockRepository) Create(_ context.Context, attempt *Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	attempt.ID = r.nextID
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	clone := *attempt
	r.attempts[attempt.ID] = &clone
	return nil
}

func (r *MockRepository) Get(_ context.Context, id uint) (*Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *MockRepository) Consume(_ context.Context, id uint, attemptType Type, userID *uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok || !a.IsSuccess || a.ConsumedAt != nil || a.AttemptType != attemptType {
		return ErrAttemptUnavailable
	}
	switch {
	case userID == nil && a.UserID != nil,
		userID != nil && (a.UserID == nil || *a.UserID != *userID):
		return ErrAttemptUnavailable
	}
	consumed := at
	a.ConsumedAt = &consumed
	return nil
}

func (r *MockRepository) LinkUser(_ context.Context, id, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.UserID = &userID
	return nil
}

func (r *MockRepository) RecentReuse(_ context.Context, _ *gorm.DB, h fingerprint.Hashes, fullSince, pairSince time.Time) (fingerprint.Reuse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var reuse fingerprint.Reuse
	for _, a := range r.attempts {
		stored := a.Hashes()
		if stored == nil {
			continue
		}
		if stored.WebGLCanvasAudio == h.WebGLCanvasAudio && a.CreatedAt.After(fullSince) {
			reuse.Full = true
		}
		pair := stored.WebGLCanvas == h.WebGLCanvas ||
			stored.WebGLAudio == h.WebGLAudio ||
			stored.CanvasAudio == h.CanvasAudio
		if pair && a.CreatedAt.After(pairSince) {
			reuse.Pair = true
		}
	}
	return reuse, nil
}

// Attempts returns copies of all stored attempts in insertion order.
func (r *MockRepository) Attempts() []Attempt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Attempt, 0, len(r.attempts))
	for id := uint(1); id <= r.nextID; id++ {
		if a, ok := r.attempts[id]; ok {
			out = append(out, *a)
		}
	}
	return out
}
