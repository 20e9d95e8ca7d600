package ban

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// MockRepository is an in-memory Repository for tests across packages.
type MockRepository struct {
	bans   map[uint]*Ban
	nextID uint
	mu     sync.RWMutex
}

func NewMockRepository() *MockRepository {
	return &MockRepository{bans: make(map[uint]*Ban)}
}

func (r *MockRepository) WithTx(*gorm.DB) Repository {
	return r
}

func (r *MockRepository) FindActive(_ context.Context, keys []Key, at time.Time) ([]Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Ban
	for _, id := range r.sortedIDs() {
		b := r.bans[id]
		if !b.ActiveAt(at) {
			continue
		}
		for _, k := range keys {
			if b.BanType == k.Type && b.HashValue == k.Hash {
				out = append(out, *b)
				break
			}
		}
	}
	return out, nil
}

func (r *MockRepository) Create(_ context.Context, ban *Ban) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	ban.ID = r.nextID
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now()
	}
	clone := *ban
	r.bans[ban.ID] = &clone
	return nil
}

func (r *MockRepository) Get(_ context.Context, id uint) (*Ban, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.bans[id]
	if !exists {
		return nil, ErrBanNotFound
	}
	clone := *b
	return &clone, nil
}

func (r *MockRepository) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bans[id]; !exists {
		return ErrBanNotFound
	}
	delete(r.bans, id)
	return nil
}

func (r *MockRepository) List(_ context.Context, createdBy *uint, offset, limit int) ([]Ban, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.sortedIDs()
	var matched []Ban
	for i := len(ids) - 1; i >= 0; i-- {
		b := r.bans[ids[i]]
		if createdBy == nil || b.CreatedBy == *createdBy {
			matched = append(matched, *b)
		}
	}

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// Count returns the number of stored bans.
func (r *MockRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bans)
}

func (r *MockRepository) sortedIDs() []uint {
	ids := make([]uint, 0, len(r.bans))
	for id := range r.bans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
