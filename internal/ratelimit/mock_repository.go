package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// MockRepository is an in-memory Repository for tests across packages.
type MockRepository struct {
	rules  map[uint]*Rule
	events []Event
	locks  map[string]*Lock
	nextID uint
	mu     sync.RWMutex
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		rules: make(map[uint]*Rule),
		locks: make(map[string]*Lock),
	}
}

func (r *MockRepository) WithTx(*gorm.DB) Repository {
	return r
}

func (r *MockRepository) ActiveLock(_ context.Context, keys []string, at time.Time) (*Lock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Lock
	for _, k := range keys {
		l, ok := r.locks[k]
		if !ok || !l.ExpiresAt.After(at) {
			continue
		}
		if found == nil || l.ExpiresAt.After(found.ExpiresAt) {
			clone := *l
			found = &clone
		}
	}
	return found, nil
}

func (r *MockRepository) EnabledRules(_ context.Context, action Action) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Rule
	for _, id := range r.ruleIDs() {
		rule := r.rules[id]
		if rule.IsEnabled && rule.ActionType == action {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (r *MockRepository) CountEvents(_ context.Context, ruleID uint, key string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, e := range r.events {
		if e.RuleID == ruleID && e.TargetKey == key && e.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *MockRepository) UpsertLock(_ context.Context, lock *Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.locks[lock.TargetKey]; ok {
		existing.ExpiresAt = lock.ExpiresAt
		return nil
	}
	r.nextID++
	lock.ID = r.nextID
	clone := *lock
	r.locks[lock.TargetKey] = &clone
	return nil
}

func (r *MockRepository) InsertEvents(_ context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		r.nextID++
		e.ID = r.nextID
		r.events = append(r.events, e)
	}
	return nil
}

func (r *MockRepository) CreateRule(_ context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	rule.ID = r.nextID
	clone := *rule
	r.rules[rule.ID] = &clone
	return nil
}

func (r *MockRepository) GetRule(_ context.Context, id uint) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	clone := *rule
	return &clone, nil
}

func (r *MockRepository) ListRules(_ context.Context) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.ruleIDs()
	out := make([]Rule, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, *r.rules[ids[i]])
	}
	return out, nil
}

func (r *MockRepository) UpdateRule(_ context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; !ok {
		return ErrRuleNotFound
	}
	clone := *rule
	r.rules[rule.ID] = &clone
	return nil
}

func (r *MockRepository) ToggleRule(_ context.Context, id uint, at time.Time) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	rule.IsEnabled = !rule.IsEnabled
	rule.UpdatedAt = at
	clone := *rule
	return &clone, nil
}

func (r *MockRepository) DeleteRule(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return ErrRuleNotFound
	}
	for key, l := range r.locks {
		if l.RuleID == id {
			delete(r.locks, key)
		}
	}
	delete(r.rules, id)
	return nil
}

func (r *MockRepository) ListLocks(_ context.Context, at time.Time) ([]LockInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []LockInfo
	for _, l := range r.locks {
		if !l.ExpiresAt.After(at) {
			continue
		}
		info := LockInfo{TargetKey: l.TargetKey, ExpiresAt: l.ExpiresAt, RuleID: l.RuleID}
		if rule, ok := r.rules[l.RuleID]; ok {
			name := rule.Name
			info.RuleName = &name
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (r *MockRepository) DeleteLock(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.locks[key]; !ok {
		return ErrLockNotFound
	}
	delete(r.locks, key)
	return nil
}

func (r *MockRepository) MaxTimeFrame(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.rules) == 0 {
		return defaultRetentionSeconds, nil
	}
	maxSeconds := 0
	for _, rule := range r.rules {
		maxSeconds = max(maxSeconds, rule.TimeFrameSeconds)
	}
	return maxSeconds, nil
}

func (r *MockRepository) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var deleted int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return deleted, nil
}

func (r *MockRepository) DeleteExpiredLocks(_ context.Context, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for key, l := range r.locks {
		if l.ExpiresAt.Before(at) {
			delete(r.locks, key)
			deleted++
		}
	}
	return deleted, nil
}

// Events returns a copy of the tracked events.
func (r *MockRepository) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// Locks returns a copy of every stored lock, expired or not.
func (r *MockRepository) Locks() []Lock {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Lock, 0, len(r.locks))
	for _, l := range r.locks {
		out = append(out, *l)
	}
	return out
}

func (r *MockRepository) ruleIDs() []uint {
	ids := make([]uint, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
