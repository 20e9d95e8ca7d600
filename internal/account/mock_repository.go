package account

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// MockRepository is an in-memory Repository for tests across packages.
type MockRepository struct {
	users  map[uint]*User
	tokens map[string]*LinkingToken
	nextID uint
	mu     sync.RWMutex
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:  make(map[uint]*User),
		tokens: make(map[string]*LinkingToken),
	}
}

func (r *MockRepository) WithTx(*gorm.DB) Repository {
	return r
}

func (r *MockRepository) CreateUser(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrUserExists
		}
	}

	r.nextID++
	if user.ID == 0 {
		user.ID = r.nextID
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *MockRepository) GetUser(_ context.Context, id uint) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *MockRepository) GetUserForUpdate(ctx context.Context, id uint) (*User, error) {
	return r.GetUser(ctx, id)
}

func (r *MockRepository) RecordLevelUpFailure(_ context.Context, id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	user.LevelUpFailureCount++
	user.LastLevelUpAttemptAt = &at
	return nil
}

func (r *MockRepository) CompleteLevelUp(_ context.Context, id uint, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return ErrUserNotFound
	}
	user.Level++
	user.LastLevelUpAt = &at
	user.LastLevelUpIP = &ip
	user.LevelUpFailureCount = 0
	return nil
}

func (r *MockRepository) CreateLinkingToken(_ context.Context, token *LinkingToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *token
	r.tokens[token.TokenHash] = &clone
	if user, exists := r.users[token.UserID]; exists {
		created := token.CreatedAt
		user.LastLinkingTokenGeneratedAt = &created
	}
	return nil
}

func (r *MockRepository) ConsumeLinkingToken(_ context.Context, tokenHash string, at time.Time) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.tokens[tokenHash]
	if !exists || token.UsedAt != nil || !token.ExpiresAt.After(at) {
		return 0, ErrTokenNotFound
	}
	token.UsedAt = &at
	return token.UserID, nil
}

// Put stores a copy of user, keeping its ID.
func (r *MockRepository) Put(user *User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *user
	r.users[user.ID] = &clone
	if user.ID > r.nextID {
		r.nextID = user.ID
	}
}

// LinkingTokens returns how many tokens have been stored.
func (r *MockRepository) LinkingTokens() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
