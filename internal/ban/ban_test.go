package ban

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/encryption"
	"github.com/elskow/boardguard/internal/metrics"
)

type mockDirectory struct {
	posts    map[uint]*Content
	comments map[uint]*Content
	boards   map[uint]*Board
	creators map[uint]uint
	mu       sync.RWMutex
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		posts:    make(map[uint]*Content),
		comments: make(map[uint]*Content),
		boards:   make(map[uint]*Board),
		creators: make(map[uint]uint),
	}
}

func (d *mockDirectory) Post(_ context.Context, _ *gorm.DB, postID uint) (*Content, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.posts[postID]
	if !ok {
		return nil, ErrContentNotFound
	}
	return c, nil
}

func (d *mockDirectory) Comment(_ context.Context, _ *gorm.DB, commentID uint) (*Content, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.comments[commentID]
	if !ok {
		return nil, ErrContentNotFound
	}
	return c, nil
}

func (d *mockDirectory) Board(_ context.Context, _ *gorm.DB, boardID uint) (*Board, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.boards[boardID]
	if !ok {
		return nil, ErrContentNotFound
	}
	return b, nil
}

func (d *mockDirectory) ThreadCreator(_ context.Context, _ *gorm.DB, postID uint) (uint, *uint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.posts[postID]
	if !ok {
		return 0, nil, ErrContentNotFound
	}
	creator, ok := d.creators[postID]
	if !ok {
		return p.BoardID, nil, nil
	}
	return p.BoardID, &creator, nil
}

func newTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger
}

func newTestBox(t *testing.T) *encryption.Box {
	box, err := encryption.NewBox(&config.EncryptionConfig{Key: strings.Repeat("1f", 32)})
	require.NoError(t, err)
	return box
}

func newTestMatcher(t *testing.T, repo Repository) *Matcher {
	return NewMatcher(newTestLogger(t), repo, metrics.NewCollector())
}

func newTestService(t *testing.T, repo Repository, dir ContentDirectory) *Service {
	return NewService(newTestLogger(t), repo, dir, newTestBox(t))
}

func uintPtr(v uint) *uint {
	return &v
}

func hash(c byte) string {
	return strings.Repeat(string(c), 64)
}
