package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
)

const (
	AccountIDLength    = 32
	LinkingTokenLength = 32

	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

type Service struct {
	config     *config.AttestationConfig
	log        *zap.Logger
	repository Repository
	now        func() time.Time
}

func NewService(cfg *config.AttestationConfig, log *zap.Logger, repo Repository) *Service {
	return &Service{
		config:     cfg,
		log:        log,
		repository: repo,
		now:        time.Now,
	}
}

func (s *Service) Repository() Repository {
	return s.repository
}

// RandomString draws n characters uniformly from [A-Za-z0-9].
func RandomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		out[i] = alphanumeric[idx.Int64()]
	}
	return string(out), nil
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Register creates a plain user whose identifier is a fresh random account id.
func (s *Service) Register(ctx context.Context, tx *gorm.DB) (*User, error) {
	accountID, err := RandomString(AccountIDLength)
	if err != nil {
		return nil, apperr.Internal("generate account id", err)
	}
	user := &User{
		Email: accountID,
		Role:  RoleUser,
		Level: 1,
	}
	if err := s.repository.WithTx(tx).CreateUser(ctx, user); err != nil {
		return nil, apperr.Internal("create user", err)
	}
	return user, nil
}

// IssueLinkingToken returns the raw token once. Only its hash is persisted.
func (s *Service) IssueLinkingToken(ctx context.Context, tx *gorm.DB, userID uint) (string, error) {
	raw, err := RandomString(LinkingTokenLength)
	if err != nil {
		return "", apperr.Internal("generate linking token", err)
	}
	now := s.now()
	token := &LinkingToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(s.config.LinkingTokenTTL),
		CreatedAt: now,
	}
	if err := s.repository.WithTx(tx).CreateLinkingToken(ctx, token); err != nil {
		return "", apperr.Internal("store linking token", err)
	}
	return raw, nil
}

// RedeemLinkingToken marks the token used and returns its owner.
func (s *Service) RedeemLinkingToken(ctx context.Context, tx *gorm.DB, raw string) (uint, error) {
	if len(raw) != LinkingTokenLength {
		return 0, apperr.Validation("malformed linking token")
	}
	userID, err := s.repository.WithTx(tx).ConsumeLinkingToken(ctx, HashToken(raw), s.now())
	if errors.Is(err, ErrTokenNotFound) {
		return 0, apperr.NotFound("linking token is invalid or expired")
	}
	if err != nil {
		return 0, apperr.Internal("consume linking token", err)
	}
	return userID, nil
}
