// Package attestation splits expensive verification from the final mutation:
// preflight verifies and mints a short-lived token, finalize redeems it.
package attestation

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
)

// Subject tags which flow a token was minted for.
type Subject string

const (
	SubjectRegistration Subject = "preflight-passed"
	SubjectLevelUp      Subject = "level-up-preflight-passed"
)

const (
	DefaultTokenLifetime = 5 * time.Minute

	ReasonTokenInvalid = "Verification has expired. Please verify again."
)

// Claims carry only the attempt id. Everything else is read back from the
// attempt record at finalize time.
type Claims struct {
	AttemptID uint `json:"attempt_id"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func NewIssuer(cfg *config.AttestationConfig) (*Issuer, error) {
	if cfg.JWTSecret == "" {
		return nil, apperr.Configuration("attestation secret is not configured")
	}
	lifetime := cfg.TokenExpiration
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &Issuer{
		secret:   []byte(cfg.JWTSecret),
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// Issue signs a token for attemptID and returns it with its expiry.
func (i *Issuer) Issue(subject Subject, attemptID uint) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.lifetime)
	claims := &Claims{
		AttemptID: attemptID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(subject),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, apperr.Internal("sign attestation token", err)
	}
	return signed, expiresAt, nil
}

// Parse validates signature, expiry and subject. Every failure is reported
// as the same rejection.
func (i *Issuer) Parse(raw string, subject Subject) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(string(subject)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRejected, ReasonTokenInvalid, err)
	}
	if !token.Valid || claims.AttemptID == 0 {
		return nil, apperr.Wrap(apperr.KindRejected, ReasonTokenInvalid, errors.New("invalid token"))
	}
	return claims, nil
}
