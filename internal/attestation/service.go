package attestation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/ban"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/fingerprint"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/verification"
)

const (
	DefaultMaxLevel = 3

	ReasonAlreadyUsed = "This verification has already been used."
)

// Request carries what preflight needs from the caller's connection.
type Request struct {
	IP           string
	RawIP        string
	UserAgent    string
	CaptchaToken string
	Fingerprint  fingerprint.Document
}

// Preflight is a passed verification ready to be redeemed.
type Preflight struct {
	Token     string
	AttemptID uint
	ExpiresAt time.Time
}

type LevelUp struct {
	UserID   uint
	NewLevel int
}

// Registration is returned once. LinkingToken is never stored in clear.
type Registration struct {
	UserID       uint
	AccountID    string
	LinkingToken string
}

type Service struct {
	config       *config.AttestationConfig
	log          *zap.Logger
	issuer       *Issuer
	orchestrator *verification.Orchestrator
	attempts     verification.Repository
	accounts     *account.Service
	users        account.Repository
	matcher      *ban.Matcher
	hasher       *identity.Hasher
	transactor   database.Transactor
	now          func() time.Time
}

type Dependencies struct {
	Config       *config.AttestationConfig
	Log          *zap.Logger
	Issuer       *Issuer
	Orchestrator *verification.Orchestrator
	Attempts     verification.Repository
	Accounts     *account.Service
	Matcher      *ban.Matcher
	Hasher       *identity.Hasher
	Transactor   database.Transactor
}

func NewService(deps Dependencies) *Service {
	return &Service{
		config:       deps.Config,
		log:          deps.Log,
		issuer:       deps.Issuer,
		orchestrator: deps.Orchestrator,
		attempts:     deps.Attempts,
		accounts:     deps.Accounts,
		users:        deps.Accounts.Repository(),
		matcher:      deps.Matcher,
		hasher:       deps.Hasher,
		transactor:   deps.Transactor,
		now:          time.Now,
	}
}

func (s *Service) maxLevel() int {
	if s.config.MaxLevel <= 0 {
		return DefaultMaxLevel
	}
	return s.config.MaxLevel
}

func (s *Service) loadUser(ctx context.Context, tx *gorm.DB, userID uint, forUpdate bool) (*account.User, error) {
	repo := s.users.WithTx(tx)
	var (
		user *account.User
		err  error
	)
	if forUpdate {
		user, err = repo.GetUserForUpdate(ctx, userID)
	} else {
		user, err = repo.GetUser(ctx, userID)
	}
	if errors.Is(err, account.ErrUserNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	return user, nil
}

// LevelUpStatus reports whether userID may start a level-up now.
func (s *Service) LevelUpStatus(ctx context.Context, userID uint) (Status, error) {
	user, err := s.loadUser(ctx, nil, userID, false)
	if err != nil {
		return Status{}, err
	}
	return ComputeStatus(user, s.maxLevel(), s.now()), nil
}

// checkLevelUp refuses users at the top level or inside a lockout.
func (s *Service) checkLevelUp(user *account.User) error {
	if user.Level >= s.maxLevel() {
		return apperr.Rejected(ReasonMaxLevel)
	}
	return ComputeStatus(user, s.maxLevel(), s.now()).Err()
}

// PreflightLevelUp verifies the caller and mints a level-up token. A failed
// verification is still recorded against the user's failure counter.
func (s *Service) PreflightLevelUp(ctx context.Context, userID uint, req Request) (*Preflight, error) {
	user, err := s.loadUser(ctx, nil, userID, false)
	if err != nil {
		return nil, err
	}
	if err := s.checkLevelUp(user); err != nil {
		return nil, err
	}

	result, err := s.orchestrator.Verify(ctx, nil, verification.Input{
		Type:           verification.TypeLevelUp,
		UserID:         &user.ID,
		Role:           user.Role,
		UserIdentifier: user.Email,
		IP:             req.IP,
		RawIP:          req.RawIP,
		UserAgent:      req.UserAgent,
		CaptchaToken:   req.CaptchaToken,
		Fingerprint:    req.Fingerprint,
	})
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return s.issue(SubjectLevelUp, result.AttemptID)
}

// FinalizeLevelUp redeems a level-up token in one transaction. The user row
// stays locked until commit, so concurrent finalizes for one user serialize.
func (s *Service) FinalizeLevelUp(ctx context.Context, userID uint, token string) (*LevelUp, error) {
	claims, err := s.issuer.Parse(token, SubjectLevelUp)
	if err != nil {
		return nil, err
	}

	var out *LevelUp
	err = s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		user, err := s.loadUser(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		if err := s.checkLevelUp(user); err != nil {
			return err
		}

		now := s.now()
		attempt, err := s.consume(ctx, tx, claims.AttemptID, verification.TypeLevelUp, &user.ID, now)
		if err != nil {
			return err
		}

		hashes := s.attemptHashes(user.Email, attempt)
		if err := s.matcher.Check(ctx, tx, ban.Target{}, hashes); err != nil {
			return err
		}

		if err := s.users.WithTx(tx).CompleteLevelUp(ctx, user.ID, now, attempt.IPAddress); err != nil {
			return apperr.Internal("complete level-up", err)
		}
		out = &LevelUp{UserID: user.ID, NewLevel: user.Level + 1}
		return nil
	})
	if err != nil {
		s.log.Warn("level-up finalize refused", zap.Uint("user_id", userID), zap.Error(err))
		return nil, err
	}

	s.log.Info("level-up completed",
		zap.Uint("user_id", out.UserID),
		zap.Int("level", out.NewLevel),
		zap.Uint("attempt_id", claims.AttemptID))
	return out, nil
}

// PreflightRegistration verifies an anonymous caller and mints a
// registration token.
func (s *Service) PreflightRegistration(ctx context.Context, req Request) (*Preflight, error) {
	result, err := s.orchestrator.Verify(ctx, nil, verification.Input{
		Type:         verification.TypeRegistration,
		IP:           req.IP,
		RawIP:        req.RawIP,
		UserAgent:    req.UserAgent,
		CaptchaToken: req.CaptchaToken,
		Fingerprint:  req.Fingerprint,
	})
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return s.issue(SubjectRegistration, result.AttemptID)
}

// FinalizeRegistration redeems a registration token: it creates the account,
// links the attempt to it and issues a device-linking token.
func (s *Service) FinalizeRegistration(ctx context.Context, token string) (*Registration, error) {
	claims, err := s.issuer.Parse(token, SubjectRegistration)
	if err != nil {
		return nil, err
	}

	var out *Registration
	err = s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		attempt, err := s.consume(ctx, tx, claims.AttemptID, verification.TypeRegistration, nil, s.now())
		if err != nil {
			return err
		}

		// No account exists yet, so only the network and device can be banned.
		hashes := s.attemptHashes("", attempt)
		hashes.User = ""
		if err := s.matcher.Check(ctx, tx, ban.Target{}, hashes); err != nil {
			return err
		}

		user, err := s.accounts.Register(ctx, tx)
		if err != nil {
			return err
		}
		if err := s.attempts.WithTx(tx).LinkUser(ctx, attempt.ID, user.ID); err != nil {
			return apperr.Internal("link attempt to user", err)
		}
		linking, err := s.accounts.IssueLinkingToken(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		out = &Registration{UserID: user.ID, AccountID: user.Email, LinkingToken: linking}
		return nil
	})
	if err != nil {
		s.log.Warn("registration finalize refused", zap.Uint("attempt_id", claims.AttemptID), zap.Error(err))
		return nil, err
	}

	s.log.Info("account registered", zap.Uint("user_id", out.UserID), zap.Uint("attempt_id", claims.AttemptID))
	return out, nil
}

func (s *Service) issue(subject Subject, attemptID uint) (*Preflight, error) {
	token, expiresAt, err := s.issuer.Issue(subject, attemptID)
	if err != nil {
		return nil, err
	}
	return &Preflight{Token: token, AttemptID: attemptID, ExpiresAt: expiresAt}, nil
}

// consume loads the attempt and marks it used. The mark rolls back with the
// surrounding transaction.
func (s *Service) consume(ctx context.Context, tx *gorm.DB, attemptID uint, attemptType verification.Type, userID *uint, at time.Time) (*verification.Attempt, error) {
	repo := s.attempts.WithTx(tx)
	attempt, err := repo.Get(ctx, attemptID)
	if errors.Is(err, verification.ErrAttemptNotFound) {
		return nil, apperr.Rejected(ReasonTokenInvalid)
	}
	if err != nil {
		return nil, apperr.Internal("load verification attempt", err)
	}

	err = repo.Consume(ctx, attemptID, attemptType, userID, at)
	if errors.Is(err, verification.ErrAttemptUnavailable) {
		return nil, apperr.Rejected(ReasonAlreadyUsed)
	}
	if err != nil {
		return nil, apperr.Internal("consume verification attempt", err)
	}
	return attempt, nil
}

// attemptHashes re-derives permanent hashes from what the attempt recorded,
// not from the finalizing request.
func (s *Service) attemptHashes(userIdentifier string, attempt *verification.Attempt) ban.Hashes {
	h := s.hasher.Derive(userIdentifier, attempt.IPAddress, identity.DeviceInfo(attempt.FingerprintJSON.String(), ""))
	return ban.Hashes{
		User:   h.PermanentUserHash,
		IP:     h.PermanentIPHash,
		Device: h.PermanentDeviceHash,
	}
}
