package verification

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/captcha"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/fingerprint"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/metrics"
	"github.com/elskow/boardguard/internal/reputation"
)

const ReasonLevelUpBanned = "This account is banned from leveling up."

// Input describes one action to verify.
type Input struct {
	Type Type
	// UserID is nil only for registration.
	UserID *uint
	Role   account.Role
	// UserIdentifier is the account's stable identifier used for identity hashing.
	UserIdentifier string
	// IP is the truncated address used for hashing and stored on the attempt.
	IP string
	// RawIP is the untruncated address sent to the reputation provider.
	RawIP        string
	UserAgent    string
	CaptchaToken string
	Fingerprint  fingerprint.Document
}

// Result is the outcome of a verification run. A rejection is a result, not
// an error: AttemptID always refers to the persisted audit record.
type Result struct {
	AttemptID  uint
	Success    bool
	Rejection  *apperr.Error
	Reputation *reputation.Report
	Hashes     *fingerprint.Hashes
	Identity   identity.Hashes
}

// Err returns the rejection, or nil on success.
func (r *Result) Err() error {
	if r.Rejection == nil {
		return nil
	}
	return r.Rejection
}

type Orchestrator struct {
	config     *config.ReputationConfig
	log        *zap.Logger
	attempts   Repository
	users      account.Repository
	transactor database.Transactor
	captcha    captcha.Verifier
	dedup      *fingerprint.Deduplicator
	reputation reputation.Checker
	hasher     *identity.Hasher
	metrics    *metrics.Collector
	now        func() time.Time
}

type Dependencies struct {
	Config     *config.ReputationConfig
	Log        *zap.Logger
	Attempts   Repository
	Users      account.Repository
	Transactor database.Transactor
	Captcha    captcha.Verifier
	Dedup      *fingerprint.Deduplicator
	Reputation reputation.Checker
	Hasher     *identity.Hasher
	Metrics    *metrics.Collector
}

func NewOrchestrator(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		config:     deps.Config,
		log:        deps.Log,
		attempts:   deps.Attempts,
		users:      deps.Users,
		transactor: deps.Transactor,
		captcha:    deps.Captcha,
		dedup:      deps.Dedup,
		reputation: deps.Reputation,
		hasher:     deps.Hasher,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

// Verify runs captcha, the level-up ban flag, fingerprint dedup and IP
// reputation in that order, stopping at the first rejection, then persists
// the attempt. With a nil tx the attempt is written in its own transaction.
//
// Provider failures are returned as errors and nothing is persisted.
func (o *Orchestrator) Verify(ctx context.Context, tx *gorm.DB, in Input) (*Result, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	log := o.log.With(zap.String("type", string(in.Type)))
	isAdmin := in.Role.IsAdmin()
	result := &Result{
		Identity: o.hasher.Derive(in.UserIdentifier, in.IP, identity.DeviceInfo(in.Fingerprint.String(), in.UserAgent)),
	}

	rejection, err := o.runChecks(ctx, tx, in, isAdmin, result)
	if err != nil {
		o.metrics.VerificationAttempt(string(in.Type), metrics.OutcomeError)
		log.Error("verification could not complete", zap.Error(err))
		return nil, err
	}
	result.Rejection = rejection
	result.Success = rejection == nil

	attempt := o.newAttempt(in, result)
	persist := func(tx *gorm.DB) error {
		if err := o.attempts.WithTx(tx).Create(ctx, attempt); err != nil {
			return err
		}
		if in.Type == TypeLevelUp && !result.Success {
			return o.users.WithTx(tx).RecordLevelUpFailure(ctx, *in.UserID, attempt.CreatedAt)
		}
		return nil
	}
	if tx != nil {
		err = persist(tx)
	} else {
		err = o.transactor.Transaction(ctx, persist)
	}
	if err != nil {
		o.metrics.VerificationAttempt(string(in.Type), metrics.OutcomeError)
		return nil, apperr.Internal("save verification attempt", err)
	}
	result.AttemptID = attempt.ID

	if result.Success {
		o.metrics.VerificationAttempt(string(in.Type), metrics.OutcomeSuccess)
		log.Info("verification passed", zap.Uint("attempt_id", attempt.ID))
	} else {
		o.metrics.VerificationAttempt(string(in.Type), metrics.OutcomeRejected)
		o.metrics.Rejection(string(in.Type), rejection.Kind.String())
		log.Warn("verification rejected",
			zap.Uint("attempt_id", attempt.ID),
			zap.Stringer("kind", rejection.Kind),
			zap.String("reason", rejection.Message))
	}
	return result, nil
}

func validateInput(in Input) error {
	if _, err := ParseType(string(in.Type)); err != nil {
		return apperr.Validation(err.Error())
	}
	if in.IP == "" {
		return apperr.Validation("client address is required")
	}
	if in.Type.RequiresUser() && in.UserID == nil {
		return apperr.Validation("a user is required for " + string(in.Type))
	}
	if _, needed := in.Type.Captcha(); needed && in.CaptchaToken == "" {
		return apperr.Validation("captcha token is required")
	}
	return nil
}

// runChecks returns the first policy rejection, or an error when a step
// could not be evaluated.
func (o *Orchestrator) runChecks(ctx context.Context, tx *gorm.DB, in Input, isAdmin bool, result *Result) (*apperr.Error, error) {
	if provider, needed := in.Type.Captcha(); needed {
		if rejection, err := asRejection(o.captcha.Verify(ctx, provider, in.CaptchaToken, in.IP)); rejection != nil || err != nil {
			return rejection, err
		}
	}

	if in.Type == TypeLevelUp {
		user, err := o.users.WithTx(tx).GetUser(ctx, *in.UserID)
		if err != nil {
			return nil, apperr.Internal("load user for level-up check", err)
		}
		if user.BannedFromLevelUp {
			return apperr.Rejected(ReasonLevelUpBanned), nil
		}
	}

	// A missing payload hashes as empty components and is deduplicated like any other.
	hashes := fingerprint.Compute(in.Fingerprint)
	result.Hashes = &hashes
	if rejection, err := asRejection(o.dedup.Check(ctx, tx, hashes, isAdmin)); rejection != nil || err != nil {
		return rejection, err
	}

	if !isAdmin && in.Type.ReputationEnabled(o.config.Enabled) {
		address := in.RawIP
		if address == "" {
			address = in.IP
		}
		report, err := o.reputation.Lookup(ctx, address)
		if err != nil {
			return nil, err
		}
		result.Reputation = report
		if flag, flagged := report.Flagged(); flagged {
			o.log.Warn("address flagged by reputation provider", zap.String("flag", flag))
			return apperr.RateLimited(reputation.ReasonFlagged, 0), nil
		}
	}
	return nil, nil
}

// asRejection splits a step error into a policy rejection or a hard failure.
func asRejection(err error) (*apperr.Error, error) {
	if err == nil {
		return nil, nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind.IsRejection() {
		return appErr, nil
	}
	return nil, err
}

func (o *Orchestrator) newAttempt(in Input, result *Result) *Attempt {
	attempt := &Attempt{
		UserID:          in.UserID,
		AttemptType:     in.Type,
		IsSuccess:       result.Success,
		IPAddress:       in.IP,
		FingerprintJSON: in.Fingerprint,
		CreatedAt:       o.now(),
	}
	attempt.setHashes(result.Hashes)
	if result.Reputation != nil {
		raw := string(result.Reputation.Raw)
		attempt.ReputationJSON = &raw
	}
	if r := result.Rejection; r != nil {
		reason := r.Message
		kind := r.Kind.String()
		attempt.RejectionReason = &reason
		attempt.RejectionKind = &kind
	}
	return attempt
}
