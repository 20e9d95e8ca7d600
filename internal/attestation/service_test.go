package attestation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/ban"
	"github.com/elskow/boardguard/internal/captcha"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/fingerprint"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/metrics"
	"github.com/elskow/boardguard/internal/reputation"
	"github.com/elskow/boardguard/internal/verification"
)

const clientIP = "203.0.113.9"

type stubCaptcha struct {
	err error
}

func (s *stubCaptcha) Verify(context.Context, captcha.Provider, string, string) error {
	return s.err
}

type cleanChecker struct{}

func (cleanChecker) Lookup(context.Context, string) (*reputation.Report, error) {
	return reputation.ParseReport([]byte(`{"status":"ok"}`))
}

type fixture struct {
	service  *Service
	attempts *verification.MockRepository
	users    *account.MockRepository
	bans     *ban.MockRepository
	captcha  *stubCaptcha
	hasher   *identity.Hasher
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	collector := metrics.NewCollector()

	hasher, err := identity.NewHasher(&config.IdentityConfig{
		PermanentPepper: "pepper",
		DailySalt:       "salt",
		Timezone:        "Asia/Tokyo",
	})
	require.NoError(t, err)

	cfg := &config.AttestationConfig{
		JWTSecret:       "test-secret",
		TokenExpiration: 5 * time.Minute,
		MaxLevel:        3,
		LinkingTokenTTL: 10 * time.Minute,
	}
	clock := time.Now()
	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)
	issuer.now = func() time.Time { return clock }

	attempts := verification.NewMockRepository()
	users := account.NewMockRepository()
	bans := ban.NewMockRepository()
	stub := &stubCaptcha{}

	orchestrator := verification.NewOrchestrator(verification.Dependencies{
		Config:     &config.ReputationConfig{Enabled: config.ReputationToggles{LevelUp: true, Registration: true}},
		Log:        logger,
		Attempts:   attempts,
		Users:      users,
		Transactor: database.NoopTransactor{},
		Captcha:    stub,
		Dedup: fingerprint.NewDeduplicator(&config.FingerprintConfig{
			FullWindow: 23 * time.Hour,
			PairWindow: time.Hour,
		}, logger, attempts),
		Reputation: cleanChecker{},
		Hasher:     hasher,
		Metrics:    collector,
	})

	s := NewService(Dependencies{
		Config:       cfg,
		Log:          logger,
		Issuer:       issuer,
		Orchestrator: orchestrator,
		Attempts:     attempts,
		Accounts:     account.NewService(cfg, logger, users),
		Matcher:      ban.NewMatcher(logger, bans, collector),
		Hasher:       hasher,
		Transactor:   database.NoopTransactor{},
	})
	s.now = func() time.Time { return clock }

	return &fixture{
		service:  s,
		attempts: attempts,
		users:    users,
		bans:     bans,
		captcha:  stub,
		hasher:   hasher,
		clock:    &clock,
	}
}

func request(seed string) Request {
	return Request{
		IP:           clientIP,
		RawIP:        clientIP,
		UserAgent:    "Mozilla/5.0",
		CaptchaToken: "captcha-token",
		Fingerprint: fingerprint.Document{"components": map[string]any{
			"webgl":  "webgl-" + seed,
			"canvas": "canvas-" + seed,
			"audio":  "audio-" + seed,
		}},
	}
}

func assertKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok, "expected *apperr.Error, got %v", err)
	assert.Equal(t, kind, e.Kind)
	if msg != "" {
		assert.Equal(t, msg, e.Message)
	}
}

func TestRegistration_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pre, err := f.service.PreflightRegistration(ctx, request("a"))
	require.NoError(t, err)
	assert.NotEmpty(t, pre.Token)
	assert.Equal(t, f.clock.Add(5*time.Minute).Unix(), pre.ExpiresAt.Unix())

	reg, err := f.service.FinalizeRegistration(ctx, pre.Token)
	require.NoError(t, err)
	assert.Len(t, reg.AccountID, account.AccountIDLength)
	assert.Len(t, reg.LinkingToken, account.LinkingTokenLength)
	assert.Equal(t, 1, f.users.LinkingTokens())

	user, err := f.users.GetUser(ctx, reg.UserID)
	require.NoError(t, err)
	assert.Equal(t, reg.AccountID, user.Email)
	assert.Equal(t, account.RoleUser, user.Role)
	assert.Equal(t, 1, user.Level)

	attempts := f.attempts.Attempts()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].IsSuccess)
	assert.NotNil(t, attempts[0].ConsumedAt)
	require.NotNil(t, attempts[0].UserID)
	assert.Equal(t, reg.UserID, *attempts[0].UserID)

	_, err = f.service.FinalizeRegistration(ctx, pre.Token)
	assertKind(t, err, apperr.KindRejected, ReasonAlreadyUsed)
	assert.Equal(t, 1, f.users.LinkingTokens(), "replay creates nothing")
}

func TestRegistration_Refusals(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture, token string) string
		wantOK  bool
		kind    apperr.Kind
		message string
	}{
		{
			name: "expired token",
			setup: func(_ *testing.T, f *fixture, token string) string {
				*f.clock = f.clock.Add(5*time.Minute + time.Second)
				return token
			},
			kind:    apperr.KindRejected,
			message: ReasonTokenInvalid,
		},
		{
			name: "level-up token",
			setup: func(t *testing.T, f *fixture, _ string) string {
				token, _, err := f.service.issuer.Issue(SubjectLevelUp, 1)
				require.NoError(t, err)
				return token
			},
			kind:    apperr.KindRejected,
			message: ReasonTokenInvalid,
		},
		{
			name: "unknown attempt",
			setup: func(t *testing.T, f *fixture, _ string) string {
				token, _, err := f.service.issuer.Issue(SubjectRegistration, 999)
				require.NoError(t, err)
				return token
			},
			kind:    apperr.KindRejected,
			message: ReasonTokenInvalid,
		},
		{
			name: "address banned after preflight",
			setup: func(t *testing.T, f *fixture, token string) string {
				require.NoError(t, f.bans.Create(context.Background(), &ban.Ban{
					BanType:   ban.TypeIP,
					HashValue: f.hasher.Permanent(clientIP),
					CreatedBy: 1,
				}))
				return token
			},
			kind: apperr.KindBanned,
		},
		{
			name: "board ban does not block registration",
			setup: func(t *testing.T, f *fixture, token string) string {
				board := uint(7)
				require.NoError(t, f.bans.Create(context.Background(), &ban.Ban{
					BanType:   ban.TypeIP,
					HashValue: f.hasher.Permanent(clientIP),
					BoardID:   &board,
					CreatedBy: 1,
				}))
				return token
			},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			pre, err := f.service.PreflightRegistration(ctx, request("r"))
			require.NoError(t, err)

			_, err = f.service.FinalizeRegistration(ctx, tt.setup(t, f, pre.Token))
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			assertKind(t, err, tt.kind, tt.message)
			assert.Zero(t, f.users.LinkingTokens())
		})
	}
}

func TestRegistration_PreflightRejected(t *testing.T) {
	f := newFixture(t)
	f.captcha.err = apperr.Rejected(captcha.ReasonFailed)

	_, err := f.service.PreflightRegistration(context.Background(), request("a"))
	assertKind(t, err, apperr.KindRejected, captcha.ReasonFailed)

	attempts := f.attempts.Attempts()
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].IsSuccess)
}

func seedUser(f *fixture, u account.User) {
	f.users.Put(&u)
}

func TestLevelUp_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(f, account.User{ID: 1, Email: "account-one", Role: account.RoleUser, Level: 1, LevelUpFailureCount: 2})

	status, err := f.service.LevelUpStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, status.CanAttempt)
	assert.Equal(t, 3, status.MaxLevel)

	pre, err := f.service.PreflightLevelUp(ctx, 1, request("l"))
	require.NoError(t, err)

	out, err := f.service.FinalizeLevelUp(ctx, 1, pre.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NewLevel)

	user, err := f.users.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, user.Level)
	assert.Zero(t, user.LevelUpFailureCount)
	require.NotNil(t, user.LastLevelUpIP)
	assert.Equal(t, clientIP, *user.LastLevelUpIP)

	status, err = f.service.LevelUpStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, status.CanAttempt)
	assert.Equal(t, LevelUpCooldown, status.Remaining)

	_, err = f.service.FinalizeLevelUp(ctx, 1, pre.Token)
	assertKind(t, err, apperr.KindRateLimited, ReasonCooldown)

	// Past the cooldown the spent token still cannot be replayed.
	issuedAt := *f.clock
	f.service.issuer.now = func() time.Time { return issuedAt }
	*f.clock = f.clock.Add(LevelUpCooldown)
	_, err = f.service.FinalizeLevelUp(ctx, 1, pre.Token)
	assertKind(t, err, apperr.KindRejected, ReasonAlreadyUsed)

	user, _ = f.users.GetUser(ctx, 1)
	assert.Equal(t, 2, user.Level)
}

func TestLevelUp_PreflightRefusals(t *testing.T) {
	recent := time.Now().Add(-time.Minute)

	tests := []struct {
		name    string
		user    account.User
		captcha error
		kind    apperr.Kind
		message string
		records int
	}{
		{
			name:    "maximum level",
			user:    account.User{ID: 1, Email: "u", Role: account.RoleUser, Level: 3},
			kind:    apperr.KindRejected,
			message: ReasonMaxLevel,
		},
		{
			name:    "locked by failures",
			user:    account.User{ID: 1, Email: "u", Role: account.RoleUser, Level: 1, LevelUpFailureCount: 3, LastLevelUpAttemptAt: &recent},
			kind:    apperr.KindRateLimited,
			message: ReasonTooManyFailures,
		},
		{
			name:    "banned from leveling up",
			user:    account.User{ID: 1, Email: "u", Role: account.RoleUser, Level: 1, BannedFromLevelUp: true},
			kind:    apperr.KindRejected,
			message: verification.ReasonLevelUpBanned,
			records: 1,
		},
		{
			name:    "captcha failed",
			user:    account.User{ID: 1, Email: "u", Role: account.RoleUser, Level: 1},
			captcha: apperr.Rejected(captcha.ReasonFailed),
			kind:    apperr.KindRejected,
			message: captcha.ReasonFailed,
			records: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			seedUser(f, tt.user)
			f.captcha.err = tt.captcha

			_, err := f.service.PreflightLevelUp(context.Background(), 1, request("p"))
			assertKind(t, err, tt.kind, tt.message)
			assert.Len(t, f.attempts.Attempts(), tt.records)

			user, _ := f.users.GetUser(context.Background(), 1)
			assert.Equal(t, tt.user.LevelUpFailureCount+tt.records, user.LevelUpFailureCount)
		})
	}
}

func TestLevelUp_FinalizeRefusals(t *testing.T) {
	tests := []struct {
		name    string
		finalAs uint
		setup   func(t *testing.T, f *fixture)
		kind    apperr.Kind
		message string
	}{
		{
			name:    "token belongs to another user",
			finalAs: 2,
			kind:    apperr.KindRejected,
			message: ReasonAlreadyUsed,
		},
		{
			name:    "unknown user",
			finalAs: 9,
			kind:    apperr.KindNotFound,
		},
		{
			name:    "user banned after preflight",
			finalAs: 1,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.bans.Create(context.Background(), &ban.Ban{
					BanType:   ban.TypeUser,
					HashValue: f.hasher.Permanent("account-one"),
					CreatedBy: 99,
				}))
			},
			kind: apperr.KindBanned,
		},
		{
			name:    "device banned after preflight",
			finalAs: 1,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.bans.Create(context.Background(), &ban.Ban{
					BanType:   ban.TypeDevice,
					HashValue: f.hasher.Permanent(request("f").Fingerprint.String()),
					CreatedBy: 99,
				}))
			},
			kind: apperr.KindBanned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			seedUser(f, account.User{ID: 1, Email: "account-one", Role: account.RoleUser, Level: 1})
			seedUser(f, account.User{ID: 2, Email: "account-two", Role: account.RoleUser, Level: 1})

			pre, err := f.service.PreflightLevelUp(ctx, 1, request("f"))
			require.NoError(t, err)
			if tt.setup != nil {
				tt.setup(t, f)
			}

			_, err = f.service.FinalizeLevelUp(ctx, tt.finalAs, pre.Token)
			assertKind(t, err, tt.kind, tt.message)

			for _, id := range []uint{1, 2} {
				user, _ := f.users.GetUser(ctx, id)
				assert.Equal(t, 1, user.Level)
			}
		})
	}
}

func TestLevelUp_AdminSkipsCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedUser(f, account.User{ID: 1, Email: "root", Role: account.RoleAdmin, Level: 1})

	for want := 2; want <= 3; want++ {
		pre, err := f.service.PreflightLevelUp(ctx, 1, request("admin"))
		require.NoError(t, err, "admins bypass fingerprint reuse")
		out, err := f.service.FinalizeLevelUp(ctx, 1, pre.Token)
		require.NoError(t, err)
		assert.Equal(t, want, out.NewLevel)
	}

	_, err := f.service.PreflightLevelUp(ctx, 1, request("admin"))
	assertKind(t, err, apperr.KindRejected, ReasonMaxLevel)
}
