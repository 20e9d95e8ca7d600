package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/account"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/metrics"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type limiterFixture struct {
	limiter *Limiter
	repo    *MockRepository
	users   *account.MockRepository
	clock   *clock
}

func newLimiterFixture(t *testing.T) *limiterFixture {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	repo := NewMockRepository()
	users := account.NewMockRepository()
	users.Put(&account.User{ID: 1, Email: "member", Role: account.RoleUser, Level: 1})
	users.Put(&account.User{ID: 2, Email: "exempt-admin", Role: account.RoleAdmin, IsRateLimitExempt: true})
	users.Put(&account.User{ID: 3, Email: "admin", Role: account.RoleAdmin})

	c := newClock()
	limiter := NewLimiter(logger, repo, users, metrics.NewCollector())
	limiter.now = c.now
	return &limiterFixture{limiter: limiter, repo: repo, users: users, clock: c}
}

func (f *limiterFixture) addRule(t *testing.T, target Target, action Action, threshold, window, lockout int) *Rule {
	rule := &Rule{
		Name:             string(target) + " " + string(action),
		Target:           target,
		ActionType:       action,
		Threshold:        threshold,
		TimeFrameSeconds: window,
		LockoutSeconds:   lockout,
		IsEnabled:        true,
	}
	require.NoError(t, f.repo.CreateRule(context.Background(), rule))
	return rule
}

func subject(userID uint) Subject {
	return Subject{UserID: userID, IPHash: strings.Repeat("a", 64), DeviceHash: strings.Repeat("b", 64)}
}

func TestSubject_KeysAreDisjointAcrossDimensions(t *testing.T) {
	s := Subject{UserID: 7, IPHash: "ip", DeviceHash: "dev"}

	expected := map[Target]string{
		TargetUser:          "user:7",
		TargetIP:            "ip:ip",
		TargetDevice:        "device:dev",
		TargetUserAndIP:     "user_ip:7:ip",
		TargetUserAndDevice: "user_device:7:dev",
		TargetIPAndDevice:   "ip_device:ip:dev",
		TargetAll:           "all:7:ip:dev",
	}
	for target, key := range expected {
		assert.Equal(t, key, s.Key(target), target)
	}

	keys := s.Keys()
	assert.Len(t, keys, len(Targets))
	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}

func TestParseTargetAndAction(t *testing.T) {
	for _, target := range Targets {
		parsed, err := ParseTarget(string(target))
		require.NoError(t, err)
		assert.Equal(t, target, parsed)
	}
	_, err := ParseTarget("UserId")
	assert.Error(t, err)

	action, err := ParseAction("create_post")
	require.NoError(t, err)
	assert.Equal(t, ActionCreatePost, action)
	_, err = ParseAction("delete_post")
	assert.Error(t, err)
}

func TestLimiter_ThresholdLocksAndLockOutlivesWindow(t *testing.T) {
	f := newLimiterFixture(t)
	ctx := context.Background()
	rule := f.addRule(t, TargetIP, ActionCreatePost, 3, 60, 600)

	// The third action inside the window would reach the threshold.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost), "action %d", i+1)
		f.clock.advance(5 * time.Second)
	}
	assert.Len(t, f.repo.Events(), 2)

	err := f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindRateLimited, appErr.Kind)
	assert.Equal(t, 600*time.Second, appErr.RetryAfter)

	locks := f.repo.Locks()
	require.Len(t, locks, 1)
	assert.Equal(t, rule.ID, locks[0].RuleID)
	assert.Equal(t, subject(1).Key(TargetIP), locks[0].TargetKey)
	assert.Len(t, f.repo.Events(), 2, "rejected action is not tracked")

	// Past the counting window but inside the lockout the lock still rejects.
	f.clock.advance(2 * time.Minute)
	err = f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost)
	require.Error(t, err)
	appErr, _ = apperr.As(err)
	assert.Equal(t, apperr.KindRateLimited, appErr.Kind)
	assert.Less(t, appErr.RetryAfter, 600*time.Second)

	// After the lockout expires the window is empty again.
	f.clock.advance(10 * time.Minute)
	assert.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost))
}

func TestLimiter_LockOnAnyDimensionBlocksOtherActions(t *testing.T) {
	f := newLimiterFixture(t)
	ctx := context.Background()
	f.addRule(t, TargetDevice, ActionCreateComment, 2, 60, 300)
	f.addRule(t, TargetUser, ActionCreatePost, 100, 60, 300)

	require.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreateComment))
	require.Error(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreateComment))

	// A different user on the same device is caught by the device lock even
	// though the post rule counts per user.
	err := f.limiter.CheckAndTrack(ctx, nil, subject(9), ActionCreatePost)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err), "unknown user")

	f.users.Put(&account.User{ID: 9, Email: "other", Role: account.RoleUser})
	err = f.limiter.CheckAndTrack(ctx, nil, subject(9), ActionCreatePost)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
}

func TestLimiter_TracksOneEventPerRule(t *testing.T) {
	f := newLimiterFixture(t)
	ctx := context.Background()
	f.addRule(t, TargetUser, ActionCreatePost, 10, 60, 60)
	f.addRule(t, TargetAll, ActionCreatePost, 10, 60, 60)
	disabled := f.addRule(t, TargetIP, ActionCreatePost, 1, 60, 60)
	_, err := f.repo.ToggleRule(ctx, disabled.ID, f.clock.now())
	require.NoError(t, err)
	f.addRule(t, TargetIP, ActionSearchHistory, 1, 60, 60)

	require.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost))

	events := f.repo.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "user:1", events[0].TargetKey)
	assert.True(t, strings.HasPrefix(events[1].TargetKey, "all:1:"))
}

func TestLimiter_NoRulesAndExemptions(t *testing.T) {
	f := newLimiterFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreateBoard))
	assert.Empty(t, f.repo.Events())

	f.addRule(t, TargetIP, ActionCreateBoard, 2, 60, 60)
	for i := 0; i < 5; i++ {
		assert.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(2), ActionCreateBoard))
	}
	assert.Empty(t, f.repo.Events(), "exempt admin is not tracked")

	// Admins without the exemption flag are limited like everyone else.
	require.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(3), ActionCreateBoard))
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(f.limiter.CheckAndTrack(ctx, nil, subject(3), ActionCreateBoard)))
}

func TestLimiter_RepeatedTriggerRefreshesLock(t *testing.T) {
	f := newLimiterFixture(t)
	ctx := context.Background()
	rule := f.addRule(t, TargetUser, ActionCreatePost, 2, 3600, 60)

	require.NoError(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost))
	require.Error(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost))
	first := f.repo.Locks()[0].ExpiresAt

	f.clock.advance(2 * time.Minute)
	require.Error(t, f.limiter.CheckAndTrack(ctx, nil, subject(1), ActionCreatePost))

	locks := f.repo.Locks()
	require.Len(t, locks, 1)
	assert.Equal(t, rule.ID, locks[0].RuleID)
	assert.True(t, locks[0].ExpiresAt.After(first))
}

func newTestAdmin(t *testing.T, repo Repository) (*Admin, *clock) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	c := newClock()
	admin := NewAdmin(logger, repo, database.NoopTransactor{})
	admin.now = c.now
	return admin, c
}

func validRequest() RuleRequest {
	return RuleRequest{
		Name:             "posts per ip",
		Target:           TargetIP,
		ActionType:       ActionCreatePost,
		Threshold:        5,
		TimeFrameSeconds: 60,
		LockoutSeconds:   300,
		IsEnabled:        true,
	}
}

func TestAdmin_RuleValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *RuleRequest)
	}{
		{"empty name", func(r *RuleRequest) { r.Name = "" }},
		{"long name", func(r *RuleRequest) { r.Name = strings.Repeat("n", 256) }},
		{"unknown target", func(r *RuleRequest) { r.Target = "subnet" }},
		{"unknown action", func(r *RuleRequest) { r.ActionType = "vote" }},
		{"zero threshold", func(r *RuleRequest) { r.Threshold = 0 }},
		{"zero window", func(r *RuleRequest) { r.TimeFrameSeconds = 0 }},
		{"negative lockout", func(r *RuleRequest) { r.LockoutSeconds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin, _ := newTestAdmin(t, NewMockRepository())
			req := validRequest()
			tt.mutate(&req)

			_, err := admin.CreateRule(context.Background(), account.RoleAdmin, 1, req)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestAdmin_RequiresAdmin(t *testing.T) {
	admin, _ := newTestAdmin(t, NewMockRepository())
	ctx := context.Background()

	_, err := admin.CreateRule(ctx, account.RoleModerator, 1, validRequest())
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = admin.ListRules(ctx, account.RoleUser)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = admin.ListLocks(ctx, account.RoleUser)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(admin.DeleteLock(ctx, account.RoleUser, "ip:x")))
}

func TestAdmin_RuleLifecycle(t *testing.T) {
	repo := NewMockRepository()
	admin, _ := newTestAdmin(t, repo)
	ctx := context.Background()

	rule, err := admin.CreateRule(ctx, account.RoleAdmin, 1, validRequest())
	require.NoError(t, err)
	require.NotNil(t, rule.CreatedBy)
	assert.Equal(t, uint(1), *rule.CreatedBy)

	req := validRequest()
	req.Threshold = 9
	req.Target = TargetAll
	updated, err := admin.UpdateRule(ctx, account.RoleAdmin, rule.ID, req)
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Threshold)
	assert.Equal(t, TargetAll, updated.Target)

	toggled, err := admin.ToggleRule(ctx, account.RoleAdmin, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsEnabled)

	got, err := admin.GetRule(ctx, account.RoleAdmin, rule.ID)
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)

	rules, err := admin.ListRules(ctx, account.RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	_, err = admin.UpdateRule(ctx, account.RoleAdmin, 404, req)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = admin.ToggleRule(ctx, account.RoleAdmin, 404)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAdmin_DeleteRuleRemovesItsLocks(t *testing.T) {
	repo := NewMockRepository()
	admin, c := newTestAdmin(t, repo)
	ctx := context.Background()

	rule, err := admin.CreateRule(ctx, account.RoleAdmin, 1, validRequest())
	require.NoError(t, err)
	other, err := admin.CreateRule(ctx, account.RoleAdmin, 1, validRequest())
	require.NoError(t, err)

	require.NoError(t, repo.UpsertLock(ctx, &Lock{TargetKey: "ip:a", RuleID: rule.ID, ExpiresAt: c.now().Add(time.Hour)}))
	require.NoError(t, repo.UpsertLock(ctx, &Lock{TargetKey: "ip:b", RuleID: other.ID, ExpiresAt: c.now().Add(time.Hour)}))

	require.NoError(t, admin.DeleteRule(ctx, account.RoleAdmin, rule.ID))

	locks, err := admin.ListLocks(ctx, account.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "ip:b", locks[0].TargetKey)
	require.NotNil(t, locks[0].RuleName)
	assert.Equal(t, "posts per ip", *locks[0].RuleName)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(admin.DeleteRule(ctx, account.RoleAdmin, rule.ID)))
}

func TestAdmin_DeleteLock(t *testing.T) {
	repo := NewMockRepository()
	admin, c := newTestAdmin(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertLock(ctx, &Lock{TargetKey: "user:1", RuleID: 1, ExpiresAt: c.now().Add(time.Hour)}))

	require.NoError(t, admin.DeleteLock(ctx, account.RoleAdmin, "user:1"))
	assert.Empty(t, repo.Locks())

	err := admin.DeleteLock(ctx, account.RoleAdmin, "user:1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSweeper_DeletesOldEventsAndExpiredLocks(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	repo := NewMockRepository()
	c := newClock()
	sweeper := NewSweeper(logger, repo, metrics.NewCollector())
	sweeper.now = c.now
	ctx := context.Background()

	require.NoError(t, repo.CreateRule(ctx, &Rule{Name: "short", Target: TargetIP, ActionType: ActionCreatePost, Threshold: 1, TimeFrameSeconds: 60, LockoutSeconds: 60}))
	require.NoError(t, repo.CreateRule(ctx, &Rule{Name: "long", Target: TargetIP, ActionType: ActionCreatePost, Threshold: 1, TimeFrameSeconds: 600, LockoutSeconds: 60}))

	// Retention is twice the longest window: 20 minutes.
	require.NoError(t, repo.InsertEvents(ctx, []Event{
		{RuleID: 1, TargetKey: "ip:a", CreatedAt: c.now().Add(-30 * time.Minute)},
		{RuleID: 1, TargetKey: "ip:a", CreatedAt: c.now().Add(-19 * time.Minute)},
		{RuleID: 2, TargetKey: "ip:a", CreatedAt: c.now().Add(-time.Minute)},
	}))
	require.NoError(t, repo.UpsertLock(ctx, &Lock{TargetKey: "ip:old", RuleID: 1, ExpiresAt: c.now().Add(-time.Second)}))
	require.NoError(t, repo.UpsertLock(ctx, &Lock{TargetKey: "ip:live", RuleID: 1, ExpiresAt: c.now().Add(time.Minute)}))

	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Events: 1, Locks: 1}, result)
	assert.Len(t, repo.Events(), 2)
	require.Len(t, repo.Locks(), 1)
	assert.Equal(t, "ip:live", repo.Locks()[0].TargetKey)
}

func TestSweeper_DefaultRetentionWithoutRules(t *testing.T) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	repo := NewMockRepository()
	c := newClock()
	sweeper := NewSweeper(logger, repo, nil)
	sweeper.now = c.now
	ctx := context.Background()

	require.NoError(t, repo.InsertEvents(ctx, []Event{
		{RuleID: 1, TargetKey: "ip:a", CreatedAt: c.now().Add(-3 * time.Hour)},
		{RuleID: 1, TargetKey: "ip:a", CreatedAt: c.now().Add(-90 * time.Minute)},
	}))

	result, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Events)
}
