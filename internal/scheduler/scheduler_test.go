package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_RunsJobsPeriodically(t *testing.T) {
	s := New(zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Every("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after Stop")
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	s := New(zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, s.Every("flaky", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("database unavailable")
	}))

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_RegistrationRules(t *testing.T) {
	s := New(zap.NewNop())
	assert.Error(t, s.Every("zero", 0, func(context.Context) error { return nil }))
	require.NoError(t, s.Every("once", time.Hour, func(context.Context) error { return nil }))
	assert.Error(t, s.Every("once", time.Minute, func(context.Context) error { return nil }), "duplicate name")

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Every("late", time.Second, func(context.Context) error { return nil }), ErrAlreadyStarted)
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	assert.NoError(t, New(zap.NewNop()).Stop(context.Background()))
}

func TestScheduler_RunOnce(t *testing.T) {
	s := New(zap.NewNop())
	var a, b atomic.Int32
	require.NoError(t, s.Every("a", time.Hour, func(context.Context) error { a.Add(1); return nil }))
	require.NoError(t, s.Every("b", time.Hour, func(context.Context) error { b.Add(1); return nil }))

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestScheduler_RunOnceReportsFailure(t *testing.T) {
	s := New(zap.NewNop())
	boom := errors.New("boom")
	require.NoError(t, s.Every("ok", time.Hour, func(context.Context) error { return nil }))
	require.NoError(t, s.Every("broken", time.Hour, func(context.Context) error { return boom }))

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "job broken")
}
