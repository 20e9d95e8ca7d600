// Package scheduler runs periodic maintenance jobs outside the request path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job is one unit of periodic work. It should stop promptly when ctx is done.
type Job func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	job      Job
}

type Scheduler struct {
	log     *zap.Logger
	mu      sync.Mutex
	entries []entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var ErrAlreadyStarted = errors.New("scheduler already started")

func New(log *zap.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Every registers job to run once per interval after Start.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	for _, e := range s.entries {
		if e.name == name {
			return fmt.Errorf("job %s already registered", name)
		}
	}
	s.entries = append(s.entries, entry{name: name, interval: interval, job: job})
	return nil
}

// Start launches one ticker loop per registered job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels running jobs and waits for their loops to exit or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every registered job concurrently a single time.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			if err := s.run(ctx, e); err != nil {
				return fmt.Errorf("job %s: %w", e.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.run(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("scheduled job failed", zap.String("job", e.name), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) error {
	log := s.log.With(zap.String("job", e.name), zap.String("run_id", uuid.NewString()))
	start := time.Now()
	log.Debug("job started")

	err := e.job(ctx)
	log.Debug("job finished", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return err
}
