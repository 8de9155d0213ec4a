// Package scheduler runs periodic background jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/pavelanni/hiretest/internal/exam"
)

// DefaultCleanupInterval is how often expired auth sessions are removed.
const DefaultCleanupInterval = time.Hour

// BatchEvaluator evaluates pending submissions; an empty testID means all
// tests.
type BatchEvaluator interface {
	BatchEvaluate(ctx context.Context, testID string) (exam.BatchResult, error)
}

// SessionCleaner removes expired auth sessions.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// Scheduler manages the background jobs.
type Scheduler struct {
	scheduler       *gocron.Scheduler
	evaluator       BatchEvaluator
	sessions        SessionCleaner
	batchInterval   time.Duration
	cleanupInterval time.Duration
	cancel          context.CancelFunc
}

// New creates a scheduler. A zero batchInterval disables batch evaluation;
// a zero cleanupInterval uses DefaultCleanupInterval.
func New(ev BatchEvaluator, sc SessionCleaner, batchInterval, cleanupInterval time.Duration) *Scheduler {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:       s,
		evaluator:       ev,
		sessions:        sc,
		batchInterval:   batchInterval,
		cleanupInterval: cleanupInterval,
	}
}

// Start registers the jobs and runs them in the background until Stop is
// called or ctx is cancelled. Each job also runs once right away.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.evaluator != nil && s.batchInterval > 0 {
		if _, err := s.scheduler.Every(s.batchInterval).Do(s.runBatch, ctx); err != nil {
			return fmt.Errorf("schedule batch evaluation: %w", err)
		}
	}
	if s.sessions != nil {
		if _, err := s.scheduler.Every(s.cleanupInterval).Do(s.cleanSessions, ctx); err != nil {
			return fmt.Errorf("schedule session cleanup: %w", err)
		}
	}
	s.scheduler.StartAsync()
	slog.Info("scheduler started", "jobs", s.scheduler.Len(), "batch_interval", s.batchInterval, "cleanup_interval", s.cleanupInterval)

	go func() {
		<-ctx.Done()
		s.scheduler.Stop()
	}()
	return nil
}

// Stop terminates all jobs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
}

func (s *Scheduler) runBatch(ctx context.Context) {
	res, err := s.evaluator.BatchEvaluate(ctx, "")
	if err != nil {
		slog.Error("scheduled batch evaluation failed", "error", err)
		return
	}
	if res.Evaluated > 0 || res.Failed > 0 {
		slog.Info("scheduled batch evaluation", "evaluated", res.Evaluated, "failed", res.Failed, "failed_answers", res.FailedAnswers)
	}
}

func (s *Scheduler) cleanSessions(ctx context.Context) {
	n, err := s.sessions.CleanupExpiredSessions(ctx)
	if err != nil {
		slog.Error("session cleanup failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired sessions removed", "count", n)
	}
}
