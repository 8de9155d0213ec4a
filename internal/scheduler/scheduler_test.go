package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/hiretest/internal/exam"
)

type fakeJobs struct {
	mu       sync.Mutex
	batches  []string
	cleanups int
	ran      chan struct{}
}

func newFakeJobs() *fakeJobs { return &fakeJobs{ran: make(chan struct{}, 16)} }

func (f *fakeJobs) BatchEvaluate(_ context.Context, testID string) (exam.BatchResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, testID)
	f.mu.Unlock()
	f.ran <- struct{}{}
	return exam.BatchResult{Evaluated: 1}, nil
}

func (f *fakeJobs) CleanupExpiredSessions(context.Context) (int64, error) {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
	f.ran <- struct{}{}
	return 2, nil
}

func waitRuns(t *testing.T, f *fakeJobs, n int) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-f.ran:
		case <-timeout:
			t.Fatalf("only %d of %d job runs happened", i, n)
		}
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	f := newFakeJobs()
	s := New(f, f, time.Hour, time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitRuns(t, f, 2)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) != 1 || f.batches[0] != "" {
		t.Errorf("batches = %q, want one run over all tests", f.batches)
	}
	if f.cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", f.cleanups)
	}
}

func TestSchedulerBatchDisabled(t *testing.T) {
	f := newFakeJobs()
	s := New(f, f, 0, 0)
	if s.cleanupInterval != DefaultCleanupInterval {
		t.Errorf("cleanup interval = %v", s.cleanupInterval)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitRuns(t, f, 1)
	if n := s.scheduler.Len(); n != 1 {
		t.Errorf("jobs = %d, want only session cleanup", n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) != 0 {
		t.Errorf("batch evaluation ran while disabled: %q", f.batches)
	}
}
