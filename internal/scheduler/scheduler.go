// Package scheduler is an in-process delayed job queue with two duties:
// bounded-retry background jobs (payment-creation retry) and cancellable
// schedule-once jobs keyed by a deterministic id (order expiry).
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// ScheduleAt runs fn once after delay. Scheduling again under the same jobID
// replaces the pending job, so callers can key jobs deterministically (e.g.
// "expired-<orderId>") and later cancel without holding a handle.
func (s *Scheduler) ScheduleAt(jobID string, delay time.Duration, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warn("scheduler stopped, dropping job", zap.String("job_id", jobID))
		return
	}

	if existing, ok := s.timers[jobID]; ok {
		// The replaced timer's count must be released, same as Cancel.
		if existing.Stop() {
			s.wg.Done()
		}
	}

	s.wg.Add(1)
	s.timers[jobID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		delete(s.timers, jobID)
		s.mu.Unlock()

		s.logger.Info("scheduled job firing", zap.String("job_id", jobID))
		fn(context.Background())
	})
}

// Cancel removes a pending job. Firing and cancelling race benignly: a job
// that already started is expected to re-check state itself.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[jobID]
	if !ok {
		return false
	}
	delete(s.timers, jobID)
	if timer.Stop() {
		s.wg.Done()
		s.logger.Info("scheduled job cancelled", zap.String("job_id", jobID))
		return true
	}
	return false
}

// EnqueueRetry runs fn in the background with doubling backoff until it
// succeeds or attempts are exhausted. Exhaustion is logged, never silent.
func (s *Scheduler) EnqueueRetry(name string, maxAttempts int, backoff time.Duration, fn func(context.Context) error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("scheduler stopped, dropping retry job", zap.String("job", name))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		delay := backoff
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			lastErr = fn(context.Background())
			if lastErr == nil {
				s.logger.Info("retry job succeeded",
					zap.String("job", name),
					zap.Int("attempt", attempt))
				return
			}

			s.logger.Warn("retry job attempt failed",
				zap.String("job", name),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			if attempt < maxAttempts {
				time.Sleep(delay)
				delay *= 2
			}
		}

		s.logger.Error("retry job exhausted attempts",
			zap.String("job", name),
			zap.Int("attempts", maxAttempts),
			zap.Error(lastErr))
	}()
}

// Stop cancels pending jobs and waits for in-flight ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for jobID, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, jobID)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
