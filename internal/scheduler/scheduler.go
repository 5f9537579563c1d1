// Package scheduler fires the nightly backup chain at a fixed local time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ylv-consulting/landops/internal/audit"
)

// RunFunc executes one scheduled run for the given logical date.
type RunFunc func(ctx context.Context, runDate time.Time) error

// Scheduler triggers a run once daily at a configured hour and minute. If
// the previous run is still in flight when the trigger fires, the trigger is
// skipped and the skip is logged and audited; runs never overlap.
type Scheduler struct {
	hour       int
	minute     int
	runTimeout time.Duration
	run        RunFunc
	auditor    audit.Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	now func() time.Time // injectable clock for tests
}

// New creates a scheduler firing daily at hour:minute local time. Each run is
// bounded by runTimeout; a run that exceeds it is aborted and reported failed.
func New(hour, minute int, runTimeout time.Duration, run RunFunc, auditor audit.Recorder, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		hour:       hour,
		minute:     minute,
		runTimeout: runTimeout,
		run:        run,
		auditor:    auditor,
		logger:     logger,
		now:        time.Now,
	}
}

// NextFire returns the next trigger instant strictly after now.
func (s *Scheduler) NextFire(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks, firing runs until ctx is canceled. It returns ctx.Err() after
// any in-flight run has finished.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		slog.String("fires_at", fmt.Sprintf("%02d:%02d", s.hour, s.minute)),
		slog.Duration("run_timeout", s.runTimeout),
	)

	for {
		next := s.NextFire(s.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopping, waiting for in-flight run")
			s.wg.Wait()
			return ctx.Err()

		case <-timer.C:
			s.Trigger(ctx, next)
		}
	}
}

// Trigger fires one run for the scheduled instant, unless a run is already in
// progress. It returns immediately; the run executes on its own goroutine.
// Exposed so an operator entrypoint can force an out-of-schedule run.
func (s *Scheduler) Trigger(ctx context.Context, scheduledAt time.Time) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Skipping trigger, previous run still in progress",
			slog.Time("scheduled_at", scheduledAt),
		)
		s.recordAudit(ctx, audit.Entry{
			Action: "backup.trigger",
			Status: audit.StatusWarning,
			Detail: fmt.Sprintf("scheduled_at=%s skipped: previous run still in progress", scheduledAt.Format(time.RFC3339)),
		})
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()

		s.logger.Info("Scheduled run starting",
			slog.Time("scheduled_at", scheduledAt),
		)

		err := s.run(runCtx, scheduledAt)
		switch {
		case err == nil:
			s.recordAudit(ctx, audit.Entry{
				Action: "backup.run",
				Status: audit.StatusSuccess,
				Detail: fmt.Sprintf("scheduled_at=%s", scheduledAt.Format(time.RFC3339)),
			})
		case runCtx.Err() == context.DeadlineExceeded:
			s.logger.Error("Scheduled run exceeded timeout",
				slog.Time("scheduled_at", scheduledAt),
				slog.Duration("run_timeout", s.runTimeout),
			)
			s.recordAudit(ctx, audit.Entry{
				Action: "backup.run",
				Status: audit.StatusError,
				Detail: fmt.Sprintf("scheduled_at=%s aborted after %s", scheduledAt.Format(time.RFC3339), s.runTimeout),
			})
		default:
			s.logger.Error("Scheduled run failed",
				slog.Time("scheduled_at", scheduledAt),
				slog.Any("error", err),
			)
			s.recordAudit(ctx, audit.Entry{
				Action: "backup.run",
				Status: audit.StatusError,
				Detail: fmt.Sprintf("scheduled_at=%s error=%s", scheduledAt.Format(time.RFC3339), err.Error()),
			})
		}
	}()
}

// Wait blocks until any in-flight run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) recordAudit(ctx context.Context, e audit.Entry) {
	if err := s.auditor.Record(ctx, e); err != nil {
		s.logger.Error("Failed to append audit entry",
			slog.String("action", e.Action),
			slog.Any("error", err),
		)
	}
}
