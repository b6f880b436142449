package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/grabbit/internal/claimer/domain"
)

// PassRunner is the slice of the orchestrator the scheduler drives.
type PassRunner interface {
	RunPass(ctx context.Context, trigger domain.TriggerKind, checkOnly bool) (domain.RunReport, error)
}

// Scheduler fires one full claim pass per day at a fixed UTC wall-clock
// time, plus an optional pass at startup. A trigger that lands while a pass
// (or its two-factor suspension) is still running is dropped, the next
// day's trigger covers it.
type Scheduler struct {
	Runner     PassRunner
	Hour       int // 0-23, UTC
	Minute     int // 0-59
	RunOnStart bool
	Log        *slog.Logger

	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewScheduler(runner PassRunner, hour, minute int, runOnStart bool, log *slog.Logger) *Scheduler {
	return &Scheduler{
		Runner:     runner,
		Hour:       hour,
		Minute:     minute,
		RunOnStart: runOnStart,
		Log:        log,
		now:        time.Now,
	}
}

// Start launches the scheduling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx)
	s.Log.Info("scheduler started",
		"daily_at", time.Date(0, 1, 1, s.Hour, s.Minute, 0, 0, time.UTC).Format("15:04 MST"),
		"run_on_start", s.RunOnStart)
}

// Stop terminates the loop and waits for it to exit. A pass already in
// flight is not interrupted.
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.Log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	if s.RunOnStart {
		s.fire(ctx, domain.TriggerStartup)
	}

	for {
		wait := time.Until(s.nextRun(s.now()))
		timer := time.NewTimer(wait)

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, domain.TriggerScheduled)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, trigger domain.TriggerKind) {
	_, err := s.Runner.RunPass(ctx, trigger, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrTwoFactorPending):
		// the pass continues on its own once a code arrives
	case errors.Is(err, domain.ErrBusy):
		s.Log.Warn("scheduled pass skipped, another run is in progress", "trigger", trigger)
	default:
		s.Log.Error("scheduled pass failed", "trigger", trigger, "error", err)
	}
}

// nextRun returns the next occurrence of Hour:Minute UTC strictly after t.
func (s *Scheduler) nextRun(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
