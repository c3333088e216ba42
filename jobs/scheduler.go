// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package jobs runs periodic maintenance: ledger reconciliation sweeps and
// invite expiry sweeps.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/danielhkuo/chainballot/models"
)

type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]models.ReconcileReport, error)
}

type Expirer interface {
	ExpireStale(ctx context.Context, electionID string) (int64, error)
}

// Scheduler owns a cron instance. Overlapping runs of the same job are
// skipped rather than queued.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	expirer    Expirer
	logger     *slog.Logger
}

func New(reconciler Reconciler, expirer Expirer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "jobs")
	cl := cronLogger{logger}

	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reconciler: reconciler,
		expirer:    expirer,
		logger:     logger,
	}
}

// Schedule registers the jobs. An empty spec leaves that job out. Jobs run
// with ctx, which should be the lifetime of the scheduler.
func (s *Scheduler) Schedule(ctx context.Context, reconcileSpec, expireSpec string) error {
	if reconcileSpec != "" {
		if _, err := s.cron.AddFunc(reconcileSpec, func() { s.RunReconcile(ctx) }); err != nil {
			return fmt.Errorf("invalid reconcile schedule %q: %w", reconcileSpec, err)
		}
		s.logger.Info("reconciliation scheduled", "schedule", reconcileSpec)
	}
	if expireSpec != "" {
		if _, err := s.cron.AddFunc(expireSpec, func() { s.RunExpire(ctx) }); err != nil {
			return fmt.Errorf("invalid expiry schedule %q: %w", expireSpec, err)
		}
		s.logger.Info("invite expiry scheduled", "schedule", expireSpec)
	}
	return nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) RunReconcile(ctx context.Context) {
	reports, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", "event", "job_reconcile_failed", "error", err)
		return
	}

	failed := 0
	for _, r := range reports {
		failed += r.Failed
	}
	s.logger.Info("scheduled reconciliation finished",
		"event", "job_reconcile_completed",
		"elections", len(reports),
		"failed_candidates", failed,
	)
}

func (s *Scheduler) RunExpire(ctx context.Context) {
	n, err := s.expirer.ExpireStale(ctx, "")
	if err != nil {
		s.logger.Error("scheduled invite expiry failed", "event", "job_expire_failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("scheduled invite expiry finished", "event", "job_expire_completed", "expired", n)
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
