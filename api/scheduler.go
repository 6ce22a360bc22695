/*
scheduler.go - Cron-triggered payout cycles

PURPOSE:
  Runs the payout cycle for each configured tenant on a cron schedule. The
  engine itself has no clock-driven behavior; this is the external trigger
  for deployments that do not call POST /api/payouts/cycle from their own
  job runner.

DESIGN:
  - One cron entry; each firing runs the tenants one after another
  - A tenant failing (or holding the cycle lock) is logged and the next
    tenant still runs
  - cron.SkipIfStillRunning drops a firing while the previous one is busy
  - Recover keeps a panicking cycle from killing the scheduler

USAGE:
  scheduler := NewCycleScheduler(handler.Cycles, logger, CycleSchedule{
      Spec:    "0 2 1 * *",
      Tenants: []string{"sacco-001"},
      Period:  payout.Monthly,
      Actor:   "scheduler",
  })
  if err := scheduler.Start(); err != nil { ... }
  defer scheduler.Stop()

SEE ALSO:
  - payout/cycle.go: RunCycle
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/sacco-engine/payout"
)

// CycleRunner is the part of payout.Orchestrator the scheduler uses.
type CycleRunner interface {
	RunCycle(ctx context.Context, tenantID string, period payout.CalculationPeriod, actor string) (*payout.CycleReport, error)
}

type CycleSchedule struct {
	Spec    string // standard five-field cron spec
	Tenants []string
	Period  payout.CalculationPeriod
	Actor   string

	// Timeout bounds one tenant's cycle. Zero means one hour.
	Timeout time.Duration
}

// CycleScheduler fires payout cycles on a cron schedule.
type CycleScheduler struct {
	cron     *cron.Cron
	runner   CycleRunner
	schedule CycleSchedule
	logger   *slog.Logger
}

func NewCycleScheduler(runner CycleRunner, logger *slog.Logger, schedule CycleSchedule) *CycleScheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if schedule.Timeout <= 0 {
		schedule.Timeout = time.Hour
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &CycleScheduler{cron: c, runner: runner, schedule: schedule, logger: logger}
}

// Start registers the cycle job and starts the cron scheduler.
func (s *CycleScheduler) Start() error {
	if len(s.schedule.Tenants) == 0 {
		return errors.New("cycle schedule has no tenants")
	}
	if !s.schedule.Period.Valid() {
		return fmt.Errorf("cycle schedule: unknown period %q", s.schedule.Period)
	}
	if _, err := s.cron.AddFunc(s.schedule.Spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("cycle schedule %q: %w", s.schedule.Spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduled payout cycle",
		"schedule", s.schedule.Spec, "tenants", s.schedule.Tenants, "period", s.schedule.Period)
	return nil
}

// Stop stops the scheduler. The returned context is done once a running
// cycle has finished.
func (s *CycleScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs the cycle for every tenant and returns how many completed.
func (s *CycleScheduler) RunOnce(ctx context.Context) int {
	completed := 0
	for _, tenant := range s.schedule.Tenants {
		if ctx.Err() != nil {
			break
		}
		if s.runTenant(ctx, tenant) {
			completed++
		}
	}
	return completed
}

func (s *CycleScheduler) runTenant(ctx context.Context, tenant string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.schedule.Timeout)
	defer cancel()

	log := s.logger.With("tenant_id", tenant, "period", s.schedule.Period)
	report, err := s.runner.RunCycle(ctx, tenant, s.schedule.Period, s.schedule.Actor)
	switch {
	case errors.Is(err, payout.ErrCycleInProgress):
		log.Warn("scheduled payout cycle skipped, already running")
		return false
	case err != nil:
		log.Error("scheduled payout cycle failed", "error", err)
		return false
	}
	log.Info("scheduled payout cycle completed",
		"processed", report.Processing.Processed, "failed", report.Processing.Failed, "duration", report.Duration)
	return true
}
