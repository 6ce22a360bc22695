package payout

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// CYCLE ORCHESTRATOR - Generate both directions, then settle
// =============================================================================
//
// A cycle runs three stages in order:
//
//	savings_generation -> loan_generation -> processing
//
// Accounts inside a stage are isolated from each other. A stage that returns
// an error (the store is down, the context is cancelled) aborts the cycle:
// the report so far is returned together with a *StageError.

const (
	StageSavingsGeneration = "savings_generation"
	StageLoanGeneration    = "loan_generation"
	StageProcessing        = "processing"
)

// CycleLock serializes cycles for the same key across processes. Acquire
// returns ErrCycleInProgress when another holder has the key.
type CycleLock interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

type StageTiming struct {
	Stage    string
	Started  time.Time
	Duration time.Duration
}

type CycleReport struct {
	TenantID    string
	Period      CalculationPeriod
	Actor       string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	Savings    *GenerationReport
	Loans      *GenerationReport
	Processing *ProcessingReport
	Stages     []StageTiming

	// AbortedAt names the failed stage; empty when the cycle completed.
	AbortedAt string
}

type Orchestrator struct {
	generator *Generator
	processor *Processor
	lock      CycleLock
	events    EventPublisher
	logger    *slog.Logger

	// Now defaults to the wall clock in UTC.
	Now func() time.Time
}

// NewOrchestrator wires a cycle runner. lock and events may be nil.
func NewOrchestrator(gen *Generator, proc *Processor, lock CycleLock, events EventPublisher, logger *slog.Logger) *Orchestrator {
	if events == nil {
		events = NopPublisher{}
	}
	return &Orchestrator{
		generator: gen,
		processor: proc,
		lock:      lock,
		events:    events,
		logger:    loggerOrDiscard(logger),
		Now:       utcNow,
	}
}

// CycleLockKey is the lock key of one tenant and period.
func CycleLockKey(tenantID string, period CalculationPeriod) string {
	return fmt.Sprintf("payout-cycle:%s:%s", tenantID, period)
}

// RunCycle generates savings and loan payouts for the tenant, then settles
// every PENDING payout of the tenant.
func (o *Orchestrator) RunCycle(ctx context.Context, tenantID string, period CalculationPeriod, actor string) (*CycleReport, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	if !period.Valid() {
		return nil, &ValidationError{Field: "period", Message: fmt.Sprintf("unknown calculation period %q", period)}
	}
	if actor == "" {
		return nil, requiredField("actor")
	}

	if o.lock != nil {
		release, err := o.lock.Acquire(ctx, CycleLockKey(tenantID, period))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn("cycle lock release failed", "tenant_id", tenantID, "error", err)
			}
		}()
	}

	report := &CycleReport{
		TenantID:  tenantID,
		Period:    period,
		Actor:     actor,
		StartedAt: o.Now(),
	}
	log := o.logger.With("tenant_id", tenantID, "period", period, "actor", actor)
	log.Info("payout cycle started")

	stages := []struct {
		name string
		run  func() error
	}{
		{StageSavingsGeneration, func() (err error) {
			report.Savings, err = o.generator.GenerateSavingsInterestPayouts(ctx, tenantID, period)
			return err
		}},
		{StageLoanGeneration, func() (err error) {
			report.Loans, err = o.generator.GenerateLoanInterestCollectionPayouts(ctx, tenantID, period)
			return err
		}},
		{StageProcessing, func() (err error) {
			report.Processing, err = o.processor.ProcessAllPending(ctx, tenantID, actor)
			return err
		}},
	}

	for _, stage := range stages {
		started := o.Now()
		err := stage.run()
		report.Stages = append(report.Stages, StageTiming{
			Stage:    stage.name,
			Started:  started,
			Duration: o.Now().Sub(started),
		})
		if err != nil {
			report.AbortedAt = stage.name
			o.finish(ctx, report)
			log.Error("payout cycle aborted", "stage", stage.name, "error", err)
			return report, &StageError{Stage: stage.name, Err: err}
		}
	}

	o.finish(ctx, report)
	log.Info("payout cycle finished",
		"created", report.created(), "processed", report.Processing.Processed,
		"failed", report.Processing.Failed, "duration", report.Duration)
	return report, nil
}

func (o *Orchestrator) finish(ctx context.Context, r *CycleReport) {
	r.CompletedAt = o.Now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)

	ev := CycleEvent{
		TenantID:       r.TenantID,
		Period:         r.Period,
		Actor:          r.Actor,
		PayoutsCreated: r.created(),
		DurationMillis: r.Duration.Milliseconds(),
		Aborted:        r.AbortedAt != "",
		AbortedAtStage: r.AbortedAt,
		CompletedAt:    r.CompletedAt,
	}
	if r.Processing != nil {
		ev.PayoutsProcessed = r.Processing.Processed
		ev.PayoutsFailed = r.Processing.Failed
	}
	Emit(context.WithoutCancel(ctx), o.events, o.logger, RoutingCycleCompleted, ev)
}

func (r *CycleReport) created() int {
	n := 0
	if r.Savings != nil {
		n += r.Savings.Created
	}
	if r.Loans != nil {
		n += r.Loans.Created
	}
	return n
}
