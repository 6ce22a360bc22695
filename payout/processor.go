/*
processor.go - Settles PENDING payouts

PURPOSE:
  Moves a payout PENDING -> PROCESSED by posting it through the Poster, all
  in one unit of work, or records it FAILED when settlement fails.

STATE MACHINE:
  PENDING -> PROCESSED   (Process, posting committed)
  PENDING -> FAILED      (Process, posting or commit failed)
  PENDING -> CANCELLED   (Cancel, operator action)
  PENDING -> deleted     (Delete, soft)
  PROCESSED, FAILED and CANCELLED are terminal. Nothing here retries.

FAILURE RECORDING:
  Rejections (bad input, missing payout, payout not PENDING) leave the payout
  exactly as it was. Any other error rolls back the unit of work; the payout
  is then set FAILED with the error appended to its remarks in a separate
  best-effort write, and the original error is returned. A cancelled or
  expired context is not a payout fault: the payout stays PENDING.

SEE ALSO:
  - ledger.go: Poster
  - cycle.go:  Calls ProcessAllPending as the last cycle stage
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProcessingOutcome is the result of one payout in a batch.
type ProcessingOutcome struct {
	PayoutID             string
	AccountID            string
	Status               OutcomeStatus // PROCESSED, FAILED or SKIPPED
	Reason               SkipReason    // SKIPPED only
	InterestAmount       decimal.Decimal
	TransactionReference string
	Error                string
}

type ProcessingReport struct {
	TenantID  string
	Results   []ProcessingOutcome
	Processed int
	Failed    int
	Skipped   int
}

func (r *ProcessingReport) add(o ProcessingOutcome) {
	r.Results = append(r.Results, o)
	switch o.Status {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

type Processor struct {
	store  TxStore
	poster *Poster
	events EventPublisher
	logger *slog.Logger

	// Now defaults to the wall clock in UTC.
	Now func() time.Time
}

// NewProcessor wires a processor. events may be nil.
func NewProcessor(store TxStore, poster *Poster, events EventPublisher, logger *slog.Logger) *Processor {
	if events == nil {
		events = NopPublisher{}
	}
	return &Processor{
		store:  store,
		poster: poster,
		events: events,
		logger: loggerOrDiscard(logger),
		Now:    utcNow,
	}
}

// Process settles one PENDING payout.
func (pr *Processor) Process(ctx context.Context, payoutID, actor string) (*Payout, error) {
	if payoutID == "" {
		return nil, requiredField("payout_id")
	}
	if actor == "" {
		return nil, requiredField("actor")
	}

	var settled *Payout
	err := pr.store.WithTx(ctx, func(s Store) error {
		p, err := loadLivePayout(ctx, s, payoutID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return &StateError{Kind: "payout", ID: p.ID, Status: p.Status}
		}

		posting, err := pr.poster.Post(ctx, s, *p, actor)
		if err != nil {
			return err
		}

		now := pr.Now()
		p.Status = StatusProcessed
		p.TransactionReference = posting.ReferenceNumber
		p.ProcessedBy = actor
		p.ProcessedAt = &now
		p.UpdatedAt = now
		if err := s.UpdatePayout(ctx, *p); err != nil {
			return fmt.Errorf("update payout %s: %w", p.ID, err)
		}
		settled = p
		return nil
	})

	if err != nil {
		if IsRejection(err) || isContextError(err) {
			return nil, err
		}
		pr.markFailed(ctx, payoutID, actor, err)
		return nil, err
	}

	pr.logger.Info("payout processed",
		"payout_id", settled.ID, "account_id", settled.AccountID,
		"amount", settled.InterestAmount.StringFixed(2), "reference", settled.TransactionReference)
	Emit(ctx, pr.events, pr.logger, RoutingPayoutProcessed, payoutEvent(*settled, actor, pr.Now(), nil))
	return settled, nil
}

// markFailed records cause on the payout in its own unit of work. It runs
// even if ctx was cancelled after the failure.
func (pr *Processor) markFailed(ctx context.Context, payoutID, actor string, cause error) {
	ctx = context.WithoutCancel(ctx)

	var failed *Payout
	err := pr.store.WithTx(ctx, func(s Store) error {
		p, err := loadLivePayout(ctx, s, payoutID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return nil
		}
		now := pr.Now()
		p.Status = StatusFailed
		p.Remarks = AppendRemark(p.Remarks, "processing failed: "+cause.Error())
		p.ProcessedBy = actor
		p.ProcessedAt = &now
		p.UpdatedAt = now
		if err := s.UpdatePayout(ctx, *p); err != nil {
			return err
		}
		failed = p
		return nil
	})
	if err != nil {
		pr.logger.Error("could not record payout failure",
			"payout_id", payoutID, "cause", cause, "error", err)
		return
	}
	if failed == nil {
		return
	}

	pr.logger.Warn("payout failed", "payout_id", payoutID, "error", cause)
	Emit(ctx, pr.events, pr.logger, RoutingPayoutFailed, payoutEvent(*failed, actor, pr.Now(), cause))
}

// ProcessAllPending settles every PENDING payout of the tenant, oldest first.
// tenantID may be AllTenants. One payout failing does not stop the batch;
// a cancelled context does, and the partial report is returned with the
// context error.
func (pr *Processor) ProcessAllPending(ctx context.Context, tenantID, actor string) (*ProcessingReport, error) {
	if tenantID == "" {
		return nil, requiredField("tenant_id")
	}
	if actor == "" {
		return nil, requiredField("actor")
	}

	pending, err := pr.store.ListPayouts(ctx, PayoutFilter{TenantID: tenantID, Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending payouts: %w", err)
	}

	log := pr.logger.With("tenant_id", tenantID, "actor", actor)
	log.Info("pending payout processing started", "pending", len(pending))

	report := &ProcessingReport{TenantID: tenantID}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			log.Warn("pending payout processing interrupted", "error", err, "results", len(report.Results))
			return report, err
		}

		outcome := ProcessingOutcome{
			PayoutID:       p.ID,
			AccountID:      p.AccountID,
			InterestAmount: p.InterestAmount,
		}
		settled, err := pr.Process(ctx, p.ID, actor)
		switch {
		case err == nil:
			outcome.Status = OutcomeProcessed
			outcome.TransactionReference = settled.TransactionReference
		case errors.Is(err, ErrPayoutNotPending) || errors.Is(err, ErrPayoutNotFound):
			// Settled, cancelled or deleted since the listing.
			outcome.Status = OutcomeSkipped
			outcome.Reason = SkipNotPending
			outcome.Error = err.Error()
		default:
			outcome.Status = OutcomeFailed
			outcome.Error = err.Error()
		}
		report.add(outcome)
	}

	log.Info("pending payout processing finished",
		"processed", report.Processed, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// Cancel moves a PENDING payout to CANCELLED.
func (pr *Processor) Cancel(ctx context.Context, payoutID, actor, reason string) (*Payout, error) {
	if payoutID == "" {
		return nil, requiredField("payout_id")
	}
	if actor == "" {
		return nil, requiredField("actor")
	}

	var cancelled *Payout
	err := pr.store.WithTx(ctx, func(s Store) error {
		p, err := loadLivePayout(ctx, s, payoutID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return &StateError{Kind: "payout", ID: p.ID, Status: p.Status}
		}
		now := pr.Now()
		p.Status = StatusCancelled
		p.Remarks = AppendRemark(p.Remarks, cancelRemark(actor, reason))
		p.ProcessedBy = actor
		p.ProcessedAt = &now
		p.UpdatedAt = now
		if err := s.UpdatePayout(ctx, *p); err != nil {
			return err
		}
		cancelled = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	pr.logger.Info("payout cancelled", "payout_id", payoutID, "actor", actor)
	return cancelled, nil
}

// Delete soft-deletes a PENDING payout. The window becomes free for a new
// payout on the next generation.
func (pr *Processor) Delete(ctx context.Context, payoutID, actor string) error {
	if payoutID == "" {
		return requiredField("payout_id")
	}
	if actor == "" {
		return requiredField("actor")
	}

	err := pr.store.WithTx(ctx, func(s Store) error {
		p, err := loadLivePayout(ctx, s, payoutID)
		if err != nil {
			return err
		}
		if p.Status.IsTerminal() {
			return &StateError{Kind: "payout", ID: p.ID, Status: p.Status}
		}
		p.Deleted = true
		p.Remarks = AppendRemark(p.Remarks, "deleted by "+actor)
		p.UpdatedAt = pr.Now()
		return s.UpdatePayout(ctx, *p)
	})
	if err != nil {
		return err
	}
	pr.logger.Info("payout deleted", "payout_id", payoutID, "actor", actor)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func loadLivePayout(ctx context.Context, s Store, id string) (*Payout, error) {
	p, err := s.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrPayoutNotFound, id)
	}
	return p, nil
}

// AppendRemark adds note to a "; "-separated remarks field.
func AppendRemark(remarks, note string) string {
	if strings.TrimSpace(remarks) == "" {
		return note
	}
	return remarks + "; " + note
}

func cancelRemark(actor, reason string) string {
	if reason == "" {
		return "cancelled by " + actor
	}
	return fmt.Sprintf("cancelled by %s: %s", actor, reason)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
