/*
Package charges settles fees owed by members against their accounts.

PURPOSE:
  A pending charge is a single-sided obligation: settling it writes one DEBIT
  line on the member account and lowers its balance. There is no GL
  counter-posting; the charge is reconciled by comparing it with the balance.

STATE MACHINE:
  PENDING -> PROCESSED  (balance covers the amount, debit committed)
  PENDING -> FAILED     (missing account or infrastructure fault)
  PENDING -> CANCELLED  (operator action)

  Insufficient balance is a business rejection, not a failure: the charge
  stays PENDING with no ledger line and no balance change, so it can be
  settled once the member tops up.

USAGE:
  svc := charges.NewService(store, publisher, logger)
  charge, err := svc.ProcessPendingCharge(ctx, chargeID, "teller-7")
  var short *payout.InsufficientBalanceError
  if errors.As(err, &short) { ... }
*/
package charges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/sacco-engine/payout"
	"github.com/warp/sacco-engine/validation"
)

// CreateChargeInput is validated before anything is read or written.
type CreateChargeInput struct {
	TenantID    string          `json:"tenant_id" validate:"required"`
	AccountID   string          `json:"account_id" validate:"required"`
	ChargeType  string          `json:"charge_type" validate:"required,max=64"`
	Description string          `json:"description" validate:"max=255"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	CreatedBy   string          `json:"created_by" validate:"required"`
}

// ChargeOutcome is the result of one charge in a member batch.
type ChargeOutcome struct {
	ChargeID             string
	Amount               decimal.Decimal
	Status               payout.Status // PROCESSED, FAILED, or PENDING when rejected
	TransactionReference string
	Error                string
}

// ChargeBatchResult counts a member batch. Failed includes rejections that
// left the charge PENDING.
type ChargeBatchResult struct {
	MemberID  string
	Processed int
	Failed    int
	Results   []ChargeOutcome
}

type Service struct {
	store    payout.TxStore
	validate *validation.Helper
	events   payout.EventPublisher
	logger   *slog.Logger

	// Now defaults to the wall clock in UTC.
	Now func() time.Time
}

// NewService wires the service. events and logger may be nil.
func NewService(store payout.TxStore, events payout.EventPublisher, logger *slog.Logger) *Service {
	if events == nil {
		events = payout.NopPublisher{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:    store,
		validate: validation.New(),
		events:   events,
		logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCharge records a PENDING charge against an existing account of the
// tenant. The member is taken from the account.
func (s *Service) CreateCharge(ctx context.Context, in CreateChargeInput) (*payout.PendingCharge, error) {
	if err := s.validate.ValidateStruct(in); err != nil {
		return nil, err
	}
	amount := payout.RoundMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, &payout.ValidationError{Field: "amount", Message: "must be at least 0.01"}
	}

	acct, err := s.store.GetAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.TenantID != in.TenantID {
		return nil, fmt.Errorf("%w: %s in tenant %s", payout.ErrAccountNotFound, in.AccountID, in.TenantID)
	}

	now := s.Now()
	c := payout.PendingCharge{
		ID:          uuid.NewString(),
		TenantID:    in.TenantID,
		AccountID:   acct.ID,
		MemberID:    acct.MemberID,
		ChargeType:  in.ChargeType,
		Description: in.Description,
		Amount:      amount,
		Status:      payout.StatusPending,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateCharge(ctx, c); err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	s.logger.Info("pending charge created",
		"charge_id", c.ID, "account_id", c.AccountID, "amount", c.Amount.StringFixed(2))
	return &c, nil
}

// ProcessPendingCharge debits the account and marks the charge PROCESSED,
// in one unit of work.
func (s *Service) ProcessPendingCharge(ctx context.Context, chargeID, actor string) (*payout.PendingCharge, error) {
	if chargeID == "" {
		return nil, &payout.ValidationError{Field: "charge_id", Message: "is required"}
	}
	if actor == "" {
		return nil, &payout.ValidationError{Field: "actor", Message: "is required"}
	}

	var settled *payout.PendingCharge
	err := s.store.WithTx(ctx, func(st payout.Store) error {
		c, err := st.GetCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return &payout.StateError{Kind: "charge", ID: c.ID, Status: c.Status}
		}

		acct, err := st.LockAccount(ctx, c.AccountID)
		if err != nil {
			return fmt.Errorf("lock account %s: %w", c.AccountID, err)
		}
		if acct.AvailableBalance.LessThan(c.Amount) {
			return &payout.InsufficientBalanceError{
				AccountID: acct.ID,
				Available: acct.AvailableBalance,
				Requested: c.Amount,
			}
		}

		now := s.Now()
		debit := payout.Transaction{
			ID:              uuid.NewString(),
			ReferenceNumber: "CHG-" + uuid.NewString(),
			TenantID:        c.TenantID,
			AccountID:       acct.ID,
			EntryType:       payout.Debit,
			Amount:          c.Amount,
			Status:          payout.TransactionCompleted,
			Remarks:         fmt.Sprintf("%s charge %s", c.ChargeType, c.ID),
			CreatedBy:       actor,
			CreatedAt:       now,
		}
		if err := st.AppendTransactions(ctx, []payout.Transaction{debit}); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}

		acct.ApplyDebit(c.Amount)
		if err := st.UpdateAccountBalances(ctx, *acct); err != nil {
			return fmt.Errorf("update balance of %s: %w", acct.ID, err)
		}

		c.Status = payout.StatusProcessed
		c.TransactionReference = debit.ReferenceNumber
		c.ProcessedBy = actor
		c.ProcessedAt = &now
		c.UpdatedAt = now
		if err := st.UpdateCharge(ctx, *c); err != nil {
			return fmt.Errorf("update charge %s: %w", c.ID, err)
		}
		settled = c
		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, payout.ErrInsufficientBalance):
			s.logger.Warn("pending charge rejected", "charge_id", chargeID, "error", err)
		case payout.IsRejection(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// charge left as it was
		default:
			s.markFailed(ctx, chargeID, actor, err)
		}
		return nil, err
	}

	s.logger.Info("pending charge processed",
		"charge_id", settled.ID, "account_id", settled.AccountID,
		"amount", settled.Amount.StringFixed(2), "reference", settled.TransactionReference)
	payout.Emit(ctx, s.events, s.logger, payout.RoutingChargeProcessed, chargeEvent(*settled, actor, s.Now(), nil))
	return settled, nil
}

// markFailed records cause on the charge in its own unit of work.
func (s *Service) markFailed(ctx context.Context, chargeID, actor string, cause error) {
	ctx = context.WithoutCancel(ctx)

	var failed *payout.PendingCharge
	err := s.store.WithTx(ctx, func(st payout.Store) error {
		c, err := st.GetCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return nil
		}
		now := s.Now()
		c.Status = payout.StatusFailed
		c.Remarks = payout.AppendRemark(c.Remarks, "processing failed: "+cause.Error())
		c.ProcessedBy = actor
		c.ProcessedAt = &now
		c.UpdatedAt = now
		if err := st.UpdateCharge(ctx, *c); err != nil {
			return err
		}
		failed = c
		return nil
	})
	if err != nil {
		s.logger.Error("could not record charge failure", "charge_id", chargeID, "cause", cause, "error", err)
		return
	}
	if failed == nil {
		return
	}
	s.logger.Warn("pending charge failed", "charge_id", chargeID, "error", cause)
	payout.Emit(ctx, s.events, s.logger, payout.RoutingChargeFailed, chargeEvent(*failed, actor, s.Now(), cause))
}

// ProcessMemberPendingCharges settles the member's PENDING charges oldest
// first. One charge failing does not stop the batch.
func (s *Service) ProcessMemberPendingCharges(ctx context.Context, memberID, actor string) (*ChargeBatchResult, error) {
	if memberID == "" {
		return nil, &payout.ValidationError{Field: "member_id", Message: "is required"}
	}
	if actor == "" {
		return nil, &payout.ValidationError{Field: "actor", Message: "is required"}
	}

	pending, err := s.store.ListCharges(ctx, payout.ChargeFilter{MemberID: memberID, Status: payout.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending charges: %w", err)
	}

	result := &ChargeBatchResult{MemberID: memberID}
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome := ChargeOutcome{ChargeID: c.ID, Amount: c.Amount}
		settled, err := s.ProcessPendingCharge(ctx, c.ID, actor)
		if err != nil {
			outcome.Error = err.Error()
			outcome.Status = payout.StatusFailed
			if payout.IsRejection(err) || errors.Is(err, payout.ErrInsufficientBalance) {
				outcome.Status = payout.StatusPending
			}
			result.Failed++
		} else {
			outcome.Status = payout.StatusProcessed
			outcome.TransactionReference = settled.TransactionReference
			result.Processed++
		}
		result.Results = append(result.Results, outcome)
	}

	s.logger.Info("member pending charges processed",
		"member_id", memberID, "processed", result.Processed, "failed", result.Failed)
	return result, nil
}

// CancelCharge moves a PENDING charge to CANCELLED.
func (s *Service) CancelCharge(ctx context.Context, chargeID, actor, reason string) (*payout.PendingCharge, error) {
	if chargeID == "" {
		return nil, &payout.ValidationError{Field: "charge_id", Message: "is required"}
	}
	if actor == "" {
		return nil, &payout.ValidationError{Field: "actor", Message: "is required"}
	}

	var cancelled *payout.PendingCharge
	err := s.store.WithTx(ctx, func(st payout.Store) error {
		c, err := st.GetCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if c.Status.IsTerminal() {
			return &payout.StateError{Kind: "charge", ID: c.ID, Status: c.Status}
		}
		note := "cancelled by " + actor
		if reason != "" {
			note += ": " + reason
		}
		now := s.Now()
		c.Status = payout.StatusCancelled
		c.Remarks = payout.AppendRemark(c.Remarks, note)
		c.ProcessedBy = actor
		c.ProcessedAt = &now
		c.UpdatedAt = now
		if err := st.UpdateCharge(ctx, *c); err != nil {
			return err
		}
		cancelled = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func chargeEvent(c payout.PendingCharge, actor string, at time.Time, cause error) payout.ChargeEvent {
	ev := payout.ChargeEvent{
		ChargeID:             c.ID,
		TenantID:             c.TenantID,
		AccountID:            c.AccountID,
		MemberID:             c.MemberID,
		ChargeType:           c.ChargeType,
		Amount:               c.Amount,
		Status:               c.Status,
		TransactionReference: c.TransactionReference,
		Actor:                actor,
		Timestamp:            at,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}
