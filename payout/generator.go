/*
generator.go - Creates PENDING payouts for one tenant and one accrual window

PURPOSE:
  Scans eligible accounts and creates at most one PENDING payout per account
  per window. Savings accounts produce INTEREST_PAYOUT obligations owed to the
  member; loan accounts produce INTEREST_COLLECTION obligations owed by the
  member. Both share one pass that differs only in selection and direction.

PER-ACCOUNT DECISION:
  1. Live payout already covers the window  -> SKIPPED already_generated
  2. Balance <= Policy.MinimumBalance        -> SKIPPED non_positive_balance
  3. Rounded interest < Policy.MinimumInterest -> SKIPPED negligible_interest
  4. Otherwise                               -> CREATED (PENDING payout)
  Any error on one account is tagged ERROR and the batch continues.

IDEMPOTENCY:
  The window is day-granular, so re-running on the same day finds the
  payouts the first run created. Two generators racing past step 1 are
  stopped by the store's uniqueness check; ErrDuplicatePayout is reported
  as already_generated.

SEE ALSO:
  - period.go:   WindowFor
  - interest.go: CalculateInterest
  - policy.go:   Thresholds and fallback rates
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

type OutcomeStatus string

const (
	OutcomeCreated   OutcomeStatus = "CREATED"
	OutcomeSkipped   OutcomeStatus = "SKIPPED"
	OutcomeError     OutcomeStatus = "ERROR"
	OutcomeProcessed OutcomeStatus = "PROCESSED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

type SkipReason string

const (
	SkipAlreadyGenerated   SkipReason = "already_generated"
	SkipNonPositiveBalance SkipReason = "non_positive_balance"
	SkipNegligibleInterest SkipReason = "negligible_interest"
	SkipNotPending         SkipReason = "not_pending"
)

// AccountOutcome is the generator's verdict for one account.
type AccountOutcome struct {
	AccountID      string
	MemberID       string
	Status         OutcomeStatus
	Reason         SkipReason // SKIPPED only
	PayoutID       string     // CREATED, or the existing payout for already_generated
	InterestAmount decimal.Decimal
	Error          string // ERROR only
}

type GenerationReport struct {
	TenantID   string
	PayoutType PayoutType
	Period     CalculationPeriod
	Window     AccrualWindow
	Results    []AccountOutcome
	Created    int
	Skipped    int
	Errors     int
}

func (r *GenerationReport) add(o AccountOutcome) {
	r.Results = append(r.Results, o)
	switch o.Status {
	case OutcomeCreated:
		r.Created++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeError:
		r.Errors++
	}
}

// =============================================================================
// GENERATOR
// =============================================================================

type direction struct {
	kind       AccountKind
	payoutType PayoutType
	category   PayoutCategory
}

var (
	savingsDirection = direction{AccountSavings, InterestPayout, ProductInterest}
	loanDirection    = direction{AccountLoan, InterestCollection, LoanInterest}
)

type Generator struct {
	store  Store
	policy Policy
	logger *slog.Logger

	// Now defaults to the wall clock in UTC.
	Now func() time.Time
}

func NewGenerator(store Store, policy Policy, logger *slog.Logger) *Generator {
	return &Generator{
		store:  store,
		policy: policy,
		logger: loggerOrDiscard(logger),
		Now:    utcNow,
	}
}

// GenerateSavingsInterestPayouts creates INTEREST_PAYOUT obligations for
// active savings accounts on active savings products.
func (g *Generator) GenerateSavingsInterestPayouts(ctx context.Context, tenantID string, period CalculationPeriod) (*GenerationReport, error) {
	return g.generate(ctx, tenantID, period, savingsDirection)
}

// GenerateLoanInterestCollectionPayouts creates INTEREST_COLLECTION
// obligations for active loan accounts on active loan products, treating the
// loan's available balance as outstanding principal.
func (g *Generator) GenerateLoanInterestCollectionPayouts(ctx context.Context, tenantID string, period CalculationPeriod) (*GenerationReport, error) {
	return g.generate(ctx, tenantID, period, loanDirection)
}

func (g *Generator) generate(ctx context.Context, tenantID string, period CalculationPeriod, dir direction) (*GenerationReport, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	if !period.Valid() {
		return nil, &ValidationError{Field: "period", Message: fmt.Sprintf("unknown calculation period %q", period)}
	}

	now := g.Now()
	window := WindowFor(period, now)
	report := &GenerationReport{
		TenantID:   tenantID,
		PayoutType: dir.payoutType,
		Period:     period,
		Window:     window,
	}

	accounts, err := g.store.ListEligibleAccounts(ctx, tenantID, dir.kind)
	if err != nil {
		return nil, fmt.Errorf("list eligible %s accounts: %w", dir.kind, err)
	}

	log := g.logger.With("tenant_id", tenantID, "payout_type", dir.payoutType, "period", period, "window", window.String())
	log.Info("payout generation started", "eligible_accounts", len(accounts))

	for _, ea := range accounts {
		if err := ctx.Err(); err != nil {
			log.Warn("payout generation interrupted", "error", err, "results", len(report.Results))
			return report, err
		}
		outcome := g.generateOne(ctx, ea, period, window, dir, now)
		if outcome.Status == OutcomeError {
			log.Warn("payout generation failed for account", "account_id", ea.Account.ID, "error", outcome.Error)
		}
		report.add(outcome)
	}

	log.Info("payout generation finished",
		"created", report.Created, "skipped", report.Skipped, "errors", report.Errors)
	return report, nil
}

func (g *Generator) generateOne(ctx context.Context, ea EligibleAccount, period CalculationPeriod, window AccrualWindow, dir direction, now time.Time) AccountOutcome {
	acct := ea.Account
	outcome := AccountOutcome{AccountID: acct.ID, MemberID: acct.MemberID}

	existing, err := g.store.FindPayoutForWindow(ctx, acct.ID, dir.payoutType, window)
	if err != nil {
		outcome.Status = OutcomeError
		outcome.Error = err.Error()
		return outcome
	}
	if existing != nil {
		outcome.Status = OutcomeSkipped
		outcome.Reason = SkipAlreadyGenerated
		outcome.PayoutID = existing.ID
		return outcome
	}

	principal := acct.AvailableBalance
	if principal.LessThanOrEqual(g.policy.MinimumBalance) {
		outcome.Status = OutcomeSkipped
		outcome.Reason = SkipNonPositiveBalance
		return outcome
	}

	rate := g.policy.RateFor(dir.kind, ea.Product.InterestRate)
	interest := RoundMoney(CalculateInterest(principal, RateFraction(rate), period))
	outcome.InterestAmount = interest
	if interest.LessThan(g.policy.MinimumInterest) {
		outcome.Status = OutcomeSkipped
		outcome.Reason = SkipNegligibleInterest
		return outcome
	}

	p := Payout{
		ID:                uuid.NewString(),
		TenantID:          acct.TenantID,
		PayoutType:        dir.payoutType,
		PayoutCategory:    dir.category,
		AccountID:         acct.ID,
		MemberID:          acct.MemberID,
		PrincipalAmount:   principal,
		InterestRate:      rate,
		CalculationPeriod: period,
		PeriodStart:       window.Start,
		PeriodEnd:         window.End,
		PayoutDate:        now,
		Status:            StatusPending,
		InterestAmount:    interest,
		CreatedBy:         SystemActor,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := g.store.CreatePayout(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicatePayout) {
			outcome.Status = OutcomeSkipped
			outcome.Reason = SkipAlreadyGenerated
			return outcome
		}
		outcome.Status = OutcomeError
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = OutcomeCreated
	outcome.PayoutID = p.ID
	return outcome
}

// validateTenant requires a concrete tenant.
func validateTenant(tenantID string) error {
	if tenantID == "" {
		return requiredField("tenant_id")
	}
	if tenantID == AllTenants {
		return &ValidationError{Field: "tenant_id", Message: "a concrete tenant is required"}
	}
	return nil
}
