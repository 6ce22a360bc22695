/*
Package payout provides the automated interest payout engine of the SACCO back office.

PURPOSE:
  Computes period interest for member accounts, generates one payout obligation per
  account per accrual window, and settles those obligations through balanced
  double-entry postings. Savings accounts earn interest (owed to the member); loan
  accounts are charged interest (owed by the member). Both directions share one engine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:       A member (or ledger) account with a signed available balance
  - Product:       Savings or loan product carrying the annual interest rate
  - Payout:        One interest obligation for one account over one accrual window
  - Transaction:   An immutable DEBIT or CREDIT ledger line
  - PendingCharge: A fee owed by a member, settled by a single debit

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, never float64
  2. Immutability: Transactions are appended, never updated
  3. Idempotency: At most one live payout per (account, type, window)
  4. Atomicity: Posting, balance updates and payout status change in one unit of work

USAGE:
  gen := payout.NewGenerator(store, payout.DefaultPolicy(), logger)
  report, err := gen.GenerateSavingsInterestPayouts(ctx, "sacco-001", payout.Monthly)

SEE ALSO:
  - period.go:    Accrual windows
  - interest.go:  Interest arithmetic
  - ledger.go:    Double-entry poster
  - generator.go: Payout generation
  - processor.go: Payout settlement
*/
package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllTenants is the explicit wildcard scope accepted by batch processing and
// listing. Generation always requires a concrete tenant.
const AllTenants = "*"

// SystemActor is recorded as the creator of generated payouts.
const SystemActor = "system"

// =============================================================================
// ENUMERATIONS
// =============================================================================

type AccountKind string

const (
	AccountSavings AccountKind = "SAVINGS"
	AccountLoan    AccountKind = "LOAN"
	AccountLedger  AccountKind = "LEDGER" // GL counter-accounts (interest income/expense)
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
	AccountClosed   AccountStatus = "CLOSED"
)

type ProductStatus string

const (
	ProductActive   ProductStatus = "ACTIVE"
	ProductInactive ProductStatus = "INACTIVE"
)

type PayoutType string

const (
	InterestPayout     PayoutType = "INTEREST_PAYOUT"     // owed to the member
	InterestCollection PayoutType = "INTEREST_COLLECTION" // owed by the member
)

type PayoutCategory string

const (
	ProductInterest PayoutCategory = "PRODUCT_INTEREST"
	LoanInterest    PayoutCategory = "LOAN_INTEREST"
)

// Status is shared by payouts and pending charges.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether automated processing no longer acts on the
// status. Only PENDING is open; an unknown status is treated as settled.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type EntryType string

const (
	Debit  EntryType = "DEBIT"
	Credit EntryType = "CREDIT"
)

type TransactionStatus string

const TransactionCompleted TransactionStatus = "COMPLETED"

// =============================================================================
// MEMBERS, PRODUCTS, ACCOUNTS
// =============================================================================

type Member struct {
	ID           string
	TenantID     string
	MemberNumber string
	Name         string
	Status       string
}

// Product carries the annual interest rate as a percentage (8 means 8%).
type Product struct {
	ID           string
	TenantID     string
	Name         string
	Kind         AccountKind
	InterestRate decimal.Decimal
	Status       ProductStatus
}

type Account struct {
	ID               string
	TenantID         string
	MemberID         string
	Kind             AccountKind
	ProductID        string // empty for ledger accounts
	Status           AccountStatus
	AvailableBalance decimal.Decimal
	DebitBalance     decimal.Decimal // cumulative debits
	CreditBalance    decimal.Decimal // cumulative credits
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ApplyDebit lowers the available balance by amount.
func (a *Account) ApplyDebit(amount decimal.Decimal) {
	a.AvailableBalance = a.AvailableBalance.Sub(amount)
	a.DebitBalance = a.DebitBalance.Add(amount)
}

// ApplyCredit raises the available balance by amount.
func (a *Account) ApplyCredit(amount decimal.Decimal) {
	a.AvailableBalance = a.AvailableBalance.Add(amount)
	a.CreditBalance = a.CreditBalance.Add(amount)
}

// EligibleAccount is an account joined with its product and member, as
// returned by the generator's account scan.
type EligibleAccount struct {
	Account Account
	Product Product
	Member  Member
}

// =============================================================================
// PAYOUT - One interest obligation for one account over one window
// =============================================================================

type Payout struct {
	ID                   string
	TenantID             string
	PayoutType           PayoutType
	PayoutCategory       PayoutCategory
	AccountID            string
	MemberID             string
	PrincipalAmount      decimal.Decimal // balance snapshot at generation
	InterestRate         decimal.Decimal // annual percentage snapshot
	CalculationPeriod    CalculationPeriod
	PeriodStart          time.Time
	PeriodEnd            time.Time
	PayoutDate           time.Time
	Status               Status
	InterestAmount       decimal.Decimal
	TransactionReference string
	Remarks              string
	Deleted              bool

	CreatedBy   string
	CreatedAt   time.Time
	ProcessedBy string
	ProcessedAt *time.Time
	UpdatedAt   time.Time
}

// Window returns the payout's accrual window.
func (p Payout) Window() AccrualWindow {
	return AccrualWindow{Start: p.PeriodStart, End: p.PeriodEnd}
}

// PayoutFilter selects payouts for listing. Zero fields match everything
// except TenantID, which must be a tenant or AllTenants.
type PayoutFilter struct {
	TenantID       string
	Status         Status
	AccountID      string
	IncludeDeleted bool
}

// =============================================================================
// TRANSACTION - Immutable ledger line
// =============================================================================

type Transaction struct {
	ID              string
	ReferenceNumber string // shared by a DEBIT line and its paired CREDIT line
	TenantID        string
	AccountID       string
	EntryType       EntryType
	Amount          decimal.Decimal // never negative
	Status          TransactionStatus
	Remarks         string
	CreatedBy       string
	CreatedAt       time.Time
}

// =============================================================================
// PENDING CHARGE - Fee owed by a member, single-sided debit
// =============================================================================

type PendingCharge struct {
	ID                   string
	TenantID             string
	AccountID            string
	MemberID             string
	ChargeType           string
	Description          string
	Amount               decimal.Decimal
	Status               Status
	TransactionReference string
	Remarks              string

	CreatedBy   string
	CreatedAt   time.Time
	ProcessedBy string
	ProcessedAt *time.Time
	UpdatedAt   time.Time
}

type ChargeFilter struct {
	TenantID  string
	MemberID  string
	AccountID string
	Status    Status
}

// =============================================================================
// STATISTICS
// =============================================================================

// PayoutStat aggregates payouts sharing a type and status.
type PayoutStat struct {
	PayoutType     PayoutType
	Status         Status
	Count          int
	TotalInterest  decimal.Decimal
	TotalPrincipal decimal.Decimal
}
