package payout

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY - Generation thresholds and fallback rates
// =============================================================================

// Policy holds the thresholds the generator applies. Rates are percentages.
type Policy struct {
	// MinimumInterest: rounded interest below this is skipped as negligible.
	MinimumInterest decimal.Decimal

	// MinimumBalance: balances at or below this accrue nothing.
	MinimumBalance decimal.Decimal

	// Used when a product carries no positive rate.
	DefaultSavingsRate decimal.Decimal
	DefaultLoanRate    decimal.Decimal
}

// DefaultPolicy skips interest under one cent and non-positive balances.
func DefaultPolicy() Policy {
	return Policy{
		MinimumInterest:    decimal.NewFromFloat(0.01),
		MinimumBalance:     decimal.Zero,
		DefaultSavingsRate: decimal.NewFromInt(4),
		DefaultLoanRate:    decimal.NewFromInt(12),
	}
}

// RateFor returns the product rate, or the default for the account kind when
// the product rate is unset or non-positive.
func (p Policy) RateFor(kind AccountKind, productRate decimal.Decimal) decimal.Decimal {
	if productRate.IsPositive() {
		return productRate
	}
	if kind == AccountLoan {
		return p.DefaultLoanRate
	}
	return p.DefaultSavingsRate
}

// =============================================================================
// LEDGER ACCOUNTS - GL counter-accounts per tenant
// =============================================================================

// LedgerAccounts resolves the GL counter-account a payout posts against:
// interest expense for INTEREST_PAYOUT, interest income for INTEREST_COLLECTION.
type LedgerAccounts interface {
	LedgerAccountFor(tenantID string, payoutType PayoutType) (string, error)
}

// TenantLedger overrides the GL accounts of one tenant. Empty fields fall
// back to the map defaults.
type TenantLedger struct {
	InterestExpense string
	InterestIncome  string
}

// LedgerAccountMap is a static LedgerAccounts with per-tenant overrides.
type LedgerAccountMap struct {
	InterestExpense string
	InterestIncome  string
	Tenants         map[string]TenantLedger
}

func (m LedgerAccountMap) LedgerAccountFor(tenantID string, payoutType PayoutType) (string, error) {
	override := m.Tenants[tenantID]

	var id string
	switch payoutType {
	case InterestPayout:
		id = firstNonEmpty(override.InterestExpense, m.InterestExpense)
	case InterestCollection:
		id = firstNonEmpty(override.InterestIncome, m.InterestIncome)
	default:
		return "", fmt.Errorf("%w: unknown payout type %q", ErrInvalidPosting, payoutType)
	}
	if id == "" {
		return "", fmt.Errorf("%w: tenant %s, %s", ErrLedgerAccountNotConfigured, tenantID, payoutType)
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// HELPERS
// =============================================================================

func utcNow() time.Time { return time.Now().UTC() }

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
