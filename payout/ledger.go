/*
ledger.go - Double-entry posting of a payout

PURPOSE:
  Turns one payout into a balanced pair of ledger lines and the matching
  balance changes on both accounts. Runs inside the caller's unit of work;
  it never commits on its own.

DIRECTION:
  INTEREST_PAYOUT:     DEBIT interest expense (GL)  -> CREDIT member account
  INTEREST_COLLECTION: DEBIT member account         -> CREDIT interest income (GL)

LOCK ORDER:
  Both accounts are locked in ascending id order. Two postings touching the
  same pair of accounts therefore always lock in the same order.

SEE ALSO:
  - processor.go: Owns the unit of work and the payout status change
  - policy.go:    LedgerAccounts resolution
*/
package payout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Posting is the result of a successful Post.
type Posting struct {
	ReferenceNumber string
	Debit           Transaction
	Credit          Transaction
}

// Poster posts payouts against the GL accounts resolved by Accounts.
type Poster struct {
	Accounts LedgerAccounts

	// Now defaults to the wall clock in UTC.
	Now func() time.Time

	// NewReference defaults to a uuid-based reference number.
	NewReference func() string
}

func NewPoster(accounts LedgerAccounts) *Poster {
	return &Poster{
		Accounts:     accounts,
		Now:          utcNow,
		NewReference: newReferenceNumber,
	}
}

func newReferenceNumber() string {
	return "TXN-" + uuid.NewString()
}

// Post appends a DEBIT and a CREDIT line for p.InterestAmount under one
// reference number and updates both balances. s must be the Store handed to
// a WithTx callback.
func (ps *Poster) Post(ctx context.Context, s Store, p Payout, actor string) (*Posting, error) {
	amount := p.InterestAmount
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s on payout %s", ErrInvalidPosting, amount, p.ID)
	}

	glAccount, err := ps.Accounts.LedgerAccountFor(p.TenantID, p.PayoutType)
	if err != nil {
		return nil, err
	}

	var debitID, creditID string
	switch p.PayoutType {
	case InterestPayout:
		debitID, creditID = glAccount, p.AccountID
	case InterestCollection:
		debitID, creditID = p.AccountID, glAccount
	default:
		return nil, fmt.Errorf("%w: unknown payout type %q", ErrInvalidPosting, p.PayoutType)
	}
	if debitID == creditID {
		return nil, fmt.Errorf("%w: debit and credit account are both %s", ErrInvalidPosting, debitID)
	}

	// Lock in id order
	ids := []string{debitID, creditID}
	sort.Strings(ids)
	locked := make(map[string]*Account, 2)
	for _, id := range ids {
		acct, err := s.LockAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		locked[id] = acct
	}

	now := ps.Now()
	ref := ps.NewReference()
	remarks := fmt.Sprintf("%s %s for %s %s", p.PayoutType, p.ID, p.CalculationPeriod, p.Window())

	debit := Transaction{
		ID:              uuid.NewString(),
		ReferenceNumber: ref,
		TenantID:        p.TenantID,
		AccountID:       debitID,
		EntryType:       Debit,
		Amount:          amount,
		Status:          TransactionCompleted,
		Remarks:         remarks,
		CreatedBy:       actor,
		CreatedAt:       now,
	}
	credit := debit
	credit.ID = uuid.NewString()
	credit.AccountID = creditID
	credit.EntryType = Credit

	if err := s.AppendTransactions(ctx, []Transaction{debit, credit}); err != nil {
		return nil, fmt.Errorf("append transactions %s: %w", ref, err)
	}

	locked[debitID].ApplyDebit(amount)
	locked[creditID].ApplyCredit(amount)
	for _, id := range ids {
		if err := s.UpdateAccountBalances(ctx, *locked[id]); err != nil {
			return nil, fmt.Errorf("update balance of %s: %w", id, err)
		}
	}

	return &Posting{ReferenceNumber: ref, Debit: debit, Credit: credit}, nil
}
