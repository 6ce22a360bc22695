package payout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func pendingPayout(id, accountID string, payoutType payout.PayoutType, amount string) payout.Payout {
	w := payout.WindowFor(payout.Monthly, fixedNow)
	return payout.Payout{
		ID:                id,
		TenantID:          tenant,
		PayoutType:        payoutType,
		AccountID:         accountID,
		MemberID:          memberID,
		InterestAmount:    dec(amount),
		CalculationPeriod: payout.Monthly,
		PeriodStart:       w.Start,
		PeriodEnd:         w.End,
		Status:            payout.StatusPending,
	}
}

func (f *fixture) post(p payout.Payout) (*payout.Posting, error) {
	var posting *payout.Posting
	err := f.store.WithTx(f.ctx, func(s payout.Store) error {
		var err error
		posting, err = f.poster.Post(f.ctx, s, p, "tester")
		return err
	})
	return posting, err
}

// =============================================================================
// DOUBLE-ENTRY TESTS
// =============================================================================

func TestPoster_InterestPayout_DebitsExpenseCreditsMember(t *testing.T) {
	// GIVEN: A savings account with 120000.00 and an 800.00 interest payout
	// WHEN: The payout is posted
	// THEN: GL expense is debited, the member is credited, both lines share a reference

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "120000.00")
	f.poster.NewReference = func() string { return "TXN-1" }

	posting, err := f.post(pendingPayout("P-1", "SAV-1", payout.InterestPayout, "800.00"))
	require.NoError(t, err)

	assert.Equal(t, "TXN-1", posting.ReferenceNumber)
	assert.Equal(t, glExpense, posting.Debit.AccountID)
	assert.Equal(t, payout.Debit, posting.Debit.EntryType)
	assert.Equal(t, "SAV-1", posting.Credit.AccountID)
	assert.Equal(t, payout.Credit, posting.Credit.EntryType)
	assert.Equal(t, "tester", posting.Debit.CreatedBy)

	member := f.account(t, "SAV-1")
	requireDecimal(t, "120800.00", member.AvailableBalance)
	requireDecimal(t, "120800.00", member.CreditBalance)
	assert.Equal(t, 1, member.Version)

	gl := f.account(t, glExpense)
	requireDecimal(t, "-800.00", gl.AvailableBalance)
	requireDecimal(t, "800.00", gl.DebitBalance)

	lines, err := f.store.TransactionsByReference(f.ctx, "TXN-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	for _, l := range lines {
		requireDecimal(t, "800.00", l.Amount)
		assert.Equal(t, payout.TransactionCompleted, l.Status)
		assert.Contains(t, l.Remarks, "P-1")
	}
}

func TestPoster_InterestCollection_DebitsMemberCreditsIncome(t *testing.T) {
	f := newFixture(t)
	f.openLoan(t, "LN-1", "300000.00")

	posting, err := f.post(pendingPayout("P-1", "LN-1", payout.InterestCollection, "3000.00"))
	require.NoError(t, err)

	assert.Equal(t, "LN-1", posting.Debit.AccountID)
	assert.Equal(t, glIncome, posting.Credit.AccountID)

	loan := f.account(t, "LN-1")
	requireDecimal(t, "297000.00", loan.AvailableBalance)
	requireDecimal(t, "3000.00", loan.DebitBalance)
	requireDecimal(t, "3000.00", f.account(t, glIncome).AvailableBalance)
}

func TestPoster_DebitsEqualCredits(t *testing.T) {
	// GIVEN: Several postings in both directions
	// WHEN: Every ledger line is summed by entry type
	// THEN: Total debits equal total credits

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	f.openLoan(t, "LN-1", "5000.00")

	_, err := f.post(pendingPayout("P-1", "SAV-1", payout.InterestPayout, "6.67"))
	require.NoError(t, err)
	_, err = f.post(pendingPayout("P-2", "LN-1", payout.InterestCollection, "50.00"))
	require.NoError(t, err)
	_, err = f.post(pendingPayout("P-3", "SAV-1", payout.InterestPayout, "0.01"))
	require.NoError(t, err)

	debits, credits := dec("0"), dec("0")
	for _, id := range []string{"SAV-1", "LN-1", glExpense, glIncome} {
		lines, err := f.store.TransactionsByAccount(f.ctx, id)
		require.NoError(t, err)
		for _, l := range lines {
			if l.EntryType == payout.Debit {
				debits = debits.Add(l.Amount)
			} else {
				credits = credits.Add(l.Amount)
			}
		}
	}
	requireDecimal(t, "56.68", debits)
	requireDecimal(t, "56.68", credits)
}

// =============================================================================
// REJECTION TESTS
// =============================================================================

func TestPoster_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")

	for _, amount := range []string{"0", "-5.00"} {
		_, err := f.post(pendingPayout("P-1", "SAV-1", payout.InterestPayout, amount))
		assert.ErrorIs(t, err, payout.ErrInvalidPosting, amount)
	}

	txs, err := f.store.TransactionsByAccount(f.ctx, "SAV-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPoster_RejectsSameDebitAndCredit(t *testing.T) {
	f := newFixture(t)

	_, err := f.post(pendingPayout("P-1", glExpense, payout.InterestPayout, "10.00"))
	assert.ErrorIs(t, err, payout.ErrInvalidPosting)
}

func TestPoster_LedgerAccountNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	f.poster.Accounts = payout.LedgerAccountMap{InterestIncome: glIncome}

	_, err := f.post(pendingPayout("P-1", "SAV-1", payout.InterestPayout, "10.00"))
	assert.ErrorIs(t, err, payout.ErrLedgerAccountNotConfigured)
}

func TestPoster_MissingAccount_RollsBack(t *testing.T) {
	// GIVEN: The configured GL account does not exist in the store
	// WHEN: A payout is posted inside a unit of work
	// THEN: The posting fails and the member balance is unchanged

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	f.poster.Accounts = payout.LedgerAccountMap{InterestExpense: "ZZ-GL-MISSING", InterestIncome: glIncome}

	_, err := f.post(pendingPayout("P-1", "SAV-1", payout.InterestPayout, "10.00"))
	assert.ErrorIs(t, err, payout.ErrAccountNotFound)

	member := f.account(t, "SAV-1")
	requireDecimal(t, "1000.00", member.AvailableBalance)
	assert.Equal(t, 0, member.Version)
	txs, err := f.store.TransactionsByAccount(f.ctx, "SAV-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}
