package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
	"github.com/warp/sacco-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const tenant = "sacco-001"

var now = time.Date(2025, time.March, 15, 14, 20, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveMember(ctx, payout.Member{ID: "M-1", TenantID: tenant, MemberNumber: "0001", Name: "Amina", Status: "ACTIVE"}))
	require.NoError(t, store.SaveProduct(ctx, payout.Product{
		ID: "PRD-SAV", TenantID: tenant, Name: "Savings", Kind: payout.AccountSavings,
		InterestRate: decimal.NewFromInt(8), Status: payout.ProductActive,
	}))
	require.NoError(t, store.SaveAccount(ctx, payout.Account{
		ID: "SAV-1", TenantID: tenant, MemberID: "M-1", Kind: payout.AccountSavings, ProductID: "PRD-SAV",
		Status: payout.AccountActive, AvailableBalance: decimal.RequireFromString("1000.50"),
		DebitBalance: decimal.Zero, CreditBalance: decimal.RequireFromString("1000.50"),
	}))
	require.NoError(t, store.SaveAccount(ctx, payout.Account{
		ID: "GL-EXP", TenantID: tenant, Kind: payout.AccountLedger, Status: payout.AccountActive,
	}))
}

func testPayout(id string, createdAt time.Time) payout.Payout {
	w := payout.WindowFor(payout.Monthly, now)
	return payout.Payout{
		ID:                id,
		TenantID:          tenant,
		PayoutType:        payout.InterestPayout,
		PayoutCategory:    payout.ProductInterest,
		AccountID:         "SAV-1",
		MemberID:          "M-1",
		PrincipalAmount:   decimal.RequireFromString("1000.50"),
		InterestRate:      decimal.NewFromInt(8),
		CalculationPeriod: payout.Monthly,
		PeriodStart:       w.Start,
		PeriodEnd:         w.End,
		PayoutDate:        now,
		Status:            payout.StatusPending,
		InterestAmount:    decimal.RequireFromString("6.67"),
		CreatedBy:         payout.SystemActor,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestStore_Account_RoundTripKeepsPrecision(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	acct, err := store.GetAccount(context.Background(), "SAV-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.5", acct.AvailableBalance.String())
	assert.Equal(t, payout.AccountActive, acct.Status)
	assert.Equal(t, 0, acct.Version)

	_, err = store.GetAccount(context.Background(), "SAV-MISSING")
	assert.ErrorIs(t, err, payout.ErrAccountNotFound)
}

func TestStore_UpdateAccountBalances_VersionCheck(t *testing.T) {
	// GIVEN: Two readers holding version 0 of the same account
	// WHEN: Both write new balances
	// THEN: The first write wins and the second gets ErrConcurrentModification

	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	a, err := store.GetAccount(ctx, "SAV-1")
	require.NoError(t, err)
	b := *a

	a.ApplyCredit(decimal.NewFromInt(10))
	require.NoError(t, store.UpdateAccountBalances(ctx, *a))

	b.ApplyDebit(decimal.NewFromInt(10))
	err = store.UpdateAccountBalances(ctx, b)
	assert.ErrorIs(t, err, payout.ErrConcurrentModification)

	stored, err := store.GetAccount(ctx, "SAV-1")
	require.NoError(t, err)
	assert.Equal(t, "1010.50", stored.AvailableBalance.StringFixed(2))
	assert.Equal(t, 1, stored.Version)

	missing := payout.Account{ID: "SAV-MISSING"}
	assert.ErrorIs(t, store.UpdateAccountBalances(ctx, missing), payout.ErrAccountNotFound)
}

func TestStore_ListEligibleAccounts_JoinsProductAndMember(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, payout.Account{
		ID: "SAV-0", TenantID: tenant, MemberID: "M-1", Kind: payout.AccountSavings, ProductID: "PRD-SAV",
		Status: payout.AccountClosed, AvailableBalance: decimal.NewFromInt(5),
	}))

	accounts, err := store.ListEligibleAccounts(ctx, tenant, payout.AccountSavings)
	require.NoError(t, err)

	require.Len(t, accounts, 1)
	assert.Equal(t, "SAV-1", accounts[0].Account.ID)
	assert.True(t, accounts[0].Product.InterestRate.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, "Amina", accounts[0].Member.Name)

	loans, err := store.ListEligibleAccounts(ctx, tenant, payout.AccountLoan)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

// =============================================================================
// PAYOUT TESTS
// =============================================================================

func TestStore_Payout_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	p := testPayout("P-1", now)

	require.NoError(t, store.CreatePayout(ctx, p))
	got, err := store.GetPayout(ctx, "P-1")
	require.NoError(t, err)

	assert.Equal(t, p.PeriodStart, got.PeriodStart)
	assert.Equal(t, p.PeriodEnd, got.PeriodEnd)
	assert.True(t, p.PayoutDate.Equal(got.PayoutDate))
	assert.Equal(t, "6.67", got.InterestAmount.StringFixed(2))
	assert.Nil(t, got.ProcessedAt)
	assert.False(t, got.Deleted)

	_, err = store.GetPayout(ctx, "P-MISSING")
	assert.ErrorIs(t, err, payout.ErrPayoutNotFound)
}

func TestStore_CreatePayout_LiveWindowIsUnique(t *testing.T) {
	// GIVEN: A live payout for SAV-1's monthly window
	// WHEN: A second payout for the same key is inserted
	// THEN: The unique index rejects it as ErrDuplicatePayout, until the
	//       first is soft-deleted

	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	require.NoError(t, store.CreatePayout(ctx, testPayout("P-1", now)))

	err := store.CreatePayout(ctx, testPayout("P-2", now))
	assert.ErrorIs(t, err, payout.ErrDuplicatePayout)

	first, err := store.GetPayout(ctx, "P-1")
	require.NoError(t, err)
	first.Deleted = true
	require.NoError(t, store.UpdatePayout(ctx, *first))

	assert.NoError(t, store.CreatePayout(ctx, testPayout("P-2", now)))

	live, err := store.FindPayoutForWindow(ctx, "SAV-1", payout.InterestPayout, payout.WindowFor(payout.Monthly, now))
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, "P-2", live.ID)
}

func TestStore_CreatePayout_SamePrimaryKeyIsNotADuplicateWindow(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	require.NoError(t, store.CreatePayout(ctx, testPayout("P-1", now)))

	other := testPayout("P-1", now)
	other.PayoutType = payout.InterestCollection
	err := store.CreatePayout(ctx, other)
	require.Error(t, err)
	assert.False(t, errors.Is(err, payout.ErrDuplicatePayout))
}

func TestStore_FindPayoutForWindow_None(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)

	p, err := store.FindPayoutForWindow(context.Background(), "SAV-1", payout.InterestPayout, payout.WindowFor(payout.Monthly, now))
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestStore_ListPayouts_OrderAndFilters(t *testing.T) {
	// Creation time orders first; insertion order breaks ties.
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	later := testPayout("P-A", now.Add(time.Minute))
	later.PeriodStart = later.PeriodStart.AddDate(0, 0, -1)
	tieFirst := testPayout("P-C", now)
	tieSecond := testPayout("P-B", now)
	tieSecond.PayoutType = payout.InterestCollection
	tieSecond.Status = payout.StatusProcessed

	for _, p := range []payout.Payout{later, tieFirst, tieSecond} {
		require.NoError(t, store.CreatePayout(ctx, p))
	}

	all, err := store.ListPayouts(ctx, payout.PayoutFilter{TenantID: payout.AllTenants})
	require.NoError(t, err)
	var ids []string
	for _, p := range all {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"P-C", "P-B", "P-A"}, ids)

	pending, err := store.ListPayouts(ctx, payout.PayoutFilter{TenantID: tenant, Status: payout.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	other, err := store.ListPayouts(ctx, payout.PayoutFilter{TenantID: "sacco-002"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_PayoutStatistics_SumsExactly(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	a := testPayout("P-1", now)
	a.InterestAmount = decimal.RequireFromString("0.10")
	b := testPayout("P-2", now)
	b.PeriodStart = b.PeriodStart.AddDate(0, 0, -1)
	b.InterestAmount = decimal.RequireFromString("0.20")
	require.NoError(t, store.CreatePayout(ctx, a))
	require.NoError(t, store.CreatePayout(ctx, b))

	stats, err := store.PayoutStatistics(ctx, tenant, payout.StartOfDay(now), payout.StartOfDay(now).AddDate(0, 0, 1))
	require.NoError(t, err)

	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Count)
	assert.Equal(t, "0.3", stats[0].TotalInterest.String())
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit of work that appends a line and updates a balance
	// WHEN: It returns an error
	// THEN: Neither change is visible afterwards

	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s payout.Store) error {
		acct, err := s.LockAccount(ctx, "SAV-1")
		if err != nil {
			return err
		}
		if err := s.AppendTransactions(ctx, []payout.Transaction{{
			ID: "T-1", ReferenceNumber: "TXN-1", TenantID: tenant, AccountID: "SAV-1",
			EntryType: payout.Credit, Amount: decimal.NewFromInt(5), Status: payout.TransactionCompleted, CreatedAt: now,
		}}); err != nil {
			return err
		}
		acct.ApplyCredit(decimal.NewFromInt(5))
		if err := s.UpdateAccountBalances(ctx, *acct); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acct, err := store.GetAccount(ctx, "SAV-1")
	require.NoError(t, err)
	assert.Equal(t, "1000.50", acct.AvailableBalance.StringFixed(2))
	lines, err := store.TransactionsByReference(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStore_WithTx_Commits(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s payout.Store) error {
		return s.AppendTransactions(ctx, []payout.Transaction{
			{ID: "T-1", ReferenceNumber: "TXN-1", TenantID: tenant, AccountID: "SAV-1", EntryType: payout.Debit,
				Amount: decimal.NewFromInt(5), Status: payout.TransactionCompleted, CreatedAt: now},
			{ID: "T-2", ReferenceNumber: "TXN-1", TenantID: tenant, AccountID: "GL-EXP", EntryType: payout.Credit,
				Amount: decimal.NewFromInt(5), Status: payout.TransactionCompleted, CreatedAt: now},
		})
	})
	require.NoError(t, err)

	lines, err := store.TransactionsByReference(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	byAccount, err := store.TransactionsByAccount(ctx, "SAV-1")
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, payout.Debit, byAccount[0].EntryType)
}

// =============================================================================
// CHARGE TESTS
// =============================================================================

func TestStore_Charges_OldestFirst(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()

	for i, id := range []string{"C-3", "C-1", "C-2"} {
		require.NoError(t, store.CreateCharge(ctx, payout.PendingCharge{
			ID: id, TenantID: tenant, AccountID: "SAV-1", MemberID: "M-1", ChargeType: "FEE",
			Amount: decimal.NewFromInt(int64(i + 1)), Status: payout.StatusPending,
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}))
	}

	list, err := store.ListCharges(ctx, payout.ChargeFilter{MemberID: "M-1", Status: payout.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "C-3", list[0].ID)
	assert.Equal(t, "C-1", list[1].ID)
	assert.Equal(t, "C-2", list[2].ID)

	_, err = store.GetCharge(ctx, "C-MISSING")
	assert.ErrorIs(t, err, payout.ErrChargeNotFound)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	require.NoError(t, store.CreatePayout(ctx, testPayout("P-1", now)))

	require.NoError(t, store.Reset(ctx))

	_, err := store.GetAccount(ctx, "SAV-1")
	assert.ErrorIs(t, err, payout.ErrAccountNotFound)
	all, err := store.ListPayouts(ctx, payout.PayoutFilter{TenantID: payout.AllTenants, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}
