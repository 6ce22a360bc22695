package payout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
)

// =============================================================================
// SINGLE PAYOUT TESTS
// =============================================================================

func TestProcessor_Process_SettlesPendingPayout(t *testing.T) {
	// GIVEN: A PENDING 800.00 savings payout
	// WHEN: It is processed
	// THEN: It is PROCESSED, carries the posting reference and the member is credited

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "120000.00")
	id := f.generateSavings(t, "SAV-1")

	settled, err := f.proc.Process(f.ctx, id, "ops")
	require.NoError(t, err)

	assert.Equal(t, payout.StatusProcessed, settled.Status)
	assert.NotEmpty(t, settled.TransactionReference)
	assert.Equal(t, "ops", settled.ProcessedBy)
	require.NotNil(t, settled.ProcessedAt)
	assert.Equal(t, fixedNow, *settled.ProcessedAt)

	stored := f.payout(t, id)
	assert.Equal(t, payout.StatusProcessed, stored.Status)
	assert.Equal(t, settled.TransactionReference, stored.TransactionReference)

	lines, err := f.store.TransactionsByReference(f.ctx, settled.TransactionReference)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	requireDecimal(t, "120800.00", f.account(t, "SAV-1").AvailableBalance)

	assert.Equal(t, []string{payout.RoutingPayoutProcessed}, f.events.routingKeys())
}

func TestProcessor_Process_TerminalStatesAreProtected(t *testing.T) {
	// GIVEN: A payout that was already processed
	// WHEN: It is processed again
	// THEN: The call is rejected and no second posting happens

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "120000.00")
	id := f.generateSavings(t, "SAV-1")
	_, err := f.proc.Process(f.ctx, id, "ops")
	require.NoError(t, err)

	_, err = f.proc.Process(f.ctx, id, "ops")
	assert.ErrorIs(t, err, payout.ErrPayoutNotPending)
	var stateErr *payout.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, payout.StatusProcessed, stateErr.Status)

	requireDecimal(t, "120800.00", f.account(t, "SAV-1").AvailableBalance)
	lines, err := f.store.TransactionsByAccount(f.ctx, "SAV-1")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	assert.Equal(t, payout.StatusProcessed, f.payout(t, id).Status, "rejection leaves the status alone")
}

func TestProcessor_Process_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Process(f.ctx, "", "ops")
	assert.ErrorIs(t, err, payout.ErrValidation)

	_, err = f.proc.Process(f.ctx, "P-1", "")
	assert.ErrorIs(t, err, payout.ErrValidation)

	_, err = f.proc.Process(f.ctx, "P-MISSING", "ops")
	assert.ErrorIs(t, err, payout.ErrPayoutNotFound)
}

func TestProcessor_Process_FailureMarksFailed(t *testing.T) {
	// GIVEN: A PENDING payout whose account no longer exists
	// WHEN: It is processed
	// THEN: The error is returned, the payout is FAILED with the cause in its
	//       remarks and no ledger line is written

	f := newFixture(t)
	p := pendingPayout("P-GONE", "SAV-GONE", payout.InterestPayout, "10.00")
	require.NoError(t, f.store.CreatePayout(f.ctx, p))

	_, err := f.proc.Process(f.ctx, "P-GONE", "ops")
	assert.ErrorIs(t, err, payout.ErrAccountNotFound)

	stored := f.payout(t, "P-GONE")
	assert.Equal(t, payout.StatusFailed, stored.Status)
	assert.Contains(t, stored.Remarks, "processing failed")
	assert.Empty(t, stored.TransactionReference)

	gl, err := f.store.TransactionsByAccount(f.ctx, glExpense)
	require.NoError(t, err)
	assert.Empty(t, gl)
	assert.Equal(t, []string{payout.RoutingPayoutFailed}, f.events.routingKeys())
}

func TestProcessor_Process_CancelledContextLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	id := f.generateSavings(t, "SAV-1")

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.proc.Process(ctx, id, "ops")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, payout.StatusPending, f.payout(t, id).Status)
	requireDecimal(t, "1000.00", f.account(t, "SAV-1").AvailableBalance)
}

// =============================================================================
// BATCH TESTS
// =============================================================================

func TestProcessor_ProcessAllPending_IsolatesFailures(t *testing.T) {
	// GIVEN: An older payout for a missing account and a valid savings payout
	// WHEN: All pending payouts are processed
	// THEN: The first fails, the batch continues and the second is processed

	f := newFixture(t)
	broken := pendingPayout("P-GONE", "SAV-GONE", payout.InterestPayout, "10.00")
	broken.CreatedAt = fixedNow.Add(-time.Hour)
	require.NoError(t, f.store.CreatePayout(f.ctx, broken))

	f.openSavings(t, "SAV-1", "120000.00")
	id := f.generateSavings(t, "SAV-1")

	report, err := f.proc.ProcessAllPending(f.ctx, tenant, "ops")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "P-GONE", report.Results[0].PayoutID, "oldest first")
	assert.Equal(t, payout.OutcomeFailed, report.Results[0].Status)
	assert.NotEmpty(t, report.Results[0].Error)
	assert.Equal(t, id, report.Results[1].PayoutID)
	assert.Equal(t, payout.OutcomeProcessed, report.Results[1].Status)
	assert.NotEmpty(t, report.Results[1].TransactionReference)

	assert.Equal(t, payout.StatusFailed, f.payout(t, "P-GONE").Status)
	assert.Equal(t, payout.StatusProcessed, f.payout(t, id).Status)
}

func TestProcessor_ProcessAllPending_MiddleFailureDoesNotStopBatch(t *testing.T) {
	// GIVEN: Three pending payouts where the second targets a missing account
	// WHEN: All pending payouts are processed
	// THEN: The first and third are settled and only the second is FAILED

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	f.openSavings(t, "SAV-2", "2000.00")

	batch := []payout.Payout{
		pendingPayout("P-1", "SAV-1", payout.InterestPayout, "10.00"),
		pendingPayout("P-2", "SAV-GONE", payout.InterestPayout, "15.00"),
		pendingPayout("P-3", "SAV-2", payout.InterestPayout, "20.00"),
	}
	for i, p := range batch {
		p.CreatedAt = fixedNow.Add(time.Duration(i-3) * time.Hour)
		require.NoError(t, f.store.CreatePayout(f.ctx, p))
	}

	report, err := f.proc.ProcessAllPending(f.ctx, tenant, "ops")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 3)
	assert.Equal(t, []string{"P-1", "P-2", "P-3"}, []string{
		report.Results[0].PayoutID, report.Results[1].PayoutID, report.Results[2].PayoutID,
	})
	assert.Equal(t, payout.OutcomeProcessed, report.Results[0].Status)
	assert.Equal(t, payout.OutcomeFailed, report.Results[1].Status)
	assert.Equal(t, payout.OutcomeProcessed, report.Results[2].Status)

	assert.Equal(t, payout.StatusProcessed, f.payout(t, "P-1").Status)
	assert.Equal(t, payout.StatusFailed, f.payout(t, "P-2").Status)
	assert.Equal(t, payout.StatusProcessed, f.payout(t, "P-3").Status)
	requireDecimal(t, "1010.00", f.account(t, "SAV-1").AvailableBalance)
	requireDecimal(t, "2020.00", f.account(t, "SAV-2").AvailableBalance)
	requireDecimal(t, "-30.00", f.account(t, glExpense).AvailableBalance)
}

func TestProcessor_ProcessAllPending_OnlyPending(t *testing.T) {
	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	f.openSavings(t, "SAV-2", "2000.00")
	report, err := f.gen.GenerateSavingsInterestPayouts(f.ctx, tenant, payout.Monthly)
	require.NoError(t, err)
	_, err = f.proc.Cancel(f.ctx, report.Results[0].PayoutID, "ops", "")
	require.NoError(t, err)

	batch, err := f.proc.ProcessAllPending(f.ctx, tenant, "ops")
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Processed)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, "SAV-2", batch.Results[0].AccountID)
}

func TestProcessor_ProcessAllPending_AllTenants(t *testing.T) {
	// GIVEN: Pending payouts in two tenants with separate GL accounts
	// WHEN: Processing runs for AllTenants
	// THEN: Both are settled against their own tenant's GL account

	f := newFixture(t)
	f.seedTenant(t, "sacco-002", "GL-EXP-2", "GL-INC-2")
	f.poster.Accounts = payout.LedgerAccountMap{
		InterestExpense: glExpense,
		InterestIncome:  glIncome,
		Tenants:         map[string]payout.TenantLedger{"sacco-002": {InterestExpense: "GL-EXP-2", InterestIncome: "GL-INC-2"}},
	}
	f.openSavings(t, "SAV-1", "1200.00")
	f.openAccount(t, "sacco-002", "SAV-2", payout.AccountSavings, savingsProd, "2400.00")

	_, err := f.gen.GenerateSavingsInterestPayouts(f.ctx, tenant, payout.Monthly)
	require.NoError(t, err)
	_, err = f.gen.GenerateSavingsInterestPayouts(f.ctx, "sacco-002", payout.Monthly)
	require.NoError(t, err)

	report, err := f.proc.ProcessAllPending(f.ctx, payout.AllTenants, "ops")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	requireDecimal(t, "-8.00", f.account(t, glExpense).AvailableBalance)
	requireDecimal(t, "-16.00", f.account(t, "GL-EXP-2").AvailableBalance)
}

func TestProcessor_ProcessAllPending_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	id := f.generateSavings(t, "SAV-1")

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	report, err := f.proc.ProcessAllPending(ctx, tenant, "ops")

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Results)
	assert.Equal(t, payout.StatusPending, f.payout(t, id).Status)
}

func TestProcessor_ProcessAllPending_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.ProcessAllPending(f.ctx, "", "ops")
	assert.ErrorIs(t, err, payout.ErrValidation)

	_, err = f.proc.ProcessAllPending(f.ctx, tenant, "")
	assert.ErrorIs(t, err, payout.ErrValidation)
}

// =============================================================================
// CANCEL AND DELETE TESTS
// =============================================================================

func TestProcessor_Cancel(t *testing.T) {
	// GIVEN: A PENDING payout
	// WHEN: It is cancelled with a reason
	// THEN: It is CANCELLED, the reason is in its remarks and its window stays taken

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	id := f.generateSavings(t, "SAV-1")

	cancelled, err := f.proc.Cancel(f.ctx, id, "ops", "member exited")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by ops: member exited", cancelled.Remarks)

	_, err = f.proc.Cancel(f.ctx, id, "ops", "")
	assert.ErrorIs(t, err, payout.ErrPayoutNotPending)
	_, err = f.proc.Process(f.ctx, id, "ops")
	assert.ErrorIs(t, err, payout.ErrPayoutNotPending)

	report, err := f.gen.GenerateSavingsInterestPayouts(f.ctx, tenant, payout.Monthly)
	require.NoError(t, err)
	assert.Equal(t, payout.SkipAlreadyGenerated, report.Results[0].Reason)
}

func TestProcessor_Delete_FreesWindow(t *testing.T) {
	// GIVEN: A PENDING payout
	// WHEN: It is deleted
	// THEN: It is no longer found, and the next generation creates a new one

	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	id := f.generateSavings(t, "SAV-1")

	require.NoError(t, f.proc.Delete(f.ctx, id, "ops"))

	assert.True(t, f.payout(t, id).Deleted)
	_, err := f.proc.Process(f.ctx, id, "ops")
	assert.ErrorIs(t, err, payout.ErrPayoutNotFound)
	assert.ErrorIs(t, f.proc.Delete(f.ctx, id, "ops"), payout.ErrPayoutNotFound)

	listed, err := f.store.ListPayouts(f.ctx, payout.PayoutFilter{TenantID: tenant})
	require.NoError(t, err)
	assert.Empty(t, listed)

	newID := f.generateSavings(t, "SAV-1")
	assert.NotEqual(t, id, newID)
}

func TestProcessor_Delete_OnlyPending(t *testing.T) {
	f := newFixture(t)
	f.openSavings(t, "SAV-1", "1000.00")
	id := f.generateSavings(t, "SAV-1")
	_, err := f.proc.Process(f.ctx, id, "ops")
	require.NoError(t, err)

	err = f.proc.Delete(f.ctx, id, "ops")
	assert.ErrorIs(t, err, payout.ErrPayoutNotPending)
	assert.False(t, f.payout(t, id).Deleted)
}

func TestAppendRemark(t *testing.T) {
	assert.Equal(t, "first", payout.AppendRemark("", "first"))
	assert.Equal(t, "first", payout.AppendRemark("  ", "first"))
	assert.Equal(t, "first; second", payout.AppendRemark("first", "second"))
}
