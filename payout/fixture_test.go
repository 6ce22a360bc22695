package payout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
	memstore "github.com/warp/sacco-engine/payout/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	tenant      = "sacco-001"
	glExpense   = "GL-EXP"
	glIncome    = "GL-INC"
	savingsProd = "PRD-SAV"
	loanProd    = "PRD-LN"
	memberID    = "M-1"
)

// March 15 2025, 14:20 UTC. Monthly window is [2025-02-15, 2025-03-15].
var fixedNow = time.Date(2025, time.March, 15, 14, 20, 0, 0, time.UTC)

var testLedger = payout.LedgerAccountMap{InterestExpense: glExpense, InterestIncome: glIncome}

type fixture struct {
	ctx    context.Context
	store  *memstore.TxMemory
	gen    *payout.Generator
	poster *payout.Poster
	proc   *payout.Processor
	events *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memstore.NewTxMemory(),
		events: &recordingPublisher{},
	}
	f.gen = payout.NewGenerator(f.store, payout.DefaultPolicy(), nil)
	f.gen.Now = func() time.Time { return fixedNow }
	f.poster = payout.NewPoster(testLedger)
	f.poster.Now = func() time.Time { return fixedNow }
	f.proc = payout.NewProcessor(f.store, f.poster, f.events, nil)
	f.proc.Now = func() time.Time { return fixedNow }

	f.seedTenant(t, tenant, glExpense, glIncome)
	return f
}

// seedTenant creates the GL accounts, an 8% savings product, a 12% loan
// product and one member.
func (f *fixture) seedTenant(t *testing.T, tenantID, expense, income string) {
	t.Helper()
	for _, id := range []string{expense, income} {
		require.NoError(t, f.store.SaveAccount(f.ctx, payout.Account{
			ID: id, TenantID: tenantID, Kind: payout.AccountLedger, Status: payout.AccountActive,
		}))
	}
	require.NoError(t, f.store.SaveProduct(f.ctx, payout.Product{
		ID: savingsProd, TenantID: tenantID, Kind: payout.AccountSavings,
		InterestRate: decimal.NewFromInt(8), Status: payout.ProductActive,
	}))
	require.NoError(t, f.store.SaveProduct(f.ctx, payout.Product{
		ID: loanProd, TenantID: tenantID, Kind: payout.AccountLoan,
		InterestRate: decimal.NewFromInt(12), Status: payout.ProductActive,
	}))
	require.NoError(t, f.store.SaveMember(f.ctx, payout.Member{
		ID: memberID, TenantID: tenantID, MemberNumber: "0001", Name: "Test Member", Status: "ACTIVE",
	}))
}

func (f *fixture) openSavings(t *testing.T, id, balance string) {
	t.Helper()
	f.openAccount(t, tenant, id, payout.AccountSavings, savingsProd, balance)
}

func (f *fixture) openLoan(t *testing.T, id, balance string) {
	t.Helper()
	f.openAccount(t, tenant, id, payout.AccountLoan, loanProd, balance)
}

func (f *fixture) openAccount(t *testing.T, tenantID, id string, kind payout.AccountKind, productID, balance string) {
	t.Helper()
	b := decimal.RequireFromString(balance)
	require.NoError(t, f.store.SaveAccount(f.ctx, payout.Account{
		ID:               id,
		TenantID:         tenantID,
		MemberID:         memberID,
		Kind:             kind,
		ProductID:        productID,
		Status:           payout.AccountActive,
		AvailableBalance: b,
		DebitBalance:     decimal.Zero,
		CreditBalance:    b,
	}))
}

func (f *fixture) account(t *testing.T, id string) *payout.Account {
	t.Helper()
	a, err := f.store.GetAccount(f.ctx, id)
	require.NoError(t, err)
	return a
}

func (f *fixture) payout(t *testing.T, id string) *payout.Payout {
	t.Helper()
	p, err := f.store.GetPayout(f.ctx, id)
	require.NoError(t, err)
	return p
}

// generateSavings runs savings generation and returns the id of the payout
// created for accountID.
func (f *fixture) generateSavings(t *testing.T, accountID string) string {
	t.Helper()
	report, err := f.gen.GenerateSavingsInterestPayouts(f.ctx, tenant, payout.Monthly)
	require.NoError(t, err)
	for _, r := range report.Results {
		if r.AccountID == accountID && r.Status == payout.OutcomeCreated {
			return r.PayoutID
		}
	}
	t.Fatalf("no payout created for %s", accountID)
	return ""
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// requireDecimal compares by value so 800 and 800.00 are equal.
func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

// recordingPublisher keeps the routing keys and bodies it was handed.
type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies []interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, _, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.bodies = append(p.bodies, body)
	return nil
}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// faultyStore injects errors into an otherwise working store.
type faultyStore struct {
	payout.Store

	listErr   map[payout.AccountKind]error
	createErr map[string]error // by account id
}

func (s *faultyStore) ListEligibleAccounts(ctx context.Context, tenantID string, kind payout.AccountKind) ([]payout.EligibleAccount, error) {
	if err := s.listErr[kind]; err != nil {
		return nil, err
	}
	return s.Store.ListEligibleAccounts(ctx, tenantID, kind)
}

func (s *faultyStore) CreatePayout(ctx context.Context, p payout.Payout) error {
	if err := s.createErr[p.AccountID]; err != nil {
		return err
	}
	return s.Store.CreatePayout(ctx, p)
}

var errStoreDown = errors.New("store unavailable")
