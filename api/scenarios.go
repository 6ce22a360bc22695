/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	SACCO: GL accounts, products, members and their savings and loan
	accounts. Each scenario is shaped to show one behavior of the engine
	when a cycle is run against it.

AVAILABLE SCENARIOS:

	standard-sacco:  Savings and loan book, one cycle creates and settles both directions
	small-balances:  Balances around the one-cent threshold
	pending-charges: A member with fees, the last one larger than the balance

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create GL accounts for the tenant
 3. Create products and members
 4. Create accounts with opening balances
 5. Optionally record pending charges

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-sacco"}

	POST /api/payouts/cycle
	{"tenant_id": "sacco-001", "period": "MONTHLY", "actor": "demo"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/sacco-engine/charges"
	"github.com/warp/sacco-engine/payout"
)

// DemoTenant is the tenant every scenario seeds.
const DemoTenant = "sacco-001"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-sacco",
		Name:        "Standard SACCO",
		Description: "Savings at 8% and loans at 12%, with an empty and an inactive account that generation skips",
		Category:    "payouts",
	},
	{
		ID:          "small-balances",
		Name:        "Small Balances",
		Description: "Balances whose monthly interest rounds below, at and just above one cent",
		Category:    "payouts",
	},
	{
		ID:          "pending-charges",
		Name:        "Pending Charges",
		Description: "Member fees settled oldest first; the penalty exceeds the balance and stays pending",
		Category:    "charges",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "standard-sacco":
		load = h.loadStandardSacco
	case "small-balances":
		load = h.loadSmallBalances
	case "pending-charges":
		load = h.loadPendingCharges
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	productSavings = "PRD-SAV-8"
	productLoan    = "PRD-LOAN-12"
)

// loadStandardSacco:
//
//	SAV-001  120000.00 @ 8%   -> 800.00 monthly payout
//	SAV-002   45000.50 @ 8%   -> 300.00 monthly payout
//	SAV-003       0.00        -> skipped, non-positive balance
//	SAV-004   10000.00 closed -> not eligible
//	LN-001   300000.00 @ 12%  -> 3000.00 monthly collection
//	LN-002    18000.00 @ 12%  -> 180.00 monthly collection
func (h *Handler) loadStandardSacco(ctx context.Context) error {
	if err := h.seedTenant(ctx); err != nil {
		return err
	}
	members := []payout.Member{
		{ID: "M-001", MemberNumber: "0001", Name: "Amina Njeri"},
		{ID: "M-002", MemberNumber: "0002", Name: "Brian Otieno"},
		{ID: "M-003", MemberNumber: "0003", Name: "Cynthia Wanjiru"},
	}
	if err := h.seedMembers(ctx, members); err != nil {
		return err
	}

	accounts := []payout.Account{
		memberAccount("SAV-001", "M-001", payout.AccountSavings, productSavings, "120000.00"),
		memberAccount("SAV-002", "M-002", payout.AccountSavings, productSavings, "45000.50"),
		memberAccount("SAV-003", "M-003", payout.AccountSavings, productSavings, "0"),
		memberAccount("SAV-004", "M-003", payout.AccountSavings, productSavings, "10000.00"),
		memberAccount("LN-001", "M-001", payout.AccountLoan, productLoan, "300000.00"),
		memberAccount("LN-002", "M-002", payout.AccountLoan, productLoan, "18000.00"),
	}
	accounts[3].Status = payout.AccountClosed
	return h.seedAccounts(ctx, accounts)
}

// loadSmallBalances, at 8% monthly:
//
//	SAV-101  0.50 -> 0.0033 rounds to 0.00, skipped
//	SAV-102  1.50 -> 0.0100, created at the threshold
//	SAV-103  2.00 -> 0.0133 rounds to 0.01, created
func (h *Handler) loadSmallBalances(ctx context.Context) error {
	if err := h.seedTenant(ctx); err != nil {
		return err
	}
	if err := h.seedMembers(ctx, []payout.Member{
		{ID: "M-101", MemberNumber: "0101", Name: "Daniel Kiprop"},
	}); err != nil {
		return err
	}
	return h.seedAccounts(ctx, []payout.Account{
		memberAccount("SAV-101", "M-101", payout.AccountSavings, productSavings, "0.50"),
		memberAccount("SAV-102", "M-101", payout.AccountSavings, productSavings, "1.50"),
		memberAccount("SAV-103", "M-101", payout.AccountSavings, productSavings, "2.00"),
	})
}

// loadPendingCharges: SAV-201 holds 1000.00. Processing the member's
// charges settles the ledger fee and the SMS fee, then rejects the penalty.
func (h *Handler) loadPendingCharges(ctx context.Context) error {
	if err := h.seedTenant(ctx); err != nil {
		return err
	}
	if err := h.seedMembers(ctx, []payout.Member{
		{ID: "M-201", MemberNumber: "0201", Name: "Esther Achieng"},
	}); err != nil {
		return err
	}
	if err := h.seedAccounts(ctx, []payout.Account{
		memberAccount("SAV-201", "M-201", payout.AccountSavings, productSavings, "1000.00"),
	}); err != nil {
		return err
	}

	fees := []struct {
		kind, description, amount string
	}{
		{"LEDGER_FEE", "Annual ledger fee", "200.00"},
		{"SMS_FEE", "Quarterly SMS alerts", "150.00"},
		{"PENALTY", "Late loan repayment penalty", "5000.00"},
	}
	for _, f := range fees {
		if _, err := h.Charges.CreateCharge(ctx, charges.CreateChargeInput{
			TenantID:    DemoTenant,
			AccountID:   "SAV-201",
			ChargeType:  f.kind,
			Description: f.description,
			Amount:      decimal.RequireFromString(f.amount),
			CreatedBy:   "scenario",
		}); err != nil {
			return fmt.Errorf("create %s charge: %w", f.kind, err)
		}
	}
	return nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// seedTenant creates the GL accounts and the two products.
func (h *Handler) seedTenant(ctx context.Context) error {
	gl := DefaultLedgerAccounts()
	for _, id := range []string{gl.InterestExpense, gl.InterestIncome} {
		if err := h.Store.SaveAccount(ctx, payout.Account{
			ID:       id,
			TenantID: DemoTenant,
			Kind:     payout.AccountLedger,
			Status:   payout.AccountActive,
		}); err != nil {
			return fmt.Errorf("save ledger account %s: %w", id, err)
		}
	}

	products := []payout.Product{
		{ID: productSavings, Name: "Ordinary Savings", Kind: payout.AccountSavings, InterestRate: decimal.NewFromInt(8)},
		{ID: productLoan, Name: "Development Loan", Kind: payout.AccountLoan, InterestRate: decimal.NewFromInt(12)},
	}
	for _, p := range products {
		p.TenantID = DemoTenant
		p.Status = payout.ProductActive
		if err := h.Store.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedMembers(ctx context.Context, members []payout.Member) error {
	for _, m := range members {
		m.TenantID = DemoTenant
		m.Status = "ACTIVE"
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return fmt.Errorf("save member %s: %w", m.ID, err)
		}
	}
	return nil
}

func (h *Handler) seedAccounts(ctx context.Context, accounts []payout.Account) error {
	for _, a := range accounts {
		if err := h.Store.SaveAccount(ctx, a); err != nil {
			return fmt.Errorf("save account %s: %w", a.ID, err)
		}
	}
	return nil
}

// memberAccount opens an active account whose balance came in as one credit.
func memberAccount(id, memberID string, kind payout.AccountKind, productID, balance string) payout.Account {
	b := decimal.RequireFromString(balance)
	return payout.Account{
		ID:               id,
		TenantID:         DemoTenant,
		MemberID:         memberID,
		Kind:             kind,
		ProductID:        productID,
		Status:           payout.AccountActive,
		AvailableBalance: b,
		DebitBalance:     decimal.Zero,
		CreditBalance:    b,
	}
}
