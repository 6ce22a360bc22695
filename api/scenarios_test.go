/*
scenarios_test.go - Tests for demo scenario loading

Tests for:
- Every listed scenario loads into a fresh store
- Loading resets previous data
- Small balances around the one-cent threshold
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
)

func TestScenarios_AllLoad(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			_, srv := newTestServer(t)

			loadScenario(t, srv, s.ID)

			rec := do(t, srv, http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, s.ID, decodeBody[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	_, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	// GIVEN: Standard scenario with generated payouts
	_, srv := newTestServer(t)
	loadScenario(t, srv, "standard-sacco")
	do(t, srv, http.MethodPost, "/api/payouts/generate/savings", GenerateRequest{TenantID: DemoTenant, Period: "MONTHLY"})
	require.NotEmpty(t, pendingPayouts(t, srv))

	// WHEN: Loading another scenario
	loadScenario(t, srv, "small-balances")

	// THEN: Old payouts and accounts are gone
	assert.Empty(t, pendingPayouts(t, srv))
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/accounts/SAV-001", nil).Code)
}

func TestSmallBalances_NegligibleInterest(t *testing.T) {
	_, srv := newTestServer(t)
	loadScenario(t, srv, "small-balances")

	rec := do(t, srv, http.MethodPost, "/api/payouts/generate/savings", GenerateRequest{TenantID: DemoTenant, Period: "MONTHLY"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[GenerationReportDTO](t, rec)
	byAccount := map[string]AccountOutcomeDTO{}
	for _, r := range report.Results {
		byAccount[r.AccountID] = r
	}
	assert.Equal(t, string(payout.SkipNegligibleInterest), byAccount["SAV-101"].Reason)
	assert.Equal(t, string(payout.OutcomeCreated), byAccount["SAV-102"].Status)
	assert.Equal(t, "0.01", byAccount["SAV-102"].InterestAmount)
	assert.Equal(t, string(payout.OutcomeCreated), byAccount["SAV-103"].Status)
	assert.Equal(t, 2, report.Created)
}

func TestResetDatabase(t *testing.T) {
	_, srv := newTestServer(t)
	loadScenario(t, srv, "standard-sacco")

	rec := do(t, srv, http.MethodPost, "/api/scenarios/reset", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/accounts/SAV-001", nil).Code)
	assert.Equal(t, "null\n", do(t, srv, http.MethodGet, "/api/scenarios/current", nil).Body.String())
}
