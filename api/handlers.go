/*
handlers.go - HTTP API handlers for the payout engine

PURPOSE:
  Exposes the payout engine and the pending charge service via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  engine services.

ENDPOINTS:
  Payouts:
    POST   /api/payouts/generate/savings  Generate savings interest payouts
    POST   /api/payouts/generate/loans    Generate loan interest collections
    POST   /api/payouts/process-pending   Settle every PENDING payout of a tenant
    POST   /api/payouts/cycle             Generate both directions, then settle
    GET    /api/payouts                   List payouts (tenant_id, status, account_id)
    GET    /api/payouts/statistics        Grouped counts and sums over a date range
    GET    /api/payouts/{id}              Get one payout
    POST   /api/payouts/{id}/process      Settle one payout
    POST   /api/payouts/{id}/cancel       Cancel a PENDING payout
    DELETE /api/payouts/{id}              Soft-delete a PENDING payout

  Ledger:
    GET    /api/accounts/{id}               Account balances
    GET    /api/accounts/{id}/transactions  Ledger lines of one account
    GET    /api/transactions/{reference}    Both lines of one posting

  Charges:
    POST   /api/charges                       Record a pending charge
    GET    /api/charges/{id}                  Get one charge
    POST   /api/charges/{id}/process          Settle one charge
    POST   /api/charges/{id}/cancel           Cancel a PENDING charge
    POST   /api/members/{id}/charges/process  Settle a member's PENDING charges

  Scenarios:
    GET    /api/scenarios       List demo scenarios
    POST   /api/scenarios/load  Load a demo scenario

ARCHITECTURE:
  Handler holds the store and the engine services built on top of it.
  NewHandler wires them from one set of Options so cmd/server and the tests
  assemble the same object graph.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Payout, charge, account not found
  - 409: Not pending, duplicate payout, cycle already running
  - 422: Insufficient balance for a charge
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Actors are taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/sacco-engine/charges"
	"github.com/warp/sacco-engine/payout"
	"github.com/warp/sacco-engine/validation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Options configures the engine services behind the handler. Zero values
// mean: default policy, no cycle lock, no event publishing, discarded logs.
type Options struct {
	Policy         payout.Policy
	LedgerAccounts payout.LedgerAccounts
	CycleLock      payout.CycleLock
	Events         payout.EventPublisher
	Logger         *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     payout.Backend
	Generator *payout.Generator
	Processor *payout.Processor
	Cycles    *payout.Orchestrator
	Reporter  *payout.Reporter
	Charges   *charges.Service

	validate *validation.Helper
	logger   *slog.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler builds the engine services over store.
func NewHandler(store payout.Backend, opts Options) *Handler {
	if opts.Policy == (payout.Policy{}) {
		opts.Policy = payout.DefaultPolicy()
	}
	if opts.LedgerAccounts == nil {
		opts.LedgerAccounts = DefaultLedgerAccounts()
	}
	if opts.Events == nil {
		opts.Events = payout.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	gen := payout.NewGenerator(store, opts.Policy, opts.Logger)
	proc := payout.NewProcessor(store, payout.NewPoster(opts.LedgerAccounts), opts.Events, opts.Logger)

	return &Handler{
		Store:     store,
		Generator: gen,
		Processor: proc,
		Cycles:    payout.NewOrchestrator(gen, proc, opts.CycleLock, opts.Events, opts.Logger),
		Reporter:  payout.NewReporter(store),
		Charges:   charges.NewService(store, opts.Events, opts.Logger),
		validate:  validation.New(),
		logger:    opts.Logger,
	}
}

// DefaultLedgerAccounts are the GL accounts the demo scenarios create.
func DefaultLedgerAccounts() payout.LedgerAccountMap {
	return payout.LedgerAccountMap{
		InterestExpense: "GL-INTEREST-EXPENSE",
		InterestIncome:  "GL-INTEREST-INCOME",
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// GENERATION AND PROCESSING
// =============================================================================

// GenerateSavings creates INTEREST_PAYOUT obligations for the tenant.
// POST /api/payouts/generate/savings
func (h *Handler) GenerateSavings(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, h.Generator.GenerateSavingsInterestPayouts)
}

// GenerateLoans creates INTEREST_COLLECTION obligations for the tenant.
// POST /api/payouts/generate/loans
func (h *Handler) GenerateLoans(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, h.Generator.GenerateLoanInterestCollectionPayouts)
}

type generateFunc func(ctx context.Context, tenantID string, period payout.CalculationPeriod) (*payout.GenerationReport, error)

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, run generateFunc) {
	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := payout.ParsePeriod(req.Period)
	if err != nil {
		writeEngineError(w, "Invalid period", err)
		return
	}

	report, err := run(r.Context(), req.TenantID, period)
	if err != nil {
		writeEngineError(w, "Payout generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerationReportDTO(report))
}

// ProcessPending settles every PENDING payout of a tenant ("*" for all).
// POST /api/payouts/process-pending
func (h *Handler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	var req ProcessPendingRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.Processor.ProcessAllPending(r.Context(), req.TenantID, req.Actor)
	if err != nil {
		writeEngineError(w, "Payout processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessingReportDTO(report))
}

// RunCycle runs generation and processing for one tenant and period.
// POST /api/payouts/cycle
func (h *Handler) RunCycle(w http.ResponseWriter, r *http.Request) {
	var req RunCycleRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := payout.ParsePeriod(req.Period)
	if err != nil {
		writeEngineError(w, "Invalid period", err)
		return
	}

	report, err := h.Cycles.RunCycle(r.Context(), req.TenantID, period, req.Actor)
	if report == nil {
		writeEngineError(w, "Payout cycle failed", err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, toCycleReportDTO(report, err))
}

// =============================================================================
// PAYOUT QUERIES AND ACTIONS
// =============================================================================

// ListPayouts lists a tenant's payouts, oldest first.
// GET /api/payouts?tenant_id=&status=&account_id=&include_deleted=
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payout.PayoutFilter{
		TenantID:  q.Get("tenant_id"),
		Status:    payout.Status(q.Get("status")),
		AccountID: q.Get("account_id"),
	}
	if filter.TenantID == "" {
		writeEngineError(w, "Invalid query", &payout.ValidationError{Field: "tenant_id", Message: "is required"})
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeEngineError(w, "Invalid query", &payout.ValidationError{Field: "status", Message: "is not a payout status"})
		return
	}
	if v := q.Get("include_deleted"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeEngineError(w, "Invalid query", &payout.ValidationError{Field: "include_deleted", Message: "must be a boolean"})
			return
		}
		filter.IncludeDeleted = include
	}

	payouts, err := h.Store.ListPayouts(r.Context(), filter)
	if err != nil {
		writeEngineError(w, "Failed to list payouts", err)
		return
	}
	dtos := make([]PayoutDTO, len(payouts))
	for i, p := range payouts {
		dtos[i] = toPayoutDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStatistics returns grouped counts and sums over a payout-date range.
// GET /api/payouts/statistics?tenant_id=&from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDateParam(q.Get("from"), "from")
	if err != nil {
		writeEngineError(w, "Invalid query", err)
		return
	}
	to, err := parseDateParam(q.Get("to"), "to")
	if err != nil {
		writeEngineError(w, "Invalid query", err)
		return
	}

	stats, err := h.Reporter.Statistics(r.Context(), q.Get("tenant_id"), from, to)
	if err != nil {
		writeEngineError(w, "Failed to compute statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(stats))
}

// GetPayout returns one live payout.
// GET /api/payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPayout(r.Context(), id)
	if err == nil && p.Deleted {
		err = fmt.Errorf("%w: %s", payout.ErrPayoutNotFound, id)
	}
	if err != nil {
		writeEngineError(w, "Failed to get payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// ProcessPayout settles one payout.
// POST /api/payouts/{id}/process
func (h *Handler) ProcessPayout(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Processor.Process(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		writeEngineError(w, "Payout processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// CancelPayout cancels a PENDING payout.
// POST /api/payouts/{id}/cancel
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Processor.Cancel(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to cancel payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(*p))
}

// DeletePayout soft-deletes a PENDING payout, freeing its window.
// DELETE /api/payouts/{id}?actor=
func (h *Handler) DeletePayout(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if err := h.Processor.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		writeEngineError(w, "Failed to delete payout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

// GetAccount returns an account's balances.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Store.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// GetAccountTransactions returns an account's ledger lines, oldest first.
// GET /api/accounts/{id}/transactions
func (h *Handler) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.Store.GetAccount(ctx, id); err != nil {
		writeEngineError(w, "Failed to get account", err)
		return
	}
	txs, err := h.Store.TransactionsByAccount(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetTransactionsByReference returns the lines of one posting.
// GET /api/transactions/{reference}
func (h *Handler) GetTransactionsByReference(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	txs, err := h.Store.TransactionsByReference(r.Context(), ref)
	if err != nil {
		writeEngineError(w, "Failed to get transactions", err)
		return
	}
	if len(txs) == 0 {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// CHARGES
// =============================================================================

// CreateCharge records a PENDING charge.
// POST /api/charges
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var req CreateChargeRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Charges.CreateCharge(r.Context(), req.input())
	if err != nil {
		writeEngineError(w, "Failed to create charge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChargeDTO(*c))
}

// GetCharge returns one charge.
// GET /api/charges/{id}
func (h *Handler) GetCharge(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCharge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Failed to get charge", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*c))
}

// ProcessCharge settles one charge.
// POST /api/charges/{id}/process
func (h *Handler) ProcessCharge(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Charges.ProcessPendingCharge(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		writeEngineError(w, "Charge processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*c))
}

// CancelCharge cancels a PENDING charge.
// POST /api/charges/{id}/cancel
func (h *Handler) CancelCharge(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.Charges.CancelCharge(r.Context(), chi.URLParam(r, "id"), req.Actor, req.Reason)
	if err != nil {
		writeEngineError(w, "Failed to cancel charge", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*c))
}

// ProcessMemberCharges settles a member's PENDING charges oldest first.
// POST /api/members/{id}/charges/process
func (h *Handler) ProcessMemberCharges(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Charges.ProcessMemberPendingCharges(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		writeEngineError(w, "Charge processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeBatchDTO(result))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.ValidateStruct(dst); err != nil {
		writeEngineError(w, "Invalid request body", err)
		return false
	}
	return true
}

func parseDateParam(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, &payout.ValidationError{Field: field, Message: "is required"}
	}
	t, err := time.Parse(payout.DateLayout, v)
	if err != nil {
		return time.Time{}, &payout.ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return t, nil
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, payout.ErrValidation), errors.Is(err, payout.ErrInvalidPeriod):
		return http.StatusBadRequest
	case payout.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, payout.ErrPayoutNotPending),
		errors.Is(err, payout.ErrChargeNotPending),
		errors.Is(err, payout.ErrDuplicatePayout),
		errors.Is(err, payout.ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, payout.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with the status statusFor picks.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = errorDetails(err)
	}
	writeJSON(w, status, resp)
}

func errorDetails(err error) map[string]string {
	var fields *validation.FieldErrors
	if errors.As(err, &fields) {
		return fields.Fields
	}
	var verr *payout.ValidationError
	if errors.As(err, &verr) {
		return map[string]string{verr.Field: verr.Message}
	}
	var short *payout.InsufficientBalanceError
	if errors.As(err, &short) {
		return map[string]string{
			"account_id": short.AccountID,
			"available":  money(short.Available),
			"requested":  money(short.Requested),
		}
	}
	return map[string]string{"cause": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
