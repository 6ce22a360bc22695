/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are rendered as fixed two-decimal strings ("1250.00"), rates as
  plain decimal strings. Dates are YYYY-MM-DD, timestamps RFC 3339 in UTC.
  Request amounts are accepted as JSON numbers or strings.

VALIDATION:
  Request types carry validator tags, checked by the handlers through the
  validation package before any store access.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/sacco-engine/charges"
	"github.com/warp/sacco-engine/payout"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// GenerateRequest triggers savings or loan interest generation.
type GenerateRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Period   string `json:"period" validate:"required"`
}

type ProcessPendingRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Actor    string `json:"actor" validate:"required"`
}

type RunCycleRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Period   string `json:"period" validate:"required"`
	Actor    string `json:"actor" validate:"required"`
}

// ActorRequest is the body of single-object actions.
type ActorRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type CancelRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason" validate:"max=255"`
}

type CreateChargeRequest struct {
	TenantID    string          `json:"tenant_id" validate:"required"`
	AccountID   string          `json:"account_id" validate:"required"`
	ChargeType  string          `json:"charge_type" validate:"required,max=64"`
	Description string          `json:"description" validate:"max=255"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	CreatedBy   string          `json:"created_by" validate:"required"`
}

func (r CreateChargeRequest) input() charges.CreateChargeInput {
	return charges.CreateChargeInput{
		TenantID:    r.TenantID,
		AccountID:   r.AccountID,
		ChargeType:  r.ChargeType,
		Description: r.Description,
		Amount:      r.Amount,
		CreatedBy:   r.CreatedBy,
	}
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type PayoutDTO struct {
	ID                   string  `json:"id"`
	TenantID             string  `json:"tenant_id"`
	PayoutType           string  `json:"payout_type"`
	PayoutCategory       string  `json:"payout_category"`
	AccountID            string  `json:"account_id"`
	MemberID             string  `json:"member_id"`
	PrincipalAmount      string  `json:"principal_amount"`
	InterestRate         string  `json:"interest_rate"`
	CalculationPeriod    string  `json:"calculation_period"`
	PeriodStart          string  `json:"period_start"`
	PeriodEnd            string  `json:"period_end"`
	PayoutDate           string  `json:"payout_date"`
	Status               string  `json:"status"`
	InterestAmount       string  `json:"interest_amount"`
	TransactionReference string  `json:"transaction_reference,omitempty"`
	Remarks              string  `json:"remarks,omitempty"`
	Deleted              bool    `json:"deleted,omitempty"`
	CreatedBy            string  `json:"created_by"`
	CreatedAt            string  `json:"created_at"`
	ProcessedBy          string  `json:"processed_by,omitempty"`
	ProcessedAt          *string `json:"processed_at,omitempty"`
}

type AccountDTO struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	MemberID         string `json:"member_id,omitempty"`
	Kind             string `json:"kind"`
	ProductID        string `json:"product_id,omitempty"`
	Status           string `json:"status"`
	AvailableBalance string `json:"available_balance"`
	DebitBalance     string `json:"debit_balance"`
	CreditBalance    string `json:"credit_balance"`
	Version          int    `json:"version"`
}

type TransactionDTO struct {
	ID              string `json:"id"`
	ReferenceNumber string `json:"reference_number"`
	AccountID       string `json:"account_id"`
	EntryType       string `json:"entry_type"`
	Amount          string `json:"amount"`
	Status          string `json:"status"`
	Remarks         string `json:"remarks,omitempty"`
	CreatedBy       string `json:"created_by"`
	CreatedAt       string `json:"created_at"`
}

type ChargeDTO struct {
	ID                   string  `json:"id"`
	TenantID             string  `json:"tenant_id"`
	AccountID            string  `json:"account_id"`
	MemberID             string  `json:"member_id"`
	ChargeType           string  `json:"charge_type"`
	Description          string  `json:"description,omitempty"`
	Amount               string  `json:"amount"`
	Status               string  `json:"status"`
	TransactionReference string  `json:"transaction_reference,omitempty"`
	Remarks              string  `json:"remarks,omitempty"`
	CreatedBy            string  `json:"created_by"`
	CreatedAt            string  `json:"created_at"`
	ProcessedBy          string  `json:"processed_by,omitempty"`
	ProcessedAt          *string `json:"processed_at,omitempty"`
}

type AccountOutcomeDTO struct {
	AccountID      string `json:"account_id"`
	MemberID       string `json:"member_id,omitempty"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	PayoutID       string `json:"payout_id,omitempty"`
	InterestAmount string `json:"interest_amount,omitempty"`
	Error          string `json:"error,omitempty"`
}

type GenerationReportDTO struct {
	TenantID    string              `json:"tenant_id"`
	PayoutType  string              `json:"payout_type"`
	Period      string              `json:"period"`
	PeriodStart string              `json:"period_start"`
	PeriodEnd   string              `json:"period_end"`
	Created     int                 `json:"created"`
	Skipped     int                 `json:"skipped"`
	Errors      int                 `json:"errors"`
	Results     []AccountOutcomeDTO `json:"results"`
}

type ProcessingOutcomeDTO struct {
	PayoutID             string `json:"payout_id"`
	AccountID            string `json:"account_id,omitempty"`
	Status               string `json:"status"`
	Reason               string `json:"reason,omitempty"`
	InterestAmount       string `json:"interest_amount,omitempty"`
	TransactionReference string `json:"transaction_reference,omitempty"`
	Error                string `json:"error,omitempty"`
}

type ProcessingReportDTO struct {
	TenantID  string                 `json:"tenant_id"`
	Processed int                    `json:"processed"`
	Failed    int                    `json:"failed"`
	Skipped   int                    `json:"skipped"`
	Results   []ProcessingOutcomeDTO `json:"results"`
}

type StageTimingDTO struct {
	Stage      string `json:"stage"`
	DurationMS int64  `json:"duration_ms"`
}

type CycleReportDTO struct {
	TenantID    string               `json:"tenant_id"`
	Period      string               `json:"period"`
	Actor       string               `json:"actor"`
	StartedAt   string               `json:"started_at"`
	CompletedAt string               `json:"completed_at"`
	DurationMS  int64                `json:"duration_ms"`
	Savings     *GenerationReportDTO `json:"savings,omitempty"`
	Loans       *GenerationReportDTO `json:"loans,omitempty"`
	Processing  *ProcessingReportDTO `json:"processing,omitempty"`
	Stages      []StageTimingDTO     `json:"stages"`
	AbortedAt   string               `json:"aborted_at,omitempty"`
	Error       string               `json:"error,omitempty"`
}

type StatGroupDTO struct {
	PayoutType     string `json:"payout_type"`
	Status         string `json:"status"`
	Count          int    `json:"count"`
	TotalInterest  string `json:"total_interest"`
	TotalPrincipal string `json:"total_principal"`
}

type StatisticsDTO struct {
	TenantID          string         `json:"tenant_id"`
	From              string         `json:"from"`
	To                string         `json:"to"`
	TotalCount        int            `json:"total_count"`
	TotalInterest     string         `json:"total_interest"`
	PendingInterest   string         `json:"pending_interest"`
	ProcessedInterest string         `json:"processed_interest"`
	FailedInterest    string         `json:"failed_interest"`
	Groups            []StatGroupDTO `json:"groups"`
}

type ChargeOutcomeDTO struct {
	ChargeID             string `json:"charge_id"`
	Amount               string `json:"amount"`
	Status               string `json:"status"`
	TransactionReference string `json:"transaction_reference,omitempty"`
	Error                string `json:"error,omitempty"`
}

type ChargeBatchDTO struct {
	MemberID  string             `json:"member_id"`
	Processed int                `json:"processed"`
	Failed    int                `json:"failed"`
	Results   []ChargeOutcomeDTO `json:"results"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}

func toPayoutDTO(p payout.Payout) PayoutDTO {
	return PayoutDTO{
		ID:                   p.ID,
		TenantID:             p.TenantID,
		PayoutType:           string(p.PayoutType),
		PayoutCategory:       string(p.PayoutCategory),
		AccountID:            p.AccountID,
		MemberID:             p.MemberID,
		PrincipalAmount:      money(p.PrincipalAmount),
		InterestRate:         p.InterestRate.String(),
		CalculationPeriod:    string(p.CalculationPeriod),
		PeriodStart:          p.PeriodStart.Format(payout.DateLayout),
		PeriodEnd:            p.PeriodEnd.Format(payout.DateLayout),
		PayoutDate:           timestamp(p.PayoutDate),
		Status:               string(p.Status),
		InterestAmount:       money(p.InterestAmount),
		TransactionReference: p.TransactionReference,
		Remarks:              p.Remarks,
		Deleted:              p.Deleted,
		CreatedBy:            p.CreatedBy,
		CreatedAt:            timestamp(p.CreatedAt),
		ProcessedBy:          p.ProcessedBy,
		ProcessedAt:          timestampPtr(p.ProcessedAt),
	}
}

func toAccountDTO(a payout.Account) AccountDTO {
	return AccountDTO{
		ID:               a.ID,
		TenantID:         a.TenantID,
		MemberID:         a.MemberID,
		Kind:             string(a.Kind),
		ProductID:        a.ProductID,
		Status:           string(a.Status),
		AvailableBalance: money(a.AvailableBalance),
		DebitBalance:     money(a.DebitBalance),
		CreditBalance:    money(a.CreditBalance),
		Version:          a.Version,
	}
}

func toTransactionDTOs(txs []payout.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:              tx.ID,
			ReferenceNumber: tx.ReferenceNumber,
			AccountID:       tx.AccountID,
			EntryType:       string(tx.EntryType),
			Amount:          money(tx.Amount),
			Status:          string(tx.Status),
			Remarks:         tx.Remarks,
			CreatedBy:       tx.CreatedBy,
			CreatedAt:       timestamp(tx.CreatedAt),
		}
	}
	return dtos
}

func toChargeDTO(c payout.PendingCharge) ChargeDTO {
	return ChargeDTO{
		ID:                   c.ID,
		TenantID:             c.TenantID,
		AccountID:            c.AccountID,
		MemberID:             c.MemberID,
		ChargeType:           c.ChargeType,
		Description:          c.Description,
		Amount:               money(c.Amount),
		Status:               string(c.Status),
		TransactionReference: c.TransactionReference,
		Remarks:              c.Remarks,
		CreatedBy:            c.CreatedBy,
		CreatedAt:            timestamp(c.CreatedAt),
		ProcessedBy:          c.ProcessedBy,
		ProcessedAt:          timestampPtr(c.ProcessedAt),
	}
}

func toGenerationReportDTO(r *payout.GenerationReport) *GenerationReportDTO {
	if r == nil {
		return nil
	}
	dto := &GenerationReportDTO{
		TenantID:    r.TenantID,
		PayoutType:  string(r.PayoutType),
		Period:      string(r.Period),
		PeriodStart: r.Window.Start.Format(payout.DateLayout),
		PeriodEnd:   r.Window.End.Format(payout.DateLayout),
		Created:     r.Created,
		Skipped:     r.Skipped,
		Errors:      r.Errors,
		Results:     make([]AccountOutcomeDTO, len(r.Results)),
	}
	for i, o := range r.Results {
		out := AccountOutcomeDTO{
			AccountID: o.AccountID,
			MemberID:  o.MemberID,
			Status:    string(o.Status),
			Reason:    string(o.Reason),
			PayoutID:  o.PayoutID,
			Error:     o.Error,
		}
		if o.Status == payout.OutcomeCreated || o.Reason == payout.SkipNegligibleInterest {
			out.InterestAmount = money(o.InterestAmount)
		}
		dto.Results[i] = out
	}
	return dto
}

func toProcessingReportDTO(r *payout.ProcessingReport) *ProcessingReportDTO {
	if r == nil {
		return nil
	}
	dto := &ProcessingReportDTO{
		TenantID:  r.TenantID,
		Processed: r.Processed,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Results:   make([]ProcessingOutcomeDTO, len(r.Results)),
	}
	for i, o := range r.Results {
		dto.Results[i] = ProcessingOutcomeDTO{
			PayoutID:             o.PayoutID,
			AccountID:            o.AccountID,
			Status:               string(o.Status),
			Reason:               string(o.Reason),
			InterestAmount:       money(o.InterestAmount),
			TransactionReference: o.TransactionReference,
			Error:                o.Error,
		}
	}
	return dto
}

func toCycleReportDTO(r *payout.CycleReport, cause error) CycleReportDTO {
	dto := CycleReportDTO{
		TenantID:    r.TenantID,
		Period:      string(r.Period),
		Actor:       r.Actor,
		StartedAt:   timestamp(r.StartedAt),
		CompletedAt: timestamp(r.CompletedAt),
		DurationMS:  r.Duration.Milliseconds(),
		Savings:     toGenerationReportDTO(r.Savings),
		Loans:       toGenerationReportDTO(r.Loans),
		Processing:  toProcessingReportDTO(r.Processing),
		Stages:      make([]StageTimingDTO, len(r.Stages)),
		AbortedAt:   r.AbortedAt,
	}
	for i, s := range r.Stages {
		dto.Stages[i] = StageTimingDTO{Stage: s.Stage, DurationMS: s.Duration.Milliseconds()}
	}
	if cause != nil {
		dto.Error = cause.Error()
	}
	return dto
}

func toStatisticsDTO(s *payout.Statistics) StatisticsDTO {
	dto := StatisticsDTO{
		TenantID:          s.TenantID,
		From:              s.From.Format(payout.DateLayout),
		To:                s.To.Format(payout.DateLayout),
		TotalCount:        s.TotalCount,
		TotalInterest:     money(s.TotalInterest),
		PendingInterest:   money(s.PendingInterest),
		ProcessedInterest: money(s.ProcessedInterest),
		FailedInterest:    money(s.FailedInterest),
		Groups:            make([]StatGroupDTO, len(s.Groups)),
	}
	for i, g := range s.Groups {
		dto.Groups[i] = StatGroupDTO{
			PayoutType:     string(g.PayoutType),
			Status:         string(g.Status),
			Count:          g.Count,
			TotalInterest:  money(g.TotalInterest),
			TotalPrincipal: money(g.TotalPrincipal),
		}
	}
	return dto
}

func toChargeBatchDTO(r *charges.ChargeBatchResult) ChargeBatchDTO {
	dto := ChargeBatchDTO{
		MemberID:  r.MemberID,
		Processed: r.Processed,
		Failed:    r.Failed,
		Results:   make([]ChargeOutcomeDTO, len(r.Results)),
	}
	for i, o := range r.Results {
		dto.Results[i] = ChargeOutcomeDTO{
			ChargeID:             o.ChargeID,
			Amount:               money(o.Amount),
			Status:               string(o.Status),
			TransactionReference: o.TransactionReference,
			Error:                o.Error,
		}
	}
	return dto
}
