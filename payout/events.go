package payout

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DOMAIN EVENTS - Published after a unit of work commits
// =============================================================================

// EventsExchange is the topic exchange all engine events go to.
const EventsExchange = "sacco.events"

const (
	RoutingPayoutProcessed = "payout.processed"
	RoutingPayoutFailed    = "payout.failed"
	RoutingChargeProcessed = "charge.processed"
	RoutingChargeFailed    = "charge.failed"
	RoutingCycleCompleted  = "cycle.completed"
)

// EventPublisher is implemented by events/rabbitmq. Delivery is best effort:
// a publish error is logged and never changes the outcome of the operation
// that raised the event.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, interface{}) error { return nil }

type PayoutEvent struct {
	PayoutID             string          `json:"payout_id"`
	TenantID             string          `json:"tenant_id"`
	AccountID            string          `json:"account_id"`
	MemberID             string          `json:"member_id"`
	PayoutType           PayoutType      `json:"payout_type"`
	InterestAmount       decimal.Decimal `json:"interest_amount"`
	Status               Status          `json:"status"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	Error                string          `json:"error,omitempty"`
	Actor                string          `json:"actor"`
	Timestamp            time.Time       `json:"timestamp"`
}

type ChargeEvent struct {
	ChargeID             string          `json:"charge_id"`
	TenantID             string          `json:"tenant_id"`
	AccountID            string          `json:"account_id"`
	MemberID             string          `json:"member_id"`
	ChargeType           string          `json:"charge_type"`
	Amount               decimal.Decimal `json:"amount"`
	Status               Status          `json:"status"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	Error                string          `json:"error,omitempty"`
	Actor                string          `json:"actor"`
	Timestamp            time.Time       `json:"timestamp"`
}

type CycleEvent struct {
	TenantID         string            `json:"tenant_id"`
	Period           CalculationPeriod `json:"period"`
	Actor            string            `json:"actor"`
	PayoutsCreated   int               `json:"payouts_created"`
	PayoutsProcessed int               `json:"payouts_processed"`
	PayoutsFailed    int               `json:"payouts_failed"`
	DurationMillis   int64             `json:"duration_ms"`
	Aborted          bool              `json:"aborted"`
	AbortedAtStage   string            `json:"aborted_at_stage,omitempty"`
	CompletedAt      time.Time         `json:"completed_at"`
}

// Emit publishes body and logs, rather than returns, a delivery failure.
func Emit(ctx context.Context, pub EventPublisher, logger *slog.Logger, routingKey string, body interface{}) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, EventsExchange, routingKey, body); err != nil {
		loggerOrDiscard(logger).Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}

func payoutEvent(p Payout, actor string, at time.Time, cause error) PayoutEvent {
	ev := PayoutEvent{
		PayoutID:             p.ID,
		TenantID:             p.TenantID,
		AccountID:            p.AccountID,
		MemberID:             p.MemberID,
		PayoutType:           p.PayoutType,
		InterestAmount:       p.InterestAmount,
		Status:               p.Status,
		TransactionReference: p.TransactionReference,
		Actor:                actor,
		Timestamp:            at,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}
