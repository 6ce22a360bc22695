package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Statistics summarizes a tenant's live payouts whose payout date falls in
// [From, To], both days inclusive.
type Statistics struct {
	TenantID string
	From     time.Time
	To       time.Time
	Groups   []PayoutStat

	TotalCount        int
	TotalInterest     decimal.Decimal
	PendingInterest   decimal.Decimal
	ProcessedInterest decimal.Decimal
	FailedInterest    decimal.Decimal
}

// Reporter serves read-only payout statistics.
type Reporter struct {
	store PayoutStore
}

func NewReporter(store PayoutStore) *Reporter {
	return &Reporter{store: store}
}

// Statistics groups counts and sums by payout type and status.
func (r *Reporter) Statistics(ctx context.Context, tenantID string, from, to time.Time) (*Statistics, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	from, to = StartOfDay(from), StartOfDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidPeriod, from.Format(DateLayout), to.Format(DateLayout))
	}

	groups, err := r.store.PayoutStatistics(ctx, tenantID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("payout statistics: %w", err)
	}

	stats := &Statistics{
		TenantID:          tenantID,
		From:              from,
		To:                to,
		Groups:            groups,
		TotalInterest:     decimal.Zero,
		PendingInterest:   decimal.Zero,
		ProcessedInterest: decimal.Zero,
		FailedInterest:    decimal.Zero,
	}
	for _, g := range groups {
		stats.TotalCount += g.Count
		stats.TotalInterest = stats.TotalInterest.Add(g.TotalInterest)
		switch g.Status {
		case StatusPending:
			stats.PendingInterest = stats.PendingInterest.Add(g.TotalInterest)
		case StatusProcessed:
			stats.ProcessedInterest = stats.ProcessedInterest.Add(g.TotalInterest)
		case StatusFailed:
			stats.FailedInterest = stats.FailedInterest.Add(g.TotalInterest)
		}
	}
	return stats, nil
}
