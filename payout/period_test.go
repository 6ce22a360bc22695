package payout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sacco-engine/payout"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// ACCRUAL WINDOW TESTS
// =============================================================================

func TestWindowFor_EndsOnTheDayOfNow(t *testing.T) {
	// GIVEN: now = 2025-03-15 14:20 UTC
	// WHEN: The window of each period is computed
	// THEN: It ends at midnight of that day and reaches back one period

	tests := []struct {
		period payout.CalculationPeriod
		start  time.Time
		days   int
	}{
		{payout.Daily, date(2025, time.March, 14), 1},
		{payout.Monthly, date(2025, time.February, 15), 28},
		{payout.Quarterly, date(2024, time.December, 15), 90},
		{payout.Annually, date(2024, time.March, 15), 365},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			w := payout.WindowFor(tt.period, fixedNow)
			assert.Equal(t, tt.start, w.Start)
			assert.Equal(t, date(2025, time.March, 15), w.End)
			assert.Equal(t, tt.days, w.Days())
		})
	}
}

func TestWindowFor_StableWithinADay(t *testing.T) {
	// GIVEN: Two runs on the same UTC day, hours apart
	// WHEN: Their monthly windows are computed
	// THEN: The windows are equal, so the second run finds the first run's payouts

	morning := time.Date(2025, time.March, 15, 0, 0, 1, 0, time.UTC)
	evening := time.Date(2025, time.March, 15, 23, 59, 59, 0, time.UTC)

	assert.Equal(t, payout.WindowFor(payout.Monthly, morning), payout.WindowFor(payout.Monthly, evening))
}

func TestWindowFor_NormalizesToUTC(t *testing.T) {
	nairobi := time.FixedZone("EAT", 3*60*60)
	// 01:00 in Nairobi is still the previous day in UTC.
	now := time.Date(2025, time.March, 16, 1, 0, 0, 0, nairobi)

	w := payout.WindowFor(payout.Daily, now)
	assert.Equal(t, date(2025, time.March, 15), w.End)
}

func TestAccrualWindow_String(t *testing.T) {
	w := payout.WindowFor(payout.Monthly, fixedNow)
	assert.Equal(t, "[2025-02-15, 2025-03-15]", w.String())
}

// =============================================================================
// PERIOD PARSING TESTS
// =============================================================================

func TestParsePeriod(t *testing.T) {
	p, err := payout.ParsePeriod(" monthly ")
	require.NoError(t, err)
	assert.Equal(t, payout.Monthly, p)

	p, err = payout.ParsePeriod("QUARTERLY")
	require.NoError(t, err)
	assert.Equal(t, payout.Quarterly, p)

	_, err = payout.ParsePeriod("WEEKLY")
	assert.ErrorIs(t, err, payout.ErrValidation)

	var vErr *payout.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "period", vErr.Field)
}
