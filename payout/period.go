package payout

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CALCULATION PERIOD - How often interest is computed
// =============================================================================

type CalculationPeriod string

const (
	Daily     CalculationPeriod = "DAILY"
	Monthly   CalculationPeriod = "MONTHLY"
	Quarterly CalculationPeriod = "QUARTERLY"
	Annually  CalculationPeriod = "ANNUALLY"
)

func (p CalculationPeriod) Valid() bool {
	switch p {
	case Daily, Monthly, Quarterly, Annually:
		return true
	}
	return false
}

// ParsePeriod accepts a period name in any case.
func ParsePeriod(s string) (CalculationPeriod, error) {
	p := CalculationPeriod(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "period", Message: fmt.Sprintf("unknown calculation period %q", s)}
	}
	return p, nil
}

// =============================================================================
// ACCRUAL WINDOW - The (start, end) pair interest is computed over
// =============================================================================

// AccrualWindow is a day-granular interval. Start and End are UTC midnights.
type AccrualWindow struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window of the given period ending on the day of now.
//
// Examples (now = 2025-03-15 14:20):
//   - DAILY:     [2025-03-14, 2025-03-15]
//   - MONTHLY:   [2025-02-15, 2025-03-15]
//   - QUARTERLY: [2024-12-15, 2025-03-15]
//   - ANNUALLY:  [2024-03-15, 2025-03-15]
//
// Truncating to the day keeps the window stable across re-runs on the same
// day, which is what makes generation idempotent.
func WindowFor(period CalculationPeriod, now time.Time) AccrualWindow {
	end := StartOfDay(now)
	switch period {
	case Daily:
		return AccrualWindow{Start: end.AddDate(0, 0, -1), End: end}
	case Monthly:
		return AccrualWindow{Start: end.AddDate(0, -1, 0), End: end}
	case Quarterly:
		return AccrualWindow{Start: end.AddDate(0, -3, 0), End: end}
	case Annually:
		return AccrualWindow{Start: end.AddDate(-1, 0, 0), End: end}
	default:
		return AccrualWindow{Start: end, End: end}
	}
}

// Days returns the number of days the window spans.
func (w AccrualWindow) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

func (w AccrualWindow) String() string {
	return "[" + w.Start.Format(DateLayout) + ", " + w.End.Format(DateLayout) + "]"
}

// DateLayout is the storage and wire format of window boundaries.
const DateLayout = "2006-01-02"

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
