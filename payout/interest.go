package payout

import "github.com/shopspring/decimal"

var (
	daysPerYear     = decimal.NewFromInt(365)
	monthsPerYear   = decimal.NewFromInt(12)
	quartersPerYear = decimal.NewFromInt(4)
	hundred         = decimal.NewFromInt(100)
)

// CalculateInterest returns the interest accrued on principal over one period
// at the annual rate. The rate is a fraction (0.08 for 8%); see RateFraction.
// No rounding is applied. An unknown period yields zero.
func CalculateInterest(principal, annualRate decimal.Decimal, period CalculationPeriod) decimal.Decimal {
	yearly := principal.Mul(annualRate)
	switch period {
	case Daily:
		return yearly.Div(daysPerYear)
	case Monthly:
		return yearly.Div(monthsPerYear)
	case Quarterly:
		return yearly.Div(quartersPerYear)
	case Annually:
		return yearly
	default:
		return decimal.Zero
	}
}

// RateFraction converts a percentage rate (as stored on products) to a fraction.
func RateFraction(percent decimal.Decimal) decimal.Decimal {
	return percent.Div(hundred)
}

// RoundMoney rounds to two decimal places, the precision amounts are persisted at.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
