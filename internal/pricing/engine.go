package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value stored in minor units.
type Money = int64

// ErrInvalidInput is returned when a markup cannot be derived, e.g. from a zero unit price.
var ErrInvalidInput = errors.New("pricing: invalid input")

var hundred = decimal.NewFromInt(100)

// Totals aggregates line totals for a quantity at a given cost and sale price.
type Totals struct {
	Sale   Money `json:"totalSaleAmount"`
	Cost   Money `json:"totalCostAmount"`
	Profit Money `json:"totalProfit"`
}

// ApplyMarkup returns unitPrice * (1 + markup/100) rounded half-up to the minor unit.
// Negative markups are allowed.
func ApplyMarkup(unitPrice Money, markupPercentage float64) Money {
	factor := hundred.Add(decimal.NewFromFloat(markupPercentage)).Div(hundred)
	return decimal.NewFromInt(unitPrice).Mul(factor).Round(0).IntPart()
}

// MarkupFromFinalPrice derives the markup percentage that turns unitPrice into
// finalPricePerUnit. The result is rounded to four decimal places.
func MarkupFromFinalPrice(unitPrice, finalPricePerUnit Money) (float64, error) {
	if unitPrice == 0 {
		return 0, ErrInvalidInput
	}
	ratio := decimal.NewFromInt(finalPricePerUnit).Div(decimal.NewFromInt(unitPrice))
	pct := ratio.Sub(decimal.NewFromInt(1)).Mul(hundred).Round(4)
	return pct.InexactFloat64(), nil
}

// ComputeTotals returns sale, cost and profit totals for quantity units.
func ComputeTotals(quantity int, unitPrice, finalPricePerUnit Money) Totals {
	if quantity < 0 {
		quantity = 0
	}
	sale := Money(quantity) * finalPricePerUnit
	cost := Money(quantity) * unitPrice
	return Totals{Sale: sale, Cost: cost, Profit: sale - cost}
}

// ProfitPerUnit is the margin earned on a single unit.
func ProfitPerUnit(unitPrice, finalPricePerUnit Money) Money {
	return finalPricePerUnit - unitPrice
}

// ProfitMargin expresses profit as a percentage of sale, rounded to two decimals.
// A zero sale yields zero.
func ProfitMargin(sale, profit Money) float64 {
	return Percentage(profit, sale)
}

// Percentage returns part/whole*100 rounded to two decimals; zero when whole is zero.
func Percentage(part, whole Money) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2).InexactFloat64()
}

// PercentOf returns pct percent of amount, rounded half-up to the minor unit.
func PercentOf(amount Money, pct float64) Money {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(pct)).Div(hundred).Round(0).IntPart()
}
