package pricing

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/config"
)

var (
	dutyRate      = decimal.NewFromFloat(0.15)
	dutyThreshold = decimal.NewFromInt(200) // EUR, personal import allowance

	commissionPivot = decimal.NewFromInt(100)
	itemPricePivot  = decimal.NewFromInt(90)
)

// Fees computes purchase commission and customs duty.
type Fees struct {
	table    config.FeeTable
	currency *Currency
}

func NewFees(table config.FeeTable, currency *Currency) *Fees {
	return &Fees{table: table, currency: currency}
}

// Commission returns the purchase commission on item price plus origin
// shipping, and whether the fixed or the percentage schedule applied.
//
// The schedule pivots on the commission base: percentage above the threshold,
// fixed for cheap items, and the larger of the two in the free-shipping
// middle band where the percentage would undercut the fixed fee.
func (f *Fees) Commission(itemPrice, shippingOrigin decimal.Decimal) (decimal.Decimal, string) {
	base := itemPrice.Add(shippingOrigin)
	fixed := decimal.NewFromFloat(f.table.Commission.FixedAmount)
	threshold := decimal.NewFromFloat(f.table.Commission.FixedThreshold)
	pct := base.Mul(decimal.NewFromFloat(f.table.Commission.PercentageRate)).Round(2)

	switch {
	case base.GreaterThanOrEqual(threshold):
		return pct, "percentage"
	case base.LessThanOrEqual(commissionPivot):
		if itemPrice.GreaterThanOrEqual(itemPricePivot) {
			return pct, "percentage"
		}
		return fixed, "fixed"
	case shippingOrigin.IsZero():
		if pct.GreaterThan(fixed) {
			return pct, "percentage"
		}
		return fixed, "fixed"
	default:
		return pct, "percentage"
	}
}

// CustomsDuty returns the Russian personal-import duty: 15% of the value
// exceeding the 200 EUR allowance, converted at the current EUR/USD rate.
// Returns zero when the rate is unavailable, matching the lenient treatment
// of every other degradable external dependency.
func (f *Fees) CustomsDuty(ctx context.Context, itemPrice, shippingOrigin decimal.Decimal) decimal.Decimal {
	rate, err := f.currency.EURToUSD(ctx)
	if err != nil {
		slog.Warn("EUR/USD rate unavailable, skipping customs duty", slog.Any("error", err))
		return decimal.Zero
	}

	total := itemPrice.Add(shippingOrigin)
	thresholdUSD := dutyThreshold.Mul(rate.Rate)
	if total.LessThanOrEqual(thresholdUSD) {
		return decimal.Zero
	}
	return total.Sub(thresholdUSD).Mul(dutyRate).Round(2)
}
