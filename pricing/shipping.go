package pricing

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// ShippingEstimator guesses parcel weight from the listing title and prices
// forwarding with the Shopfans tier structure.
type ShippingEstimator struct {
	table    config.ForwardingTable
	patterns []weightPattern
	fallback decimal.Decimal
}

type weightPattern struct {
	re     *regexp.Regexp
	weight decimal.Decimal
}

// NewShippingEstimator compiles the weight patterns once. Patterns that fail
// to compile are dropped with an error rather than silently skipped.
func NewShippingEstimator(weights config.WeightTable, table config.ForwardingTable) (*ShippingEstimator, error) {
	est := &ShippingEstimator{
		table:    table,
		fallback: decimal.NewFromFloat(weights.DefaultWeight),
	}
	for _, p := range weights.Patterns {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile weight pattern %q: %w", p.Pattern, err)
		}
		est.patterns = append(est.patterns, weightPattern{re: re, weight: decimal.NewFromFloat(p.Weight)})
	}
	return est, nil
}

// EstimateByTitle matches the title against the weight patterns in order and
// prices the first hit. Unmatched titles use the default weight.
func (e *ShippingEstimator) EstimateByTitle(title string) models.ShippingQuote {
	for _, p := range e.patterns {
		if p.re.MatchString(title) {
			return models.ShippingQuote{
				WeightKg:    p.weight,
				CostUSD:     e.price(p.weight),
				Description: fmt.Sprintf("matched pattern %s", p.re.String()),
			}
		}
	}
	return models.ShippingQuote{
		WeightKg:    e.fallback,
		CostUSD:     e.price(e.fallback),
		Description: "default weight, no pattern match",
	}
}

// QuoteForWeight prices a known weight directly.
func (e *ShippingEstimator) QuoteForWeight(weight decimal.Decimal) models.ShippingQuote {
	return models.ShippingQuote{
		WeightKg:    weight,
		CostUSD:     e.price(weight),
		Description: "explicit weight",
	}
}

// price applies the forwarder tariff: per-kg freight with a floor, plus a
// handling fee that steps up for heavy parcels.
func (e *ShippingEstimator) price(weight decimal.Decimal) decimal.Decimal {
	base := decimal.NewFromFloat(e.table.PerKgRateEurope).Mul(weight)
	floor := decimal.NewFromFloat(e.table.BaseCost)
	if base.LessThan(floor) {
		base = floor
	}

	handling := decimal.NewFromFloat(e.table.LightHandlingFee)
	if weight.GreaterThan(decimal.NewFromFloat(e.table.LightThreshold)) {
		handling = decimal.NewFromFloat(e.table.HeavyHandlingFee)
	}
	return base.Add(handling).Round(2)
}
