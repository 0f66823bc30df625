package pricing

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// Calculator assembles the full landed-price breakdown for one listing.
type Calculator struct {
	fees     *Fees
	shipping *ShippingEstimator
	currency *Currency
}

func NewCalculator(fees *Fees, shipping *ShippingEstimator, currency *Currency) *Calculator {
	return &Calculator{fees: fees, shipping: shipping, currency: currency}
}

// Breakdown computes: item + origin shipping + commission = subtotal, then
// customs duty + forwarding = additional costs, then the final USD total and
// a best-effort RUB conversion. A missing RUB rate leaves the USD figures
// intact with the conversion fields unset.
func (c *Calculator) Breakdown(ctx context.Context, listing *models.Listing) *models.PriceBreakdown {
	itemPrice := decimal.Zero
	if listing.Price != nil {
		itemPrice = *listing.Price
	}
	shippingOrigin := decimal.Zero
	if listing.ShippingOrigin != nil {
		shippingOrigin = *listing.ShippingOrigin
	}

	commission, commissionType := c.fees.Commission(itemPrice, shippingOrigin)
	subtotal := itemPrice.Add(shippingOrigin).Add(commission).Round(2)

	duty := c.fees.CustomsDuty(ctx, itemPrice, shippingOrigin)
	forwarding := c.shipping.EstimateByTitle(listing.Title)
	additional := duty.Add(forwarding.CostUSD).Round(2)

	b := &models.PriceBreakdown{
		ItemPrice:       itemPrice,
		ShippingOrigin:  shippingOrigin,
		Commission:      commission,
		CommissionType:  commissionType,
		Subtotal:        subtotal,
		CustomsDuty:     duty,
		ShippingFinal:   forwarding.CostUSD,
		AdditionalCosts: additional,
		FinalUSD:        subtotal.Add(additional).Round(2),
	}

	rate, err := c.currency.USDToRUB(ctx)
	if err != nil {
		slog.Warn("USD/RUB rate unavailable, returning USD-only breakdown", slog.Any("error", err))
		return b
	}
	rub := b.FinalUSD.Mul(rate.Rate).Round(2)
	b.FinalRUB = &rub
	b.ExchangeRate = &rate.Rate
	return b
}
