// Package models defines data structures shared across the acquisition pipeline.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing holds data extracted from a marketplace item page. A nil Price means
// extraction failed, not a zero price. Buyable=false with a known price is a
// valid state (offer-only listings).
type Listing struct {
	Price          *decimal.Decimal `json:"price,omitempty"`
	ShippingOrigin *decimal.Decimal `json:"shipping_origin,omitempty"`
	Buyable        bool             `json:"buyable"`
	Title          string           `json:"title,omitempty"`
	ImageURL       string           `json:"image_url,omitempty"`
}

// Seller holds profile metrics for a marketplace seller. A nil *Seller at a use
// site means the platform withheld seller data, which is distinct from a seller
// with zero reviews.
type Seller struct {
	Reviews        int       `json:"reviews"`
	AvgRating      float64   `json:"avg_rating"`
	TrustedBadge   bool      `json:"trusted_badge"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Outcome is the per-URL acquisition result. It is either fully populated on
// success or carries only the error fields; it is never partially constructed.
type Outcome struct {
	Success   bool     `json:"success"`
	Platform  string   `json:"platform"`
	URL       string   `json:"url"`
	Listing   *Listing `json:"listing,omitempty"`
	Seller    *Seller  `json:"seller,omitempty"`
	Error     string   `json:"error,omitempty"`
	ElapsedMs int64    `json:"elapsed_ms"`
	FromCache bool     `json:"from_cache"`
}

// CurrencyRate is an exchange rate fetched from an external source.
type CurrencyRate struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
	MarkupPct float64         `json:"markup_pct"`
}

// ShippingQuote is an estimated forwarding cost for one item.
type ShippingQuote struct {
	WeightKg    decimal.Decimal `json:"weight_kg"`
	CostUSD     decimal.Decimal `json:"cost_usd"`
	Description string          `json:"description"`
}

// PriceBreakdown is the landed-price calculation for one listing.
type PriceBreakdown struct {
	ItemPrice       decimal.Decimal  `json:"item_price"`
	ShippingOrigin  decimal.Decimal  `json:"shipping_origin"`
	Commission      decimal.Decimal  `json:"commission"`
	CommissionType  string           `json:"commission_type"` // fixed or percentage
	Subtotal        decimal.Decimal  `json:"subtotal"`
	CustomsDuty     decimal.Decimal  `json:"customs_duty"`
	ShippingFinal   decimal.Decimal  `json:"shipping_final"`
	AdditionalCosts decimal.Decimal  `json:"additional_costs"`
	FinalUSD        decimal.Decimal  `json:"final_usd"`
	FinalRUB        *decimal.Decimal `json:"final_rub,omitempty"`
	ExchangeRate    *decimal.Decimal `json:"exchange_rate,omitempty"`
}

// TrustScore is a seller reliability evaluation on a 100-point scale.
type TrustScore struct {
	ActivityScore int    `json:"activity_score"`
	RatingScore   int    `json:"rating_score"`
	VolumeScore   int    `json:"volume_score"`
	BadgeScore    int    `json:"badge_score"`
	Total         int    `json:"total"`
	Category      string `json:"category"`
	Description   string `json:"description"`
}
