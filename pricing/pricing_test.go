package pricing

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/cache"
	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

const cbrDaily = `<?xml version="1.0" encoding="windows-1251"?>
<ValCurs Date="29.08.2026" name="Foreign Currency Market">
<Valute ID="R01235"><NumCode>840</NumCode><CharCode>USD</CharCode><Nominal>1</Nominal><Name>US Dollar</Name><Value>80,0000</Value></Valute>
<Valute ID="R01239"><NumCode>978</NumCode><CharCode>EUR</CharCode><Nominal>1</Nominal><Name>Euro</Name><Value>88,0000</Value></Valute>
</ValCurs>`

func newTestCurrency(t *testing.T, transport http.RoundTripper) *Currency {
	t.Helper()
	cfg := config.DefaultConfig()
	c := NewCurrency(cfg, cache.NewWithClient(nil, nil, nil), nil)
	c.client.Transport = transport
	return c
}

func TestUSDToRUBAppliesMarkup(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusOK, cbrDaily))

	c := newTestCurrency(t, transport)
	rate, err := c.USDToRUB(context.Background())
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	// 80.00 base with the default 5% markup.
	if rate.Rate.StringFixed(2) != "84.00" {
		t.Fatalf("rate = %s, want 84.00", rate.Rate.StringFixed(2))
	}
	if rate.Source != "cbr" || rate.From != "USD" || rate.To != "RUB" {
		t.Fatalf("rate metadata = %+v", rate)
	}
}

func TestEURToUSDCrossRateNoMarkup(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusOK, cbrDaily))

	c := newTestCurrency(t, transport)
	rate, err := c.EURToUSD(context.Background())
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rate.Rate.StringFixed(4) != "1.1000" {
		t.Fatalf("rate = %s, want 1.1000", rate.Rate.StringFixed(4))
	}
	if rate.MarkupPct != 0 {
		t.Fatalf("cross rate must not carry markup, got %v", rate.MarkupPct)
	}
}

func TestConcurrentRateLookupsCoalesce(t *testing.T) {
	var fetches atomic.Int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		func(req *http.Request) (*http.Response, error) {
			fetches.Add(1)
			time.Sleep(150 * time.Millisecond)
			return httpmock.NewStringResponse(http.StatusOK, cbrDaily), nil
		})

	c := newTestCurrency(t, transport)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.USDToRUB(context.Background()); err != nil {
				t.Errorf("rate: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Fatalf("upstream fetched %d times for 8 concurrent callers, want 1", got)
	}
}

func TestRateFallsBackToLastGood(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusOK, cbrDaily))

	c := newTestCurrency(t, transport)
	if _, err := c.USDToRUB(context.Background()); err != nil {
		t.Fatalf("priming fetch: %v", err)
	}

	transport.Reset()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "down"))

	rate, err := c.USDToRUB(context.Background())
	if err != nil {
		t.Fatalf("expected last good rate, got error: %v", err)
	}
	if rate.Source != "fallback" {
		t.Fatalf("source = %q, want fallback", rate.Source)
	}
	if rate.Rate.StringFixed(2) != "84.00" {
		t.Fatalf("fallback rate = %s, want the last fetched value", rate.Rate.StringFixed(2))
	}
}

func TestRateErrorWithoutFallback(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "down"))

	c := newTestCurrency(t, transport)
	if _, err := c.USDToRUB(context.Background()); err == nil {
		t.Fatalf("expected an error with nothing to fall back on")
	}
}

func TestCommissionSchedule(t *testing.T) {
	fees := NewFees(config.DefaultFeeTable(), nil)

	tests := []struct {
		name     string
		item     string
		shipping string
		want     string
		wantType string
	}{
		{"above threshold", "200", "0", "20.00", "percentage"},
		{"cheap base pricey item", "95", "5", "10.00", "percentage"},
		{"cheap base cheap item", "50", "10", "15", "fixed"},
		{"mid band free shipping", "140", "0", "15", "fixed"},
		{"mid band with shipping", "120", "10", "13.00", "percentage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotType := fees.Commission(
				decimal.RequireFromString(tt.item),
				decimal.RequireFromString(tt.shipping),
			)
			if got.String() != tt.want || gotType != tt.wantType {
				t.Fatalf("Commission(%s, %s) = %s/%s, want %s/%s",
					tt.item, tt.shipping, got, gotType, tt.want, tt.wantType)
			}
		})
	}
}

func TestCustomsDuty(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusOK, cbrDaily))

	c := newTestCurrency(t, transport)
	fees := NewFees(config.DefaultFeeTable(), c)
	ctx := context.Background()

	// EUR/USD 1.10 puts the 200 EUR allowance at 220 USD.
	duty := fees.CustomsDuty(ctx, decimal.NewFromInt(480), decimal.NewFromInt(20))
	if duty.StringFixed(2) != "42.00" {
		t.Fatalf("duty = %s, want 42.00 (15%% of the 280 excess)", duty.StringFixed(2))
	}

	duty = fees.CustomsDuty(ctx, decimal.NewFromInt(200), decimal.NewFromInt(10))
	if !duty.IsZero() {
		t.Fatalf("duty = %s, want 0 below the allowance", duty)
	}
}

func TestCustomsDutyZeroWhenRateUnavailable(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusBadGateway, ""))

	c := newTestCurrency(t, transport)
	fees := NewFees(config.DefaultFeeTable(), c)

	duty := fees.CustomsDuty(context.Background(), decimal.NewFromInt(1000), decimal.Zero)
	if !duty.IsZero() {
		t.Fatalf("duty = %s, want 0 when the rate source is down", duty)
	}
}

func TestShippingEstimatorPatterns(t *testing.T) {
	est, err := NewShippingEstimator(config.DefaultWeightTable(), DefaultForwarding(t))
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}

	tests := []struct {
		title      string
		wantWeight string
		wantCost   string
	}{
		{"Jordan 1 Retro High Sneakers", "1.4", "48.20"},
		{"Supreme Box Logo Tee", "0.3", "16.99"},
		{"Mystery grab bag item", "0.6", "21.52"},
	}
	for _, tt := range tests {
		q := est.EstimateByTitle(tt.title)
		if q.WeightKg.String() != tt.wantWeight {
			t.Errorf("%q weight = %s, want %s", tt.title, q.WeightKg, tt.wantWeight)
		}
		if q.CostUSD.StringFixed(2) != tt.wantCost {
			t.Errorf("%q cost = %s, want %s", tt.title, q.CostUSD.StringFixed(2), tt.wantCost)
		}
	}
}

func DefaultForwarding(t *testing.T) config.ForwardingTable {
	t.Helper()
	return config.DefaultFeeTable().Forwarding
}

func TestBreakdownAssembly(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", config.DefaultConfig().RateSourceURL,
		httpmock.NewStringResponder(http.StatusOK, cbrDaily))

	c := newTestCurrency(t, transport)
	fees := NewFees(config.DefaultFeeTable(), c)
	est, err := NewShippingEstimator(config.DefaultWeightTable(), DefaultForwarding(t))
	if err != nil {
		t.Fatalf("estimator: %v", err)
	}
	calc := NewCalculator(fees, est, c)

	price := decimal.NewFromInt(100)
	b := calc.Breakdown(context.Background(), &models.Listing{
		Price: &price,
		Title: "Nike Air Max sneakers",
	})

	if b.Commission.StringFixed(2) != "10.00" || b.CommissionType != "percentage" {
		t.Fatalf("commission = %s/%s", b.Commission, b.CommissionType)
	}
	if b.Subtotal.StringFixed(2) != "110.00" {
		t.Fatalf("subtotal = %s", b.Subtotal)
	}
	if !b.CustomsDuty.IsZero() {
		t.Fatalf("duty = %s, want 0 below allowance", b.CustomsDuty)
	}
	if b.ShippingFinal.StringFixed(2) != "48.20" {
		t.Fatalf("forwarding = %s", b.ShippingFinal)
	}
	if b.FinalUSD.StringFixed(2) != "158.20" {
		t.Fatalf("final usd = %s", b.FinalUSD)
	}
	if b.FinalRUB == nil || b.FinalRUB.StringFixed(2) != "13288.80" {
		t.Fatalf("final rub = %v", b.FinalRUB)
	}
}
