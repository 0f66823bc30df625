// Package pricing turns a scraped listing into a landed price: exchange
// rates, purchase commission, customs duty and forwarding cost.
package pricing

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/iegorov553/price-gh-bot-sub000/cache"
	"github.com/iegorov553/price-gh-bot-sub000/coalesce"
	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/metrics"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

const (
	PairUSDRUB = "USD_RUB"
	PairEURUSD = "EUR_USD"
)

// Currency serves exchange rates from the Central Bank of Russia daily feed.
// Concurrent lookups for the same pair collapse into one upstream fetch, and
// the last good rate is kept in memory so a feed outage degrades gracefully
// instead of failing conversions outright.
type Currency struct {
	client  *http.Client
	url     string
	markup  float64
	store   *cache.Store
	metrics *metrics.Metrics

	group    coalesce.Group[models.CurrencyRate]
	lastGood *lru.Cache[string, models.CurrencyRate]
}

func NewCurrency(cfg *config.Config, store *cache.Store, m *metrics.Metrics) *Currency {
	lastGood, _ := lru.New[string, models.CurrencyRate](8)
	return &Currency{
		client:   &http.Client{Timeout: cfg.Timeout},
		url:      cfg.RateSourceURL,
		markup:   cfg.RateMarkupPct,
		store:    store,
		metrics:  m,
		lastGood: lastGood,
	}
}

// USDToRUB returns the marked-up USD to RUB rate used for final conversion.
func (c *Currency) USDToRUB(ctx context.Context) (*models.CurrencyRate, error) {
	return c.rate(ctx, PairUSDRUB)
}

// EURToUSD returns the cross rate used for the customs duty threshold. No
// markup applies.
func (c *Currency) EURToUSD(ctx context.Context) (*models.CurrencyRate, error) {
	return c.rate(ctx, PairEURUSD)
}

func (c *Currency) rate(ctx context.Context, pair string) (*models.CurrencyRate, error) {
	if v, ok := c.store.RateGet(ctx, pair); ok {
		from, to, _ := strings.Cut(pair, "_")
		return &models.CurrencyRate{
			From:      from,
			To:        to,
			Rate:      decimal.NewFromFloat(v),
			Source:    "cache",
			FetchedAt: time.Now().UTC(),
		}, nil
	}

	rate, shared, err := c.group.Do(ctx, pair, func(ctx context.Context) (models.CurrencyRate, error) {
		return c.fetchPair(ctx, pair)
	})
	if shared {
		c.metrics.IncCoalesced()
	}
	if err != nil {
		if last, ok := c.lastGood.Get(pair); ok {
			slog.Warn("rate source failed, serving last good rate",
				slog.String("pair", pair),
				slog.Any("error", err),
			)
			last.Source = "fallback"
			return &last, nil
		}
		return nil, err
	}
	return &rate, nil
}

func (c *Currency) fetchPair(ctx context.Context, pair string) (models.CurrencyRate, error) {
	doc, err := c.fetchDaily(ctx)
	if err != nil {
		return models.CurrencyRate{}, err
	}

	usd, err := doc.ratePerUnit("USD")
	if err != nil {
		return models.CurrencyRate{}, err
	}

	var rate models.CurrencyRate
	now := time.Now().UTC()
	switch pair {
	case PairUSDRUB:
		multiplier := decimal.NewFromFloat(1 + c.markup/100)
		rate = models.CurrencyRate{
			From:      "USD",
			To:        "RUB",
			Rate:      usd.Mul(multiplier).Round(2),
			Source:    "cbr",
			FetchedAt: now,
			MarkupPct: c.markup,
		}
	case PairEURUSD:
		eur, err := doc.ratePerUnit("EUR")
		if err != nil {
			return models.CurrencyRate{}, err
		}
		rate = models.CurrencyRate{
			From:      "EUR",
			To:        "USD",
			Rate:      eur.DivRound(usd, 4),
			Source:    "cbr",
			FetchedAt: now,
		}
	default:
		return models.CurrencyRate{}, fmt.Errorf("unsupported currency pair %q", pair)
	}

	f, _ := rate.Rate.Float64()
	c.store.RateSet(ctx, pair, f)
	c.lastGood.Add(pair, rate)
	return rate, nil
}

// cbrDocument mirrors the XML_daily.asp payload. Values use a comma decimal
// separator and the feed is windows-1251 encoded.
type cbrDocument struct {
	XMLName xml.Name `xml:"ValCurs"`
	Date    string   `xml:"Date,attr"`
	Valutes []struct {
		CharCode string `xml:"CharCode"`
		Nominal  string `xml:"Nominal"`
		Value    string `xml:"Value"`
	} `xml:"Valute"`
}

func (d *cbrDocument) ratePerUnit(code string) (decimal.Decimal, error) {
	for _, v := range d.Valutes {
		if v.CharCode != code {
			continue
		}
		value, err := decimal.NewFromString(strings.ReplaceAll(v.Value, ",", "."))
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse %s value %q: %w", code, v.Value, err)
		}
		nominal, err := strconv.ParseInt(strings.TrimSpace(v.Nominal), 10, 64)
		if err != nil || nominal == 0 {
			return decimal.Zero, fmt.Errorf("parse %s nominal %q: %w", code, v.Nominal, err)
		}
		return value.DivRound(decimal.NewFromInt(nominal), 6), nil
	}
	return decimal.Zero, fmt.Errorf("currency %s not present in daily feed", code)
}

func (c *Currency) fetchDaily(ctx context.Context) (*cbrDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rate request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch daily rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	dec := xml.NewDecoder(resp.Body)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "windows-1251") {
			return charmap.Windows1251.NewDecoder().Reader(input), nil
		}
		return input, nil
	}

	var doc cbrDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse daily rates: %w", err)
	}
	return &doc, nil
}
