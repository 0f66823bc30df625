package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/config"
)

// fetcher owns a configured colly collector. Each fetch runs on a Clone so
// concurrent scrapes never share handler state.
type fetcher struct {
	collector *colly.Collector
}

func newFetcher(cfg *config.Config, domains ...string) *fetcher {
	c := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
	)
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = true
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	return &fetcher{collector: c}
}

// fetch loads url and hands the document root element to fn.
func (f *fetcher) fetch(ctx context.Context, url string, fn func(e *colly.HTMLElement)) error {
	if err := ctx.Err(); err != nil {
		return ErrTimeout{Err: err}
	}

	c := f.collector.Clone()
	var parsed bool
	var fetchErr error
	c.OnHTML("html", func(e *colly.HTMLElement) {
		parsed = true
		fn(e)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = classifyError(r, err)
	})

	visitErr := c.Visit(url)
	c.Wait()

	// OnError sees the response and classifies by status; prefer it over
	// the bare error Visit hands back for the same failure.
	if fetchErr != nil {
		return fetchErr
	}
	if visitErr != nil {
		return classifyError(nil, visitErr)
	}
	if !parsed {
		return ErrStructural{Field: "html document"}
	}
	return nil
}

func classifyError(r *colly.Response, err error) error {
	if r != nil {
		switch r.StatusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: err}
		case http.StatusNotFound:
			return ErrNotFound{Err: err}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") {
		return ErrConnection{Err: err}
	}
	return fmt.Errorf("fetch failed: %w", err)
}

var priceRe = regexp.MustCompile(`^\d[\d,.]*$`)

// cleanPrice parses a raw price string. Returns nil when the text is not a
// plain numeric amount.
func cleanPrice(raw string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if !priceRe.MatchString(raw) {
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return nil
	}
	return &d
}

// jsonLDPrice digs a price out of application/ld+json blocks. Offers appear
// both as a single object and as a list depending on the page variant.
func jsonLDPrice(root *colly.HTMLElement) *decimal.Decimal {
	var price *decimal.Decimal
	root.ForEach(`script[type="application/ld+json"]`, func(_ int, e *colly.HTMLElement) {
		if price != nil {
			return
		}
		var doc struct {
			Offers json.RawMessage   `json:"offers"`
			Graph  []json.RawMessage `json:"@graph"`
		}
		if err := json.Unmarshal([]byte(e.Text), &doc); err != nil {
			return
		}

		candidates := doc.Graph
		if len(doc.Offers) > 0 {
			candidates = append([]json.RawMessage{doc.Offers}, candidates...)
		}
		for _, raw := range candidates {
			if p := offerPrice(raw); p != nil {
				price = p
				return
			}
		}
	})
	return price
}

func offerPrice(raw json.RawMessage) *decimal.Decimal {
	type offer struct {
		Price any `json:"price"`
	}

	var single offer
	if err := json.Unmarshal(raw, &single); err == nil && single.Price != nil {
		if p := cleanPrice(fmt.Sprint(single.Price)); p != nil {
			return p
		}
	}

	var many []offer
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, o := range many {
			if o.Price == nil {
				continue
			}
			if p := cleanPrice(fmt.Sprint(o.Price)); p != nil {
				return p
			}
		}
	}
	return nil
}
