package scrape

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/browser"
	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// Price lives in different elements across eBay page generations, so the
// selectors are tried in order and JSON-LD is the final fallback.
var ebayPriceSelectors = []struct {
	css  string
	attr string
}{
	{`meta[itemprop="price"]`, "content"},
	{`span#prcIsum`, ""},
	{`span#mm-saleDscPrc`, ""},
}

var ebayShippingSelectors = []string{
	`span#fshippingCost`,
	`span.vi-price .notranslate`,
	`span.u-flL.condText`,
	`#shipCostId`,
}

var (
	nonPriceChars  = regexp.MustCompile(`[^\d.,]`)
	freeShippingRe = regexp.MustCompile(`(?i)free shipping`)
)

// EBay scrapes eBay listing pages. eBay listings are always directly
// purchasable, so Buyable is unconditionally true.
type EBay struct {
	f *fetcher
}

func NewEBay(cfg *config.Config) *EBay {
	return &EBay{f: newFetcher(cfg, "www.ebay.com", "ebay.com", "m.ebay.com")}
}

func (s *EBay) Platform() string { return "ebay" }

func (s *EBay) SupportsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, label := range strings.Split(host, ".") {
		if label == "ebay" {
			return true
		}
	}
	return false
}

// IsProfileURL always reports false: seller signals come off the listing
// page itself, eBay profile pages are not scraped.
func (s *EBay) IsProfileURL(string) bool { return false }

func (s *EBay) UsesBrowser() bool { return false }

func (s *EBay) ScrapeListing(ctx context.Context, pageURL string) (*Result, error) {
	listing := &models.Listing{Buyable: true}

	err := s.f.fetch(ctx, pageURL, func(root *colly.HTMLElement) {
		listing.Price = ebayPrice(root)
		listing.ShippingOrigin = ebayShipping(root)
		listing.Title = pageTitle(root)
		listing.ImageURL = root.ChildAttr(`meta[property="og:image"]`, "content")
	})
	if err != nil {
		return nil, err
	}
	if listing.Price == nil {
		return nil, ErrStructural{Field: "price"}
	}
	return &Result{Listing: listing}, nil
}

// ScrapeSeller is a no-op: eBay exposes no per-seller profile worth fetching
// separately.
func (s *EBay) ScrapeSeller(context.Context, *browser.Session, string) (*models.Seller, error) {
	return nil, ErrStructural{Field: "seller profile"}
}

func ebayPrice(root *colly.HTMLElement) *decimal.Decimal {
	for _, sel := range ebayPriceSelectors {
		var raw string
		if sel.attr != "" {
			raw = root.ChildAttr(sel.css, sel.attr)
		} else {
			raw = strings.TrimSpace(root.ChildText(sel.css))
		}
		if p := cleanPrice(raw); p != nil {
			return p
		}
	}
	return jsonLDPrice(root)
}

func ebayShipping(root *colly.HTMLElement) *decimal.Decimal {
	for _, css := range ebayShippingSelectors {
		raw := strings.TrimSpace(root.ChildText(css))
		if raw == "" {
			continue
		}
		lower := strings.ToLower(raw)
		if strings.Contains(lower, "free") || strings.Contains(lower, "бесплатно") {
			zero := decimal.Zero
			return &zero
		}
		if p := cleanPrice(nonPriceChars.ReplaceAllString(raw, "")); p != nil {
			return p
		}
	}
	if freeShippingRe.MatchString(root.Text) {
		zero := decimal.Zero
		return &zero
	}
	return nil
}

// pageTitle prefers the og:title meta over the page h1.
func pageTitle(root *colly.HTMLElement) string {
	if t := root.ChildAttr(`meta[property="og:title"]`, "content"); t != "" {
		return t
	}
	return strings.TrimSpace(root.ChildText("h1"))
}
