// Package scrape extracts listing and seller data from marketplace pages.
// One Scraper per platform; the Registry dispatches a URL to the first
// scraper that claims it.
package scrape

import (
	"context"

	"github.com/iegorov553/price-gh-bot-sub000/browser"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// Result carries everything one listing-page scrape produced. Seller data is
// best-effort: a listing result without a seller is still usable.
type Result struct {
	Listing *models.Listing
	Seller  *models.Seller

	// SellerProfileURL points at the seller profile when the listing page
	// exposes one. Empty when the platform hides it.
	SellerProfileURL string
}

// Scraper knows how to pull listing and seller data for one platform.
type Scraper interface {
	// Platform returns the stable platform name used in outcomes, cache
	// keys and metric labels.
	Platform() string

	// SupportsURL reports whether this scraper handles the URL's host.
	SupportsURL(url string) bool

	// IsProfileURL reports whether the URL is a seller profile rather than
	// a listing.
	IsProfileURL(url string) bool

	// UsesBrowser reports whether ScrapeSeller needs a browser session.
	UsesBrowser() bool

	ScrapeListing(ctx context.Context, url string) (*Result, error)

	// ScrapeSeller fetches seller metrics from a profile URL. session is
	// nil when UsesBrowser is false.
	ScrapeSeller(ctx context.Context, session *browser.Session, profileURL string) (*models.Seller, error)
}

// Registry resolves URLs to scrapers in registration order.
type Registry struct {
	scrapers []Scraper
}

func NewRegistry(scrapers ...Scraper) *Registry {
	return &Registry{scrapers: scrapers}
}

func (r *Registry) Register(s Scraper) {
	r.scrapers = append(r.scrapers, s)
}

// Match returns the first scraper claiming the URL.
func (r *Registry) Match(url string) (Scraper, bool) {
	for _, s := range r.scrapers {
		if s.SupportsURL(url) {
			return s, true
		}
	}
	return nil, false
}
