package scrape

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/browser"
	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// Grailed hides buyability and seller identity inside script blobs rather
// than markup, so most extraction here is regex over script contents. Seller
// metrics render client-side only, which is why ScrapeSeller needs a browser.
type Grailed struct {
	f *fetcher
}

func NewGrailed(cfg *config.Config) *Grailed {
	return &Grailed{f: newFetcher(cfg, "www.grailed.com", "grailed.com")}
}

var (
	buyNowRe = regexp.MustCompile(`"buyNow"\s*:\s*(true|false)`)

	// Seller identity shows up under several keys across page variants.
	usernameRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"(?:seller|user|owner)"\s*:\s*\{[^}]*"username"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)"(?:sellerName|userName|ownerName)"\s*:\s*"([^"]+)"`),
	}
	profileURLRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"(?:profileUrl|userUrl|sellerUrl|profile_url)"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`(?i)"url"\s*:\s*"([^"]*(?:/users/|/sellers/)[^"]*)"`),
	}

	sellerRatingRe  = regexp.MustCompile(`(?i)"(?:rating|averageRating|sellerRating)"\s*:\s*([0-5](?:\.\d+)?)`)
	sellerReviewsRe = regexp.MustCompile(`(?i)"(?:reviewCount|totalReviews|numReviews|review_count)"\s*:\s*(\d+)`)
	trustedBadgeRe  = regexp.MustCompile(`(?i)"(?:trustedSeller|trusted_seller|isTrusted)"\s*:\s*true`)

	shippingAmountRe = regexp.MustCompile(`(?is)shipping.{0,80}?\$(\d+(?:\.\d{2})?)`)
	freeShipRe       = regexp.MustCompile(`(?i)free\s+shipping`)

	ratingTextRe  = regexp.MustCompile(`([0-5]\.\d)`)
	reviewTextRe  = regexp.MustCompile(`(?i)(\d+)\s+review`)
	trustedTextRe = regexp.MustCompile(`(?i)trusted\s+seller`)
	isoDateRe     = regexp.MustCompile(`"(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))"`)
)

// profileExcludedPages are single-segment paths that look like usernames but
// are site pages.
var profileExcludedPages = map[string]struct{}{
	"sell": {}, "buy": {}, "search": {}, "help": {}, "about": {},
	"terms": {}, "privacy": {}, "brands": {}, "designers": {},
	"categories": {}, "login": {}, "signup": {}, "settings": {},
	"notifications": {}, "feed": {},
}

func (s *Grailed) Platform() string { return "grailed" }

func (s *Grailed) SupportsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, label := range strings.Split(host, ".") {
		if label == "grailed" {
			return true
		}
	}
	return false
}

// IsProfileURL recognizes both bare-username profiles and the legacy
// /users/ and /sellers/ paths.
func (s *Grailed) IsProfileURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !s.SupportsURL(raw) {
		return false
	}
	path := strings.Trim(strings.ToLower(u.Path), "/")
	if path == "" {
		return false
	}
	if !strings.Contains(path, "/") && !strings.HasPrefix(path, "listings") {
		_, excluded := profileExcludedPages[path]
		return !excluded
	}
	return strings.HasPrefix(path, "users/") ||
		strings.HasPrefix(path, "sellers/") ||
		strings.HasPrefix(path, "user/")
}

func (s *Grailed) UsesBrowser() bool { return true }

func (s *Grailed) ScrapeListing(ctx context.Context, pageURL string) (*Result, error) {
	listing := &models.Listing{}
	res := &Result{Listing: listing}

	err := s.f.fetch(ctx, pageURL, func(root *colly.HTMLElement) {
		var scripts []string
		root.ForEach("script", func(_ int, e *colly.HTMLElement) {
			if e.Text != "" {
				scripts = append(scripts, e.Text)
			}
		})

		listing.Price = grailedPrice(root)
		listing.Buyable = grailedBuyable(scripts, listing.Price)
		listing.ShippingOrigin = grailedShipping(root.Text)
		listing.Title = pageTitle(root)
		listing.ImageURL = root.ChildAttr(`meta[property="og:image"]`, "content")

		res.SellerProfileURL = sellerProfileURL(root, scripts)
		if res.SellerProfileURL != "" {
			res.Seller = sellerFromScripts(scripts)
		}
	})
	if err != nil {
		return nil, err
	}
	if listing.Price == nil {
		return nil, ErrStructural{Field: "price"}
	}
	return res, nil
}

// ScrapeSeller renders the profile in a pooled browser tab and pulls metrics
// out of the hydrated page.
func (s *Grailed) ScrapeSeller(ctx context.Context, session *browser.Session, profileURL string) (*models.Seller, error) {
	if session == nil {
		return nil, ErrConnection{Err: context.Canceled}
	}

	var html string
	err := session.Run(ctx,
		chromedp.Navigate(profileURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil || strings.Contains(err.Error(), "deadline") {
			return nil, ErrTimeout{Err: err}
		}
		return nil, ErrConnection{Err: err}
	}

	seller := &models.Seller{}
	if m := sellerRatingRe.FindStringSubmatch(html); m != nil {
		seller.AvgRating = parseFloat(m[1])
	}
	if seller.AvgRating == 0 {
		if m := ratingTextRe.FindStringSubmatch(html); m != nil {
			seller.AvgRating = parseFloat(m[1])
		}
	}
	if m := sellerReviewsRe.FindStringSubmatch(html); m != nil {
		seller.Reviews = parseInt(m[1])
	} else if m := reviewTextRe.FindStringSubmatch(html); m != nil {
		seller.Reviews = parseInt(m[1])
	}
	seller.TrustedBadge = trustedBadgeRe.MatchString(html) || trustedTextRe.MatchString(html)
	seller.LastActivityAt = latestTimestamp(html)

	if seller.Reviews == 0 && seller.AvgRating == 0 && seller.LastActivityAt.IsZero() {
		return nil, ErrStructural{Field: "seller metrics"}
	}
	return seller, nil
}

func grailedPrice(root *colly.HTMLElement) *decimal.Decimal {
	if p := cleanPrice(strings.TrimSpace(root.ChildText(`span[class*="price"]`))); p != nil {
		return p
	}
	if p := cleanPrice(root.ChildAttr(`meta[property="product:price:amount"]`, "content")); p != nil {
		return p
	}
	return jsonLDPrice(root)
}

// grailedBuyable reads the buyNow flag out of page scripts. Without the flag
// a priced listing is assumed buyable.
func grailedBuyable(scripts []string, price *decimal.Decimal) bool {
	for _, script := range scripts {
		if m := buyNowRe.FindStringSubmatch(script); m != nil {
			return m[1] == "true"
		}
	}
	return price != nil
}

// grailedShipping defaults to the platform flat rate when the page shows no
// explicit amount.
func grailedShipping(pageText string) *decimal.Decimal {
	if freeShipRe.MatchString(pageText) {
		zero := decimal.Zero
		return &zero
	}
	if m := shippingAmountRe.FindStringSubmatch(pageText); m != nil {
		if p := cleanPrice(m[1]); p != nil {
			return p
		}
	}
	flat := decimal.NewFromInt(15)
	return &flat
}

func sellerProfileURL(root *colly.HTMLElement, scripts []string) string {
	for _, script := range scripts {
		for _, re := range usernameRes {
			if m := re.FindStringSubmatch(script); m != nil {
				username := strings.TrimSpace(m[1])
				if len(username) > 2 {
					return "https://www.grailed.com/" + username
				}
			}
		}
		for _, re := range profileURLRes {
			if m := re.FindStringSubmatch(script); m != nil {
				raw := strings.TrimSpace(m[1])
				switch {
				case strings.HasPrefix(raw, "/"):
					return "https://www.grailed.com" + raw
				case strings.Contains(raw, "grailed.com"):
					return raw
				}
			}
		}
	}

	// Markup fallback: any anchor into the legacy profile paths.
	var found string
	root.ForEach("a[href]", func(_ int, e *colly.HTMLElement) {
		if found != "" {
			return
		}
		href := strings.TrimSpace(e.Attr("href"))
		if strings.Contains(href, "/users/") || strings.Contains(href, "/sellers/") || strings.Contains(href, "/user/") {
			if strings.HasPrefix(href, "/") {
				found = "https://www.grailed.com" + href
			} else if strings.HasPrefix(href, "https://www.grailed.com/") {
				found = href
			}
		}
	})
	return found
}

// sellerFromScripts scrapes whatever seller metrics the listing page itself
// embeds. Partial data is fine; the profile scrape fills gaps later.
func sellerFromScripts(scripts []string) *models.Seller {
	seller := &models.Seller{}
	var any bool
	for _, script := range scripts {
		if seller.AvgRating == 0 {
			if m := sellerRatingRe.FindStringSubmatch(script); m != nil {
				seller.AvgRating = parseFloat(m[1])
				any = true
			}
		}
		if seller.Reviews == 0 {
			if m := sellerReviewsRe.FindStringSubmatch(script); m != nil {
				seller.Reviews = parseInt(m[1])
				any = true
			}
		}
		if !seller.TrustedBadge && trustedBadgeRe.MatchString(script) {
			seller.TrustedBadge = true
			any = true
		}
		if ts := latestTimestamp(script); ts.After(seller.LastActivityAt) {
			seller.LastActivityAt = ts
			any = true
		}
	}
	if !any {
		return nil
	}
	return seller
}

// latestTimestamp returns the newest ISO timestamp embedded in the text, so
// the most recent listing activity wins.
func latestTimestamp(text string) time.Time {
	var latest time.Time
	for _, m := range isoDateRe.FindAllStringSubmatch(text, -1) {
		ts, err := time.Parse(time.RFC3339, m[1])
		if err != nil {
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}