// Package orchestrator coordinates one batch of URL acquisitions: cache
// lookups, scraper dispatch, browser borrowing and result fan-in.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iegorov553/price-gh-bot-sub000/analytics"
	"github.com/iegorov553/price-gh-bot-sub000/browser"
	"github.com/iegorov553/price-gh-bot-sub000/cache"
	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/metrics"
	"github.com/iegorov553/price-gh-bot-sub000/models"
	"github.com/iegorov553/price-gh-bot-sub000/scrape"
)

// PlatformUnknown marks URLs no registered scraper claims. They short-circuit
// without touching the network or the admission semaphore.
const PlatformUnknown = "unknown"

// Pool is the slice of the browser pool the orchestrator needs. Satisfied by
// *browser.Pool.
type Pool interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Release(s *browser.Session)
}

// Orchestrator runs acquisition batches under a shared concurrency limit.
// A single instance is safe for concurrent AcquireMany calls; the semaphore
// spans all of them.
type Orchestrator struct {
	registry *scrape.Registry
	store    *cache.Store
	pool     Pool
	sink     *analytics.Sink
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted
}

func New(cfg *config.Config, registry *scrape.Registry, store *cache.Store, pool Pool, sink *analytics.Sink, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		store:    store,
		pool:     pool,
		sink:     sink,
		metrics:  m,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// AcquireMany resolves every URL to an outcome, preserving input order. One
// URL failing, panicking or timing out never affects its batch mates; every
// outcome is reported to the analytics sink exactly once.
func (o *Orchestrator) AcquireMany(ctx context.Context, urls []string, callerID string) []models.Outcome {
	outcomes := make([]models.Outcome, len(urls))

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			outcomes[i] = o.acquireOne(ctx, url)
			o.sink.Record(&outcomes[i], callerID)
		}(i, url)
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) acquireOne(ctx context.Context, url string) (outcome models.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("acquisition panicked", slog.String("url", url), slog.Any("panic", r))
			outcome = o.failed(url, outcome.Platform, fmt.Errorf("internal error: %v", r), start)
		}
	}()

	scraper, ok := o.registry.Match(url)
	if !ok {
		outcome = models.Outcome{
			Success:   false,
			Platform:  PlatformUnknown,
			URL:       url,
			Error:     "no scraper registered for this host",
			ElapsedMs: time.Since(start).Milliseconds(),
		}
		o.metrics.IncAcquisition(PlatformUnknown, "unsupported")
		return outcome
	}

	platform := scraper.Platform()
	ns := cache.NamespaceListing
	if scraper.IsProfileURL(url) {
		ns = cache.NamespaceSeller
	}

	// Cache reads bypass the admission semaphore.
	if hit, ok := o.store.Get(ctx, ns, url); ok {
		outcome = *hit
		outcome.FromCache = true
		outcome.ElapsedMs = time.Since(start).Milliseconds()
		o.metrics.IncAcquisition(platform, "success")
		o.metrics.ObserveAcquisition(time.Since(start))
		return outcome
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return o.failed(url, platform, scrape.ErrTimeout{Err: err}, start)
	}
	defer o.sem.Release(1)

	if ns == cache.NamespaceSeller {
		outcome = o.acquireSeller(ctx, scraper, url, start)
	} else {
		outcome = o.acquireListing(ctx, scraper, url, start)
	}

	if outcome.Success {
		o.store.Set(ctx, ns, url, &outcome, 0)
		o.metrics.IncAcquisition(platform, "success")
	} else {
		o.metrics.IncAcquisition(platform, "failure")
	}
	o.metrics.ObserveAcquisition(time.Since(start))
	return outcome
}

func (o *Orchestrator) acquireListing(ctx context.Context, scraper scrape.Scraper, url string, start time.Time) models.Outcome {
	res, err := scraper.ScrapeListing(ctx, url)
	if err != nil {
		return o.failed(url, scraper.Platform(), err, start)
	}

	outcome := models.Outcome{
		Success:   true,
		Platform:  scraper.Platform(),
		URL:       url,
		Listing:   res.Listing,
		Seller:    res.Seller,
		ElapsedMs: time.Since(start).Milliseconds(),
	}

	// Fill in seller metrics from the profile when the listing page did not
	// embed them. Best-effort: a seller fetch failure does not demote a
	// successful listing.
	if outcome.Seller == nil && res.SellerProfileURL != "" {
		outcome.Seller = o.fetchSeller(ctx, scraper, res.SellerProfileURL)
	}
	outcome.ElapsedMs = time.Since(start).Milliseconds()
	return outcome
}

func (o *Orchestrator) acquireSeller(ctx context.Context, scraper scrape.Scraper, url string, start time.Time) models.Outcome {
	seller := o.fetchSeller(ctx, scraper, url)
	if seller == nil {
		return o.failed(url, scraper.Platform(), scrape.ErrStructural{Field: "seller metrics"}, start)
	}
	return models.Outcome{
		Success:   true,
		Platform:  scraper.Platform(),
		URL:       url,
		Seller:    seller,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}

// fetchSeller resolves seller metrics from a profile URL, consulting the
// seller cache first and borrowing a browser session when the platform needs
// one. The session is released unconditionally.
func (o *Orchestrator) fetchSeller(ctx context.Context, scraper scrape.Scraper, profileURL string) *models.Seller {
	if hit, ok := o.store.Get(ctx, cache.NamespaceSeller, profileURL); ok && hit.Seller != nil {
		return hit.Seller
	}

	var session *browser.Session
	if scraper.UsesBrowser() {
		if o.pool == nil {
			slog.Warn("no browser pool configured, skipping seller fetch", slog.String("profile_url", profileURL))
			return nil
		}
		var err error
		session, err = o.pool.Acquire(ctx)
		if err != nil {
			slog.Warn("browser session unavailable for seller fetch",
				slog.String("profile_url", profileURL),
				slog.Any("error", err),
			)
			return nil
		}
		defer o.pool.Release(session)
	}

	seller, err := scraper.ScrapeSeller(ctx, session, profileURL)
	if err != nil {
		o.metrics.IncScrapeError(scrape.ErrorTypeLabel(err))
		slog.Debug("seller fetch failed",
			slog.String("profile_url", profileURL),
			slog.Any("error", err),
		)
		return nil
	}

	sellerOutcome := models.Outcome{
		Success:  true,
		Platform: scraper.Platform(),
		URL:      profileURL,
		Seller:   seller,
	}
	o.store.Set(ctx, cache.NamespaceSeller, profileURL, &sellerOutcome, 0)
	return seller
}

func (o *Orchestrator) failed(url, platform string, err error, start time.Time) models.Outcome {
	o.metrics.IncScrapeError(scrape.ErrorTypeLabel(err))
	return models.Outcome{
		Success:   false,
		Platform:  platform,
		URL:       url,
		Error:     err.Error(),
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}
