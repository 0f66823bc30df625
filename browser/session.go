package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// blockedURLPatterns keeps heavy sub-resources and tracker beacons off the
// wire. Applied per tab at creation so every page load benefits.
var blockedURLPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.mp4", "*.webm", "*.avi", "*.mp3",
	"*google-analytics.com*", "*googletagmanager.com*", "*doubleclick.net*",
	"*facebook.net*", "*facebook.com/tr*", "*hotjar.com*",
	"*segment.io*", "*segment.com*", "*amplitude.com*", "*branch.io*",
}

// Session is a leased browser tab. It stays bound to its engine for its whole
// life and must be given back with Pool.Release exactly once per lease.
type Session struct {
	pool   *Pool
	engine *engine
	ctx    context.Context
	cancel context.CancelFunc

	// released is guarded by the pool mutex.
	released bool
}

func (p *Pool) openTab(e *engine) (*Session, error) {
	ctx, cancel := chromedp.NewContext(e.ctx)
	if err := chromedp.Run(ctx,
		network.Enable(),
		network.SetBlockedURLS(blockedURLPatterns),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("preparing tab: %w", err)
	}
	return &Session{pool: p, engine: e, ctx: ctx, cancel: cancel}, nil
}

// Run executes chromedp actions on the tab under the pool navigation timeout.
// Cancelling the caller context aborts the run early.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.pool.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL and waits for the document body to attach.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// blank resets the tab between leases so the next borrower starts clean.
func (s *Session) blank() error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.pool.navTimeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate("about:blank"))
}
