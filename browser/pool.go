// Package browser maintains a bounded pool of headless browser sessions for
// pages that only render their data through JavaScript. Engines are whole
// browser processes; each engine hosts a fixed number of tab contexts that
// are leased out and recycled rather than relaunched per request.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/metrics"
)

// ErrPoolClosed is returned by Acquire after Shutdown has begun.
var ErrPoolClosed = errors.New("browser pool is closed")

// engine is one browser process hosting up to tabsPerEngine tab contexts.
// tabs counts reserved slots and is guarded by the pool mutex; the start
// fields let concurrent acquirers race safely to launch the same engine.
type engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	tabs int

	startOnce sync.Once
	startErr  error
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	InUse     int
	Available int
	Created   int64
	Reused    int64
}

// Pool hands out browser sessions up to a hard concurrency ceiling. Acquire
// prefers a pre-warmed idle tab, then an extra tab on a running engine, and
// only then launches a new engine.
type Pool struct {
	tabsPerEngine   int
	maxSessions     int
	prewarmEngines  int
	prewarmSessions int
	maxEngines      int
	navTimeout      time.Duration
	installCmd      []string
	installGlob     string
	metrics         *metrics.Metrics

	allocOpts   []chromedp.ExecAllocatorOption
	allocCtx    context.Context
	allocCancel context.CancelFunc

	// leases bounds total concurrently held sessions.
	leases chan struct{}

	mu      sync.Mutex
	free    []*Session
	engines []*engine
	inUse   int
	closed  bool

	created atomic.Int64
	reused  atomic.Int64

	installOnce  sync.Once
	shutdownOnce sync.Once

	// Launch seams, replaced in tests where no browser binary exists.
	launchFn func(ctx context.Context, e *engine) error
	tabFn    func(e *engine) (*Session, error)
	blankFn  func(s *Session) error
}

// New builds the pool and warms up the configured engines and tabs. A
// warm-up failure that survives remediation is fatal.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Pool, error) {
	p := newPool(cfg, m)
	p.allocOpts = allocatorOptions(cfg)
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), p.allocOpts...)
	p.launchFn = p.launchEngine
	p.tabFn = p.openTab
	p.blankFn = (*Session).blank

	if err := p.warmUp(ctx); err != nil {
		p.Shutdown(context.Background())
		return nil, err
	}
	return p, nil
}

func newPool(cfg *config.Config, m *metrics.Metrics) *Pool {
	maxEngines := (cfg.PoolMaxSessions + cfg.PoolTabsPerEngine - 1) / cfg.PoolTabsPerEngine
	if maxEngines < cfg.PoolEngines {
		maxEngines = cfg.PoolEngines
	}
	return &Pool{
		tabsPerEngine:   cfg.PoolTabsPerEngine,
		maxSessions:     cfg.PoolMaxSessions,
		prewarmEngines:  cfg.PoolEngines,
		prewarmSessions: cfg.PoolEngines * cfg.PoolTabsPerEngine,
		maxEngines:      maxEngines,
		navTimeout:      cfg.PoolNavTimeout,
		installCmd:      cfg.BrowserInstallCmd,
		installGlob:     cfg.BrowserInstallGlob,
		metrics:         m,
		leases:          make(chan struct{}, cfg.PoolMaxSessions),
	}
}

func (p *Pool) warmUp(ctx context.Context) error {
	for i := 0; i < p.prewarmEngines; i++ {
		e := &engine{}
		if err := p.ensureStarted(ctx, e); err != nil {
			return fmt.Errorf("warming up engine %d: %w", i, err)
		}
		p.mu.Lock()
		p.engines = append(p.engines, e)
		p.mu.Unlock()

		for t := 0; t < p.tabsPerEngine; t++ {
			p.mu.Lock()
			e.tabs++
			p.mu.Unlock()
			s, err := p.tabFn(e)
			if err != nil {
				return fmt.Errorf("warming up tab %d on engine %d: %w", t, i, err)
			}
			p.mu.Lock()
			p.free = append(p.free, s)
			p.mu.Unlock()
		}
	}
	p.publishGauges()
	slog.Info("browser pool ready",
		slog.Int("engines", p.prewarmEngines),
		slog.Int("tabs", p.prewarmSessions),
		slog.Int("max_sessions", p.maxSessions),
	)
	return nil
}

// Acquire leases a session, blocking while the pool is at its ceiling. The
// caller must Release the session exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	select {
	case p.leases <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := p.take(ctx)
	if err != nil {
		<-p.leases
		return nil, err
	}
	p.publishGauges()
	return s, nil
}

func (p *Pool) take(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		s.released = false
		p.inUse++
		p.mu.Unlock()
		p.reused.Add(1)
		p.metrics.IncPoolReused()
		return s, nil
	}

	// Reserve a tab slot before dropping the lock so the launch below does
	// not race another acquirer into the same slot.
	var host *engine
	for _, e := range p.engines {
		if e.tabs < p.tabsPerEngine {
			host = e
			break
		}
	}
	if host == nil {
		if len(p.engines) >= p.maxEngines {
			p.mu.Unlock()
			return nil, errors.New("browser pool capacity exhausted")
		}
		host = &engine{}
		p.engines = append(p.engines, host)
	}
	host.tabs++
	p.inUse++
	p.mu.Unlock()

	if err := p.ensureStarted(ctx, host); err != nil {
		p.unreserve(host)
		return nil, err
	}
	s, err := p.tabFn(host)
	if err != nil {
		p.unreserve(host)
		return nil, fmt.Errorf("opening browser tab: %w", err)
	}
	p.created.Add(1)
	p.metrics.IncPoolCreated()
	return s, nil
}

func (p *Pool) ensureStarted(ctx context.Context, e *engine) error {
	e.startOnce.Do(func() {
		e.startErr = p.launchFn(ctx, e)
	})
	return e.startErr
}

// unreserve rolls back a failed tab reservation and drops engines that never
// started or lost their last tab beyond the pre-warmed set.
func (p *Pool) unreserve(e *engine) {
	p.mu.Lock()
	e.tabs--
	p.inUse--
	var cancel context.CancelFunc
	if e.tabs == 0 && (e.startErr != nil || len(p.engines) > p.prewarmEngines) {
		p.removeEngine(e)
		cancel = e.cancel
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// removeEngine must be called with the pool mutex held.
func (p *Pool) removeEngine(e *engine) {
	for i, cand := range p.engines {
		if cand == e {
			p.engines = append(p.engines[:i], p.engines[i+1:]...)
			return
		}
	}
}

// Release returns a session to the pool. Idle capacity beyond the pre-warmed
// set is torn down instead of parked. Releasing twice is a no-op.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if s.released {
		p.mu.Unlock()
		return
	}
	s.released = true
	p.inUse--
	recycle := !p.closed && len(p.free) < p.prewarmSessions
	p.mu.Unlock()

	if recycle && p.blankFn != nil {
		if err := p.blankFn(s); err != nil {
			slog.Debug("recycling tab failed, closing it", slog.Any("error", err))
			recycle = false
		}
	}

	if recycle {
		p.mu.Lock()
		// Recheck the bound: another release may have parked a session
		// while this one was off the lock blanking its tab.
		if p.closed || len(p.free) >= p.prewarmSessions {
			recycle = false
		} else {
			p.free = append(p.free, s)
		}
		p.mu.Unlock()
	}
	if !recycle {
		p.closeSession(s)
	}

	<-p.leases
	p.publishGauges()
}

func (p *Pool) closeSession(s *Session) {
	s.cancel()
	p.mu.Lock()
	s.engine.tabs--
	var cancel context.CancelFunc
	if s.engine.tabs == 0 && len(p.engines) > p.prewarmEngines {
		p.removeEngine(s.engine)
		cancel = s.engine.cancel
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stats reports current occupancy and lifetime counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	st := Stats{InUse: p.inUse, Available: len(p.free)}
	p.mu.Unlock()
	st.Created = p.created.Load()
	st.Reused = p.reused.Load()
	return st
}

// Shutdown closes free sessions, then engines, then the allocator. Errors are
// logged and skipped so a wedged tab cannot block process exit. In-flight
// sessions are abandoned to their engine cancel.
func (p *Pool) Shutdown(ctx context.Context) {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		free := p.free
		p.free = nil
		engines := p.engines
		p.engines = nil
		p.mu.Unlock()

		for _, s := range free {
			s.cancel()
		}
		for _, e := range engines {
			if e.cancel != nil {
				e.cancel()
			}
		}
		if p.allocCancel != nil {
			p.allocCancel()
		}
		slog.Info("browser pool shut down", slog.Int("engines_closed", len(engines)))
	})
}

func (p *Pool) publishGauges() {
	p.mu.Lock()
	inUse, available := p.inUse, len(p.free)
	p.mu.Unlock()
	p.metrics.SetPoolGauges(inUse, available)
}

func (p *Pool) launchEngine(ctx context.Context, e *engine) error {
	bctx, cancel := chromedp.NewContext(p.allocator())
	err := chromedp.Run(bctx)
	if err != nil && missingBinary(err) && p.remediate(ctx) {
		cancel()
		bctx, cancel = chromedp.NewContext(p.allocator())
		err = chromedp.Run(bctx)
	}
	if err != nil {
		cancel()
		return fmt.Errorf("starting browser engine: %w", err)
	}
	e.ctx, e.cancel = bctx, cancel
	return nil
}

// allocator returns the current allocator context. remediate may replace it
// after an install, so reads go through the pool mutex.
func (p *Pool) allocator() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocCtx
}

// remediate runs the configured browser install command at most once per
// process. It reports whether an install completed and a relaunch is worth
// attempting.
func (p *Pool) remediate(ctx context.Context) bool {
	installed := false
	p.installOnce.Do(func() {
		if len(p.installCmd) == 0 {
			return
		}
		slog.Warn("browser binary missing, running install",
			slog.String("cmd", strings.Join(p.installCmd, " ")),
		)
		cmd := exec.CommandContext(ctx, p.installCmd[0], p.installCmd[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			slog.Error("browser install failed",
				slog.Any("error", err),
				slog.String("output", truncate(string(out), 500)),
			)
			return
		}
		slog.Info("browser install completed")
		installed = true
		p.adoptInstalledBinary()
	})
	return installed
}

// adoptInstalledBinary points the allocator at the binary the install glob
// resolves to. The install command may drop the binary outside PATH, where
// the allocator's own search would never see it; without a glob match the
// relaunch falls back to the PATH search.
func (p *Pool) adoptInstalledBinary() {
	execPath, ok := locateBrowser(p.installGlob)
	if !ok {
		slog.Warn("installed browser binary not found, relying on PATH",
			slog.String("glob", p.installGlob),
		)
		return
	}
	slog.Info("relaunching with installed browser", slog.String("exec_path", execPath))

	opts := append(append([]chromedp.ExecAllocatorOption{}, p.allocOpts...), chromedp.ExecPath(execPath))
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	p.mu.Lock()
	oldCancel := p.allocCancel
	p.allocCtx = allocCtx
	if oldCancel != nil {
		p.allocCancel = func() {
			allocCancel()
			oldCancel()
		}
	} else {
		p.allocCancel = allocCancel
	}
	p.mu.Unlock()
}

// locateBrowser resolves the newest binary matching the install glob. Install
// directories carry version suffixes, so the lexically last match wins.
func locateBrowser(glob string) (string, bool) {
	if glob == "" {
		return "", false
	}
	matches, err := filepath.Glob(glob)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}

func missingBinary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func allocatorOptions(cfg *config.Config) []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.EnableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(cfg.UserAgent),
	)
}
