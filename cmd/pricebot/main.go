package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iegorov553/price-gh-bot-sub000/analytics"
	"github.com/iegorov553/price-gh-bot-sub000/browser"
	"github.com/iegorov553/price-gh-bot-sub000/cache"
	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/metrics"
	"github.com/iegorov553/price-gh-bot-sub000/models"
	"github.com/iegorov553/price-gh-bot-sub000/orchestrator"
	"github.com/iegorov553/price-gh-bot-sub000/pricing"
	"github.com/iegorov553/price-gh-bot-sub000/scrape"
	"github.com/iegorov553/price-gh-bot-sub000/trust"
)

func main() {
	envCfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	concurrency := flag.Int("concurrency", envCfg.MaxConcurrent, "Concurrent URL acquisitions")
	timeoutSec := flag.Int("timeout", int(envCfg.Timeout.Seconds()), "Per-request timeout (seconds)")
	redisAddr := flag.String("redis-addr", envCfg.RedisAddr, "Redis address for the outcome cache")
	noCache := flag.Bool("no-cache", !envCfg.CacheEnabled, "Disable the Redis cache")
	noBrowser := flag.Bool("no-browser", false, "Disable the browser pool (seller profiles will be skipped)")
	feesFile := flag.String("fees", envCfg.FeesFile, "Fee table YAML path")
	shippingFile := flag.String("shipping", envCfg.ShippingFile, "Shipping weight table YAML path")
	analyticsPath := flag.String("analytics", envCfg.AnalyticsPath, "SQLite analytics database path")
	metricsAddr := flag.String("metrics-addr", envCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pricebot [flags] <listing-or-profile-url>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := envCfg
	cfg.MaxConcurrent = *concurrency
	cfg.Timeout = time.Duration(*timeoutSec) * time.Second
	cfg.RedisAddr = *redisAddr
	cfg.CacheEnabled = !*noCache
	cfg.FeesFile = *feesFile
	cfg.ShippingFile = *shippingFile
	cfg.AnalyticsPath = *analyticsPath
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	store := cache.New(cfg, m)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("close cache", slog.Any("error", err))
		}
	}()

	var pool orchestrator.Pool
	var browserPool *browser.Pool
	if !*noBrowser {
		browserPool, err = browser.New(ctx, cfg, m)
		if err != nil {
			slog.Error("initialising browser pool", slog.Any("error", err))
			os.Exit(1)
		}
		pool = browserPool
	}

	sink, err := analytics.Open(cfg.AnalyticsPath)
	if err != nil {
		slog.Warn("analytics disabled", slog.Any("error", err))
		sink = nil
	}

	feeTable, err := config.LoadFeeTable(cfg.FeesFile)
	if err != nil {
		slog.Error("loading fee table", slog.Any("error", err))
		os.Exit(1)
	}
	weightTable, err := config.LoadWeightTable(cfg.ShippingFile)
	if err != nil {
		slog.Error("loading weight table", slog.Any("error", err))
		os.Exit(1)
	}

	currency := pricing.NewCurrency(cfg, store, m)
	shipping, err := pricing.NewShippingEstimator(weightTable, feeTable.Forwarding)
	if err != nil {
		slog.Error("building shipping estimator", slog.Any("error", err))
		os.Exit(1)
	}
	calc := pricing.NewCalculator(pricing.NewFees(feeTable, currency), shipping, currency)

	registry := scrape.NewRegistry(scrape.NewEBay(cfg), scrape.NewGrailed(cfg))
	orch := orchestrator.New(cfg, registry, store, pool, sink, m)

	slog.Info("starting acquisition",
		slog.Int("urls", len(urls)),
		slog.Int("concurrency", cfg.MaxConcurrent),
		slog.Bool("cache", cfg.CacheEnabled),
		slog.Bool("browser", browserPool != nil),
	)

	startTime := time.Now()
	outcomes := orch.AcquireMany(ctx, urls, "cli")

	failures := 0
	for i := range outcomes {
		printOutcome(ctx, &outcomes[i], calc)
		if !outcomes[i].Success {
			failures++
		}
	}
	printSummary(len(outcomes), failures, time.Since(startTime))

	if browserPool != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		browserPool.Shutdown(shutdownCtx)
		cancel()
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Error("close analytics", slog.Any("error", err))
		}
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func printOutcome(ctx context.Context, outcome *models.Outcome, calc *pricing.Calculator) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("%s (%s)\n", outcome.URL, outcome.Platform)

	if !outcome.Success {
		fmt.Printf("  Failed:        %s\n", outcome.Error)
		return
	}
	if outcome.FromCache {
		fmt.Println("  Source:        cache")
	}

	if outcome.Listing != nil {
		l := outcome.Listing
		if l.Title != "" {
			fmt.Printf("  Title:         %s\n", l.Title)
		}
		if l.Price != nil {
			fmt.Printf("  Item price:    $%s\n", l.Price.StringFixed(2))
		}
		if l.ShippingOrigin != nil {
			fmt.Printf("  US shipping:   $%s\n", l.ShippingOrigin.StringFixed(2))
		}
		if !l.Buyable {
			fmt.Println("  Buy now:       not available")
		}

		if b := calc.Breakdown(ctx, l); b != nil {
			fmt.Printf("  Commission:    $%s (%s)\n", b.Commission.StringFixed(2), b.CommissionType)
			if !b.CustomsDuty.IsZero() {
				fmt.Printf("  Customs duty:  $%s\n", b.CustomsDuty.StringFixed(2))
			}
			fmt.Printf("  Forwarding:    $%s\n", b.ShippingFinal.StringFixed(2))
			fmt.Printf("  Final price:   $%s\n", b.FinalUSD.StringFixed(2))
			if b.FinalRUB != nil && b.ExchangeRate != nil {
				fmt.Printf("  Final price:   %s RUB (at %s)\n", b.FinalRUB.StringFixed(2), b.ExchangeRate.StringFixed(2))
			}
		}
	}

	if outcome.Seller != nil || outcome.Listing != nil {
		score := trust.Score(outcome.Seller, time.Now().UTC())
		fmt.Printf("  Seller:        %s (%d/100)\n", score.Category, score.Total)
		if advisory := trust.Evaluate(outcome.Seller, outcome.Listing); advisory.Reason != "" {
			fmt.Printf("  Advisory:      %s\n", advisory.Message)
		}
	}
}

func printSummary(total, failures int, duration time.Duration) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Acquisition complete")
	fmt.Printf("  URLs:          %d\n", total)
	fmt.Printf("  Succeeded:     %d\n", total-failures)
	fmt.Printf("  Failed:        %d\n", failures)
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
