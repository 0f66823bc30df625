// Package cache provides a namespaced, TTL-bound store for acquisition
// outcomes backed by Redis. Caching is an optimization: when the backend is
// unreachable every operation degrades to a no-op miss and the caller
// re-fetches from the source.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iegorov553/price-gh-bot-sub000/config"
	"github.com/iegorov553/price-gh-bot-sub000/metrics"
	"github.com/iegorov553/price-gh-bot-sub000/models"
)

// Namespace selects the cache partition and its TTL.
type Namespace string

const (
	NamespaceListing Namespace = "listing"
	NamespaceSeller  Namespace = "seller"
	NamespaceRate    Namespace = "rate"
)

const keyPrefix = "pricebot"

// connectTimeout bounds the startup connection probe.
const connectTimeout = 5 * time.Second

// Stats is a read-only health snapshot.
type Stats struct {
	Connected bool  `json:"connected"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Errors    int64 `json:"errors"`
}

// Store is a namespaced key-value cache for domain records.
type Store struct {
	client  *redis.Client
	ttls    map[Namespace]time.Duration
	metrics *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// New builds a cache store from configuration. A failed connection probe is
// logged but not fatal: per-operation errors degrade to misses anyway.
func New(cfg *config.Config, m *metrics.Metrics) *Store {
	s := &Store{
		ttls: map[Namespace]time.Duration{
			NamespaceListing: cfg.ListingTTL,
			NamespaceSeller:  cfg.SellerTTL,
			NamespaceRate:    cfg.RateTTL,
		},
		metrics: m,
	}

	if !cfg.CacheEnabled {
		slog.Info("cache disabled by configuration")
		return s
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, operating in degraded mode",
			slog.String("addr", cfg.RedisAddr),
			slog.Any("error", err),
		)
	}

	s.client = client
	return s
}

// NewWithClient builds a store around an existing client. Used by tests.
func NewWithClient(client *redis.Client, ttls map[Namespace]time.Duration, m *metrics.Metrics) *Store {
	return &Store{client: client, ttls: ttls, metrics: m}
}

// Key derives the storage key for an identifier: lower-cased, trimmed, hashed
// and prefixed with the namespace so URL variants collapse to one entry.
func Key(ns Namespace, identifier string) string {
	normalized := strings.ToLower(strings.TrimSpace(identifier))
	sum := md5.Sum([]byte(normalized))
	return keyPrefix + ":" + string(ns) + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached outcome for an identifier, or (nil, false) on miss.
// Corrupt, stale-schema, or invalid entries count as misses so a re-fetch is
// always possible.
func (s *Store) Get(ctx context.Context, ns Namespace, identifier string) (*models.Outcome, bool) {
	if s.client == nil {
		return nil, false
	}

	raw, err := s.client.Get(ctx, Key(ns, identifier)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.errors.Add(1)
			s.metrics.IncCacheOp(string(ns), "error")
			slog.Warn("cache read failed", slog.String("namespace", string(ns)), slog.Any("error", err))
		} else {
			s.miss(ns)
		}
		return nil, false
	}

	outcome, err := decodeOutcome(raw, ns)
	if err != nil {
		slog.Debug("discarding undecodable cache entry",
			slog.String("namespace", string(ns)),
			slog.Any("error", err),
		)
		s.miss(ns)
		return nil, false
	}

	if !validOutcome(ns, outcome) {
		s.miss(ns)
		return nil, false
	}

	s.hits.Add(1)
	s.metrics.IncCacheOp(string(ns), "hit")
	return outcome, true
}

// Set writes an outcome under the namespace TTL (or ttlOverride when positive).
// Entries are immutable once written: a second Set for the same key overwrites
// wholesale. Returns false when the write was refused or failed.
func (s *Store) Set(ctx context.Context, ns Namespace, identifier string, outcome *models.Outcome, ttlOverride time.Duration) bool {
	if s.client == nil || outcome == nil {
		return false
	}

	// Write-path twin of the read validity rule: a successful listing without
	// a price must never be pinned in the cache.
	if !validOutcome(ns, outcome) {
		return false
	}

	ttl := s.ttls[ns]
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	raw, err := encodeOutcome(ns, outcome, ttl)
	if err != nil {
		s.errors.Add(1)
		slog.Warn("cache encode failed", slog.Any("error", err))
		return false
	}

	if err := s.client.Set(ctx, Key(ns, identifier), raw, ttl).Err(); err != nil {
		s.errors.Add(1)
		s.metrics.IncCacheOp(string(ns), "error")
		slog.Warn("cache write failed", slog.String("namespace", string(ns)), slog.Any("error", err))
		return false
	}

	s.sets.Add(1)
	s.metrics.IncCacheOp(string(ns), "set")
	return true
}

// RateGet returns a cached exchange rate by pair identifier (e.g. "USD_RUB").
func (s *Store) RateGet(ctx context.Context, pair string) (float64, bool) {
	if s.client == nil {
		return 0, false
	}

	raw, err := s.client.Get(ctx, Key(NamespaceRate, pair)).Result()
	if err != nil {
		if err != redis.Nil {
			s.errors.Add(1)
			s.metrics.IncCacheOp(string(NamespaceRate), "error")
		} else {
			s.miss(NamespaceRate)
		}
		return 0, false
	}

	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.miss(NamespaceRate)
		return 0, false
	}

	s.hits.Add(1)
	s.metrics.IncCacheOp(string(NamespaceRate), "hit")
	return rate, true
}

// RateSet caches an exchange rate under the rate namespace TTL.
func (s *Store) RateSet(ctx context.Context, pair string, rate float64) bool {
	if s.client == nil {
		return false
	}

	raw := strconv.FormatFloat(rate, 'f', -1, 64)
	if err := s.client.Set(ctx, Key(NamespaceRate, pair), raw, s.ttls[NamespaceRate]).Err(); err != nil {
		s.errors.Add(1)
		s.metrics.IncCacheOp(string(NamespaceRate), "error")
		return false
	}

	s.sets.Add(1)
	s.metrics.IncCacheOp(string(NamespaceRate), "set")
	return true
}

// Invalidate deletes every key matching the glob pattern (relative to the key
// prefix, e.g. "listing:*"). Returns the number of keys deleted.
func (s *Store) Invalidate(ctx context.Context, pattern string) int {
	if s.client == nil {
		return 0
	}

	fullPattern := keyPrefix + ":" + pattern
	deleted := 0
	iter := s.client.Scan(ctx, 0, fullPattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.errors.Add(1)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		s.errors.Add(1)
		slog.Warn("cache invalidation scan failed", slog.String("pattern", fullPattern), slog.Any("error", err))
	}

	if deleted > 0 {
		slog.Info("cache entries invalidated", slog.String("pattern", fullPattern), slog.Int("count", deleted))
	}
	return deleted
}

// Stats returns a point-in-time health snapshot.
func (s *Store) Stats(ctx context.Context) Stats {
	st := Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Sets:   s.sets.Load(),
		Errors: s.errors.Load(),
	}
	if s.client != nil {
		st.Connected = s.client.Ping(ctx).Err() == nil
	}
	return st
}

// Close releases the backing connection.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) miss(ns Namespace) {
	s.misses.Add(1)
	s.metrics.IncCacheOp(string(ns), "miss")
}

// validOutcome rejects entries that would block a useful re-fetch: a listing
// outcome claiming success without a captured price is worthless.
func validOutcome(ns Namespace, outcome *models.Outcome) bool {
	if outcome == nil || !outcome.Success {
		return false
	}
	if ns == NamespaceListing {
		if outcome.Listing == nil || outcome.Listing.Price == nil {
			return false
		}
	}
	return true
}
