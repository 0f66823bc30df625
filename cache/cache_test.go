package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ttls := map[Namespace]time.Duration{
		NamespaceListing: 24 * time.Hour,
		NamespaceSeller:  12 * time.Hour,
		NamespaceRate:    12 * time.Hour,
	}
	return NewWithClient(client, ttls, nil), mr
}

func listingOutcome(url string, price string) *models.Outcome {
	p := decimal.RequireFromString(price)
	return &models.Outcome{
		Success:  true,
		Platform: "ebay",
		URL:      url,
		Listing:  &models.Listing{Price: &p, Buyable: true, Title: "vintage jacket"},
	}
}

func TestKeyNormalizesIdentifier(t *testing.T) {
	a := Key(NamespaceListing, "https://example.com/item/1")
	b := Key(NamespaceListing, "  HTTPS://EXAMPLE.COM/item/1  ")
	if a != b {
		t.Fatalf("normalized variants should share a key: %q vs %q", a, b)
	}
	c := Key(NamespaceSeller, "https://example.com/item/1")
	if a == c {
		t.Fatalf("namespaces should not collide")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	url := "https://www.ebay.com/itm/12345"

	if _, ok := store.Get(ctx, NamespaceListing, url); ok {
		t.Fatalf("unexpected hit on empty store")
	}

	if !store.Set(ctx, NamespaceListing, url, listingOutcome(url, "149.99"), 0) {
		t.Fatalf("set should succeed")
	}

	got, ok := store.Get(ctx, NamespaceListing, url)
	if !ok {
		t.Fatalf("expected hit after set")
	}
	if got.Listing == nil || got.Listing.Price == nil {
		t.Fatalf("listing price lost in round trip: %+v", got)
	}
	if got.Listing.Price.StringFixed(2) != "149.99" {
		t.Fatalf("price = %s, want 149.99", got.Listing.Price.StringFixed(2))
	}
}

func TestSetRefusesListingWithoutPrice(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	outcome := &models.Outcome{
		Success:  true,
		Platform: "grailed",
		URL:      "https://www.grailed.com/listings/1",
		Listing:  &models.Listing{Buyable: true, Title: "no price captured"},
	}
	if store.Set(ctx, NamespaceListing, outcome.URL, outcome, 0) {
		t.Fatalf("successful listing without price must not be cached")
	}

	failed := &models.Outcome{Success: false, Platform: "grailed", URL: outcome.URL, Error: "timeout"}
	if store.Set(ctx, NamespaceListing, failed.URL, failed, 0) {
		t.Fatalf("failed outcomes must not be cached")
	}
}

func TestGetDiscardsInvalidStoredListing(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	url := "https://www.ebay.com/itm/888"

	// Simulate a stale entry written before the price validity rule existed.
	invalid := &models.Outcome{
		Success:  true,
		Platform: "ebay",
		URL:      url,
		Listing:  &models.Listing{Buyable: true},
	}
	raw, err := encodeOutcome(NamespaceListing, invalid, time.Hour)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mr.Set(Key(NamespaceListing, url), string(raw))

	if _, ok := store.Get(ctx, NamespaceListing, url); ok {
		t.Fatalf("priceless successful listing must be treated as a miss")
	}
}

func TestGetRejectsSchemaAndNamespaceMismatch(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	url := "https://www.ebay.com/itm/42"
	outcome := listingOutcome(url, "10.00")

	raw, err := encodeOutcome(NamespaceListing, outcome, time.Hour)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Entry stored under the wrong namespace key.
	mr.Set(Key(NamespaceSeller, url), string(raw))
	if _, ok := store.Get(ctx, NamespaceSeller, url); ok {
		t.Fatalf("namespace mismatch should be a miss")
	}

	// Entry with an unknown schema version.
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	env["version"] = json.RawMessage("99")
	bumped, _ := json.Marshal(env)
	mr.Set(Key(NamespaceListing, url), string(bumped))
	if _, ok := store.Get(ctx, NamespaceListing, url); ok {
		t.Fatalf("unknown schema version should be a miss")
	}
}

func TestSetIsLastWriteWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	url := "https://www.ebay.com/itm/7"

	store.Set(ctx, NamespaceListing, url, listingOutcome(url, "100.00"), 0)
	store.Set(ctx, NamespaceListing, url, listingOutcome(url, "90.00"), 0)

	got, ok := store.Get(ctx, NamespaceListing, url)
	if !ok {
		t.Fatalf("expected hit")
	}
	if got.Listing.Price.StringFixed(2) != "90.00" {
		t.Fatalf("price = %s, want the second write", got.Listing.Price.StringFixed(2))
	}
}

func TestListingTTLBoundary(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	url := "https://www.ebay.com/itm/2024"

	store.Set(ctx, NamespaceListing, url, listingOutcome(url, "55.00"), 0)

	mr.FastForward(86399 * time.Second)
	if _, ok := store.Get(ctx, NamespaceListing, url); !ok {
		t.Fatalf("entry must still be served one second before expiry")
	}

	mr.FastForward(2 * time.Second)
	if _, ok := store.Get(ctx, NamespaceListing, url); ok {
		t.Fatalf("entry must be expired one second after the TTL")
	}
}

func TestZeroReviewSellerDistinctFromAbsent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	withSeller := &models.Outcome{
		Success:  true,
		Platform: "grailed",
		URL:      "https://www.grailed.com/newseller",
		Seller:   &models.Seller{Reviews: 0, AvgRating: 0, LastActivityAt: time.Now().UTC()},
	}
	withoutSeller := &models.Outcome{
		Success:  true,
		Platform: "grailed",
		URL:      "https://www.grailed.com/hiddenseller",
	}

	store.Set(ctx, NamespaceSeller, withSeller.URL, withSeller, 0)
	store.Set(ctx, NamespaceSeller, withoutSeller.URL, withoutSeller, 0)

	a, ok := store.Get(ctx, NamespaceSeller, withSeller.URL)
	if !ok || a.Seller == nil {
		t.Fatalf("zero-review seller record must round-trip as present: %+v", a)
	}
	if a.Seller.Reviews != 0 {
		t.Fatalf("reviews = %d, want 0", a.Seller.Reviews)
	}

	b, ok := store.Get(ctx, NamespaceSeller, withoutSeller.URL)
	if !ok {
		t.Fatalf("expected hit for outcome without seller")
	}
	if b.Seller != nil {
		t.Fatalf("absent seller record must round-trip as nil, got %+v", b.Seller)
	}
}

func TestRateRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok := store.RateGet(ctx, "USD_RUB"); ok {
		t.Fatalf("unexpected hit on empty store")
	}
	if !store.RateSet(ctx, "USD_RUB", 92.45) {
		t.Fatalf("rate set should succeed")
	}
	rate, ok := store.RateGet(ctx, "USD_RUB")
	if !ok || rate != 92.45 {
		t.Fatalf("rate = %v (hit=%v), want 92.45", rate, ok)
	}
}

func TestInvalidatePattern(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, NamespaceListing, "https://a.example/1", listingOutcome("https://a.example/1", "1.00"), 0)
	store.Set(ctx, NamespaceListing, "https://a.example/2", listingOutcome("https://a.example/2", "2.00"), 0)
	store.RateSet(ctx, "USD_RUB", 90)

	if n := store.Invalidate(ctx, "listing:*"); n != 2 {
		t.Fatalf("invalidated %d keys, want 2", n)
	}
	if _, ok := store.Get(ctx, NamespaceListing, "https://a.example/1"); ok {
		t.Fatalf("listing should be gone after invalidation")
	}
	if _, ok := store.RateGet(ctx, "USD_RUB"); !ok {
		t.Fatalf("rate namespace must survive listing invalidation")
	}
}

func TestBackendDownDegradesToMiss(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	url := "https://www.ebay.com/itm/99"

	store.Set(ctx, NamespaceListing, url, listingOutcome(url, "20.00"), 0)
	mr.Close()

	if _, ok := store.Get(ctx, NamespaceListing, url); ok {
		t.Fatalf("unreachable backend must read as a miss")
	}
	if store.Set(ctx, NamespaceListing, url, listingOutcome(url, "21.00"), 0) {
		t.Fatalf("unreachable backend must make writes a no-op")
	}
	if n := store.Invalidate(ctx, "listing:*"); n != 0 {
		t.Fatalf("invalidate on dead backend returned %d", n)
	}
}

func TestDisabledStoreNoOps(t *testing.T) {
	store := &Store{}
	ctx := context.Background()

	if _, ok := store.Get(ctx, NamespaceListing, "x"); ok {
		t.Fatalf("disabled store should always miss")
	}
	if store.Set(ctx, NamespaceListing, "x", listingOutcome("x", "1.00"), 0) {
		t.Fatalf("disabled store should refuse writes")
	}
	if st := store.Stats(ctx); st.Connected {
		t.Fatalf("disabled store should report disconnected")
	}
}
