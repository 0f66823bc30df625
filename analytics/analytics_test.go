package analytics

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/iegorov553/price-gh-bot-sub000/models"
)

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "analytics.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestRecordPersistsOutcomeFields(t *testing.T) {
	s := openTestSink(t)

	price := decimal.RequireFromString("149.99")
	s.Record(&models.Outcome{
		Success:   true,
		Platform:  "ebay",
		URL:       "https://www.ebay.com/itm/1",
		Listing:   &models.Listing{Price: &price, Buyable: true, Title: "vintage tee"},
		Seller:    &models.Seller{Reviews: 12, AvgRating: 4.9},
		ElapsedMs: 840,
	}, "caller-7")

	path := sinkPath(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Close drained the channel, so the row is visible to a fresh handle.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var (
		url, callerID, platform, itemPrice, title string
		success, fromCache, buyable               bool
		reviews, elapsed                          int64
		rating                                    float64
	)
	row := reopened.db.QueryRow(`
		SELECT url, caller_id, platform, success, from_cache, item_price,
		       item_title, is_buyable, seller_reviews, seller_rating, elapsed_ms
		FROM acquisitions`)
	if err := row.Scan(&url, &callerID, &platform, &success, &fromCache,
		&itemPrice, &title, &buyable, &reviews, &rating, &elapsed); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if url != "https://www.ebay.com/itm/1" || callerID != "caller-7" || platform != "ebay" {
		t.Fatalf("identity columns = %q %q %q", url, callerID, platform)
	}
	if !success || fromCache {
		t.Fatalf("flags = success:%v from_cache:%v", success, fromCache)
	}
	if itemPrice != "149.99" || title != "vintage tee" || !buyable {
		t.Fatalf("listing columns = %q %q %v", itemPrice, title, buyable)
	}
	if reviews != 12 || rating != 4.9 || elapsed != 840 {
		t.Fatalf("seller/elapsed columns = %d %v %d", reviews, rating, elapsed)
	}
}

func TestRecordFailedOutcomeNullListing(t *testing.T) {
	s := openTestSink(t)

	s.Record(&models.Outcome{
		Success:   false,
		Platform:  "grailed",
		URL:       "https://www.grailed.com/listings/9",
		Error:     "timeout: context deadline exceeded",
		ElapsedMs: 15000,
	}, "caller-1")

	path := sinkPath(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	var success bool
	var errMsg string
	var itemPrice any
	row := reopened.db.QueryRow(`SELECT success, error_message, item_price FROM acquisitions`)
	if err := row.Scan(&success, &errMsg, &itemPrice); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if success {
		t.Fatalf("failed outcome stored as success")
	}
	if errMsg != "timeout: context deadline exceeded" {
		t.Fatalf("error_message = %q", errMsg)
	}
	if itemPrice != nil {
		t.Fatalf("item_price = %v, want NULL without a listing", itemPrice)
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Record(&models.Outcome{Success: true, Platform: "ebay", URL: "x"}, "c")
	if err := s.Close(); err != nil {
		t.Fatalf("nil sink close: %v", err)
	}
}

func TestRecordAfterCloseIsDropped(t *testing.T) {
	s := openTestSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic on the closed channel.
	s.Record(&models.Outcome{Success: true, Platform: "ebay", URL: "x"}, "c")
}

func TestConcurrentRecordAndCloseDoesNotPanic(t *testing.T) {
	outcome := &models.Outcome{Success: true, Platform: "ebay", URL: "https://www.ebay.com/itm/1"}

	for i := 0; i < 50; i++ {
		s := openTestSink(t)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					s.Record(outcome, "c")
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := s.Close(); err != nil {
				t.Errorf("close: %v", err)
			}
		}()

		close(start)
		wg.Wait()
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openTestSink(t)
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

// sinkPath recovers the on-disk path from the sink's connection string so a
// test can reopen the same database after Close.
func sinkPath(t *testing.T, s *Sink) string {
	t.Helper()
	var path string
	if err := s.db.QueryRow(`SELECT file FROM pragma_database_list WHERE name='main'`).Scan(&path); err != nil {
		t.Fatalf("resolve db path: %v", err)
	}
	return path
}
