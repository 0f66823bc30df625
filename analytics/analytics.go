// Package analytics persists one row per acquisition outcome to SQLite so
// usage and failure patterns can be queried offline. Recording is fire and
// forget: a broken sink never fails an acquisition.
package analytics

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iegorov553/price-gh-bot-sub000/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS acquisitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	caller_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	from_cache BOOLEAN NOT NULL,
	item_price TEXT,
	shipping_origin TEXT,
	item_title TEXT,
	is_buyable BOOLEAN,
	seller_reviews INTEGER,
	seller_rating REAL,
	error_message TEXT,
	elapsed_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_acquisitions_caller ON acquisitions(caller_id);
CREATE INDEX IF NOT EXISTS idx_acquisitions_platform ON acquisitions(platform);
CREATE INDEX IF NOT EXISTS idx_acquisitions_created ON acquisitions(created_at);
CREATE INDEX IF NOT EXISTS idx_acquisitions_success ON acquisitions(success);
`

const insertStmt = `
INSERT INTO acquisitions (
	url, caller_id, platform, success, from_cache,
	item_price, shipping_origin, item_title, is_buyable,
	seller_reviews, seller_rating, error_message, elapsed_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type record struct {
	outcome  models.Outcome
	callerID string
	at       time.Time
}

// Sink writes acquisition rows through a single background worker. A nil
// *Sink is a valid disabled sink.
type Sink struct {
	db *sql.DB
	ch chan record
	wg sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int64
}

// Open creates or opens the analytics database and starts the writer. The
// busy timeout plus a single connection keeps concurrent writers from
// tripping over SQLite locking.
func Open(path string) (*Sink, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply analytics schema: %w", err)
	}

	s := &Sink{
		db: db,
		ch: make(chan record, 256),
	}
	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// Record enqueues one outcome. It never blocks: when the buffer is full the
// row is dropped and counted. The mutex is held across the non-blocking send
// so Close cannot close the channel between the closed check and the send.
func (s *Sink) Record(outcome *models.Outcome, callerID string) {
	if s == nil || outcome == nil {
		return
	}
	rec := record{outcome: *outcome, callerID: callerID, at: time.Now().UTC()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var droppedTotal int64
	select {
	case s.ch <- rec:
	default:
		s.dropped++
		droppedTotal = s.dropped
	}
	s.mu.Unlock()

	if droppedTotal > 0 {
		slog.Warn("analytics buffer full, dropping record", slog.Int64("dropped_total", droppedTotal))
	}
}

// Close drains pending records and closes the database. Safe to call more
// than once and safe against concurrent Record calls.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	if !alreadyClosed {
		close(s.ch)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for rec := range s.ch {
		if err := s.insert(rec); err != nil {
			slog.Warn("analytics insert failed", slog.Any("error", err))
		}
	}
}

func (s *Sink) insert(rec record) error {
	o := rec.outcome

	var itemPrice, shippingOrigin, title any
	var buyable any
	if o.Listing != nil {
		if o.Listing.Price != nil {
			itemPrice = o.Listing.Price.String()
		}
		if o.Listing.ShippingOrigin != nil {
			shippingOrigin = o.Listing.ShippingOrigin.String()
		}
		if o.Listing.Title != "" {
			title = o.Listing.Title
		}
		buyable = o.Listing.Buyable
	}

	var reviews, rating any
	if o.Seller != nil {
		reviews = o.Seller.Reviews
		rating = o.Seller.AvgRating
	}

	var errMsg any
	if o.Error != "" {
		errMsg = o.Error
	}

	_, err := s.db.Exec(insertStmt,
		o.URL, rec.callerID, o.Platform, o.Success, o.FromCache,
		itemPrice, shippingOrigin, title, buyable,
		reviews, rating, errMsg, o.ElapsedMs, rec.at,
	)
	return err
}
