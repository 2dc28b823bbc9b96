package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_PutGetRoundtrip(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	err := s.Put(Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryFundamentals,
		Fields:    map[string]float64{"pe": 22.1, "roe": 0.15},
		CachedAt:  now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		Source:    "alphavantage",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	e, expired, err := s.Get("AAPL", core.CategoryFundamentals)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e == nil {
		t.Fatal("expected entry")
	}
	if expired {
		t.Error("fresh entry reported expired")
	}
	if e.Fields["pe"] != 22.1 || e.Fields["roe"] != 0.15 {
		t.Errorf("fields = %v", e.Fields)
	}
	if e.Source != "alphavantage" {
		t.Errorf("source = %s", e.Source)
	}
	if !e.CachedAt.Equal(now) {
		t.Errorf("cached_at = %v, want %v", e.CachedAt, now)
	}
}

func TestStore_GetMiss(t *testing.T) {
	s, _ := openTestStore(t)

	e, expired, err := s.Get("MSFT", core.CategoryQuote)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e != nil || expired {
		t.Errorf("miss should return (nil, false), got (%v, %v)", e, expired)
	}
}

func TestStore_ExpiredEntryStillReturned(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()

	// Cached 10 days ago with a 7-day TTL.
	err := s.Put(Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryFundamentals,
		Fields:    map[string]float64{"pe": 20.0},
		CachedAt:  now.Add(-10 * 24 * time.Hour),
		ExpiresAt: now.Add(-3 * 24 * time.Hour),
		Source:    "alphavantage",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	e, expired, err := s.Get("AAPL", core.CategoryFundamentals)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e == nil {
		t.Fatal("expired entry must still be returned for stale fallback")
	}
	if !expired {
		t.Error("entry should be flagged expired")
	}
}

func TestStore_SchemaVersionBumpTreatedExpired(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()

	err := s.Put(Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryQuote,
		Fields:    map[string]float64{"price": 190.5},
		CachedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Source:    "yahoo",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Put stamps the current version when none is set.
	if _, expired, _ := s.Get("AAPL", core.CategoryQuote); expired {
		t.Fatal("entry stamped with the current version must read back fresh")
	}

	// Bump the quote schema version: everything written under the old
	// version must now read back as expired.
	schemaVersions[core.CategoryQuote]++
	defer func() { schemaVersions[core.CategoryQuote]-- }()

	e, expired, err := s.Get("AAPL", core.CategoryQuote)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e == nil {
		t.Fatal("expected entry")
	}
	if !expired {
		t.Error("entry with stale schema version must be treated as expired")
	}
}

func TestStore_PutReplacesWholesale(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()

	first := Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryQuote,
		Fields:    map[string]float64{"price": 190.5, "volume": 1000},
		CachedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Source:    "yahoo",
	}
	if err := s.Put(first); err != nil {
		t.Fatalf("put: %v", err)
	}

	second := Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryQuote,
		Fields:    map[string]float64{"price": 191.0},
		CachedAt:  now.Add(time.Minute),
		ExpiresAt: now.Add(time.Hour),
		Source:    "stooq",
	}
	if err := s.Put(second); err != nil {
		t.Fatalf("put: %v", err)
	}

	e, _, err := s.Get("AAPL", core.CategoryQuote)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := e.Fields["volume"]; ok {
		t.Error("replace must be wholesale, old fields should be gone")
	}
	if e.Source != "stooq" {
		t.Errorf("source = %s, want stooq", e.Source)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Now().UTC()
	err = s.Put(Entry{
		Symbol:    "MSFT",
		Category:  core.CategoryOHLCV,
		Fields:    map[string]float64{"close": 410.2},
		CachedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Source:    "yahoo",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	e, expired, err := s2.Get("MSFT", core.CategoryOHLCV)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if e == nil || expired {
		t.Fatal("entry should survive process restart")
	}
	if e.Fields["close"] != 410.2 {
		t.Errorf("close = %v", e.Fields["close"])
	}
}

func TestStore_ClearScoped(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()

	entries := []Entry{
		{Symbol: "AAPL", Category: core.CategoryQuote, Fields: map[string]float64{"price": 1}},
		{Symbol: "AAPL", Category: core.CategoryOHLCV, Fields: map[string]float64{"close": 1}},
		{Symbol: "MSFT", Category: core.CategoryQuote, Fields: map[string]float64{"price": 2}},
	}
	for _, e := range entries {
		e.CachedAt = now
		e.ExpiresAt = now.Add(time.Hour)
		e.Source = "test"
		if err := s.Put(e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := s.Clear("AAPL", core.CategoryQuote)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d, want 1", n)
	}

	if e, _, _ := s.Get("AAPL", core.CategoryOHLCV); e == nil {
		t.Error("other category should be untouched")
	}
	if e, _, _ := s.Get("MSFT", core.CategoryQuote); e == nil {
		t.Error("other symbol should be untouched")
	}

	n, err = s.Clear("", "")
	if err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
}

func TestStore_Stats(t *testing.T) {
	s, _ := openTestStore(t)
	now := time.Now().UTC()

	err := s.Put(Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryQuote,
		Fields:    map[string]float64{"price": 190.5},
		CachedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Source:    "yahoo",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	s.Get("AAPL", core.CategoryQuote) // hit
	s.Get("MSFT", core.CategoryQuote) // miss

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 1 {
		t.Errorf("entries = %d, want 1", st.Entries)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
	if st.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", st.HitRate)
	}
}
