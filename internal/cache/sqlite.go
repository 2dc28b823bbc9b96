package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

// Per-category payload schema versions. Bumping a version treats every
// existing entry of that category as expired, so data shaped by an older
// field mapping is never served as fresh.
var schemaVersions = map[core.Category]int{
	core.CategoryOHLCV:        1,
	core.CategoryFundamentals: 1,
	core.CategoryQuote:        1,
}

// SchemaVersion returns the current payload schema version for a category.
func SchemaVersion(c core.Category) int {
	return schemaVersions[c]
}

// Entry is one cached fetch keyed by (symbol, category). Entries are
// replaced wholesale, never updated in place.
type Entry struct {
	Symbol        string             `json:"symbol"`
	Category      core.Category      `json:"category"`
	Fields        map[string]float64 `json:"fields"`
	CachedAt      time.Time          `json:"cached_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	Source        string             `json:"source"`
	SchemaVersion int                `json:"schema_version"`
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CachedAt)
}

// Stats describes the cache for the status endpoint.
type Stats struct {
	Entries   int           `json:"entries"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	HitRate   float64       `json:"hit_rate"`
	OldestAge time.Duration `json:"oldest_age"`
	NewestAge time.Duration `json:"newest_age"`
}

// Store is a durable (symbol, category) -> fields cache backed by sqlite.
// It survives process restarts; a fresh open sees everything a previous
// process wrote.
type Store struct {
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
	now    func() time.Time
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "data/cache.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			symbol TEXT NOT NULL,
			category TEXT NOT NULL,
			payload TEXT NOT NULL,
			cached_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			source TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			PRIMARY KEY (symbol, category)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate cache: %w", err)
		}
	}
	return nil
}

// Get returns the entry for (symbol, category) along with an expired flag
// rather than dropping expired entries: the orchestrator decides whether an
// expired entry is still useful as a stale fallback. An entry written under
// an older schema version is reported as expired. Returns (nil, false, nil)
// on a true miss.
func (s *Store) Get(symbol string, category core.Category) (*Entry, bool, error) {
	row := s.db.QueryRow(
		`SELECT payload, cached_at, expires_at, source, schema_version
		 FROM entries WHERE symbol = ? AND category = ?`,
		symbol, string(category),
	)

	var payload, source string
	var cachedAt, expiresAt int64
	var version int
	if err := row.Scan(&payload, &cachedAt, &expiresAt, &source, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, core.WrapError(core.ErrCacheFailed, err)
	}

	fields := make(map[string]float64)
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, false, core.WrapError(core.ErrCacheFailed, err)
	}

	e := &Entry{
		Symbol:        symbol,
		Category:      category,
		Fields:        fields,
		CachedAt:      time.Unix(cachedAt, 0).UTC(),
		ExpiresAt:     time.Unix(expiresAt, 0).UTC(),
		Source:        source,
		SchemaVersion: version,
	}

	expired := !s.now().Before(e.ExpiresAt) || version != SchemaVersion(category)
	if expired {
		s.misses.Add(1)
	} else {
		s.hits.Add(1)
	}
	return e, expired, nil
}

// Put atomically replaces the entry for (symbol, category).
func (s *Store) Put(e Entry) error {
	if len(e.Fields) == 0 {
		return fmt.Errorf("refusing to cache empty field set for %s/%s", e.Symbol, e.Category)
	}
	payload, err := json.Marshal(e.Fields)
	if err != nil {
		return core.WrapError(core.ErrCacheFailed, err)
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion(e.Category)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO entries
		 (symbol, category, payload, cached_at, expires_at, source, schema_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Symbol, string(e.Category), string(payload),
		e.CachedAt.Unix(), e.ExpiresAt.Unix(), e.Source, e.SchemaVersion,
	)
	if err != nil {
		return core.WrapError(core.ErrCacheFailed, err)
	}
	return nil
}

// Clear removes entries, optionally scoped to one symbol and/or one
// category. Empty arguments mean "all". Returns the number removed.
func (s *Store) Clear(symbol string, category core.Category) (int64, error) {
	query := `DELETE FROM entries WHERE 1=1`
	var args []any
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, string(category))
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, core.WrapError(core.ErrCacheFailed, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats returns counts and hit-rate for the status endpoint.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	var oldest, newest sql.NullInt64
	row := s.db.QueryRow(`SELECT COUNT(*), MIN(cached_at), MAX(cached_at) FROM entries`)
	if err := row.Scan(&st.Entries, &oldest, &newest); err != nil {
		return st, core.WrapError(core.ErrCacheFailed, err)
	}

	now := s.now()
	if oldest.Valid {
		st.OldestAge = now.Sub(time.Unix(oldest.Int64, 0))
	}
	if newest.Valid {
		st.NewestAge = now.Sub(time.Unix(newest.Int64, 0))
	}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st, nil
}

// Entries returns every cached entry, for the archive exporter and the
// status endpoint's per-entry view.
func (s *Store) Entries() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT symbol, category, payload, cached_at, expires_at, source, schema_version
		 FROM entries ORDER BY symbol, category`)
	if err != nil {
		return nil, core.WrapError(core.ErrCacheFailed, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var category, payload string
		var cachedAt, expiresAt int64
		if err := rows.Scan(&e.Symbol, &category, &payload, &cachedAt, &expiresAt, &e.Source, &e.SchemaVersion); err != nil {
			return nil, core.WrapError(core.ErrCacheFailed, err)
		}
		e.Category = core.Category(category)
		e.CachedAt = time.Unix(cachedAt, 0).UTC()
		e.ExpiresAt = time.Unix(expiresAt, 0).UTC()
		e.Fields = make(map[string]float64)
		if err := json.Unmarshal([]byte(payload), &e.Fields); err != nil {
			return nil, core.WrapError(core.ErrCacheFailed, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
