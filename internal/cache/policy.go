package cache

import (
	"time"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
)

// Default TTL parameters. Fundamentals move on filing cadence; quotes go
// stale within minutes; OHLCV bars cannot change until the session closes.
const (
	DefaultFundamentalsTTL = 7 * 24 * time.Hour
	DefaultQuoteTTL        = 10 * time.Minute
	DefaultSessionBuffer   = 30 * time.Minute
)

// marketCloseHour is the NYSE regular-session close, 16:00 America/New_York.
const marketCloseHour = 16

// TTLPolicy computes per-category expiry times.
//
// OHLCV uses a session-aware TTL pinned to the next market close plus a
// buffer: a daily bar fetched after close is valid until the next session's
// close, so refetching it sooner is pointless, while a bar fetched during an
// active session expires at that session's close. The other categories use
// rolling durations.
type TTLPolicy struct {
	FundamentalsTTL time.Duration
	QuoteTTL        time.Duration
	SessionBuffer   time.Duration

	loc *time.Location
}

// NewTTLPolicy returns a policy with the given durations; non-positive
// values fall back to the defaults.
func NewTTLPolicy(fundamentalsTTL, quoteTTL, sessionBuffer time.Duration) TTLPolicy {
	if fundamentalsTTL <= 0 {
		fundamentalsTTL = DefaultFundamentalsTTL
	}
	if quoteTTL <= 0 {
		quoteTTL = DefaultQuoteTTL
	}
	if sessionBuffer <= 0 {
		sessionBuffer = DefaultSessionBuffer
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Zone database unavailable; fall back to a fixed offset close
		// enough for expiry purposes.
		loc = time.FixedZone("EST", -5*3600)
	}
	return TTLPolicy{
		FundamentalsTTL: fundamentalsTTL,
		QuoteTTL:        quoteTTL,
		SessionBuffer:   sessionBuffer,
		loc:             loc,
	}
}

// ExpiryFor returns the expiry instant for an entry of the given category
// cached at cachedAt.
func (p TTLPolicy) ExpiryFor(category core.Category, cachedAt time.Time) time.Time {
	switch category {
	case core.CategoryOHLCV:
		return p.nextSessionClose(cachedAt).Add(p.SessionBuffer)
	case core.CategoryQuote:
		return cachedAt.Add(p.QuoteTTL)
	case core.CategoryFundamentals:
		return cachedAt.Add(p.FundamentalsTTL)
	}
	return cachedAt.Add(p.QuoteTTL)
}

// nextSessionClose returns the first regular-session close strictly after t,
// skipping weekends.
func (p TTLPolicy) nextSessionClose(t time.Time) time.Time {
	local := t.In(p.loc)
	close := time.Date(local.Year(), local.Month(), local.Day(), marketCloseHour, 0, 0, 0, p.loc)
	if !local.Before(close) {
		close = close.AddDate(0, 0, 1)
	}
	for close.Weekday() == time.Saturday || close.Weekday() == time.Sunday {
		close = close.AddDate(0, 0, 1)
	}
	return close
}
