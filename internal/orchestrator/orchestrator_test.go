package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/breaker"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/cache"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/ratelimit"
)

// fakeProvider is a scriptable provider that records its calls.
type fakeProvider struct {
	name  string
	caps  []core.Category
	delay time.Duration
	fn    func(fields []string) (map[string]float64, error)

	mu        sync.Mutex
	calls     int
	lastAsked []string
}

func (f *fakeProvider) Name() string                  { return f.name }
func (f *fakeProvider) Capabilities() []core.Category { return f.caps }

func (f *fakeProvider) Fetch(ctx context.Context, symbol string, category core.Category, fields []string) (map[string]float64, error) {
	f.mu.Lock()
	f.calls++
	f.lastAsked = append([]string(nil), fields...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.fn(fields)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) lastFields() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAsked
}

func returning(fields map[string]float64) func([]string) (map[string]float64, error) {
	return func(requested []string) (map[string]float64, error) {
		out := make(map[string]float64)
		for _, f := range requested {
			if v, ok := fields[f]; ok {
				out[f] = v
			}
		}
		return out, nil
	}
}

func failing(err error) func([]string) (map[string]float64, error) {
	return func([]string) (map[string]float64, error) {
		return nil, err
	}
}

func openStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// descriptor wraps a fake with permissive gates unless overridden.
func descriptor(p provider.Provider, rank int, cat core.Category) *provider.Descriptor {
	return &provider.Descriptor{
		Provider:   p,
		Priorities: map[core.Category]int{cat: rank},
		Breaker:    breaker.New(breaker.DefaultConfig()),
		Limiter:    ratelimit.New(1000, 1000),
		Timeout:    time.Second,
	}
}

func newOrchestrator(t *testing.T, store *cache.Store, descs ...*provider.Descriptor) *Orchestrator {
	t.Helper()
	reg := provider.NewRegistry()
	for _, d := range descs {
		reg.Register(d)
	}
	policy := cache.NewTTLPolicy(7*24*time.Hour, 10*time.Minute, 30*time.Minute)
	return New(reg, store, policy, zap.NewNop(), nil)
}

func TestFetch_MergesAcrossProvidersWithProvenance(t *testing.T) {
	// A has roe and pe but no eps_growth; B fills the gap.
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryFundamentals},
		fn: returning(map[string]float64{"roe": 0.15, "pe": 22.1}),
	}
	b := &fakeProvider{
		name: "b", caps: []core.Category{core.CategoryFundamentals},
		fn: returning(map[string]float64{"roe": 9.99, "eps_growth": 0.12}),
	}
	o := newOrchestrator(t, openStore(t),
		descriptor(a, 1, core.CategoryFundamentals),
		descriptor(b, 2, core.CategoryFundamentals),
	)

	res, err := o.Fetch(context.Background(), core.FetchRequest{
		Symbol:   "XYZ",
		Category: core.CategoryFundamentals,
		Fields:   []string{"roe", "pe", "eps_growth"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if *res.Fields["roe"] != 0.15 || res.Provenance["roe"] != "a" {
		t.Errorf("roe = %v from %s, want 0.15 from a", *res.Fields["roe"], res.Provenance["roe"])
	}
	if *res.Fields["pe"] != 22.1 || res.Provenance["pe"] != "a" {
		t.Errorf("pe from %s, want a", res.Provenance["pe"])
	}
	if *res.Fields["eps_growth"] != 0.12 || res.Provenance["eps_growth"] != "b" {
		t.Errorf("eps_growth from %s, want b", res.Provenance["eps_growth"])
	}
	if res.Stale {
		t.Error("fresh provider result should not be stale")
	}

	// B was asked only for the fields A left missing.
	asked := b.lastFields()
	if len(asked) != 1 || asked[0] != "eps_growth" {
		t.Errorf("b was asked for %v, want [eps_growth]", asked)
	}
}

func TestFetch_BreakerOpensAndChainSkips(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryOHLCV},
		fn: failing(core.WrapError(core.ErrTransport, nil)),
	}
	b := &fakeProvider{
		name: "b", caps: []core.Category{core.CategoryOHLCV},
		fn: returning(map[string]float64{"close": 190.5}),
	}
	store := openStore(t)
	o := newOrchestrator(t, store,
		descriptor(a, 1, core.CategoryOHLCV),
		descriptor(b, 2, core.CategoryOHLCV),
	)

	req := core.FetchRequest{Symbol: "XYZ", Category: core.CategoryOHLCV, Fields: []string{"close"}}
	for i := 0; i < 3; i++ {
		if _, err := o.Fetch(context.Background(), req); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		store.Clear("", "")
	}
	if a.callCount() != 3 {
		t.Fatalf("a called %d times, want 3", a.callCount())
	}

	// Breaker is now open: the next fetch must use B only.
	res, err := o.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if a.callCount() != 3 {
		t.Errorf("a called %d times while open, want still 3", a.callCount())
	}
	if res.Provenance["close"] != "b" {
		t.Errorf("provenance = %s, want b", res.Provenance["close"])
	}
}

func TestFetch_NotFoundDoesNotOpenBreaker(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryQuote},
		fn: failing(core.WrapError(core.ErrNotFound, nil)),
	}
	store := openStore(t)
	d := descriptor(a, 1, core.CategoryQuote)
	o := newOrchestrator(t, store, d)

	req := core.FetchRequest{Symbol: "GHOST", Category: core.CategoryQuote, Fields: []string{"price"}}
	for i := 0; i < 5; i++ {
		o.Fetch(context.Background(), req)
	}

	if a.callCount() != 5 {
		t.Errorf("a called %d times, want 5; not-found must not trip the breaker", a.callCount())
	}
	if d.Breaker.State() != breaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", d.Breaker.State())
	}
}

func TestFetch_RateLimitDenialSkipsToNextProvider(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryQuote},
		fn: returning(map[string]float64{"price": 1.0}),
	}
	b := &fakeProvider{
		name: "b", caps: []core.Category{core.CategoryQuote},
		fn: returning(map[string]float64{"price": 2.0}),
	}
	store := openStore(t)
	da := descriptor(a, 1, core.CategoryQuote)
	da.Limiter = ratelimit.New(0.0000001, 1) // one token, effectively no refill
	o := newOrchestrator(t, store, da, descriptor(b, 2, core.CategoryQuote))

	req := core.FetchRequest{Symbol: "XYZ", Category: core.CategoryQuote, Fields: []string{"price"}}

	res, _ := o.Fetch(context.Background(), req)
	if res.Provenance["price"] != "a" {
		t.Fatalf("first fetch should use a, got %s", res.Provenance["price"])
	}
	store.Clear("", "")

	res, _ = o.Fetch(context.Background(), req)
	if a.callCount() != 1 {
		t.Errorf("a called %d times, want 1; empty bucket must not block", a.callCount())
	}
	if res.Provenance["price"] != "b" {
		t.Errorf("provenance = %s, want b", res.Provenance["price"])
	}
}

func TestFetch_StaleFallbackWhenAllProvidersDown(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryFundamentals},
		fn: failing(core.WrapError(core.ErrTransport, nil)),
	}
	store := openStore(t)

	// Cached 10 days ago with a 7-day TTL: expired.
	now := time.Now().UTC()
	err := store.Put(cache.Entry{
		Symbol:    "AAPL",
		Category:  core.CategoryFundamentals,
		Fields:    map[string]float64{"pe": 20.0, "roe": 0.14},
		CachedAt:  now.Add(-10 * 24 * time.Hour),
		ExpiresAt: now.Add(-3 * 24 * time.Hour),
		Source:    "a",
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	o := newOrchestrator(t, store, descriptor(a, 1, core.CategoryFundamentals))
	res, err := o.Fetch(context.Background(), core.FetchRequest{
		Symbol:   "AAPL",
		Category: core.CategoryFundamentals,
		Fields:   []string{"pe", "roe"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !res.Stale {
		t.Error("result served from expired cache must be flagged stale")
	}
	if *res.Fields["pe"] != 20.0 || res.Provenance["pe"] != core.ProvenanceCache {
		t.Errorf("pe = %v from %s", *res.Fields["pe"], res.Provenance["pe"])
	}
	if res.CacheAge < 9*24*time.Hour {
		t.Errorf("cache age = %v, want ~10 days", res.CacheAge)
	}
}

func TestFetch_UnavailableFieldsAreNilNeverZero(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryQuote},
		fn: failing(core.WrapError(core.ErrTransport, nil)),
	}
	o := newOrchestrator(t, openStore(t), descriptor(a, 1, core.CategoryQuote))

	res, err := o.Fetch(context.Background(), core.FetchRequest{
		Symbol:   "XYZ",
		Category: core.CategoryQuote,
		Fields:   []string{"price", "volume"},
	})
	if err != nil {
		t.Fatalf("fetch must not raise on provider exhaustion: %v", err)
	}

	for _, f := range []string{"price", "volume"} {
		if res.Fields[f] != nil {
			t.Errorf("field %s = %v, must be nil when unavailable", f, *res.Fields[f])
		}
		if res.Provenance[f] != core.ProvenanceUnavailable {
			t.Errorf("field %s provenance = %s, want unavailable", f, res.Provenance[f])
		}
	}
	if res.Stale {
		t.Error("no cache entry means nothing to be stale about")
	}
}

func TestFetch_FreshCacheShortCircuitsProviders(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryQuote},
		fn: returning(map[string]float64{"price": 190.5, "volume": 52000000}),
	}
	store := openStore(t)
	o := newOrchestrator(t, store, descriptor(a, 1, core.CategoryQuote))

	req := core.FetchRequest{Symbol: "AAPL", Category: core.CategoryQuote, Fields: []string{"price", "volume"}}

	if _, err := o.Fetch(context.Background(), req); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if a.callCount() != 1 {
		t.Fatalf("a called %d times, want 1", a.callCount())
	}

	res, err := o.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if a.callCount() != 1 {
		t.Errorf("a called %d times, want 1; second fetch should be served from cache", a.callCount())
	}
	if res.Provenance["price"] != core.ProvenanceCache {
		t.Errorf("provenance = %s, want cache", res.Provenance["price"])
	}
	if res.Stale {
		t.Error("fresh cache hit is not stale")
	}
	if res.CacheAge < 0 {
		t.Error("cache age should be set on a cache hit")
	}
}

func TestFetch_SingleFlightDeduplicatesConcurrentFetches(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryOHLCV},
		delay: 200 * time.Millisecond,
		fn:    returning(map[string]float64{"open": 1, "high": 2, "low": 0.5, "close": 1.5, "volume": 100}),
	}
	o := newOrchestrator(t, openStore(t), descriptor(a, 1, core.CategoryOHLCV))

	req := core.FetchRequest{Symbol: "AAPL", Category: core.CategoryOHLCV}

	var wg sync.WaitGroup
	results := make([]*core.FetchResult, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Fetch(context.Background(), req)
			if err != nil {
				t.Errorf("fetch: %v", err)
				return
			}
			results[i] = res
		}()
		if i == 0 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	wg.Wait()

	if got := a.callCount(); got != 1 {
		t.Fatalf("provider called %d times, want exactly 1", got)
	}
	if results[0] == nil || results[1] == nil {
		t.Fatal("both callers should receive a result")
	}
	if *results[0].Fields["close"] != *results[1].Fields["close"] {
		t.Error("both callers should receive the identical result")
	}
}

func TestFetch_LowerPriorityNeverOverwrites(t *testing.T) {
	// Both providers supply price; the chain asks B only for what A missed,
	// and even a stray extra field from B must not replace A's value.
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryQuote},
		fn: returning(map[string]float64{"price": 100.0}),
	}
	b := &fakeProvider{
		name: "b", caps: []core.Category{core.CategoryQuote},
		fn: func([]string) (map[string]float64, error) {
			return map[string]float64{"price": 999.0, "volume": 5}, nil
		},
	}
	o := newOrchestrator(t, openStore(t),
		descriptor(a, 1, core.CategoryQuote),
		descriptor(b, 2, core.CategoryQuote),
	)

	res, err := o.Fetch(context.Background(), core.FetchRequest{
		Symbol:   "XYZ",
		Category: core.CategoryQuote,
		Fields:   []string{"price", "volume"},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if *res.Fields["price"] != 100.0 || res.Provenance["price"] != "a" {
		t.Errorf("price = %v from %s, want 100 from a", *res.Fields["price"], res.Provenance["price"])
	}
	if *res.Fields["volume"] != 5 || res.Provenance["volume"] != "b" {
		t.Errorf("volume from %s, want b", res.Provenance["volume"])
	}
}

func TestFetch_CallerDeadlineReturnsPartial(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryOHLCV},
		delay: 150 * time.Millisecond,
		fn:    returning(map[string]float64{"open": 1}),
	}
	b := &fakeProvider{
		name: "b", caps: []core.Category{core.CategoryOHLCV},
		fn: returning(map[string]float64{"open": 2}),
	}
	o := newOrchestrator(t, openStore(t),
		descriptor(a, 1, core.CategoryOHLCV),
		descriptor(b, 2, core.CategoryOHLCV),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := o.Fetch(ctx, core.FetchRequest{
		Symbol:   "XYZ",
		Category: core.CategoryOHLCV,
		Fields:   []string{"open"},
	})
	if err != nil {
		t.Fatalf("expired deadline must not raise: %v", err)
	}
	if b.callCount() != 0 {
		t.Error("chain should stop at the expired deadline, not continue to b")
	}
	if res.Fields["open"] != nil {
		t.Error("open should be unavailable")
	}
}

func TestFetch_InvalidRequestRejected(t *testing.T) {
	o := newOrchestrator(t, openStore(t))

	_, err := o.Fetch(context.Background(), core.FetchRequest{
		Symbol:   "AAPL",
		Category: "sentiment",
	})
	if err == nil {
		t.Fatal("unknown category should be rejected")
	}
}

func TestFetchAll_BatchesWithBoundedConcurrency(t *testing.T) {
	a := &fakeProvider{
		name: "a", caps: []core.Category{core.CategoryQuote},
		fn: returning(map[string]float64{"price": 1, "prev_close": 1, "change_pct": 0, "volume": 1}),
	}
	o := newOrchestrator(t, openStore(t), descriptor(a, 1, core.CategoryQuote))

	symbols := []string{"AAPL", "MSFT", "NVDA"}
	out := o.FetchAll(context.Background(), symbols, core.CategoryQuote, 2)

	if len(out) != 3 {
		t.Fatalf("got %d results, want 3", len(out))
	}
	for _, sym := range symbols {
		if out[sym] == nil {
			t.Errorf("missing result for %s", sym)
		}
	}
}
