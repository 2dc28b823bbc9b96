package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/cache"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/metrics"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
)

// Fetch outcomes for metrics.
const (
	outcomeCache       = "cache"
	outcomeFresh       = "fresh"
	outcomeStale       = "stale"
	outcomePartial     = "partial"
	outcomeUnavailable = "unavailable"
)

// Cache is the slice of the cache store the orchestrator needs.
type Cache interface {
	Get(symbol string, category core.Category) (*cache.Entry, bool, error)
	Put(e cache.Entry) error
}

// Orchestrator walks the per-category provider fallback chain, applying
// breaker and limiter gating per attempt, merges partial results field by
// field with provenance, writes through to the cache and falls back to stale
// cache when every provider is exhausted.
type Orchestrator struct {
	registry *provider.Registry
	cache    Cache
	policy   cache.TTLPolicy
	log      *zap.Logger
	metrics  *metrics.Registry

	sf  singleflight.Group
	now func() time.Time
}

// New creates an orchestrator. metrics may be nil.
func New(registry *provider.Registry, c Cache, policy cache.TTLPolicy, log *zap.Logger, m *metrics.Registry) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		cache:    c,
		policy:   policy,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Fetch resolves a request. Provider errors are absorbed and translated into
// "try next provider"; the only error returned is request validation. The
// result always carries a complete provenance map: each requested field is
// attributed to a provider, to "cache", or marked "unavailable" with a nil
// value, never a fabricated default.
func (o *Orchestrator) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	requested := req.RequestedFields()

	// Fast path: a fresh entry covering every requested field.
	if res := o.fromFreshCache(req, requested); res != nil {
		o.metrics.CacheHit()
		o.metrics.RecordFetch(string(req.Category), outcomeCache, 0)
		return res, nil
	}

	// Identical concurrent requests share one chain walk.
	v, _, shared := o.sf.Do(flightKey(req, requested), func() (any, error) {
		return o.fetchChain(ctx, req, requested), nil
	})
	if shared {
		o.metrics.SingleflightShared()
	}
	return v.(*core.FetchResult), nil
}

// FetchAll resolves one category for many symbols with bounded concurrency.
// Failed symbols are simply absent from the returned map.
func (o *Orchestrator) FetchAll(ctx context.Context, symbols []string, category core.Category, concurrency int) map[string]*core.FetchResult {
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	out := make(map[string]*core.FetchResult, len(symbols))

	p := pool.New().WithMaxGoroutines(concurrency)
	for _, sym := range symbols {
		sym := sym
		p.Go(func() {
			res, err := o.Fetch(ctx, core.FetchRequest{Symbol: sym, Category: category})
			if err != nil {
				o.log.Warn("batch fetch rejected", zap.String("symbol", sym), zap.Error(err))
				return
			}
			mu.Lock()
			out[sym] = res
			mu.Unlock()
		})
	}
	p.Wait()
	return out
}

func (o *Orchestrator) fromFreshCache(req core.FetchRequest, requested []string) *core.FetchResult {
	entry, expired, err := o.cache.Get(req.Symbol, req.Category)
	if err != nil {
		o.log.Warn("cache read failed", zap.String("symbol", req.Symbol), zap.Error(err))
		return nil
	}
	if entry == nil || expired {
		return nil
	}
	for _, f := range requested {
		if _, ok := entry.Fields[f]; !ok {
			return nil
		}
	}

	res := core.NewFetchResult(req.Symbol, req.Category, requested)
	for _, f := range requested {
		res.Fill(f, entry.Fields[f], core.ProvenanceCache)
	}
	res.FetchedAt = o.now()
	res.CacheAge = entry.Age(o.now())
	return res
}

// fetchChain is the single-flight body: walk the chain, merge, write
// through, stale-fill. It never fails; exhaustion shows up as unavailable
// fields in the result.
func (o *Orchestrator) fetchChain(ctx context.Context, req core.FetchRequest, requested []string) *core.FetchResult {
	start := o.now()
	log := o.log.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("symbol", req.Symbol),
		zap.String("category", string(req.Category)),
	)

	res := core.NewFetchResult(req.Symbol, req.Category, requested)

	// Re-read under the flight: the fast path raced with another writer, and
	// the (possibly expired) entry doubles as the stale fallback below.
	entry, expired, err := o.cache.Get(req.Symbol, req.Category)
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
	}

	fetched := make(map[string]float64)
	var sources []string

	for _, d := range o.registry.Chain(req.Category) {
		if ctx.Err() != nil {
			// Caller deadline expired mid-chain: return what has been
			// merged so far rather than raising.
			log.Warn("fetch deadline expired mid-chain", zap.Error(ctx.Err()))
			break
		}
		missing := res.Missing(requested)
		if len(missing) == 0 {
			break
		}

		if !d.Breaker.Allow() {
			o.metrics.RecordProviderCall(d.Name(), metrics.CallSkippedBreaker)
			log.Debug("provider skipped, breaker open", zap.String("provider", d.Name()))
			continue
		}
		if !d.Limiter.Allow() {
			o.metrics.RecordProviderCall(d.Name(), metrics.CallSkippedRateLimit)
			log.Debug("provider skipped, rate limited locally", zap.String("provider", d.Name()))
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		fields, err := d.Provider.Fetch(callCtx, req.Symbol, req.Category, missing)
		cancel()

		if err != nil {
			class := core.ClassOf(err)
			if core.CountsAgainstBreaker(class) {
				d.Breaker.Failure(class)
				o.metrics.RecordProviderCall(d.Name(), metrics.CallError)
				log.Warn("provider call failed",
					zap.String("provider", d.Name()),
					zap.String("class", string(class)),
					zap.Error(err),
				)
			} else {
				// A definite "entity unknown here" is a healthy response.
				d.Breaker.Success()
				o.metrics.RecordProviderCall(d.Name(), metrics.CallOK)
				log.Debug("provider has no such entity", zap.String("provider", d.Name()))
			}
			o.publishBreakerState(d)
			continue
		}

		d.Breaker.Success()
		o.publishBreakerState(d)
		o.metrics.RecordProviderCall(d.Name(), metrics.CallOK)

		contributed := false
		for _, f := range missing {
			if v, ok := fields[f]; ok {
				if res.Fill(f, v, d.Name()) {
					fetched[f] = v
					contributed = true
				}
			}
		}
		if contributed {
			sources = append(sources, d.Name())
		}
	}

	o.writeThrough(req, entry, expired, fetched, sources, log)

	// Last resort for anything still missing: the (possibly expired) cache
	// entry. Serving expired data is explicit, never silent.
	if entry != nil {
		filled := false
		for _, f := range res.Missing(requested) {
			if v, ok := entry.Fields[f]; ok {
				res.Fill(f, v, core.ProvenanceCache)
				filled = true
			}
		}
		if filled {
			res.CacheAge = entry.Age(o.now())
			if expired {
				res.Stale = true
				o.metrics.StaleFallback()
			}
		}
	}

	res.FetchedAt = o.now()
	o.metrics.CacheMiss()

	outcome := o.classify(res, requested)
	o.metrics.RecordFetch(string(req.Category), outcome, o.now().Sub(start).Seconds())
	log.Info("fetch complete",
		zap.String("outcome", outcome),
		zap.Bool("stale", res.Stale),
		zap.Strings("providers", sources),
	)
	return res
}

// writeThrough replaces the cache entry with the provider-fetched fields,
// carrying over fields of a still-fresh previous entry so a provider that
// answers fewer fields does not erase known data. Expired fields are never
// re-stamped with a new TTL.
func (o *Orchestrator) writeThrough(req core.FetchRequest, entry *cache.Entry, expired bool, fetched map[string]float64, sources []string, log *zap.Logger) {
	if len(fetched) == 0 {
		return
	}

	merged := make(map[string]float64, len(fetched))
	for k, v := range fetched {
		merged[k] = v
	}
	if entry != nil && !expired {
		for k, v := range entry.Fields {
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}

	now := o.now()
	err := o.cache.Put(cache.Entry{
		Symbol:        req.Symbol,
		Category:      req.Category,
		Fields:        merged,
		CachedAt:      now,
		ExpiresAt:     o.policy.ExpiryFor(req.Category, now),
		Source:        strings.Join(sources, ","),
		SchemaVersion: cache.SchemaVersion(req.Category),
	})
	if err != nil {
		log.Error("cache write failed", zap.Error(err))
	}
}

func (o *Orchestrator) publishBreakerState(d *provider.Descriptor) {
	o.metrics.SetBreakerState(d.Name(), int(d.Breaker.State()))
}

func (o *Orchestrator) classify(res *core.FetchResult, requested []string) string {
	missing := len(res.Missing(requested))
	switch {
	case missing == len(requested):
		return outcomeUnavailable
	case res.Stale:
		return outcomeStale
	case missing > 0:
		return outcomePartial
	default:
		return outcomeFresh
	}
}

// flightKey identifies an in-flight fetch: same symbol, category and field
// set means the same work.
func flightKey(req core.FetchRequest, requested []string) string {
	fields := make([]string, len(requested))
	copy(fields, requested)
	sort.Strings(fields)
	return req.Symbol + "|" + string(req.Category) + "|" + strings.Join(fields, ",")
}
