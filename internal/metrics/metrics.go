package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Provider call outcomes recorded per attempt.
const (
	CallOK               = "ok"
	CallError            = "error"
	CallSkippedBreaker   = "skipped_breaker"
	CallSkippedRateLimit = "skipped_rate_limit"
)

// Registry holds all Prometheus metrics. A nil *Registry is a valid no-op
// sink so components can run unmetered.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Fetch pipeline metrics
	fetchesTotal    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	staleFallbacks  prometheus.Counter
	singleflightHit prometheus.Counter
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),

		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sta_fetches_total",
				Help: "Total orchestrated fetches by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sta_fetch_duration_seconds",
				Help:    "Orchestrated fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sta_provider_calls_total",
				Help: "Provider attempts by provider and result",
			},
			[]string{"provider", "result"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sta_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half_open)",
			},
			[]string{"provider"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sta_cache_hits_total",
				Help: "Fetches served entirely from fresh cache",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sta_cache_misses_total",
				Help: "Fetches that had to consult providers",
			},
		),
		staleFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sta_cache_stale_fallbacks_total",
				Help: "Fetches that fell back to an expired cache entry",
			},
		),
		singleflightHit: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sta_singleflight_shared_total",
				Help: "Fetches that joined an identical in-flight fetch",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)
	reg.MustRegister(r.fetchesTotal)
	reg.MustRegister(r.fetchDuration)
	reg.MustRegister(r.providerCalls)
	reg.MustRegister(r.breakerState)
	reg.MustRegister(r.cacheHits)
	reg.MustRegister(r.cacheMisses)
	reg.MustRegister(r.staleFallbacks)
	reg.MustRegister(r.singleflightHit)

	return r
}

// RecordRequest records an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(method, path, statusText(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments the in-flight request gauge.
func (r *Registry) InFlightInc() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements the in-flight request gauge.
func (r *Registry) InFlightDec() {
	if r == nil {
		return
	}
	r.httpRequestsInFlight.Dec()
}

// RecordFetch records one orchestrated fetch.
func (r *Registry) RecordFetch(category, outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.fetchesTotal.WithLabelValues(category, outcome).Inc()
	r.fetchDuration.WithLabelValues(category).Observe(seconds)
}

// RecordProviderCall records one provider attempt (or skip).
func (r *Registry) RecordProviderCall(provider, result string) {
	if r == nil {
		return
	}
	r.providerCalls.WithLabelValues(provider, result).Inc()
}

// SetBreakerState publishes a provider's breaker state.
func (r *Registry) SetBreakerState(provider string, state int) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(provider).Set(float64(state))
}

// CacheHit counts a fetch served entirely from fresh cache.
func (r *Registry) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

// CacheMiss counts a fetch that consulted providers.
func (r *Registry) CacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

// StaleFallback counts a fetch that used an expired cache entry.
func (r *Registry) StaleFallback() {
	if r == nil {
		return
	}
	r.staleFallbacks.Inc()
}

// SingleflightShared counts a fetch that joined an in-flight duplicate.
func (r *Registry) SingleflightShared() {
	if r == nil {
		return
	}
	r.singleflightHit.Inc()
}

func statusText(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
