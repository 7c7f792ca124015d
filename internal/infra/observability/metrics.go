package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the client state layer.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the debug /metrics endpoint can use it.
	Registry *prometheus.Registry

	fetchDuration *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	alertsShown   prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// client metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "malet_fetch_duration_seconds",
				Help:    "Duration of network fetches by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		fetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malet_fetch_errors_total",
				Help: "Total failed network fetches by operation.",
			},
			[]string{"operation"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malet_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malet_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "malet_store_transitions_total",
				Help: "Total store state transitions by store and status.",
			},
			[]string{"store", "status"},
		),
		alertsShown: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "malet_alerts_shown_total",
				Help: "Total user-visible error alerts.",
			},
		),
	}
}

// RecordFetchDuration records the duration of a network operation.
func (m *Metrics) RecordFetchDuration(operation string, d time.Duration) {
	m.fetchDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrFetchError increments the fetch error counter.
func (m *Metrics) IncrFetchError(operation string) {
	m.fetchErrors.WithLabelValues(operation).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrTransition increments the store transition counter.
func (m *Metrics) IncrTransition(store, status string) {
	m.transitions.WithLabelValues(store, status).Inc()
}

// IncrAlertShown increments the alert counter.
func (m *Metrics) IncrAlertShown() {
	m.alertsShown.Inc()
}

// ClientSnapshot is the aggregate view served by the debug endpoint.
type ClientSnapshot struct {
	LedgerCacheHits   int64   `json:"ledger_cache_hits"`
	LedgerCacheMisses int64   `json:"ledger_cache_misses"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	FetchErrors       int64   `json:"fetch_errors"`
	AlertsShown       int64   `json:"alerts_shown"`
}

// Snapshot returns current counter values for the GET /debug/state endpoint.
func (m *Metrics) Snapshot() *ClientSnapshot {
	hits := getCounterValue(m.cacheHits.WithLabelValues("ledger"))
	misses := getCounterValue(m.cacheMisses.WithLabelValues("ledger"))

	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	errs := float64(0)
	for _, op := range []string{"login", "register", "verify", "accounts", "transactions", "garzon_login", "garzon_dashboard"} {
		errs += getCounterValue(m.fetchErrors.WithLabelValues(op))
	}

	return &ClientSnapshot{
		LedgerCacheHits:   int64(hits),
		LedgerCacheMisses: int64(misses),
		CacheHitRate:      hitRate,
		FetchErrors:       int64(errs),
		AlertsShown:       int64(getCounterValue(m.alertsShown)),
	}
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
