package observability

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medfeed"

// Metrics holds the pipeline's Prometheus collectors. Every collector lives on
// a private registry, so several instances can coexist in one process.
//
// All recording methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	FetchRequests   *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	FetchRetries    prometheus.Counter
	RenderRequests  *prometheus.CounterVec
	FeedEntries     *prometheus.CounterVec
	DedupRemoved    *prometheus.CounterVec
	SiteArticles    *prometheus.GaugeVec
	SiteFailures    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	ArticlesTotal   prometheus.Gauge
	LastRefresh     prometheus.Gauge
	SinkErrors      *prometheus.CounterVec

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Outbound fetches by request kind and outcome.",
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of a fetch including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"kind"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts beyond the first.",
		}),
		RenderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_requests_total",
			Help:      "Headless browser renders by engine and outcome.",
		}, []string{"engine", "outcome"}),
		FeedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_entries_total",
			Help:      "Feed entries seen by the parser, by outcome.",
		}, []string{"outcome"}),
		DedupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_removed_total",
			Help:      "Articles collapsed as duplicates, by scope (site or batch).",
		}, []string{"scope"}),
		SiteArticles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "site_articles",
			Help:      "Articles contributed by each site in the last refresh.",
		}, []string{"site"}),
		SiteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "site_failures_total",
			Help:      "Per-site failures by stage and kind.",
		}, []string{"stage", "kind"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a full refresh cycle.",
			Buckets:   []float64{1, 5, 10, 15, 30, 60, 120, 300},
		}),
		ArticlesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "articles_total",
			Help:      "Articles in the current snapshot.",
		}),
		LastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed refresh.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Snapshot export failures by backend.",
		}, []string{"backend"}),
		logger: logger.With("component", "metrics"),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FetchRequests,
		m.FetchDuration,
		m.FetchRetries,
		m.RenderRequests,
		m.FeedEntries,
		m.DedupRemoved,
		m.SiteArticles,
		m.SiteFailures,
		m.RefreshDuration,
		m.ArticlesTotal,
		m.LastRefresh,
		m.SinkErrors,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(m.logger.Handler(), slog.LevelError),
	})
}

// ObserveFetch records one completed fetch.
func (m *Metrics) ObserveFetch(kind, outcome string, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(kind, outcome).Inc()
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
	if attempts > 1 {
		m.FetchRetries.Add(float64(attempts - 1))
	}
}

// ObserveRender records one headless render.
func (m *Metrics) ObserveRender(engine, outcome string) {
	if m == nil {
		return
	}
	m.RenderRequests.WithLabelValues(engine, outcome).Inc()
}

// AddFeedEntries counts parsed or skipped feed entries.
func (m *Metrics) AddFeedEntries(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FeedEntries.WithLabelValues(outcome).Add(float64(n))
}

// AddDedupRemoved counts articles dropped by a dedupe pass.
func (m *Metrics) AddDedupRemoved(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DedupRemoved.WithLabelValues(scope).Add(float64(n))
}

// SetSiteArticles records a site's contribution to the last refresh.
func (m *Metrics) SetSiteArticles(site string, n int) {
	if m == nil {
		return
	}
	m.SiteArticles.WithLabelValues(site).Set(float64(n))
}

// IncSiteFailure counts a per-site failure.
func (m *Metrics) IncSiteFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.SiteFailures.WithLabelValues(stage, kind).Inc()
}

// ObserveRefresh records a completed refresh cycle.
func (m *Metrics) ObserveRefresh(d time.Duration, articles int, finished time.Time) {
	if m == nil {
		return
	}
	m.RefreshDuration.Observe(d.Seconds())
	m.ArticlesTotal.Set(float64(articles))
	m.LastRefresh.Set(float64(finished.Unix()))
}

// IncSinkError counts a failed snapshot export.
func (m *Metrics) IncSinkError(backend string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(backend).Inc()
}
