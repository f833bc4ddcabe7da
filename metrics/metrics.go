// Package metrics provides Prometheus metrics for the explorer.
package metrics

import (
	"net/http"
	"strconv"

	"ledger-explorer/mirror"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "explorer"

// Metrics holds every collector the explorer exports. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	// Counters
	RefreshRuns    *prometheus.CounterVec
	WatermarkAlert prometheus.Counter
	LedgerRetries  *prometheus.CounterVec
	ColdFetches    *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec

	// Histograms
	RefreshDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and, when m is non-nil, gauges that read the
// mirror's state on every scrape.
func New(m *mirror.Mirror) *Metrics {
	x := &Metrics{registry: prometheus.NewRegistry()}

	x.RefreshRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Refresh cycles by entity class and result",
		},
		[]string{"class", "result"}, // "ok", "transport", "inconsistent", "error"
	)

	x.WatermarkAlert = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watermark_violations_total",
			Help:      "Refresh cycles aborted by a non-monotonic watermark or block gap",
		},
	)

	x.LedgerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_point_retries_total",
			Help:      "Point lookups retried after a transport error",
		},
		[]string{"entity"},
	)

	x.ColdFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cold_fetches_total",
			Help:      "Synchronous populate runs for unmirrored domains",
		},
		[]string{"result"},
	)

	x.HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	x.RefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of refresh cycles",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	x.registry.MustRegister(
		x.RefreshRuns,
		x.WatermarkAlert,
		x.LedgerRetries,
		x.ColdFetches,
		x.HTTPRequests,
		x.RefreshDuration,
		collectors.NewGoCollector(),
	)

	if m != nil {
		x.registerMirror(m)
	}
	return x
}

func (x *Metrics) registerMirror(m *mirror.Mirror) {
	gauge := func(name, help string, read func(mirror.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "mirror", Name: name, Help: help},
			func() float64 { return read(m.Stats()) },
		)
	}
	x.registry.MustRegister(
		gauge("watermark", "Highest fully mirrored block height", func(s mirror.Stats) float64 { return float64(s.Watermark) }),
		gauge("floor", "Lowest retained block height", func(s mirror.Stats) float64 { return float64(s.Floor) }),
		gauge("blocks", "Retained blocks", func(s mirror.Stats) float64 { return float64(s.Blocks) }),
		gauge("transactions", "Retained transactions", func(s mirror.Stats) float64 { return float64(s.Transactions) }),
		gauge("accounts", "Account snapshots", func(s mirror.Stats) float64 { return float64(s.Accounts) }),
		gauge("domains", "Domain snapshots", func(s mirror.Stats) float64 { return float64(s.Domains) }),
		gauge("asset_definitions", "Asset definition snapshots", func(s mirror.Stats) float64 { return float64(s.AssetDefinitions) }),
		gauge("epoch", "Snapshot invalidation epoch", func(s mirror.Stats) float64 { return float64(s.Epoch) }),
	)
}

// ObserveRequest counts one served request.
func (x *Metrics) ObserveRequest(method, route string, status int) {
	x.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (x *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{})
}
