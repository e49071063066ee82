package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all service metrics in a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	reg *prometheus.Registry

	Requests *prometheus.CounterVec // kind label: ok|invalid_request|upstream_timeout|...

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	MalformedEvents prometheus.Counter
	LookupFailures  *prometheus.CounterVec // reason label: no_index|malformed_time|storage
	RealtimeErrors  *prometheus.CounterVec // kind label

	StaticLoads        *prometheus.CounterVec // result label: ok|error
	StaticLoaded       prometheus.Gauge
	StaticSkipped      prometheus.Gauge
	StaticLoadDuration prometheus.Histogram
	ReconcileDuration  prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arrivals_requests_total",
			Help: "Arrival queries by outcome.",
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_cache_hits_total",
			Help: "Arrival queries served from the response cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_cache_misses_total",
			Help: "Arrival queries that required reconciliation.",
		}),
		MalformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arrivals_malformed_events_total",
			Help: "Realtime events dropped as malformed.",
		}),
		LookupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arrivals_schedule_lookup_failures_total",
			Help: "Scheduled time lookups that failed unexpectedly.",
		}, []string{"reason"}),
		RealtimeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arrivals_realtime_errors_total",
			Help: "Realtime feed fetch failures by kind.",
		}, []string{"kind"}),
		StaticLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arrivals_static_loads_total",
			Help: "Static schedule load attempts by result.",
		}, []string{"result"}),
		StaticLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arrivals_static_loaded",
			Help: "1 if the static schedule is loaded, 0 otherwise.",
		}),
		StaticSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arrivals_static_skipped_rows",
			Help: "Invalid rows skipped in the loaded static schedule.",
		}),
		StaticLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arrivals_static_load_duration_seconds",
			Help:    "Duration of static schedule download and parse.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arrivals_reconcile_duration_seconds",
			Help:    "Duration of a single reconciliation, including the realtime fetch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	reg.MustRegister(
		c.Requests,
		c.CacheHits, c.CacheMisses,
		c.MalformedEvents, c.LookupFailures, c.RealtimeErrors,
		c.StaticLoads, c.StaticLoaded, c.StaticSkipped, c.StaticLoadDuration,
		c.ReconcileDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Request(kind string) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(kind).Inc()
}

func (c *Collector) Cache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
	} else {
		c.CacheMisses.Inc()
	}
}

func (c *Collector) MalformedEvent() {
	if c == nil {
		return
	}
	c.MalformedEvents.Inc()
}

func (c *Collector) LookupFailure(reason string) {
	if c == nil {
		return
	}
	c.LookupFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RealtimeError(kind string) {
	if c == nil {
		return
	}
	c.RealtimeErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) StaticLoad(err error, took time.Duration) {
	if c == nil {
		return
	}
	c.StaticLoadDuration.Observe(took.Seconds())
	if err != nil {
		c.StaticLoads.WithLabelValues("error").Inc()
		c.StaticLoaded.Set(0)
		return
	}
	c.StaticLoads.WithLabelValues("ok").Inc()
	c.StaticLoaded.Set(1)
}

func (c *Collector) StaticSkippedRows(n int) {
	if c == nil {
		return
	}
	c.StaticSkipped.Set(float64(n))
}

func (c *Collector) StaticInvalidated() {
	if c == nil {
		return
	}
	c.StaticLoaded.Set(0)
}

func (c *Collector) Reconciled(took time.Duration) {
	if c == nil {
		return
	}
	c.ReconcileDuration.Observe(took.Seconds())
}
