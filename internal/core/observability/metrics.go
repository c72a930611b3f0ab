// Package observability holds the Prometheus collectors shared by the
// fetch gateway, map sync, cache and HTTP layers.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	modeLabel atomic.Value
	enabled   atomic.Bool
)

func init() {
	modeLabel.Store("magnitude")
	enabled.Store(true)
}

func SetMode(m string) {
	if m == "" {
		m = "magnitude"
	}
	modeLabel.Store(m)
}

func getMode() string {
	if s, ok := modeLabel.Load().(string); ok && s != "" {
		return s
	}
	return "magnitude"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "mode"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "mode"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream data endpoint calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "mode"},
	)

	fetchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_results_total",
			Help: "Fetch gateway results by request kind and outcome.",
		},
		[]string{"kind", "outcome", "mode"},
	)

	mapSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "map_sync_total",
			Help: "Map source synchronisations by outcome (created, updated, skipped).",
		},
		[]string{"outcome", "mode"},
	)

	storedFeatures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feature_store_size",
		Help: "Number of features held in the feature store.",
	})

	visibleFeatures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "visible_features",
		Help: "Number of features in the filtered set last pushed to the map.",
	})

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis cache operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	responseCacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_results_total",
			Help: "Fetch response cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interaction_events_total",
			Help: "Interaction events by outcome (queued, dropped, failed).",
		},
		[]string{"outcome"},
	)

	mapClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "map_clients",
		Help: "Connected map widget clients.",
	})

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		fetchResults, mapSyncTotal, storedFeatures, visibleFeatures,
		cacheOpTotal, redisOpDuration, responseCacheResults, eventsTotal,
		mapClients, buildInfo,
	}
}

// Init additionally registers every collector with reg. With on=false all
// observations become no-ops.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if reg == nil || !on {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	m := getMode()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, m).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, m).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	upstreamLatencySeconds.WithLabelValues(upstream, getMode()).Observe(durationSeconds)
}

func IncFetch(kind, outcome string) {
	if !enabled.Load() {
		return
	}
	fetchResults.WithLabelValues(kind, outcome, getMode()).Inc()
}

func IncMapSync(outcome string) {
	if !enabled.Load() {
		return
	}
	mapSyncTotal.WithLabelValues(outcome, getMode()).Inc()
}

func SetStoredFeatures(n int) {
	if !enabled.Load() {
		return
	}
	storedFeatures.Set(float64(n))
}

func SetVisibleFeatures(n int) {
	if !enabled.Load() {
		return
	}
	visibleFeatures.Set(float64(n))
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpTotal.WithLabelValues(op, res).Inc()
	redisOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncResponseCache(tier, outcome string) {
	if !enabled.Load() {
		return
	}
	responseCacheResults.WithLabelValues(tier, outcome).Inc()
}

func IncEvent(outcome string) {
	if !enabled.Load() {
		return
	}
	eventsTotal.WithLabelValues(outcome).Inc()
}

func AddMapClients(delta int) {
	if !enabled.Load() {
		return
	}
	mapClients.Add(float64(delta))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
