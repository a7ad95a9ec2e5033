package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotoken_cache_size",
		Help: "Current number of cached tokens",
	})
	ZoneTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotoken_zone_tokens",
		Help: "Cached tokens inside the cache zone at the last eviction pass",
	})
	MemoryEstimateBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotoken_memory_estimate_bytes",
		Help: "Estimated cache footprint (entries x per-token estimate)",
	})
	UpsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotoken_upserts_total",
		Help: "Token upserts by outcome",
	}, []string{"op"})
	PassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotoken_eviction_passes_total",
		Help: "Eviction passes by trigger",
	}, []string{"trigger"})
	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotoken_evictions_total",
		Help: "Evicted tokens by pass kind",
	}, []string{"kind"})
	EmergencyPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotoken_emergency_passes_total",
		Help: "Passes that had to ignore zone membership and minimum keep time",
	})
	PassDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotoken_pass_duration_ms",
		Help:    "Eviction pass duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 50, 100, 200},
	})
	MemoryAlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotoken_memory_alerts_total",
		Help: "Memory monitor threshold crossings",
	}, []string{"level"})
	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotoken_fetch_total",
		Help: "Token batch fetches by source and status",
	}, []string{"source", "status"})
	FetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geotoken_fetch_duration_ms",
		Help:    "Token batch fetch duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(CacheSize)
	prometheus.MustRegister(ZoneTokens)
	prometheus.MustRegister(MemoryEstimateBytes)
	prometheus.MustRegister(UpsertsTotal)
	prometheus.MustRegister(PassesTotal)
	prometheus.MustRegister(EvictionsTotal)
	prometheus.MustRegister(EmergencyPassesTotal)
	prometheus.MustRegister(PassDurationMs)
	prometheus.MustRegister(MemoryAlertsTotal)
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(FetchDurationMs)
}

// Handler：暴露已注册指标，供 Prometheus 抓取
func Handler() http.Handler { return promhttp.Handler() }
