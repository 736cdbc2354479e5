package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "family_comb"

// Metrics holds the Prometheus collectors for ingestion, geocoding, search
// and clustering.
type Metrics struct {
	// Ingestion metrics.
	IngestRuns         *prometheus.CounterVec   // labels: mode={run,dry_run}
	IngestFeeds        *prometheus.CounterVec   // labels: class, state={upserted,failed}
	IngestRecords      *prometheus.CounterVec   // labels: class, outcome={inserted,updated,skipped,error}
	IngestRetries      *prometheus.CounterVec   // labels: class
	IngestFeedDuration *prometheus.HistogramVec // labels: class

	// Geocoding metrics.
	GeocodeLookups  *prometheus.CounterVec // labels: result={lru,store,provider,not_found,error}
	GeocodeThrottle prometheus.Histogram

	// Search and clustering metrics.
	SearchRequests *prometheus.CounterVec // labels: outcome={ok,partial,not_found,error}
	SearchRadius   prometheus.Histogram
	ClusterCache   *prometheus.CounterVec // labels: result={hit,miss}

	RateLimited prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		IngestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by mode.",
		}, []string{"mode"}),
		IngestFeeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_feeds_total",
			Help:      "Ingested feeds by source class and final state.",
		}, []string{"class", "state"}),
		IngestRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_records_total",
			Help:      "Ingested records by source class and outcome.",
		}, []string{"class", "outcome"}),
		IngestRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_retries_total",
			Help:      "Upstream fetch retries by source class.",
		}, []string{"class"}),
		IngestFeedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_feed_duration_seconds",
			Help:      "Duration of a single feed ingestion.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"class"}),
		GeocodeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_lookups_total",
			Help:      "Geocode lookups by the layer that answered.",
		}, []string{"result"}),
		GeocodeThrottle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_throttle_wait_seconds",
			Help:      "Time spent waiting for the geocode provider throttle.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by outcome.",
		}, []string{"outcome"}),
		SearchRadius: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_radius_miles",
			Help:      "Final search radius after expansion.",
			Buckets:   []float64{5, 10, 20, 25, 30, 40, 50, 60, 80, 100},
		}),
		ClusterCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_cache_total",
			Help:      "Cluster cache lookups by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the inbound rate limiter.",
		}),
	}

	prometheus.MustRegister(
		m.IngestRuns,
		m.IngestFeeds,
		m.IngestRecords,
		m.IngestRetries,
		m.IngestFeedDuration,
		m.GeocodeLookups,
		m.GeocodeThrottle,
		m.SearchRequests,
		m.SearchRadius,
		m.ClusterCache,
		m.RateLimited,
	)

	return m
}

// NewMetricsForTesting creates unregistered collectors so tests can build as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		IngestRuns:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ingest_runs_total"}, []string{"mode"}),
		IngestFeeds:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ingest_feeds_total"}, []string{"class", "state"}),
		IngestRecords:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ingest_records_total"}, []string{"class", "outcome"}),
		IngestRetries:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ingest_retries_total"}, []string{"class"}),
		IngestFeedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "ingest_feed_duration_seconds"}, []string{"class"}),
		GeocodeLookups:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_lookups_total"}, []string{"result"}),
		GeocodeThrottle:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "geocode_throttle_wait_seconds"}),
		SearchRequests:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "search_requests_total"}, []string{"outcome"}),
		SearchRadius:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_radius_miles"}),
		ClusterCache:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "cluster_cache_total"}, []string{"result"}),
		RateLimited:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "http_rate_limited_total"}),
	}
}
