package githubclt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simplesurance/labeltracker/internal/history"
)

const metricNamespace = "labeltracker_github"

const kindLabel = "kind"

type metricCollector struct {
	queries            *prometheus.CounterVec
	queryDuration      *prometheus.HistogramVec
	timeouts           *prometheus.CounterVec
	batchSize          *prometheus.GaugeVec
	rateLimitRemaining prometheus.Gauge
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		queries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "queries_total",
				Help:      "count of executed GraphQL page queries",
			},
			[]string{kindLabel},
		),
		queryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "query_duration_seconds",
				Help:      "duration of GraphQL page queries",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
			},
			[]string{kindLabel},
		),
		timeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "query_timeouts_total",
				Help:      "count of GraphQL page queries that were throttled because of a timeout",
			},
			[]string{kindLabel},
		),
		batchSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "query_batch_size",
				Help:      "page size of the last GraphQL query",
			},
			[]string{kindLabel},
		),
		rateLimitRemaining: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "rate_limit_remaining",
				Help:      "remaining GraphQL API rate limit points",
			},
		),
	}
}

func (m *metricCollector) observeQuery(kind history.Kind, batch int, elapsed time.Duration) {
	m.queries.WithLabelValues(kind.String()).Inc()
	m.queryDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
	m.batchSize.WithLabelValues(kind.String()).Set(float64(batch))
}

func (m *metricCollector) timeoutInc(kind history.Kind) {
	m.timeouts.WithLabelValues(kind.String()).Inc()
}

func (m *metricCollector) setRateLimitRemaining(remaining int) {
	m.rateLimitRemaining.Set(float64(remaining))
}
