package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simplesurance/labeltracker/internal/history"
)

const metricNamespace = "labeltracker"

const (
	runDurationMetricName = "sync_duration_seconds"
	runFailuresMetricName = "sync_failures_total"
	eventsMetricName      = "history_events_total"
	landingsMetricName    = "landings_total"
)

const (
	kindLabel    = "kind"
	actionLabel  = "action"
	channelLabel = "channel"
)

type metricCollector struct {
	runDuration *prometheus.SummaryVec
	runFailures *prometheus.CounterVec
	events      *prometheus.CounterVec
	landings    *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		runDuration: promauto.NewSummaryVec(
			prometheus.SummaryOpts{
				Namespace: metricNamespace,
				Name:      runDurationMetricName,
				Help:      "duration of synchronization runs",
			},
			[]string{kindLabel},
		),
		runFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      runFailuresMetricName,
				Help:      "count of failed synchronization runs",
			},
			[]string{kindLabel},
		),
		events: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      eventsMetricName,
				Help:      "count of committed history events",
			},
			[]string{kindLabel, actionLabel},
		),
		landings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      landingsMetricName,
				Help:      "count of committed pull request landings",
			},
			[]string{channelLabel},
		),
	}
}

// observeRun records a finished run. Events and landings are only counted
// for committed runs.
func (m *metricCollector) observeRun(stats *syncStat, err error) {
	kind := stats.Kind.String()

	m.runDuration.WithLabelValues(kind).Observe(stats.EndTime.Sub(stats.StartTime).Seconds())

	if err != nil {
		m.runFailures.WithLabelValues(kind).Inc()
		return
	}

	for _, ev := range stats.Events {
		m.events.WithLabelValues(kind, ev.Action.String()).Inc()

		if ev.Action == history.ActionLanded {
			m.landings.WithLabelValues(ev.Channel).Inc()
		}
	}
}
