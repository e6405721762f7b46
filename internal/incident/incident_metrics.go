package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for event ingestion and correlation.
type Metrics struct {
	IngestsTotal         *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	EventScore           *prometheus.HistogramVec
	CorrelationsTotal    *prometheus.CounterVec
	IncidentsOpenedTotal prometheus.Counter
	NotifyFailuresTotal  prometheus.Counter
	CacheErrorsTotal     prometheus.Counter
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalos_ingests_total",
			Help: "Total event ingest calls by result.",
		}, []string{"result"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalos_ingest_duration_seconds",
			Help:    "Duration of event ingest calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}),
		EventScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalos_event_score",
			Help:    "Risk score of stored events by category.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0 .. 1
		}, []string{"category"}),
		CorrelationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalos_correlations_total",
			Help: "Total correlation decisions by outcome.",
		}, []string{"outcome"}),
		IncidentsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalos_incidents_opened_total",
			Help: "Total incidents opened by correlation.",
		}),
		NotifyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalos_notify_failures_total",
			Help: "Total failed incident notifications.",
		}),
		CacheErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalos_dedup_cache_errors_total",
			Help: "Total fingerprint cache errors.",
		}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.IngestDuration,
		m.EventScore,
		m.CorrelationsTotal,
		m.IncidentsOpenedTotal,
		m.NotifyFailuresTotal,
		m.CacheErrorsTotal,
	)

	return m
}

// Hooks returns ServiceHooks that update the corresponding metrics.
func (m *Metrics) Hooks() ServiceHooks {
	return ServiceHooks{
		OnIngest: func(result string, duration float64) {
			m.IngestsTotal.WithLabelValues(result).Inc()
			m.IngestDuration.Observe(duration)
		},
		OnStored: func(category string, score float64, outcome Outcome) {
			m.EventScore.WithLabelValues(category).Observe(score)
			m.CorrelationsTotal.WithLabelValues(string(outcome)).Inc()
			if outcome == OutcomeAttachedNew {
				m.IncidentsOpenedTotal.Inc()
			}
		},
		OnNotifyError: func() {
			m.NotifyFailuresTotal.Inc()
		},
		OnCacheError: func() {
			m.CacheErrorsTotal.Inc()
		},
	}
}
