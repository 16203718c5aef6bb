// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ixbrbot"

var (
	FeedFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_fetch_total",
		Help:      "Feed fetch cycles by result.",
	}, []string{"result"})

	FeedFetchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "feed_fetch_seconds",
		Help:      "Duration of a feed fetch including retries.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 90},
	})

	FeedConsecutiveFailures = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_consecutive_failures",
		Help:      "Exhausted fetch cycles since the last success.",
	})

	FeedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_entries",
		Help:      "Entries in the last fetched feed.",
	})

	CycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_seconds",
		Help:      "Duration of a full monitor cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Reconciler outcomes by action.",
	}, []string{"action"})

	DeliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_errors_total",
		Help:      "Delivery errors by class (permanent, transient, store).",
	}, []string{"class"})

	PendingFlushedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pending_flushed_total",
		Help:      "Quiet-window flushes by mode (single, summary).",
	}, []string{"mode"})

	ActiveRecipients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_recipients",
		Help:      "Active recipients in the last cycle snapshot.",
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Bot commands handled by name.",
	}, []string{"command"})

	CommandsRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_rate_limited_total",
		Help:      "Commands rejected by the per-chat limiter.",
	})

	BackupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_total",
		Help:      "Backup exports and imports by kind and result.",
	}, []string{"kind", "result"})
)

// MustRegister registers every collector on r.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		FeedFetchTotal,
		FeedFetchSeconds,
		FeedConsecutiveFailures,
		FeedEntries,
		CycleSeconds,
		DeliveriesTotal,
		DeliveryErrorsTotal,
		PendingFlushedTotal,
		ActiveRecipients,
		CommandsTotal,
		CommandsRateLimited,
		BackupsTotal,
	)
}

// ObserveFetch records one Fetch call.
func ObserveFetch(start time.Time, entries int, consecutiveFailures int, err error) {
	FeedFetchSeconds.Observe(time.Since(start).Seconds())
	FeedConsecutiveFailures.Set(float64(consecutiveFailures))
	if err != nil {
		FeedFetchTotal.WithLabelValues("error").Inc()
		return
	}
	FeedFetchTotal.WithLabelValues("ok").Inc()
	FeedEntries.Set(float64(entries))
}

func ObserveBackup(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	BackupsTotal.WithLabelValues(kind, result).Inc()
}
