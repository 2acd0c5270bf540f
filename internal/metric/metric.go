// Package metric holds the Prometheus collectors shared by the CLI, the
// exporter and the HTTP server. Everything registers on the default
// registry and is exposed by the server under /metrics.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conversion sources.
const (
	SourceUpload = "upload"
	SourceFeed   = "feed"
	SourceCLI    = "cli"
)

// Conversion and fetch results.
const (
	ResultOK       = "ok"
	ResultNoEvents = "no_events"
	ResultError    = "error"
	ResultCached   = "cached"
)

var (
	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icscsv_conversions_total",
		Help: "ICS to CSV conversions by source and result",
	}, []string{"source", "result"})

	eventsConverted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icscsv_events_converted_total",
		Help: "Events written to CSV",
	})

	conversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icscsv_conversion_duration_seconds",
		Help:    "Time spent parsing and serializing one calendar",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	feedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icscsv_feed_fetch_total",
		Help: "Feed fetches by result",
	}, []string{"result"})
)

// ObserveConversion records one conversion attempt that started at start.
func ObserveConversion(source, result string, events int, start time.Time) {
	conversions.WithLabelValues(source, result).Inc()
	if events > 0 {
		eventsConverted.Add(float64(events))
	}
	conversionDuration.Observe(time.Since(start).Seconds())
}

// ObserveFetch records one feed fetch.
func ObserveFetch(result string) {
	feedFetches.WithLabelValues(result).Inc()
}
