// Package metrics exposes the Prometheus instrumentation of the server
// binary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestDuration tracks HTTP handler latency by route and status.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "futsim",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})

	// BacktestsRun counts completed backtest requests by outcome.
	BacktestsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futsim",
		Name:      "backtests_total",
		Help:      "Completed backtest requests by outcome.",
	}, []string{"outcome"})

	// ArchivesLoaded reports the number of archives held by the asset
	// manager.
	ArchivesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "futsim",
		Name:      "archives_loaded",
		Help:      "Number of OHLC archives loaded at startup.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
