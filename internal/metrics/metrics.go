// Package metrics holds the Prometheus collectors shared by the crawler and
// the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CrawlItems counts processed targets by outcome (changed, unchanged, failed).
	CrawlItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortwatch_crawl_items_total",
		Help: "Crawl targets processed by outcome",
	}, []string{"outcome"})

	// CrawlFailures counts failed targets by failure kind.
	CrawlFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortwatch_crawl_failures_total",
		Help: "Failed crawl targets by failure kind",
	}, []string{"kind"})

	// FetchDuration tracks document fetch latency.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cohortwatch_fetch_duration_seconds",
		Help:    "Document fetch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// CrawlRuns counts finished runs by result (completed, cancelled).
	CrawlRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortwatch_crawl_runs_total",
		Help: "Crawl runs by result",
	}, []string{"result"})

	// ChangeEvents counts materialized change events by category.
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortwatch_change_events_total",
		Help: "Materialized change events by category",
	}, []string{"category"})

	// HTTPRequests counts API requests by route pattern, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortwatch_http_requests_total",
		Help: "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// HTTPDuration tracks API latency by route pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohortwatch_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
