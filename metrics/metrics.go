// Package metrics holds the Prometheus collectors shared by the fetch client
// and the crawl orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a scrape process.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	RequestsInFlight prometheus.Gauge
	RetriesTotal     *prometheus.CounterVec
	FetchErrorsTotal *prometheus.CounterVec
	ItemsTotal       *prometheus.CounterVec
	CategoriesTotal  *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodscrape_requests_total",
			Help: "Total HTTP exchanges issued by the fetch client.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foodscrape_request_duration_seconds",
			Help:    "HTTP exchange latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foodscrape_requests_in_flight",
			Help: "HTTP exchanges currently holding a concurrency slot.",
		},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodscrape_retries_total",
			Help: "Total number of retries scheduled, by failure kind.",
		},
		[]string{"kind"},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodscrape_fetch_errors_total",
			Help: "Fetches that failed after exhausting their attempts, by kind.",
		},
		[]string{"kind"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodscrape_items_total",
			Help: "Items seen by the orchestrator, by outcome.",
		},
		[]string{"shop", "outcome"},
	)
	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodscrape_categories_total",
			Help: "Categories finished, by final state.",
		},
		[]string{"shop", "state"},
	)

	registry.MustRegister(requests, requestDuration, inFlight, retries, fetchErrors, items, categories)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		RequestsInFlight: inFlight,
		RetriesTotal:     retries,
		FetchErrorsTotal: fetchErrors,
		ItemsTotal:       items,
		CategoriesTotal:  categories,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP exchange duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddInFlight moves the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(kind string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(kind).Inc()
}

// IncFetchError increments the exhausted-fetch counter for a kind label.
func (m *Metrics) IncFetchError(kind string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(kind).Inc()
}

// IncItem increments the item counter for a shop and outcome.
func (m *Metrics) IncItem(shop, outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(shop, outcome).Inc()
}

// IncCategory records a finished category.
func (m *Metrics) IncCategory(shop, state string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(shop, state).Inc()
}
