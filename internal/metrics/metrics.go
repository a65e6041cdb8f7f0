// Package metrics exposes Prometheus collectors for the crawler manager.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Seed address outcomes.
const (
	OutcomePublished = "published"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

var (
	lifecycleOperationsTotal   *prometheus.CounterVec
	seedAddressesTotal         *prometheus.CounterVec
	versionConflictsTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	httpRateLimitedTotal       prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		lifecycleOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_lifecycle_operations_total",
				Help: "Total number of lifecycle operations, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		seedAddressesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_seed_addresses_total",
				Help: "Seed addresses handled during start, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		versionConflictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_version_conflicts_total",
				Help: "Optimistic concurrency conflicts observed on save, labeled by operation.",
			},
			[]string{"operation"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		httpRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "http_requests_rate_limited_total",
				Help: "Total number of API requests rejected by the rate limiter.",
			},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation counts one lifecycle operation.
func ObserveOperation(operation, result string) {
	Init()
	lifecycleOperationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveSeedAddress counts one seed address by outcome.
func ObserveSeedAddress(address, outcome string) {
	Init()
	seedAddressesTotal.WithLabelValues(SanitizeSite(address), outcome).Inc()
}

// ObserveVersionConflict counts a rejected stale write.
func ObserveVersionConflict(operation string) {
	Init()
	versionConflictsTotal.WithLabelValues(operation).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts a request rejected by the API rate limiter.
func ObserveRateLimited() {
	Init()
	httpRateLimitedTotal.Inc()
}
