// Package metrics exposes Prometheus instrumentation for the radle-server:
// Reddit API call volume and failures, token refresh outcomes, rate-limit
// breaches, and HTTP endpoint latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reddit API metrics
	RedditCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radle_reddit_calls_total",
			Help: "Total number of Reddit API calls",
		},
		[]string{"endpoint", "outcome"}, // outcome: "ok" or "failure"
	)

	RedditRateLimitBreaches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radle_reddit_rate_limit_breaches_total",
			Help: "Total number of samples exceeding the rate-limit breach threshold",
		},
	)

	// Token lifecycle metrics
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radle_token_refreshes_total",
			Help: "Total number of OAuth token refresh attempts",
		},
		[]string{"outcome"}, // "ok" or "failure"
	)

	// HTTP endpoint metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radle_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "radle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// RecordRedditCall increments the API call counter for an endpoint.
func RecordRedditCall(endpoint string, isFailure bool) {
	outcome := "ok"
	if isFailure {
		outcome = "failure"
	}
	RedditCallsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordTokenRefresh increments the refresh counter with the outcome.
func RecordTokenRefresh(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "ok"
	}
	TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
