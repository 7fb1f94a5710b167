// Package metrics exposes Prometheus collectors for the top250 crawler.
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

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	fetchDelaySeconds          prometheus.Histogram
	parseOutcomesTotal         *prometheus.CounterVec
	pipelineRecordsAccepted    prometheus.Gauge
	pipelineRecordsCleaned     prometheus.Gauge
	pipelineRunDurationSeconds prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDuration        *prometheus.HistogramVec
	rateLimitWaitSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "top250_pages_total",
				Help: "Total number of listing pages processed, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "top250_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "top250_fetch_attempts_total",
				Help: "Fetch attempts, labeled by outcome (success, network, status, challenge).",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "top250_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		fetchDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "top250_fetch_delay_seconds",
				Help:    "Histogram of randomized throttle delays slept before each attempt.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5},
			},
		)

		parseOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "top250_parse_outcomes_total",
				Help: "Parsed listing items, labeled by outcome and filter reason.",
			},
			[]string{"outcome", "reason"},
		)

		pipelineRecordsAccepted = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "top250_records_accepted",
				Help: "Records accepted by the most recent pipeline run.",
			},
		)

		pipelineRecordsCleaned = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "top250_records_cleaned",
				Help: "Records surviving the cleaning pass of the most recent run.",
			},
		)

		pipelineRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "top250_run_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs.",
				Buckets: []float64{10, 30, 60, 120, 300, 600},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "top250_http_requests_total",
				Help: "Requests served by the status server, labeled by method, route and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "top250_http_request_duration_seconds",
				Help:    "Latency of status server requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "top250_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the per-host token bucket.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
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

// ObservePage increments the page counters.
func ObservePage(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt records one fetch attempt and its latency.
func ObserveFetchAttempt(outcome string, duration time.Duration) {
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveDelay records a throttle sleep.
func ObserveDelay(duration time.Duration) {
	fetchDelaySeconds.Observe(duration.Seconds())
}

// ObserveOutcome increments the parse outcome counter.
func ObserveOutcome(outcome, reason string) {
	parseOutcomesTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveRun records the totals of a finished run.
func ObserveRun(accepted, cleaned int, duration time.Duration) {
	pipelineRecordsAccepted.Set(float64(accepted))
	pipelineRecordsCleaned.Set(float64(cleaned))
	pipelineRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one request served by the status server.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitWait records a token bucket wait for host.
func ObserveRateLimitWait(host string, duration time.Duration) {
	rateLimitWaitSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
