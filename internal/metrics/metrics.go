// Package metrics exposes Prometheus collectors for the verification gateway.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal          *prometheus.CounterVec
	checkDurationSeconds *prometheus.HistogramVec
	checkRetriesTotal    *prometheus.CounterVec
	cacheEventsTotal     *prometheus.CounterVec
	breakerPhase         *prometheus.GaugeVec
	captchaSolvesTotal   *prometheus.CounterVec
	browserSessions      prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times;
// every observation helper calls it, so explicit startup wiring is optional.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkgate_checks_total",
				Help: "Total check executions, labeled by check type, provenance and status.",
			},
			[]string{"check", "source", "status"},
		)

		checkDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkgate_check_duration_seconds",
				Help:    "Histogram of live check attempt latencies.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"check"},
		)

		checkRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkgate_check_retries_total",
				Help: "Total retry waits taken inside the resilience wrapper.",
			},
			[]string{"check"},
		)

		cacheEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkgate_cache_events_total",
				Help: "Cache lookups, labeled by check type and event (hit, miss, stale_fallback).",
			},
			[]string{"check", "event"},
		)

		breakerPhase = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "checkgate_breaker_phase",
				Help: "Circuit breaker phase per check (0 closed, 1 half_open, 2 open).",
			},
			[]string{"check"},
		)

		captchaSolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkgate_captcha_solves_total",
				Help: "Captcha solve attempts, labeled by challenge kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		browserSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "checkgate_browser_sessions",
				Help: "Number of currently open browser sessions.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCheck records one check attempt with its provenance and status.
func ObserveCheck(check, source, status string, duration time.Duration) {
	Init()
	checksTotal.WithLabelValues(check, source, status).Inc()
	if source == "live" {
		checkDurationSeconds.WithLabelValues(check).Observe(duration.Seconds())
	}
}

// ObserveRetry counts a backoff wait before another attempt.
func ObserveRetry(check string) {
	Init()
	checkRetriesTotal.WithLabelValues(check).Inc()
}

// ObserveCacheEvent counts a cache hit, miss or stale fallback.
func ObserveCacheEvent(check, event string) {
	Init()
	cacheEventsTotal.WithLabelValues(check, event).Inc()
}

// SetBreakerPhase publishes the breaker phase for a check.
func SetBreakerPhase(check, phase string) {
	Init()
	var v float64
	switch phase {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	breakerPhase.WithLabelValues(check).Set(v)
}

// ObserveCaptchaSolve counts a solver call by challenge kind and outcome.
func ObserveCaptchaSolve(kind, outcome string) {
	Init()
	captchaSolvesTotal.WithLabelValues(kind, outcome).Inc()
}

// IncBrowserSessions increments the open session gauge.
func IncBrowserSessions() {
	Init()
	browserSessions.Inc()
}

// DecBrowserSessions decrements the open session gauge.
func DecBrowserSessions() {
	Init()
	browserSessions.Dec()
}
