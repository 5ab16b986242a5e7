// Package metrics exposes Prometheus collectors for the queue service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchesSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapscout_searches_submitted_total",
		Help: "Total searches accepted into the queue.",
	})

	jobsClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapscout_jobs_claimed_total",
		Help: "Total jobs claimed from the waiting queue.",
	})

	jobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscout_jobs_finished_total",
			Help: "Total jobs reaching a terminal state, labeled by status.",
		},
		[]string{"status"},
	)

	jobsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapscout_jobs_reclaimed_total",
		Help: "Total stuck processing jobs returned to the queue.",
	})

	leadsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapscout_leads_inserted_total",
		Help: "Total leads persisted from completed scrapes.",
	})

	authFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapscout_auth_failures_total",
			Help: "Total rejected requests, labeled by reason.",
		},
		[]string{"reason"},
	)

	busyWorkerSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapscout_busy_worker_slots",
		Help: "Worker slots currently executing a scrape.",
	})

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission counts one accepted search.
func ObserveSubmission() {
	searchesSubmittedTotal.Inc()
}

// ObserveClaims counts jobs claimed in one cycle.
func ObserveClaims(n int) {
	jobsClaimedTotal.Add(float64(n))
}

// ObserveJobFinished counts a terminal transition.
func ObserveJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(status).Inc()
}

// ObserveReclaims counts stuck jobs returned to waiting.
func ObserveReclaims(n int64) {
	jobsReclaimedTotal.Add(float64(n))
}

// ObserveLeads counts leads written for a completed job.
func ObserveLeads(n int) {
	leadsInsertedTotal.Add(float64(n))
}

// ObserveAuthFailure counts a rejected request by reason.
func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

// SetBusySlots records how many slots are executing.
func SetBusySlots(n int) {
	busyWorkerSlots.Set(float64(n))
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
