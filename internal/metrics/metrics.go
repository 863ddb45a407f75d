package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/cauldronio/poolsched/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "poolsched",
		Name:      "worker_tick_duration_seconds",
		Help:      "Time taken for one worker dispatch tick.",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 60, 300, 900},
	})

	JobsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "jobs_created_total",
		Help:      "Jobs created through intention admission.",
	})

	JobsResumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "jobs_resumed_total",
		Help:      "Unclaimed jobs picked back up by a worker.",
	})

	IntentionsCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "intentions_coalesced_total",
		Help:      "Intentions bound to an already existing job instead of a new one.",
	})

	JobsArchivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "jobs_archived_total",
		Help:      "Jobs archived, by terminal status.",
	}, []string{"status"})

	JobsReleasedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "jobs_released_total",
		Help:      "Jobs handed back to the queue without archiving.",
	}, []string{"reason"})

	TokenDelaysTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "token_delays_total",
		Help:      "Rate-limit cool-downs stamped on tokens, by source.",
	}, []string{"source"})

	ScheduledFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "scheduled_intentions_fired_total",
		Help:      "Intentions materialized from scheduled intentions.",
	})

	// Janitor metrics

	WorkersReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "workers_reaped_total",
		Help:      "Workers marked DOWN after missing heartbeats.",
	})

	JobsReclaimedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "jobs_reclaimed_total",
		Help:      "Jobs released from reaped workers.",
	})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "poolsched",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "poolsched",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolsched",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TickDuration,
		JobsCreatedTotal,
		JobsResumedTotal,
		IntentionsCoalescedTotal,
		JobsArchivedTotal,
		JobsReleasedTotal,
		TokenDelaysTotal,
		ScheduledFiredTotal,
		WorkersReapedTotal,
		JobsReclaimedTotal,
		WorkerStartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer exposes /metrics plus the liveness and readiness probes on a
// side port, away from the public API.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		res := checker.Readiness(r.Context())
		status := http.StatusOK
		if res.Status == "down" {
			status = http.StatusServiceUnavailable
		}
		writeResult(w, status, res)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeResult(w http.ResponseWriter, status int, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
