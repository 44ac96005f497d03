package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"golden/hour/internal/coordinator"
	"golden/hour/internal/domain"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_http_requests_total",
			Help: "Total number of HTTP requests received by the API.",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	emergencySubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_emergency_submissions_total",
			Help: "Emergency submissions by outcome.",
		},
		[]string{"outcome", "type", "severity"},
	)

	reservationConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "api_reservation_conflicts_total",
			Help: "Hospital candidates skipped because their capacity was taken first.",
		},
	)

	dispatchETAMinutes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_dispatch_eta_minutes",
			Help:    "Estimated ambulance arrival time at dispatch.",
			Buckets: []float64{5, 8, 10, 15, 20, 30, 45, 60},
		},
		[]string{"severity"},
	)

	emergencyCompletionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_emergency_completion_duration_seconds",
			Help:    "Time from submission to completion per emergency type.",
			Buckets: []float64{600, 1200, 1800, 2700, 3600, 5400, 7200, 10800, 14400},
		},
		[]string{"type", "severity"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		emergencySubmissionsTotal,
		reservationConflictsTotal,
		dispatchETAMinutes,
		emergencyCompletionDurationSeconds,
	)
}

// metricsMiddleware records basic request metrics for Prometheus (RPS and latency).
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		durationSeconds := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(route, r.Method, status).Observe(durationSeconds)
	})
}

func observeSubmission(res coordinator.Result) {
	e := res.Emergency
	emergencySubmissionsTotal.WithLabelValues(string(res.Outcome), string(e.Type), string(e.Severity)).Inc()
	if res.ReservationConflicts > 0 {
		reservationConflictsTotal.Add(float64(res.ReservationConflicts))
	}
	if e.Ambulance != nil && res.Outcome == coordinator.OutcomeDispatched {
		dispatchETAMinutes.WithLabelValues(string(e.Severity)).Observe(float64(e.Ambulance.ETAMinutes))
	}
}

func observeCompletion(e domain.Emergency) {
	if e.Status != domain.StatusCompleted || e.Milestones.CompletedAt == nil {
		return
	}
	duration := e.Milestones.CompletedAt.Sub(e.CreatedAt)
	if duration <= 0 {
		return
	}
	emergencyCompletionDurationSeconds.WithLabelValues(string(e.Type), string(e.Severity)).Observe(duration.Seconds())
}
