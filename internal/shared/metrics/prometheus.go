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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	consultationRequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_requests_created_total",
			Help: "Total number of consultation requests created",
		},
		[]string{"category", "status"},
	)

	requestStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_request_status_changed_total",
			Help: "Total number of consultation request status changes",
		},
		[]string{"from_status", "to_status"},
	)

	matchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doctor_match_attempts_total",
			Help: "Total number of doctor match attempts",
		},
		[]string{"outcome"},
	)

	matchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "doctor_match_duration_seconds",
			Help:    "Doctor matching duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	doctorsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doctors_online",
			Help: "Number of doctors currently online",
		},
	)

	activeConsultations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consultations_active",
			Help: "Total active consultation load across all doctors",
		},
	)

	reassignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultation_reassignments_total",
			Help: "Total number of consultation reassignments",
		},
		[]string{"outcome"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications dispatched",
		},
		[]string{"kind", "outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordRequestCreated records a consultation request creation
func RecordRequestCreated(category, status string) {
	consultationRequestsCreated.WithLabelValues(category, status).Inc()
}

// RecordStatusChange records a consultation request status change
func RecordStatusChange(fromStatus, toStatus string) {
	requestStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordMatch records a doctor match attempt
func RecordMatch(outcome string, duration time.Duration) {
	matchAttempts.WithLabelValues(outcome).Inc()
	matchDuration.Observe(duration.Seconds())
}

// RecordReassignment records a reassignment attempt
func RecordReassignment(outcome string) {
	reassignmentsTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records a dispatched notification
func RecordNotification(kind string, success bool) {
	outcome := "failed"
	if success {
		outcome = "sent"
	}
	notificationsSent.WithLabelValues(kind, outcome).Inc()
}

// SetDoctorsOnline records the number of online doctors
func SetDoctorsOnline(count int) {
	doctorsOnline.Set(float64(count))
}

// SetActiveConsultations records the total active consultation load
func SetActiveConsultations(count int) {
	activeConsultations.Set(float64(count))
}
