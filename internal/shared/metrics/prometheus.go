package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
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
	accessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Record fetch decisions by access mode",
		},
		[]string{"mode"},
	)

	credentialValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_validations_total",
			Help: "Institution credential validations by outcome",
		},
		[]string{"outcome"},
	)

	consentChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consent_changes_total",
			Help: "Consent updates by resulting grant state",
		},
		[]string{"granted"},
	)

	temporaryPatients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "temporary_patients_created_total",
			Help: "Total number of temporary patient identities issued",
		},
	)

	recordsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "his_records_imported_total",
			Help: "Institution records imported from hospital information systems",
		},
		[]string{"institution"},
	)

	// Audit metrics
	auditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of access log entries appended",
		},
		[]string{"mode"},
	)

	auditWriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_retries_total",
			Help: "Access log append attempts that failed and were retried",
		},
	)

	auditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Access log appends that failed after all attempts",
		},
	)

	auditWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_write_duration_seconds",
			Help:    "Time to durably append an access log entry, retries included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
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

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

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

// routePattern labels requests by chi route template so patient ids never
// become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// --- Business metric helpers ---

// RecordAccessDecision records a record fetch outcome (normal, emergency, denied)
func RecordAccessDecision(mode string) {
	accessDecisions.WithLabelValues(mode).Inc()
}

// RecordCredentialValidation records a credential check outcome
func RecordCredentialValidation(outcome string) {
	credentialValidations.WithLabelValues(outcome).Inc()
}

// RecordConsentChange records a consent update
func RecordConsentChange(granted bool) {
	consentChanges.WithLabelValues(strconv.FormatBool(granted)).Inc()
}

// RecordTemporaryPatient records a temporary identity issuance
func RecordTemporaryPatient() {
	temporaryPatients.Inc()
}

// RecordImported records institution records imported from a HIS
func RecordImported(institutionID string, n int) {
	recordsImported.WithLabelValues(institutionID).Add(float64(n))
}

// RecordAuditEntry records an access log append
func RecordAuditEntry(mode string) {
	auditEntriesTotal.WithLabelValues(mode).Inc()
}

// RecordAuditRetry records a failed append attempt that will be retried
func RecordAuditRetry() {
	auditWriteRetries.Inc()
}

// RecordAuditFailure records an append that exhausted its attempts
func RecordAuditFailure() {
	auditWriteFailures.Inc()
}

// RecordAuditWrite records the total time spent appending one entry
func RecordAuditWrite(duration time.Duration) {
	auditWriteDuration.Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
