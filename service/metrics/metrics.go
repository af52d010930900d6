package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics.
// All Record methods are no-ops on a nil *Metrics.
type Metrics struct {
	// Validation & ledger metrics
	validationsTotal   *prometheus.CounterVec
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	ledgerRecords      *prometheus.GaugeVec
	ledgerMisuseTotal  *prometheus.CounterVec
	syncRunsTotal      *prometheus.CounterVec
	syncChangesTotal   *prometheus.CounterVec

	// Solana RPC metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	depositsFetchedTotal  *prometheus.CounterVec
	depositsRecordedTotal *prometheus.CounterVec

	// Workflow metrics
	pollActivityDuration *prometheus.HistogramVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_validations_total",
				Help: "Total number of address and amount validations by outcome",
			},
			[]string{"check", "token", "reason"},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_submissions_total",
				Help: "Total number of transfer submissions by operation and outcome",
			},
			[]string{"operation", "token", "status"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_submission_duration_seconds",
				Help:    "Duration of transfer submissions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),
		ledgerRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_records",
				Help: "Number of records in the in-memory ledger by status",
			},
			[]string{"status"},
		),
		ledgerMisuseTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_store_misuse_total",
				Help: "Total number of rejected ledger store mutations (duplicate id, not found, invalid transition)",
			},
			[]string{"operation", "error"},
		),
		syncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sync_runs_total",
				Help: "Total number of history sync runs",
			},
			[]string{"status"},
		),
		syncChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sync_changes_total",
				Help: "Total number of records appended or replaced by history sync",
			},
			[]string{"change"},
		),

		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		depositsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deposits_fetched_total",
				Help: "Total number of deposits fetched from the external chain",
			},
			[]string{"token"},
		),
		depositsRecordedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deposits_recorded_total",
				Help: "Total number of deposits written to the ledger by resulting status",
			},
			[]string{"token", "status"},
		),

		pollActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_activity_duration_seconds",
				Help:    "Duration of deposit poll activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"token"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"token", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Validation & ledger metric helpers

// RecordValidation records the outcome of one validation check. An empty
// reason means the check passed.
func (m *Metrics) RecordValidation(check, token, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "valid"
	}
	m.validationsTotal.WithLabelValues(check, token, reason).Inc()
}

// RecordSubmission records a transfer submission and its duration.
func (m *Metrics) RecordSubmission(operation, token, status string, duration float64) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(operation, token, status).Inc()
	m.submissionDuration.WithLabelValues(operation).Observe(duration)
}

// SetLedgerRecords sets the ledger size gauge for each status.
func (m *Metrics) SetLedgerRecords(confirmed, pending, failed int) {
	if m == nil {
		return
	}
	m.ledgerRecords.WithLabelValues("confirmed").Set(float64(confirmed))
	m.ledgerRecords.WithLabelValues("pending").Set(float64(pending))
	m.ledgerRecords.WithLabelValues("failed").Set(float64(failed))
}

// RecordLedgerMisuse records a rejected store mutation.
func (m *Metrics) RecordLedgerMisuse(operation, errKind string) {
	if m == nil {
		return
	}
	m.ledgerMisuseTotal.WithLabelValues(operation, errKind).Inc()
}

// RecordSync records a history sync run and the changes it made.
func (m *Metrics) RecordSync(status string, appended, replaced int) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(status).Inc()
	m.syncChangesTotal.WithLabelValues("appended").Add(float64(appended))
	m.syncChangesTotal.WithLabelValues("replaced").Add(float64(replaced))
}

// Solana metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordDepositsFetched records deposits fetched from the chain.
func (m *Metrics) RecordDepositsFetched(token string, count int) {
	if m == nil {
		return
	}
	m.depositsFetchedTotal.WithLabelValues(token).Add(float64(count))
}

// RecordDepositRecorded records one deposit written to the ledger.
func (m *Metrics) RecordDepositRecorded(token, status string) {
	if m == nil {
		return
	}
	m.depositsRecordedTotal.WithLabelValues(token, status).Inc()
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.pollActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(token string, delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.WithLabelValues(token).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(token, eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(token, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
