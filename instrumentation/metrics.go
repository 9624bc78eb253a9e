package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the bridge
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Handoff Flow Metrics
	HandoffStarted   metric.Int64Counter
	HandoffCompleted metric.Int64Counter
	CodeExchanged    metric.Int64Counter
	TokenValidated   metric.Int64Counter

	// Legacy API Metrics
	LegacyAPICallsTotal metric.Int64Counter
	LegacyAPIDuration   metric.Float64Histogram

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	RateLimitFailOpen    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageEntries           metric.Int64ObservableGauge
}

type counterSpec struct {
	dst   *metric.Int64Counter
	meter string
	name  string
	desc  string
	unit  string
}

type histogramSpec struct {
	dst   *metric.Float64Histogram
	meter string
	name  string
	desc  string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "http", "frob.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.HandoffStarted, "server", "frob.handoff.started", "Number of frob handoffs started", "{handoff}"},
		{&m.HandoffCompleted, "server", "frob.handoff.completed", "Number of completion attempts by resulting state", "{attempt}"},
		{&m.CodeExchanged, "server", "frob.code.exchanged", "Number of authorization code exchanges by result", "{exchange}"},
		{&m.TokenValidated, "server", "frob.token.validated", "Number of bearer token validations by result", "{validation}"},
		{&m.LegacyAPICallsTotal, "legacy", "frob.legacy.calls.total", "Total number of legacy API calls", "{call}"},
		{&m.RateLimitExceeded, "security", "frob.rate_limit.exceeded", "Number of rate limit rejections", "{violation}"},
		{&m.RateLimitFailOpen, "security", "frob.rate_limit.fail_open", "Number of requests admitted because the counter store failed", "{request}"},
		{&m.PKCEValidationFailed, "security", "frob.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"},
		{&m.AuditEventsTotal, "security", "frob.audit.events.total", "Total number of audit events", "{event}"},
		{&m.StorageOperationTotal, "storage", "frob.storage.operation.total", "Total number of storage operations", "{operation}"},
	}
	for _, c := range counters {
		counter, err := inst.Meter(c.meter).Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []histogramSpec{
		{&m.HTTPRequestDuration, "http", "frob.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.LegacyAPIDuration, "legacy", "frob.legacy.call.duration", "Legacy API call duration in milliseconds"},
		{&m.StorageOperationDuration, "storage", "frob.storage.operation.duration", "Storage operation duration in milliseconds"},
	}
	for _, h := range histograms {
		histogram, err := inst.Meter(h.meter).Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = histogram
	}

	var err error
	m.StorageEntries, err = inst.Meter("storage").Int64ObservableGauge(
		"frob.storage.entries",
		metric.WithDescription("Number of entries held by the storage backend"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.entries gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordHandoffStarted records a new pending handoff
func (m *Metrics) RecordHandoffStarted(ctx context.Context, clientID string) {
	m.HandoffStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordHandoffCompletion records the state a completion attempt ended in
func (m *Metrics) RecordHandoffCompletion(ctx context.Context, state string) {
	m.HandoffCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
	))
}

// RecordCodeExchange records an authorization code exchange and its result
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, result string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordTokenValidation records a bearer token lookup
func (m *Metrics) RecordTokenValidation(ctx context.Context, active bool) {
	m.TokenValidated.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("active", active),
	))
}

// RecordLegacyAPICall records a call to the legacy API
func (m *Metrics) RecordLegacyAPICall(ctx context.Context, method string, durationMs float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.LegacyAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("result", result),
	))
	m.LegacyAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordRateLimitExceeded records a rate limit rejection
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordRateLimitFailOpen records a request admitted because the counter could not be read
func (m *Metrics) RecordRateLimitFailOpen(ctx context.Context) {
	m.RateLimitFailOpen.Add(ctx, 1)
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
