package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never record frobs, authorization codes, legacy tokens or shared secrets as
// attribute values. Record presence or length instead.
const (
	AttrClientID   = "oauth.client_id"
	AttrUserID     = "oauth.user_id"
	AttrScope      = "oauth.scope"
	AttrPKCEMethod = "oauth.pkce.method"
	AttrGrantType  = "oauth.grant_type"
	AttrError      = "oauth.error"

	AttrFlowState   = "frob.flow_state"
	AttrHandoffMode = "frob.handoff_mode"

	AttrLegacyMethod = "legacy.method"
	AttrLegacyCode   = "legacy.error_code"

	AttrStorageOperation = "storage.operation"

	AttrRateLimited = "security.rate_limited"
	AttrClientIP    = "security.client_ip"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPRequestID  = "http.request_id"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds the non-secret flow identifiers to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddFlowStateAttribute records the authorization state a span ended in (nil-safe)
func AddFlowStateAttribute(span trace.Span, state string) {
	SetSpanAttributes(span, attribute.String(AttrFlowState, state))
}

// AddLegacyAttributes records which legacy method was called (nil-safe)
func AddLegacyAttributes(span trace.Span, method, errorCode string) {
	SetSpanAttributes(span, attribute.String(AttrLegacyMethod, method))
	if errorCode != "" {
		SetSpanAttributes(span, attribute.String(AttrLegacyCode, errorCode))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
