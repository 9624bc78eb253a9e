package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
)

// Auditor handles security event logging with PII protection.
// User identifiers are hashed before they reach the log.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	inst    *instrumentation.Instrumentation
	clock   func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		clock:   time.Now,
	}
}

// SetInstrumentation counts audit events by type
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.inst = inst
}

// SetClock overrides the timestamp source
func (a *Auditor) SetClock(clock func() time.Time) {
	if clock != nil {
		a.clock = clock
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII. A nil or disabled
// Auditor drops the event.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.clock()
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	a.logger.InfoContext(ctx, "security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.inst != nil {
		a.inst.Metrics().RecordAuditEvent(ctx, event.Type)
	}
}

// LogHandoffStarted logs the start of a frob handoff
func (a *Auditor) LogHandoffStarted(ctx context.Context, clientID, ipAddress, frob string) {
	a.LogEvent(ctx, Event{
		Type:      EventHandoffStarted,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"frob": Redact(frob)},
	})
}

// LogHandoffCompleted logs a confirmed handoff
func (a *Auditor) LogHandoffCompleted(ctx context.Context, userID, clientID, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventHandoffCompleted,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogHandoffExpired logs a completion attempt on an expired handoff
func (a *Auditor) LogHandoffExpired(ctx context.Context, clientID, ipAddress, frob string) {
	a.LogEvent(ctx, Event{
		Type:      EventHandoffExpired,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"frob": Redact(frob)},
	})
}

// LogHandoffError logs a failed frob exchange
func (a *Auditor) LogHandoffError(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventHandoffError,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(ctx context.Context, userID, clientID, ipAddress, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"scope": scope},
	})
}

// LogInvalidGrant logs a rejected authorization code
func (a *Auditor) LogInvalidGrant(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventInvalidGrant,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogClientMismatch logs a code presented by the wrong client
func (a *Auditor) LogClientMismatch(ctx context.Context, userID, expectedClientID, presentedClientID, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventClientMismatch,
		UserID:    userID,
		ClientID:  presentedClientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"expected_client_id": expectedClientID},
	})
}

// LogInvalidPKCE logs a failed code_verifier check
func (a *Auditor) LogInvalidPKCE(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventInvalidPKCE,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(ctx context.Context, userID, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, key, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"key": key},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
