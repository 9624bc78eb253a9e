package security

// Audit event types. Names are part of the log schema; do not rename.
const (
	// Handoff lifecycle

	// EventHandoffStarted is logged when a frob is obtained and the user is sent to the legacy service
	EventHandoffStarted = "handoff_started"

	// EventHandoffCompleted is logged when the legacy service confirms the frob and a code is issued
	EventHandoffCompleted = "handoff_completed"

	// EventHandoffExpired is logged when a completion arrives for a handoff past its lifetime
	EventHandoffExpired = "handoff_expired"

	// EventHandoffError is logged when the legacy service rejects the frob exchange
	EventHandoffError = "handoff_error"

	// Token endpoint

	// EventTokenIssued is logged when an authorization code is redeemed for a token
	EventTokenIssued = "token_issued"

	// EventInvalidGrant is logged when a code is unknown, already used or expired
	EventInvalidGrant = "invalid_grant"

	// EventClientMismatch is logged when a code is presented by a different client or redirect URI
	EventClientMismatch = "client_mismatch"

	// EventInvalidPKCE is logged when PKCE validation fails
	EventInvalidPKCE = "invalid_pkce"

	// Security violations

	// EventAuthFailure is logged when client or bearer authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
