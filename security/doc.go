// Package security holds the bridge's protective plumbing: the fixed-window
// rate limiter, encryption of legacy tokens at rest, client IP extraction,
// request IDs, response security headers, expiry checks and the audit log.
//
// # Rate Limiting
//
// RateLimiter counts requests per key in fixed windows. Counters live in a
// CounterStore (normally the storage.SessionStore) so every replica shares
// them. A window starts with the first request and lasts Window; once Limit
// requests have been admitted, further requests are rejected until the
// window has passed. If the counter cannot be read, the request is admitted
// and the failure is logged and counted.
//
//	limiter := security.NewRateLimiter(sessions, security.RateLimiterConfig{
//	    Limit:  60,
//	    Window: time.Minute,
//	    Logger: logger,
//	})
//	if d := limiter.Check(ctx, clientKey); !d.Allowed {
//	    w.Header().Set("Retry-After", strconv.Itoa(security.RetryAfterSeconds(d.RetryAfter)))
//	}
//
// # Audit Logging
//
// Auditor writes one structured "security_audit" record per event. User IDs
// are hashed; frobs, codes and tokens are passed through Redact.
package security
