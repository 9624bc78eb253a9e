package server

import (
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/security"
)

// HandoffMode selects how a user is sent to the legacy authorization page.
type HandoffMode string

const (
	// HandoffInterstitial renders a waiting page with a link to the legacy
	// site and a button the user presses once they have authorized.
	HandoffInterstitial HandoffMode = "interstitial"

	// HandoffRedirect sends the user straight to the legacy site. Completion
	// arrives as a request carrying the frob.
	HandoffRedirect HandoffMode = "redirect"
)

// Lifetimes of the records the bridge keeps in the session store
const (
	DefaultPendingHandoffTTL    = 10 * time.Minute
	DefaultAuthorizationCodeTTL = 5 * time.Minute
	DefaultTokenLifetime        = 365 * 24 * time.Hour
)

// Config holds bridge configuration
type Config struct {
	// Issuer is the bridge's issuer identifier (base URL)
	Issuer string

	// PendingHandoffTTL bounds how long a user has to authorize a frob
	// Default: 10 minutes
	PendingHandoffTTL time.Duration

	// AuthorizationCodeTTL is how long a minted code may be redeemed
	// Default: 5 minutes
	AuthorizationCodeTTL time.Duration

	// TokenLifetime is the advertised and enforced lifetime of issued tokens.
	// Legacy tokens do not expire on their own.
	// Default: 365 days
	TokenLifetime time.Duration

	// ClockSkewGracePeriod is tolerated when checking token lifetimes
	// Default: 5 seconds
	ClockSkewGracePeriod time.Duration

	// HandoffMode is interstitial (default) or redirect
	HandoffMode HandoffMode

	// DefaultScope is reported when the client did not request a scope.
	// Default: the permission level requested from the legacy API
	DefaultScope string

	// RequirePKCE makes code_verifier mandatory at the token endpoint when a
	// code_challenge was supplied at /authorize
	// Default: false
	RequirePKCE bool

	// Clients is an optional static client registry
	Clients []ClientConfig

	// RequireRegisteredClients rejects authorization and token requests from
	// client IDs that are not in Clients
	// Default: false
	RequireRegisteredClients bool

	// AllowedCustomSchemes restricts custom redirect URI schemes (regex)
	// Default: any RFC 3986 scheme that is not known to be dangerous
	AllowedCustomSchemes []string

	// AllowInsecureHTTP allows an http:// issuer on a non-loopback host
	// Default: false
	AllowInsecureHTTP bool

	// TrustProxy enables X-Forwarded-For and X-Real-IP for client IPs
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the bridge
	// Default: 1
	TrustedProxyCount int

	// RateLimit is the number of requests per client IP per window
	// Default: 60
	RateLimit int

	// RateLimitWindow is the fixed window length
	// Default: 1 minute
	RateLimitWindow time.Duration
}

// ClientIPConfig returns the proxy settings used to derive client IPs
func (c *Config) ClientIPConfig() security.ClientIPConfig {
	return security.ClientIPConfig{
		TrustProxy:        c.TrustProxy,
		TrustedProxyCount: c.TrustedProxyCount,
	}
}

// applySecureDefaults fills unset fields and warns about risky settings
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyRateLimitDefaults(config)

	if config.HandoffMode == "" {
		config.HandoffMode = HandoffInterstitial
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)
	return config
}

func applyTimeDefaults(config *Config) {
	if config.PendingHandoffTTL == 0 {
		config.PendingHandoffTTL = DefaultPendingHandoffTTL
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.TokenLifetime == 0 {
		config.TokenLifetime = DefaultTokenLifetime
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = security.DefaultClockSkewGracePeriod
	}
}

func applyRateLimitDefaults(config *Config) {
	if config.RateLimit == 0 {
		config.RateLimit = security.DefaultRateLimit
	}
	if config.RateLimitWindow == 0 {
		config.RateLimitWindow = security.DefaultRateLimitWindow
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IPs",
			"trusted_proxy_count", config.TrustedProxyCount,
			"risk", "X-Forwarded-For can be spoofed if the bridge is reachable directly")
	}
	if config.AuthorizationCodeTTL > 10*time.Minute {
		logger.Warn("Authorization code lifetime exceeds 10 minutes",
			"ttl", config.AuthorizationCodeTTL)
	}
	if config.RequireRegisteredClients && len(config.Clients) == 0 {
		logger.Warn("RequireRegisteredClients is set but no clients are configured; every request will be rejected")
	}
}
