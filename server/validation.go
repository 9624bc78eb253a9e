package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// PKCE constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// Supported grant and response types
const (
	ResponseTypeCode           = "code"
	GrantTypeAuthorizationCode = "authorization_code"
	TokenTypeBearer            = "Bearer"
)

const (
	maxStateLength       = 2048
	maxClientIDLength    = 256
	maxScopeLength       = 1024
	maxRedirectURILength = 2048
)

var (
	// DangerousSchemes lists URI schemes that must never be used as redirect targets
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about", "blob"}

	// DefaultRFC3986SchemePattern matches any syntactically valid scheme
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}
)

// AuthorizationRequest is the typed form of GET /authorize.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Validate checks the request shape. The first failure is returned as an
// invalid_request error.
func (r *AuthorizationRequest) Validate() error {
	if r.RedirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}
	if len(r.RedirectURI) > maxRedirectURILength {
		return ErrInvalidRequest("redirect_uri is too long")
	}
	if err := validateRedirectURIShape(r.RedirectURI); err != nil {
		return ErrInvalidRequest(err.Error())
	}
	if r.ResponseType == "" {
		return ErrInvalidRequest("response_type is required")
	}
	if r.ResponseType != ResponseTypeCode {
		return ErrInvalidRequest(fmt.Sprintf("unsupported response_type %q (only %q is supported)", r.ResponseType, ResponseTypeCode))
	}
	if len(r.ClientID) > maxClientIDLength {
		return ErrInvalidRequest("client_id is too long")
	}
	if len(r.State) > maxStateLength {
		return ErrInvalidRequest("state is too long")
	}
	if len(r.Scope) > maxScopeLength {
		return ErrInvalidRequest("scope is too long")
	}
	return validateCodeChallenge(r.CodeChallenge, r.CodeChallengeMethod)
}

// NormalizedChallengeMethod returns the PKCE method, defaulting to plain
// when a challenge is present without one (RFC 7636 section 4.3).
func (r *AuthorizationRequest) NormalizedChallengeMethod() string {
	if r.CodeChallenge != "" && r.CodeChallengeMethod == "" {
		return PKCEMethodPlain
	}
	return r.CodeChallengeMethod
}

// Query encodes the request as /authorize query parameters. Empty fields are
// omitted.
func (r *AuthorizationRequest) Query() url.Values {
	q := url.Values{}
	for _, p := range [][2]string{
		{"response_type", r.ResponseType},
		{"client_id", r.ClientID},
		{"redirect_uri", r.RedirectURI},
		{"state", r.State},
		{"scope", r.Scope},
		{"code_challenge", r.CodeChallenge},
		{"code_challenge_method", r.CodeChallengeMethod},
	} {
		if p[1] != "" {
			q.Set(p[0], p[1])
		}
	}
	return q
}

// TokenRequest is the typed form of POST /token.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// Validate checks the request shape before any state is touched.
func (r *TokenRequest) Validate() error {
	if r.GrantType == "" {
		return ErrInvalidRequest("grant_type is required")
	}
	if r.GrantType != GrantTypeAuthorizationCode {
		return ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", r.GrantType))
	}
	if r.Code == "" {
		return ErrInvalidRequest("code is required")
	}
	if len(r.ClientID) > maxClientIDLength {
		return ErrInvalidRequest("client_id is too long")
	}
	return nil
}

// validateRedirectURIShape enforces the checks that do not depend on
// configuration: absolute, no fragment, no dangerous scheme.
func validateRedirectURIShape(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format")
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("redirect_uri must be an absolute URI")
	}
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme %q is not allowed", parsed.Scheme)
		}
	}
	if (scheme == "http" || scheme == "https") && parsed.Host == "" {
		return fmt.Errorf("redirect_uri must include a host")
	}
	return nil
}

// validateRedirectURI applies the configured policy on top of the shape
// checks: registered URIs for known clients, HTTPS outside loopback when the
// bridge itself runs on HTTPS, and the custom scheme allowlist.
func (s *Server) validateRedirectURI(clientID, redirectURI string) error {
	if client, ok := s.clients.Lookup(clientID); ok {
		if !client.AllowsRedirectURI(redirectURI) {
			return ErrInvalidRequest("redirect_uri is not registered for this client")
		}
		return nil
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return ErrInvalidRequest("invalid redirect_uri format")
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "https":
		return nil
	case "http":
		if isLocalhostHostname(parsed.Hostname()) {
			return nil
		}
		if issuer, err := url.Parse(s.Config.Issuer); err == nil && issuer.Scheme == "https" {
			return ErrInvalidRequest("redirect_uri must use HTTPS")
		}
		return nil
	default:
		if err := validateCustomScheme(scheme, s.Config.AllowedCustomSchemes); err != nil {
			return ErrInvalidRequest(err.Error())
		}
		return nil
	}
}

// validateCustomScheme checks a custom URI scheme against allowed patterns
func validateCustomScheme(scheme string, allowedSchemes []string) error {
	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultRFC3986SchemePattern
	}
	for _, pattern := range allowedSchemes {
		matched, err := regexp.MatchString(pattern, scheme)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern %q: %w", pattern, err)
		}
		if matched {
			return nil
		}
	}
	return fmt.Errorf("redirect_uri scheme %q is not allowed", scheme)
}

func validateCodeChallenge(challenge, method string) error {
	switch method {
	case "", PKCEMethodS256, PKCEMethodPlain:
	default:
		return ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method %q (supported: S256, plain)", method))
	}
	if challenge == "" {
		if method != "" {
			return ErrInvalidRequest("code_challenge is required when code_challenge_method is present")
		}
		return nil
	}
	if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
		return ErrInvalidRequest(fmt.Sprintf("code_challenge must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength))
	}
	if !isUnreserved(challenge) {
		return ErrInvalidRequest("code_challenge contains invalid characters")
	}
	return nil
}

// verifyPKCE checks a code_verifier against the stored challenge (RFC 7636)
func verifyPKCE(challenge, method, verifier string) error {
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters", MaxCodeVerifierLength)
	}
	if !isUnreserved(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain, "":
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// isUnreserved reports whether s only holds RFC 3986 unreserved characters
func isUnreserved(s string) bool {
	for _, ch := range s {
		ok := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !ok {
			return false
		}
	}
	return true
}

// validateHTTPSEnforcement refuses an http:// issuer on anything but a
// loopback host unless AllowInsecureHTTP is set.
func (s *Server) validateHTTPSEnforcement() error {
	if s.Config.Issuer == "" {
		return nil
	}

	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
		hostname := issuerURL.Hostname()
		if isLocalhostHostname(hostname) {
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf("issuer must use HTTPS outside localhost (got %s://%s); set AllowInsecureHTTP to override",
				issuerURL.Scheme, hostname)
		}
		s.Logger.Error("Running the bridge over plain HTTP",
			"issuer", s.Config.Issuer,
			"risk", "bearer tokens and codes exposed to interception")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isLocalhostHostname reports whether hostname refers to the local machine
func isLocalhostHostname(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
