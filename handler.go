// Package oauth exposes a legacy frob-based desktop authentication flow as
// an OAuth 2.0 authorization server for MCP clients.
//
// Handler is the HTTP surface. The state machine and token service live in
// the server package, state lives in a storage.SessionStore.
package oauth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/server"
)

// Endpoint paths registered by Handler.RegisterRoutes
const (
	PathAuthorize                   = "/authorize"
	PathAuthorizeComplete           = "/authorize/complete"
	PathToken                       = "/token"
	PathIntrospect                  = "/introspect"
	PathUserInfo                    = "/userinfo"
	PathAuthorizationServerMetadata = "/.well-known/oauth-authorization-server"
	PathHealth                      = "/healthz"
)

// Token endpoint client authentication methods
const (
	TokenEndpointAuthMethodNone  = "none"
	TokenEndpointAuthMethodBasic = "client_secret_basic"
	TokenEndpointAuthMethodPost  = "client_secret_post"
)

const (
	tokenTypeBearer = server.TokenTypeBearer

	// maxRequestBodyBytes bounds form bodies on the POST endpoints
	maxRequestBodyBytes int64 = 64 << 10
)

// SupportedTokenAuthMethods lists the token endpoint authentication methods
var SupportedTokenAuthMethods = []string{
	TokenEndpointAuthMethodNone,
	TokenEndpointAuthMethodBasic,
	TokenEndpointAuthMethodPost,
}

// legacyPermissionLevels are the scopes the legacy API can grant
var legacyPermissionLevels = []string{"read", "write", "delete"}

// Handler is a thin HTTP adapter for the bridge Server.
// It decodes requests, delegates to the Server and renders the results.
type Handler struct {
	server      *server.Server
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandler creates a new HTTP handler. Requests are rate limited per client
// IP with the server's RateLimit and RateLimitWindow, using counters in the
// server's session store.
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	rl := security.NewRateLimiter(srv.Sessions(), security.RateLimiterConfig{
		Limit:  srv.Config.RateLimit,
		Window: srv.Config.RateLimitWindow,
		Logger: logger,
	})
	rl.SetInstrumentation(srv.Instrumentation)

	return &Handler{
		server:      srv,
		rateLimiter: rl,
		logger:      logger,
		tracer:      srv.Instrumentation.Tracer("http"),
	}
}

// SetRateLimiter replaces the per-IP rate limiter
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	if rl != nil {
		h.rateLimiter = rl
	}
}

// RegisterRoutes registers the bridge endpoints on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	limited := func(endpoint string, fn http.HandlerFunc) http.Handler {
		return h.instrument(endpoint, h.RateLimit(fn))
	}

	mux.Handle("GET "+PathAuthorize, limited("authorize", h.ServeAuthorization))
	mux.Handle("GET "+PathAuthorizeComplete, limited("authorize_complete", h.ServeCompletion))
	mux.Handle("POST "+PathAuthorizeComplete, limited("authorize_complete", h.ServeCompletion))
	mux.Handle("POST "+PathToken, limited("token", h.ServeToken))
	mux.Handle("POST "+PathIntrospect, limited("introspect", h.ServeTokenIntrospection))
	mux.Handle("GET "+PathUserInfo, limited("userinfo", h.ServeUserInfo))
	mux.Handle("POST "+PathUserInfo, limited("userinfo", h.ServeUserInfo))
	mux.Handle("GET "+PathAuthorizationServerMetadata, limited("metadata", h.ServeAuthorizationServerMetadata))
	mux.Handle("GET "+PathHealth, h.instrument("healthz", http.HandlerFunc(h.ServeHealth)))
}

// Routes returns a handler serving the bridge endpoints with request IDs
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records a span and request metrics for endpoint
func (h *Handler) instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "http."+endpoint)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
		if id := security.GetRequestID(ctx); id != "" {
			span.SetAttributes(attribute.String(instrumentation.AttrHTTPRequestID, id))
		}
		h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, rec.status,
			float64(time.Since(start).Microseconds())/1000)
	})
}

// RateLimit is middleware applying the fixed-window limit per client IP.
// Rejected requests get 429 rate_limit_exceeded with Retry-After.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)

		decision := h.rateLimiter.Check(r.Context(), clientIP)
		if !decision.Allowed {
			h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
			h.server.Auditor.LogRateLimitExceeded(r.Context(), clientIP, clientIP)
			w.Header().Set("Retry-After", strconv.Itoa(security.RetryAfterSeconds(decision.RetryAfter)))
			h.writeError(w, ErrRateLimitExceeded("Too many requests. Please try again later."))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		next.ServeHTTP(w, r)
	})
}

// ValidateToken is middleware that accepts a bearer token issued by the
// bridge and hands the caller's identity to next via the request context.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)
		ctx := server.WithClientIP(r.Context(), clientIP)

		token, ok := bearerToken(r)
		if !ok {
			h.writeError(w, ErrInvalidToken("missing bearer token"))
			return
		}

		id, err := h.server.ValidateToken(ctx, token)
		if err != nil {
			oauthErr := server.AsError(err)
			h.logger.Warn("Token validation failed", "ip", clientIP, "error", oauthErr.Code)
			h.writeError(w, oauthErr)
			return
		}

		next.ServeHTTP(w, r.WithContext(server.ContextWithIdentity(r.Context(), id)))
	})
}

// ServeAuthorization handles GET /authorize. On success the user is either
// redirected to the legacy authorization page or shown the waiting page,
// depending on the configured handoff mode.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	ctx := server.WithClientIP(r.Context(), clientIP)

	q := r.URL.Query()
	req := &server.AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	handoff, err := h.server.StartAuthorization(ctx, req)
	if err != nil {
		oauthErr := server.AsError(err)
		h.logger.Warn("Authorization request rejected",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code,
			"description", oauthErr.Description)
		h.writeError(w, oauthErr)
		return
	}

	if handoff.Mode == server.HandoffRedirect {
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		http.Redirect(w, r, handoff.AuthURL, http.StatusFound)
		return
	}
	h.renderWaiting(w, handoff)
}

// ServeCompletion handles the user's completion signal: the waiting page's
// form post, or the legacy site's redirect carrying frob.
func (h *Handler) ServeCompletion(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	ctx := server.WithClientIP(r.Context(), clientIP)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderInvalidCompletion(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	c, err := h.server.CompleteAuthorization(ctx, r.Form.Get("frob"))
	if err != nil {
		h.renderInvalidCompletion(w, server.AsError(err))
		return
	}

	switch c.State {
	case server.StateCodeIssued:
		if isCustomURLScheme(c.RedirectURL) {
			h.renderSuccess(w, c)
			return
		}
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		http.Redirect(w, r, c.RedirectURL, http.StatusFound)
	case server.StateExpired:
		h.renderExpired(w, c)
	default:
		h.renderError(w, c)
	}
}

// ServeToken handles POST /token
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	ctx := server.WithClientIP(r.Context(), clientIP)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	}

	basicID, basicSecret, usedBasic := parseBasicAuth(r)
	if usedBasic {
		if req.ClientID != "" && req.ClientID != basicID {
			h.writeError(w, ErrInvalidRequest("client_id in body does not match the Authorization header"))
			return
		}
		req.ClientID = basicID
		req.ClientSecret = basicSecret
	}

	token, scope, err := h.server.ExchangeAuthorizationCode(ctx, req)
	if err != nil {
		oauthErr := server.AsError(err)
		h.logger.Warn("Token request rejected",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code)
		if oauthErr.Code == ErrorCodeInvalidClient && usedBasic {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, h.realm()))
		}
		h.writeError(w, oauthErr)
		return
	}

	h.writeTokenResponse(w, token, scope)
}

// ServeTokenIntrospection handles POST /introspect (RFC 7662). The token is
// read from the form or, failing that, from a bearer header. Unknown,
// malformed and missing tokens all report {"active":false} with 200.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	ctx := server.WithClientIP(r.Context(), clientIP)

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.Debug("Introspection body unreadable", "ip", clientIP, "error", err)
	}

	token := r.PostForm.Get("token")
	if token == "" {
		token, _ = bearerToken(r)
	}

	h.writeJSON(w, http.StatusOK, h.server.Introspect(ctx, token))
}

// ServeUserInfo handles GET|POST /userinfo
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP(r)
	ctx := server.WithClientIP(r.Context(), clientIP)

	token, ok := bearerToken(r)
	if !ok {
		h.writeError(w, ErrInvalidToken("missing bearer token"))
		return
	}

	info, err := h.server.UserInfo(ctx, token)
	if err != nil {
		h.writeError(w, server.AsError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.buildAuthServerMetadata())
}

func (h *Handler) buildAuthServerMetadata() *AuthorizationServerMetadata {
	return &AuthorizationServerMetadata{
		Issuer:                            h.server.Config.Issuer,
		AuthorizationEndpoint:             h.endpoint(PathAuthorize),
		TokenEndpoint:                     h.endpoint(PathToken),
		IntrospectionEndpoint:             h.endpoint(PathIntrospect),
		UserInfoEndpoint:                  h.endpoint(PathUserInfo),
		ScopesSupported:                   legacyPermissionLevels,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantTypeAuthorizationCode},
		TokenEndpointAuthMethodsSupported: SupportedTokenAuthMethods,
		CodeChallengeMethodsSupported:     []string{server.PKCEMethodS256, server.PKCEMethodPlain},
	}
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// endpoint returns the absolute URL of path under the issuer
func (h *Handler) endpoint(path string) string {
	return strings.TrimSuffix(h.server.Config.Issuer, "/") + path
}

func (h *Handler) realm() string {
	if h.server.Config.Issuer != "" {
		return h.server.Config.Issuer
	}
	return "mcp-frob-oauth"
}

func (h *Handler) clientIP(r *http.Request) string {
	if ip := h.server.Config.ClientIPConfig().ClientIP(r); ip != "" {
		return ip
	}
	return "unknown"
}

// parseBasicAuth returns client credentials from a Basic Authorization
// header, form-decoded per RFC 6749 section 2.3.1.
func parseBasicAuth(r *http.Request) (clientID, secret string, ok bool) {
	rawID, rawSecret, ok := r.BasicAuth()
	if !ok {
		return "", "", false
	}
	clientID, err := url.QueryUnescape(rawID)
	if err != nil {
		clientID = rawID
	}
	secret, err = url.QueryUnescape(rawSecret)
	if err != nil {
		secret = rawSecret
	}
	return clientID, secret, true
}

// bearerToken extracts the token from an "Authorization: Bearer" header
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, tokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope string) {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	h.writeJSON(w, http.StatusOK, &TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   token.ExpiresIn,
		Scope:       scope,
	})
}

// writeError renders an OAuth error as JSON. Descriptions are safe for
// clients; the internal cause is never written.
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *Error) {
	if oauthErr.Status == http.StatusUnauthorized && oauthErr.Code == ErrorCodeInvalidToken {
		w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(oauthErr.Code, oauthErr.Description))
	}
	h.writeJSON(w, oauthErr.Status, &ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// formatWWWAuthenticate builds an RFC 6750 bearer challenge
func (h *Handler) formatWWWAuthenticate(errCode, errorDesc string) string {
	escape := func(s string) string {
		return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	}
	return fmt.Sprintf(`%s realm="%s", error="%s", error_description="%s"`,
		tokenTypeBearer, escape(h.realm()), escape(errCode), escape(errorDesc))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("Failed to write response", "error", err)
	}
}
