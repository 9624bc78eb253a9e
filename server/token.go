package server

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// Code exchange results reported to metrics
const (
	exchangeResultSuccess       = "success"
	exchangeResultInvalidGrant  = "invalid_grant"
	exchangeResultInvalidClient = "invalid_client"
	exchangeResultError         = "error"
)

// Introspection is the RFC 7662 response body. An inactive token carries
// only Active.
type Introspection struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	Username  string `json:"username,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// UserInfo holds the minimal identity claims served at /userinfo
type UserInfo struct {
	Subject           string `json:"sub"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// ExchangeAuthorizationCode redeems a code for the bearer token it stands
// for. The code is consumed before any binding check, so a code presented
// with the wrong client or verifier is burned. Returns the token and the
// granted scope.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, error) {
	ctx, span := s.tracer.Start(ctx, "frob.exchange_authorization_code")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	token, scope, err := s.exchangeAuthorizationCode(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.metrics().RecordCodeExchange(ctx, req.ClientID, exchangeResult(err))
		return nil, "", err
	}

	instrumentation.AddFlowStateAttribute(span, string(StateRedeemed))
	instrumentation.SetSpanSuccess(span)
	s.metrics().RecordCodeExchange(ctx, req.ClientID, exchangeResultSuccess)
	return token, scope, nil
}

func (s *Server) exchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, error) {
	clientIP := clientIPFromContext(ctx)

	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	if err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret); err != nil {
		return nil, "", err
	}

	code, err := s.sessions.ConsumeAuthorizationCode(ctx, req.Code)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		s.Auditor.LogInvalidGrant(ctx, req.ClientID, clientIP, "unknown, used or expired code")
		return nil, "", ErrInvalidGrant("authorization code is invalid, expired or already used")
	}
	if err != nil {
		s.Logger.Error("Failed to consume authorization code",
			"code_prefix", safeTruncate(req.Code, 8),
			"error", err)
		return nil, "", ErrServerError("failed to redeem authorization code", err)
	}

	if security.IsExpired(code.IssuedAt, s.Config.AuthorizationCodeTTL, s.clock()) {
		s.Auditor.LogInvalidGrant(ctx, req.ClientID, clientIP, "expired code")
		return nil, "", ErrInvalidGrant("authorization code is invalid, expired or already used")
	}

	if err := s.checkCodeBinding(ctx, code, req); err != nil {
		return nil, "", err
	}

	now := s.clock()
	record := &storage.IssuedTokenRecord{
		LegacyToken:     code.LegacyToken,
		UserID:          code.UserID,
		Username:        code.Username,
		UserDisplayName: code.UserDisplayName,
		ClientID:        code.ClientID,
		Scope:           s.grantedScope(code.Scope),
		CreatedAt:       now,
	}
	if err := s.sessions.SaveTokenRecord(ctx, record, s.Config.TokenLifetime); err != nil {
		s.Logger.Error("Failed to save issued token record", "user_id", code.UserID, "error", err)
		return nil, "", ErrServerError("failed to issue token", err)
	}

	s.Auditor.LogTokenIssued(ctx, code.UserID, code.ClientID, clientIP, record.Scope)
	s.Logger.Info("Token issued",
		"client_id", code.ClientID,
		"token", security.Redact(code.LegacyToken))

	token := &oauth2.Token{
		AccessToken: code.LegacyToken,
		TokenType:   TokenTypeBearer,
		Expiry:      now.Add(s.Config.TokenLifetime),
		ExpiresIn:   int64(s.Config.TokenLifetime.Seconds()),
	}
	return token, record.Scope, nil
}

// authenticateClient checks the client against the registry. Unknown
// clients pass unless RequireRegisteredClients is set.
func (s *Server) authenticateClient(ctx context.Context, clientID, secret string) error {
	clientIP := clientIPFromContext(ctx)

	if _, ok := s.clients.Lookup(clientID); !ok {
		if s.Config.RequireRegisteredClients {
			s.Auditor.LogAuthFailure(ctx, "", clientID, clientIP, "unregistered client")
			return ErrInvalidClient("client authentication failed")
		}
		return nil
	}

	if err := s.clients.Authenticate(clientID, secret); err != nil {
		s.Auditor.LogAuthFailure(ctx, "", clientID, clientIP, err.Error())
		return ErrInvalidClient("client authentication failed")
	}
	return nil
}

// checkCodeBinding enforces that the code is redeemed by the client and
// redirect URI it was issued to, with a matching PKCE verifier.
func (s *Server) checkCodeBinding(ctx context.Context, code *storage.AuthorizationCode, req *TokenRequest) error {
	clientIP := clientIPFromContext(ctx)

	if code.ClientID != "" {
		mismatch := req.ClientID != "" && req.ClientID != code.ClientID
		bound, _ := s.clients.Lookup(code.ClientID)
		if mismatch || (req.ClientID == "" && bound.IsConfidential()) {
			s.Auditor.LogClientMismatch(ctx, code.UserID, code.ClientID, req.ClientID, clientIP)
			return ErrInvalidClient("client_id does not match the authorization request")
		}
	}

	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		s.Auditor.LogClientMismatch(ctx, code.UserID, code.ClientID, req.ClientID, clientIP)
		return ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if code.CodeChallenge == "" {
		return nil
	}
	if req.CodeVerifier == "" {
		if s.Config.RequirePKCE {
			s.metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			s.Auditor.LogInvalidPKCE(ctx, req.ClientID, clientIP, "missing code_verifier")
			return ErrInvalidGrant("code_verifier is required")
		}
		return nil
	}
	if err := verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier); err != nil {
		s.metrics().RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		s.Auditor.LogInvalidPKCE(ctx, req.ClientID, clientIP, err.Error())
		return ErrInvalidGrant("code_verifier is invalid")
	}
	return nil
}

func (s *Server) grantedScope(requested string) string {
	if requested != "" {
		return requested
	}
	return s.Config.DefaultScope
}

// Introspect reports whether token is an active bearer token. It never
// fails: unknown, malformed and expired tokens, as well as store errors, all
// report inactive.
func (s *Server) Introspect(ctx context.Context, token string) *Introspection {
	ctx, span := s.tracer.Start(ctx, "frob.introspect")
	defer span.End()

	record, err := s.lookupToken(ctx, token)
	s.metrics().RecordTokenValidation(ctx, err == nil)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			instrumentation.RecordError(span, err)
		}
		return &Introspection{Active: false}
	}

	instrumentation.AddOAuthFlowAttributes(span, record.ClientID, record.UserID, record.Scope)
	instrumentation.SetSpanSuccess(span)

	username := record.Username
	if username == "" {
		username = record.UserDisplayName
	}
	return &Introspection{
		Active:    true,
		Subject:   record.UserID,
		Username:  username,
		ClientID:  record.ClientID,
		Scope:     record.Scope,
		TokenType: TokenTypeBearer,
		IssuedAt:  record.CreatedAt.Unix(),
		ExpiresAt: record.CreatedAt.Add(s.Config.TokenLifetime).Unix(),
	}
}

// ValidateToken resolves a bearer token to the identity it was issued for.
func (s *Server) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	ctx, span := s.tracer.Start(ctx, "frob.validate_token")
	defer span.End()

	if token == "" {
		return nil, ErrInvalidToken("missing bearer token")
	}

	record, err := s.lookupToken(ctx, token)
	s.metrics().RecordTokenValidation(ctx, err == nil)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken("token is invalid or expired")
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		s.Logger.Error("Failed to look up token", "token", security.Redact(token), "error", err)
		return nil, ErrServerError("failed to validate token", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, record.ClientID, record.UserID, record.Scope)
	instrumentation.SetSpanSuccess(span)

	return &Identity{
		LegacyToken: record.LegacyToken,
		UserID:      record.UserID,
		Username:    record.Username,
		DisplayName: record.UserDisplayName,
		ClientID:    record.ClientID,
		Scope:       record.Scope,
	}, nil
}

// UserInfo returns the identity claims for a bearer token
func (s *Server) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	id, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	preferred := id.Username
	if preferred == "" {
		preferred = id.DisplayName
	}
	return &UserInfo{
		Subject:           id.UserID,
		Name:              id.DisplayName,
		PreferredUsername: preferred,
	}, nil
}

// lookupToken returns storage.ErrNotFound for unknown, malformed and
// expired tokens. Any other error is a store failure.
func (s *Server) lookupToken(ctx context.Context, token string) (*storage.IssuedTokenRecord, error) {
	if !isWellFormedToken(token) {
		return nil, storage.ErrNotFound
	}

	record, err := s.sessions.GetTokenRecord(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	if security.IsExpiredWithGracePeriod(record.CreatedAt, s.Config.TokenLifetime, s.clock(), s.Config.ClockSkewGracePeriod) {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

func isWellFormedToken(token string) bool {
	if token == "" || len(token) > storage.MaxKeyMaterialLength {
		return false
	}
	return !strings.ContainsFunc(token, func(r rune) bool {
		return r <= ' ' || r == 0x7f
	})
}

func exchangeResult(err error) string {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		return exchangeResultError
	}
	switch oauthErr.Code {
	case ErrorCodeInvalidGrant:
		return exchangeResultInvalidGrant
	case ErrorCodeInvalidClient:
		return exchangeResultInvalidClient
	default:
		return oauthErr.Code
	}
}
