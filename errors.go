package oauth

import "github.com/giantswarm/mcp-frob-oauth/server"

// OAuth error codes
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeRateLimitExceeded    = server.ErrorCodeRateLimitExceeded
)

// Error is an OAuth 2.0 error with the HTTP status it is served with
type Error = server.Error

// Common OAuth errors
var (
	ErrInvalidRequest       = server.ErrInvalidRequest
	ErrInvalidGrant         = server.ErrInvalidGrant
	ErrInvalidClient        = server.ErrInvalidClient
	ErrInvalidToken         = server.ErrInvalidToken
	ErrUnsupportedGrantType = server.ErrUnsupportedGrantType
	ErrRateLimitExceeded    = server.ErrRateLimitExceeded
	ErrServerError          = server.ErrServerError
)
