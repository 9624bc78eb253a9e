package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeRateLimitExceeded    = "rate_limit_exceeded"
)

// Error is an OAuth 2.0 error. Description is safe to show to clients;
// Err carries the internal cause and is never serialized.
type Error struct {
	Code        string
	Description string
	Status      int
	Err         error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// AsError extracts an *Error from err. Errors of any other type are reported
// as server_error with a generic description.
func AsError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ErrServerError("internal server error", err)
}

// ErrInvalidRequest indicates the request is malformed or missing required parameters
func ErrInvalidRequest(desc string) *Error {
	return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidGrant indicates the authorization code is unknown, used or expired
func ErrInvalidGrant(desc string) *Error {
	return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// ErrInvalidClient indicates client identification or authentication failed
func ErrInvalidClient(desc string) *Error {
	return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// ErrInvalidToken indicates the bearer token is unknown or expired
func ErrInvalidToken(desc string) *Error {
	return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
}

// ErrUnsupportedGrantType indicates the grant type is not supported
func ErrUnsupportedGrantType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// ErrRateLimitExceeded indicates the caller exceeded its request budget
func ErrRateLimitExceeded(desc string) *Error {
	return NewError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
}

// ErrServerError wraps a legacy API or store failure
func ErrServerError(desc string, cause error) *Error {
	e := NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	e.Err = cause
	return e
}
