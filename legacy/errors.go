package legacy

import (
	"errors"
	"fmt"
)

// Legacy API error codes that the bridge handles explicitly.
const (
	ErrCodeInvalidSignature = "96"
	ErrCodeMissingSignature = "97"
	ErrCodeLoginFailed      = "98"
	ErrCodeInvalidAPIKey    = "100"
	ErrCodeInvalidFrob      = "101"
)

// APIError is the error object returned by the legacy API in a failed
// response envelope.
type APIError struct {
	Code    string
	Message string
	Method  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("legacy api %s failed: %s (code %s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("legacy api error: %s (code %s)", e.Message, e.Code)
}

// IsAuthError reports whether the error is an authentication failure
// (bad signature, bad key, bad frob or bad token).
func (e *APIError) IsAuthError() bool {
	switch e.Code {
	case ErrCodeInvalidSignature, ErrCodeMissingSignature, ErrCodeLoginFailed,
		ErrCodeInvalidAPIKey, ErrCodeInvalidFrob:
		return true
	}
	return false
}

// AsAPIError extracts an *APIError from err, if any.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsFrobNotAuthorized reports whether err means the user has not (yet)
// authorized the frob on the legacy side.
func IsFrobNotAuthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == ErrCodeInvalidFrob
}
