package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		err    *Error
		code   string
		status int
	}{
		{ErrInvalidRequest("d"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{ErrInvalidGrant("d"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{ErrInvalidClient("d"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{ErrInvalidToken("d"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{ErrUnsupportedGrantType("d"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{ErrRateLimitExceeded("d"), ErrorCodeRateLimitExceeded, http.StatusTooManyRequests},
		{ErrServerError("d", nil), ErrorCodeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if tt.err.Description != "d" {
				t.Errorf("Description = %q, want d", tt.err.Description)
			}
		})
	}
}

func TestAsError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrInvalidGrant("used"))
	if got := AsError(wrapped); got.Code != ErrorCodeInvalidGrant {
		t.Errorf("AsError(wrapped).Code = %q, want %q", got.Code, ErrorCodeInvalidGrant)
	}

	cause := errors.New("redis down")
	got := AsError(cause)
	if got.Code != ErrorCodeServerError {
		t.Errorf("AsError(plain).Code = %q, want %q", got.Code, ErrorCodeServerError)
	}
	if !errors.Is(got, cause) {
		t.Error("server_error should wrap the cause")
	}
	if got.Description == cause.Error() {
		t.Error("description must not expose the internal cause")
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}

	id := &Identity{UserID: "u1", LegacyToken: "tok"}
	got, ok := IdentityFromContext(ContextWithIdentity(context.Background(), id))
	if !ok || got != id {
		t.Errorf("IdentityFromContext() = %v, %v", got, ok)
	}

	if got, ok := IdentityFromContext(ContextWithIdentity(context.Background(), nil)); ok {
		t.Errorf("nil identity should not be reported, got %v", got)
	}

	if ip := clientIPFromContext(WithClientIP(context.Background(), "192.0.2.1")); ip != "192.0.2.1" {
		t.Errorf("clientIPFromContext() = %q, want 192.0.2.1", ip)
	}
}
