package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("not found")

// KV is the distributed key/value contract. A ttl of zero means the key does
// not expire. Implementations must return ErrNotFound from Get when the key
// is absent.
// All methods accept context.Context for tracing and cancellation.
type KV interface {
	// Put stores value under key with the given time-to-live
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value stored under key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Taker is implemented by backends that can atomically read and delete a key
// (GETDEL). Only one concurrent caller observes the value; every other caller
// gets ErrNotFound.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}

// Cipher encrypts sensitive fields at rest. security.Encryptor satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	IsEnabled() bool
}

// PendingHandoff is an authorization request waiting for the user to
// authorize the frob on the legacy site. It is keyed by the frob and never
// mutated.
type PendingHandoff struct {
	Frob                string    `json:"frob"`
	ClientID            string    `json:"client_id,omitempty"`
	RedirectURI         string    `json:"redirect_uri"`
	State               string    `json:"state,omitempty"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// AuthorizationCode binds a minted code to the legacy credential and the
// original client parameters. It is single use.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	LegacyToken         string    `json:"legacy_token"`
	UserID              string    `json:"user_id"`
	Username            string    `json:"username,omitempty"`
	UserDisplayName     string    `json:"user_display_name,omitempty"`
	ClientID            string    `json:"client_id,omitempty"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	IssuedAt            time.Time `json:"issued_at"`
}

// IssuedTokenRecord is the system of record for an issued bearer token. The
// legacy token is also the bearer credential.
type IssuedTokenRecord struct {
	LegacyToken     string    `json:"legacy_token"`
	UserID          string    `json:"user_id"`
	Username        string    `json:"username,omitempty"`
	UserDisplayName string    `json:"user_display_name,omitempty"`
	ClientID        string    `json:"client_id,omitempty"`
	Scope           string    `json:"scope,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RateLimitCounter is the fixed-window counter for one client key.
type RateLimitCounter struct {
	ClientKey     string    `json:"client_key"`
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}
