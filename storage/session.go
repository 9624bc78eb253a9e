package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
)

const (
	// DefaultKeyPrefix is the default prefix for all keys
	DefaultKeyPrefix = "frob:"

	// tokenIDLogLength is the number of characters to include when logging identifiers
	tokenIDLogLength = 8

	// MaxKeyMaterialLength bounds caller-supplied identifiers used to build keys (512 bytes)
	MaxKeyMaterialLength = 512
)

// ErrInvalidKey is returned when an identifier is empty or too long to be a key.
var ErrInvalidKey = errors.New("invalid key")

// SessionStoreConfig holds configuration for the typed session store.
type SessionStoreConfig struct {
	// KeyPrefix is the prefix for all keys (default "frob:")
	KeyPrefix string

	// Cipher optionally encrypts legacy tokens at rest
	Cipher Cipher

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// SessionStore gives typed access to the bridge's ephemeral state on top of a
// KV backend.
//
// Key schema:
//
//	{prefix}handoff:{frob}           -> JSON(PendingHandoff)
//	{prefix}code:{code}              -> JSON(AuthorizationCode)
//	{prefix}token:{sha256(token)}    -> JSON(IssuedTokenRecord)
//	{prefix}ratelimit:{clientKey}    -> JSON(RateLimitCounter)
type SessionStore struct {
	kv              KV
	prefix          string
	cipher          Cipher
	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
}

// NewSessionStore creates a typed session store backed by kv.
func NewSessionStore(kv KV, cfg SessionStoreConfig) (*SessionStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv backend is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionStore{
		kv:     kv,
		prefix: prefix,
		cipher: cfg.Cipher,
		logger: logger,
	}, nil
}

// SetInstrumentation enables storage operation metrics.
func (s *SessionStore) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// SupportsAtomicConsume reports whether code redemption is atomic on this backend.
func (s *SessionStore) SupportsAtomicConsume() bool {
	_, ok := s.kv.(Taker)
	return ok
}

// ============================================================
// Pending handoffs
// ============================================================

// SavePendingHandoff persists a handoff keyed by its frob.
func (s *SessionStore) SavePendingHandoff(ctx context.Context, h *PendingHandoff, ttl time.Duration) error {
	if h == nil {
		return fmt.Errorf("invalid pending handoff")
	}
	key, err := s.handoffKey(h.Frob)
	if err != nil {
		return err
	}
	if err := s.putJSON(ctx, "save_handoff", key, h, ttl); err != nil {
		return fmt.Errorf("failed to save pending handoff: %w", err)
	}

	s.logger.Debug("Saved pending handoff",
		"frob_prefix", safeTruncate(h.Frob, tokenIDLogLength),
		"client_id", h.ClientID)
	return nil
}

// GetPendingHandoff retrieves a handoff by frob. Returns ErrNotFound when absent.
func (s *SessionStore) GetPendingHandoff(ctx context.Context, frob string) (*PendingHandoff, error) {
	key, err := s.handoffKey(frob)
	if err != nil {
		return nil, err
	}
	var h PendingHandoff
	if err := s.getJSON(ctx, "get_handoff", key, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// DeletePendingHandoff removes a handoff.
func (s *SessionStore) DeletePendingHandoff(ctx context.Context, frob string) error {
	key, err := s.handoffKey(frob)
	if err != nil {
		return err
	}
	return s.delete(ctx, "delete_handoff", key)
}

// ============================================================
// Authorization codes
// ============================================================

// SaveAuthorizationCode persists an issued authorization code.
func (s *SessionStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode, ttl time.Duration) error {
	if code == nil {
		return fmt.Errorf("invalid authorization code")
	}
	key, err := s.codeKey(code.Code)
	if err != nil {
		return err
	}

	stored := *code
	if stored.LegacyToken, err = s.encrypt(code.LegacyToken); err != nil {
		return err
	}

	if err := s.putJSON(ctx, "save_code", key, &stored, ttl); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// ConsumeAuthorizationCode reads and deletes an authorization code.
//
// On backends implementing Taker the read and delete are a single atomic
// operation, so a code is redeemable exactly once. On other backends this is
// a best-effort get-then-delete: two racing callers may both observe the code
// before either delete lands. The code is only returned once its delete has
// succeeded.
func (s *SessionStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	key, err := s.codeKey(code)
	if err != nil {
		return nil, err
	}

	var data []byte
	if taker, ok := s.kv.(Taker); ok {
		start := time.Now()
		data, err = taker.Take(ctx, key)
		s.recordOperation(ctx, "consume_code", err, start)
		if err != nil {
			return nil, s.wrapReadErr(err)
		}
	} else {
		start := time.Now()
		data, err = s.kv.Get(ctx, key)
		s.recordOperation(ctx, "consume_code", err, start)
		if err != nil {
			return nil, s.wrapReadErr(err)
		}
		if err := s.delete(ctx, "consume_code_delete", key); err != nil {
			return nil, fmt.Errorf("failed to delete consumed authorization code: %w", err)
		}
	}

	var ac AuthorizationCode
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	if ac.LegacyToken, err = s.decrypt(ac.LegacyToken); err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", safeTruncate(code, tokenIDLogLength))
	return &ac, nil
}

// ============================================================
// Issued token records
// ============================================================

// SaveTokenRecord persists an issued token record keyed by a digest of its
// legacy token. A ttl of zero stores it without expiry.
func (s *SessionStore) SaveTokenRecord(ctx context.Context, rec *IssuedTokenRecord, ttl time.Duration) error {
	if rec == nil {
		return fmt.Errorf("invalid token record")
	}
	key, err := s.tokenKey(rec.LegacyToken)
	if err != nil {
		return err
	}

	stored := *rec
	if stored.LegacyToken, err = s.encrypt(rec.LegacyToken); err != nil {
		return err
	}

	if err := s.putJSON(ctx, "save_token", key, &stored, ttl); err != nil {
		return fmt.Errorf("failed to save token record: %w", err)
	}

	s.logger.Debug("Saved token record",
		"token_prefix", safeTruncate(rec.LegacyToken, tokenIDLogLength),
		"user_id", rec.UserID)
	return nil
}

// GetTokenRecord looks up a token record by the exact legacy token value.
// Returns ErrNotFound when absent.
func (s *SessionStore) GetTokenRecord(ctx context.Context, token string) (*IssuedTokenRecord, error) {
	key, err := s.tokenKey(token)
	if err != nil {
		return nil, err
	}

	var rec IssuedTokenRecord
	if err := s.getJSON(ctx, "get_token", key, &rec); err != nil {
		return nil, err
	}
	if rec.LegacyToken, err = s.decrypt(rec.LegacyToken); err != nil {
		return nil, err
	}

	// Guard against digest collisions or tampered records
	if rec.LegacyToken != token {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// ============================================================
// Rate limit counters
// ============================================================

// GetRateLimitCounter retrieves the counter for a client key. Returns
// ErrNotFound when no window is open.
func (s *SessionStore) GetRateLimitCounter(ctx context.Context, clientKey string) (*RateLimitCounter, error) {
	key, err := s.rateLimitKey(clientKey)
	if err != nil {
		return nil, err
	}
	var c RateLimitCounter
	if err := s.getJSON(ctx, "get_ratelimit", key, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveRateLimitCounter persists the counter for a client key.
func (s *SessionStore) SaveRateLimitCounter(ctx context.Context, c *RateLimitCounter, ttl time.Duration) error {
	if c == nil {
		return fmt.Errorf("invalid rate limit counter")
	}
	key, err := s.rateLimitKey(c.ClientKey)
	if err != nil {
		return err
	}
	if err := s.putJSON(ctx, "save_ratelimit", key, c, ttl); err != nil {
		return fmt.Errorf("failed to save rate limit counter: %w", err)
	}
	return nil
}

// ============================================================
// Helpers
// ============================================================

func (s *SessionStore) putJSON(ctx context.Context, op, key string, v any, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("negative ttl %s", ttl)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	start := time.Now()
	err = s.kv.Put(ctx, key, data, ttl)
	s.recordOperation(ctx, op, err, start)
	return err
}

func (s *SessionStore) getJSON(ctx context.Context, op, key string, v any) error {
	start := time.Now()
	data, err := s.kv.Get(ctx, key)
	s.recordOperation(ctx, op, err, start)
	if err != nil {
		return s.wrapReadErr(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", op, err)
	}
	return nil
}

func (s *SessionStore) delete(ctx context.Context, op, key string) error {
	start := time.Now()
	err := s.kv.Delete(ctx, key)
	s.recordOperation(ctx, op, err, start)
	return err
}

func (s *SessionStore) wrapReadErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("storage read failed: %w", err)
}

func (s *SessionStore) encrypt(v string) (string, error) {
	if s.cipher == nil || !s.cipher.IsEnabled() || v == "" {
		return v, nil
	}
	out, err := s.cipher.Encrypt(v)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt legacy token: %w", err)
	}
	return out, nil
}

func (s *SessionStore) decrypt(v string) (string, error) {
	if s.cipher == nil || !s.cipher.IsEnabled() || v == "" {
		return v, nil
	}
	out, err := s.cipher.Decrypt(v)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt legacy token: %w", err)
	}
	return out, nil
}

func (s *SessionStore) recordOperation(ctx context.Context, op string, err error, start time.Time) {
	if s.instrumentation == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	s.instrumentation.Metrics().RecordStorageOperation(ctx, op, result, durationMs)
}

func (s *SessionStore) buildKey(kind, id string) (string, error) {
	if id == "" || len(id) > MaxKeyMaterialLength {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, kind)
	}
	return s.prefix + kind + ":" + id, nil
}

// handoffKey returns the key for a pending handoff: {prefix}handoff:{frob}
func (s *SessionStore) handoffKey(frob string) (string, error) {
	return s.buildKey("handoff", frob)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *SessionStore) codeKey(code string) (string, error) {
	return s.buildKey("code", code)
}

// tokenKey returns the key for a token record: {prefix}token:{sha256(token)}
func (s *SessionStore) tokenKey(token string) (string, error) {
	if token == "" || len(token) > MaxKeyMaterialLength {
		return "", fmt.Errorf("%w: token", ErrInvalidKey)
	}
	sum := sha256.Sum256([]byte(token))
	return s.buildKey("token", hex.EncodeToString(sum[:]))
}

// rateLimitKey returns the key for a rate limit counter: {prefix}ratelimit:{clientKey}
func (s *SessionStore) rateLimitKey(clientKey string) (string, error) {
	return s.buildKey("ratelimit", clientKey)
}

// safeTruncate truncates s to n bytes for logging
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
