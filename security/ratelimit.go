package security

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// Rate limiter defaults
const (
	DefaultRateLimit       = 60
	DefaultRateLimitWindow = time.Minute
)

// CounterStore persists fixed-window counters. storage.SessionStore satisfies it.
type CounterStore interface {
	GetRateLimitCounter(ctx context.Context, clientKey string) (*storage.RateLimitCounter, error)
	SaveRateLimitCounter(ctx context.Context, c *storage.RateLimitCounter, ttl time.Duration) error
}

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Limit is the number of requests admitted per window (default 60)
	Limit int

	// Window is the length of a window (default 1 minute)
	Window time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Clock is the time source (default time.Now)
	Clock func() time.Time
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool

	// Remaining is the number of requests left in the current window
	Remaining int

	// RetryAfter is how long a rejected client should wait
	RetryAfter time.Duration

	// FailedOpen is set when the counter could not be read and the request
	// was admitted anyway
	FailedOpen bool
}

// RateLimiter is a fixed-window limiter whose counters live in the shared
// store, so every replica sees the same windows.
//
// The read-then-write cycle is not atomic. Concurrent bursts may undercount
// and admit a few extra requests, but a client is never locked out by a
// counter it did not earn. A store failure while reading admits the request.
type RateLimiter struct {
	store           CounterStore
	limit           int
	window          time.Duration
	logger          *slog.Logger
	clock           func() time.Time
	instrumentation *instrumentation.Instrumentation
}

// NewRateLimiter creates a fixed-window rate limiter backed by store.
func NewRateLimiter(store CounterStore, cfg RateLimiterConfig) *RateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRateLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &RateLimiter{
		store:  store,
		limit:  cfg.Limit,
		window: cfg.Window,
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
}

// SetInstrumentation enables rate limiter metrics.
func (rl *RateLimiter) SetInstrumentation(inst *instrumentation.Instrumentation) {
	rl.instrumentation = inst
}

// Limit returns the number of requests admitted per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Admit reports whether a request from clientKey may proceed.
func (rl *RateLimiter) Admit(ctx context.Context, clientKey string) bool {
	return rl.Check(ctx, clientKey).Allowed
}

// Check applies the fixed-window policy for clientKey and records the request
// when it is admitted.
func (rl *RateLimiter) Check(ctx context.Context, clientKey string) Decision {
	now := rl.clock()

	counter, err := rl.store.GetRateLimitCounter(ctx, clientKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		counter = nil
	case err != nil:
		rl.logger.Warn("Rate limit counter unavailable, admitting request",
			"client_key", clientKey,
			"error", err)
		if rl.instrumentation != nil {
			rl.instrumentation.Metrics().RecordRateLimitFailOpen(ctx)
		}
		return Decision{Allowed: true, Remaining: rl.limit - 1, FailedOpen: true}
	}

	if counter == nil || now.After(counter.WindowResetAt) {
		counter = &storage.RateLimitCounter{
			ClientKey:     clientKey,
			Count:         1,
			WindowResetAt: now.Add(rl.window),
		}
		rl.save(ctx, counter, rl.window)
		return Decision{Allowed: true, Remaining: rl.limit - 1}
	}

	remainingWindow := counter.WindowResetAt.Sub(now)

	if counter.Count >= rl.limit {
		rl.logger.Debug("Rate limit exceeded",
			"client_key", clientKey,
			"count", counter.Count,
			"limit", rl.limit)
		if rl.instrumentation != nil {
			rl.instrumentation.Metrics().RecordRateLimitExceeded(ctx, "client")
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: remainingWindow}
	}

	counter.Count++
	rl.save(ctx, counter, remainingWindow)
	return Decision{Allowed: true, Remaining: rl.limit - counter.Count}
}

// save persists the counter. A failure is logged and otherwise ignored; the
// request has already been admitted.
func (rl *RateLimiter) save(ctx context.Context, c *storage.RateLimitCounter, ttl time.Duration) {
	// stores expire with millisecond precision and reject a zero TTL
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := rl.store.SaveRateLimitCounter(ctx, c, ttl); err != nil {
		rl.logger.Warn("Failed to persist rate limit counter",
			"client_key", c.ClientKey,
			"error", err)
	}
}

// RetryAfterSeconds renders a wait duration as a Retry-After header value,
// rounded up to at least one second.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
