// Package redis provides a go-redis storage backend for the frob bridge.
//
// It is an alternative to the valkey package for deployments that already
// manage a go-redis UniversalClient (standalone, sentinel or cluster). Keys
// expire server-side and authorization codes are redeemed with GETDEL.
//
// Tests connect to REDIS_TEST_ADDR (default localhost:6379) and are skipped
// when no server is reachable.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// connectionVerifyTimeout is the timeout for initial connection verification
const connectionVerifyTimeout = 5 * time.Second

// Config holds configuration for a Redis backend created by New.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed storage.KV.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
	owned  bool
}

// Compile-time interface checks
var (
	_ storage.KV    = (*Store)(nil)
	_ storage.Taker = (*Store)(nil)
)

// New dials Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("Connected to Redis storage", "address", cfg.Address, "db", cfg.DB)

	return &Store{client: client, logger: logger, owned: true}, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client goredis.UniversalClient, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// Close closes the connection if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	s.logger.Info("Redis storage connection closed")
	return s.client.Close()
}

// Put stores value under key. A ttl of zero stores the key without expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("persist key: %w", err)
	}
	return nil
}

// Get returns the value stored under key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load key: %w", err)
	}
	return data, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

// Take atomically reads and deletes key using GETDEL.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("take key: %w", err)
	}
	return data, nil
}
