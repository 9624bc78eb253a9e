package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// DefaultCleanupInterval is how often expired entries are swept
const DefaultCleanupInterval = time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is an in-memory storage.KV. Expired entries are hidden on read and
// swept by a background loop until Stop is called.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	// clock is overridable for tests
	clock func() time.Time

	// entriesCount mirrors len(entries) for lock-free metric collection
	entriesCount atomic.Int64

	instrumentation *instrumentation.Instrumentation

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.KV    = (*Store)(nil)
	_ storage.Taker = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		entries:         make(map[string]*entry),
		clock:           time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry decisions.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetInstrumentation registers a gauge reporting the number of stored entries.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.entriesCount.Store(int64(len(s.entries)))
	s.mu.Unlock()

	if inst != nil {
		if err := inst.RegisterStorageSizeCallback(func() int64 {
			return s.entriesCount.Load()
		}); err != nil {
			s.logger.Warn("Failed to register storage size callback", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Put stores a copy of value under key. A ttl of zero stores the key without expiry.
func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock().Add(ttl)
	}

	if _, exists := s.entries[key]; !exists {
		s.entriesCount.Add(1)
	}
	s.entries[key] = e
	return nil
}

// Get returns a copy of the value stored under key, or storage.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.clock()) {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.entriesCount.Add(-1)
	}
	return nil
}

// Take atomically reads and deletes key.
func (s *Store) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.entries, key)
	s.entriesCount.Add(-1)

	if e.expired(s.clock()) {
		return nil, storage.ErrNotFound
	}
	return e.value, nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cleaned := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			cleaned++
		}
	}
	s.entriesCount.Add(int64(-cleaned))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}
