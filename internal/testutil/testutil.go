package testutil

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// MockTime is a clock that only moves when told to. Its Now method can be
// passed anywhere a func() time.Time is accepted.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// GeneratePKCEPair returns an S256 challenge and the verifier it was derived
// from, generated the way OAuth clients built on x/oauth2 do it.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
