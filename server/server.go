package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/legacy"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// LegacyAPI is the part of the legacy client the bridge depends on.
type LegacyAPI interface {
	// GetFrob obtains a new one-time exchange identifier
	GetFrob(ctx context.Context) (string, error)

	// AuthURL returns the signed user authorization page for a frob
	AuthURL(frob string) string

	// GetToken exchanges an authorized frob for the permanent legacy token
	GetToken(ctx context.Context, frob string) (*legacy.Auth, error)
}

var _ LegacyAPI = (*legacy.Client)(nil)

// safeTruncate safely truncates a string to maxLen characters without panicking.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the bridge: the authorization state machine and the
// token service. It keeps no flow state of its own; everything lives in the
// session store so that any replica can serve any step.
type Server struct {
	legacy          LegacyAPI
	sessions        *storage.SessionStore
	clients         *ClientRegistry
	Auditor         *security.Auditor
	Logger          *slog.Logger
	Config          *Config
	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	clock           func() time.Time
}

// New creates a new bridge server
func New(legacyAPI LegacyAPI, sessions *storage.SessionStore, config *Config, logger *slog.Logger) (*Server, error) {
	if legacyAPI == nil {
		return nil, fmt.Errorf("legacy API client is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if config.DefaultScope == "" {
		if p, ok := legacyAPI.(interface{ Perms() string }); ok {
			config.DefaultScope = p.Perms()
		}
	}

	clients, err := NewClientRegistry(config.Clients)
	if err != nil {
		return nil, fmt.Errorf("invalid client registry: %w", err)
	}

	inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}

	srv := &Server{
		legacy:   legacyAPI,
		sessions: sessions,
		clients:  clients,
		Logger:   logger,
		Config:   config,
		Auditor:  security.NewAuditor(logger, false),
		clock:    time.Now,
	}
	srv.SetInstrumentation(inst)

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	if aud != nil {
		s.Auditor = aud
	}
}

// SetInstrumentation sets the metrics and tracing providers
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.Instrumentation = inst
	s.tracer = inst.Tracer("server")
}

// SetClock overrides the time source used for expiry checks
func (s *Server) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Sessions returns the session store
func (s *Server) Sessions() *storage.SessionStore {
	return s.sessions
}

// Clients returns the static client registry
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

func (s *Server) metrics() *instrumentation.Metrics {
	return s.Instrumentation.Metrics()
}

// generateCode mints an unguessable authorization code (256 bits, base64url)
func generateCode() string {
	return oauth2.GenerateVerifier()
}
