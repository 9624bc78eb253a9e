package oauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/mcp-frob-oauth/server"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

// Server is the bridge's authorization state machine and token service
type Server = server.Server

// Identity is the authenticated caller handed to protected handlers
type Identity = server.Identity

// IdentityFromContext returns the identity stored by Handler.ValidateToken
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	return server.IdentityFromContext(ctx)
}

// NewServer creates a bridge server whose state lives in kv under the
// default key prefix.
func NewServer(legacyAPI server.LegacyAPI, kv storage.KV, config *server.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := storage.NewSessionStore(kv, storage.SessionStoreConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	return server.New(legacyAPI, sessions, config, logger)
}
