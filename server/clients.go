package server

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummySecretHash keeps Authenticate's timing similar for unknown clients
var dummySecretHash, _ = bcrypt.GenerateFromPassword([]byte("unknown-client"), bcrypt.MinCost)

// ClientConfig is a statically registered OAuth client.
type ClientConfig struct {
	// ID is the client_id
	ID string `yaml:"id"`

	// Name is shown on the bridge's pages
	Name string `yaml:"name"`

	// SecretHash is a bcrypt hash of the client secret. Empty means a public
	// client that does not authenticate at the token endpoint.
	SecretHash string `yaml:"secret_hash"`

	// RedirectURIs lists the exact redirect URIs the client may use
	RedirectURIs []string `yaml:"redirect_uris"`
}

// IsConfidential reports whether the client must present a secret
func (c ClientConfig) IsConfidential() bool {
	return c.SecretHash != ""
}

// AllowsRedirectURI reports whether uri is registered for the client
func (c ClientConfig) AllowsRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ClientRegistry is an immutable lookup table of registered clients.
type ClientRegistry struct {
	clients map[string]ClientConfig
}

// NewClientRegistry validates and indexes clients.
func NewClientRegistry(clients []ClientConfig) (*ClientRegistry, error) {
	r := &ClientRegistry{clients: make(map[string]ClientConfig, len(clients))}
	for i, c := range clients {
		if c.ID == "" {
			return nil, fmt.Errorf("client %d: id is required", i)
		}
		if _, dup := r.clients[c.ID]; dup {
			return nil, fmt.Errorf("client %q: duplicate id", c.ID)
		}
		if len(c.RedirectURIs) == 0 {
			return nil, fmt.Errorf("client %q: at least one redirect URI is required", c.ID)
		}
		if c.SecretHash != "" {
			if _, err := bcrypt.Cost([]byte(c.SecretHash)); err != nil {
				return nil, fmt.Errorf("client %q: secret_hash is not a bcrypt hash: %w", c.ID, err)
			}
		}
		r.clients[c.ID] = c
	}
	return r, nil
}

// Len returns the number of registered clients
func (r *ClientRegistry) Len() int {
	return len(r.clients)
}

// Lookup returns the registered client with the given ID
func (r *ClientRegistry) Lookup(clientID string) (ClientConfig, bool) {
	c, ok := r.clients[clientID]
	return c, ok
}

// Authenticate checks secret against the client's bcrypt hash. Public
// clients authenticate without a secret.
func (r *ClientRegistry) Authenticate(clientID, secret string) error {
	c, ok := r.clients[clientID]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummySecretHash, []byte(secret))
		return fmt.Errorf("unknown client")
	}
	if !c.IsConfidential() {
		return nil
	}
	if secret == "" {
		return fmt.Errorf("client secret is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)); err != nil {
		return fmt.Errorf("invalid client secret")
	}
	return nil
}

// HashClientSecret returns the bcrypt hash to place in ClientConfig.SecretHash
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}
