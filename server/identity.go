package server

import "context"

type identityContextKey struct{}

type clientIPContextKey struct{}

// Identity is what downstream handlers receive once a bearer token has been
// accepted: the legacy credential and the user it belongs to.
type Identity struct {
	LegacyToken string
	UserID      string
	Username    string
	DisplayName string
	ClientID    string
	Scope       string
}

// ContextWithIdentity returns a copy of ctx carrying id
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity stored by the token validation
// middleware, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	return id, ok && id != nil
}

// WithClientIP records the caller's address for audit records
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
