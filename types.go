package oauth

import "github.com/giantswarm/mcp-frob-oauth/server"

// ErrorResponse is the JSON body of every OAuth error the bridge returns
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// AuthorizationServerMetadata is served at
// /.well-known/oauth-authorization-server (RFC 8414). The bridge only
// supports the authorization code grant, so the lists are fixed apart from
// ScopesSupported.
type AuthorizationServerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`

	// ScopesSupported holds the legacy permission levels
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// TokenResponse is the body of a successful code exchange. AccessToken is
// the legacy auth token itself.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 introspection body
type IntrospectionResponse = server.Introspection

// UserInfoResponse holds the identity claims served at /userinfo
type UserInfoResponse = server.UserInfo
