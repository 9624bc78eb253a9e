package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/legacy"
	"github.com/giantswarm/mcp-frob-oauth/storage"
)

func TestStartAuthorization_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *AuthorizationRequest)
	}{
		{"missing redirect_uri", func(r *AuthorizationRequest) { r.RedirectURI = "" }},
		{"missing response_type", func(r *AuthorizationRequest) { r.ResponseType = "" }},
		{"unsupported response_type", func(r *AuthorizationRequest) { r.ResponseType = "token" }},
		{"relative redirect_uri", func(r *AuthorizationRequest) { r.RedirectURI = "/cb" }},
		{"fragment in redirect_uri", func(r *AuthorizationRequest) { r.RedirectURI = "https://client.example/cb#frag" }},
		{"javascript redirect_uri", func(r *AuthorizationRequest) { r.RedirectURI = "javascript:alert(1)" }},
		{"plain http redirect on https bridge", func(r *AuthorizationRequest) { r.RedirectURI = "http://client.example/cb" }},
		{"unknown challenge method", func(r *AuthorizationRequest) {
			r.CodeChallenge = strings.Repeat("a", 43)
			r.CodeChallengeMethod = "S512"
		}},
		{"method without challenge", func(r *AuthorizationRequest) { r.CodeChallengeMethod = PKCEMethodS256 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := defaultAuthRequest()
			tt.modify(req)

			_, err := env.srv.StartAuthorization(context.Background(), req)
			assertErrorCode(t, err, ErrorCodeInvalidRequest)

			if calls := env.fake.Calls(legacy.MethodGetFrob); calls != 0 {
				t.Errorf("legacy getFrob called %d times, want 0", calls)
			}
			if n := env.kv.Len(); n != 0 {
				t.Errorf("store holds %d entries, want 0", n)
			}
		})
	}
}

func TestStartAuthorization_PersistsHandoff(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := defaultAuthRequest()
	req.ClientID = "client-a"
	req.Scope = "read"
	req.CodeChallenge = strings.Repeat("c", 43)
	req.CodeChallengeMethod = PKCEMethodS256

	handoff, err := env.srv.StartAuthorization(ctx, req)
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	if handoff.State != StateAwaitingUserAction {
		t.Errorf("State = %s, want %s", handoff.State, StateAwaitingUserAction)
	}
	if handoff.Mode != HandoffInterstitial {
		t.Errorf("Mode = %s, want %s", handoff.Mode, HandoffInterstitial)
	}
	if !strings.HasPrefix(handoff.AuthURL, env.fake.AuthURL()) {
		t.Errorf("AuthURL = %q, want prefix %q", handoff.AuthURL, env.fake.AuthURL())
	}
	authURL, _ := url.Parse(handoff.AuthURL)
	if authURL.Query().Get("frob") != handoff.Frob {
		t.Errorf("AuthURL frob = %q, want %q", authURL.Query().Get("frob"), handoff.Frob)
	}
	if authURL.Query().Get(legacy.SignatureParam) == "" {
		t.Error("AuthURL is not signed")
	}
	if want := env.clock.Now().Add(DefaultPendingHandoffTTL); !handoff.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", handoff.ExpiresAt, want)
	}

	stored, err := env.sessions.GetPendingHandoff(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("GetPendingHandoff() error = %v", err)
	}
	if stored.ClientID != "client-a" || stored.RedirectURI != testRedirectURI || stored.State != "xyz" {
		t.Errorf("stored handoff = %+v", stored)
	}
	if stored.CodeChallenge != req.CodeChallenge || stored.CodeChallengeMethod != PKCEMethodS256 {
		t.Errorf("stored PKCE = %q/%q", stored.CodeChallenge, stored.CodeChallengeMethod)
	}
}

func TestStartAuthorization_DefaultsChallengeMethodToPlain(t *testing.T) {
	env := newTestEnv(t, nil)
	req := defaultAuthRequest()
	req.CodeChallenge = strings.Repeat("p", 43)

	handoff, err := env.srv.StartAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	stored, _ := env.sessions.GetPendingHandoff(context.Background(), handoff.Frob)
	if stored.CodeChallengeMethod != PKCEMethodPlain {
		t.Errorf("CodeChallengeMethod = %q, want %q", stored.CodeChallengeMethod, PKCEMethodPlain)
	}
}

func TestStartAuthorization_LegacyFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.FailNext(legacy.MethodGetFrob, legacy.ErrCodeInvalidSignature, "Invalid signature")

	_, err := env.srv.StartAuthorization(context.Background(), defaultAuthRequest())
	assertErrorCode(t, err, ErrorCodeServerError)

	var apiErr *legacy.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error should wrap *legacy.APIError, got %v", err)
	}
	if apiErr.Code != legacy.ErrCodeInvalidSignature {
		t.Errorf("APIError.Code = %q, want %q", apiErr.Code, legacy.ErrCodeInvalidSignature)
	}
	if n := env.kv.Len(); n != 0 {
		t.Errorf("store holds %d entries, want 0", n)
	}
}

func TestStartAuthorization_ClientRegistry(t *testing.T) {
	clients := []ClientConfig{{ID: "registered", Name: "Registered App", RedirectURIs: []string{testRedirectURI}}}

	t.Run("registered redirect accepted", func(t *testing.T) {
		env := newTestEnv(t, &Config{Clients: clients})
		req := defaultAuthRequest()
		req.ClientID = "registered"
		handoff, err := env.srv.StartAuthorization(context.Background(), req)
		if err != nil {
			t.Fatalf("StartAuthorization() error = %v", err)
		}
		if handoff.ClientName != "Registered App" {
			t.Errorf("ClientName = %q, want %q", handoff.ClientName, "Registered App")
		}
	})

	t.Run("unregistered redirect rejected", func(t *testing.T) {
		env := newTestEnv(t, &Config{Clients: clients})
		req := defaultAuthRequest()
		req.ClientID = "registered"
		req.RedirectURI = "https://evil.example/cb"
		_, err := env.srv.StartAuthorization(context.Background(), req)
		assertErrorCode(t, err, ErrorCodeInvalidRequest)
	})

	t.Run("unknown client allowed by default", func(t *testing.T) {
		env := newTestEnv(t, &Config{Clients: clients})
		req := defaultAuthRequest()
		req.ClientID = "someone-else"
		if _, err := env.srv.StartAuthorization(context.Background(), req); err != nil {
			t.Fatalf("StartAuthorization() error = %v", err)
		}
	})

	t.Run("unknown client rejected when registration required", func(t *testing.T) {
		env := newTestEnv(t, &Config{Clients: clients, RequireRegisteredClients: true})
		req := defaultAuthRequest()
		req.ClientID = "someone-else"
		_, err := env.srv.StartAuthorization(context.Background(), req)
		assertErrorCode(t, err, ErrorCodeInvalidClient)
	})

	t.Run("missing client rejected when registration required", func(t *testing.T) {
		env := newTestEnv(t, &Config{Clients: clients, RequireRegisteredClients: true})
		_, err := env.srv.StartAuthorization(context.Background(), defaultAuthRequest())
		assertErrorCode(t, err, ErrorCodeInvalidRequest)
	})
}

func TestCompleteAuthorization_IssuesCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := defaultAuthRequest()
	req.RedirectURI = "https://client.example/cb?tenant=7"
	handoff, err := env.srv.StartAuthorization(ctx, req)
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	env.fake.Authorize(handoff.Frob)

	c, err := env.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if c.State != StateCodeIssued {
		t.Fatalf("State = %s, want %s (err %v)", c.State, StateCodeIssued, c.Err)
	}

	u, err := url.Parse(c.RedirectURL)
	if err != nil {
		t.Fatalf("invalid RedirectURL: %v", err)
	}
	if u.Scheme != "https" || u.Host != "client.example" || u.Path != "/cb" {
		t.Errorf("RedirectURL = %q, want https://client.example/cb", c.RedirectURL)
	}
	q := u.Query()
	if q.Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", q.Get("state"))
	}
	if q.Get("tenant") != "7" {
		t.Errorf("existing query parameter lost: %q", c.RedirectURL)
	}
	code := q.Get("code")
	if len(code) < 43 {
		t.Errorf("code %q is too short to be unguessable", code)
	}

	if _, err := env.sessions.GetPendingHandoff(ctx, handoff.Frob); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("handoff should be deleted after completion, got err = %v", err)
	}
}

func TestCompleteAuthorization_UnknownFrobExpires(t *testing.T) {
	env := newTestEnv(t, nil)

	c, err := env.srv.CompleteAuthorization(context.Background(), "never-issued")
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if c.State != StateExpired {
		t.Errorf("State = %s, want %s", c.State, StateExpired)
	}
	if c.RedirectURL != "" {
		t.Errorf("RedirectURL = %q, want empty", c.RedirectURL)
	}
	if env.fake.Calls(legacy.MethodGetToken) != 0 {
		t.Error("legacy getToken must not be called for an unknown frob")
	}
}

func TestCompleteAuthorization_HandoffOlderThanTTLExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	handoff, err := env.srv.StartAuthorization(ctx, defaultAuthRequest())
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	env.fake.Authorize(handoff.Frob)

	// the record is still in the store; only the bridge's clock has moved
	env.clock.Advance(DefaultPendingHandoffTTL + time.Second)

	c, err := env.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if c.State != StateExpired {
		t.Errorf("State = %s, want %s", c.State, StateExpired)
	}
	if env.fake.Calls(legacy.MethodGetToken) != 0 {
		t.Error("legacy getToken must not be called for an expired handoff")
	}
	if _, err := env.sessions.GetPendingHandoff(ctx, handoff.Frob); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired handoff should be deleted, got err = %v", err)
	}
}

func TestCompleteAuthorization_NotYetAuthorizedCanRetry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	handoff, err := env.srv.StartAuthorization(ctx, defaultAuthRequest())
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	c, err := env.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if c.State != StateError {
		t.Fatalf("State = %s, want %s", c.State, StateError)
	}
	if c.Reason != reasonNotAuthorized {
		t.Errorf("Reason = %q, want %q", c.Reason, reasonNotAuthorized)
	}
	if !legacy.IsFrobNotAuthorized(c.Err) {
		t.Errorf("Err = %v, want frob-not-authorized legacy error", c.Err)
	}
	if c.RedirectURI != testRedirectURI {
		t.Errorf("RedirectURI = %q, want %q", c.RedirectURI, testRedirectURI)
	}
	if c.AuthURL != handoff.AuthURL {
		t.Errorf("AuthURL = %q, want %q", c.AuthURL, handoff.AuthURL)
	}
	if c.Request == nil || c.Request.Query().Get("state") != "xyz" {
		t.Errorf("Request = %+v, want the original request with state xyz", c.Request)
	}

	if _, err := env.sessions.GetPendingHandoff(ctx, handoff.Frob); err != nil {
		t.Fatalf("handoff should survive an error, got %v", err)
	}

	env.fake.Authorize(handoff.Frob)
	c, err = env.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() retry error = %v", err)
	}
	if c.State != StateCodeIssued {
		t.Errorf("retry State = %s, want %s", c.State, StateCodeIssued)
	}
}

func TestCompleteAuthorization_LegacyErrorDoesNotLeak(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	handoff, _ := env.srv.StartAuthorization(ctx, defaultAuthRequest())
	env.fake.Authorize(handoff.Frob)
	env.fake.FailNext(legacy.MethodGetToken, "105", "Service currently unavailable")

	c, err := env.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if c.State != StateError {
		t.Fatalf("State = %s, want %s", c.State, StateError)
	}
	if c.Reason != reasonLegacyFailure {
		t.Errorf("Reason = %q, want %q", c.Reason, reasonLegacyFailure)
	}
	if strings.Contains(c.Reason, "105") {
		t.Error("Reason leaks legacy error details")
	}
}

func TestCompleteAuthorization_SecondCompletionExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	handoff, _ := env.srv.StartAuthorization(ctx, defaultAuthRequest())
	env.fake.Authorize(handoff.Frob)

	if c, _ := env.srv.CompleteAuthorization(ctx, handoff.Frob); c.State != StateCodeIssued {
		t.Fatalf("first completion State = %s", c.State)
	}
	c, err := env.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if c.State != StateExpired {
		t.Errorf("second completion State = %s, want %s", c.State, StateExpired)
	}
}

func TestCompleteAuthorization_InvalidInput(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.srv.CompleteAuthorization(context.Background(), "")
	assertErrorCode(t, err, ErrorCodeInvalidRequest)

	_, err = env.srv.CompleteAuthorization(context.Background(), strings.Repeat("f", maxFrobLength+1))
	assertErrorCode(t, err, ErrorCodeInvalidRequest)
}

func TestCompleteAuthorization_BindsLegacyIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := defaultAuthRequest()
	req.ClientID = "client-a"
	code := env.issueCode(t, req)

	stored, err := env.sessions.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if stored.UserID != env.fake.User.ID {
		t.Errorf("UserID = %q, want %q", stored.UserID, env.fake.User.ID)
	}
	if stored.UserDisplayName != env.fake.User.FullName {
		t.Errorf("UserDisplayName = %q, want %q", stored.UserDisplayName, env.fake.User.FullName)
	}
	if stored.Username != env.fake.User.Username {
		t.Errorf("Username = %q, want %q", stored.Username, env.fake.User.Username)
	}
	if stored.LegacyToken == "" {
		t.Error("LegacyToken should be bound to the code")
	}
	if stored.ClientID != "client-a" || stored.RedirectURI != testRedirectURI {
		t.Errorf("client binding = %q/%q", stored.ClientID, stored.RedirectURI)
	}
}

func TestBuildClientRedirect(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		state       string
		want        string
	}{
		{"no state", "https://client.example/cb", "", "https://client.example/cb?code=c1"},
		{"state kept verbatim", "https://client.example/cb", "a b&c=d", "https://client.example/cb?code=c1&state=a+b%26c%3Dd"},
		{"custom scheme", "myapp://callback", "s", "myapp://callback?code=c1&state=s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildClientRedirect(tt.redirectURI, "c1", tt.state)
			if err != nil {
				t.Fatalf("buildClientRedirect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("buildClientRedirect() = %q, want %q", got, tt.want)
			}
			u, _ := url.Parse(got)
			if u.Query().Get("state") != tt.state {
				t.Errorf("decoded state = %q, want %q", u.Query().Get("state"), tt.state)
			}
		})
	}
}
