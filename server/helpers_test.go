package server

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/internal/testutil"
	"github.com/giantswarm/mcp-frob-oauth/storage"
	"github.com/giantswarm/mcp-frob-oauth/storage/memory"
)

const testRedirectURI = "https://client.example/cb"

type testEnv struct {
	srv      *Server
	fake     *testutil.FakeLegacyAPI
	kv       *memory.Store
	sessions *storage.SessionStore
	clock    *testutil.MockTime
}

func newTestEnv(t *testing.T, config *Config) *testEnv {
	t.Helper()

	fake := testutil.NewFakeLegacyAPI(t)

	kv := memory.New()
	t.Cleanup(kv.Stop)

	sessions, err := storage.NewSessionStore(kv, storage.SessionStoreConfig{Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("NewSessionStore() error = %v", err)
	}

	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		config.Issuer = "https://bridge.example.com"
	}

	srv, err := New(fake.Client(t), sessions, config, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	clock := testutil.NewMockTime(time.Now())
	srv.SetClock(clock.Now)

	return &testEnv{srv: srv, fake: fake, kv: kv, sessions: sessions, clock: clock}
}

func defaultAuthRequest() *AuthorizationRequest {
	return &AuthorizationRequest{
		ResponseType: ResponseTypeCode,
		RedirectURI:  testRedirectURI,
		State:        "xyz",
	}
}

// issueCode runs the authorization flow through CODE_ISSUED and returns the
// minted code.
func (e *testEnv) issueCode(t *testing.T, req *AuthorizationRequest) string {
	t.Helper()
	ctx := context.Background()

	handoff, err := e.srv.StartAuthorization(ctx, req)
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	e.fake.Authorize(handoff.Frob)

	completion, err := e.srv.CompleteAuthorization(ctx, handoff.Frob)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if completion.State != StateCodeIssued {
		t.Fatalf("CompleteAuthorization() state = %s, want %s (err %v)", completion.State, StateCodeIssued, completion.Err)
	}

	u, err := url.Parse(completion.RedirectURL)
	if err != nil {
		t.Fatalf("invalid redirect URL %q: %v", completion.RedirectURL, err)
	}
	return u.Query().Get("code")
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	oauthErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if oauthErr.Code != code {
		t.Errorf("error code = %q, want %q (%s)", oauthErr.Code, code, oauthErr.Description)
	}
}
