package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/giantswarm/mcp-frob-oauth/legacy"
)

// Fake legacy API credentials
const (
	FakeAPIKey       = "test-api-key"
	FakeSharedSecret = "test-shared-secret"
)

type fakeFrob struct {
	authorized bool
	exchanged  bool
}

// FakeLegacyAPI is an httptest-backed fake of the legacy task API. It verifies
// request signatures the same way the real API does and implements the
// desktop authentication flow (getFrob, the auth page, getToken, checkToken).
type FakeLegacyAPI struct {
	Server *httptest.Server

	// User is the identity returned for every issued token
	User legacy.User

	// AutoAuthorize marks every frob as authorized when it is issued
	AutoAuthorize bool

	mu     sync.Mutex
	frobs  map[string]*fakeFrob
	tokens map[string]legacy.User
	calls  map[string]int
	fail   map[string]*legacy.APIError
}

// NewFakeLegacyAPI starts a fake legacy API that is closed on test cleanup.
func NewFakeLegacyAPI(t *testing.T) *FakeLegacyAPI {
	t.Helper()

	f := &FakeLegacyAPI{
		User: legacy.User{
			ID:       "987654",
			Username: "bob",
			FullName: "Bob T. Monkey",
		},
		frobs:  make(map[string]*fakeFrob),
		tokens: make(map[string]legacy.User),
		calls:  make(map[string]int),
		fail:   make(map[string]*legacy.APIError),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/services/rest/", f.serveREST)
	mux.HandleFunc("/services/auth/", f.serveAuth)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// Endpoint returns the fake REST endpoint
func (f *FakeLegacyAPI) Endpoint() string {
	return f.Server.URL + "/services/rest/"
}

// AuthURL returns the fake user authorization page
func (f *FakeLegacyAPI) AuthURL() string {
	return f.Server.URL + "/services/auth/"
}

// Config returns a legacy client config pointing at the fake, with outbound
// pacing disabled.
func (f *FakeLegacyAPI) Config() *legacy.Config {
	return &legacy.Config{
		APIKey:            FakeAPIKey,
		SharedSecret:      FakeSharedSecret,
		Endpoint:          f.Endpoint(),
		AuthURL:           f.AuthURL(),
		RequestsPerSecond: -1,
	}
}

// Client returns a legacy client wired to the fake.
func (f *FakeLegacyAPI) Client(t *testing.T) *legacy.Client {
	t.Helper()
	c, err := legacy.NewClient(f.Config())
	if err != nil {
		t.Fatalf("failed to create legacy client: %v", err)
	}
	return c
}

// Authorize simulates the user granting access for a frob on the legacy site.
func (f *FakeLegacyAPI) Authorize(frob string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fr, ok := f.frobs[frob]; ok {
		fr.authorized = true
	}
}

// FailNext makes the next call to method fail with the given API error.
func (f *FakeLegacyAPI) FailNext(method, code, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = &legacy.APIError{Code: code, Message: msg}
}

// Calls returns how many times method was called.
func (f *FakeLegacyAPI) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeLegacyAPI) params(r *http.Request) map[string]string {
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	return params
}

func (f *FakeLegacyAPI) checkSignature(params map[string]string) *legacy.APIError {
	sig, ok := params[legacy.SignatureParam]
	if !ok || sig == "" {
		return &legacy.APIError{Code: legacy.ErrCodeMissingSignature, Message: "Missing signature"}
	}
	if !legacy.Verify(params, FakeSharedSecret, sig) {
		return &legacy.APIError{Code: legacy.ErrCodeInvalidSignature, Message: "Invalid signature"}
	}
	if params["api_key"] != FakeAPIKey {
		return &legacy.APIError{Code: legacy.ErrCodeInvalidAPIKey, Message: "Invalid API Key"}
	}
	return nil
}

func (f *FakeLegacyAPI) serveREST(w http.ResponseWriter, r *http.Request) {
	params := f.params(r)
	method := params["method"]

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++

	if apiErr := f.checkSignature(params); apiErr != nil {
		writeFail(w, apiErr)
		return
	}
	if apiErr, ok := f.fail[method]; ok {
		delete(f.fail, method)
		writeFail(w, apiErr)
		return
	}

	switch method {
	case legacy.MethodGetFrob:
		frob := uuid.NewString()
		f.frobs[frob] = &fakeFrob{authorized: f.AutoAuthorize}
		writeOK(w, map[string]any{"frob": frob})

	case legacy.MethodGetToken:
		fr, ok := f.frobs[params["frob"]]
		if !ok || !fr.authorized || fr.exchanged {
			writeFail(w, &legacy.APIError{Code: legacy.ErrCodeInvalidFrob, Message: "Invalid frob - did you authenticate?"})
			return
		}
		fr.exchanged = true
		token := uuid.NewString()
		f.tokens[token] = f.User
		writeOK(w, map[string]any{"auth": f.auth(token)})

	case legacy.MethodCheckToken:
		if _, ok := f.tokens[params["auth_token"]]; !ok {
			writeFail(w, &legacy.APIError{Code: legacy.ErrCodeLoginFailed, Message: "Login failed / Invalid auth token"})
			return
		}
		writeOK(w, map[string]any{"auth": f.auth(params["auth_token"])})

	default:
		writeFail(w, &legacy.APIError{Code: "112", Message: "Method \"" + method + "\" not found"})
	}
}

func (f *FakeLegacyAPI) auth(token string) map[string]any {
	return map[string]any{
		"token": token,
		"perms": "delete",
		"user": map[string]string{
			"id":       f.User.ID,
			"username": f.User.Username,
			"fullname": f.User.FullName,
		},
	}
}

// serveAuth plays the role of the user visiting the legacy authorization page
// and clicking "allow".
func (f *FakeLegacyAPI) serveAuth(w http.ResponseWriter, r *http.Request) {
	params := f.params(r)
	if apiErr := f.checkSignature(params); apiErr != nil {
		http.Error(w, apiErr.Message, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	fr, ok := f.frobs[params["frob"]]
	if ok {
		fr.authorized = true
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, "unknown frob", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("application authorized, you may return to it"))
}

func writeOK(w http.ResponseWriter, body map[string]any) {
	body["stat"] = "ok"
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"rsp": body})
}

func writeFail(w http.ResponseWriter, apiErr *legacy.APIError) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"rsp": map[string]any{
			"stat": "fail",
			"err":  map[string]string{"code": apiErr.Code, "msg": apiErr.Message},
		},
	})
}
