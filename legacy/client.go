package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Default legacy API endpoints
const (
	DefaultEndpoint = "https://api.rememberthemilk.com/services/rest/"
	DefaultAuthURL  = "https://www.rememberthemilk.com/services/auth/"
)

// Legacy API methods used by the bridge
const (
	MethodGetFrob    = "rtm.auth.getFrob"
	MethodGetToken   = "rtm.auth.getToken"
	MethodCheckToken = "rtm.auth.checkToken"
)

const (
	defaultPerms          = "delete"
	defaultRequestTimeout = 30 * time.Second

	// the legacy API allows an average of one request per second per key
	defaultRequestsPerSecond = 1
	defaultBurst             = 3

	// maxResponseSize bounds the body read from the legacy API (1MB)
	maxResponseSize = 1 << 20

	statusOK   = "ok"
	statusFail = "fail"
)

// ErrMissingFrob is returned when the legacy API answers getFrob without a frob.
var ErrMissingFrob = errors.New("legacy api returned no frob")

// Config holds legacy API client configuration.
type Config struct {
	// APIKey is the application's legacy API key (required)
	APIKey string

	// SharedSecret is the application's shared signing secret (required)
	SharedSecret string

	// Endpoint is the REST endpoint (default: DefaultEndpoint)
	Endpoint string

	// AuthURL is the user-facing authorization page (default: DefaultAuthURL)
	AuthURL string

	// Perms is the permission level requested from the user: read, write or delete (default: delete)
	Perms string

	// HTTPClient is an optional custom HTTP client
	HTTPClient *http.Client

	// RequestTimeout is the timeout for a single legacy API call (default: 30s)
	RequestTimeout time.Duration

	// RequestsPerSecond paces outbound calls (default: 1). Negative disables pacing.
	RequestsPerSecond float64

	// Burst is the outbound pacing burst (default: 3)
	Burst int
}

// User is the legacy user identity attached to an auth token.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullname"`
}

// DisplayName returns the user's full name, falling back to the username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// Auth is the result of a successful getToken or checkToken call.
type Auth struct {
	Token string `json:"token"`
	Perms string `json:"perms"`
	User  User   `json:"user"`
}

// Client performs signed calls against the legacy API.
type Client struct {
	apiKey         string
	sharedSecret   string
	endpoint       string
	authURL        string
	perms          string
	httpClient     *http.Client
	requestTimeout time.Duration
	limiter        *rate.Limiter
}

// NewClient creates a new legacy API client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	for _, raw := range []string{endpoint, authURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid legacy api url %q", raw)
		}
	}

	perms := cfg.Perms
	if perms == "" {
		perms = defaultPerms
	}
	switch perms {
	case "read", "write", "delete":
	default:
		return nil, fmt.Errorf("invalid perms %q (must be read, write or delete)", perms)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	var limiter *rate.Limiter
	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = defaultRequestsPerSecond
	}
	if rps > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = defaultBurst
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		apiKey:         cfg.APIKey,
		sharedSecret:   cfg.SharedSecret,
		endpoint:       endpoint,
		authURL:        authURL,
		perms:          perms,
		httpClient:     httpClient,
		requestTimeout: timeout,
		limiter:        limiter,
	}, nil
}

// Perms returns the permission level the client requests.
func (c *Client) Perms() string {
	return c.perms
}

// GetFrob obtains a new one-time exchange identifier.
func (c *Client) GetFrob(ctx context.Context) (string, error) {
	var rsp struct {
		Frob string `json:"frob"`
	}
	if err := c.Call(ctx, MethodGetFrob, nil, &rsp); err != nil {
		return "", err
	}
	if rsp.Frob == "" {
		return "", ErrMissingFrob
	}
	return rsp.Frob, nil
}

// AuthURL returns the signed legacy authorization page URL for a frob.
func (c *Client) AuthURL(frob string) string {
	params := map[string]string{
		"api_key": c.apiKey,
		"perms":   c.perms,
		"frob":    frob,
	}
	return c.authURL + "?" + c.signedValues(params).Encode()
}

// GetToken exchanges an authorized frob for a permanent auth token.
func (c *Client) GetToken(ctx context.Context, frob string) (*Auth, error) {
	return c.auth(ctx, MethodGetToken, map[string]string{"frob": frob})
}

// CheckToken validates an auth token and returns the identity it belongs to.
func (c *Client) CheckToken(ctx context.Context, token string) (*Auth, error) {
	return c.auth(ctx, MethodCheckToken, map[string]string{"auth_token": token})
}

func (c *Client) auth(ctx context.Context, method string, params map[string]string) (*Auth, error) {
	var rsp struct {
		Auth Auth `json:"auth"`
	}
	if err := c.Call(ctx, method, params, &rsp); err != nil {
		return nil, err
	}
	if rsp.Auth.Token == "" {
		return nil, fmt.Errorf("legacy api %s returned no token", method)
	}
	if rsp.Auth.User.ID == "" {
		return nil, fmt.Errorf("legacy api %s returned no user", method)
	}
	return &rsp.Auth, nil
}

// envelope is the legacy JSON response wrapper: {"rsp": {...}}
type envelope struct {
	Rsp json.RawMessage `json:"rsp"`
}

type status struct {
	Stat string `json:"stat"`
	Err  *struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"err"`
}

// Call performs a signed call to the legacy API and decodes the contents of
// the "rsp" object into out. A failed envelope is returned as *APIError.
func (c *Client) Call(ctx context.Context, method string, params map[string]string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("legacy api %s: %w", method, err)
		}
	}

	all := make(map[string]string, len(params)+3)
	for k, v := range params {
		all[k] = v
	}
	all["api_key"] = c.apiKey
	all["method"] = method
	all["format"] = "json"

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	reqURL := c.endpoint + "?" + c.signedValues(all).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build legacy api request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error embeds the signed query string
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("legacy api %s request failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read legacy api response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("legacy api %s returned HTTP %d", method, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Rsp) == 0 {
		return fmt.Errorf("legacy api %s returned malformed response", method)
	}

	var st status
	if err := json.Unmarshal(env.Rsp, &st); err != nil {
		return fmt.Errorf("legacy api %s returned malformed status: %w", method, err)
	}

	switch st.Stat {
	case statusOK:
	case statusFail:
		apiErr := &APIError{Method: method}
		if st.Err != nil {
			apiErr.Code = st.Err.Code
			apiErr.Message = st.Err.Msg
		}
		return apiErr
	default:
		return fmt.Errorf("legacy api %s returned unknown status %q", method, st.Stat)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Rsp, out); err != nil {
		return fmt.Errorf("failed to decode legacy api %s response: %w", method, err)
	}
	return nil
}

// signedValues returns params plus api_sig as url.Values.
func (c *Client) signedValues(params map[string]string) url.Values {
	values := make(url.Values, len(params)+1)
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set(SignatureParam, Sign(params, c.sharedSecret))
	return values
}
