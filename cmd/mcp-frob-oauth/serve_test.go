package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/internal/config"
	"github.com/giantswarm/mcp-frob-oauth/internal/testutil"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/storage/memory"
)

func testConfig(fake *testutil.FakeLegacyAPI) *config.Config {
	return &config.Config{
		ListenAddr: "127.0.0.1:0",
		Issuer:     "http://localhost:8080",
		Legacy: config.LegacyConfig{
			APIKey:            testutil.FakeAPIKey,
			SharedSecret:      testutil.FakeSharedSecret,
			Endpoint:          fake.Endpoint(),
			AuthURL:           fake.AuthURL(),
			RequestsPerSecond: -1,
		},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestBuildHandler_ServesBridgeAndMetrics(t *testing.T) {
	fake := testutil.NewFakeLegacyAPI(t)
	cfg := testConfig(fake)
	cfg.Telemetry.MetricsExporter = instrumentation.ExporterPrometheus
	cfg.Storage.EncryptionSecret = "correct horse battery staple"

	inst, err := instrumentation.New(cfg.InstrumentationConfig("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(t.Context()) })

	kv := memory.New()
	t.Cleanup(kv.Stop)

	handler, err := buildHandler(cfg, kv, inst, testutil.DiscardLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"issuer":"http://localhost:8080"`)
	assert.NotEmpty(t, rec.Header().Get(security.RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathMetrics, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "frob_http_requests")
}

func TestBuildHandler_NoMetricsByDefault(t *testing.T) {
	fake := testutil.NewFakeLegacyAPI(t)
	cfg := testConfig(fake)

	inst, err := instrumentation.New(cfg.InstrumentationConfig("test"))
	require.NoError(t, err)

	kv := memory.New()
	t.Cleanup(kv.Stop)

	handler, err := buildHandler(cfg, kv, inst, testutil.DiscardLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathMetrics, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildHandler_InvalidEncryptionKey(t *testing.T) {
	fake := testutil.NewFakeLegacyAPI(t)
	cfg := testConfig(fake)
	cfg.Storage.EncryptionKey = "too-short"

	inst, err := instrumentation.New(cfg.InstrumentationConfig("test"))
	require.NoError(t, err)

	kv := memory.New()
	t.Cleanup(kv.Stop)

	_, err = buildHandler(cfg, kv, inst, testutil.DiscardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption key")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	logger, err = newLogger(&buf, config.LogConfig{Level: "info"})
	require.NoError(t, err)
	logger.Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "default format is JSON")

	_, err = newLogger(io.Discard, config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestHashSecretCmd(t *testing.T) {
	cmd := newHashSecretCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestGenerateKeyCmd(t *testing.T) {
	cmd := newGenerateKeyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	key, err := security.KeyFromBase64(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, key, security.KeySize)
}

func TestCheckLegacyToken(t *testing.T) {
	fake := testutil.NewFakeLegacyAPI(t)
	fake.AutoAuthorize = true
	ctx := t.Context()

	frob, err := fake.Client(t).GetFrob(ctx)
	require.NoError(t, err)
	auth, err := fake.Client(t).GetToken(ctx, frob)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, checkLegacyToken(ctx, fake.Config(), auth.Token, &out))
	assert.Equal(t, "user_id=987654 username=bob perms=delete\n", out.String())

	err = checkLegacyToken(ctx, fake.Config(), "unknown-legacy-token", io.Discard)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "unknown-legacy-token")

	assert.Error(t, checkLegacyToken(ctx, fake.Config(), "", io.Discard))
}
