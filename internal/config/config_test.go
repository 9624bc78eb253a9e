package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/server"
)

const sampleConfig = `
listen_addr: ":9090"
issuer: https://frob.example.com
legacy:
  api_key: key
  shared_secret: secret
  perms: read
  request_timeout: 10s
storage:
  backend: valkey
  address: localhost:6379
  key_prefix: "bridge:"
flow:
  handoff_mode: redirect
  pending_handoff_ttl: 5m
  token_lifetime: 720h
security:
  require_pkce: true
  allowed_custom_schemes: ["^cursor$"]
rate_limit:
  limit: 30
  window: 30s
telemetry:
  metrics_exporter: prometheus
clients:
  - id: mcp-client
    name: MCP Client
    redirect_uris: ["https://client.example/cb"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "https://frob.example.com", cfg.Issuer)
	assert.Equal(t, 10*time.Second, cfg.Legacy.RequestTimeout)
	assert.Equal(t, BackendValkey, cfg.Storage.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Flow.PendingHandoffTTL)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)

	sc := cfg.ServerConfig()
	assert.Equal(t, server.HandoffRedirect, sc.HandoffMode)
	assert.Equal(t, 720*time.Hour, sc.TokenLifetime)
	assert.True(t, sc.RequirePKCE)
	assert.Equal(t, []string{"^cursor$"}, sc.AllowedCustomSchemes)
	assert.Equal(t, 30, sc.RateLimit)
	assert.Equal(t, 30*time.Second, sc.RateLimitWindow)
	require.Len(t, sc.Clients, 1)
	assert.Equal(t, "mcp-client", sc.Clients[0].ID)
	assert.Equal(t, []string{"https://client.example/cb"}, sc.Clients[0].RedirectURIs)

	lc := cfg.LegacyClientConfig()
	assert.Equal(t, "key", lc.APIKey)
	assert.Equal(t, "read", lc.Perms)

	ic := cfg.InstrumentationConfig("1.2.3")
	assert.True(t, ic.Enabled)
	assert.Equal(t, "1.2.3", ic.ServiceVersion)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"ISSUER", "https://env.example.com")
	t.Setenv(EnvPrefix+"STORAGE_BACKEND", "memory")
	t.Setenv(EnvPrefix+"RATE_LIMIT", "5")
	t.Setenv(EnvPrefix+"HANDOFF_TTL", "2m")
	t.Setenv(EnvPrefix+"TRUST_PROXY", "true")
	t.Setenv(EnvPrefix+"ALLOWED_CUSTOM_SCHEMES", "^cursor$, ^vscode$ ,")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Issuer)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, 2*time.Minute, cfg.Flow.PendingHandoffTTL)
	assert.True(t, cfg.Security.TrustProxy)
	assert.Equal(t, []string{"^cursor$", "^vscode$"}, cfg.Security.AllowedCustomSchemes)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		EnvPrefix + "RATE_LIMIT":   "lots",
		EnvPrefix + "TRUST_PROXY":  "maybe",
		EnvPrefix + "HANDOFF_TTL":  "ten minutes",
		EnvPrefix + "LEGACY_RPS":   "fast",
		EnvPrefix + "LISTEN_ADDR":  ":1",
		EnvPrefix + "UNRELATED":    "x",
		EnvPrefix + "STORAGE_DB":   "2",
		EnvPrefix + "REQUIRE_PKCE": "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &Config{}
	err := cfg.applyEnv(lookup)
	require.Error(t, err)
	for _, name := range []string{"RATE_LIMIT", "TRUST_PROXY", "HANDOFF_TTL", "LEGACY_RPS"} {
		assert.Contains(t, err.Error(), EnvPrefix+name)
	}
	assert.Equal(t, ":1", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Storage.DB)
	assert.True(t, cfg.Security.RequirePKCE)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Issuer:  "https://frob.example.com",
			Legacy:  LegacyConfig{APIKey: "k", SharedSecret: "s"},
			Storage: StorageConfig{Backend: BackendMemory},
			Log:     LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing issuer", func(c *Config) { c.Issuer = "" }, "issuer"},
		{"missing secret", func(c *Config) { c.Legacy.SharedSecret = "" }, "shared_secret"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage backend"},
		{"redis without address", func(c *Config) { c.Storage.Backend = BackendRedis }, "address"},
		{"unknown handoff mode", func(c *Config) { c.Flow.HandoffMode = "popup" }, "handoff mode"},
		{"unknown metrics exporter", func(c *Config) { c.Telemetry.MetricsExporter = "statsd" }, "metrics exporter"},
		{"unknown traces exporter", func(c *Config) { c.Telemetry.TracesExporter = "jaeger" }, "traces exporter"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(writeConfig(t, "issuer: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestEncryptionKey(t *testing.T) {
	cfg := &Config{Issuer: "https://frob.example.com"}

	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Nil(t, key, "no key configured means no encryption")

	raw, err := security.GenerateKey()
	require.NoError(t, err)
	cfg.Storage.EncryptionKey = security.KeyToBase64(raw)
	key, err = cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	cfg.Storage.EncryptionKey = "not base64!"
	_, err = cfg.EncryptionKey()
	assert.Error(t, err)

	cfg.Storage.EncryptionKey = ""
	cfg.Storage.EncryptionSecret = "correct horse battery staple"
	derived, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, derived, security.KeySize)

	again, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, derived, again, "derivation must be stable across restarts")
}

func TestInstrumentationConfig_DisabledByDefault(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.InstrumentationConfig("dev").Enabled)

	cfg.Telemetry.TracesExporter = "none"
	assert.False(t, cfg.InstrumentationConfig("dev").Enabled)

	cfg.Telemetry.TracesExporter = "stdout"
	assert.True(t, cfg.InstrumentationConfig("dev").Enabled)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogLevel("verbose")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "verbose"))
}
