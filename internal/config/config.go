// Package config loads the bridge binary's settings from a YAML file, a .env
// file and FROB_OAUTH_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-frob-oauth/instrumentation"
	"github.com/giantswarm/mcp-frob-oauth/legacy"
	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/server"
)

// EnvPrefix prefixes every environment variable the bridge reads
const EnvPrefix = "FROB_OAUTH_"

// Storage backends
const (
	BackendMemory = "memory"
	BackendValkey = "valkey"
	BackendRedis  = "redis"
)

const (
	DefaultListenAddr = ":8080"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
)

// Config is the complete bridge configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	Issuer     string `yaml:"issuer"`

	Legacy    LegacyConfig    `yaml:"legacy"`
	Storage   StorageConfig   `yaml:"storage"`
	Flow      FlowConfig      `yaml:"flow"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`

	Clients []server.ClientConfig `yaml:"clients"`
}

// LegacyConfig holds the task service application credentials
type LegacyConfig struct {
	APIKey            string        `yaml:"api_key"`
	SharedSecret      string        `yaml:"shared_secret"`
	Endpoint          string        `yaml:"endpoint"`
	AuthURL           string        `yaml:"auth_url"`
	Perms             string        `yaml:"perms"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// StorageConfig selects and configures the KV backend
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`

	// EncryptionKey is a base64 AES-256 key for legacy tokens at rest
	EncryptionKey string `yaml:"encryption_key"`

	// EncryptionSecret derives the key with HKDF when EncryptionKey is unset
	EncryptionSecret string `yaml:"encryption_secret"`
}

// FlowConfig holds the lifetimes of the authorization flow
type FlowConfig struct {
	HandoffMode          string        `yaml:"handoff_mode"`
	PendingHandoffTTL    time.Duration `yaml:"pending_handoff_ttl"`
	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl"`
	TokenLifetime        time.Duration `yaml:"token_lifetime"`
	DefaultScope         string        `yaml:"default_scope"`
}

type SecurityConfig struct {
	RequirePKCE              bool     `yaml:"require_pkce"`
	RequireRegisteredClients bool     `yaml:"require_registered_clients"`
	AllowedCustomSchemes     []string `yaml:"allowed_custom_schemes"`
	AllowInsecureHTTP        bool     `yaml:"allow_insecure_http"`
	TrustProxy               bool     `yaml:"trust_proxy"`
	TrustedProxyCount        int      `yaml:"trusted_proxy_count"`
	AuditLogging             bool     `yaml:"audit_logging"`
}

type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// TelemetryConfig configures OpenTelemetry. Metrics exported with the
// prometheus exporter are served at /metrics.
type TelemetryConfig struct {
	MetricsExporter string `yaml:"metrics_exporter"`
	TracesExporter  string `yaml:"traces_exporter"`
	LogClientIPs    bool   `yaml:"log_client_ips"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path (optional), then applies .env and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr: DefaultListenAddr,
		Storage:    StorageConfig{Backend: BackendMemory},
		Log:        LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// a missing .env file is not an error
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from FROB_OAUTH_* variables looked up with lookup
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []string

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("ISSUER", &c.Issuer)

	str("API_KEY", &c.Legacy.APIKey)
	str("SHARED_SECRET", &c.Legacy.SharedSecret)
	str("LEGACY_ENDPOINT", &c.Legacy.Endpoint)
	str("LEGACY_AUTH_URL", &c.Legacy.AuthURL)
	str("PERMS", &c.Legacy.Perms)
	duration("LEGACY_TIMEOUT", &c.Legacy.RequestTimeout)
	float("LEGACY_RPS", &c.Legacy.RequestsPerSecond)
	integer("LEGACY_BURST", &c.Legacy.Burst)

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("STORAGE_ADDRESS", &c.Storage.Address)
	str("STORAGE_PASSWORD", &c.Storage.Password)
	integer("STORAGE_DB", &c.Storage.DB)
	str("STORAGE_KEY_PREFIX", &c.Storage.KeyPrefix)
	str("ENCRYPTION_KEY", &c.Storage.EncryptionKey)
	str("ENCRYPTION_SECRET", &c.Storage.EncryptionSecret)

	str("HANDOFF_MODE", &c.Flow.HandoffMode)
	duration("HANDOFF_TTL", &c.Flow.PendingHandoffTTL)
	duration("CODE_TTL", &c.Flow.AuthorizationCodeTTL)
	duration("TOKEN_LIFETIME", &c.Flow.TokenLifetime)
	str("DEFAULT_SCOPE", &c.Flow.DefaultScope)

	boolean("REQUIRE_PKCE", &c.Security.RequirePKCE)
	boolean("REQUIRE_REGISTERED_CLIENTS", &c.Security.RequireRegisteredClients)
	boolean("ALLOW_INSECURE_HTTP", &c.Security.AllowInsecureHTTP)
	boolean("TRUST_PROXY", &c.Security.TrustProxy)
	integer("TRUSTED_PROXY_COUNT", &c.Security.TrustedProxyCount)
	boolean("AUDIT_LOGGING", &c.Security.AuditLogging)
	if v, ok := lookup(EnvPrefix + "ALLOWED_CUSTOM_SCHEMES"); ok {
		c.Security.AllowedCustomSchemes = splitList(v)
	}

	integer("RATE_LIMIT", &c.RateLimit.Limit)
	duration("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	str("METRICS_EXPORTER", &c.Telemetry.MetricsExporter)
	str("TRACES_EXPORTER", &c.Telemetry.TracesExporter)
	boolean("LOG_CLIENT_IPS", &c.Telemetry.LogClientIPs)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.Legacy.APIKey == "" || c.Legacy.SharedSecret == "" {
		return fmt.Errorf("legacy api_key and shared_secret are required")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendValkey, BackendRedis:
		if c.Storage.Address == "" {
			return fmt.Errorf("storage address is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want memory, valkey or redis)", c.Storage.Backend)
	}

	switch server.HandoffMode(c.Flow.HandoffMode) {
	case "", server.HandoffInterstitial, server.HandoffRedirect:
	default:
		return fmt.Errorf("unknown handoff mode %q (want interstitial or redirect)", c.Flow.HandoffMode)
	}

	switch c.Telemetry.MetricsExporter {
	case "", instrumentation.ExporterNone, instrumentation.ExporterPrometheus:
	default:
		return fmt.Errorf("unknown metrics exporter %q", c.Telemetry.MetricsExporter)
	}
	switch c.Telemetry.TracesExporter {
	case "", instrumentation.ExporterNone, instrumentation.ExporterStdout:
	default:
		return fmt.Errorf("unknown traces exporter %q", c.Telemetry.TracesExporter)
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ServerConfig maps the settings onto the bridge server configuration
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Issuer:                   c.Issuer,
		PendingHandoffTTL:        c.Flow.PendingHandoffTTL,
		AuthorizationCodeTTL:     c.Flow.AuthorizationCodeTTL,
		TokenLifetime:            c.Flow.TokenLifetime,
		HandoffMode:              server.HandoffMode(c.Flow.HandoffMode),
		DefaultScope:             c.Flow.DefaultScope,
		RequirePKCE:              c.Security.RequirePKCE,
		Clients:                  c.Clients,
		RequireRegisteredClients: c.Security.RequireRegisteredClients,
		AllowedCustomSchemes:     c.Security.AllowedCustomSchemes,
		AllowInsecureHTTP:        c.Security.AllowInsecureHTTP,
		TrustProxy:               c.Security.TrustProxy,
		TrustedProxyCount:        c.Security.TrustedProxyCount,
		RateLimit:                c.RateLimit.Limit,
		RateLimitWindow:          c.RateLimit.Window,
	}
}

// LegacyClientConfig maps the settings onto the legacy API client
func (c *Config) LegacyClientConfig() *legacy.Config {
	return &legacy.Config{
		APIKey:            c.Legacy.APIKey,
		SharedSecret:      c.Legacy.SharedSecret,
		Endpoint:          c.Legacy.Endpoint,
		AuthURL:           c.Legacy.AuthURL,
		Perms:             c.Legacy.Perms,
		RequestTimeout:    c.Legacy.RequestTimeout,
		RequestsPerSecond: c.Legacy.RequestsPerSecond,
		Burst:             c.Legacy.Burst,
	}
}

// InstrumentationConfig maps the telemetry settings. Instrumentation is
// enabled when any exporter is selected.
func (c *Config) InstrumentationConfig(version string) instrumentation.Config {
	metrics := c.Telemetry.MetricsExporter
	traces := c.Telemetry.TracesExporter
	return instrumentation.Config{
		ServiceVersion:  version,
		Enabled:         (metrics != "" && metrics != instrumentation.ExporterNone) || (traces != "" && traces != instrumentation.ExporterNone),
		MetricsExporter: metrics,
		TracesExporter:  traces,
		LogClientIPs:    c.Telemetry.LogClientIPs,
	}
}

// EncryptionKey returns the at-rest key, or nil when encryption is off
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Storage.EncryptionKey != "" {
		key, err := security.KeyFromBase64(c.Storage.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		return key, nil
	}
	if c.Storage.EncryptionSecret != "" {
		key, err := security.DeriveKey([]byte(c.Storage.EncryptionSecret), []byte(c.Issuer))
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		return key, nil
	}
	return nil, nil
}

// ParseLogLevel maps debug, info, warn and error onto slog levels
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}
