package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/billing"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/sso"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Production enables Secure cookies
	Production bool

	// Session cookie configuration
	Session SessionConfig

	// Identity authority configuration
	Authority sso.OIDCConfig

	// Links rendered into guard failures
	Links LinksConfig

	// AdminEmails is the administrator allow-list
	AdminEmails []string

	// Storage configuration
	Storage StorageConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TrustProxy honours X-Forwarded-For when deriving client addresses
	TrustProxy bool

	// MaxBodyBytes caps request bodies
	MaxBodyBytes int64
}

// SessionConfig holds session cookie settings
type SessionConfig struct {
	CookieName string
	MaxAge     time.Duration
	// SealKey is the hex-encoded 32-byte key for sealing sessions
	SealKey string
}

// LinksConfig holds the URLs callers are sent to
type LinksConfig struct {
	LoginURL string
	billing.Links
}

// StorageConfig holds database and cache connection settings
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	RedisURL         string
	RedisPassword    string
	RedisDB          int
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Backend is "memory" or "redis"
	Backend string
	// FailClosed rejects requests with 503 when the counter store is unavailable
	FailClosed bool
	// File is an optional YAML file overriding the default policies
	File     string
	Policies map[string]middleware.Policy
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// CookieOptions returns the session cookie attributes
func (c *Config) CookieOptions() auth.CookieOptions {
	opts := auth.DefaultCookieOptions(c.Production)
	if c.Session.CookieName != "" {
		opts.Name = c.Session.CookieName
	}
	if c.Session.MaxAge > 0 {
		opts.MaxAge = c.Session.MaxAge
	}
	return opts
}

// OTelConfig returns the tracing configuration
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Production:    strings.EqualFold(getEnv("TENANTGATE_ENV", "development"), "production"),
		Session:       loadSessionConfig(),
		Authority:     loadAuthorityConfig(),
		Links:         loadLinksConfig(),
		AdminEmails:   getEnvList("TENANTGATE_ADMIN_EMAILS"),
		Storage:       loadStorageConfig(),
		RateLimit:     rateLimit,
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTGATE_HEALTH_PORT", "9090"),
		TrustProxy:      getEnvBool("TENANTGATE_TRUST_PROXY", false),
		MaxBodyBytes:    getEnvInt64("TENANTGATE_MAX_BODY_BYTES", 1<<20),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		CookieName: getEnv("TENANTGATE_SESSION_COOKIE", auth.SessionCookieName),
		MaxAge:     getEnvDuration("TENANTGATE_SESSION_MAX_AGE", auth.SessionMaxAge),
		SealKey:    getEnv("TENANTGATE_SESSION_SEAL_KEY", ""),
	}
}

func loadAuthorityConfig() sso.OIDCConfig {
	scopes := getEnvList("TENANTGATE_OIDC_SCOPES")
	if len(scopes) == 0 {
		scopes = append([]string(nil), sso.DefaultScopes...)
	}
	return sso.OIDCConfig{
		IssuerURL:          getEnv("TENANTGATE_OIDC_ISSUER_URL", ""),
		ClientID:           getEnv("TENANTGATE_OIDC_CLIENT_ID", ""),
		ClientSecret:       getEnv("TENANTGATE_OIDC_CLIENT_SECRET", ""),
		RedirectURL:        getEnv("TENANTGATE_OIDC_REDIRECT_URL", ""),
		Scopes:             scopes,
		RefreshTimeout:     getEnvDuration("TENANTGATE_OIDC_REFRESH_TIMEOUT", sso.DefaultRefreshTimeout),
		NativeRedirectURIs: getEnvList("TENANTGATE_NATIVE_REDIRECT_URIS"),
	}
}

func loadLinksConfig() LinksConfig {
	return LinksConfig{
		LoginURL: getEnv("TENANTGATE_LOGIN_URL", "/auth/login"),
		Links: billing.Links{
			PricingURL:   getEnv("TENANTGATE_PRICING_URL", "/pricing"),
			ManageURL:    getEnv("TENANTGATE_BILLING_URL", "/settings/billing"),
			AgreementURL: getEnv("TENANTGATE_AGREEMENT_URL", "/agreement"),
		},
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("TENANTGATE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("TENANTGATE_POSTGRES_MAX_CONNS", 20),
		RedisURL:         getEnv("TENANTGATE_REDIS_URL", ""),
		RedisPassword:    getEnv("TENANTGATE_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("TENANTGATE_REDIS_DB", 0),
	}
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{
		Backend:    strings.ToLower(getEnv("TENANTGATE_RATE_LIMIT_BACKEND", "memory")),
		FailClosed: getEnvBool("TENANTGATE_RATE_LIMIT_FAIL_CLOSED", false),
		File:       getEnv("TENANTGATE_RATE_LIMIT_FILE", ""),
		Policies:   middleware.DefaultPolicies(),
	}
	if cfg.File == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return cfg, fmt.Errorf("failed to read rate limit file: %w", err)
	}
	file, err := ParseRateLimitFile(data)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse rate limit file %s: %w", cfg.File, err)
	}
	if file.FailClosed != nil {
		cfg.FailClosed = *file.FailClosed
	}
	cfg.Policies = MergePolicies(cfg.Policies, file.Policies)
	return cfg, nil
}

// RateLimitFile is the YAML document read from TENANTGATE_RATE_LIMIT_FILE
//
//	fail_closed: false
//	policies:
//	  invitation:
//	    max: 20
//	    window: 30m
type RateLimitFile struct {
	FailClosed *bool                        `yaml:"fail_closed"`
	Policies   map[string]middleware.Policy `yaml:"policies"`
}

// ParseRateLimitFile decodes a rate limit override document
func ParseRateLimitFile(data []byte) (*RateLimitFile, error) {
	var file RateLimitFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// MergePolicies overlays non-zero override fields onto base. Unknown classes are added.
func MergePolicies(base, overrides map[string]middleware.Policy) map[string]middleware.Policy {
	merged := make(map[string]middleware.Policy, len(base)+len(overrides))
	for name, p := range base {
		merged[name] = p
	}
	for name, o := range overrides {
		p := merged[name]
		p.Name = name
		if o.Max != 0 {
			p.Max = o.Max
		}
		if o.Window != 0 {
			p.Window = o.Window
		}
		if o.Message != "" {
			p.Message = o.Message
		}
		merged[name] = p
	}
	return merged
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TENANTGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGATE_OTEL_SERVICE_NAME", "tenantgate"),
		OTelServiceVersion: getEnv("TENANTGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate session config
	key, err := hex.DecodeString(c.Session.SealKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("session seal key must be 32 bytes hex-encoded")
	}

	if err := c.Authority.Validate(); err != nil {
		return fmt.Errorf("invalid authority config: %w", err)
	}

	if c.Links.LoginURL == "" {
		return fmt.Errorf("login URL is required")
	}
	if _, err := url.Parse(c.Links.LoginURL); err != nil {
		return fmt.Errorf("invalid login URL: %w", err)
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis rate limiting")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}

	names := make([]string, 0, len(c.RateLimit.Policies))
	for name := range c.RateLimit.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.RateLimit.Policies[name].Validate(); err != nil {
			return err
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
