package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/appmesh/pkg/audit"
	"github.com/platinummonkey/appmesh/pkg/users"
)

// Directory backends
const (
	DirectoryFile     = "file"
	DirectoryPostgres = "postgres"
)

// Audit sinks
const (
	AuditNone = "none"
	AuditLog  = "log"
	AuditFile = "file"
	AuditBoth = "both"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Forward       ForwardConfig
	Directory     DirectoryConfig
	Redis         RedisConfig
	Audit         AuditConfig
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
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	CORSOrigins []string
	// RequestsPerMinute limits every client address; zero disables it
	RequestsPerMinute int
	// TrustedProxies may name the client in X-Forwarded-For or X-Real-IP
	TrustedProxies []string
}

// AuthConfig holds token and login settings
type AuthConfig struct {
	Issuer       string
	ClockSkew    time.Duration
	StrictStatus bool
	TokenTTL     time.Duration
	MaxTokenTTL  time.Duration

	// LoginAttemptsPerMinute limits logins per user and per address; zero disables it
	LoginAttemptsPerMinute int
	LoginFailClosed        bool
}

// ForwardConfig holds upstream daemon settings
type ForwardConfig struct {
	// Enabled sends every non-file request to Address
	Enabled bool
	Address string
	Timeout time.Duration

	// ListenAddress serves forwarded frames locally; empty disables it
	ListenAddress string
}

// DirectoryConfig selects and tunes the user directory
type DirectoryConfig struct {
	Type  string
	File  string
	Watch bool

	Postgres   users.ConnectionConfig
	JWTEnabled bool

	// CacheSize enables an LRU in front of the SQL directory when positive.
	// Locks and key rotations then take up to CacheTTL to apply.
	CacheSize int
	CacheTTL  time.Duration

	// StatsSchedule is the cron spec for refreshing directory gauges
	StatsSchedule string
}

// RedisConfig holds the optional Redis connection backing login limits
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// Enabled reports whether a Redis URL is configured
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// AuditConfig selects where audit events go
type AuditConfig struct {
	Sink string
	File audit.FileLoggerConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Auth:          loadAuthConfig(),
		Forward:       loadForwardConfig(),
		Directory:     loadDirectoryConfig(),
		Redis:         loadRedisConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:              getEnv("APPMESH_HOST", "0.0.0.0"),
		Port:              getEnv("APPMESH_PORT", "6060"),
		ReadTimeout:       getEnvDuration("APPMESH_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      getEnvDuration("APPMESH_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getEnvDuration("APPMESH_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:   getEnvDuration("APPMESH_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:      getEnvInt64("APPMESH_MAX_BODY_BYTES", 16<<20),
		HealthPort:        getEnv("APPMESH_HEALTH_PORT", "6061"),
		CORSOrigins:       getEnvList("APPMESH_CORS_ORIGINS", nil),
		RequestsPerMinute: getEnvInt("APPMESH_REQUESTS_PER_MINUTE", 0),
		TrustedProxies:    getEnvList("APPMESH_TRUSTED_PROXIES", nil),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Issuer:                 getEnv("APPMESH_JWT_ISSUER", "appmesh-auth0"),
		ClockSkew:              getEnvDuration("APPMESH_JWT_CLOCK_SKEW", 0),
		StrictStatus:           getEnvBool("APPMESH_STRICT_AUTH_STATUS", false),
		TokenTTL:               getEnvDuration("APPMESH_TOKEN_TTL", 7*24*time.Hour),
		MaxTokenTTL:            getEnvDuration("APPMESH_MAX_TOKEN_TTL", 30*24*time.Hour),
		LoginAttemptsPerMinute: getEnvInt("APPMESH_LOGIN_ATTEMPTS_PER_MINUTE", 10),
		LoginFailClosed:        getEnvBool("APPMESH_LOGIN_FAIL_CLOSED", false),
	}
}

func loadForwardConfig() ForwardConfig {
	return ForwardConfig{
		Enabled:       getEnvBool("APPMESH_FORWARD_ENABLED", false),
		Address:       getEnv("APPMESH_FORWARD_ADDRESS", "127.0.0.1:6059"),
		Timeout:       getEnvDuration("APPMESH_FORWARD_TIMEOUT", 30*time.Second),
		ListenAddress: getEnv("APPMESH_FORWARD_LISTEN", ""),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Type:  strings.ToLower(getEnv("APPMESH_DIRECTORY_TYPE", DirectoryFile)),
		File:  getEnv("APPMESH_DIRECTORY_FILE", "/opt/appmesh/security.yaml"),
		Watch: getEnvBool("APPMESH_DIRECTORY_WATCH", true),
		Postgres: users.ConnectionConfig{
			URL:         getEnv("APPMESH_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("APPMESH_POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("APPMESH_POSTGRES_MIN_CONNS", 2),
			Timeout:     getEnvDuration("APPMESH_POSTGRES_TIMEOUT", 10*time.Second),
			MaxLifetime: getEnvDuration("APPMESH_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("APPMESH_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		JWTEnabled:    getEnvBool("APPMESH_JWT_ENABLED", true),
		CacheSize:     getEnvInt("APPMESH_DIRECTORY_CACHE_SIZE", 0),
		CacheTTL:      getEnvDuration("APPMESH_DIRECTORY_CACHE_TTL", 30*time.Second),
		StatsSchedule: getEnv("APPMESH_DIRECTORY_STATS_SCHEDULE", "@every 1m"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("APPMESH_REDIS_URL", ""),
		Password:   getEnv("APPMESH_REDIS_PASSWORD", ""),
		DB:         getEnvInt("APPMESH_REDIS_DB", 0),
		PoolSize:   getEnvInt("APPMESH_REDIS_POOL_SIZE", 10),
		MaxRetries: getEnvInt("APPMESH_REDIS_MAX_RETRIES", 3),
	}
}

func loadAuditConfig() AuditConfig {
	file := audit.DefaultFileLoggerConfig()
	file.BasePath = getEnv("APPMESH_AUDIT_DIR", file.BasePath)
	file.Rotate = getEnvBool("APPMESH_AUDIT_ROTATE", file.Rotate)
	file.MaxSize = getEnvInt64("APPMESH_AUDIT_MAX_SIZE", file.MaxSize)
	file.MaxFiles = getEnvInt("APPMESH_AUDIT_MAX_FILES", file.MaxFiles)

	return AuditConfig{
		Sink: strings.ToLower(getEnv("APPMESH_AUDIT_SINK", AuditLog)),
		File: file,
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("APPMESH_LOG_LEVEL", "info"),
		LogFormat:          getEnv("APPMESH_LOG_FORMAT", "json"),
		MetricsEnabled:     getEnvBool("APPMESH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("APPMESH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("APPMESH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("APPMESH_OTEL_SERVICE_NAME", "appmesh-rest"),
		OTelServiceVersion: getEnv("APPMESH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("APPMESH_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("APPMESH_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.Issuer == "" {
		return fmt.Errorf("JWT issuer is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.MaxTokenTTL > 0 && c.Auth.MaxTokenTTL < c.Auth.TokenTTL {
		return fmt.Errorf("max token TTL %s is shorter than the default %s", c.Auth.MaxTokenTTL, c.Auth.TokenTTL)
	}
	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("JWT clock skew must not be negative")
	}

	if c.Forward.Enabled && c.Forward.Address == "" {
		return fmt.Errorf("forward address is required when forwarding is enabled")
	}

	switch c.Directory.Type {
	case DirectoryFile:
		if c.Directory.File == "" {
			return fmt.Errorf("directory file is required for file directory")
		}
	case DirectoryPostgres:
		if c.Directory.Postgres.URL == "" {
			return fmt.Errorf("postgres URL is required for postgres directory")
		}
	default:
		return fmt.Errorf("invalid directory type: %s (must be file or postgres)", c.Directory.Type)
	}

	switch c.Audit.Sink {
	case AuditNone, AuditLog:
	case AuditFile, AuditBoth:
		if c.Audit.File.BasePath == "" {
			return fmt.Errorf("audit directory is required for file audit")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be none, log, file or both)", c.Audit.Sink)
	}

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

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
