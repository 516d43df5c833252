package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/blacksky-algorithms/safe-skies-api/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Bluesky       BlueskyConfig
	Moderation    ModerationConfig
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
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	AutoMigrate bool
}

// RedisConfig holds optional Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds OAuth, session and encryption settings
type AuthConfig struct {
	// Public base URL of this API, used for the OAuth client_id and redirect URI
	PublicURL string
	// Frontend URL the OAuth callback redirects to
	ClientURL string

	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool

	// 32-byte AES-256 key for auth_states/auth_sessions
	EncryptionKey []byte
	// "postgres" or "redis"
	KVBackend string
	StateTTL  time.Duration

	OAuthIssuer   string
	OAuthAuthURL  string
	OAuthTokenURL string
	OAuthScopes   []string

	DevLogin bool
}

// BlueskyConfig holds the identity-provider API settings
type BlueskyConfig struct {
	AppViewHost string
	Timeout     time.Duration
}

// ModerationConfig holds report dispatch and registry settings
type ModerationConfig struct {
	UniversalService string
	OzoneHost        string
	OzoneToken       string
	CallTimeout      time.Duration
	Deadline         time.Duration
	MaxConcurrent    int
	RetryAttempts    int
	RegistryTTL      time.Duration
	SeedFile         string
	DefaultFeedURI   string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from the environment. A .env file in the
// working directory is read first when present; real environment variables
// win over it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          auth,
		Bluesky:       loadBlueskyConfig(),
		Moderation:    loadModerationConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SAFESKIES_HOST", "0.0.0.0"),
		Port:            getEnv("SAFESKIES_PORT", "5000"),
		ReadTimeout:     getEnvDuration("SAFESKIES_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SAFESKIES_WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:     getEnvDuration("SAFESKIES_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SAFESKIES_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("SAFESKIES_MAX_BODY_BYTES", 1<<20)),
		CORSOrigins:     getEnvList("SAFESKIES_CORS_ORIGINS", []string{"http://localhost:3000"}),
		HealthPort:      getEnv("SAFESKIES_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("SAFESKIES_DATABASE_URL", ""),
		MaxConns:    getEnvInt("SAFESKIES_DATABASE_MAX_CONNS", 20),
		MinConns:    getEnvInt("SAFESKIES_DATABASE_MIN_CONNS", 2),
		Timeout:     getEnvDuration("SAFESKIES_DATABASE_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("SAFESKIES_DATABASE_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("SAFESKIES_DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate: getEnvBool("SAFESKIES_DATABASE_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("SAFESKIES_REDIS_URL", ""),
		Password: getEnv("SAFESKIES_REDIS_PASSWORD", ""),
		DB:       getEnvInt("SAFESKIES_REDIS_DB", 0),
		PoolSize: getEnvInt("SAFESKIES_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() (AuthConfig, error) {
	key, err := parseEncryptionKey(getEnv("SAFESKIES_ENCRYPTION_KEY", ""))
	if err != nil {
		return AuthConfig{}, err
	}

	issuer := strings.TrimRight(getEnv("SAFESKIES_OAUTH_ISSUER", "https://bsky.social"), "/")

	return AuthConfig{
		PublicURL:     strings.TrimRight(getEnv("SAFESKIES_PUBLIC_URL", "http://127.0.0.1:5000"), "/"),
		ClientURL:     strings.TrimRight(getEnv("SAFESKIES_CLIENT_URL", "http://localhost:3000"), "/"),
		SessionSecret: getEnv("SAFESKIES_SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("SAFESKIES_SESSION_TTL", 7*24*time.Hour),
		CookieSecure:  getEnvBool("SAFESKIES_COOKIE_SECURE", true),
		EncryptionKey: key,
		KVBackend:     strings.ToLower(getEnv("SAFESKIES_KV_BACKEND", "postgres")),
		StateTTL:      getEnvDuration("SAFESKIES_OAUTH_STATE_TTL", 10*time.Minute),
		OAuthIssuer:   issuer,
		OAuthAuthURL:  getEnv("SAFESKIES_OAUTH_AUTH_URL", issuer+"/oauth/authorize"),
		OAuthTokenURL: getEnv("SAFESKIES_OAUTH_TOKEN_URL", issuer+"/oauth/token"),
		OAuthScopes:   getEnvList("SAFESKIES_OAUTH_SCOPES", []string{"atproto", "transition:generic"}),
		DevLogin:      getEnvBool("SAFESKIES_DEV_LOGIN", false),
	}, nil
}

func loadBlueskyConfig() BlueskyConfig {
	return BlueskyConfig{
		AppViewHost: strings.TrimRight(getEnv("SAFESKIES_BSKY_APPVIEW", "https://public.api.bsky.app"), "/"),
		Timeout:     getEnvDuration("SAFESKIES_BSKY_TIMEOUT", 10*time.Second),
	}
}

func loadModerationConfig() ModerationConfig {
	return ModerationConfig{
		UniversalService: getEnv("SAFESKIES_UNIVERSAL_SERVICE", "ozone"),
		OzoneHost:        strings.TrimRight(getEnv("SAFESKIES_OZONE_HOST", ""), "/"),
		OzoneToken:       getEnv("SAFESKIES_OZONE_TOKEN", ""),
		CallTimeout:      getEnvDuration("SAFESKIES_DISPATCH_CALL_TIMEOUT", 10*time.Second),
		Deadline:         getEnvDuration("SAFESKIES_DISPATCH_DEADLINE", 30*time.Second),
		MaxConcurrent:    getEnvInt("SAFESKIES_DISPATCH_MAX_CONCURRENT", 4),
		RetryAttempts:    getEnvInt("SAFESKIES_DISPATCH_RETRY_ATTEMPTS", 3),
		RegistryTTL:      getEnvDuration("SAFESKIES_REGISTRY_TTL", 5*time.Minute),
		SeedFile:         getEnv("SAFESKIES_SEED_FILE", ""),
		DefaultFeedURI:   getEnv("SAFESKIES_DEFAULT_FEED_URI", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("SAFESKIES_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SAFESKIES_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SAFESKIES_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SAFESKIES_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SAFESKIES_OTEL_SERVICE_NAME", "safe-skies-api"),
		OTelServiceVersion: getEnv("SAFESKIES_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("SAFESKIES_OTEL_INSECURE", true),
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

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("session secret is required")
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(c.Auth.EncryptionKey))
	}
	switch c.Auth.KVBackend {
	case "postgres":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis KV backend")
		}
	default:
		return fmt.Errorf("invalid KV backend: %s (must be postgres or redis)", c.Auth.KVBackend)
	}
	if _, err := url.ParseRequestURI(c.Auth.PublicURL); err != nil {
		return fmt.Errorf("invalid public URL: %w", err)
	}

	if c.Moderation.UniversalService == "" {
		return fmt.Errorf("universal moderation service is required")
	}
	if c.Moderation.CallTimeout <= 0 || c.Moderation.Deadline <= 0 {
		return fmt.Errorf("dispatch timeouts must be positive")
	}
	if c.Moderation.CallTimeout > c.Moderation.Deadline {
		return fmt.Errorf("dispatch call timeout must not exceed the overall deadline")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// parseEncryptionKey accepts a 64-character hex string or a raw 32-byte value
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) == 64 {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid hex encryption key: %w", err)
		}
		return key, nil
	}
	return []byte(raw), nil
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
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
