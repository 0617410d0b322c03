package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stackmason/tenantd/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional: slug reservations are skipped when
	// no address is set)
	Redis RedisConfig

	// Identity provider configuration
	Identity IdentityConfig

	// Path to the provisioning rules file (reserved slugs, length limits,
	// availability authority tables)
	RulesPath string

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

	// Bearer tokens accepted by the admin gate
	AdminTokens []string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis settings for slug reservations
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ReservationTTL time.Duration
}

// IdentityConfig holds identity provider client settings
type IdentityConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	// Retry policy for transient provider failures
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	// Audit file sink (optional second leg next to the database sink)
	AuditFilePath string
}

// JanitorConfig holds background sweep settings
type JanitorConfig struct {
	CleanupSchedule string
	ExpireSchedule  string
	RequestMaxAge   time.Duration
	MaxCleanupTries int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Identity:      loadIdentityConfig(),
		RulesPath:     getEnv("TENANTD_RULES_FILE", ""),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	var tokens []string
	if raw := getEnv("TENANTD_ADMIN_TOKENS", ""); raw != "" {
		for _, token := range strings.Split(raw, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens = append(tokens, token)
			}
		}
	}

	return ServerConfig{
		Host:            getEnv("TENANTD_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTD_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("TENANTD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTD_HEALTH_PORT", "9090"),
		AdminTokens:     tokens,
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TENANTD_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTD_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("TENANTD_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTD_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:           getEnv("TENANTD_REDIS_ADDR", ""),
		Password:       getEnv("TENANTD_REDIS_PASSWORD", ""),
		DB:             getEnvInt("TENANTD_REDIS_DB", 0),
		ReservationTTL: getEnvDuration("TENANTD_RESERVATION_TTL", 2*time.Minute),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		BaseURL:         getEnv("TENANTD_IDP_BASE_URL", ""),
		TokenURL:        getEnv("TENANTD_IDP_TOKEN_URL", ""),
		ClientID:        getEnv("TENANTD_IDP_CLIENT_ID", ""),
		ClientSecret:    getEnv("TENANTD_IDP_CLIENT_SECRET", ""),
		Timeout:         getEnvDuration("TENANTD_IDP_TIMEOUT", 10*time.Second),
		MaxAttempts:     getEnvInt("TENANTD_IDP_MAX_ATTEMPTS", 5),
		InitialInterval: getEnvDuration("TENANTD_IDP_BACKOFF_BASE", 100*time.Millisecond),
		MaxInterval:     getEnvDuration("TENANTD_IDP_BACKOFF_MAX", 5*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLevel(getEnv("TENANTD_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("TENANTD_METRICS_ENABLED", true),
		AuditFilePath:  getEnv("TENANTD_AUDIT_FILE_PATH", ""),
	}
}

// LoadJanitorConfig loads the background sweep settings.
func LoadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		CleanupSchedule: getEnv("TENANTD_JANITOR_CLEANUP_SCHEDULE", "*/5 * * * *"),
		ExpireSchedule:  getEnv("TENANTD_JANITOR_EXPIRE_SCHEDULE", "*/10 * * * *"),
		RequestMaxAge:   getEnvDuration("TENANTD_REQUEST_MAX_AGE", 30*time.Minute),
		MaxCleanupTries: getEnvInt("TENANTD_MAX_CLEANUP_TRIES", 10),
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
		return fmt.Errorf("postgres URL is required")
	}

	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity provider base URL is required")
	}
	if c.Identity.TokenURL != "" && (c.Identity.ClientID == "" || c.Identity.ClientSecret == "") {
		return fmt.Errorf("identity provider client credentials are required when a token URL is set")
	}
	if c.Identity.MaxAttempts < 1 {
		return fmt.Errorf("identity provider max attempts must be at least 1")
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
