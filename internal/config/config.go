// Package config provides application configuration management,
// loading settings from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Location sources
const (
	SourceMQTT     = "mqtt"
	SourcePostgres = "postgres"
)

// Wake lock modes
const (
	WakeLockNone    = "none"
	WakeLockInhibit = "inhibit"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string
	Environment string
	GRPCPort    string
	HTTPPort    string

	// Location source
	LocationSource string
	DeviceID       string
	LocationMaxAge time.Duration

	// Database configuration, used when LocationSource is postgres
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PollInterval     time.Duration

	// MQTT configuration, used when LocationSource is mqtt
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string

	// Alarm
	DefaultRadius int
	AlarmInterval time.Duration
	TerminalBell  bool
	WakeLock      string

	// Destination search
	GeminiAPIKey    string
	GeminiModel     string
	ResolverWorkers int

	// OpenTelemetry configuration
	TracingEnabled bool
	OTELEndpoint   string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "arrival-alarm"),
		Environment: getEnv("ENVIRONMENT", "development"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),

		LocationSource: getEnv("LOCATION_SOURCE", SourceMQTT),
		DeviceID:       getEnv("DEVICE_ID", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "6432"),
		PostgresDB:       getEnv("POSTGRES_DB", "owntracks"),
		PostgresUser:     getEnv("POSTGRES_USER", "development"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "development"),

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "arrival-alarm"),
		MQTTTopic:    getEnv("MQTT_TOPIC", "owntracks/+/+"),

		WakeLock: getEnv("WAKE_LOCK", WakeLockNone),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	cfg.LocationMaxAge, err = parseDuration("LOCATION_MAX_AGE", "2m")
	if err != nil {
		return nil, fmt.Errorf("invalid LOCATION_MAX_AGE: %w", err)
	}

	cfg.PollInterval, err = parseDuration("POLL_INTERVAL", "5s")
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}

	cfg.DefaultRadius, err = parseInt("DEFAULT_RADIUS_M", "500")
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RADIUS_M: %w", err)
	}

	cfg.AlarmInterval, err = parseDuration("ALARM_INTERVAL", "1s")
	if err != nil {
		return nil, fmt.Errorf("invalid ALARM_INTERVAL: %w", err)
	}

	cfg.TerminalBell, err = parseBool("TERMINAL_BELL", "false")
	if err != nil {
		return nil, fmt.Errorf("invalid TERMINAL_BELL: %w", err)
	}

	cfg.ResolverWorkers, err = parseInt("RESOLVER_WORKERS", "2")
	if err != nil {
		return nil, fmt.Errorf("invalid RESOLVER_WORKERS: %w", err)
	}

	cfg.TracingEnabled, err = parseBool("TRACING_ENABLED", "false")
	if err != nil {
		return nil, fmt.Errorf("invalid TRACING_ENABLED: %w", err)
	}

	return cfg, nil
}

// Validate checks values that Load parses but cannot judge on their own.
// Radius bounds belong to the session and are enforced when it is created.
func (c *Config) Validate() error {
	if c.DefaultRadius <= 0 {
		return fmt.Errorf("DEFAULT_RADIUS_M must be positive, got %d", c.DefaultRadius)
	}

	switch c.LocationSource {
	case SourceMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required when LOCATION_SOURCE is %s", SourceMQTT)
		}
	case SourcePostgres:
		if c.PollInterval <= 0 {
			return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
		}
	default:
		return fmt.Errorf("LOCATION_SOURCE must be %q or %q, got %q", SourceMQTT, SourcePostgres, c.LocationSource)
	}

	switch c.WakeLock {
	case WakeLockNone, WakeLockInhibit:
	default:
		return fmt.Errorf("WAKE_LOCK must be %q or %q, got %q", WakeLockNone, WakeLockInhibit, c.WakeLock)
	}

	if c.AlarmInterval <= 0 {
		return fmt.Errorf("ALARM_INTERVAL must be positive, got %s", c.AlarmInterval)
	}
	if c.LocationMaxAge < 0 {
		return fmt.Errorf("LOCATION_MAX_AGE must not be negative, got %s", c.LocationMaxAge)
	}
	if c.ResolverWorkers < 1 {
		return fmt.Errorf("RESOLVER_WORKERS must be at least 1, got %d", c.ResolverWorkers)
	}

	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key, defaultValue string) (int, error) {
	return strconv.Atoi(getEnv(key, defaultValue))
}

func parseBool(key, defaultValue string) (bool, error) {
	return strconv.ParseBool(getEnv(key, defaultValue))
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	return time.ParseDuration(getEnv(key, defaultValue))
}
