package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Store and sequence backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// QueueStore selects where tokens live: memory or postgres.
	QueueStore string
	// SequenceBackend selects the daily counter: memory, redis or postgres.
	SequenceBackend string

	ClinicTimezone         string
	AvgConsultationMinutes int

	RealtimeRelay   bool
	RealtimeChannel string

	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
	AuditEnabled       bool

	// RateLimitPerSecond caps requests per client IP on /queue; zero disables it.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisTLS:               getEnvAsBool("REDIS_TLS", false),
		QueueStore:             strings.ToLower(strings.TrimSpace(getEnv("QUEUE_STORE", BackendMemory))),
		SequenceBackend:        strings.ToLower(strings.TrimSpace(getEnv("SEQUENCE_BACKEND", BackendMemory))),
		ClinicTimezone:         getEnv("CLINIC_TIMEZONE", "UTC"),
		AvgConsultationMinutes: getEnvAsInt("AVG_CONSULTATION_MINUTES", 10),
		RealtimeRelay:          getEnvAsBool("REALTIME_RELAY", false),
		RealtimeChannel:        getEnv("REALTIME_CHANNEL", "clinicqueue:events"),
		CORSAllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RequestTimeout:         getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		AuditEnabled:           getEnvAsBool("AUDIT_ENABLED", false),
		RateLimitPerSecond:     getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:         getEnvAsInt("RATE_LIMIT_BURST", 40),
	}
}

// ClinicLocation resolves ClinicTimezone, falling back to UTC when the zone is unknown.
func (c *Config) ClinicLocation() *time.Location {
	if c == nil || strings.TrimSpace(c.ClinicTimezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.ClinicTimezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
