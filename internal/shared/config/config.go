package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Matching   MatchingConfig
	Registry   RegistryConfig
	Notify     NotifyConfig
	Roster     RosterConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for EventStoreDB.
type EventStoreConfig struct {
	// Host is the EventStoreDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

type AuthConfig struct {
	JWTSecret string
}

// MatchingConfig holds the tunable scoring weights for doctor matching.
// Defaults preserve the dominance ordering: specialty match outweighs
// load differences, which outweigh recency.
type MatchingConfig struct {
	BaseScore      float64
	SpecialtyBonus float64
	LoadPenalty    float64
	RecencyBonus   float64
	RecencyWindow  time.Duration
}

// RegistryConfig holds availability registry limits.
type RegistryConfig struct {
	// DefaultMaxLoad is assigned to doctors that never configured one
	DefaultMaxLoad int
	// DefaultQueryLimit bounds GetAvailableDoctors when no limit is given
	DefaultQueryLimit int
	// MaxQueryLimit is the hard cap on a caller-supplied limit
	MaxQueryLimit int
}

// NotifyConfig holds notification dispatcher settings.
type NotifyConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// RosterConfig holds settings for the legacy HIS roster adapter.
type RosterConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	PollInterval time.Duration
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "telehealth"),
			Password: getEnv("DB_PASSWORD", "telehealth"),
			Database: getEnv("DB_NAME", "telehealth"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Matching: MatchingConfig{
			BaseScore:      getEnvFloat("MATCH_BASE_SCORE", 10),
			SpecialtyBonus: getEnvFloat("MATCH_SPECIALTY_BONUS", 25),
			LoadPenalty:    getEnvFloat("MATCH_LOAD_PENALTY", 5),
			RecencyBonus:   getEnvFloat("MATCH_RECENCY_BONUS", 3),
			RecencyWindow:  getEnvDuration("MATCH_RECENCY_WINDOW", 5*time.Minute),
		},
		Registry: RegistryConfig{
			DefaultMaxLoad:    getEnvInt("REGISTRY_DEFAULT_MAX_LOAD", 5),
			DefaultQueryLimit: getEnvInt("REGISTRY_DEFAULT_QUERY_LIMIT", 20),
			MaxQueryLimit:     getEnvInt("REGISTRY_MAX_QUERY_LIMIT", 50),
		},
		Notify: NotifyConfig{
			Workers:       getEnvInt("NOTIFY_WORKERS", 4),
			BufferSize:    getEnvInt("NOTIFY_BUFFER_SIZE", 1000),
			RetryAttempts: getEnvInt("NOTIFY_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("NOTIFY_RETRY_DELAY", 30*time.Second),
		},
		Roster: RosterConfig{
			Enabled:      getEnvBool("ROSTER_ENABLED", false),
			Host:         getEnv("ROSTER_DB_HOST", "localhost"),
			Port:         getEnvInt("ROSTER_DB_PORT", 1433),
			User:         getEnv("ROSTER_DB_USER", "sa"),
			Password:     getEnv("ROSTER_DB_PASSWORD", ""),
			Database:     getEnv("ROSTER_DB_NAME", "his"),
			PollInterval: getEnvDuration("ROSTER_POLL_INTERVAL", 5*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
