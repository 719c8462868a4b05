package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL connection and pool configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// AcquireTimeout is carried in the config but not applied anywhere:
	// pooled-connection and lock acquisition are bounded only by the
	// caller's context.
	AcquireTimeout time.Duration
}

// DSN returns the libpq-style connection string pgx expects.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate checks the database configuration for internal consistency.
func (c DatabaseConfig) Validate() error {
	if c.Password == "" {
		return NewValidationError("database", "password", fmt.Errorf("required"))
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return NewValidationError("database", "max_idle_conns",
			fmt.Errorf("(%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns))
	}
	if c.MaxOpenConns < 1 {
		return NewValidationError("database", "max_open_conns", fmt.Errorf("must be at least 1"))
	}
	if c.MaxIdleConns < 0 {
		return NewValidationError("database", "max_idle_conns", fmt.Errorf("cannot be negative"))
	}
	return nil
}

// LoadDatabaseConfigFromEnv loads database configuration from environment
// variables with validation and production-ready defaults, mirroring the
// teacher's database.LoadConfigFromEnv.
func LoadDatabaseConfigFromEnv() (DatabaseConfig, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))

	maxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}
	acquireTimeout, err := time.ParseDuration(getEnvOrDefault("DB_ACQUIRE_TIMEOUT", "5s"))
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DB_ACQUIRE_TIMEOUT: %w", err)
	}

	cfg := DatabaseConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "coordinator"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "coordinator"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
		AcquireTimeout:  acquireTimeout,
	}

	if err := cfg.Validate(); err != nil {
		return DatabaseConfig{}, err
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
