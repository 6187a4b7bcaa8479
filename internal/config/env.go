package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvironmentType represents the application environment
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentProduction  EnvironmentType = "production"
)

// String returns the string representation of the environment type
func (e EnvironmentType) String() string {
	return string(e)
}

// IsValid checks if the environment type is valid
func (e EnvironmentType) IsValid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// IsProduction reports whether the environment is production
func (e EnvironmentType) IsProduction() bool {
	return e == EnvironmentProduction
}

// IsDevelopment reports whether the environment was explicitly set to development
func (e EnvironmentType) IsDevelopment() bool {
	return e == EnvironmentDevelopment
}

// Environment holds the environment variables
type Environment struct {
	Environment      EnvironmentType `env:"ENVIRONMENT"`
	ConfigPath       string          `env:"CONFIG_PATH"`
	RedisPassword    string          `env:"REDIS_PASSWORD"`
	DatabasePassword string          `env:"DATABASE_PASSWORD"`
}

// LoadEnv loads a .env file when present and reads the environment variables.
// An unset ENVIRONMENT means production; unknown values are kept as given
// and rejected by Validate.
func LoadEnv() *Environment {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	envStr := strings.ToLower(strings.TrimSpace(getEnv("ENVIRONMENT", string(EnvironmentProduction))))

	return &Environment{
		Environment:      EnvironmentType(envStr),
		ConfigPath:       getEnv("CONFIG_PATH", "config.yaml"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		DatabasePassword: getEnv("DATABASE_PASSWORD", ""),
	}
}

// Validate rejects unknown environments and settings that must never reach
// production.
func (e *Environment) Validate(cfg *Config) error {
	if !e.Environment.IsValid() {
		return fmt.Errorf("ENVIRONMENT %q must be %s or %s", e.Environment, EnvironmentDevelopment, EnvironmentProduction)
	}
	if cfg != nil && cfg.Auth.DevIssuer && !e.Environment.IsDevelopment() {
		return fmt.Errorf("auth.dev_issuer is only allowed when ENVIRONMENT=%s", EnvironmentDevelopment)
	}
	return nil
}

// DevIssuerEnabled reports whether the token minting route may be mounted
func (e *Environment) DevIssuerEnabled(cfg *Config) bool {
	return e != nil && cfg != nil && e.Environment.IsDevelopment() && cfg.Auth.DevIssuer
}

// Apply overlays secrets taken from the environment onto the file configuration
func (e *Environment) Apply(cfg *Config) {
	if e.RedisPassword != "" {
		cfg.Redis.Password = e.RedisPassword
	}
	if e.DatabasePassword != "" {
		cfg.Database.Password = e.DatabasePassword
	}
}

// getEnv gets the environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
