package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the per-IP request limiter
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// AuthConfig holds token verification configuration
type AuthConfig struct {
	KeysPath  string   `yaml:"keys_path"`
	ActiveKID string   `yaml:"active_kid"`
	Issuer    string   `yaml:"issuer"`
	Audience  []string `yaml:"audience"`
	// ClockSkew is the tolerated drift in seconds when checking exp/iat.
	ClockSkew int `yaml:"clock_skew"`
	// TokenTTL is the lifetime in seconds of tokens minted by the development issuer.
	TokenTTL int `yaml:"token_ttl"`
	// DevIssuer mounts POST /v1/dev/token. Honored only in development.
	DevIssuer bool `yaml:"dev_issuer"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	// RevokedGrace is how long a revoked record stays readable before the store drops it.
	RevokedGrace time.Duration `yaml:"revoked_grace"`
	// SweepInterval drops index entries of naturally expired sessions so the
	// live totals stay accurate. Negative disables the sweeper.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RedisConfig holds redis connection configuration
type RedisConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// TelemetryConfig holds OpenTelemetry export configuration
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// Load reads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "sessiongate"
	}
	if c.Server.RateLimit.Max == 0 {
		c.Server.RateLimit.Max = 100
	}
	if c.Server.RateLimit.Expiration == 0 {
		c.Server.RateLimit.Expiration = 60
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = 30
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 3600
	}
	if c.Session.KeyPrefix == "" {
		c.Session.KeyPrefix = "sg"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * 24 * time.Hour
	}
	if c.Session.RevokedGrace == 0 {
		c.Session.RevokedGrace = 24 * time.Hour
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 10 * time.Minute
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.App.Name
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Auth.KeysPath == "" {
		errs = append(errs, errors.New("auth.keys_path is required"))
	}
	if c.Auth.ActiveKID == "" {
		errs = append(errs, errors.New("auth.active_kid is required"))
	}
	if c.Auth.Issuer == "" {
		errs = append(errs, errors.New("auth.issuer is required"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.RevokedGrace <= 0 {
		errs = append(errs, errors.New("session.revoked_grace must be positive"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// ClockSkewDuration returns the tolerated clock skew as a duration
func (a *AuthConfig) ClockSkewDuration() time.Duration {
	return time.Duration(a.ClockSkew) * time.Second
}

// TokenTTLDuration returns the development token lifetime as a duration
func (a *AuthConfig) TokenTTLDuration() time.Duration {
	return time.Duration(a.TokenTTL) * time.Second
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return net.JoinHostPort(r.Host, fmt.Sprintf("%d", r.Port))
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		if r == ' ' || r == '\'' || r == '\\' || r == '=' {
			needsQuoting = true
			break
		}
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':') {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}

// URL returns the database connection URL in postgres:// format for golang-migrate
func (d *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&search_path=public", url.QueryEscape(d.SSLMode)),
	}

	return u.String()
}
