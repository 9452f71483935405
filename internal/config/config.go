// Package config provides configuration for the gateway, read from an
// optional YAML file overlaid by environment variables (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Backend (persistence + generation collaborator)
	BackendBaseURL string
	BackendToken   string
	BackendTimeout time.Duration

	// Stream coordination
	EmitInterval      time.Duration
	CacheCapacity     int
	HeartbeatInterval time.Duration

	// NATS settings (empty URL disables the event bus)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in that order. path may be empty; the CONFIG_FILE
// environment variable is consulted when it is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,

		BackendBaseURL: "http://localhost:9090",
		BackendTimeout: 30 * time.Second,

		EmitInterval:      60 * time.Millisecond,
		CacheCapacity:     20,
		HeartbeatInterval: 30 * time.Second,

		NATSURL: "",

		JWTSecret:     "development-secret-change-in-production",
		JWTExpiration: 15 * time.Minute,

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
		TracingEnabled:  false,
	}
}

// duration decodes Go duration strings ("250ms", "30s") from YAML, which
// has no native time.Duration representation.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config for the YAML file. Pointer fields distinguish
// absent keys from zero values so the file only overrides what it names.
type fileConfig struct {
	ServerPort         *string   `yaml:"server_port"`
	ServerReadTimeout  *duration `yaml:"server_read_timeout"`
	ServerWriteTimeout *duration `yaml:"server_write_timeout"`

	BackendBaseURL *string   `yaml:"backend_base_url"`
	BackendToken   *string   `yaml:"backend_token"`
	BackendTimeout *duration `yaml:"backend_timeout"`

	EmitInterval      *duration `yaml:"emit_interval"`
	CacheCapacity     *int      `yaml:"cache_capacity"`
	HeartbeatInterval *duration `yaml:"heartbeat_interval"`

	NATSURL      *string `yaml:"nats_url"`
	NATSCAFile   *string `yaml:"nats_ca_file"`
	NATSCertFile *string `yaml:"nats_cert_file"`
	NATSKeyFile  *string `yaml:"nats_key_file"`
	NATSToken    *string `yaml:"nats_token"`

	JWTSecret     *string   `yaml:"jwt_secret"`
	JWTExpiration *duration `yaml:"jwt_expiration"`

	RateLimitRequests *int      `yaml:"rate_limit_requests"`
	RateLimitWindow   *duration `yaml:"rate_limit_window"`

	LogLevel *string `yaml:"log_level"`

	TracingEndpoint *string `yaml:"tracing_endpoint"`
	TracingEnabled  *bool   `yaml:"tracing_enabled"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&c.ServerPort, fc.ServerPort)
	setDuration(&c.ServerReadTimeout, fc.ServerReadTimeout)
	setDuration(&c.ServerWriteTimeout, fc.ServerWriteTimeout)

	setString(&c.BackendBaseURL, fc.BackendBaseURL)
	setString(&c.BackendToken, fc.BackendToken)
	setDuration(&c.BackendTimeout, fc.BackendTimeout)

	setDuration(&c.EmitInterval, fc.EmitInterval)
	setInt(&c.CacheCapacity, fc.CacheCapacity)
	setDuration(&c.HeartbeatInterval, fc.HeartbeatInterval)

	setString(&c.NATSURL, fc.NATSURL)
	setString(&c.NATSCAFile, fc.NATSCAFile)
	setString(&c.NATSCertFile, fc.NATSCertFile)
	setString(&c.NATSKeyFile, fc.NATSKeyFile)
	setString(&c.NATSToken, fc.NATSToken)

	setString(&c.JWTSecret, fc.JWTSecret)
	setDuration(&c.JWTExpiration, fc.JWTExpiration)

	setInt(&c.RateLimitRequests, fc.RateLimitRequests)
	setDuration(&c.RateLimitWindow, fc.RateLimitWindow)

	setString(&c.LogLevel, fc.LogLevel)

	setString(&c.TracingEndpoint, fc.TracingEndpoint)
	if fc.TracingEnabled != nil {
		c.TracingEnabled = *fc.TracingEnabled
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func (c *Config) loadEnv() {
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)

	c.BackendBaseURL = getEnv("BACKEND_BASE_URL", c.BackendBaseURL)
	c.BackendToken = getEnv("BACKEND_TOKEN", c.BackendToken)
	c.BackendTimeout = getDurationEnv("BACKEND_TIMEOUT", c.BackendTimeout)

	c.EmitInterval = getDurationEnv("EMIT_INTERVAL", c.EmitInterval)
	c.CacheCapacity = getIntEnv("CACHE_CAPACITY", c.CacheCapacity)
	c.HeartbeatInterval = getDurationEnv("HEARTBEAT_INTERVAL", c.HeartbeatInterval)

	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiration = getDurationEnv("JWT_EXPIRATION", c.JWTExpiration)

	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return errors.New("backend base URL is required")
	}
	if c.EmitInterval <= 0 {
		return fmt.Errorf("emit interval must be positive, got %s", c.EmitInterval)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
