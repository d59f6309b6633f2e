package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Errors returned by Validate. These are fatal: the service must refuse to
// accept traffic rather than fail per-request.
var (
	ErrMissingSigningSecret = errors.New("config: signing secret is required")
	ErrMissingBaseURL       = errors.New("config: tracking base URL is required")
)

// Config holds all configuration for the analytics core.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Signing  SigningConfig  `yaml:"signing"`
	Tracking TrackingConfig `yaml:"tracking"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// SigningConfig holds token signing configuration. Secret is required and
// never has a default.
type SigningConfig struct {
	Secret        string `yaml:"secret"`
	Algorithm     string `yaml:"algorithm"`
	MaxAgeSeconds int64  `yaml:"max_age_seconds"`
}

// MaxAge returns the configured token max age as a duration.
func (c SigningConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// TrackingConfig holds the public endpoints embedded in outgoing mail.
type TrackingConfig struct {
	BaseURL       string `yaml:"base_url"`
	PixelEndpoint string `yaml:"pixel_endpoint"`
	ClickEndpoint string `yaml:"click_endpoint"`
}

// StorageConfig selects the event/test persistence backend.
type StorageConfig struct {
	Type        string `yaml:"type"` // "memory" or "postgres"
	DatabaseURL string `yaml:"database_url"`
}

// RedisConfig holds the optional Redis assignment store settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Default returns a Config with all defaults applied and no secrets set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Signing.Algorithm == "" {
		c.Signing.Algorithm = "sha256"
	}
	if c.Signing.MaxAgeSeconds == 0 {
		c.Signing.MaxAgeSeconds = 30 * 24 * 3600
	}
	if c.Tracking.PixelEndpoint == "" {
		c.Tracking.PixelEndpoint = "/track/open"
	}
	if c.Tracking.ClickEndpoint == "" {
		c.Tracking.ClickEndpoint = "/track/click"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
// An empty path yields pure defaults plus env overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("TRACKING_SIGNING_SECRET"); v != "" {
		cfg.Signing.Secret = v
	}
	if v := os.Getenv("TRACKING_SIGNING_ALGORITHM"); v != "" {
		cfg.Signing.Algorithm = v
	}
	if v := os.Getenv("TRACKING_TOKEN_MAX_AGE"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			cfg.Signing.MaxAgeSeconds = secs
		}
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_PIXEL_ENDPOINT"); v != "" {
		cfg.Tracking.PixelEndpoint = v
	}
	if v := os.Getenv("TRACKING_CLICK_ENDPOINT"); v != "" {
		cfg.Tracking.ClickEndpoint = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
		cfg.Storage.Type = "postgres"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}

// Validate checks fail-closed requirements. It must be called before the
// server starts accepting traffic.
func (c *Config) Validate() error {
	if c.Signing.Secret == "" {
		return ErrMissingSigningSecret
	}
	if c.Tracking.BaseURL == "" {
		return ErrMissingBaseURL
	}
	return nil
}
