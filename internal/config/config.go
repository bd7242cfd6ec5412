// Package config loads YAML configuration with environment overrides for
// secrets. Validation is fail-fast: a misconfigured server never starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"musegate/pkg/domain"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTL string `yaml:"sessionTTL"`
	JWTSecret  string `yaml:"jwtSecret"`

	AuthRateLimitPerMinute int      `yaml:"authRateLimitPerMinute"`
	TrustedProxies         []string `yaml:"trustedProxies"`

	PresignTTL        string `yaml:"presignTTL"`
	HistoryLimit      int    `yaml:"historyLimit"`
	RefundOnFailure   bool   `yaml:"refundOnFailure"`
	MaxUploadBytes    int64  `yaml:"maxUploadBytes"`
	ReconcileInterval string `yaml:"reconcileInterval"`

	Packages []domain.TokenPackage `yaml:"packages"`

	Minio struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"accessKey"`
		SecretKey string `yaml:"secretKey"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	PayPal struct {
		BaseURL      string `yaml:"baseURL"`
		ClientID     string `yaml:"clientID"`
		ClientSecret string `yaml:"clientSecret"`
	} `yaml:"paypal"`

	Gemini struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"gemini"`

	Stability struct {
		APIKey string `yaml:"apiKey"`
		Model  string `yaml:"model"`
	} `yaml:"stability"`

	GoogleOAuthClientID string `yaml:"googleOAuthClientID"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("PAYPAL_CLIENT_ID"); v != "" {
		cfg.PayPal.ClientID = v
	}
	if v := os.Getenv("PAYPAL_CLIENT_SECRET"); v != "" {
		cfg.PayPal.ClientSecret = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("STABILITY_API_KEY"); v != "" {
		cfg.Stability.APIKey = v
	}
	if v := os.Getenv("GOOGLE_OAUTH_CLIENT_ID"); v != "" {
		cfg.GoogleOAuthClientID = v
	}
	if v := os.Getenv("AUTH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuthRateLimitPerMinute = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if cfg.JWTSecret == "" && cfg.RedisAddr == "" {
		return errors.New("config: jwtSecret or redisAddr is required for sessions")
	}
	if cfg.AuthRateLimitPerMinute < 0 {
		return errors.New("config: authRateLimitPerMinute must be >= 0")
	}
	if cfg.AuthRateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: authRateLimitPerMinute requires redisAddr")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if len(cfg.Packages) == 0 {
		return errors.New("config: at least one token package is required")
	}
	seen := make(map[string]bool, len(cfg.Packages))
	for _, p := range cfg.Packages {
		if p.ID == "" || p.Tokens <= 0 || p.Price == "" || p.Currency == "" {
			return fmt.Errorf("config: invalid token package %q", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate token package %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// ParseDuration parses an optional duration string; empty input yields zero.
func ParseDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return dur, nil
}
