// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// SecretKey is the vault master key, hex or base64 encoded. Decoding and
	// length checks happen where the cipher is built.
	SecretKey string
	JWTSecret string

	TickInterval       time.Duration
	MaxAttempts        int
	AttemptTimeout     time.Duration
	RetryBackoff       time.Duration
	JobConcurrency     int
	ProxyFailThreshold int
	FallbackProxy      string

	// InstanceID identifies this process among instances sharing DBPath.
	InstanceID string

	ProbeURL      string
	AutomationURL string
	ProvidersFile string
	GitHubAPIURL  string

	AMQPURL       string
	RedisAddr     string
	RedisPassword string

	LogLevel  string
	LogFormat string
}

// HasSecretKey reports whether a vault master key is configured.
func (c *Config) HasSecretKey() bool {
	return c.SecretKey != ""
}

// LoadDotEnv loads variables from an env file without overriding variables
// already set in the process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads KEYFETCH_* environment variables and returns a validated Config.
// Every variable is optional. Defaults: KEYFETCH_LISTEN_ADDR (127.0.0.1:8080),
// KEYFETCH_DB_PATH (keyfetch.db), KEYFETCH_TICK_INTERVAL (1m),
// KEYFETCH_MAX_ATTEMPTS (3), KEYFETCH_ATTEMPT_TIMEOUT (2m),
// KEYFETCH_RETRY_BACKOFF (2s), KEYFETCH_JOB_CONCURRENCY (3),
// KEYFETCH_PROXY_FAIL_THRESHOLD (3), KEYFETCH_INSTANCE_ID (host name),
// KEYFETCH_LOG_LEVEL (info),
// KEYFETCH_LOG_FORMAT (text). Malformed values are reported immediately.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    envOr("KEYFETCH_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:        envOr("KEYFETCH_DB_PATH", "keyfetch.db"),
		SecretKey:     strings.TrimSpace(os.Getenv("KEYFETCH_SECRET_KEY")),
		JWTSecret:     os.Getenv("KEYFETCH_JWT_SECRET"),
		FallbackProxy: strings.TrimSpace(os.Getenv("KEYFETCH_FALLBACK_PROXY")),
		InstanceID:    strings.TrimSpace(envOr("KEYFETCH_INSTANCE_ID", defaultInstanceID())),
		ProbeURL:      os.Getenv("KEYFETCH_PROBE_URL"),
		AutomationURL: os.Getenv("KEYFETCH_AUTOMATION_URL"),
		ProvidersFile: os.Getenv("KEYFETCH_PROVIDERS_FILE"),
		GitHubAPIURL:  os.Getenv("KEYFETCH_GITHUB_API_URL"),
		AMQPURL:       os.Getenv("KEYFETCH_AMQP_URL"),
		RedisAddr:     os.Getenv("KEYFETCH_REDIS_ADDR"),
		RedisPassword: os.Getenv("KEYFETCH_REDIS_PASSWORD"),
		LogLevel:      strings.ToLower(envOr("KEYFETCH_LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(envOr("KEYFETCH_LOG_FORMAT", "text")),
	}

	var err error
	if cfg.TickInterval, err = durationEnv("KEYFETCH_TICK_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.AttemptTimeout, err = durationEnv("KEYFETCH_ATTEMPT_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = durationEnv("KEYFETCH_RETRY_BACKOFF", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = intEnv("KEYFETCH_MAX_ATTEMPTS", 3, 1, 10); err != nil {
		return nil, err
	}
	if cfg.JobConcurrency, err = intEnv("KEYFETCH_JOB_CONCURRENCY", 3, 1, 5); err != nil {
		return nil, err
	}
	if cfg.ProxyFailThreshold, err = intEnv("KEYFETCH_PROXY_FAIL_THRESHOLD", 3, 1, 100); err != nil {
		return nil, err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("KEYFETCH_LOG_LEVEL must be debug, info, warn or error, got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("KEYFETCH_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "keyfetch"
	}
	return host
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}

func intEnv(key string, fallback, lo, hi int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be between %d and %d, got %d", key, lo, hi, n)
	}
	return n, nil
}
