// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Call Validate before starting watchers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/space-tender/db"
)

type Config struct {
	// Accounts
	WatchUsernames           []string
	PollInterval             time.Duration
	PollJitter               time.Duration
	DirectoryRefreshInterval time.Duration

	// Upstream
	BearerToken      string
	APIMinSpacing    time.Duration
	APIMaxConcurrent int64
	HTTPTimeout      time.Duration

	// Database
	DBDriver db.Dialect
	DBDsn    string

	// Storage
	DataDir      string
	CaptionsAuto bool

	// HTTP
	HTTPAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables and applies defaults. It fails only on values that are
// present but malformed; missing required values are reported by Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.WatchUsernames = splitList(os.Getenv("WATCH_USERNAMES"))
	if cfg.PollInterval, err = durationEnv("USER_REFRESH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollJitter, err = durationEnv("USER_REFRESH_JITTER", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DirectoryRefreshInterval, err = durationEnv("DIRECTORY_REFRESH_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	// Upstream
	cfg.BearerToken = os.Getenv("TWITTER_BEARER_TOKEN")
	if cfg.APIMinSpacing, err = durationEnv("API_MIN_SPACING", time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationEnv("API_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.APIMaxConcurrent = 1
	if v := os.Getenv("API_MAX_CONCURRENT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid API_MAX_CONCURRENT: %w", err)
		}
		cfg.APIMaxConcurrent = n
	}

	// DB
	if cfg.DBDriver, err = db.ParseDialect(os.Getenv("DB_DRIVER")); err != nil {
		return nil, err
	}
	cfg.DBDsn = os.Getenv("DB_DSN")

	// Storage
	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.CaptionsAuto = os.Getenv("CAPTIONS_AUTO") == "1"

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFormat = strings.ToLower(os.Getenv("LOG_FORMAT"))
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	return cfg, nil
}

// Validate checks the values the watcher service cannot start without.
func (c *Config) Validate() error {
	if len(c.WatchUsernames) == 0 {
		return fmt.Errorf("missing WATCH_USERNAMES: at least one account handle is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("USER_REFRESH_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollJitter < 0 || c.PollJitter >= c.PollInterval {
		return fmt.Errorf("USER_REFRESH_JITTER must be in [0, %s), got %s", c.PollInterval, c.PollJitter)
	}
	if c.APIMinSpacing < 0 {
		return fmt.Errorf("API_MIN_SPACING must not be negative, got %s", c.APIMinSpacing)
	}
	if c.APIMaxConcurrent < 1 {
		return fmt.Errorf("API_MAX_CONCURRENT must be at least 1, got %d", c.APIMaxConcurrent)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "@")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// durationEnv accepts Go durations ("45s") and bare seconds ("45").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
