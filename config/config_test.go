package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/onnwee/space-tender/db"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WATCH_USERNAMES", "USER_REFRESH_INTERVAL", "USER_REFRESH_JITTER", "DIRECTORY_REFRESH_INTERVAL",
		"TWITTER_BEARER_TOKEN", "API_MIN_SPACING", "API_MAX_CONCURRENT", "API_HTTP_TIMEOUT",
		"DB_DRIVER", "DB_DSN", "DATA_DIR", "CAPTIONS_AUTO", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := &Config{
		PollInterval:             30 * time.Second,
		PollJitter:               5 * time.Second,
		DirectoryRefreshInterval: 10 * time.Minute,
		APIMinSpacing:            time.Second,
		APIMaxConcurrent:         1,
		HTTPTimeout:              30 * time.Second,
		DBDriver:                 db.Postgres,
		DataDir:                  "data",
		HTTPAddr:                 ":8080",
		LogLevel:                 "info",
		LogFormat:                "text",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with no usernames error = nil")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCH_USERNAMES", " alice, @bob ,,")
	t.Setenv("USER_REFRESH_INTERVAL", "45")
	t.Setenv("USER_REFRESH_JITTER", "2s")
	t.Setenv("API_MIN_SPACING", "250ms")
	t.Setenv("API_MAX_CONCURRENT", "2")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "/tmp/spaces.db")
	t.Setenv("CAPTIONS_AUTO", "1")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, cfg.WatchUsernames); diff != "" {
		t.Errorf("WatchUsernames mismatch (-want +got):\n%s", diff)
	}
	if cfg.PollInterval != 45*time.Second || cfg.PollJitter != 2*time.Second {
		t.Errorf("interval/jitter = %s/%s", cfg.PollInterval, cfg.PollJitter)
	}
	if cfg.APIMinSpacing != 250*time.Millisecond || cfg.APIMaxConcurrent != 2 {
		t.Errorf("gateway = %s/%d", cfg.APIMinSpacing, cfg.APIMaxConcurrent)
	}
	if cfg.DBDriver != db.SQLite || cfg.DBDsn != "/tmp/spaces.db" || !cfg.CaptionsAuto || cfg.LogFormat != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := []struct{ key, val string }{
		{"USER_REFRESH_INTERVAL", "soon"},
		{"API_MAX_CONCURRENT", "two"},
		{"DB_DRIVER", "mysql"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q error = nil", tt.key, tt.val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			WatchUsernames:   []string{"alice"},
			PollInterval:     30 * time.Second,
			PollJitter:       5 * time.Second,
			APIMaxConcurrent: 1,
			LogFormat:        "text",
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero jitter", func(c *Config) { c.PollJitter = 0 }, false},
		{"jitter not below interval", func(c *Config) { c.PollJitter = c.PollInterval }, true},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"no concurrency", func(c *Config) { c.APIMaxConcurrent = 0 }, true},
		{"negative spacing", func(c *Config) { c.APIMinSpacing = -time.Second }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
