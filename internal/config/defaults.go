package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pushd/internal/push"
)

const (
	DefaultAddr        = ":3000"
	DefaultStaticDir   = "public"
	DefaultStoragePath = "./data/tokens.db"
	DefaultGroup       = "all"

	AudienceTopic  = "topic"
	AudienceTokens = "tokens"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// applyEnv overlays well-known environment variables on top of the file config.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("PUSHD_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("PUSHD_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("PUSHD_STORAGE_PATH")); v != "" {
		cfg.Storage.Path = v
	}
	if cfg.Gateway.CredentialsFile == "" {
		cfg.Gateway.CredentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
}

// applyDefaults fills zero values. It never overrides explicit settings.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = DefaultAddr
	}
	if cfg.HTTP.StaticDir == "" {
		cfg.HTTP.StaticDir = DefaultStaticDir
	}
	if len(cfg.HTTP.CORSOrigins) == 0 {
		cfg.HTTP.CORSOrigins = []string{"*"}
	}
	if cfg.HTTP.BodyLimit == "" {
		cfg.HTTP.BodyLimit = "64K"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if !cfg.Logging.Console && !cfg.Logging.File.Enabled {
		cfg.Logging.Console = true
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Gateway.Driver == "" {
		cfg.Gateway.Driver = "fcm"
	}
	if cfg.Dispatch.Audience == "" {
		cfg.Dispatch.Audience = AudienceTopic
	}
	if cfg.Dispatch.Group == "" {
		cfg.Dispatch.Group = DefaultGroup
	}
}

// Validate rejects configs that would fail later at wiring time.
// It is also used as the hot-reload gate.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "file":
	default:
		return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.Driver)) {
	case "fcm", "log":
	default:
		return fmt.Errorf("gateway.driver: unknown %q", cfg.Gateway.Driver)
	}
	if cfg.Gateway.RatePerSec < 0 {
		return fmt.Errorf("gateway.rate_per_sec must be >= 0")
	}
	if cfg.Gateway.Burst < 0 {
		return fmt.Errorf("gateway.burst must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Dispatch.Audience)) {
	case AudienceTopic, AudienceTokens:
	default:
		return fmt.Errorf("dispatch.audience: must be %q or %q, got %q", AudienceTopic, AudienceTokens, cfg.Dispatch.Audience)
	}
	if err := push.ValidGroup(strings.TrimSpace(cfg.Dispatch.Group)); err != nil {
		return fmt.Errorf("dispatch.group: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
