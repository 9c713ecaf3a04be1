package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBPath             string
	BindAddress        string
	UnixSocketPath     string
	RequireBearerToken bool
	BearerToken        string
	RequestTimeout     time.Duration
	LogLevel           string
	SeedFile           string
	SyncSchedule       string
	SyncWindowPast     time.Duration
	SyncWindowFuture   time.Duration
	FeedVaultPath      string
	FeedVaultPass      string
}

func Load() (Config, error) {
	cfg := Config{
		DBPath:             getenvDefault("HEARTH_DB_PATH", "hearth.db"),
		BindAddress:        getenvDefault("HEARTH_BIND_ADDRESS", "127.0.0.1:9480"),
		UnixSocketPath:     strings.TrimSpace(os.Getenv("HEARTH_UNIX_SOCKET")),
		RequireBearerToken: getenvBool("HEARTH_REQUIRE_TOKEN", true),
		BearerToken:        strings.TrimSpace(os.Getenv("HEARTH_BEARER_TOKEN")),
		RequestTimeout:     getenvDuration("HEARTH_REQUEST_TIMEOUT", 15*time.Second),
		LogLevel:           getenvDefault("HEARTH_LOG_LEVEL", "info"),
		SeedFile:           strings.TrimSpace(os.Getenv("HEARTH_SEED_FILE")),
		SyncSchedule:       strings.TrimSpace(os.Getenv("HEARTH_SYNC_SCHEDULE")),
		SyncWindowPast:     getenvDuration("HEARTH_SYNC_WINDOW_PAST", 90*24*time.Hour),
		SyncWindowFuture:   getenvDuration("HEARTH_SYNC_WINDOW_FUTURE", 180*24*time.Hour),
		FeedVaultPath:      strings.TrimSpace(os.Getenv("HEARTH_FEED_VAULT")),
		FeedVaultPass:      strings.TrimSpace(os.Getenv("HEARTH_FEED_VAULT_PASSPHRASE")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.BindAddress == "" && c.UnixSocketPath == "" {
		return errors.New("either bind address or unix socket path must be configured")
	}
	if c.RequireBearerToken && c.BearerToken == "" {
		return errors.New("HEARTH_BEARER_TOKEN is required when token auth is enabled")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	if c.SyncWindowPast < 0 || c.SyncWindowFuture <= 0 {
		return errors.New("sync window must cover a positive span")
	}
	if c.FeedVaultPath != "" && c.FeedVaultPass == "" {
		return errors.New("HEARTH_FEED_VAULT_PASSPHRASE is required when a feed vault is configured")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
