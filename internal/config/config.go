package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds configuration for the run command.
type Config struct {
	WSURL          string
	DatabaseURL    string
	Store          string
	StartBlock     uint64
	Sources        []Source
	PageSize       uint64
	MaxRetries     int
	RetryBackoff   time.Duration
	RateLimit      int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	IdleFlush      time.Duration
	HealthAddr     string
	DecodeErrors   string
	AutoMigrate    bool
	LogLevel       string
}

// StoreConfig holds configuration for commands that only touch the database.
type StoreConfig struct {
	DatabaseURL string
	Store       string
	LogLevel    string
}

func runDefaults() map[string]any {
	return map[string]any{
		"store":           StorePostgres,
		"start-block":     uint64(0),
		"page-size":       uint64(2000),
		"max-retries":     5,
		"retry-backoff":   500 * time.Millisecond,
		"rate-limit":      10,
		"backoff-initial": time.Second,
		"backoff-max":     time.Minute,
		"idle-flush":      2 * time.Second,
		"health-addr":     ":8090",
		"decode-errors":   "./data/decode_errors.jsonl",
		"auto-migrate":    true,
		"log-level":       "info",
	}
}

// Load merges config file, environment variables, and flags into Config and
// validates the source list.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, runDefaults())
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		WSURL:          v.GetString("ws-url"),
		DatabaseURL:    v.GetString("database-url"),
		Store:          v.GetString("store"),
		StartBlock:     v.GetUint64("start-block"),
		PageSize:       v.GetUint64("page-size"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		RateLimit:      v.GetInt("rate-limit"),
		BackoffInitial: v.GetDuration("backoff-initial"),
		BackoffMax:     v.GetDuration("backoff-max"),
		IdleFlush:      v.GetDuration("idle-flush"),
		HealthAddr:     v.GetString("health-addr"),
		DecodeErrors:   v.GetString("decode-errors"),
		AutoMigrate:    v.GetBool("auto-migrate"),
		LogLevel:       v.GetString("log-level"),
	}

	var entries []sourceEntry
	if err := v.UnmarshalKey("sources", &entries); err != nil {
		return Config{}, fmt.Errorf("parse sources: %w", err)
	}
	legacy := legacyAddresses{
		VerifierRegistry: v.GetString("verifier-registry-address"),
		DeviceRegistry:   v.GetString("device-registry-address"),
		IoTPipeline:      v.GetString("iot-pipeline-address"),
	}

	cfg.Sources, err = resolveSources(entries, legacy, cfg.StartBlock)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the indexer cannot start with.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	if c.WSURL == "" {
		return fmt.Errorf("ws url is required")
	}
	if err := validateStore(c.Store, c.DatabaseURL); err != nil {
		return err
	}
	if c.PageSize == 0 {
		return fmt.Errorf("page size must be greater than zero")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff must satisfy 0 < initial <= max")
	}
	return nil
}

// LoadStore loads the subset of settings needed by migrate and cursor commands.
func LoadStore(cfgFile string, flags *pflag.FlagSet) (StoreConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"store":     StorePostgres,
		"log-level": "info",
	})
	if err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		DatabaseURL: v.GetString("database-url"),
		Store:       v.GetString("store"),
		LogLevel:    v.GetString("log-level"),
	}
	if err := validateStore(cfg.Store, cfg.DatabaseURL); err != nil {
		return StoreConfig{}, err
	}
	return cfg, nil
}

func validateStore(store, databaseURL string) error {
	switch store {
	case StorePostgres:
		if databaseURL == "" {
			return fmt.Errorf("database url is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", store)
	}
	return nil
}
