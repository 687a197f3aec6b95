package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"lcoreIndexer/internal/model"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	Source   string
	Kind     model.SourceKind
	In       string
	Out      string
	Errors   string
	LogLevel string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"out":       "./data/events.jsonl",
		"errors":    "./data/decode_errors.jsonl",
		"log-level": "info",
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	kind, err := model.ParseSourceKind(v.GetString("kind"))
	if err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		Source:   v.GetString("source"),
		Kind:     kind,
		In:       v.GetString("in"),
		Out:      v.GetString("out"),
		Errors:   v.GetString("errors"),
		LogLevel: v.GetString("log-level"),
	}
	if cfg.Source == "" {
		cfg.Source = string(kind)
	}
	if cfg.In == "" {
		return DecodeConfig{}, fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return DecodeConfig{}, fmt.Errorf("output path is required")
	}
	return cfg, nil
}

// DumpConfig holds configuration for the dump command.
type DumpConfig struct {
	WSURL        string
	Source       string
	Address      string
	FromBlock    uint64
	Out          string
	PageSize     uint64
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    int
	LogLevel     string
}

// LoadDump merges config file, environment variables, and flags into DumpConfig.
func LoadDump(cfgFile string, flags *pflag.FlagSet) (DumpConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"out":           "./data/logs.jsonl",
		"page-size":     uint64(2000),
		"max-retries":   5,
		"retry-backoff": 500 * time.Millisecond,
		"rate-limit":    10,
		"log-level":     "info",
	})
	if err != nil {
		return DumpConfig{}, err
	}

	cfg := DumpConfig{
		WSURL:        v.GetString("ws-url"),
		Source:       v.GetString("source"),
		Address:      v.GetString("address"),
		FromBlock:    v.GetUint64("from"),
		Out:          v.GetString("out"),
		PageSize:     v.GetUint64("page-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		RateLimit:    v.GetInt("rate-limit"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.WSURL == "" {
		return DumpConfig{}, fmt.Errorf("ws url is required")
	}
	if cfg.Source == "" {
		cfg.Source = "dump"
	}
	if cfg.PageSize == 0 {
		return DumpConfig{}, fmt.Errorf("page size must be greater than zero")
	}
	return cfg, nil
}
