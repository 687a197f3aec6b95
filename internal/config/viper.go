package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newViper merges defaults, the config file, INDEXER_ environment variables
// and flags, in increasing precedence.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Unprefixed names used by existing deployments.
	if err := v.BindEnv("database-url", "INDEXER_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("ws-url", "INDEXER_WS_URL", "BLOCKCHAIN_WS_URL"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}
	for _, key := range []string{"verifier-registry-address", "device-registry-address", "iot-pipeline-address", "start-block"} {
		env := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, "INDEXER_"+env, env); err != nil {
			return nil, fmt.Errorf("bind env: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
