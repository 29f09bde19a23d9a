package config

import (
	"fmt"
	"path/filepath"

	"github.com/agent-fabric/connector/core/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var clog = log.For("config")

// Load reads the base config file at path, merges an environment-specific
// overlay ("<env>.yaml" in the same directory, e.g. prod.yaml) if present,
// applies a local .env overlay for development (core/walletserver's
// config.Load pattern), and unmarshals into a NodeConfig. env selects the
// overlay file, and becomes the environment-gated validation tier (§6.6)
// only when the merged config sets no environment of its own; an empty env
// skips the overlay merge.
func Load(path, env string) (*NodeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if env != "" {
		overlay := filepath.Join(filepath.Dir(path), env+".yaml")
		v.SetConfigFile(overlay)
		if err := v.MergeInConfig(); err != nil {
			clog.WithField("overlay", overlay).WithField("error", err).Warn("no environment overlay merged")
		}
	}

	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		clog.Debug("no .env overlay found, continuing with file + defaults")
	}
	v.AutomaticEnv()
	v.SetEnvPrefix("connector")

	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Environment == "" {
		cfg.Environment = env
	}
	return &cfg, nil
}
