// Package config loads runtime configuration from an optional file and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the server's runtime parameters.
type Config struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	DatabaseDSN string        `mapstructure:"database_dsn"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	LogLevel    string        `mapstructure:"log_level"`
	TickEvery   time.Duration `mapstructure:"tick_every"`
}

const (
	defaultListenAddr = ":8080"
	defaultLogLevel   = "info"
	defaultTickEvery  = 100 * time.Millisecond
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with YAPPING_ and
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("YAPPING")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Defaults double as key registrations: AutomaticEnv only surfaces
	// keys viper already knows about.
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("tick_every", defaultTickEvery.String())
	v.SetDefault("redis_addr", "")
	v.SetDefault("database_dsn", "")
	v.SetDefault("jwt_secret", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = defaultTickEvery
	}

	if cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("database_dsn (YAPPING_DATABASE_DSN) is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt_secret (YAPPING_JWT_SECRET) is required")
	}
	return cfg, nil
}
