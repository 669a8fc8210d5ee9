// Package config loads the engine's nested runtime configuration through
// viper, replacing the teacher's flat env.go/config.go env-var scanner
// with a hierarchical env.*/app.* namespace.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// App holds the top-level application knobs (spec.md §6's app.* namespace).
type App struct {
	Port            int    `mapstructure:"port"`
	SessionID       string `mapstructure:"session_id"`
	DebugMode       bool   `mapstructure:"debug_mode"`
	StateFile       string `mapstructure:"state_file"`
	PersistState    bool   `mapstructure:"persist_state"`
}

// Env holds the env.* namespace: exchange credentials, caching, database.
type Env struct {
	ExchangeAPIKeyID      string        `mapstructure:"exchange_api_key_id"`
	NotificationsAPIKeyID string        `mapstructure:"notifications_api_key_id"`
	Caching               Caching       `mapstructure:"caching"`
	Database              Database      `mapstructure:"database"`
	PubSub                PubSub        `mapstructure:"pubsub"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
}

// Caching selects and configures the §9 cache-expiry map driver.
type Caching struct {
	Driver   string `mapstructure:"driver"` // "file" or "redis"
	RedisURL string `mapstructure:"redis_url"`
}

// Database holds a state-store DSN; no package in this repository reads it.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// PubSub configures the redis channel/active-process set naming.
type PubSub struct {
	RedisURL string `mapstructure:"redis_url"`
}

// Config is the full decoded tree for one engine process.
type Config struct {
	App App `mapstructure:"app"`
	Env Env `mapstructure:"env"`
}

// Load reads configuration from an optional file at path (if non-empty)
// and the process environment, applying the ENV.FOO.BAR -> ENV_FOO_BAR
// override rule via viper's key replacer.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.port", 8080)
	v.SetDefault("app.session_id", "default")
	v.SetDefault("app.debug_mode", false)
	v.SetDefault("app.state_file", "")
	v.SetDefault("app.persist_state", false)
	v.SetDefault("env.caching.driver", "file")
	v.SetDefault("env.heartbeat_interval", 30*time.Second)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "config: reading %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: decoding into typed struct")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the preconditions the engine needs before boot.
func (c Config) Validate() error {
	if c.App.SessionID == "" {
		return errors.Wrap(ctxerr.ErrInvalidConfig, "config: app.session_id must be set")
	}
	if c.App.PersistState && c.App.StateFile == "" {
		return errors.Wrap(ctxerr.ErrInvalidConfig, "config: app.persist_state requires app.state_file")
	}
	switch c.Env.Caching.Driver {
	case "file", "redis":
	default:
		return errors.Wrapf(ctxerr.ErrInvalidConfig, "config: unknown env.caching.driver %q", c.Env.Caching.Driver)
	}
	if c.Env.Caching.Driver == "redis" && c.Env.Caching.RedisURL == "" {
		return errors.Wrap(ctxerr.ErrInvalidConfig, "config: env.caching.redis_url required for redis driver")
	}
	return nil
}
