// Package config loads and validates the server configuration from an
// optional config.yml, an optional .env file, and PULSEGRID_* environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RateLimit defines the per-connection token bucket: Burst messages
// allowed at once, refilled over RefillInterval.
type RateLimit struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// Log controls the zerolog output.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config holds every runtime setting for the server.
type Config struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// MaxMessageSize caps inbound WebSocket frames in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`

	// ActivityTimeout is how long a connection may stay silent (no frame,
	// no pong) before it is torn down. Advertised to clients in
	// connection_established, in whole seconds.
	ActivityTimeout time.Duration `mapstructure:"activity_timeout"`

	// AuthSecret is the shared app secret used to verify channel auth
	// tokens. Must be set outside of local development.
	AuthSecret string `mapstructure:"auth_secret"`

	RateLimit       RateLimit     `mapstructure:"rate_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Log             Log           `mapstructure:"log"`
}

// keys lists every config key so environment overrides bind explicitly;
// viper's Unmarshal only sees env vars that were bound.
var keys = []string{
	"port",
	"allowed_origins",
	"max_message_size",
	"activity_timeout",
	"auth_secret",
	"rate_limit.burst",
	"rate_limit.refill_interval",
	"shutdown_timeout",
	"log.level",
	"log.format",
}

// Load builds the configuration. configFile may be empty, in which case only
// defaults, .env, and environment variables apply.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PULSEGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", ":8080")
	v.SetDefault("allowed_origins", []string{"http://localhost:8080"})
	v.SetDefault("max_message_size", 10240)
	v.SetDefault("activity_timeout", "120s")
	v.SetDefault("auth_secret", "dev-secret")
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.refill_interval", "1s")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// sanitize clamps out-of-range values back to their defaults; a bad tuning
// setting should degrade, not crash.
func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if !strings.HasPrefix(c.Port, ":") && !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 10240
	}
	if c.ActivityTimeout < time.Second {
		c.ActivityTimeout = 120 * time.Second
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Validate rejects settings that cannot be repaired by sanitize.
func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("auth_secret must not be empty")
	}
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error (got %q)", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console (got %q)", c.Log.Format)
	}
	return nil
}

// ActivityTimeoutSeconds is the value advertised in connection_established.
func (c *Config) ActivityTimeoutSeconds() int {
	return int(c.ActivityTimeout / time.Second)
}
