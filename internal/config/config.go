// Package config loads relay settings from defaults, an optional YAML file
// and RELAY_-prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// RELAY_LISTEN_ADDR.
const EnvPrefix = "RELAY"

type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	ServerName        string        `mapstructure:"server_name"`
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	IdentifyTimeout   time.Duration `mapstructure:"identify_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`

	// RedisAddr enables rate limiting and user snapshots. Empty disables both.
	RedisAddr string `mapstructure:"redis_addr"`
	NATSURL   string `mapstructure:"nats_url"`
	// DatabaseDSN enables report persistence. Empty keeps reports in memory.
	DatabaseDSN string `mapstructure:"database_dsn"`

	AdminIDs      []string `mapstructure:"admin_ids"`
	DedupeReports bool     `mapstructure:"dedupe_reports"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("server_name", "relay-1")
	v.SetDefault("worker_pool_size", 256)
	v.SetDefault("max_connections", 100000)
	v.SetDefault("read_timeout", 10*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("heartbeat_timeout", 10*time.Second)
	v.SetDefault("identify_timeout", 30*time.Second)
	v.SetDefault("cleanup_interval", 5*time.Second)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("database_dsn", "")
	v.SetDefault("admin_ids", []string{})
	v.SetDefault("dedupe_reports", false)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.AdminIDs = cleanIDs(c.AdminIDs)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.WorkerPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("worker_pool_size must be positive, got %d", c.WorkerPoolSize))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections))
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("heartbeat_interval and heartbeat_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// cleanIDs trims entries and drops empty ones; environment values arrive
// comma-separated and may carry spaces.
func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		for _, part := range strings.Split(id, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
