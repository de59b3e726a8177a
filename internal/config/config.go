// Package config handles loading and validating runtime configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig holds the tuning knobs of one pooled data source.
type PoolConfig struct {
	MaxActive                   int           `yaml:"max_active"`
	MaxIdle                     int           `yaml:"max_idle"`
	MaxCheckoutTime             time.Duration `yaml:"max_checkout_time"`
	TimeToWait                  time.Duration `yaml:"time_to_wait"`
	LocalBadConnectionTolerance int           `yaml:"local_bad_connection_tolerance"`
	PingQuery                   string        `yaml:"ping_query"`
	PingEnabled                 bool          `yaml:"ping_enabled"`
	PingNotUsedFor              time.Duration `yaml:"ping_not_used_for"`
	HealthCheckInterval         time.Duration `yaml:"health_check_interval"`
}

// Environment describes one database target and how it is pooled.
// The environment ID is also the cache key discriminator.
type Environment struct {
	ID             string            `yaml:"id"`
	Driver         string            `yaml:"driver"`
	URL            string            `yaml:"url"`
	Username       string            `yaml:"username"`
	Password       string            `yaml:"password"`
	Properties     map[string]string `yaml:"properties"`
	AutoCommit     *bool             `yaml:"auto_commit"`
	Isolation      string            `yaml:"isolation"`
	NetworkTimeout time.Duration     `yaml:"network_timeout"`
	Pooled         *bool             `yaml:"pooled"`
	Pool           PoolConfig        `yaml:"pool"`
}

// IsAutoCommit reports the effective auto-commit mode (default true).
func (e *Environment) IsAutoCommit() bool {
	return e.AutoCommit == nil || *e.AutoCommit
}

// IsPooled reports whether connections are pooled (default true).
func (e *Environment) IsPooled() bool {
	return e.Pooled == nil || *e.Pooled
}

// CacheConfig configures second-level caches built for mapped statements.
type CacheConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Backend      string `yaml:"backend"`  // memory | redis
	Eviction     string `yaml:"eviction"` // lru | fifo
	Size         int    `yaml:"size"`
	Serialize    bool   `yaml:"serialize"`
	Synchronized *bool  `yaml:"synchronized"`
}

// IsSynchronized reports whether the chain is wrapped in a mutex (default true).
func (c *CacheConfig) IsSynchronized() bool {
	return c.Synchronized == nil || *c.Synchronized
}

// ExecutorConfig selects the default executor for new sessions.
type ExecutorConfig struct {
	DefaultType string `yaml:"default_type"` // simple | batch
}

// RedisConfig holds the Redis connection configuration for the shared cache backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// AdminConfig configures the health/metrics HTTP server.
type AdminConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the root configuration structure.
type Config struct {
	Environments []Environment  `yaml:"environments"`
	Cache        CacheConfig    `yaml:"cache"`
	Executor     ExecutorConfig `yaml:"executor"`
	Redis        RedisConfig    `yaml:"redis"`
	Admin        AdminConfig    `yaml:"admin"`
	Debug        bool           `yaml:"debug"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, validates and defaults a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// validate checks mandatory fields.
func (c *Config) validate() error {
	if len(c.Environments) == 0 {
		return fmt.Errorf("at least one environment must be configured")
	}
	seen := make(map[string]bool, len(c.Environments))
	for i, e := range c.Environments {
		if e.ID == "" {
			return fmt.Errorf("environments[%d].id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("environments[%d].id %q is duplicated", i, e.ID)
		}
		seen[e.ID] = true
		if e.Driver == "" {
			return fmt.Errorf("environments[%d].driver is required", i)
		}
		if e.URL == "" {
			return fmt.Errorf("environments[%d].url is required", i)
		}
		if e.Pool.MaxActive < 0 || e.Pool.MaxIdle < 0 {
			return fmt.Errorf("environments[%d].pool limits must not be negative", i)
		}
		switch e.Isolation {
		case "", "default", "read_uncommitted", "read_committed", "repeatable_read", "serializable":
		default:
			return fmt.Errorf("environments[%d].isolation %q is not supported", i, e.Isolation)
		}
	}
	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	switch c.Cache.Eviction {
	case "", "lru", "fifo":
	default:
		return fmt.Errorf("cache.eviction %q is not supported", c.Cache.Eviction)
	}
	switch c.Executor.DefaultType {
	case "", "simple", "batch":
	default:
		return fmt.Errorf("executor.default_type %q is not supported", c.Executor.DefaultType)
	}
	return nil
}

// applyDefaults fills in reasonable defaults for unset optional fields.
func (c *Config) applyDefaults() {
	for i := range c.Environments {
		p := &c.Environments[i].Pool
		if p.MaxActive == 0 {
			p.MaxActive = 10
		}
		if p.MaxIdle == 0 {
			p.MaxIdle = 5
		}
		if p.MaxCheckoutTime == 0 {
			p.MaxCheckoutTime = 20 * time.Second
		}
		if p.TimeToWait == 0 {
			p.TimeToWait = 20 * time.Second
		}
		if p.LocalBadConnectionTolerance == 0 {
			p.LocalBadConnectionTolerance = 3
		}
		if p.PingQuery == "" {
			p.PingQuery = "NO PING QUERY SET"
		}
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Eviction == "" {
		c.Cache.Eviction = "lru"
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = 1024
	}
	if c.Cache.Backend == "redis" {
		// Values must cross process boundaries as bytes.
		c.Cache.Serialize = true
	}
	if c.Executor.DefaultType == "" {
		c.Executor.DefaultType = "simple"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "mapper:cache"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Admin.ReadTimeout == 0 {
		c.Admin.ReadTimeout = 10 * time.Second
	}
	if c.Admin.WriteTimeout == 0 {
		c.Admin.WriteTimeout = 10 * time.Second
	}
}

// EnvironmentByID returns the environment configuration for a given ID.
func (c *Config) EnvironmentByID(id string) (*Environment, bool) {
	for i := range c.Environments {
		if c.Environments[i].ID == id {
			return &c.Environments[i], true
		}
	}
	return nil, false
}
