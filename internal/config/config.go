// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// Config is the top-level mnemo configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

// ServerConfig controls how mnemo listens for connections.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// StorageConfig locates the durable SQLite store.
type StorageConfig struct {
	Path         string        `mapstructure:"path"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// CacheConfig controls the in-process tier and the optional Redis tier.
type CacheConfig struct {
	L1Capacity int           `mapstructure:"l1_capacity"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the distributed tier's endpoint and its breaker
// settings. The tier is optional; a disabled tier means the cascade is
// L1 then the durable store.
type RedisConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	OpTimeout        time.Duration `mapstructure:"op_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// EmbeddingConfig holds the embedding upstream's credentials and its
// breaker settings.
type EmbeddingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Dimensions       int           `mapstructure:"dimensions"`
	BatchTimeout     time.Duration `mapstructure:"batch_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	Critical         bool          `mapstructure:"critical"`
}

// WorkersConfig locates the worker-kind manifest.
type WorkersConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MNEMO_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.listen", "127.0.0.1:18600")
	v.SetDefault("storage.path", "mnemo.db")
	v.SetDefault("storage.query_timeout", "10s")
	v.SetDefault("cache.l1_capacity", 4096)
	v.SetDefault("cache.default_ttl", "10m")
	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.addr", "127.0.0.1:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.op_timeout", "2s")
	v.SetDefault("cache.redis.failure_threshold", 5)
	v.SetDefault("cache.redis.recovery_timeout", "30s")
	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_timeout", "30s")
	v.SetDefault("embedding.failure_threshold", 3)
	v.SetDefault("embedding.recovery_timeout", "60s")
	v.SetDefault("embedding.critical", false)
	v.SetDefault("workers.manifest", "")

	// Environment
	v.SetEnvPrefix("MNEMO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, mnemoerr.Errorf(mnemoerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found, collecting every issue rather than stopping
// at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateEmbedding()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if c.Storage.Path == "" {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "config: storage.path must not be empty"))
	}
	if c.Storage.QueryTimeout <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: storage.query_timeout must be greater than 0, got %s",
			c.Storage.QueryTimeout,
		))
	}

	return errs
}

func (c *Config) validateCache() []error {
	var errs []error

	if c.Cache.L1Capacity <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: cache.l1_capacity must be greater than 0, got %d",
			c.Cache.L1Capacity,
		))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: cache.default_ttl must be greater than 0, got %s",
			c.Cache.DefaultTTL,
		))
	}

	if !c.Cache.Redis.Enabled {
		return errs
	}

	if c.Cache.Redis.Addr == "" {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "config: cache.redis.addr must not be empty when enabled"))
	}
	if c.Cache.Redis.OpTimeout <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: cache.redis.op_timeout must be greater than 0, got %s",
			c.Cache.Redis.OpTimeout,
		))
	}
	if c.Cache.Redis.FailureThreshold <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: cache.redis.failure_threshold must be greater than 0, got %d",
			c.Cache.Redis.FailureThreshold,
		))
	}
	if c.Cache.Redis.RecoveryTimeout <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: cache.redis.recovery_timeout must be greater than 0, got %s",
			c.Cache.Redis.RecoveryTimeout,
		))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	if !c.Embedding.Enabled {
		return errs
	}

	if c.Embedding.APIKey == "" {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "config: embedding.api_key must not be empty when enabled"))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue, "config: embedding.model must not be empty"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: embedding.dimensions must be greater than 0, got %d",
			c.Embedding.Dimensions,
		))
	}
	if c.Embedding.BatchTimeout <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: embedding.batch_timeout must be greater than 0, got %s",
			c.Embedding.BatchTimeout,
		))
	}
	if c.Embedding.FailureThreshold <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: embedding.failure_threshold must be greater than 0, got %d",
			c.Embedding.FailureThreshold,
		))
	}
	if c.Embedding.RecoveryTimeout <= 0 {
		errs = append(errs, mnemoerr.Errorf(mnemoerr.CodeConfigValidateInvalidValue,
			"config: embedding.recovery_timeout must be greater than 0, got %s",
			c.Embedding.RecoveryTimeout,
		))
	}

	return errs
}
