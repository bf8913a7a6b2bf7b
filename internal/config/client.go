// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the YAML configuration for a replicawire
// client: server address, pool sizing, timeouts, logging, and the
// optional domain-stack components (rate limiting, autoscaling).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the full configuration of a replicawire client.
type ClientConfig struct {
	Server    ServerAddr      `yaml:"server"`
	Pool      PoolSizing      `yaml:"pool"`
	Timeouts  Timeouts        `yaml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Autoscale AutoscaleConfig `yaml:"autoscale"`
	Logging   LoggingInfo     `yaml:"logging"`
}

// ServerAddr is the master/backup-source address the client dials.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// PoolSizing bounds the client's connection pool.
type PoolSizing struct {
	MaxActive      int `yaml:"max_active"`
	MaxIdle        int `yaml:"max_idle"`
	RecvBufferSize int `yaml:"recv_buffer_size"` // bytes, 0 disables SO_RCVBUF tuning
}

// Timeouts bounds connect and per-request waits.
type Timeouts struct {
	Connect time.Duration `yaml:"connect"`
	Request time.Duration `yaml:"request"`
}

// RateLimitConfig configures transaction-stream payload back-pressure.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	BytesPerSecond    int  `yaml:"bytes_per_second"`
	BurstBytes        int  `yaml:"burst_bytes"`
}

// AutoscaleConfig configures periodic host-load-driven pool resizing.
type AutoscaleConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CronSchedule string `yaml:"cron_schedule"`
	MinActive    int    `yaml:"min_active"`
	MaxActive    int    `yaml:"max_active"`
}

// LoggingInfo configures the shared logging.New call.
type LoggingInfo struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// LoadClientConfig reads and validates a client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Pool.MaxActive <= 0 {
		c.Pool.MaxActive = 8
	}
	if c.Pool.MaxIdle < 0 || c.Pool.MaxIdle > c.Pool.MaxActive {
		return fmt.Errorf("pool.max_idle must be between 0 and pool.max_active, got %d", c.Pool.MaxIdle)
	}
	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = 5 * time.Second
	}
	if c.Timeouts.Request <= 0 {
		c.Timeouts.Request = 30 * time.Second
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.BytesPerSecond <= 0 {
			return fmt.Errorf("rate_limit.bytes_per_second must be > 0 when rate_limit.enabled")
		}
		if c.RateLimit.BurstBytes <= 0 {
			c.RateLimit.BurstBytes = c.RateLimit.BytesPerSecond
		}
	}
	if c.Autoscale.Enabled {
		if c.Autoscale.CronSchedule == "" {
			return fmt.Errorf("autoscale.cron_schedule is required when autoscale.enabled")
		}
		if c.Autoscale.MinActive <= 0 {
			c.Autoscale.MinActive = 1
		}
		if c.Autoscale.MaxActive < c.Autoscale.MinActive {
			return fmt.Errorf("autoscale.max_active must be >= autoscale.min_active")
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
