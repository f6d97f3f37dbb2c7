// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-mfa.
//
// go-mfa is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the MFA service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Issuer    string          `yaml:"issuer"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Devices   DevicesConfig   `yaml:"trusted_devices"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	// Backend is the storage backend type: memory or file
	Backend string `yaml:"backend"`

	// Path is the root directory for the file backend
	Path string `yaml:"path"`
}

// RateLimitConfig holds the per-operation abuse-control policy
type RateLimitConfig struct {
	Enabled          bool        `yaml:"enabled"`
	SetupInitiate    LimitConfig `yaml:"setup_initiate"`
	SetupConfirm     LimitConfig `yaml:"setup_confirm"`
	VerifyLogin      LimitConfig `yaml:"verify_login"`
	VerifyBackupCode LimitConfig `yaml:"verify_backup_code"`
	Disable          LimitConfig `yaml:"disable"`
	RegenerateCodes  LimitConfig `yaml:"regenerate_codes"`
}

// LimitConfig is one operation's ceiling: max requests per window
type LimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// DevicesConfig controls trusted-device issuance
type DevicesConfig struct {
	// TTL is how long an issued device token is honored
	TTL time.Duration `yaml:"ttl"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Issuer: "go-mfa",
		Storage: StorageConfig{
			Backend: "memory",
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			SetupInitiate:    LimitConfig{Max: 5, Window: 5 * time.Minute},
			SetupConfirm:     LimitConfig{Max: 5, Window: 5 * time.Minute},
			VerifyLogin:      LimitConfig{Max: 5, Window: 5 * time.Minute},
			VerifyBackupCode: LimitConfig{Max: 5, Window: 10 * time.Minute},
			Disable:          LimitConfig{Max: 5, Window: 15 * time.Minute},
			RegenerateCodes:  LimitConfig{Max: 3, Window: time.Hour},
		},
		Devices: DevicesConfig{
			TTL: 30 * 24 * time.Hour,
		},
	}
}

// Load reads a YAML configuration file, applies defaults for unset
// fields, and validates the result.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("config: issuer cannot be empty")
	}

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: file backend requires storage.path")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	limits := map[string]LimitConfig{
		"setup_initiate":     c.RateLimit.SetupInitiate,
		"setup_confirm":      c.RateLimit.SetupConfirm,
		"verify_login":       c.RateLimit.VerifyLogin,
		"verify_backup_code": c.RateLimit.VerifyBackupCode,
		"disable":            c.RateLimit.Disable,
		"regenerate_codes":   c.RateLimit.RegenerateCodes,
	}
	for name, limit := range limits {
		if limit.Max <= 0 {
			return fmt.Errorf("config: ratelimit.%s.max must be positive", name)
		}
		if limit.Window <= 0 {
			return fmt.Errorf("config: ratelimit.%s.window must be positive", name)
		}
	}

	if c.Devices.TTL <= 0 {
		return fmt.Errorf("config: trusted_devices.ttl must be positive")
	}
	return nil
}
