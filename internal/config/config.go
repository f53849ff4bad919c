// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quorumshare.
//
// go-quorumshare is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads quorumctl settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/aead"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUORUMSHARE_"

// Storage backend names
const (
	StorageMemory = "memory"
	StorageFile   = "file"
)

// Rejection policy names
const (
	PolicyDefault = "default"
	PolicyStrict  = "strict"
	PolicyLenient = "lenient"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// ConfigError names the setting that failed validation.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s=%v: %s", ErrInvalidConfig, e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Config is the complete configuration
type Config struct {
	Protocol ProtocolConfig `yaml:"protocol"`
	Backup   BackupConfig   `yaml:"backup"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProtocolConfig controls challenge and request freshness
type ProtocolConfig struct {
	ChallengeTTL    time.Duration `yaml:"challenge_ttl"`
	NonceSize       int           `yaml:"nonce_size"`
	RequestWindow   time.Duration `yaml:"request_window"`
	RequestSkew     time.Duration `yaml:"request_skew"`
	RejectionPolicy string        `yaml:"rejection_policy"` // default, strict, lenient
}

// BackupConfig selects the share backup cipher
type BackupConfig struct {
	Algorithm string `yaml:"algorithm"` // aes-256-gcm, chacha20-poly1305, auto
}

// StorageConfig controls where quorums, identities and nonces are kept
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls metrics export
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// Default returns a usable configuration with file storage under the
// user's home directory.
func Default() *Config {
	path := ".quorumshare"
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".quorumshare")
	}
	return &Config{
		Protocol: ProtocolConfig{
			ChallengeTTL:    challenge.DefaultTTL,
			NonceSize:       challenge.DefaultNonceSize,
			RequestWindow:   challenge.DefaultRequestWindow,
			RequestSkew:     challenge.DefaultRequestSkew,
			RejectionPolicy: PolicyDefault,
		},
		Backup: BackupConfig{
			Algorithm: aead.AES256GCM.String(),
		},
		Storage: StorageConfig{
			Backend: StorageFile,
			Path:    path,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file over Default and applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns Default with environment overrides applied.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envDuration(name string, dst *time.Duration) {
	v := env(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: invalid %s%s value %q, using %s: %v", EnvPrefix, name, v, *dst, err)
		return
	}
	*dst = d
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Protocol
	envDuration("CHALLENGE_TTL", &cfg.Protocol.ChallengeTTL)
	envDuration("REQUEST_WINDOW", &cfg.Protocol.RequestWindow)
	envDuration("REQUEST_SKEW", &cfg.Protocol.RequestSkew)
	if v := env("NONCE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: invalid %sNONCE_SIZE value %q, using %d: %v", EnvPrefix, v, cfg.Protocol.NonceSize, err)
		} else {
			cfg.Protocol.NonceSize = n
		}
	}
	if v := env("REJECTION_POLICY"); v != "" {
		cfg.Protocol.RejectionPolicy = v
	}

	// Backup
	if v := env("BACKUP_ALGORITHM"); v != "" {
		cfg.Backup.Algorithm = v
	}

	// Storage
	if v := env("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := env("DATA_DIR"); v != "" {
		cfg.Storage.Path = v
	}

	// Logging
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics
	if v := env("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid %sMETRICS_ENABLED value %q, using %t: %v", EnvPrefix, v, cfg.Metrics.Enabled, err)
		} else {
			cfg.Metrics.Enabled = b
		}
	}
	if v := env("METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Protocol.ChallengeTTL <= 0 {
		return &ConfigError{"protocol.challenge_ttl", c.Protocol.ChallengeTTL, "must be positive"}
	}
	if c.Protocol.NonceSize < challenge.MinNonceSize || c.Protocol.NonceSize > challenge.MaxNonceSize {
		return &ConfigError{"protocol.nonce_size", c.Protocol.NonceSize,
			fmt.Sprintf("must be between %d and %d", challenge.MinNonceSize, challenge.MaxNonceSize)}
	}
	if c.Protocol.RequestWindow <= 0 {
		return &ConfigError{"protocol.request_window", c.Protocol.RequestWindow, "must be positive"}
	}
	if c.Protocol.RequestSkew < 0 {
		return &ConfigError{"protocol.request_skew", c.Protocol.RequestSkew, "must not be negative"}
	}
	switch strings.ToLower(c.Protocol.RejectionPolicy) {
	case PolicyDefault, PolicyStrict, PolicyLenient:
	default:
		return &ConfigError{"protocol.rejection_policy", c.Protocol.RejectionPolicy, "must be default, strict or lenient"}
	}

	if _, err := c.Suite(); err != nil {
		return &ConfigError{"backup.algorithm", c.Backup.Algorithm, err.Error()}
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return &ConfigError{"storage.path", c.Storage.Path, "required for file storage"}
		}
	default:
		return &ConfigError{"storage.backend", c.Storage.Backend, "must be memory or file"}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{"logging.level", c.Logging.Level, "must be debug, info, warn or error"}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return &ConfigError{"logging.format", c.Logging.Format, "must be json or text"}
	}

	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return &ConfigError{"metrics.textfile", c.Metrics.Textfile, "required when metrics are enabled"}
	}
	return nil
}

// Suite returns the configured backup cipher.
func (c *Config) Suite() (aead.Suite, error) {
	return aead.ParseSuite(c.Backup.Algorithm)
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return level
}
