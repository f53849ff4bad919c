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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/aead"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, challenge.DefaultTTL, cfg.Protocol.ChallengeTTL)
	assert.Equal(t, challenge.DefaultNonceSize, cfg.Protocol.NonceSize)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.NotEmpty(t, cfg.Storage.Path)
	assert.False(t, cfg.Metrics.Enabled)

	suite, err := cfg.Suite()
	require.NoError(t, err)
	assert.Equal(t, aead.AES256GCM, suite)
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel())
}

func TestLoad_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
protocol:
  challenge_ttl: 90s
  nonce_size: 24
  request_window: 2m
  request_skew: 5s
  rejection_policy: strict

backup:
  algorithm: chacha20-poly1305

storage:
  backend: file
  path: /var/lib/quorumshare

logging:
  level: debug
  format: json

metrics:
  enabled: true
  textfile: /var/lib/node_exporter/quorumshare.prom
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Protocol.ChallengeTTL)
	assert.Equal(t, 24, cfg.Protocol.NonceSize)
	assert.Equal(t, 2*time.Minute, cfg.Protocol.RequestWindow)
	assert.Equal(t, 5*time.Second, cfg.Protocol.RequestSkew)
	assert.Equal(t, PolicyStrict, cfg.Protocol.RejectionPolicy)
	assert.Equal(t, "/var/lib/quorumshare", cfg.Storage.Path)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.True(t, cfg.Metrics.Enabled)

	suite, err := cfg.Suite()
	require.NoError(t, err)
	assert.Equal(t, aead.ChaCha20Poly1305, suite)
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  backend: memory\n"))
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, challenge.DefaultTTL, cfg.Protocol.ChallengeTTL)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)

	_, err = Parse([]byte("protocol: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero ttl", func(c *Config) { c.Protocol.ChallengeTTL = 0 }, "protocol.challenge_ttl"},
		{"short nonce", func(c *Config) { c.Protocol.NonceSize = 8 }, "protocol.nonce_size"},
		{"long nonce", func(c *Config) { c.Protocol.NonceSize = 128 }, "protocol.nonce_size"},
		{"zero window", func(c *Config) { c.Protocol.RequestWindow = 0 }, "protocol.request_window"},
		{"negative skew", func(c *Config) { c.Protocol.RequestSkew = -time.Second }, "protocol.request_skew"},
		{"policy", func(c *Config) { c.Protocol.RejectionPolicy = "paranoid" }, "protocol.rejection_policy"},
		{"algorithm", func(c *Config) { c.Backup.Algorithm = "des" }, "backup.algorithm"},
		{"backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"file path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"textfile", func(c *Config) { c.Metrics.Enabled = true }, "metrics.textfile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUORUMSHARE_CHALLENGE_TTL", "30s")
	t.Setenv("QUORUMSHARE_NONCE_SIZE", "16")
	t.Setenv("QUORUMSHARE_REJECTION_POLICY", "lenient")
	t.Setenv("QUORUMSHARE_BACKUP_ALGORITHM", "chacha20-poly1305")
	t.Setenv("QUORUMSHARE_STORAGE_BACKEND", "memory")
	t.Setenv("QUORUMSHARE_LOG_LEVEL", "warn")
	t.Setenv("QUORUMSHARE_LOG_FORMAT", "json")
	t.Setenv("QUORUMSHARE_METRICS_ENABLED", "true")
	t.Setenv("QUORUMSHARE_METRICS_TEXTFILE", "/tmp/q.prom")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Protocol.ChallengeTTL)
	assert.Equal(t, 16, cfg.Protocol.NonceSize)
	assert.Equal(t, PolicyLenient, cfg.Protocol.RejectionPolicy)
	assert.Equal(t, "chacha20-poly1305", cfg.Backup.Algorithm)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, logging.LevelWarn, cfg.LogLevel())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/tmp/q.prom", cfg.Metrics.Textfile)
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("QUORUMSHARE_CHALLENGE_TTL", "soon")
	t.Setenv("QUORUMSHARE_NONCE_SIZE", "many")
	t.Setenv("QUORUMSHARE_METRICS_ENABLED", "maybe")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, challenge.DefaultTTL, cfg.Protocol.ChallengeTTL)
	assert.Equal(t, challenge.DefaultNonceSize, cfg.Protocol.NonceSize)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestEnvOverrides_ApplyOverFile(t *testing.T) {
	t.Setenv("QUORUMSHARE_DATA_DIR", "/srv/quorum")

	cfg, err := Parse([]byte("storage:\n  backend: file\n  path: /etc/ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/quorum", cfg.Storage.Path)
}
