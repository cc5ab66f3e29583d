package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":5555", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "host=localhost port=5432 dbname=mes_db sslmode=disable", cfg.DatabaseDSN)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.SessionSweepInterval)
	assert.Equal(t, 1<<20, cfg.MaxLineBytes)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kayveechat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":6000"
database_driver: sqlite
database_dsn: /tmp/chat.db
session_ttl: 30m
log_level: debug
`), 0o600))

	t.Setenv("KAYVEECHAT_SESSION_TTL", "45m")
	t.Setenv("KAYVEECHAT_IDLE_TIMEOUT", "2m")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", "", "")
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--listen", ":7000"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr, "flag beats file")
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "/tmp/chat.db", cfg.DatabaseDSN)
	assert.Equal(t, 45*time.Minute, cfg.SessionTTL, "env beats file")
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, "debug", cfg.LogLevel, "unset flag keeps file value")
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr": ":8000"}`), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.ListenAddr)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	good, err := LoadConfig("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"listen", func(c *Config) { c.ListenAddr = "" }, "listen_addr is required"},
		{"driver", func(c *Config) { c.DatabaseDriver = "mysql" }, "database_driver must be postgres or sqlite"},
		{"dsn", func(c *Config) { c.DatabaseDSN = "" }, "database_dsn is required"},
		{"ttl", func(c *Config) { c.SessionTTL = 0 }, "session_ttl must be positive"},
		{"line", func(c *Config) { c.MaxLineBytes = 10 }, "max_line_bytes must be at least 1024"},
		{"cost", func(c *Config) { c.BcryptCost = 99 }, "bcrypt_cost must be between"},
		{"format", func(c *Config) { c.LogFormat = "xml" }, "log_format must be json or console"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *good
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	c := *good
	c.ListenAddr = ""
	c.DatabaseDSN = ""
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr is required")
	assert.Contains(t, err.Error(), "database_dsn is required")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Str("conn_id", "7").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"conn_id":"7"`)

	buf.Reset()
	log, err = newLogger(&buf, "", "console")
	require.NoError(t, err)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)

	_, err = newLogger(&buf, "loud", "json")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
