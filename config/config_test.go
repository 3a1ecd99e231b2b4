package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.Ledger.TxTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "escrow.toml", `
[server]
addr = ":9090"

[store]
driver = "postgres"

[store.postgres]
dsn = "postgres://localhost/escrow"
max_conns = 4

[ledger]
signup_points = 0
tx_timeout = "3s"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/escrow", cfg.Store.Postgres.DSN)
	assert.Equal(t, int32(4), cfg.Store.Postgres.MaxConns)
	assert.Equal(t, int64(0), cfg.Ledger.SignupPoints)
	assert.Equal(t, 3*time.Second, cfg.Ledger.TxTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched sections keep their defaults
	assert.Equal(t, 100, cfg.Ledger.RecoveryBatch)
	assert.Equal(t, "notifications", cfg.Notify.Mongo.Collection)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeFile(t, "bad.toml", "[server\naddr = 1"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ESCROW_STORE_DRIVER":  "postgres",
		"DATABASE_URL":         "postgres://db/escrow",
		"REDIS_ADDR":           "redis:6379",
		"JWT_SECRET":           "s3cret",
		"ESCROW_SIGNUP_POINTS": "250",
		"ESCROW_LOG_LEVEL":     "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://db/escrow", cfg.Store.Postgres.DSN)
	assert.Equal(t, "redis:6379", cfg.Notify.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, int64(250), cfg.Ledger.SignupPoints)
	assert.Equal(t, slog.LevelWarn, cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_RejectsBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "ESCROW_SIGNUP_POINTS" {
			return "lots", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"empty sqlite path", func(c *Config) { c.Store.SQLite.Path = "" }},
		{"bad sqlite driver", func(c *Config) { c.Store.SQLite.Driver = "mysql" }},
		{"negative signup bonus", func(c *Config) { c.Ledger.SignupPoints = -1 }},
		{"zero tx timeout", func(c *Config) { c.Ledger.TxTimeout = 0 }},
		{"mongo without collection", func(c *Config) {
			c.Notify.Mongo.URI = "mongodb://localhost"
			c.Notify.Mongo.Collection = ""
		}},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	path := writeFile(t, ".env", "ESCROW_TEST_DOTENV_A=from-file\nESCROW_TEST_DOTENV_B=from-file\n")
	t.Setenv("ESCROW_TEST_DOTENV_A", "from-env")

	require.NoError(t, loadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("ESCROW_TEST_DOTENV_B") })

	assert.Equal(t, "from-env", os.Getenv("ESCROW_TEST_DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("ESCROW_TEST_DOTENV_B"))
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestNewLogger(t *testing.T) {
	log := NewLogger(LogConfig{Level: slog.LevelWarn, Format: "json"})
	assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, log.Enabled(context.Background(), slog.LevelError))
}
