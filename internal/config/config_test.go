package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/org/passkeeper/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, found, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
db_driver: sqlite
db_url: "file:dev.db"
token_ttl: 2h
hash_cost: 13
rate_limit:
  requests: 10
  window: 1m
`), 0o600))

	cfg, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 13, cfg.HashCost)
	assert.Equal(t, RateLimit{Requests: 10, Window: time.Minute}, cfg.RateLimit)
	assert.Equal(t, Default().AuthRateLimit, cfg.AuthRateLimit, "unset sections keep defaults")

	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"PASSKEEPER_LISTEN_ADDR": ":9100",
		"ENCRYPTION_KEY":         "k",
		"JWT_SECRET":             "s",
		"PASSKEEPER_HASH_COST":   "14",
		"PASSKEEPER_DB_DRIVER":   "POSTGRES",
	})))
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "k", cfg.EncryptionKey)
	assert.Equal(t, "s", cfg.JWTSecret)
	assert.Equal(t, 14, cfg.HashCost)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "file:dev.db", cfg.DBUrl)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unclosed"), 0o600))
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnvBadHashCost(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{"PASSKEEPER_HASH_COST": "twelve"}))
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.DBUrl = "postgres://localhost/passkeeper"
		c.EncryptionKey = "key"
		c.JWTSecret = "secret"
		return c
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	tests := map[string]func(*Config){
		"missing jwt secret": func(c *Config) { c.JWTSecret = "" },
		"missing cipher key": func(c *Config) { c.EncryptionKey = "" },
		"missing db url":     func(c *Config) { c.DBUrl = "" },
		"unknown driver":     func(c *Config) { c.DBDriver = "mysql" },
		"low hash cost":      func(c *Config) { c.HashCost = 10 },
		"half tls":           func(c *Config) { c.TLSCertFile = "cert.pem" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), shared.ErrConfiguration)
		})
	}
}

func TestRateLimitEnabled(t *testing.T) {
	assert.True(t, Default().RateLimit.Enabled())
	assert.False(t, RateLimit{}.Enabled())
	assert.False(t, RateLimit{Requests: 5}.Enabled())
}
