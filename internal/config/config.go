// Package config loads the server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/org/passkeeper/internal/crypto"
	"github.com/org/passkeeper/internal/shared"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// RateLimit allows Requests per Window per client IP. A zero value
// disables the limiter.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Enabled reports whether the limit is active.
func (r RateLimit) Enabled() bool {
	return r.Requests > 0 && r.Window > 0
}

type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBDriver      string `yaml:"db_driver"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`

	EncryptionKey string        `yaml:"encryption_key"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	HashCost      int           `yaml:"hash_cost"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	RateLimit     RateLimit     `yaml:"rate_limit"`
	AuthRateLimit RateLimit     `yaml:"auth_rate_limit"`
	SweepInterval time.Duration `yaml:"revocation_sweep_interval"`
	CORSOrigins   []string      `yaml:"cors_origins"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddr:    ":3001",
		DBDriver:      DriverPostgres,
		MigrationsDir: "migrations",
		TokenTTL:      24 * time.Hour,
		HashCost:      crypto.MinHashCost,
		LogLevel:      "info",
		LogFormat:     "console",
		RateLimit:     RateLimit{Requests: 100, Window: 15 * time.Minute},
		AuthRateLimit: RateLimit{Requests: 5, Window: 15 * time.Minute},
		SweepInterval: time.Hour,
	}
}

// Load reads path over the defaults. found is false when the file does not
// exist, which is not an error.
func Load(path string) (cfg Config, found bool, err error) {
	cfg = Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, true, nil
}

// ApplyEnv overrides fields from the environment through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PASSKEEPER_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.DBUrl = v
	}
	if v := getenv("PASSKEEPER_DB_DRIVER"); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := getenv("ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := getenv("PASSKEEPER_HASH_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return shared.ConfigurationError(fmt.Sprintf("PASSKEEPER_HASH_COST %q is not a number", v))
		}
		c.HashCost = n
	}
	if v := getenv("PASSKEEPER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks the settings startup cannot proceed without.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return shared.ConfigurationError(fmt.Sprintf("unknown db_driver %q (want postgres or sqlite)", c.DBDriver))
	}
	if c.DBUrl == "" {
		return shared.ConfigurationError("db_url must be configured (or DATABASE_URL env var)")
	}
	if c.EncryptionKey == "" {
		return shared.ConfigurationError("encryption_key must be configured (or ENCRYPTION_KEY env var)")
	}
	if c.JWTSecret == "" {
		return shared.ConfigurationError("jwt_secret must be configured (or JWT_SECRET env var)")
	}
	if c.HashCost < crypto.MinHashCost {
		return shared.ConfigurationError(fmt.Sprintf("hash_cost must be at least %d", crypto.MinHashCost))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return shared.ConfigurationError("tls_cert and tls_key must be set together")
	}
	return nil
}
