/*
config.go - Service configuration

LOAD ORDER:
  1. Default()
  2. .env in the working directory, if present (never overrides variables
     already set in the environment)
  3. The TOML file, if a path is given
  4. Environment overrides:
       ESCROW_ADDR, ESCROW_STORE_DRIVER, ESCROW_SQLITE_PATH,
       DATABASE_URL, REDIS_ADDR, MONGO_URI, JWT_SECRET,
       ESCROW_SIGNUP_POINTS, ESCROW_LOG_LEVEL, ESCROW_LOG_FORMAT
  5. Validate()

SEE ALSO:
  - config.example.toml
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Auth    AuthConfig    `toml:"auth"`
	Catalog CatalogConfig `toml:"catalog"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Notify  NotifyConfig  `toml:"notify"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
}

type StoreConfig struct {
	Driver   string         `toml:"driver"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Postgres PostgresConfig `toml:"postgres"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver string `toml:"driver"`
}

type PostgresConfig struct {
	DSN             string        `toml:"dsn"`
	MaxConns        int32         `toml:"max_conns"`
	MinConns        int32         `toml:"min_conns"`
	MaxConnLifetime time.Duration `toml:"max_conn_lifetime"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
	// AccountCacheSize bounds the cache of already-provisioned accounts.
	AccountCacheSize int `toml:"account_cache_size"`
}

type CatalogConfig struct {
	// Path to a JSON catalog document. Empty uses the built-in catalog.
	Path         string `toml:"path"`
	SeedOfficial bool   `toml:"seed_official"`
}

type LedgerConfig struct {
	SignupPoints        int64         `toml:"signup_points"`
	TxTimeout           time.Duration `toml:"tx_timeout"`
	RecoveryInterval    time.Duration `toml:"recovery_interval"`
	RecoveryBatch       int           `toml:"recovery_batch"`
	RecoveryConcurrency int           `toml:"recovery_concurrency"`
	ETHUSDRate          float64       `toml:"eth_usd_rate"`
}

type NotifyConfig struct {
	QueueSize int         `toml:"queue_size"`
	Log       bool        `toml:"log"`
	Redis     RedisConfig `toml:"redis"`
	Mongo     MongoConfig `toml:"mongo"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	Channel  string `toml:"channel"`
}

type MongoConfig struct {
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

// Default returns a configuration that runs locally with no external
// services.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{Path: "escrow.db", Driver: "sqlite3"},
			Postgres: PostgresConfig{
				MaxConns:        10,
				MaxConnLifetime: time.Hour,
			},
		},
		Auth: AuthConfig{Issuer: "hypehub", AccountCacheSize: 4096},
		Catalog: CatalogConfig{
			SeedOfficial: true,
		},
		Ledger: LedgerConfig{
			SignupPoints:        100,
			TxTimeout:           10 * time.Second,
			RecoveryInterval:    time.Minute,
			RecoveryBatch:       100,
			RecoveryConcurrency: 4,
			ETHUSDRate:          2000,
		},
		Notify: NotifyConfig{
			QueueSize: 1024,
			Log:       true,
			Redis:     RedisConfig{Channel: "escrow:notifications"},
			Mongo:     MongoConfig{Database: "hypehub", Collection: "notifications"},
		},
		Log: LogConfig{Level: slog.LevelInfo, Format: "text"},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv exports the variables in file that are not already set.
func loadDotEnv(file string) error {
	vars, err := godotenv.Read(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", file, err)
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("ESCROW_ADDR", &c.Server.Addr)
	str("ESCROW_STORE_DRIVER", &c.Store.Driver)
	str("ESCROW_SQLITE_PATH", &c.Store.SQLite.Path)
	str("DATABASE_URL", &c.Store.Postgres.DSN)
	str("REDIS_ADDR", &c.Notify.Redis.Addr)
	str("MONGO_URI", &c.Notify.Mongo.URI)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("ESCROW_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("ESCROW_SIGNUP_POINTS"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: ESCROW_SIGNUP_POINTS: %w", err)
		}
		c.Ledger.SignupPoints = n
	}
	if v, ok := lookup("ESCROW_LOG_LEVEL"); ok && v != "" {
		if err := c.Log.Level.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("config: ESCROW_LOG_LEVEL: %w", err)
		}
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return errors.New("config: store.sqlite.path is required")
		}
		if d := c.Store.SQLite.Driver; d != "" && d != "sqlite3" && d != "sqlite" {
			return fmt.Errorf("config: store.sqlite.driver %q: want sqlite3 or sqlite", d)
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: store.postgres.dsn (or DATABASE_URL) is required")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	if c.Ledger.SignupPoints < 0 {
		return errors.New("config: ledger.signup_points must not be negative")
	}
	if c.Ledger.TxTimeout <= 0 {
		return errors.New("config: ledger.tx_timeout must be positive")
	}
	if c.Ledger.RecoveryBatch < 0 || c.Ledger.RecoveryConcurrency < 0 {
		return errors.New("config: ledger recovery settings must not be negative")
	}
	if c.Ledger.ETHUSDRate < 0 {
		return errors.New("config: ledger.eth_usd_rate must not be negative")
	}
	if c.Notify.QueueSize < 0 {
		return errors.New("config: notify.queue_size must not be negative")
	}
	if c.Notify.Mongo.URI != "" && (c.Notify.Mongo.Database == "" || c.Notify.Mongo.Collection == "") {
		return errors.New("config: notify.mongo needs database and collection")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// NewLogger builds the process logger.
func NewLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
