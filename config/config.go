// Package config handles application configuration.
//
// Settings come from three layers, later layers winning: defaults,
// environment variables (a .env file is honored if present), and
// command-line flags. DATABASE_URL is the only required setting.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultListenAddr is the address the API binds when none is given.
const DefaultListenAddr = "0.0.0.0:3000"

// LogConfig holds logging settings.
type LogConfig struct {
	Level string // trace, debug, info, warn, error
	JSON  bool   // JSON output instead of console
}

// Config holds the indexer's runtime configuration.
type Config struct {
	// DatabaseURL locates the persistent store: a badger data
	// directory, with an optional badger:// scheme.
	DatabaseURL string

	// ListenAddr is the host:port the HTTP API binds.
	ListenAddr string

	// MaxCoinbaseValue caps coinbase minting. 0 disables the cap.
	MaxCoinbaseValue int64

	Log LogConfig
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Log:        LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the environment, and
// command-line arguments (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	// Missing .env is fine; explicit environment still applies.
	_ = godotenv.Load()

	cfg := Default()
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MAX_COINBASE_VALUE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("MAX_COINBASE_VALUE: %w", err)
		}
		cfg.MaxCoinbaseValue = n
	}

	fs := flag.NewFlagSet("indexd", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "database location (overrides DATABASE_URL)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level (trace, debug, info, warn, error)")
	fs.BoolVar(&cfg.Log.JSON, "log-json", cfg.Log.JSON, "log in JSON format")
	fs.Int64Var(&cfg.MaxCoinbaseValue, "max-coinbase", cfg.MaxCoinbaseValue, "maximum coinbase value (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.MaxCoinbaseValue < 0 {
		return fmt.Errorf("max coinbase value must not be negative")
	}
	return nil
}

// DataDir resolves DatabaseURL to the store's directory path.
func (c *Config) DataDir() string {
	return strings.TrimPrefix(c.DatabaseURL, "badger://")
}
