package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers selectable through SESSIONKIT_STORE_DRIVER.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBBolt  = "bbolt"
)

var ErrUnknownDriver = errors.New("unknown store driver")

type Config struct {
	BaseURL     string `env:"SESSIONKIT_BASE_URL" envDefault:"https://api.example.com/sdk/v1"` // Provider API base URL
	PublicToken string `env:"SESSIONKIT_PUBLIC_TOKEN"`                                         // Required by commands that call the API
	Password    string `env:"SESSIONKIT_PASSWORD"`                                             // Optional: used by login when --password is absent

	StoreDriver   string `env:"SESSIONKIT_STORE_DRIVER" envDefault:"sqlite"`      // memory, sqlite or bbolt
	StorePath     string `env:"SESSIONKIT_STORE_PATH" envDefault:"sessionkit.db"` // File for the sqlite and bbolt drivers
	MasterKey     string `env:"SESSIONKIT_MASTER_KEY"`                            // Optional: seals stored values when set
	MasterKeyFile string `env:"SESSIONKIT_MASTER_KEY_FILE"`                       // Optional: takes precedence over MasterKey

	RefreshFraction   float64       `env:"SESSIONKIT_REFRESH_FRACTION" envDefault:"0.6"`  // Share of the JWT lifetime between refreshes
	RefreshMaxRetries int           `env:"SESSIONKIT_REFRESH_MAX_RETRIES" envDefault:"3"` // Retries per tick for recoverable failures
	HTTPTimeout       time.Duration `env:"SESSIONKIT_HTTP_TIMEOUT" envDefault:"10s"`      // Per request timeout
	RateLimit         float64       `env:"SESSIONKIT_RATE_LIMIT" envDefault:"10"`         // Requests per second, client side
	SessionDuration   int           `env:"SESSIONKIT_SESSION_DURATION" envDefault:"60"`   // Minutes requested on authenticate

	Env       string `env:"ENV" envDefault:"dev"`         // Environment (dev, staging, prod)
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`  // Log level (debug, info, warn, error)
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // Log format (json, text)
}

// LoadConfig reads the configuration from the environment. A .env file in
// the working directory is loaded first when present.
func LoadConfig() (Config, error) {
	// The .env file is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadConfigFrom parses cfg from the given variables only. Tests use it to
// avoid touching the process environment.
func LoadConfigFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverBBolt:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.StoreDriver)
	}

	if c.RefreshFraction <= 0 || c.RefreshFraction > 1 {
		return fmt.Errorf("refresh fraction must be in (0, 1], got %v", c.RefreshFraction)
	}
	if c.RefreshMaxRetries < 0 {
		return fmt.Errorf("refresh max retries must not be negative")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %v", c.RateLimit)
	}
	return nil
}

// HasMasterKey reports whether stored values will be sealed.
func (c Config) HasMasterKey() bool {
	return c.MasterKey != "" || c.MasterKeyFile != ""
}
