package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level trustlined configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`

	// RateLimitPerSecond caps gateway requests per client; zero disables
	// the limiter.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	Claims  ClaimsConfig  `toml:"claims"`
	Lending LendingConfig `toml:"lending"`
	Pauses  PausesConfig  `toml:"pauses"`
}

// ClaimsConfig tunes the proof-of-holding dispute parameters.
type ClaimsConfig struct {
	// UserStakeWei is the stake escrowed per claim, in wei, as a decimal
	// string so full-precision values survive TOML round trips.
	UserStakeWei string `toml:"UserStakeWei"`
}

// LendingConfig holds per-pool circuit breaker caps keyed by pool type, as
// decimal wei strings.
type LendingConfig struct {
	BreakerCapsWei       map[string]string `toml:"BreakerCapsWei"`
	BreakerWindowSeconds int64             `toml:"BreakerWindowSeconds"`
}

// PausesConfig lists modules that start paused.
type PausesConfig struct {
	Modules []string `toml:"Modules"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./trustline-data"
	}
	if cfg.Lending.BreakerCapsWei == nil {
		cfg.Lending.BreakerCapsWei = map[string]string{}
	}
	if cfg.Lending.BreakerWindowSeconds <= 0 {
		cfg.Lending.BreakerWindowSeconds = 3600
	}
	if cfg.Pauses.Modules == nil {
		cfg.Pauses.Modules = []string{}
	}
}

func validate(cfg *Config) error {
	if stake := strings.TrimSpace(cfg.Claims.UserStakeWei); stake != "" {
		if !isDecimal(stake) {
			return fmt.Errorf("config: claims.UserStakeWei must be a decimal integer, got %q", stake)
		}
	}
	for pool, cap := range cfg.Lending.BreakerCapsWei {
		if !isDecimal(strings.TrimSpace(cap)) {
			return fmt.Errorf("config: lending.BreakerCapsWei[%s] must be a decimal integer, got %q", pool, cap)
		}
	}
	return nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./trustline-data",
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
