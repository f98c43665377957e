package client

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// AppConfig is the consolidated configuration for the tycoon client
// app. Values come from the environment (optionally seeded from a
// .env file in the data dir), with CLI overrides applied on top.
type AppConfig struct {
	// DataDir is where the effect journal and .env live.
	DataDir string `env:"TYCOON_DATADIR"`

	BackendURL string `env:"TYCOON_BACKEND_URL" envDefault:"http://localhost:4000"`
	ChainURL   string `env:"TYCOON_CHAIN_URL" envDefault:"http://localhost:8545"`
	PushURL    string `env:"TYCOON_PUSH_URL" envDefault:"ws://localhost:4000/socket"`

	// BankContract is the spender granted stake allowances.
	BankContract string `env:"TYCOON_BANK_CONTRACT"`

	// PrivKeyHex selects the wallet identity; leave empty and set
	// GuestName to play free games as a guest.
	PrivKeyHex string `env:"TYCOON_PRIVKEY"`
	GuestName  string `env:"TYCOON_GUEST_NAME"`
	Username   string `env:"TYCOON_USERNAME"`

	PollInterval   time.Duration `env:"TYCOON_POLL_INTERVAL" envDefault:"2s"`
	ConfirmTimeout time.Duration `env:"TYCOON_CONFIRM_TIMEOUT" envDefault:"90s"`
	DebugLevel     string        `env:"TYCOON_DEBUG" envDefault:"info"`
}

// ConfigOverrides carries optional CLI/runtime overrides; non-empty
// fields win over the environment.
type ConfigOverrides struct {
	BackendURL   string
	ChainURL     string
	PushURL      string
	BankContract string
	PrivKeyHex   string
	GuestName    string
	Username     string
}

// LoadAppConfig loads the client configuration, applies overrides and
// returns the consolidated AppConfig. If datadir is empty, a default
// under the user config dir is used.
func LoadAppConfig(datadir string, ov ConfigOverrides) (*AppConfig, error) {
	if datadir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		datadir = filepath.Join(base, "tycoon")
	}
	if err := os.MkdirAll(datadir, 0o700); err != nil {
		return nil, fmt.Errorf("create datadir: %w", err)
	}

	// Best effort: a missing .env just means pure-environment config.
	_ = godotenv.Load(filepath.Join(datadir, ".env"))

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.DataDir = datadir

	if ov.BackendURL != "" {
		cfg.BackendURL = ov.BackendURL
	}
	if ov.ChainURL != "" {
		cfg.ChainURL = ov.ChainURL
	}
	if ov.PushURL != "" {
		cfg.PushURL = ov.PushURL
	}
	if ov.BankContract != "" {
		cfg.BankContract = ov.BankContract
	}
	if ov.PrivKeyHex != "" {
		cfg.PrivKeyHex = ov.PrivKeyHex
	}
	if ov.GuestName != "" {
		cfg.GuestName = ov.GuestName
	}
	if ov.Username != "" {
		cfg.Username = ov.Username
	}

	if cfg.PrivKeyHex == "" && cfg.GuestName == "" {
		return nil, fmt.Errorf("either TYCOON_PRIVKEY or TYCOON_GUEST_NAME is required")
	}
	return cfg, nil
}

// EffectDBPath is where the failed-effect journal lives.
func (c *AppConfig) EffectDBPath() string {
	return filepath.Join(c.DataDir, "effects.db")
}
