package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the node's bridge settlement parameters.
type Config struct {
	DataDir           string `toml:"DataDir"`
	Environment       string `toml:"Environment"`
	MetricsAddress    string `toml:"MetricsAddress"`
	BitcoinNetwork    string `toml:"BitcoinNetwork"`
	ConfirmationDepth uint32 `toml:"ConfirmationDepth"`
	ReservedWindow    uint32 `toml:"ReservedWindow"`
}

// Load loads the configuration from the given path, writing defaults when the
// file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the tracking invariants the settlement core relies on.
func (c *Config) Validate() error {
	if c.ConfirmationDepth < 1 {
		return fmt.Errorf("config: ConfirmationDepth must be at least 1, got %d", c.ConfirmationDepth)
	}
	if c.ReservedWindow < c.ConfirmationDepth {
		return fmt.Errorf("config: ReservedWindow %d must cover ConfirmationDepth %d",
			c.ReservedWindow, c.ConfirmationDepth)
	}
	switch strings.ToLower(strings.TrimSpace(c.BitcoinNetwork)) {
	case "mainnet", "testnet3", "regtest", "simnet":
	default:
		return fmt.Errorf("config: unknown BitcoinNetwork %q", c.BitcoinNetwork)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./xbchain-data"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9640"
	}
	if strings.TrimSpace(cfg.BitcoinNetwork) == "" {
		cfg.BitcoinNetwork = "mainnet"
	}
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = 6
	}
	if cfg.ReservedWindow == 0 {
		cfg.ReservedWindow = 2016
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
