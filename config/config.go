package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// TimeBase selects the reward accrual clock.
const (
	TimeBaseBlock = "block"
	TimeBaseTime  = "time"
)

// Config is the protocol-parameter file for one pool. Amount and mantissa
// fields are decimal strings so 18-decimal values survive TOML round trips
// without float loss.
type Config struct {
	EngineID                  string         `toml:"EngineID"`
	CloseFactor               string         `toml:"CloseFactor"`
	LiquidationIncentive      string         `toml:"LiquidationIncentive"`
	MinLiquidatableCollateral string         `toml:"MinLiquidatableCollateral"`
	MaxLoopsLimit             uint64         `toml:"MaxLoopsLimit"`
	Markets                   []MarketConfig `toml:"markets"`
	Rewards                   RewardsConfig  `toml:"rewards"`
}

// MarketConfig lists one market with its risk parameters. Empty cap strings
// mean unlimited.
type MarketConfig struct {
	Ledger               string `toml:"Ledger"`
	CollateralFactor     string `toml:"CollateralFactor"`
	LiquidationThreshold string `toml:"LiquidationThreshold"`
	SupplyCap            string `toml:"SupplyCap"`
	BorrowCap            string `toml:"BorrowCap"`
	Price                string `toml:"Price"`
	ForcedLiquidation    bool   `toml:"ForcedLiquidation"`
}

// RewardsConfig configures the reward engine.
type RewardsConfig struct {
	TimeBase string        `toml:"TimeBase"`
	Budget   string        `toml:"Budget"`
	Speeds   []SpeedConfig `toml:"speeds"`
}

// SpeedConfig sets per-market emission rates, reward wei per slot.
type SpeedConfig struct {
	Market      string `toml:"Market"`
	SupplySpeed string `toml:"SupplySpeed"`
	BorrowSpeed string `toml:"BorrowSpeed"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a conservative empty-pool configuration.
func Default() *Config {
	return &Config{
		EngineID:                  "core-pool",
		CloseFactor:               "500000000000000000",  // 0.5
		LiquidationIncentive:      "1100000000000000000", // 1.1
		MinLiquidatableCollateral: "0",
		MaxLoopsLimit:             16,
		Rewards:                   RewardsConfig{TimeBase: TimeBaseBlock},
	}
}

// WriteDefault creates a default config file when none exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(Default())
}

// parseAmount decodes a non-negative decimal string; empty means nil
// (unlimited for caps).
func parseAmount(field, value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("config: %s: invalid amount %q", field, value)
	}
	return out, nil
}
