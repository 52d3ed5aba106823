package config

import (
	"fmt"
	"math/big"

	"crosslend/core/types"
	"crosslend/native/risk"
)

var (
	mantissaOne          = big.NewInt(1_000_000_000_000_000_000)
	collateralFactorMax  = big.NewInt(900_000_000_000_000_000)
	liquidationThreshMax = mantissaOne
)

// Validate checks every parameter against the engine's acceptance rules so
// a bad file fails at load time rather than on the first governance call.
func (c *Config) Validate() error {
	if c.EngineID == "" {
		return fmt.Errorf("config: EngineID must not be empty")
	}
	closeFactor, err := parseAmount("CloseFactor", c.CloseFactor)
	if err != nil {
		return err
	}
	if closeFactor == nil || closeFactor.Cmp(mantissaOne) > 0 {
		return fmt.Errorf("config: CloseFactor must be between 0 and 1e18")
	}
	incentive, err := parseAmount("LiquidationIncentive", c.LiquidationIncentive)
	if err != nil {
		return err
	}
	if incentive == nil || incentive.Cmp(mantissaOne) < 0 {
		return fmt.Errorf("config: LiquidationIncentive must be at least 1e18")
	}
	if _, err := parseAmount("MinLiquidatableCollateral", c.MinLiquidatableCollateral); err != nil {
		return err
	}
	seen := make(map[types.Address]bool, len(c.Markets))
	for i := range c.Markets {
		m := &c.Markets[i]
		addr, err := m.LedgerAddress()
		if err != nil {
			return err
		}
		if seen[addr] {
			return fmt.Errorf("config: markets[%d]: duplicate ledger %s", i, addr.Hex())
		}
		seen[addr] = true
		if err := m.validate(i); err != nil {
			return err
		}
	}
	if err := c.Rewards.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate(i int) error {
	factor, err := parseAmount(fmt.Sprintf("markets[%d].CollateralFactor", i), m.CollateralFactor)
	if err != nil {
		return err
	}
	if factor != nil && factor.Cmp(collateralFactorMax) > 0 {
		return fmt.Errorf("config: markets[%d]: collateral factor above 0.9e18", i)
	}
	threshold, err := parseAmount(fmt.Sprintf("markets[%d].LiquidationThreshold", i), m.LiquidationThreshold)
	if err != nil {
		return err
	}
	if threshold != nil && threshold.Cmp(liquidationThreshMax) > 0 {
		return fmt.Errorf("config: markets[%d]: liquidation threshold above 1e18", i)
	}
	if factor != nil && threshold != nil && threshold.Cmp(factor) < 0 {
		return fmt.Errorf("config: markets[%d]: liquidation threshold below collateral factor", i)
	}
	if _, err := parseAmount(fmt.Sprintf("markets[%d].SupplyCap", i), m.SupplyCap); err != nil {
		return err
	}
	if _, err := parseAmount(fmt.Sprintf("markets[%d].BorrowCap", i), m.BorrowCap); err != nil {
		return err
	}
	if _, err := parseAmount(fmt.Sprintf("markets[%d].Price", i), m.Price); err != nil {
		return err
	}
	return nil
}

func (r *RewardsConfig) validate() error {
	switch r.TimeBase {
	case TimeBaseBlock, TimeBaseTime:
	default:
		return fmt.Errorf("config: rewards.TimeBase must be %q or %q", TimeBaseBlock, TimeBaseTime)
	}
	if _, err := parseAmount("rewards.Budget", r.Budget); err != nil {
		return err
	}
	for i := range r.Speeds {
		s := &r.Speeds[i]
		if _, err := types.ParseAddress(s.Market); err != nil {
			return fmt.Errorf("config: rewards.speeds[%d]: invalid market %q: %w", i, s.Market, err)
		}
		if _, err := parseAmount(fmt.Sprintf("rewards.speeds[%d].SupplySpeed", i), s.SupplySpeed); err != nil {
			return err
		}
		if _, err := parseAmount(fmt.Sprintf("rewards.speeds[%d].BorrowSpeed", i), s.BorrowSpeed); err != nil {
			return err
		}
	}
	return nil
}

// LedgerAddress returns the parsed market ledger address.
func (m *MarketConfig) LedgerAddress() (types.Address, error) {
	addr, err := types.ParseAddress(m.Ledger)
	if err != nil {
		return types.Address{}, fmt.Errorf("config: invalid ledger address %q: %w", m.Ledger, err)
	}
	return addr, nil
}

// EngineParams converts the validated file into risk engine parameters.
func (c *Config) EngineParams() (risk.EngineParams, error) {
	closeFactor, err := parseAmount("CloseFactor", c.CloseFactor)
	if err != nil {
		return risk.EngineParams{}, err
	}
	incentive, err := parseAmount("LiquidationIncentive", c.LiquidationIncentive)
	if err != nil {
		return risk.EngineParams{}, err
	}
	minCollateral, err := parseAmount("MinLiquidatableCollateral", c.MinLiquidatableCollateral)
	if err != nil {
		return risk.EngineParams{}, err
	}
	return risk.EngineParams{
		CloseFactor:               closeFactor,
		LiquidationIncentive:      incentive,
		MinLiquidatableCollateral: minCollateral,
		MaxLoopsLimit:             c.MaxLoopsLimit,
	}, nil
}

// RiskParameters converts one market entry into its stored risk settings.
func (m *MarketConfig) RiskParameters() (factor, threshold, supplyCap, borrowCap *big.Int, err error) {
	if factor, err = parseAmount("CollateralFactor", m.CollateralFactor); err != nil {
		return nil, nil, nil, nil, err
	}
	if threshold, err = parseAmount("LiquidationThreshold", m.LiquidationThreshold); err != nil {
		return nil, nil, nil, nil, err
	}
	if factor == nil {
		factor = new(big.Int)
	}
	if threshold == nil {
		threshold = new(big.Int).Set(factor)
	}
	if supplyCap, err = parseAmount("SupplyCap", m.SupplyCap); err != nil {
		return nil, nil, nil, nil, err
	}
	if borrowCap, err = parseAmount("BorrowCap", m.BorrowCap); err != nil {
		return nil, nil, nil, nil, err
	}
	return factor, threshold, supplyCap, borrowCap, nil
}

// PriceAmount returns the market's pinned 18-decimal price, nil when no
// quote is configured.
func (m *MarketConfig) PriceAmount() (*big.Int, error) {
	return parseAmount("Price", m.Price)
}

// BudgetAmount returns the reward emission budget, zero when unset.
func (r *RewardsConfig) BudgetAmount() (*big.Int, error) {
	budget, err := parseAmount("rewards.Budget", r.Budget)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		budget = new(big.Int)
	}
	return budget, nil
}

// SpeedAmounts returns the parsed supply and borrow emission rates.
func (s *SpeedConfig) SpeedAmounts() (supply, borrow *big.Int, err error) {
	if supply, err = parseAmount("SupplySpeed", s.SupplySpeed); err != nil {
		return nil, nil, err
	}
	if borrow, err = parseAmount("BorrowSpeed", s.BorrowSpeed); err != nil {
		return nil, nil, err
	}
	if supply == nil {
		supply = new(big.Int)
	}
	if borrow == nil {
		borrow = new(big.Int)
	}
	return supply, borrow, nil
}
