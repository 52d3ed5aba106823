package risk

import (
	"math/big"

	"crosslend/core/types"
	"crosslend/native/common"
)

// Hooks are invoked by market ledgers before every principal-affecting
// operation. Each hook checks the pause bitmap, refreshes affected prices,
// may run a liquidity evaluation, and unconditionally drives the reward
// flywheel for the involved accounts once its policy checks pass.

// PreMint gates a supply of underlying into a market.
func (e *Engine) PreMint(market, minter types.Address, mintAmount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, market, common.ActionMint); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if mintAmount != nil && mintAmount.Sign() < 0 {
		return errInvalidAmount
	}

	if m.SupplyCap != nil {
		ledger, err := e.ledger(market)
		if err != nil {
			return err
		}
		totalSupply, err := ledger.TotalSupply()
		if err != nil {
			return wrapSnapshotErr(err)
		}
		exchangeRate, err := ledger.ExchangeRate()
		if err != nil {
			return wrapSnapshotErr(err)
		}
		nextTotal := new(big.Int).Add(mulScalarTruncate(exchangeRate, totalSupply), nonNil(mintAmount))
		if nextTotal.Cmp(m.SupplyCap) > 0 {
			return ErrSupplyCapExceeded
		}
	}

	return e.flywheelSupply(market, minter)
}

// PreRedeem gates a withdrawal of market tokens. Accounts that never entered
// the market as collateral may redeem freely.
func (e *Engine) PreRedeem(market, redeemer types.Address, redeemTokens *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, market, common.ActionRedeem); err != nil {
		return err
	}
	if _, err := e.listedMarket(market); err != nil {
		return err
	}
	if err := e.checkRedeemAllowed(market, redeemer, redeemTokens); err != nil {
		return err
	}
	return e.flywheelSupply(market, redeemer)
}

// PreBorrow gates a borrow. A borrower touching an unentered market is
// entered implicitly so its collateral and debt both count from now on.
func (e *Engine) PreBorrow(market, borrower types.Address, borrowAmount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, market, common.ActionBorrow); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}

	membership, err := e.getMembership(borrower)
	if err != nil {
		return err
	}
	if !membership.Contains(market) {
		if err := e.addToMarket(borrower, market); err != nil {
			return err
		}
	}

	e.refreshPrices([]types.Address{market})
	if _, err := e.price(market); err != nil {
		return err
	}

	if m.BorrowCap != nil {
		ledger, err := e.ledger(market)
		if err != nil {
			return err
		}
		totalBorrows, err := ledger.TotalBorrows()
		if err != nil {
			return wrapSnapshotErr(err)
		}
		nextTotal := new(big.Int).Add(totalBorrows, nonNil(borrowAmount))
		if nextTotal.Cmp(m.BorrowCap) > 0 {
			return ErrBorrowCapExceeded
		}
	}

	snapshot, err := e.Evaluate(borrower, WeightCollateralFactor, market, nil, borrowAmount)
	if err != nil {
		return err
	}
	if snapshot.Shortfall.Sign() != 0 {
		return ErrInsufficientLiquidity
	}

	return e.flywheelBorrow(market, borrower)
}

// PreRepay gates a repayment, which is always admissible while unpaused.
func (e *Engine) PreRepay(market, borrower types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, market, common.ActionRepay); err != nil {
		return err
	}
	if _, err := e.listedMarket(market); err != nil {
		return err
	}
	return e.flywheelBorrow(market, borrower)
}

// PreTransfer gates a market-token transfer by treating it as a hypothetical
// redeem on the source account.
func (e *Engine) PreTransfer(market, src, dst types.Address, transferTokens *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, market, common.ActionTransfer); err != nil {
		return err
	}
	if _, err := e.listedMarket(market); err != nil {
		return err
	}
	if err := e.checkRedeemAllowed(market, src, transferTokens); err != nil {
		return err
	}
	if err := e.flywheelSupply(market, src); err != nil {
		return err
	}
	return e.distributeSupply(market, dst)
}

// checkRedeemAllowed runs the hypothetical-redeem liquidity pass for market
// members; non-members hold no counted collateral here and pass trivially.
func (e *Engine) checkRedeemAllowed(market, redeemer types.Address, redeemTokens *big.Int) error {
	if redeemTokens != nil && redeemTokens.Sign() < 0 {
		return errInvalidAmount
	}
	membership, err := e.getMembership(redeemer)
	if err != nil {
		return err
	}
	if !membership.Contains(market) {
		return nil
	}
	e.refreshPrices([]types.Address{market})
	snapshot, err := e.Evaluate(redeemer, WeightCollateralFactor, market, redeemTokens, nil)
	if err != nil {
		return err
	}
	if snapshot.Shortfall.Sign() != 0 {
		return ErrInsufficientLiquidity
	}
	return nil
}

// flywheelSupply refreshes the supply reward index and distributes to one
// account on every registered reward engine.
func (e *Engine) flywheelSupply(market, account types.Address) error {
	for _, hook := range e.rewards {
		if err := hook.RefreshSupplyIndex(market); err != nil {
			return err
		}
		if err := hook.DistributeSupplier(market, account); err != nil {
			return err
		}
	}
	return nil
}

// distributeSupply distributes without a second refresh; used for the
// counterparty of an operation whose index was just refreshed.
func (e *Engine) distributeSupply(market, account types.Address) error {
	for _, hook := range e.rewards {
		if err := hook.DistributeSupplier(market, account); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) flywheelBorrow(market, account types.Address) error {
	for _, hook := range e.rewards {
		if err := hook.RefreshBorrowIndex(market); err != nil {
			return err
		}
		if err := hook.DistributeBorrower(market, account); err != nil {
			return err
		}
	}
	return nil
}
