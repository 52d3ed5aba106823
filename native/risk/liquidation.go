package risk

import (
	"math/big"

	"crosslend/core/types"
	"crosslend/native/common"
)

// PreLiquidate gates a single-position liquidation: repay borrower debt in
// the debt market and seize collateral from the collateral market. With
// skipCheck set (the batch paths) or forced liquidation enabled on the debt
// market, only the repay-within-debt bound applies; otherwise the borrower
// must be eligible under the liquidation-threshold weighting and the repay
// amount must respect the close factor. Once the checks pass the borrow
// flywheel is driven for the borrower, before the ledger reduces the debt.
func (e *Engine) PreLiquidate(debtMarket, collateralMarket, borrower types.Address, repayAmount *big.Int, skipCheck bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, debtMarket, common.ActionLiquidate); err != nil {
		return err
	}
	debt, err := e.listedMarket(debtMarket)
	if err != nil {
		return err
	}
	if _, err := e.listedMarket(collateralMarket); err != nil {
		return err
	}
	if repayAmount != nil && repayAmount.Sign() < 0 {
		return errInvalidAmount
	}

	membership, err := e.getMembership(borrower)
	if err != nil {
		return err
	}
	e.refreshPrices(membership.Markets())

	ledger, err := e.ledger(debtMarket)
	if err != nil {
		return err
	}
	borrowBalance, err := ledger.BorrowBalance(borrower)
	if err != nil {
		return wrapSnapshotErr(err)
	}

	if skipCheck || debt.ForcedLiquidationEnabled {
		if nonNil(repayAmount).Cmp(borrowBalance) > 0 {
			return ErrTooMuchRepay
		}
		return e.flywheelBorrow(debtMarket, borrower)
	}

	snapshot, err := e.LiquidationSnapshot(borrower)
	if err != nil {
		return err
	}
	if snapshot.TotalCollateral.Cmp(e.minLiquidatableCollateral) <= 0 {
		return ErrMinimalCollateralViolated
	}
	if snapshot.Shortfall.Sign() == 0 {
		return ErrInsufficientShortfall
	}
	maxClose := mulScalarTruncate(e.closeFactor, borrowBalance)
	if nonNil(repayAmount).Cmp(maxClose) > 0 {
		return ErrTooMuchRepay
	}
	return e.flywheelBorrow(debtMarket, borrower)
}

// SeizerIdentity names the risk engine a seize initiator answers to. Both
// the engine itself (batch recovery) and market ledgers satisfy it.
type SeizerIdentity interface {
	RiskEngineID() string
}

// PreSeize gates the collateral-side transfer of a liquidation. The seizer
// must be this engine or a listed market governed by this engine, and the
// borrower must hold the collateral market as an entered asset.
func (e *Engine) PreSeize(collateralMarket types.Address, seizer SeizerIdentity, liquidator, borrower types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.Guard(e, collateralMarket, common.ActionSeize); err != nil {
		return err
	}
	if _, err := e.listedMarket(collateralMarket); err != nil {
		return err
	}

	if seizer == nil || seizer.RiskEngineID() != e.id {
		return ErrEngineMismatch
	}
	if ledger, ok := seizer.(MarketLedger); ok {
		if _, err := e.listedMarket(ledger.Address()); err != nil {
			return err
		}
	}

	membership, err := e.getMembership(borrower)
	if err != nil {
		return err
	}
	if !membership.Contains(collateralMarket) {
		return ErrNotMember
	}

	if err := e.flywheelSupply(collateralMarket, borrower); err != nil {
		return err
	}
	return e.distributeSupply(collateralMarket, liquidator)
}

// CalculateSeizeTokens converts a repay amount in the debt market into the
// number of collateral-market tokens owed to the liquidator, including the
// liquidation incentive.
func (e *Engine) CalculateSeizeTokens(debtMarket, collateralMarket types.Address, repayAmount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	priceBorrowed, err := e.price(debtMarket)
	if err != nil {
		return nil, err
	}
	priceCollateral, err := e.price(collateralMarket)
	if err != nil {
		return nil, err
	}
	ledger, err := e.ledger(collateralMarket)
	if err != nil {
		return nil, err
	}
	exchangeRate, err := ledger.ExchangeRate()
	if err != nil {
		return nil, wrapSnapshotErr(err)
	}

	numerator := mulExp(e.liquidationIncentive, priceBorrowed)
	denominator := mulExp(priceCollateral, exchangeRate)
	ratio := divExp(numerator, denominator)
	return mulScalarTruncate(ratio, nonNil(repayAmount)), nil
}

// HealAccount recovers a deeply underwater account whose total collateral is
// too small for order-by-order liquidation: the payer takes all remaining
// collateral, repays the covered share of every debt, and the rest is written
// off as bad debt. This is the only path that creates bad debt by design.
func (e *Engine) HealAccount(payer, account types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	membership, err := e.getMembership(account)
	if err != nil {
		return err
	}
	assets := membership.Markets()
	if err := common.EnsureMaxLoops(uint64(len(assets)), e.maxLoopsLimit); err != nil {
		return err
	}

	// The snapshot is only meaningful against fresh interest and prices.
	for _, market := range assets {
		ledger, err := e.ledger(market)
		if err != nil {
			return err
		}
		if err := ledger.AccrueInterest(); err != nil {
			return wrapSnapshotErr(err)
		}
	}
	e.refreshPrices(assets)

	snapshot, err := e.LiquidationSnapshot(account)
	if err != nil {
		return err
	}
	if snapshot.TotalCollateral.Cmp(e.minLiquidatableCollateral) > 0 {
		return ErrCollateralExceedsThreshold
	}
	if snapshot.Shortfall.Sign() == 0 {
		return ErrInsufficientShortfall
	}

	// Share of each debt the collateral can cover once the liquidator
	// incentive is carved out. Above 1.0 the account is not underwater
	// enough for healing and must go through full liquidation.
	scaledBorrows := mulExp(e.liquidationIncentive, snapshot.Borrows)
	percentage := divExp(snapshot.TotalCollateral, scaledBorrows)
	if percentage.Cmp(mantissaOne) > 0 {
		return ErrHealPercentageTooHigh
	}

	for _, market := range assets {
		ledger, err := e.ledger(market)
		if err != nil {
			return err
		}
		// Rewards are settled at the pre-heal balances; the seizure and
		// write-off below must not re-attribute them.
		if err := e.flywheelSupply(market, account); err != nil {
			return err
		}
		if err := e.distributeSupply(market, payer); err != nil {
			return err
		}
		if err := e.flywheelBorrow(market, account); err != nil {
			return err
		}
		tokens, _, _, err := ledger.AccountSnapshot(account)
		if err != nil {
			return wrapSnapshotErr(err)
		}
		if nonNil(tokens).Sign() > 0 {
			if err := ledger.Seize(payer, account, tokens); err != nil {
				return err
			}
		}
		borrowBalance, err := ledger.BorrowBalance(account)
		if err != nil {
			return wrapSnapshotErr(err)
		}
		if nonNil(borrowBalance).Sign() > 0 {
			repay := mulScalarTruncate(percentage, borrowBalance)
			if err := ledger.ForceRepayAndWriteOff(payer, account, repay); err != nil {
				return err
			}
		}
	}

	e.state.AppendEvent(&types.Event{
		Type: eventAccountHealed,
		Attributes: map[string]string{
			"account":    account.Hex(),
			"payer":      payer.Hex(),
			"percentage": percentage.String(),
			"borrows":    snapshot.Borrows.String(),
			"collateral": snapshot.TotalCollateral.String(),
		},
	})
	return nil
}

// LiquidateAccount liquidates every position of a small-collateral account in
// one batch, bypassing the close factor. The caller supplies the full order
// list; any residual debt afterwards violates the engine's invariant and
// aborts the whole call.
func (e *Engine) LiquidateAccount(liquidator, borrower types.Address, orders []LiquidationOrder) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.EnsureMaxLoops(uint64(len(orders)), e.maxLoopsLimit); err != nil {
		return err
	}

	membership, err := e.getMembership(borrower)
	if err != nil {
		return err
	}
	assets := membership.Markets()
	for _, market := range assets {
		ledger, err := e.ledger(market)
		if err != nil {
			return err
		}
		if err := ledger.AccrueInterest(); err != nil {
			return wrapSnapshotErr(err)
		}
	}
	e.refreshPrices(assets)

	snapshot, err := e.LiquidationSnapshot(borrower)
	if err != nil {
		return err
	}
	if snapshot.TotalCollateral.Cmp(e.minLiquidatableCollateral) > 0 {
		return ErrCollateralExceedsThreshold
	}
	collateralToSeize := mulScalarTruncate(e.liquidationIncentive, snapshot.Borrows)
	if collateralToSeize.Cmp(snapshot.TotalCollateral) >= 0 {
		return ErrInsufficientCollateral
	}
	if snapshot.Shortfall.Sign() == 0 {
		return ErrInsufficientShortfall
	}

	for _, order := range orders {
		if _, err := e.listedMarket(order.DebtMarket); err != nil {
			return err
		}
		if _, err := e.listedMarket(order.CollateralMarket); err != nil {
			return err
		}
		ledger, err := e.ledger(order.DebtMarket)
		if err != nil {
			return err
		}
		if err := ledger.ForceLiquidate(liquidator, borrower, order.RepayAmount, order.CollateralMarket, true); err != nil {
			return err
		}
	}

	// The supplied orders must cover the debt completely; leftovers are a
	// defect, not a user error.
	for _, market := range assets {
		ledger, err := e.ledger(market)
		if err != nil {
			return err
		}
		borrowBalance, err := ledger.BorrowBalance(borrower)
		if err != nil {
			return wrapSnapshotErr(err)
		}
		if nonNil(borrowBalance).Sign() != 0 {
			return ErrResidualDebt
		}
	}

	e.state.AppendEvent(&types.Event{
		Type: eventAccountLiquidated,
		Attributes: map[string]string{
			"account":    borrower.Hex(),
			"liquidator": liquidator.Hex(),
			"orders":     big.NewInt(int64(len(orders))).String(),
			"borrows":    snapshot.Borrows.String(),
		},
	})
	return nil
}
