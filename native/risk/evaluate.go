package risk

import (
	"math/big"

	"crosslend/core/types"
)

// Evaluate computes the account's aggregate weighted collateral, total
// collateral, and debt across every entered market, optionally layering the
// hypothetical effects of redeeming tokens from or borrowing against one
// market. Any ledger failure or unavailable price is fatal for the whole
// call; there are no partial results.
//
// The modified market is ignored when it equals the zero address.
func (e *Engine) Evaluate(account types.Address, policy WeightPolicy, modified types.Address, redeemTokens, borrowAmount *big.Int) (*AccountLiquidity, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	membership, err := e.getMembership(account)
	if err != nil {
		return nil, err
	}

	snapshot := &AccountLiquidity{
		WeightedCollateral: big.NewInt(0),
		TotalCollateral:    big.NewInt(0),
		Borrows:            big.NewInt(0),
		Effects:            big.NewInt(0),
	}

	for _, market := range membership.Markets() {
		m, err := e.getMarket(market)
		if err != nil {
			return nil, err
		}
		ledger, err := e.ledger(market)
		if err != nil {
			return nil, err
		}
		tokenBalance, debtBalance, exchangeRate, err := ledger.AccountSnapshot(account)
		if err != nil {
			return nil, wrapSnapshotErr(err)
		}
		price, err := e.price(market)
		if err != nil {
			return nil, err
		}

		assetValue := mulExp(exchangeRate, price)
		weight := m.CollateralFactor
		if policy == WeightLiquidationThreshold {
			weight = m.LiquidationThreshold
		}
		weightedAssetValue := mulExp(weight, assetValue)

		snapshot.WeightedCollateral.Add(snapshot.WeightedCollateral, mulScalarTruncate(weightedAssetValue, tokenBalance))
		snapshot.TotalCollateral.Add(snapshot.TotalCollateral, mulScalarTruncate(assetValue, tokenBalance))
		snapshot.Borrows.Add(snapshot.Borrows, mulScalarTruncate(price, debtBalance))

		if market == modified {
			snapshot.Effects.Add(snapshot.Effects, mulScalarTruncate(weightedAssetValue, redeemTokens))
			snapshot.Effects.Add(snapshot.Effects, mulScalarTruncate(price, borrowAmount))
		}
	}

	owed := new(big.Int).Add(snapshot.Borrows, snapshot.Effects)
	snapshot.Liquidity = saturatingSub(snapshot.WeightedCollateral, owed)
	snapshot.Shortfall = saturatingSub(owed, snapshot.WeightedCollateral)
	return snapshot, nil
}

// AccountLiquidity is the current borrow-admission snapshot: collateral-factor
// weighting with no hypothetical amounts.
func (e *Engine) AccountLiquidity(account types.Address) (*AccountLiquidity, error) {
	return e.Evaluate(account, WeightCollateralFactor, types.Address{}, nil, nil)
}

// LiquidationSnapshot is the current liquidation-eligibility snapshot:
// liquidation-threshold weighting with no hypothetical amounts.
func (e *Engine) LiquidationSnapshot(account types.Address) (*AccountLiquidity, error) {
	return e.Evaluate(account, WeightLiquidationThreshold, types.Address{}, nil, nil)
}

// HypotheticalAccountLiquidity projects the account's borrowing power after
// redeeming and borrowing against the given market.
func (e *Engine) HypotheticalAccountLiquidity(account, market types.Address, redeemTokens, borrowAmount *big.Int) (*AccountLiquidity, error) {
	return e.Evaluate(account, WeightCollateralFactor, market, redeemTokens, borrowAmount)
}
