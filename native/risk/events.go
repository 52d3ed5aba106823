package risk

// Event types emitted through the state's event sink.
const (
	eventMarketListed         = "risk.market.listed"
	eventMarketEntered        = "risk.market.entered"
	eventMarketExited         = "risk.market.exited"
	eventCollateralFactorSet  = "risk.collateral_factor.updated"
	eventSupplyCapSet         = "risk.supply_cap.updated"
	eventBorrowCapSet         = "risk.borrow_cap.updated"
	eventActionsPaused        = "risk.actions.paused"
	eventForcedLiquidationSet = "risk.forced_liquidation.updated"
	eventAccountHealed        = "risk.account.healed"
	eventAccountLiquidated    = "risk.account.liquidated"
)
