package ledger

const (
	eventMinted         = "ledger.minted"
	eventRedeemed       = "ledger.redeemed"
	eventBorrowed       = "ledger.borrowed"
	eventRepaid         = "ledger.repaid"
	eventSeized         = "ledger.seized"
	eventLiquidated     = "ledger.liquidated"
	eventDebtWrittenOff = "ledger.debt.written_off"
)
