package risk

import (
	"math/big"

	"crosslend/core/types"
	"crosslend/native/rewards"
)

// ledgerView adapts a registered market ledger to the reward engine's
// principal view.
type ledgerView struct {
	ledger MarketLedger
}

func (v ledgerView) TotalSupply() (*big.Int, error)  { return v.ledger.TotalSupply() }
func (v ledgerView) TotalBorrows() (*big.Int, error) { return v.ledger.TotalBorrows() }
func (v ledgerView) BorrowIndex() (*big.Int, error)  { return v.ledger.BorrowIndex() }

func (v ledgerView) SupplyBalanceOf(account types.Address) (*big.Int, error) {
	tokens, _, _, err := v.ledger.AccountSnapshot(account)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (v ledgerView) BorrowBalanceOf(account types.Address) (*big.Int, error) {
	return v.ledger.BorrowBalance(account)
}

// MarketView implements rewards.LedgerSource so the reward engine reads
// principals through the same ledger registry the risk checks use.
func (e *Engine) MarketView(market types.Address) (rewards.MarketView, bool) {
	ledger, ok := e.Ledger(market)
	if !ok {
		return nil, false
	}
	return ledgerView{ledger: ledger}, true
}
