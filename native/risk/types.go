package risk

import (
	"math/big"

	"crosslend/core/types"
	"crosslend/native/common"
)

// Market captures the risk parameters for one listed asset. Caps are nil when
// unlimited; a zero cap is legal and blocks further growth without touching
// existing positions.
type Market struct {
	IsListed                 bool     `json:"isListed"`
	CollateralFactor         *big.Int `json:"collateralFactor"`
	LiquidationThreshold     *big.Int `json:"liquidationThreshold"`
	SupplyCap                *big.Int `json:"supplyCap,omitempty"`
	BorrowCap                *big.Int `json:"borrowCap,omitempty"`
	Paused                   uint16   `json:"paused"`
	ForcedLiquidationEnabled bool     `json:"forcedLiquidationEnabled"`
}

// ActionPaused reports whether the given action bit is set.
func (m *Market) ActionPaused(action common.Action) bool {
	if m == nil {
		return false
	}
	return m.Paused&(1<<uint(action)) != 0
}

// SetActionPaused flips the pause bit for one action.
func (m *Market) SetActionPaused(action common.Action, paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.Paused |= 1 << uint(action)
	} else {
		m.Paused &^= 1 << uint(action)
	}
}

// AccountLiquidity is an ephemeral snapshot of an account's aggregate
// position, recomputed on demand. Exactly one of Liquidity and Shortfall is
// nonzero, or both are zero.
type AccountLiquidity struct {
	WeightedCollateral *big.Int
	TotalCollateral    *big.Int
	Borrows            *big.Int
	Effects            *big.Int
	Liquidity          *big.Int
	Shortfall          *big.Int
}

// WeightPolicy selects the per-market weight applied to collateral during
// evaluation.
type WeightPolicy uint8

const (
	// WeightCollateralFactor weights by the collateral factor; used for
	// borrow/redeem admission and borrowing-power queries.
	WeightCollateralFactor WeightPolicy = iota
	// WeightLiquidationThreshold weights by the liquidation threshold; used
	// for liquidation eligibility.
	WeightLiquidationThreshold
)

// LiquidationOrder instructs one forced liquidation step within a batch
// account liquidation. It is validated and consumed within a single call.
type LiquidationOrder struct {
	DebtMarket       types.Address `json:"debtMarket"`
	CollateralMarket types.Address `json:"collateralMarket"`
	RepayAmount      *big.Int      `json:"repayAmount"`
}

// PriceGateway supplies underlying prices scaled to 18 decimals. A nil or
// zero price means the feed is unavailable and fails the calling operation.
type PriceGateway interface {
	Price(market types.Address) (*big.Int, error)
	// Refresh asks the gateway to update its quote for the market. Best
	// effort: the engine observes no return value.
	Refresh(market types.Address)
}

// MarketLedger is the per-market principal ledger the engine instructs but
// does not own. Mutations performed here are part of the caller's transaction.
type MarketLedger interface {
	Address() types.Address
	// IsMarketLedger lets SupportMarket verify the collaborator
	// self-identifies as a market before listing it.
	IsMarketLedger() bool
	// RiskEngineID names the engine the ledger reports to; seizures across
	// engines are rejected.
	RiskEngineID() string

	// AccountSnapshot returns (tokenBalance, debtBalance, exchangeRate).
	AccountSnapshot(account types.Address) (*big.Int, *big.Int, *big.Int, error)
	BorrowBalance(account types.Address) (*big.Int, error)
	TotalSupply() (*big.Int, error)
	TotalBorrows() (*big.Int, error)
	BadDebt() (*big.Int, error)
	ExchangeRate() (*big.Int, error)
	BorrowIndex() (*big.Int, error)

	AccrueInterest() error
	Seize(liquidator, borrower types.Address, tokens *big.Int) error
	ForceRepayAndWriteOff(payer, borrower types.Address, amount *big.Int) error
	ForceLiquidate(liquidator, borrower types.Address, repayAmount *big.Int, collateralMarket types.Address, bypassCloseFactor bool) error
}

// RewardHook is the flywheel driven on every principal-affecting operation.
// Implemented by the rewards engine.
type RewardHook interface {
	RefreshSupplyIndex(market types.Address) error
	RefreshBorrowIndex(market types.Address) error
	DistributeSupplier(market, account types.Address) error
	DistributeBorrower(market, account types.Address) error
}

// State is the persistence surface the engine mutates. A nil result without
// an error means the record is absent.
type State interface {
	GetMarket(market types.Address) (*Market, error)
	PutMarket(market types.Address, m *Market) error
	GetMembership(account types.Address) (*Membership, error)
	PutMembership(account types.Address, m *Membership) error
	AppendEvent(evt *types.Event)
}
