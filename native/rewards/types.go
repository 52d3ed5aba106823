package rewards

import (
	"math/big"
	"time"

	"crosslend/core/types"
)

// MarketState is the reward accumulator for one market and flow side. The
// index carries a 1e36 fixed-point scale and only ever increases; it never
// advances past LastRewardingSlot when one is set.
type MarketState struct {
	Index             *big.Int `json:"index"`
	Slot              uint64   `json:"slot"`
	LastRewardingSlot uint64   `json:"lastRewardingSlot,omitempty"`
}

// Clone returns a deep copy.
func (s *MarketState) Clone() *MarketState {
	if s == nil {
		return nil
	}
	clone := &MarketState{Slot: s.Slot, LastRewardingSlot: s.LastRewardingSlot}
	if s.Index != nil {
		clone.Index = new(big.Int).Set(s.Index)
	}
	return clone
}

// SlotSource is the opaque monotonically increasing counter the accrual
// clock runs on, either a block height or a wall-clock reading. Selected at
// construction so the accrual algorithm is written once.
type SlotSource interface {
	Current() uint64
}

// SlotFunc adapts a plain function to a SlotSource.
type SlotFunc func() uint64

// Current implements SlotSource.
func (f SlotFunc) Current() uint64 { return f() }

// TimeSource counts unix seconds.
func TimeSource() SlotSource {
	return SlotFunc(func() uint64 { return uint64(time.Now().Unix()) })
}

// BlockCounter is a host-advanced block-height slot source.
type BlockCounter struct {
	height uint64
}

// NewBlockCounter starts the counter at the given height.
func NewBlockCounter(height uint64) *BlockCounter {
	return &BlockCounter{height: height}
}

// SetHeight records the block height used for subsequent accrual deltas.
func (c *BlockCounter) SetHeight(height uint64) {
	if c == nil {
		return
	}
	if height > c.height {
		c.height = height
	}
}

// Current implements SlotSource.
func (c *BlockCounter) Current() uint64 {
	if c == nil {
		return 0
	}
	return c.height
}

// MarketView exposes the principal figures the accrual needs from a market.
type MarketView interface {
	TotalSupply() (*big.Int, error)
	TotalBorrows() (*big.Int, error)
	BorrowIndex() (*big.Int, error)
	SupplyBalanceOf(account types.Address) (*big.Int, error)
	BorrowBalanceOf(account types.Address) (*big.Int, error)
}

// LedgerSource resolves market views; implemented by the risk engine's
// ledger registry.
type LedgerSource interface {
	MarketView(market types.Address) (MarketView, bool)
}

// RewardPool holds the reward token backing claims. A claim the pool cannot
// fully cover pays nothing.
type RewardPool interface {
	Balance() (*big.Int, error)
	Transfer(to types.Address, amount *big.Int) error
}

// State is the persistence surface for reward accounting. Nil results mean
// "never recorded".
type State interface {
	GetSupplyState(market types.Address) (*MarketState, error)
	PutSupplyState(market types.Address, st *MarketState) error
	GetBorrowState(market types.Address) (*MarketState, error)
	PutBorrowState(market types.Address, st *MarketState) error

	GetSupplierIndex(market, account types.Address) (*big.Int, error)
	PutSupplierIndex(market, account types.Address, index *big.Int) error
	GetBorrowerIndex(market, account types.Address) (*big.Int, error)
	PutBorrowerIndex(market, account types.Address, index *big.Int) error

	GetAccrued(account types.Address) (*big.Int, error)
	PutAccrued(account types.Address, amount *big.Int) error

	GetContributorSlot(account types.Address) (uint64, bool, error)
	PutContributorSlot(account types.Address, slot uint64) error

	AppendEvent(evt *types.Event)
}
