package risk

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"crosslend/core/types"
	"crosslend/native/common"
)

// EngineParams groups the pool-wide risk knobs configured at construction and
// mutated only through validated setters.
type EngineParams struct {
	// CloseFactor bounds the share of a single position that one liquidation
	// may repay, 18-decimal fraction.
	CloseFactor *big.Int
	// LiquidationIncentive is the collateral multiplier granted to
	// liquidators, 18-decimal, at least 1.0.
	LiquidationIncentive *big.Int
	// MinLiquidatableCollateral splits accounts between the single-position
	// liquidation path (above) and the batch recovery paths (at or below).
	MinLiquidatableCollateral *big.Int
	// MaxLoopsLimit bounds iteration over caller- and admin-supplied
	// collections. Zero disables the bound.
	MaxLoopsLimit uint64
}

// Engine is the risk-control core for one pool: it tracks listed markets and
// their parameters, evaluates account liquidity, gates every
// principal-affecting operation, and drives the reward flywheel.
type Engine struct {
	id      string
	state   State
	oracle  PriceGateway
	ledgers map[types.Address]MarketLedger
	rewards []RewardHook

	closeFactor               *big.Int
	liquidationIncentive      *big.Int
	minLiquidatableCollateral *big.Int
	maxLoopsLimit             uint64
}

// NewEngine constructs a risk engine for the named pool.
func NewEngine(id string, params EngineParams) *Engine {
	e := &Engine{
		id:                        strings.TrimSpace(id),
		ledgers:                   make(map[types.Address]MarketLedger),
		closeFactor:               big.NewInt(0),
		liquidationIncentive:      new(big.Int).Set(mantissaOne),
		minLiquidatableCollateral: big.NewInt(0),
		maxLoopsLimit:             params.MaxLoopsLimit,
	}
	if params.CloseFactor != nil {
		e.closeFactor = new(big.Int).Set(params.CloseFactor)
	}
	if params.LiquidationIncentive != nil {
		e.liquidationIncentive = new(big.Int).Set(params.LiquidationIncentive)
	}
	if params.MinLiquidatableCollateral != nil {
		e.minLiquidatableCollateral = new(big.Int).Set(params.MinLiquidatableCollateral)
	}
	return e
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetPriceGateway wires the price oracle consumed during evaluation.
func (e *Engine) SetPriceGateway(oracle PriceGateway) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// AddRewardHook registers a reward engine driven by every hook.
func (e *Engine) AddRewardHook(hook RewardHook) {
	if e == nil || hook == nil {
		return
	}
	e.rewards = append(e.rewards, hook)
}

// RiskEngineID names the engine; the same identity must be reported by every
// ledger it lists.
func (e *Engine) RiskEngineID() string {
	if e == nil {
		return ""
	}
	return e.id
}

// ActionPaused implements common.PauseView against the persisted pause bitmap.
// Lookup failures read as unpaused; every operation re-reads the market and
// surfaces the underlying error itself.
func (e *Engine) ActionPaused(market types.Address, action common.Action) bool {
	if e == nil || e.state == nil {
		return false
	}
	m, err := e.state.GetMarket(market)
	if err != nil || m == nil {
		return false
	}
	return m.ActionPaused(action)
}

// Markets returns the addresses of every registered market in a stable order.
func (e *Engine) Markets() []types.Address {
	if e == nil {
		return nil
	}
	out := make([]types.Address, 0, len(e.ledgers))
	for market := range e.ledgers {
		out = append(out, market)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

// Ledger returns the registered ledger for a listed market.
func (e *Engine) Ledger(market types.Address) (MarketLedger, bool) {
	if e == nil {
		return nil, false
	}
	ledger, ok := e.ledgers[market]
	return ledger, ok
}

func (e *Engine) ledger(market types.Address) (MarketLedger, error) {
	ledger, ok := e.ledgers[market]
	if !ok {
		return nil, errNilLedger
	}
	return ledger, nil
}

// getMarket loads the market record, substituting an unlisted placeholder
// when absent so callers can uniformly check IsListed.
func (e *Engine) getMarket(market types.Address) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, err := e.state.GetMarket(market)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return &Market{}, nil
	}
	if m.CollateralFactor == nil {
		m.CollateralFactor = big.NewInt(0)
	}
	if m.LiquidationThreshold == nil {
		m.LiquidationThreshold = big.NewInt(0)
	}
	return m, nil
}

// listedMarket loads the market and rejects unlisted ones.
func (e *Engine) listedMarket(market types.Address) (*Market, error) {
	m, err := e.getMarket(market)
	if err != nil {
		return nil, err
	}
	if !m.IsListed {
		return nil, ErrMarketNotListed
	}
	return m, nil
}

// price resolves the oracle quote for a market. Nil or zero quotes are fatal
// for the calling operation.
func (e *Engine) price(market types.Address) (*big.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	p, err := e.oracle.Price(market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, market.Hex(), err)
	}
	if p == nil || p.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, market.Hex())
	}
	return p, nil
}

// refreshPrices asks the gateway to update quotes for every given market.
func (e *Engine) refreshPrices(markets []types.Address) {
	if e.oracle == nil {
		return
	}
	for _, market := range markets {
		e.oracle.Refresh(market)
	}
}

func wrapSnapshotErr(err error) error {
	return fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
}
