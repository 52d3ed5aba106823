package risk

import (
	"math/big"
	"strconv"

	"crosslend/core/types"
	"crosslend/native/common"
)

// SupportMarket lists a new market. The ledger must self-identify as a market
// and report this engine's identity; a market is created exactly once and
// never removed.
func (e *Engine) SupportMarket(ledger MarketLedger) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ledger == nil || !ledger.IsMarketLedger() {
		return ErrInvalidMarketLedger
	}
	addr := ledger.Address()
	if addr.IsZero() {
		return errZeroMarketAddress
	}
	existing, err := e.getMarket(addr)
	if err != nil {
		return err
	}
	if existing.IsListed {
		return ErrMarketAlreadyListed
	}

	market := &Market{
		IsListed:             true,
		CollateralFactor:     big.NewInt(0),
		LiquidationThreshold: big.NewInt(0),
	}
	if err := e.state.PutMarket(addr, market); err != nil {
		return err
	}
	e.ledgers[addr] = ledger

	e.state.AppendEvent(&types.Event{
		Type:       eventMarketListed,
		Attributes: map[string]string{"market": addr.Hex()},
	})
	return nil
}

// AttachLedger re-binds the in-memory ledger for an already listed market.
// Hosts restarting over persisted state use it instead of SupportMarket.
func (e *Engine) AttachLedger(ledger MarketLedger) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ledger == nil || !ledger.IsMarketLedger() {
		return ErrInvalidMarketLedger
	}
	addr := ledger.Address()
	m, err := e.getMarket(addr)
	if err != nil {
		return err
	}
	if !m.IsListed {
		return ErrMarketNotListed
	}
	e.ledgers[addr] = ledger
	return nil
}

// SetCollateralFactor updates both weighting parameters for a market. The
// factor is capped at 0.9, the threshold at 1.0, and the threshold may never
// fall below the factor. A nonzero factor additionally requires a live price.
func (e *Engine) SetCollateralFactor(market types.Address, factor, threshold *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	factor = nonNil(factor)
	threshold = nonNil(threshold)
	if factor.Sign() < 0 || factor.Cmp(collateralFactorMax) > 0 {
		return ErrInvalidCollateralFactor
	}
	if threshold.Cmp(mantissaOne) > 0 {
		return ErrInvalidThreshold
	}
	if threshold.Cmp(factor) < 0 {
		return ErrThresholdBelowFactor
	}
	if factor.Sign() > 0 {
		if _, err := e.price(market); err != nil {
			return err
		}
	}

	m.CollateralFactor = new(big.Int).Set(factor)
	m.LiquidationThreshold = new(big.Int).Set(threshold)
	if err := e.state.PutMarket(market, m); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{
		Type: eventCollateralFactorSet,
		Attributes: map[string]string{
			"market":               market.Hex(),
			"collateralFactor":     factor.String(),
			"liquidationThreshold": threshold.String(),
		},
	})
	return nil
}

// SetSupplyCaps updates supply caps in bulk. A nil cap lifts the limit; a cap
// below the current total is legal and only blocks further growth.
func (e *Engine) SetSupplyCaps(markets []types.Address, caps []*big.Int) error {
	return e.setCaps(markets, caps, true)
}

// SetBorrowCaps updates borrow caps in bulk with the same semantics as
// SetSupplyCaps.
func (e *Engine) SetBorrowCaps(markets []types.Address, caps []*big.Int) error {
	return e.setCaps(markets, caps, false)
}

func (e *Engine) setCaps(markets []types.Address, caps []*big.Int, supply bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(markets) == 0 {
		return ErrEmptyInput
	}
	if len(markets) != len(caps) {
		return ErrInputLengthMismatch
	}
	if err := common.EnsureMaxLoops(uint64(len(markets)), e.maxLoopsLimit); err != nil {
		return err
	}
	for i, market := range markets {
		m, err := e.listedMarket(market)
		if err != nil {
			return err
		}
		cap := copyBigInt(caps[i])
		if cap != nil && cap.Sign() < 0 {
			return errInvalidAmount
		}
		eventType := eventBorrowCapSet
		if supply {
			m.SupplyCap = cap
			eventType = eventSupplyCapSet
		} else {
			m.BorrowCap = cap
		}
		if err := e.state.PutMarket(market, m); err != nil {
			return err
		}
		capAttr := "unlimited"
		if cap != nil {
			capAttr = cap.String()
		}
		e.state.AppendEvent(&types.Event{
			Type:       eventType,
			Attributes: map[string]string{"market": market.Hex(), "cap": capAttr},
		})
	}
	return nil
}

// SetActionsPaused flips pause bits for every (market, action) pair in the
// cross product of the two lists. Every market must be listed.
func (e *Engine) SetActionsPaused(markets []types.Address, actions []common.Action, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(markets) == 0 || len(actions) == 0 {
		return ErrEmptyInput
	}
	if err := common.EnsureMaxLoops(uint64(len(markets))*uint64(len(actions)), e.maxLoopsLimit); err != nil {
		return err
	}
	for _, market := range markets {
		m, err := e.listedMarket(market)
		if err != nil {
			return err
		}
		for _, action := range actions {
			m.SetActionPaused(action, paused)
		}
		if err := e.state.PutMarket(market, m); err != nil {
			return err
		}
		e.state.AppendEvent(&types.Event{
			Type: eventActionsPaused,
			Attributes: map[string]string{
				"market": market.Hex(),
				"paused": strconv.FormatBool(paused),
				"bitmap": strconv.FormatUint(uint64(m.Paused), 2),
			},
		})
	}
	return nil
}

// SetForcedLiquidation toggles the close-factor bypass for a market.
func (e *Engine) SetForcedLiquidation(market types.Address, enabled bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	m.ForcedLiquidationEnabled = enabled
	if err := e.state.PutMarket(market, m); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{
		Type: eventForcedLiquidationSet,
		Attributes: map[string]string{
			"market":  market.Hex(),
			"enabled": strconv.FormatBool(enabled),
		},
	})
	return nil
}

// SetCloseFactor bounds single-position liquidation size. At most 1.0.
func (e *Engine) SetCloseFactor(mantissa *big.Int) error {
	if e == nil {
		return errNilState
	}
	mantissa = nonNil(mantissa)
	if mantissa.Sign() < 0 || mantissa.Cmp(mantissaOne) > 0 {
		return ErrInvalidCloseFactor
	}
	e.closeFactor = new(big.Int).Set(mantissa)
	return nil
}

// SetLiquidationIncentive sets the liquidator collateral multiplier, at
// least 1.0.
func (e *Engine) SetLiquidationIncentive(mantissa *big.Int) error {
	if e == nil {
		return errNilState
	}
	if mantissa == nil || mantissa.Cmp(mantissaOne) < 0 {
		return ErrInvalidIncentive
	}
	e.liquidationIncentive = new(big.Int).Set(mantissa)
	return nil
}

// SetMinLiquidatableCollateral moves the boundary between the single-position
// and batch recovery paths.
func (e *Engine) SetMinLiquidatableCollateral(value *big.Int) error {
	if e == nil {
		return errNilState
	}
	value = nonNil(value)
	if value.Sign() < 0 {
		return errInvalidAmount
	}
	e.minLiquidatableCollateral = new(big.Int).Set(value)
	return nil
}

// SetMaxLoopsLimit raises the iteration bound. The limit only ever
// increases so an admin cannot shrink it under in-flight order lists.
func (e *Engine) SetMaxLoopsLimit(limit uint64) error {
	if e == nil {
		return errNilState
	}
	if limit <= e.maxLoopsLimit {
		return ErrInvalidLoopsLimit
	}
	e.maxLoopsLimit = limit
	return nil
}

// CloseFactor returns the configured close factor mantissa.
func (e *Engine) CloseFactor() *big.Int { return copyBigInt(e.closeFactor) }

// LiquidationIncentive returns the configured incentive mantissa.
func (e *Engine) LiquidationIncentive() *big.Int { return copyBigInt(e.liquidationIncentive) }

// MinLiquidatableCollateral returns the batch-path collateral boundary.
func (e *Engine) MinLiquidatableCollateral() *big.Int {
	return copyBigInt(e.minLiquidatableCollateral)
}

// MaxLoopsLimit returns the iteration bound.
func (e *Engine) MaxLoopsLimit() uint64 { return e.maxLoopsLimit }
