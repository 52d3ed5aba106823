package rewards

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"

	"crosslend/core/types"
	"crosslend/native/common"
)

// Reward indices carry a 1e36 fixed-point scale and live in 256-bit space
// with a 224-bit ceiling, so overflow is detected exactly rather than
// wrapped.
var (
	doubleScale = uint256.MustFromDecimal("1000000000000000000000000000000000000")
	expScale    = uint256.NewInt(1_000_000_000_000_000_000)
)

const indexCeilingBits = 224

// initialIndex is the accumulator value a market starts from; account
// snapshots of zero are backdated to it so accounts that existed before
// rewards were configured are not over-credited.
func initialIndex() *big.Int { return doubleScale.ToBig() }

// Engine accrues a secondary reward token to suppliers and borrowers in
// proportion to their share of each market's principal over elapsed slots,
// plus a market-independent contributor accrual.
type Engine struct {
	state   State
	slots   SlotSource
	markets LedgerSource
	pool    RewardPool

	supplySpeeds      map[types.Address]*big.Int
	borrowSpeeds      map[types.Address]*big.Int
	contributorSpeeds map[types.Address]*big.Int
	maxLoopsLimit     uint64
}

// NewEngine constructs a reward engine on the given slot source.
func NewEngine(slots SlotSource) *Engine {
	return &Engine{
		slots:             slots,
		supplySpeeds:      make(map[types.Address]*big.Int),
		borrowSpeeds:      make(map[types.Address]*big.Int),
		contributorSpeeds: make(map[types.Address]*big.Int),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetLedgerSource wires the market principal views.
func (e *Engine) SetLedgerSource(src LedgerSource) {
	if e == nil {
		return
	}
	e.markets = src
}

// SetRewardPool wires the token pool claims are paid from.
func (e *Engine) SetRewardPool(pool RewardPool) {
	if e == nil {
		return
	}
	e.pool = pool
}

// SetMaxLoopsLimit bounds iteration over caller-supplied market lists.
func (e *Engine) SetMaxLoopsLimit(limit uint64) {
	if e == nil {
		return
	}
	e.maxLoopsLimit = limit
}

// SupplySpeed returns the configured supply-side emission for a market.
func (e *Engine) SupplySpeed(market types.Address) *big.Int {
	return cloneOrZero(e.supplySpeeds[market])
}

// BorrowSpeed returns the configured borrow-side emission for a market.
func (e *Engine) BorrowSpeed(market types.Address) *big.Int {
	return cloneOrZero(e.borrowSpeeds[market])
}

// Accrued returns the account's undistributed-but-claimable balance.
func (e *Engine) Accrued(account types.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	accrued, err := e.state.GetAccrued(account)
	if err != nil {
		return nil, err
	}
	return cloneOrZero(accrued), nil
}

// SetSpeeds reconfigures per-market emissions. The indices are refreshed at
// the old speeds first so past elapsed slots keep their old attribution and
// only future time accrues at the new rate.
func (e *Engine) SetSpeeds(markets []types.Address, supplySpeeds, borrowSpeeds []*big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(markets) == 0 {
		return ErrEmptyInput
	}
	if len(markets) != len(supplySpeeds) || len(markets) != len(borrowSpeeds) {
		return ErrInputLengthMismatch
	}
	if err := common.EnsureMaxLoops(uint64(len(markets)), e.maxLoopsLimit); err != nil {
		return err
	}
	for i, market := range markets {
		if supplySpeeds[i] != nil && supplySpeeds[i].Sign() < 0 {
			return ErrInvalidSpeed
		}
		if borrowSpeeds[i] != nil && borrowSpeeds[i].Sign() < 0 {
			return ErrInvalidSpeed
		}
		if _, ok := e.marketView(market); !ok {
			return ErrUnknownMarket
		}
		if err := e.RefreshSupplyIndex(market); err != nil {
			return err
		}
		if err := e.RefreshBorrowIndex(market); err != nil {
			return err
		}
		e.supplySpeeds[market] = cloneOrZero(supplySpeeds[i])
		e.borrowSpeeds[market] = cloneOrZero(borrowSpeeds[i])
		e.state.AppendEvent(&types.Event{
			Type: eventSpeedUpdated,
			Attributes: map[string]string{
				"market":      market.Hex(),
				"supplySpeed": e.supplySpeeds[market].String(),
				"borrowSpeed": e.borrowSpeeds[market].String(),
			},
		})
	}
	return nil
}

// SetLastRewardingSlots installs per-market accrual cutoffs. A cutoff of
// zero clears the bound; a nonzero cutoff must lie in the future and cannot
// replace one that already elapsed.
func (e *Engine) SetLastRewardingSlots(markets []types.Address, supplyCutoffs, borrowCutoffs []uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if len(markets) == 0 {
		return ErrEmptyInput
	}
	if len(markets) != len(supplyCutoffs) || len(markets) != len(borrowCutoffs) {
		return ErrInputLengthMismatch
	}
	if err := common.EnsureMaxLoops(uint64(len(markets)), e.maxLoopsLimit); err != nil {
		return err
	}
	for i, market := range markets {
		if err := e.RefreshSupplyIndex(market); err != nil {
			return err
		}
		if err := e.RefreshBorrowIndex(market); err != nil {
			return err
		}
		if err := e.setCutoff(market, supplyCutoffs[i], true); err != nil {
			return err
		}
		if err := e.setCutoff(market, borrowCutoffs[i], false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) setCutoff(market types.Address, cutoff uint64, supply bool) error {
	st, err := e.ensureState(market, supply)
	if err != nil {
		return err
	}
	if st.LastRewardingSlot > 0 && st.Slot >= st.LastRewardingSlot {
		return ErrCutoffPassed
	}
	if cutoff != 0 && cutoff <= e.slots.Current() {
		return ErrInvalidRewardingSlot
	}
	st.LastRewardingSlot = cutoff
	return e.putState(market, st, supply)
}

// RefreshSupplyIndex advances the supply-side index for elapsed slots.
func (e *Engine) RefreshSupplyIndex(market types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	st, err := e.ensureState(market, true)
	if err != nil {
		return err
	}
	principal := func() (*big.Int, error) {
		view, ok := e.marketView(market)
		if !ok {
			return nil, ErrUnknownMarket
		}
		return view.TotalSupply()
	}
	changed, err := e.advanceIndex(st, e.supplySpeeds[market], principal)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.putState(market, st, true)
}

// RefreshBorrowIndex advances the borrow-side index. The borrow principal is
// deflated by the market's interest index so interest growth does not count
// as new borrow volume.
func (e *Engine) RefreshBorrowIndex(market types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	st, err := e.ensureState(market, false)
	if err != nil {
		return err
	}
	principal := func() (*big.Int, error) {
		view, ok := e.marketView(market)
		if !ok {
			return nil, ErrUnknownMarket
		}
		totalBorrows, err := view.TotalBorrows()
		if err != nil {
			return nil, err
		}
		borrowIndex, err := view.BorrowIndex()
		if err != nil {
			return nil, err
		}
		return deflateByIndex(totalBorrows, borrowIndex)
	}
	changed, err := e.advanceIndex(st, e.borrowSpeeds[market], principal)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.putState(market, st, false)
}

// advanceIndex applies elapsed-slot accrual to a market state. The principal
// is only fetched when there is something to accrue. Returns whether the
// state changed.
func (e *Engine) advanceIndex(st *MarketState, speed *big.Int, principal func() (*big.Int, error)) (bool, error) {
	if e.slots == nil {
		return false, errNilSlots
	}
	slot := e.slots.Current()
	if st.LastRewardingSlot > 0 && slot > st.LastRewardingSlot {
		slot = st.LastRewardingSlot
	}
	if slot <= st.Slot {
		return false, nil
	}
	elapsed := slot - st.Slot

	if speed != nil && speed.Sign() > 0 {
		total, err := principal()
		if err != nil {
			return false, err
		}
		totalU, err := toU256(total)
		if err != nil {
			return false, err
		}
		speedU, err := toU256(speed)
		if err != nil {
			return false, err
		}
		accrued, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(elapsed), speedU)
		if overflow {
			return false, ErrAmountOverflow
		}
		if !totalU.IsZero() {
			ratio, overflow := new(uint256.Int).MulDivOverflow(accrued, doubleScale, totalU)
			if overflow {
				return false, ErrAmountOverflow
			}
			indexU, err := toU256(st.Index)
			if err != nil {
				return false, err
			}
			next, overflow := new(uint256.Int).AddOverflow(indexU, ratio)
			if overflow || next.BitLen() > indexCeilingBits {
				return false, ErrIndexOverflow
			}
			st.Index = next.ToBig()
		}
	}

	st.Slot = slot
	return true, nil
}

// DistributeSupplier credits the account with its share of the supply index
// movement since the last distribution.
func (e *Engine) DistributeSupplier(market, account types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	st, err := e.ensureState(market, true)
	if err != nil {
		return err
	}
	accountIndex, err := e.state.GetSupplierIndex(market, account)
	if err != nil {
		return err
	}
	view, ok := e.marketView(market)
	if !ok {
		return ErrUnknownMarket
	}
	balance, err := view.SupplyBalanceOf(account)
	if err != nil {
		return err
	}
	delta, err := e.distribute(st.Index, accountIndex, balance, account)
	if err != nil {
		return err
	}
	if err := e.state.PutSupplierIndex(market, account, copyBig(st.Index)); err != nil {
		return err
	}
	e.emitDistributed(market, account, "supply", delta)
	return nil
}

// DistributeBorrower credits the account with its share of the borrow index
// movement since the last distribution.
func (e *Engine) DistributeBorrower(market, account types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	st, err := e.ensureState(market, false)
	if err != nil {
		return err
	}
	accountIndex, err := e.state.GetBorrowerIndex(market, account)
	if err != nil {
		return err
	}
	view, ok := e.marketView(market)
	if !ok {
		return ErrUnknownMarket
	}
	borrowBalance, err := view.BorrowBalanceOf(account)
	if err != nil {
		return err
	}
	borrowIndex, err := view.BorrowIndex()
	if err != nil {
		return err
	}
	principal, err := deflateByIndex(borrowBalance, borrowIndex)
	if err != nil {
		return err
	}
	delta, err := e.distribute(st.Index, accountIndex, principal, account)
	if err != nil {
		return err
	}
	if err := e.state.PutBorrowerIndex(market, account, copyBig(st.Index)); err != nil {
		return err
	}
	e.emitDistributed(market, account, "borrow", delta)
	return nil
}

// distribute computes principal × (marketIndex − accountIndex) / 1e36 and
// adds it to the account's accrued balance. A zero account index against an
// already-moving market index is backdated to the initial index.
func (e *Engine) distribute(marketIndex, accountIndex, principal *big.Int, account types.Address) (*big.Int, error) {
	marketU, err := toU256(marketIndex)
	if err != nil {
		return nil, err
	}
	accountU, err := toU256(accountIndex)
	if err != nil {
		return nil, err
	}
	if accountU.IsZero() && !marketU.Lt(doubleScale) {
		accountU = new(uint256.Int).Set(doubleScale)
	}
	if marketU.Lt(accountU) {
		return nil, ErrIndexRegression
	}
	deltaIndex := new(uint256.Int).Sub(marketU, accountU)
	if deltaIndex.IsZero() {
		return big.NewInt(0), nil
	}
	principalU, err := toU256(principal)
	if err != nil {
		return nil, err
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(principalU, deltaIndex, doubleScale)
	if overflow {
		return nil, ErrAmountOverflow
	}
	if amount.IsZero() {
		return big.NewInt(0), nil
	}
	return amount.ToBig(), e.addAccrued(account, amount.ToBig())
}

// Claim refreshes and distributes both sides of every given market for the
// holder, folds in contributor accrual, then attempts to pay the full
// accrued balance from the reward pool. An underfunded pool pays nothing and
// leaves the balance claimable.
func (e *Engine) Claim(holder types.Address, markets []types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.EnsureMaxLoops(uint64(len(markets)), e.maxLoopsLimit); err != nil {
		return err
	}
	if err := e.UpdateContributorRewards(holder); err != nil {
		return err
	}
	for _, market := range markets {
		if err := e.RefreshSupplyIndex(market); err != nil {
			return err
		}
		if err := e.DistributeSupplier(market, holder); err != nil {
			return err
		}
		if err := e.RefreshBorrowIndex(market); err != nil {
			return err
		}
		if err := e.DistributeBorrower(market, holder); err != nil {
			return err
		}
	}
	return e.payout(holder)
}

func (e *Engine) payout(holder types.Address) error {
	accrued, err := e.state.GetAccrued(holder)
	if err != nil {
		return err
	}
	if accrued == nil || accrued.Sign() == 0 {
		return nil
	}
	if e.pool == nil {
		return errNilPool
	}
	balance, err := e.pool.Balance()
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(accrued) < 0 {
		e.state.AppendEvent(&types.Event{
			Type: eventClaimDeferred,
			Attributes: map[string]string{
				"holder":  holder.Hex(),
				"accrued": accrued.String(),
			},
		})
		return nil
	}
	if err := e.pool.Transfer(holder, accrued); err != nil {
		return err
	}
	if err := e.state.PutAccrued(holder, big.NewInt(0)); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{
		Type: eventClaimed,
		Attributes: map[string]string{
			"holder": holder.Hex(),
			"amount": accrued.String(),
		},
	})
	return nil
}

// SetContributorSpeed configures the market-independent linear accrual for a
// contributor, flushing the old rate first.
func (e *Engine) SetContributorSpeed(contributor types.Address, speed *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if speed != nil && speed.Sign() < 0 {
		return ErrInvalidSpeed
	}
	if err := e.UpdateContributorRewards(contributor); err != nil {
		return err
	}
	if speed == nil || speed.Sign() == 0 {
		delete(e.contributorSpeeds, contributor)
	} else {
		e.contributorSpeeds[contributor] = new(big.Int).Set(speed)
		if err := e.state.PutContributorSlot(contributor, e.slots.Current()); err != nil {
			return err
		}
	}
	return nil
}

// UpdateContributorRewards accrues speed × elapsed slots for the
// contributor, independent of market activity.
func (e *Engine) UpdateContributorRewards(contributor types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	speed := e.contributorSpeeds[contributor]
	if speed == nil || speed.Sign() == 0 {
		return nil
	}
	if e.slots == nil {
		return errNilSlots
	}
	slot := e.slots.Current()
	last, ok, err := e.state.GetContributorSlot(contributor)
	if err != nil {
		return err
	}
	if !ok {
		return e.state.PutContributorSlot(contributor, slot)
	}
	if slot <= last {
		return nil
	}
	amount := new(big.Int).Mul(speed, new(big.Int).SetUint64(slot-last))
	if err := e.addAccrued(contributor, amount); err != nil {
		return err
	}
	if err := e.state.PutContributorSlot(contributor, slot); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{
		Type: eventContributorAccrued,
		Attributes: map[string]string{
			"contributor": contributor.Hex(),
			"amount":      amount.String(),
			"slot":        strconv.FormatUint(slot, 10),
		},
	})
	return nil
}

func (e *Engine) addAccrued(account types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	accrued, err := e.state.GetAccrued(account)
	if err != nil {
		return err
	}
	if accrued == nil {
		accrued = big.NewInt(0)
	}
	return e.state.PutAccrued(account, new(big.Int).Add(accrued, amount))
}

func (e *Engine) ensureState(market types.Address, supply bool) (*MarketState, error) {
	var (
		st  *MarketState
		err error
	)
	if supply {
		st, err = e.state.GetSupplyState(market)
	} else {
		st, err = e.state.GetBorrowState(market)
	}
	if err != nil {
		return nil, err
	}
	if st == nil {
		if e.slots == nil {
			return nil, errNilSlots
		}
		st = &MarketState{Index: initialIndex(), Slot: e.slots.Current()}
		if err := e.putState(market, st, supply); err != nil {
			return nil, err
		}
	}
	if st.Index == nil || st.Index.Sign() == 0 {
		st.Index = initialIndex()
	}
	return st, nil
}

func (e *Engine) putState(market types.Address, st *MarketState, supply bool) error {
	if supply {
		return e.state.PutSupplyState(market, st)
	}
	return e.state.PutBorrowState(market, st)
}

func (e *Engine) marketView(market types.Address) (MarketView, bool) {
	if e.markets == nil {
		return nil, false
	}
	return e.markets.MarketView(market)
}

func (e *Engine) emitDistributed(market, account types.Address, side string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	e.state.AppendEvent(&types.Event{
		Type: eventDistributed,
		Attributes: map[string]string{
			"market":  market.Hex(),
			"account": account.Hex(),
			"side":    side,
			"amount":  amount.String(),
		},
	})
}

// deflateByIndex divides a principal by an 18-decimal interest index.
func deflateByIndex(amount, index *big.Int) (*big.Int, error) {
	amountU, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	indexU, err := toU256(index)
	if err != nil {
		return nil, err
	}
	if indexU.IsZero() {
		return big.NewInt(0), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amountU, expScale, indexU)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return out.ToBig(), nil
}

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() <= 0 {
		return uint256.NewInt(0), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return out, nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
