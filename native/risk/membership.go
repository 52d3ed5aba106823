package risk

import (
	"encoding/json"
	"strconv"

	"crosslend/core/types"
	"crosslend/native/common"
)

// Membership is the set of markets an account uses as collateral, with stable
// insertion iteration order. Removal swaps with the last element; iteration
// order is not part of any contract.
type Membership struct {
	order   []types.Address
	present map[types.Address]bool
}

// NewMembership returns an empty membership set.
func NewMembership() *Membership {
	return &Membership{present: make(map[types.Address]bool)}
}

// Contains reports whether the market is in the set.
func (m *Membership) Contains(market types.Address) bool {
	if m == nil {
		return false
	}
	return m.present[market]
}

// Add inserts the market, keeping insertion order. Adding an existing member
// is a no-op.
func (m *Membership) Add(market types.Address) {
	if m == nil || m.present[market] {
		return
	}
	if m.present == nil {
		m.present = make(map[types.Address]bool)
	}
	m.present[market] = true
	m.order = append(m.order, market)
}

// Remove deletes the market by swapping it with the last element. Returns
// false when the market was not a member.
func (m *Membership) Remove(market types.Address) bool {
	if m == nil || !m.present[market] {
		return false
	}
	delete(m.present, market)
	for i, entry := range m.order {
		if entry == market {
			last := len(m.order) - 1
			m.order[i] = m.order[last]
			m.order = m.order[:last]
			return true
		}
	}
	// The map claimed membership but the list disagreed.
	return false
}

// Markets returns the members in iteration order.
func (m *Membership) Markets() []types.Address {
	if m == nil {
		return nil
	}
	out := make([]types.Address, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the member count.
func (m *Membership) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// consistent verifies the presence set and the ordered list agree.
func (m *Membership) consistent() bool {
	if m == nil {
		return true
	}
	if len(m.order) != len(m.present) {
		return false
	}
	for _, entry := range m.order {
		if !m.present[entry] {
			return false
		}
	}
	return true
}

// MarshalJSON persists only the ordered list; the presence set is derived.
func (m *Membership) MarshalJSON() ([]byte, error) {
	hexes := make([]string, 0, len(m.order))
	for _, entry := range m.order {
		hexes = append(hexes, entry.Hex())
	}
	return json.Marshal(hexes)
}

// UnmarshalJSON rebuilds the presence set from the persisted list.
func (m *Membership) UnmarshalJSON(data []byte) error {
	var hexes []string
	if err := json.Unmarshal(data, &hexes); err != nil {
		return err
	}
	m.order = m.order[:0]
	m.present = make(map[types.Address]bool, len(hexes))
	for _, h := range hexes {
		addr, err := types.ParseAddress(h)
		if err != nil {
			return err
		}
		m.Add(addr)
	}
	return nil
}

// EnterMarkets opts the account into each listed market as collateral.
// Entering an already-entered or unlisted market is skipped silently, matching
// the idempotent entry semantics of the hooks.
func (e *Engine) EnterMarkets(account types.Address, markets []types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := common.EnsureMaxLoops(uint64(len(markets)), e.maxLoopsLimit); err != nil {
		return err
	}
	for _, market := range markets {
		m, err := e.getMarket(market)
		if err != nil {
			return err
		}
		if !m.IsListed {
			continue
		}
		if err := common.Guard(e, market, common.ActionEnterMarket); err != nil {
			return err
		}
		if err := e.addToMarket(account, market); err != nil {
			return err
		}
	}
	return nil
}

// ExitMarket removes the market from the account's collateral set. The exit
// is rejected while the account carries debt in the market or while the
// withdrawal of its remaining balance would leave the account short.
func (e *Engine) ExitMarket(account, market types.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	m, err := e.getMarket(market)
	if err != nil {
		return err
	}
	if !m.IsListed {
		return ErrMarketNotListed
	}
	if err := common.Guard(e, market, common.ActionExitMarket); err != nil {
		return err
	}

	membership, err := e.getMembership(account)
	if err != nil {
		return err
	}
	if !membership.Contains(market) {
		return nil
	}

	ledger, err := e.ledger(market)
	if err != nil {
		return err
	}
	tokens, debt, _, err := ledger.AccountSnapshot(account)
	if err != nil {
		return wrapSnapshotErr(err)
	}
	if nonNil(debt).Sign() != 0 {
		return ErrNonzeroDebt
	}
	if nonNil(tokens).Sign() != 0 {
		snapshot, err := e.Evaluate(account, WeightCollateralFactor, market, tokens, nil)
		if err != nil {
			return err
		}
		if snapshot.Shortfall.Sign() != 0 {
			return ErrInsufficientLiquidity
		}
	}

	if !membership.Remove(market) || !membership.consistent() {
		return ErrMembershipCorrupt
	}
	if err := e.state.PutMembership(account, membership); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{
		Type: eventMarketExited,
		Attributes: map[string]string{
			"account": account.Hex(),
			"market":  market.Hex(),
		},
	})
	return nil
}

// addToMarket records membership for (account, market), emitting an entry
// event on first entry.
func (e *Engine) addToMarket(account, market types.Address) error {
	membership, err := e.getMembership(account)
	if err != nil {
		return err
	}
	if membership.Contains(market) {
		return nil
	}
	membership.Add(market)
	if !membership.consistent() {
		return ErrMembershipCorrupt
	}
	if err := e.state.PutMembership(account, membership); err != nil {
		return err
	}
	e.state.AppendEvent(&types.Event{
		Type: eventMarketEntered,
		Attributes: map[string]string{
			"account": account.Hex(),
			"market":  market.Hex(),
			"count":   strconv.Itoa(membership.Len()),
		},
	})
	return nil
}

func (e *Engine) getMembership(account types.Address) (*Membership, error) {
	membership, err := e.state.GetMembership(account)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		membership = NewMembership()
	}
	return membership, nil
}
