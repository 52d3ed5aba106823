package rewards

import (
	"errors"
	"math/big"
	"testing"

	"crosslend/core/types"
	"crosslend/native/common"
)

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func exp18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// indexPlus returns initialIndex shifted by n units of 1e35, covering the
// fractions the scenarios below produce.
func indexPlus(n int64) *big.Int {
	step := new(big.Int).Exp(big.NewInt(10), big.NewInt(35), nil)
	return new(big.Int).Add(initialIndex(), new(big.Int).Mul(big.NewInt(n), step))
}

type mockRewardState struct {
	supply           map[types.Address]*MarketState
	borrow           map[types.Address]*MarketState
	supplierIdx      map[string]*big.Int
	borrowerIdx      map[string]*big.Int
	accrued          map[types.Address]*big.Int
	contributorSlots map[types.Address]uint64
	events           []*types.Event
}

func newMockRewardState() *mockRewardState {
	return &mockRewardState{
		supply:           make(map[types.Address]*MarketState),
		borrow:           make(map[types.Address]*MarketState),
		supplierIdx:      make(map[string]*big.Int),
		borrowerIdx:      make(map[string]*big.Int),
		accrued:          make(map[types.Address]*big.Int),
		contributorSlots: make(map[types.Address]uint64),
	}
}

func idxKey(market, account types.Address) string {
	return market.Hex() + "/" + account.Hex()
}

func (s *mockRewardState) GetSupplyState(market types.Address) (*MarketState, error) {
	return s.supply[market].Clone(), nil
}

func (s *mockRewardState) PutSupplyState(market types.Address, st *MarketState) error {
	s.supply[market] = st.Clone()
	return nil
}

func (s *mockRewardState) GetBorrowState(market types.Address) (*MarketState, error) {
	return s.borrow[market].Clone(), nil
}

func (s *mockRewardState) PutBorrowState(market types.Address, st *MarketState) error {
	s.borrow[market] = st.Clone()
	return nil
}

func (s *mockRewardState) GetSupplierIndex(market, account types.Address) (*big.Int, error) {
	return copyBig(s.supplierIdx[idxKey(market, account)]), nil
}

func (s *mockRewardState) PutSupplierIndex(market, account types.Address, index *big.Int) error {
	s.supplierIdx[idxKey(market, account)] = copyBig(index)
	return nil
}

func (s *mockRewardState) GetBorrowerIndex(market, account types.Address) (*big.Int, error) {
	return copyBig(s.borrowerIdx[idxKey(market, account)]), nil
}

func (s *mockRewardState) PutBorrowerIndex(market, account types.Address, index *big.Int) error {
	s.borrowerIdx[idxKey(market, account)] = copyBig(index)
	return nil
}

func (s *mockRewardState) GetAccrued(account types.Address) (*big.Int, error) {
	return copyBig(s.accrued[account]), nil
}

func (s *mockRewardState) PutAccrued(account types.Address, amount *big.Int) error {
	s.accrued[account] = copyBig(amount)
	return nil
}

func (s *mockRewardState) GetContributorSlot(account types.Address) (uint64, bool, error) {
	slot, ok := s.contributorSlots[account]
	return slot, ok, nil
}

func (s *mockRewardState) PutContributorSlot(account types.Address, slot uint64) error {
	s.contributorSlots[account] = slot
	return nil
}

func (s *mockRewardState) AppendEvent(evt *types.Event) {
	s.events = append(s.events, evt)
}

func (s *mockRewardState) eventCount(eventType string) int {
	n := 0
	for _, evt := range s.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func (s *mockRewardState) accruedOf(account types.Address) *big.Int {
	return cloneOrZero(s.accrued[account])
}

type mockView struct {
	totalSupply  *big.Int
	totalBorrows *big.Int
	borrowIndex  *big.Int
	supplyBal    map[types.Address]*big.Int
	borrowBal    map[types.Address]*big.Int
}

func (v *mockView) TotalSupply() (*big.Int, error)  { return copyBig(v.totalSupply), nil }
func (v *mockView) TotalBorrows() (*big.Int, error) { return copyBig(v.totalBorrows), nil }
func (v *mockView) BorrowIndex() (*big.Int, error)  { return copyBig(v.borrowIndex), nil }

func (v *mockView) SupplyBalanceOf(account types.Address) (*big.Int, error) {
	return cloneOrZero(v.supplyBal[account]), nil
}

func (v *mockView) BorrowBalanceOf(account types.Address) (*big.Int, error) {
	return cloneOrZero(v.borrowBal[account]), nil
}

type mockLedgers map[types.Address]*mockView

func (m mockLedgers) MarketView(market types.Address) (MarketView, bool) {
	view, ok := m[market]
	return view, ok
}

type rewardFixture struct {
	engine  *Engine
	state   *mockRewardState
	clock   *BlockCounter
	ledgers mockLedgers
}

func newRewardFixture() *rewardFixture {
	f := &rewardFixture{
		state:   newMockRewardState(),
		clock:   NewBlockCounter(0),
		ledgers: make(mockLedgers),
	}
	f.engine = NewEngine(f.clock)
	f.engine.SetState(f.state)
	f.engine.SetLedgerSource(f.ledgers)
	f.engine.SetMaxLoopsLimit(16)
	return f
}

func (f *rewardFixture) addMarket(b byte, totalSupply, totalBorrows int64) (types.Address, *mockView) {
	market := addr(b)
	view := &mockView{
		totalSupply:  big.NewInt(totalSupply),
		totalBorrows: big.NewInt(totalBorrows),
		borrowIndex:  exp18(1),
		supplyBal:    make(map[types.Address]*big.Int),
		borrowBal:    make(map[types.Address]*big.Int),
	}
	f.ledgers[market] = view
	return market, view
}

func (f *rewardFixture) setSpeeds(t *testing.T, market types.Address, supplySpeed, borrowSpeed int64) {
	t.Helper()
	err := f.engine.SetSpeeds(
		[]types.Address{market},
		[]*big.Int{big.NewInt(supplySpeed)},
		[]*big.Int{big.NewInt(borrowSpeed)},
	)
	if err != nil {
		t.Fatalf("set speeds: %v", err)
	}
}

func TestSupplyAccrualScenario(t *testing.T) {
	f := newRewardFixture()
	market, view := f.addMarket(0x01, 100, 0)
	holder := addr(0xaa)
	view.supplyBal[holder] = big.NewInt(20)

	f.setSpeeds(t, market, 10, 0)
	f.clock.SetHeight(5)

	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// 5 slots at speed 10 over a supply of 100: the index moves by
	// 50/100 = 0.5, scaled to 5e35.
	st := f.state.supply[market]
	if st.Index.Cmp(indexPlus(5)) != 0 {
		t.Fatalf("index = %v", st.Index)
	}
	if st.Slot != 5 {
		t.Fatalf("slot = %d", st.Slot)
	}

	if err := f.engine.DistributeSupplier(market, holder); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// The holder owns 20 of 100, so 20 × 0.5 = 10 of the 50 emitted.
	if got := f.state.accruedOf(holder); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("accrued = %v", got)
	}
	if f.state.eventCount(eventDistributed) != 1 {
		t.Fatalf("expected one distribution event")
	}

	// A second distribution with no index movement credits nothing.
	if err := f.engine.DistributeSupplier(market, holder); err != nil {
		t.Fatalf("redistribute: %v", err)
	}
	if got := f.state.accruedOf(holder); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("accrued after no-op = %v", got)
	}
}

func TestRefreshAtZeroSpeedAdvancesSlot(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)

	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	f.clock.SetHeight(7)
	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	st := f.state.supply[market]
	if st.Index.Cmp(initialIndex()) != 0 {
		t.Fatalf("index moved without a speed: %v", st.Index)
	}
	if st.Slot != 7 {
		t.Fatalf("slot = %d", st.Slot)
	}
}

func TestRefreshEmptyMarketAdvancesSlot(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 0, 0)
	f.setSpeeds(t, market, 10, 0)
	f.clock.SetHeight(4)

	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// No principal to spread over: the index holds but the slot catches up
	// so the idle window is never paid retroactively.
	st := f.state.supply[market]
	if st.Index.Cmp(initialIndex()) != 0 {
		t.Fatalf("index = %v", st.Index)
	}
	if st.Slot != 4 {
		t.Fatalf("slot = %d", st.Slot)
	}
}

func TestBorrowAccrualDeflatesByInterestIndex(t *testing.T) {
	f := newRewardFixture()
	market, view := f.addMarket(0x01, 0, 200)
	view.borrowIndex = exp18(2)
	borrower := addr(0xbb)
	view.borrowBal[borrower] = big.NewInt(50)

	f.setSpeeds(t, market, 0, 10)
	f.clock.SetHeight(5)

	if err := f.engine.RefreshBorrowIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// 200 nominal borrows deflate to 100 at interest index 2.0, so 5 slots
	// at speed 10 move the index by 0.5.
	st := f.state.borrow[market]
	if st.Index.Cmp(indexPlus(5)) != 0 {
		t.Fatalf("index = %v", st.Index)
	}

	if err := f.engine.DistributeBorrower(market, borrower); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	// The 50 nominal balance deflates to 25: 25 × 0.5 = 12.
	if got := f.state.accruedOf(borrower); got.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("accrued = %v", got)
	}
}

func TestSetSpeedsFlushesOldRateFirst(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)

	f.setSpeeds(t, market, 10, 0)
	f.clock.SetHeight(5)
	// Reconfiguring at slot 5 must credit slots 0..5 at the old speed.
	f.setSpeeds(t, market, 40, 0)
	f.clock.SetHeight(10)
	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// 5 slots at 10 then 5 slots at 40 over supply 100: 0.5 + 2.0 = 2.5.
	st := f.state.supply[market]
	if st.Index.Cmp(indexPlus(25)) != 0 {
		t.Fatalf("index = %v", st.Index)
	}
	if f.state.eventCount(eventSpeedUpdated) != 2 {
		t.Fatalf("expected two speed events")
	}
}

func TestSetSpeedsValidation(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)

	if err := f.engine.SetSpeeds(nil, nil, nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	err := f.engine.SetSpeeds([]types.Address{market}, []*big.Int{big.NewInt(1)}, nil)
	if !errors.Is(err, ErrInputLengthMismatch) {
		t.Fatalf("expected ErrInputLengthMismatch, got %v", err)
	}
	err = f.engine.SetSpeeds(
		[]types.Address{market},
		[]*big.Int{big.NewInt(-1)},
		[]*big.Int{big.NewInt(0)},
	)
	if !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
	err = f.engine.SetSpeeds(
		[]types.Address{addr(0x99)},
		[]*big.Int{big.NewInt(1)},
		[]*big.Int{big.NewInt(1)},
	)
	if !errors.Is(err, ErrUnknownMarket) {
		t.Fatalf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestLastRewardingSlotClampsAccrual(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)
	f.setSpeeds(t, market, 10, 0)

	err := f.engine.SetLastRewardingSlots([]types.Address{market}, []uint64{5}, []uint64{5})
	if err != nil {
		t.Fatalf("set cutoff: %v", err)
	}

	// Slots past the cutoff earn nothing.
	f.clock.SetHeight(20)
	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	st := f.state.supply[market]
	if st.Index.Cmp(indexPlus(5)) != 0 {
		t.Fatalf("index = %v", st.Index)
	}
	if st.Slot != 5 {
		t.Fatalf("slot clamped to %d, want 5", st.Slot)
	}
}

func TestSetLastRewardingSlotsValidation(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)
	f.clock.SetHeight(10)

	// A cutoff in the past is rejected outright.
	err := f.engine.SetLastRewardingSlots([]types.Address{market}, []uint64{10}, []uint64{0})
	if !errors.Is(err, ErrInvalidRewardingSlot) {
		t.Fatalf("expected ErrInvalidRewardingSlot, got %v", err)
	}

	if err := f.engine.SetLastRewardingSlots([]types.Address{market}, []uint64{15}, []uint64{15}); err != nil {
		t.Fatalf("set cutoff: %v", err)
	}

	// Once the cutoff has elapsed it cannot be replaced.
	f.clock.SetHeight(20)
	err = f.engine.SetLastRewardingSlots([]types.Address{market}, []uint64{30}, []uint64{30})
	if !errors.Is(err, ErrCutoffPassed) {
		t.Fatalf("expected ErrCutoffPassed, got %v", err)
	}
}

func TestDistributeBackdatesZeroAccountIndex(t *testing.T) {
	f := newRewardFixture()
	market, view := f.addMarket(0x01, 100, 0)
	holder := addr(0xaa)
	view.supplyBal[holder] = big.NewInt(100)

	// The market accrued before the holder was ever touched; the holder's
	// missing snapshot is treated as the initial index, not zero, so only
	// post-launch movement is credited.
	f.setSpeeds(t, market, 10, 0)
	f.clock.SetHeight(5)
	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := f.engine.DistributeSupplier(market, holder); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := f.state.accruedOf(holder); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("accrued = %v", got)
	}
}

func TestDistributeRejectsIndexRegression(t *testing.T) {
	f := newRewardFixture()
	market, view := f.addMarket(0x01, 100, 0)
	holder := addr(0xaa)
	view.supplyBal[holder] = big.NewInt(100)

	if err := f.engine.RefreshSupplyIndex(market); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	ahead := new(big.Int).Add(initialIndex(), big.NewInt(1))
	if err := f.state.PutSupplierIndex(market, holder, ahead); err != nil {
		t.Fatalf("put index: %v", err)
	}

	if err := f.engine.DistributeSupplier(market, holder); !errors.Is(err, ErrIndexRegression) {
		t.Fatalf("expected ErrIndexRegression, got %v", err)
	}
}

func TestAdvanceIndexOverflow(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 1, 0)
	f.setSpeeds(t, market, 1, 0)

	// Park the index just under the 224-bit ceiling; one more slot over a
	// supply of 1 adds a full 1e36 and trips the ceiling.
	ceiling := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 224), big.NewInt(1))
	if err := f.state.PutSupplyState(market, &MarketState{Index: ceiling, Slot: 0}); err != nil {
		t.Fatalf("put state: %v", err)
	}
	f.clock.SetHeight(1)

	if err := f.engine.RefreshSupplyIndex(market); !errors.Is(err, ErrIndexOverflow) {
		t.Fatalf("expected ErrIndexOverflow, got %v", err)
	}
}

func TestClaimPaysFromPool(t *testing.T) {
	f := newRewardFixture()
	market, view := f.addMarket(0x01, 100, 0)
	holder := addr(0xaa)
	view.supplyBal[holder] = big.NewInt(100)
	pool := NewBudgetPool(big.NewInt(1000))
	f.engine.SetRewardPool(pool)

	f.setSpeeds(t, market, 10, 0)
	f.clock.SetHeight(5)

	if err := f.engine.Claim(holder, []types.Address{market}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := pool.Paid(holder); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("paid = %v", got)
	}
	if got := f.state.accruedOf(holder); got.Sign() != 0 {
		t.Fatalf("accrued not cleared: %v", got)
	}
	if f.state.eventCount(eventClaimed) != 1 {
		t.Fatalf("expected one claim event")
	}
}

func TestClaimUnderfundedPoolDefers(t *testing.T) {
	f := newRewardFixture()
	market, view := f.addMarket(0x01, 100, 0)
	holder := addr(0xaa)
	view.supplyBal[holder] = big.NewInt(100)
	pool := NewBudgetPool(big.NewInt(10))
	f.engine.SetRewardPool(pool)

	f.setSpeeds(t, market, 10, 0)
	f.clock.SetHeight(5)

	// 50 accrued against a pool of 10: nothing moves, the balance stays
	// claimable for when the pool is topped up.
	if err := f.engine.Claim(holder, []types.Address{market}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := pool.Paid(holder); got.Sign() != 0 {
		t.Fatalf("partial payout: %v", got)
	}
	if got := f.state.accruedOf(holder); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("accrued = %v", got)
	}
	if f.state.eventCount(eventClaimDeferred) != 1 {
		t.Fatalf("expected one deferral event")
	}
}

func TestClaimNothingAccruedNeedsNoPool(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)

	if err := f.engine.Claim(addr(0xaa), []types.Address{market}); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestClaimLoopBound(t *testing.T) {
	f := newRewardFixture()
	markets := make([]types.Address, 17)
	for i := range markets {
		markets[i] = addr(byte(i + 1))
	}
	if err := f.engine.Claim(addr(0xaa), markets); !errors.Is(err, common.ErrMaxLoopsExceeded) {
		t.Fatalf("expected ErrMaxLoopsExceeded, got %v", err)
	}
}

func TestContributorAccrual(t *testing.T) {
	f := newRewardFixture()
	contributor := addr(0xcc)

	if err := f.engine.SetContributorSpeed(contributor, big.NewInt(7)); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	f.clock.SetHeight(10)
	if err := f.engine.UpdateContributorRewards(contributor); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.state.accruedOf(contributor); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("accrued = %v", got)
	}
	if f.state.eventCount(eventContributorAccrued) != 1 {
		t.Fatalf("expected one contributor event")
	}

	// Updating again at the same slot accrues nothing more.
	if err := f.engine.UpdateContributorRewards(contributor); err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if got := f.state.accruedOf(contributor); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("accrued after no-op = %v", got)
	}
}

func TestSetContributorSpeedFlushesAndClears(t *testing.T) {
	f := newRewardFixture()
	contributor := addr(0xcc)

	if err := f.engine.SetContributorSpeed(contributor, big.NewInt(5)); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	f.clock.SetHeight(4)
	// Clearing the speed pays out the 4 elapsed slots at the old rate and
	// stops further accrual.
	if err := f.engine.SetContributorSpeed(contributor, nil); err != nil {
		t.Fatalf("clear speed: %v", err)
	}
	if got := f.state.accruedOf(contributor); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("accrued = %v", got)
	}

	f.clock.SetHeight(8)
	if err := f.engine.UpdateContributorRewards(contributor); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.state.accruedOf(contributor); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("accrual continued after clear: %v", got)
	}

	if err := f.engine.SetContributorSpeed(contributor, big.NewInt(-1)); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
}

func TestSpeedGetters(t *testing.T) {
	f := newRewardFixture()
	market, _ := f.addMarket(0x01, 100, 0)
	f.setSpeeds(t, market, 3, 4)

	if got := f.engine.SupplySpeed(market); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("supply speed = %v", got)
	}
	if got := f.engine.BorrowSpeed(market); got.Cmp(big.NewInt(4)) != 0 {
		t.Fatalf("borrow speed = %v", got)
	}
	if got := f.engine.SupplySpeed(addr(0x99)); got.Sign() != 0 {
		t.Fatalf("unconfigured speed = %v", got)
	}

	accrued, err := f.engine.Accrued(addr(0xaa))
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if accrued.Sign() != 0 {
		t.Fatalf("accrued = %v", accrued)
	}
}
