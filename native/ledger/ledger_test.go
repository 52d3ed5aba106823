package ledger

import (
	"errors"
	"math/big"
	"testing"

	"crosslend/core/types"
	"crosslend/native/pricing"
	"crosslend/native/risk"
)

func addr(b byte) types.Address {
	var a types.Address
	a[19] = b
	return a
}

func tenths(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000_000_000_000))
}

// memState backs both the ledgers and the risk engine in one in-memory store,
// the way the daemon wires them over a single database.
type memState struct {
	positions map[string]*Position
	totals    map[types.Address]*Totals
	markets   map[types.Address]*risk.Market
	members   map[types.Address]*risk.Membership
	events    []*types.Event
}

func newMemState() *memState {
	return &memState{
		positions: make(map[string]*Position),
		totals:    make(map[types.Address]*Totals),
		markets:   make(map[types.Address]*risk.Market),
		members:   make(map[types.Address]*risk.Membership),
	}
}

func posKey(market, account types.Address) string {
	return market.Hex() + "/" + account.Hex()
}

func (s *memState) GetPosition(market, account types.Address) (*Position, error) {
	pos, ok := s.positions[posKey(market, account)]
	if !ok {
		return nil, nil
	}
	return &Position{Tokens: copyBig(pos.Tokens), Debt: copyBig(pos.Debt)}, nil
}

func (s *memState) PutPosition(market, account types.Address, p *Position) error {
	s.positions[posKey(market, account)] = &Position{Tokens: copyBig(p.Tokens), Debt: copyBig(p.Debt)}
	return nil
}

func (s *memState) GetTotals(market types.Address) (*Totals, error) {
	t, ok := s.totals[market]
	if !ok {
		return nil, nil
	}
	return &Totals{
		Supply:       copyBig(t.Supply),
		Borrows:      copyBig(t.Borrows),
		BadDebt:      copyBig(t.BadDebt),
		ExchangeRate: copyBig(t.ExchangeRate),
	}, nil
}

func (s *memState) PutTotals(market types.Address, t *Totals) error {
	s.totals[market] = &Totals{
		Supply:       copyBig(t.Supply),
		Borrows:      copyBig(t.Borrows),
		BadDebt:      copyBig(t.BadDebt),
		ExchangeRate: copyBig(t.ExchangeRate),
	}
	return nil
}

func (s *memState) GetMarket(market types.Address) (*risk.Market, error) {
	return s.markets[market], nil
}

func (s *memState) PutMarket(market types.Address, m *risk.Market) error {
	s.markets[market] = m
	return nil
}

func (s *memState) GetMembership(account types.Address) (*risk.Membership, error) {
	return s.members[account], nil
}

func (s *memState) PutMembership(account types.Address, m *risk.Membership) error {
	s.members[account] = m
	return nil
}

func (s *memState) AppendEvent(evt *types.Event) {
	s.events = append(s.events, evt)
}

func (s *memState) eventCount(eventType string) int {
	n := 0
	for _, evt := range s.events {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	engine *risk.Engine
	state  *memState
	oracle *pricing.StaticGateway
}

func newFixture() *fixture {
	f := &fixture{
		state:  newMemState(),
		oracle: pricing.NewStaticGateway(),
	}
	f.engine = risk.NewEngine("core-pool", risk.EngineParams{
		CloseFactor:          tenths(5),
		LiquidationIncentive: tenths(11),
		MaxLoopsLimit:        16,
	})
	f.engine.SetState(f.state)
	f.engine.SetPriceGateway(f.oracle)
	return f
}

func (f *fixture) listMarket(t *testing.T, b byte) *Ledger {
	t.Helper()
	market := addr(b)
	l := NewLedger(market, "core-pool", f.state)
	l.Attach(f.engine)
	f.oracle.SetPrice(market, tenths(10))
	if err := f.engine.SupportMarket(l); err != nil {
		t.Fatalf("support market: %v", err)
	}
	if err := f.engine.SetCollateralFactor(market, tenths(5), tenths(6)); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}
	return l
}

func (f *fixture) enter(t *testing.T, account types.Address, markets ...types.Address) {
	t.Helper()
	if err := f.engine.EnterMarkets(account, markets); err != nil {
		t.Fatalf("enter markets: %v", err)
	}
}

func TestMintAndRedeem(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)
	account := addr(0xaa)

	if err := l.Mint(account, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	tokens, debt, rate, err := l.AccountSnapshot(account)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if tokens.Cmp(big.NewInt(1000)) != 0 || debt.Sign() != 0 {
		t.Fatalf("snapshot = %v tokens, %v debt", tokens, debt)
	}
	if rate.Cmp(expScale) != 0 {
		t.Fatalf("exchange rate = %v", rate)
	}
	supply, err := l.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("total supply = %v", supply)
	}

	if err := l.Redeem(account, big.NewInt(400)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	tokens, _, _, _ = l.AccountSnapshot(account)
	if tokens.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("tokens after redeem = %v", tokens)
	}

	if err := l.Redeem(account, big.NewInt(700)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.state.eventCount(eventMinted) != 1 || f.state.eventCount(eventRedeemed) != 1 {
		t.Fatalf("unexpected event counts")
	}
}

func TestMintRespectsSupplyCap(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)

	if err := f.engine.SetSupplyCaps([]types.Address{l.Address()}, []*big.Int{big.NewInt(500)}); err != nil {
		t.Fatalf("set cap: %v", err)
	}
	if err := l.Mint(addr(0xaa), big.NewInt(500)); err != nil {
		t.Fatalf("mint at cap: %v", err)
	}
	if err := l.Mint(addr(0xaa), big.NewInt(1)); !errors.Is(err, risk.ErrSupplyCapExceeded) {
		t.Fatalf("expected ErrSupplyCapExceeded, got %v", err)
	}
}

func TestBorrowAndRepay(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)
	account := addr(0xaa)
	f.enter(t, account, l.Address())

	if err := l.Mint(account, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Borrow(account, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	_, debt, _, _ := l.AccountSnapshot(account)
	if debt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("debt = %v", debt)
	}
	borrows, _ := l.TotalBorrows()
	if borrows.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("total borrows = %v", borrows)
	}

	if err := l.Repay(account, account, big.NewInt(500)); !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("expected ErrRepayExceedsDebt, got %v", err)
	}
	if err := l.Repay(account, account, big.NewInt(400)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	_, debt, _, _ = l.AccountSnapshot(account)
	if debt.Sign() != 0 {
		t.Fatalf("debt after repay = %v", debt)
	}
	if f.state.eventCount(eventRepaid) != 1 {
		t.Fatalf("expected one repay event")
	}
}

func TestBorrowRejectsShortfall(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)
	account := addr(0xaa)
	f.enter(t, account, l.Address())

	if err := l.Mint(account, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// 1000 collateral at factor 0.5 backs at most 500.
	if err := l.Borrow(account, big.NewInt(501)); !errors.Is(err, risk.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestLiquidateFlow(t *testing.T) {
	f := newFixture()
	collateral := f.listMarket(t, 0x01)
	debt := f.listMarket(t, 0x02)
	borrower, liquidator := addr(0xaa), addr(0xbb)
	f.enter(t, borrower, collateral.Address())

	if err := collateral.Mint(borrower, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := debt.Borrow(borrower, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Grow the debt past the 0.6 threshold without re-admission, the way
	// accrued interest would.
	pos, _ := f.state.GetPosition(debt.Address(), borrower)
	pos.Debt = big.NewInt(700)
	if err := f.state.PutPosition(debt.Address(), borrower, pos); err != nil {
		t.Fatalf("put position: %v", err)
	}
	totals, _ := f.state.GetTotals(debt.Address())
	totals.Borrows = big.NewInt(700)
	if err := f.state.PutTotals(debt.Address(), totals); err != nil {
		t.Fatalf("put totals: %v", err)
	}

	// Close factor 0.5 of the 700 debt bounds the repay at 350.
	err := debt.Liquidate(liquidator, borrower, big.NewInt(351), collateral.Address())
	if !errors.Is(err, risk.ErrTooMuchRepay) {
		t.Fatalf("expected ErrTooMuchRepay, got %v", err)
	}

	if err := debt.Liquidate(liquidator, borrower, big.NewInt(300), collateral.Address()); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Equal prices, rate 1.0, incentive 1.1: 300 repaid seizes 330 tokens.
	tokens, _, _, _ := collateral.AccountSnapshot(liquidator)
	if tokens.Cmp(big.NewInt(330)) != 0 {
		t.Fatalf("liquidator tokens = %v", tokens)
	}
	tokens, _, _, _ = collateral.AccountSnapshot(borrower)
	if tokens.Cmp(big.NewInt(670)) != 0 {
		t.Fatalf("borrower tokens = %v", tokens)
	}
	_, owed, _, _ := debt.AccountSnapshot(borrower)
	if owed.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("borrower debt = %v", owed)
	}
	if f.state.eventCount(eventLiquidated) != 1 || f.state.eventCount(eventSeized) != 1 {
		t.Fatalf("unexpected event counts")
	}
}

func TestLiquidateUnknownCollateral(t *testing.T) {
	f := newFixture()
	debt := f.listMarket(t, 0x01)

	err := debt.Liquidate(addr(0xbb), addr(0xaa), big.NewInt(100), addr(0x99))
	if !errors.Is(err, risk.ErrMarketNotListed) {
		t.Fatalf("expected ErrMarketNotListed, got %v", err)
	}
}

func TestSeizeInsufficientBalance(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)
	borrower := addr(0xaa)

	if err := l.Mint(borrower, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Seize(addr(0xbb), borrower, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestForceRepayAndWriteOff(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)
	borrower := addr(0xaa)
	f.enter(t, borrower, l.Address())

	if err := l.Mint(borrower, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Borrow(borrower, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := l.ForceRepayAndWriteOff(addr(0xbb), borrower, big.NewInt(150)); err != nil {
		t.Fatalf("write off: %v", err)
	}
	_, debt, _, _ := l.AccountSnapshot(borrower)
	if debt.Sign() != 0 {
		t.Fatalf("debt after write-off = %v", debt)
	}
	borrows, _ := l.TotalBorrows()
	if borrows.Sign() != 0 {
		t.Fatalf("total borrows = %v", borrows)
	}
	badDebt, _ := l.BadDebt()
	if badDebt.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("bad debt = %v", badDebt)
	}
	if f.state.eventCount(eventDebtWrittenOff) != 1 {
		t.Fatalf("expected one write-off event")
	}
}

func TestLedgerIdentity(t *testing.T) {
	l := NewLedger(addr(0x01), "core-pool", newMemState())
	if !l.IsMarketLedger() {
		t.Fatalf("ledger does not self-identify")
	}
	if l.RiskEngineID() != "core-pool" {
		t.Fatalf("engine id = %q", l.RiskEngineID())
	}
	index, err := l.BorrowIndex()
	if err != nil {
		t.Fatalf("borrow index: %v", err)
	}
	if index.Cmp(expScale) != 0 {
		t.Fatalf("borrow index = %v", index)
	}
	if err := l.AccrueInterest(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
}

func TestOperationsRequireEngine(t *testing.T) {
	l := NewLedger(addr(0x01), "core-pool", newMemState())
	if err := l.Mint(addr(0xaa), big.NewInt(1)); err == nil {
		t.Fatalf("mint without engine accepted")
	}
}

func TestRejectsInvalidAmounts(t *testing.T) {
	f := newFixture()
	l := f.listMarket(t, 0x01)
	account := addr(0xaa)

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if err := l.Mint(account, amount); err == nil {
			t.Fatalf("mint of %v accepted", amount)
		}
		if err := l.Borrow(account, amount); err == nil {
			t.Fatalf("borrow of %v accepted", amount)
		}
	}
}
