package ledger

import (
	"math/big"

	"crosslend/core/types"
	"crosslend/native/risk"
)

var expScale = big.NewInt(1_000_000_000_000_000_000)

// Position is one account's holding in a market: supply tokens and
// outstanding borrow principal.
type Position struct {
	Tokens *big.Int `json:"tokens"`
	Debt   *big.Int `json:"debt"`
}

// Totals aggregates the market-wide balances the risk engine reads.
type Totals struct {
	Supply       *big.Int `json:"supply"`
	Borrows      *big.Int `json:"borrows"`
	BadDebt      *big.Int `json:"badDebt"`
	ExchangeRate *big.Int `json:"exchangeRate"`
}

// State persists positions and totals. A nil result without an error means
// the record is absent.
type State interface {
	GetPosition(market, account types.Address) (*Position, error)
	PutPosition(market, account types.Address, p *Position) error
	GetTotals(market types.Address) (*Totals, error)
	PutTotals(market types.Address, t *Totals) error
	AppendEvent(evt *types.Event)
}

// Ledger is a storage-backed market ledger. It asks the attached risk engine
// for admission before every principal-affecting operation and applies the
// balance changes the forced recovery paths instruct.
type Ledger struct {
	addr     types.Address
	engineID string
	state    State
	engine   *risk.Engine
}

// NewLedger constructs a ledger for one market reporting to the named engine.
func NewLedger(addr types.Address, engineID string, state State) *Ledger {
	return &Ledger{addr: addr, engineID: engineID, state: state}
}

// Attach wires the risk engine consulted on every operation.
func (l *Ledger) Attach(engine *risk.Engine) { l.engine = engine }

// Address implements risk.MarketLedger.
func (l *Ledger) Address() types.Address { return l.addr }

// IsMarketLedger implements risk.MarketLedger.
func (l *Ledger) IsMarketLedger() bool { return true }

// RiskEngineID implements risk.MarketLedger.
func (l *Ledger) RiskEngineID() string { return l.engineID }

// AccountSnapshot implements risk.MarketLedger.
func (l *Ledger) AccountSnapshot(account types.Address) (*big.Int, *big.Int, *big.Int, error) {
	pos, err := l.position(account)
	if err != nil {
		return nil, nil, nil, err
	}
	totals, err := l.totals()
	if err != nil {
		return nil, nil, nil, err
	}
	return copyBig(pos.Tokens), copyBig(pos.Debt), copyBig(totals.ExchangeRate), nil
}

// BorrowBalance implements risk.MarketLedger.
func (l *Ledger) BorrowBalance(account types.Address) (*big.Int, error) {
	pos, err := l.position(account)
	if err != nil {
		return nil, err
	}
	return copyBig(pos.Debt), nil
}

// TotalSupply implements risk.MarketLedger.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	totals, err := l.totals()
	if err != nil {
		return nil, err
	}
	return copyBig(totals.Supply), nil
}

// TotalBorrows implements risk.MarketLedger.
func (l *Ledger) TotalBorrows() (*big.Int, error) {
	totals, err := l.totals()
	if err != nil {
		return nil, err
	}
	return copyBig(totals.Borrows), nil
}

// BadDebt implements risk.MarketLedger.
func (l *Ledger) BadDebt() (*big.Int, error) {
	totals, err := l.totals()
	if err != nil {
		return nil, err
	}
	return copyBig(totals.BadDebt), nil
}

// ExchangeRate implements risk.MarketLedger.
func (l *Ledger) ExchangeRate() (*big.Int, error) {
	totals, err := l.totals()
	if err != nil {
		return nil, err
	}
	return copyBig(totals.ExchangeRate), nil
}

// BorrowIndex implements risk.MarketLedger. The ledger carries no interest
// model, so principal is already current.
func (l *Ledger) BorrowIndex() (*big.Int, error) {
	return new(big.Int).Set(expScale), nil
}

// AccrueInterest implements risk.MarketLedger. No interest model, nothing to
// accrue.
func (l *Ledger) AccrueInterest() error { return nil }

// Mint supplies underlying and credits tokens at the current exchange rate.
func (l *Ledger) Mint(account types.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := l.engine.PreMint(l.addr, account, amount); err != nil {
		return err
	}
	totals, err := l.totals()
	if err != nil {
		return err
	}
	pos, err := l.position(account)
	if err != nil {
		return err
	}
	tokens := divByRate(amount, totals.ExchangeRate)
	pos.Tokens.Add(pos.Tokens, tokens)
	totals.Supply.Add(totals.Supply, tokens)
	if err := l.persist(account, pos, totals); err != nil {
		return err
	}
	l.emit(eventMinted, map[string]string{
		"account": account.Hex(),
		"amount":  amount.String(),
		"tokens":  tokens.String(),
	})
	return nil
}

// Redeem burns tokens and releases underlying.
func (l *Ledger) Redeem(account types.Address, tokens *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if tokens == nil || tokens.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := l.engine.PreRedeem(l.addr, account, tokens); err != nil {
		return err
	}
	totals, err := l.totals()
	if err != nil {
		return err
	}
	pos, err := l.position(account)
	if err != nil {
		return err
	}
	if pos.Tokens.Cmp(tokens) < 0 {
		return ErrInsufficientBalance
	}
	pos.Tokens.Sub(pos.Tokens, tokens)
	totals.Supply.Sub(totals.Supply, tokens)
	if err := l.persist(account, pos, totals); err != nil {
		return err
	}
	l.emit(eventRedeemed, map[string]string{
		"account": account.Hex(),
		"tokens":  tokens.String(),
	})
	return nil
}

// Borrow draws underlying against the account's pool-wide collateral.
func (l *Ledger) Borrow(account types.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := l.engine.PreBorrow(l.addr, account, amount); err != nil {
		return err
	}
	totals, err := l.totals()
	if err != nil {
		return err
	}
	pos, err := l.position(account)
	if err != nil {
		return err
	}
	pos.Debt.Add(pos.Debt, amount)
	totals.Borrows.Add(totals.Borrows, amount)
	if err := l.persist(account, pos, totals); err != nil {
		return err
	}
	l.emit(eventBorrowed, map[string]string{
		"account": account.Hex(),
		"amount":  amount.String(),
	})
	return nil
}

// Repay settles part of the borrower's debt.
func (l *Ledger) Repay(payer, borrower types.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := l.engine.PreRepay(l.addr, borrower); err != nil {
		return err
	}
	if err := l.reduceDebt(borrower, amount); err != nil {
		return err
	}
	l.emit(eventRepaid, map[string]string{
		"payer":    payer.Hex(),
		"borrower": borrower.Hex(),
		"amount":   amount.String(),
	})
	return nil
}

// Liquidate repays part of the borrower's debt here and seizes discounted
// collateral tokens from the named collateral market.
func (l *Ledger) Liquidate(liquidator, borrower types.Address, repayAmount *big.Int, collateralMarket types.Address) error {
	return l.liquidate(liquidator, borrower, repayAmount, collateralMarket, false)
}

// ForceLiquidate implements risk.MarketLedger for the batch recovery path.
func (l *Ledger) ForceLiquidate(liquidator, borrower types.Address, repayAmount *big.Int, collateralMarket types.Address, bypassCloseFactor bool) error {
	return l.liquidate(liquidator, borrower, repayAmount, collateralMarket, bypassCloseFactor)
}

func (l *Ledger) liquidate(liquidator, borrower types.Address, repayAmount *big.Int, collateralMarket types.Address, bypassCloseFactor bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := l.engine.PreLiquidate(l.addr, collateralMarket, borrower, repayAmount, bypassCloseFactor); err != nil {
		return err
	}
	seizeTokens, err := l.engine.CalculateSeizeTokens(l.addr, collateralMarket, repayAmount)
	if err != nil {
		return err
	}
	collateral, ok := l.engine.Ledger(collateralMarket)
	if !ok {
		return ErrUnknownCollateral
	}
	if err := l.engine.PreSeize(collateralMarket, l, liquidator, borrower); err != nil {
		return err
	}
	if err := l.reduceDebt(borrower, repayAmount); err != nil {
		return err
	}
	if err := collateral.Seize(liquidator, borrower, seizeTokens); err != nil {
		return err
	}
	l.emit(eventLiquidated, map[string]string{
		"liquidator": liquidator.Hex(),
		"borrower":   borrower.Hex(),
		"repay":      repayAmount.String(),
		"collateral": collateralMarket.Hex(),
		"seized":     seizeTokens.String(),
	})
	return nil
}

// Seize implements risk.MarketLedger: moves collateral tokens from the
// borrower to the liquidator without touching totals.
func (l *Ledger) Seize(liquidator, borrower types.Address, tokens *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if tokens == nil || tokens.Sign() < 0 {
		return errInvalidAmount
	}
	from, err := l.position(borrower)
	if err != nil {
		return err
	}
	if from.Tokens.Cmp(tokens) < 0 {
		return ErrInsufficientBalance
	}
	to, err := l.position(liquidator)
	if err != nil {
		return err
	}
	from.Tokens.Sub(from.Tokens, tokens)
	to.Tokens.Add(to.Tokens, tokens)
	if err := l.state.PutPosition(l.addr, borrower, from); err != nil {
		return err
	}
	if err := l.state.PutPosition(l.addr, liquidator, to); err != nil {
		return err
	}
	l.emit(eventSeized, map[string]string{
		"liquidator": liquidator.Hex(),
		"borrower":   borrower.Hex(),
		"tokens":     tokens.String(),
	})
	return nil
}

// ForceRepayAndWriteOff implements risk.MarketLedger: the payer settles the
// given amount and the rest of the borrower's debt becomes bad debt.
func (l *Ledger) ForceRepayAndWriteOff(payer, borrower types.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	totals, err := l.totals()
	if err != nil {
		return err
	}
	pos, err := l.position(borrower)
	if err != nil {
		return err
	}
	repaid := nonNil(amount)
	if repaid.Cmp(pos.Debt) > 0 {
		repaid = new(big.Int).Set(pos.Debt)
	}
	writtenOff := new(big.Int).Sub(pos.Debt, repaid)
	totals.Borrows.Sub(totals.Borrows, pos.Debt)
	totals.BadDebt.Add(totals.BadDebt, writtenOff)
	pos.Debt = big.NewInt(0)
	if err := l.persist(borrower, pos, totals); err != nil {
		return err
	}
	l.emit(eventDebtWrittenOff, map[string]string{
		"payer":      payer.Hex(),
		"borrower":   borrower.Hex(),
		"repaid":     repaid.String(),
		"writtenOff": writtenOff.String(),
	})
	return nil
}

func (l *Ledger) reduceDebt(borrower types.Address, amount *big.Int) error {
	totals, err := l.totals()
	if err != nil {
		return err
	}
	pos, err := l.position(borrower)
	if err != nil {
		return err
	}
	if pos.Debt.Cmp(amount) < 0 {
		return ErrRepayExceedsDebt
	}
	pos.Debt.Sub(pos.Debt, amount)
	totals.Borrows.Sub(totals.Borrows, amount)
	return l.persist(borrower, pos, totals)
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.engine == nil {
		return errNilEngine
	}
	return nil
}

func (l *Ledger) position(account types.Address) (*Position, error) {
	pos, err := l.state.GetPosition(l.addr, account)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{}
	}
	if pos.Tokens == nil {
		pos.Tokens = big.NewInt(0)
	}
	if pos.Debt == nil {
		pos.Debt = big.NewInt(0)
	}
	return pos, nil
}

func (l *Ledger) totals() (*Totals, error) {
	totals, err := l.state.GetTotals(l.addr)
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &Totals{}
	}
	if totals.Supply == nil {
		totals.Supply = big.NewInt(0)
	}
	if totals.Borrows == nil {
		totals.Borrows = big.NewInt(0)
	}
	if totals.BadDebt == nil {
		totals.BadDebt = big.NewInt(0)
	}
	if totals.ExchangeRate == nil || totals.ExchangeRate.Sign() <= 0 {
		totals.ExchangeRate = new(big.Int).Set(expScale)
	}
	return totals, nil
}

func (l *Ledger) persist(account types.Address, pos *Position, totals *Totals) error {
	if err := l.state.PutPosition(l.addr, account, pos); err != nil {
		return err
	}
	return l.state.PutTotals(l.addr, totals)
}

func (l *Ledger) emit(eventType string, attrs map[string]string) {
	attrs["market"] = l.addr.Hex()
	l.state.AppendEvent(&types.Event{Type: eventType, Attributes: attrs})
}

// divByRate converts an underlying amount to tokens at the exchange rate,
// truncating toward zero.
func divByRate(amount, rate *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, expScale)
	return out.Quo(out, rate)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
