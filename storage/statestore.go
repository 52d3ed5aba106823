package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"crosslend/core/types"
	"crosslend/native/ledger"
	"crosslend/native/rewards"
	"crosslend/native/risk"
	"crosslend/observability/metrics"
)

// Key prefixes. Account-scoped keys append hex addresses so entries stay
// unique and human-inspectable.
const (
	keyRiskMarket     = "risk/market/"
	keyRiskMembership = "risk/member/"
	keySupplyState    = "rewards/supply/"
	keyBorrowState    = "rewards/borrow/"
	keySupplierIndex  = "rewards/sidx/"
	keyBorrowerIndex  = "rewards/bidx/"
	keyAccrued        = "rewards/accrued/"
	keyContributor    = "rewards/contrib/"
	keyPosition       = "ledger/pos/"
	keyTotals         = "ledger/totals/"
)

// Store persists both engines' state as JSON records in a key-value
// Database and collects emitted events for the host to publish. It
// implements risk.State and rewards.State.
type Store struct {
	db Database

	mu     sync.Mutex
	events []types.Event
}

// NewStore wraps a database.
func NewStore(db Database) *Store {
	return &Store{db: db}
}

func (s *Store) getJSON(key string, out interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.db.Put([]byte(key), raw)
}

// GetMarket implements risk.State.
func (s *Store) GetMarket(market types.Address) (*risk.Market, error) {
	var m risk.Market
	ok, err := s.getJSON(keyRiskMarket+market.Hex(), &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

// PutMarket implements risk.State.
func (s *Store) PutMarket(market types.Address, m *risk.Market) error {
	return s.putJSON(keyRiskMarket+market.Hex(), m)
}

// GetMembership implements risk.State.
func (s *Store) GetMembership(account types.Address) (*risk.Membership, error) {
	m := risk.NewMembership()
	ok, err := s.getJSON(keyRiskMembership+account.Hex(), m)
	if err != nil || !ok {
		return nil, err
	}
	return m, nil
}

// PutMembership implements risk.State.
func (s *Store) PutMembership(account types.Address, m *risk.Membership) error {
	return s.putJSON(keyRiskMembership+account.Hex(), m)
}

// GetSupplyState implements rewards.State.
func (s *Store) GetSupplyState(market types.Address) (*rewards.MarketState, error) {
	return s.getMarketState(keySupplyState + market.Hex())
}

// PutSupplyState implements rewards.State.
func (s *Store) PutSupplyState(market types.Address, st *rewards.MarketState) error {
	return s.putJSON(keySupplyState+market.Hex(), st)
}

// GetBorrowState implements rewards.State.
func (s *Store) GetBorrowState(market types.Address) (*rewards.MarketState, error) {
	return s.getMarketState(keyBorrowState + market.Hex())
}

// PutBorrowState implements rewards.State.
func (s *Store) PutBorrowState(market types.Address, st *rewards.MarketState) error {
	return s.putJSON(keyBorrowState+market.Hex(), st)
}

func (s *Store) getMarketState(key string) (*rewards.MarketState, error) {
	var st rewards.MarketState
	ok, err := s.getJSON(key, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// GetSupplierIndex implements rewards.State.
func (s *Store) GetSupplierIndex(market, account types.Address) (*big.Int, error) {
	return s.getBigInt(keySupplierIndex + market.Hex() + "/" + account.Hex())
}

// PutSupplierIndex implements rewards.State.
func (s *Store) PutSupplierIndex(market, account types.Address, index *big.Int) error {
	return s.putJSON(keySupplierIndex+market.Hex()+"/"+account.Hex(), index)
}

// GetBorrowerIndex implements rewards.State.
func (s *Store) GetBorrowerIndex(market, account types.Address) (*big.Int, error) {
	return s.getBigInt(keyBorrowerIndex + market.Hex() + "/" + account.Hex())
}

// PutBorrowerIndex implements rewards.State.
func (s *Store) PutBorrowerIndex(market, account types.Address, index *big.Int) error {
	return s.putJSON(keyBorrowerIndex+market.Hex()+"/"+account.Hex(), index)
}

// GetAccrued implements rewards.State.
func (s *Store) GetAccrued(account types.Address) (*big.Int, error) {
	return s.getBigInt(keyAccrued + account.Hex())
}

// PutAccrued implements rewards.State.
func (s *Store) PutAccrued(account types.Address, amount *big.Int) error {
	return s.putJSON(keyAccrued+account.Hex(), amount)
}

// GetContributorSlot implements rewards.State.
func (s *Store) GetContributorSlot(account types.Address) (uint64, bool, error) {
	var slot uint64
	ok, err := s.getJSON(keyContributor+account.Hex(), &slot)
	return slot, ok, err
}

// PutContributorSlot implements rewards.State.
func (s *Store) PutContributorSlot(account types.Address, slot uint64) error {
	return s.putJSON(keyContributor+account.Hex(), slot)
}

// GetPosition implements ledger.State.
func (s *Store) GetPosition(market, account types.Address) (*ledger.Position, error) {
	var p ledger.Position
	ok, err := s.getJSON(keyPosition+market.Hex()+"/"+account.Hex(), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// PutPosition implements ledger.State.
func (s *Store) PutPosition(market, account types.Address, p *ledger.Position) error {
	return s.putJSON(keyPosition+market.Hex()+"/"+account.Hex(), p)
}

// GetTotals implements ledger.State.
func (s *Store) GetTotals(market types.Address) (*ledger.Totals, error) {
	var t ledger.Totals
	ok, err := s.getJSON(keyTotals+market.Hex(), &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// PutTotals implements ledger.State.
func (s *Store) PutTotals(market types.Address, t *ledger.Totals) error {
	return s.putJSON(keyTotals+market.Hex(), t)
}

func (s *Store) getBigInt(key string) (*big.Int, error) {
	var v big.Int
	ok, err := s.getJSON(key, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// AppendEvent collects an engine event and feeds the metrics stream.
func (s *Store) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, *evt)
	s.mu.Unlock()
	metrics.Engine().ObserveEvent(evt.Type)
}

// Events returns a copy of the collected events.
func (s *Store) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// DrainEvents returns and clears the collected events.
func (s *Store) DrainEvents() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}
