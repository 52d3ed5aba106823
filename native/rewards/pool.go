package rewards

import (
	"errors"
	"math/big"
	"sync"

	"crosslend/core/types"
)

// ErrPoolUnderfunded is returned when a transfer exceeds the pool balance.
// Claim never triggers it because payouts check the balance first; it guards
// direct misuse.
var ErrPoolUnderfunded = errors.New("rewards: pool underfunded")

// BudgetPool is an in-memory RewardPool holding a fixed emission budget.
// Hosts with a real treasury implement RewardPool themselves.
type BudgetPool struct {
	mu      sync.Mutex
	balance *big.Int
	paid    map[types.Address]*big.Int
}

// NewBudgetPool seeds a pool with the given budget.
func NewBudgetPool(budget *big.Int) *BudgetPool {
	p := &BudgetPool{balance: big.NewInt(0), paid: make(map[types.Address]*big.Int)}
	if budget != nil && budget.Sign() > 0 {
		p.balance.Set(budget)
	}
	return p
}

// Balance implements RewardPool.
func (p *BudgetPool) Balance() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.balance), nil
}

// Transfer implements RewardPool.
func (p *BudgetPool) Transfer(to types.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.balance.Cmp(amount) < 0 {
		return ErrPoolUnderfunded
	}
	p.balance.Sub(p.balance, amount)
	paid, ok := p.paid[to]
	if !ok {
		paid = big.NewInt(0)
		p.paid[to] = paid
	}
	paid.Add(paid, amount)
	return nil
}

// Paid reports the cumulative amount transferred to an account.
func (p *BudgetPool) Paid(to types.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	paid, ok := p.paid[to]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(paid)
}
