package pricing

import (
	"errors"
	"math/big"
	"sync"

	"crosslend/core/types"
)

// ErrNoFeed is returned for markets without a configured quote.
var ErrNoFeed = errors.New("pricing: no feed for market")

// StaticGateway serves operator-configured quotes, 18-decimal underlying
// prices. Deployments without a live feed pin prices here; tests use it as
// their oracle.
type StaticGateway struct {
	mu     sync.RWMutex
	quotes map[types.Address]*big.Int
}

// NewStaticGateway returns an empty gateway.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{quotes: make(map[types.Address]*big.Int)}
}

// SetPrice pins the quote for a market. A nil or non-positive price removes
// the feed.
func (g *StaticGateway) SetPrice(market types.Address, price *big.Int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		delete(g.quotes, market)
		return
	}
	g.quotes[market] = new(big.Int).Set(price)
}

// Price implements risk.PriceGateway.
func (g *StaticGateway) Price(market types.Address) (*big.Int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	price, ok := g.quotes[market]
	if !ok {
		return nil, ErrNoFeed
	}
	return new(big.Int).Set(price), nil
}

// Refresh implements risk.PriceGateway. Static quotes have nothing to
// refresh.
func (g *StaticGateway) Refresh(types.Address) {}
