package common

import (
	"errors"

	"crosslend/core/types"
)

var ErrActionPaused = errors.New("action paused")

// Action enumerates the operations that can be paused per market.
type Action uint8

const (
	ActionMint Action = iota
	ActionRedeem
	ActionBorrow
	ActionRepay
	ActionSeize
	ActionLiquidate
	ActionTransfer
	ActionEnterMarket
	ActionExitMarket
)

// String returns the canonical lowercase name used in events and config files.
func (a Action) String() string {
	switch a {
	case ActionMint:
		return "mint"
	case ActionRedeem:
		return "redeem"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionSeize:
		return "seize"
	case ActionLiquidate:
		return "liquidate"
	case ActionTransfer:
		return "transfer"
	case ActionEnterMarket:
		return "enterMarket"
	case ActionExitMarket:
		return "exitMarket"
	}
	return "unknown"
}

// PauseView reports whether an action is paused for a market.
type PauseView interface {
	ActionPaused(market types.Address, action Action) bool
}

// Guard rejects the call when the (market, action) pair is paused. A nil view
// leaves everything unpaused.
func Guard(p PauseView, market types.Address, action Action) error {
	if p == nil {
		return nil
	}
	if p.ActionPaused(market, action) {
		return ErrActionPaused
	}
	return nil
}
