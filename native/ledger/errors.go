package ledger

import "errors"

var (
	errNilState      = errors.New("market ledger: state not configured")
	errNilEngine     = errors.New("market ledger: risk engine not attached")
	errInvalidAmount = errors.New("market ledger: amount must be positive")

	// ErrInsufficientBalance rejects redeems, transfers, and seizures beyond
	// the account's token balance.
	ErrInsufficientBalance = errors.New("market ledger: insufficient token balance")
	// ErrRepayExceedsDebt rejects repayments above the outstanding borrow.
	ErrRepayExceedsDebt = errors.New("market ledger: repay exceeds outstanding debt")
	// ErrUnknownCollateral rejects liquidations naming a collateral market the
	// engine has not listed.
	ErrUnknownCollateral = errors.New("market ledger: unknown collateral market")
)
