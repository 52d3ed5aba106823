package rewards

import "errors"

var (
	errNilState = errors.New("rewards engine: state not configured")
	errNilSlots = errors.New("rewards engine: slot source not configured")
	errNilPool  = errors.New("rewards engine: reward pool not configured")

	ErrUnknownMarket        = errors.New("rewards engine: market not known to ledger source")
	ErrInvalidSpeed         = errors.New("rewards engine: speed must not be negative")
	ErrInputLengthMismatch  = errors.New("rewards engine: input slice lengths differ")
	ErrEmptyInput           = errors.New("rewards engine: empty input")
	ErrInvalidRewardingSlot = errors.New("rewards engine: rewarding cutoff must lie in the future")
	ErrCutoffPassed         = errors.New("rewards engine: rewarding cutoff already passed")

	// Invariant violations.
	ErrIndexOverflow   = errors.New("rewards engine: reward index exceeds 224-bit ceiling")
	ErrIndexRegression = errors.New("rewards engine: account index ahead of market index")
	ErrAmountOverflow  = errors.New("rewards engine: accrual arithmetic overflow")
)
