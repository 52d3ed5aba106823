package risk

import "errors"

var (
	errNilState          = errors.New("risk engine: state not configured")
	errNilOracle         = errors.New("risk engine: price gateway not configured")
	errNilLedger         = errors.New("risk engine: market ledger not registered")
	errInvalidAmount     = errors.New("risk engine: amount must not be negative")
	errZeroMarketAddress = errors.New("risk engine: zero market address")

	// Configuration errors: rejected before any mutation.
	ErrMarketNotListed         = errors.New("risk engine: market not listed")
	ErrMarketAlreadyListed     = errors.New("risk engine: market already listed")
	ErrInvalidMarketLedger     = errors.New("risk engine: ledger does not identify as a market")
	ErrInvalidCollateralFactor = errors.New("risk engine: collateral factor exceeds maximum")
	ErrInvalidThreshold        = errors.New("risk engine: liquidation threshold exceeds scale")
	ErrThresholdBelowFactor    = errors.New("risk engine: liquidation threshold below collateral factor")
	ErrInvalidCloseFactor      = errors.New("risk engine: close factor exceeds scale")
	ErrInvalidIncentive        = errors.New("risk engine: liquidation incentive below one")
	ErrInvalidLoopsLimit       = errors.New("risk engine: max loops limit must increase")
	ErrInputLengthMismatch     = errors.New("risk engine: input slice lengths differ")
	ErrEmptyInput              = errors.New("risk engine: empty input")

	// Policy errors: the caller must choose a different operation.
	ErrSupplyCapExceeded          = errors.New("risk engine: supply cap exceeded")
	ErrBorrowCapExceeded          = errors.New("risk engine: borrow cap exceeded")
	ErrInsufficientLiquidity      = errors.New("risk engine: insufficient account liquidity")
	ErrInsufficientShortfall      = errors.New("risk engine: account has no shortfall")
	ErrTooMuchRepay               = errors.New("risk engine: repay amount exceeds close factor bound")
	ErrMinimalCollateralViolated  = errors.New("risk engine: collateral below batch-liquidation threshold, use healAccount or liquidateAccount")
	ErrCollateralExceedsThreshold = errors.New("risk engine: collateral above batch-liquidation threshold, use single liquidation")
	ErrHealPercentageTooHigh      = errors.New("risk engine: collateral covers debt, use liquidateAccount instead of heal")
	ErrInsufficientCollateral     = errors.New("risk engine: collateral cannot cover incentive-scaled debt, use healAccount")
	ErrNotMember                  = errors.New("risk engine: account has not entered market")
	ErrNonzeroDebt                = errors.New("risk engine: market exit blocked by outstanding debt")
	ErrEngineMismatch             = errors.New("risk engine: seizer belongs to a different risk engine")

	// Collaborator errors: fatal to the current operation.
	ErrPriceUnavailable = errors.New("risk engine: price unavailable")
	ErrSnapshotFailed   = errors.New("risk engine: market ledger snapshot failed")

	// Invariant violations: unrecoverable defects, the operation must abort.
	ErrResidualDebt      = errors.New("risk engine: residual debt after full account liquidation")
	ErrMembershipCorrupt = errors.New("risk engine: membership list and presence set disagree")
)
