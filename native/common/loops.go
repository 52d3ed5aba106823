package common

import "errors"

var ErrMaxLoopsExceeded = errors.New("max loops exceeded")

// EnsureMaxLoops bounds the worst-case iteration cost of a single operation
// over an externally supplied collection. A zero limit disables the bound.
func EnsureMaxLoops(count, limit uint64) error {
	if limit > 0 && count > limit {
		return ErrMaxLoopsExceeded
	}
	return nil
}
