package risk

import "math/big"

// All fractional quantities (prices, factors, exchange rates) carry an
// 18-decimal fixed-point scale. Multiplication truncates toward zero.
var (
	expScale    = big.NewInt(1_000_000_000_000_000_000)
	mantissaOne = new(big.Int).Set(expScale)

	// collateralFactorMax caps collateral factors at 0.9.
	collateralFactorMax = big.NewInt(900_000_000_000_000_000)
)

func mulExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, expScale)
}

// mulScalarTruncate multiplies an 18-decimal fraction by a whole-unit scalar.
func mulScalarTruncate(exp, scalar *big.Int) *big.Int {
	if exp == nil || scalar == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(exp, scalar)
	return out.Quo(out, expScale)
}

func divExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, expScale)
	return out.Quo(out, b)
}

// saturatingSub returns a-b floored at zero.
func saturatingSub(a, b *big.Int) *big.Int {
	if a == nil {
		a = big.NewInt(0)
	}
	if b == nil {
		b = big.NewInt(0)
	}
	if a.Cmp(b) <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(a, b)
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
