package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	ray         = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	wadToRay    = new(big.Int).Quo(ray, wad)
)

const blocksPerYear = 31_536_000

type rounding int

const (
	roundDown rounding = iota
	roundHalfUp
	roundUp
)

// mulDiv returns a*b/d rounded as requested. Non-positive operands and a zero
// divisor yield zero.
func mulDiv(a, b, d *big.Int, mode rounding) *big.Int {
	if a == nil || b == nil || d == nil || a.Sign() <= 0 || b.Sign() <= 0 || d.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	switch mode {
	case roundHalfUp:
		out.Add(out, new(big.Int).Rsh(d, 1))
	case roundUp:
		out.Add(out, new(big.Int).Sub(d, big.NewInt(1)))
	}
	return out.Quo(out, d)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func rayMul(a, b *big.Int) *big.Int {
	return mulDiv(a, b, ray, roundHalfUp)
}

// ratToRay converts an index growth factor into ray precision. A missing or
// vanishing factor is treated as one.
func ratToRay(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return new(big.Int).Set(ray)
	}
	out := mulDiv(r.Num(), ray, r.Denom(), roundHalfUp)
	if out.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	return out
}

// rateFactor returns 1 + rate*delta/blocksPerYear in ray precision.
func rateFactor(rate *big.Rat, delta uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || delta == 0 {
		return new(big.Int).Set(ray)
	}
	growth := new(big.Rat).Mul(rate, new(big.Rat).SetFrac64(int64(delta), blocksPerYear))
	return ratToRay(growth.Add(growth, big.NewRat(1, 1)))
}

// ratToScaled floors r * unit.
func ratToScaled(r *big.Rat, unit *big.Int) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDiv(r.Num(), unit, r.Denom(), roundDown)
}

func sharesFromLiquidity(amount, index *big.Int) *big.Int {
	return mulDiv(amount, ray, index, roundDown)
}

// sharesCeil is used when burning shares so the pool never releases more
// than the shares cover.
func sharesCeil(amount, index *big.Int) *big.Int {
	return mulDiv(amount, ray, index, roundUp)
}

func liquidityFromShares(shares, index *big.Int) *big.Int {
	return mulDiv(shares, index, ray, roundDown)
}

// scaledDebtFromAmount never mints zero scaled debt for a positive borrow.
func scaledDebtFromAmount(amount, index *big.Int) *big.Int {
	scaled := mulDiv(amount, ray, index, roundHalfUp)
	if scaled.Sign() == 0 && amount != nil && amount.Sign() > 0 && index != nil && index.Sign() > 0 {
		return big.NewInt(1)
	}
	return scaled
}

// debtFromScaled rounds up so outstanding debt is never understated.
func debtFromScaled(scaled, index *big.Int) *big.Int {
	return mulDiv(scaled, index, ray, roundUp)
}

// valueOf converts an asset amount into 18-decimal base currency.
func valueOf(amount, price *big.Int, decimals uint8) *big.Int {
	return mulDiv(amount, price, pow10(decimals), roundDown)
}

// amountOf converts an 18-decimal base value back into asset units.
func amountOf(value, price *big.Int, decimals uint8) *big.Int {
	return mulDiv(value, pow10(decimals), price, roundDown)
}

func applyBps(amount *big.Int, bps uint64) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints, roundDown)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
