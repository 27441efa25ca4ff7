package position

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	one18   = big.NewInt(1_000_000_000_000_000_000)
	bps18   = big.NewInt(100_000_000_000_000) // 1e18 / 1e4
	hf2Unit = big.NewInt(10_000_000_000_000_000)

	maxHealthFactor = new(uint256.Int).SetAllOne().ToBig()
)

// MaxHealthFactor returns the health factor reported when a position owes
// nothing, 2^256-1. Each call returns a fresh copy.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}

// mulDiv returns floor(x*y/d). Products that fit in 256 bits go through
// uint256; anything larger falls back to math/big.
func mulDiv(x, y, d *big.Int) *big.Int {
	if x == nil || y == nil || d == nil || d.Sign() <= 0 || x.Sign() <= 0 || y.Sign() <= 0 {
		return big.NewInt(0)
	}
	a, overA := uint256.FromBig(x)
	b, overB := uint256.FromBig(y)
	c, overC := uint256.FromBig(d)
	if !overA && !overB && !overC {
		if z, overflow := new(uint256.Int).MulDivOverflow(a, b, c); !overflow {
			return z.ToBig()
		}
	}
	z := new(big.Int).Mul(x, y)
	return z.Quo(z, d)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func hf2To18(v uint32) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(v)), hf2Unit)
}

func bpsTo18(bps uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(bps), bps18)
}

// healthFactor is CollateralBase * LiquidationThreshold18 / DebtBase.
func healthFactor(v AccountValues) *big.Int {
	if v.DebtBase == nil || v.DebtBase.Sign() == 0 {
		return MaxHealthFactor()
	}
	return mulDiv(v.CollateralBase, v.LiquidationThreshold18, v.DebtBase)
}

// tokensToUnderlying converts aToken/cToken units with an 18-decimal rate.
func tokensToUnderlying(tokens, rate18 *big.Int) *big.Int {
	return mulDiv(tokens, rate18, one18)
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

func subFloor(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(cloneBig(a), cloneBig(b))
	if diff.Sign() < 0 {
		return diff.SetInt64(0)
	}
	return diff
}
