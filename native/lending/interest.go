package lending

import "math/big"

// InterestModel is a kinked utilisation curve. Rates are annual and applied
// per block when a reserve accrues.
type InterestModel struct {
	// BaseRate is the borrow APR applied at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the APR increase per unit of utilisation up to the kink.
	Slope1 *big.Rat
	// Slope2 is the additional APR increase past the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a
// 2% base rate is 0.02 and an 80% kink is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Utilisation computes U = totalBorrowed / totalSupplied, defined as zero
// when the reserve holds no liquidity.
func (m *InterestModel) Utilisation(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
}

// BorrowAPR derives the borrow APR for the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if utilisation.Sign() == 0 {
		return rate
	}

	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}

	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	return rate.Add(rate, new(big.Rat).Mul(cloneRat(m.Slope2), excess))
}

// SupplyAPY is the borrow APR scaled by utilisation net of the reserve
// factor (basis points).
func (m *InterestModel) SupplyAPY(totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	borrowAPR := m.BorrowAPR(totalBorrowed, totalSupplied)
	utilisation := m.Utilisation(totalBorrowed, totalSupplied)
	if borrowAPR.Sign() == 0 || utilisation.Sign() == 0 {
		return new(big.Rat)
	}

	reserveFactor := new(big.Rat).SetFrac(new(big.Int).SetUint64(reserveFactorBps), basisPoints)
	oneMinusReserve := new(big.Rat).Sub(big.NewRat(1, 1), reserveFactor)
	if oneMinusReserve.Sign() < 0 {
		oneMinusReserve.SetInt64(0)
	}
	supplyAPY := new(big.Rat).Mul(borrowAPR, utilisation)
	return supplyAPY.Mul(supplyAPY, oneMinusReserve)
}

// BorrowRateRay reports the annual borrow rate with ray precision, the unit
// Aave reserves publish.
func (m *InterestModel) BorrowRateRay(totalBorrowed, totalSupplied *big.Int) *big.Int {
	return ratToScaled(m.BorrowAPR(totalBorrowed, totalSupplied), ray)
}

// SupplyRateRay reports the annual supply rate with ray precision.
func (m *InterestModel) SupplyRateRay(totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) *big.Int {
	return ratToScaled(m.SupplyAPY(totalBorrowed, totalSupplied, reserveFactorBps), ray)
}

// BorrowRatePerBlock reports the per-block borrow rate as a 1e18 mantissa,
// the unit compound cTokens publish.
func (m *InterestModel) BorrowRatePerBlock(totalBorrowed, totalSupplied *big.Int) *big.Int {
	rate := m.BorrowAPR(totalBorrowed, totalSupplied)
	rate.Quo(rate, new(big.Rat).SetUint64(blocksPerYear))
	return ratToScaled(rate, wad)
}

// SupplyRatePerBlock reports the per-block supply rate as a 1e18 mantissa.
func (m *InterestModel) SupplyRatePerBlock(totalBorrowed, totalSupplied *big.Int, reserveFactorBps uint64) *big.Int {
	rate := m.SupplyAPY(totalBorrowed, totalSupplied, reserveFactorBps)
	rate.Quo(rate, new(big.Rat).SetUint64(blocksPerYear))
	return ratToScaled(rate, wad)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a kinked curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
