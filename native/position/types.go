package position

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle stage of a position adapter.
type State uint8

const (
	StateUninitialized State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Kind names a money-market protocol family.
type Kind string

const (
	KindAaveV2   Kind = "aave-v2"
	KindAaveV3   Kind = "aave-v3"
	KindCompound Kind = "compound"
)

// Position holds the immutable parameters of a borrow position. It is set
// once by Adapter.Initialize.
type Position struct {
	User            common.Address
	CollateralAsset common.Address
	BorrowAsset     common.Address
	OriginConverter common.Address
	Controller      Controller
}

func (p Position) validate() error {
	zero := common.Address{}
	if p.User == zero || p.CollateralAsset == zero || p.BorrowAsset == zero || p.OriginConverter == zero || p.Controller == nil {
		return ErrZeroAddress
	}
	return nil
}

// HealthFactors are expressed with two implied decimals, so 150 is 1.50.
type HealthFactors struct {
	Min    uint16
	Target uint16
	Max    uint16
	// MaxOvershoot is how far above Max a RepayToRebalance result may land.
	// Zero disables the upper bound.
	MaxOvershoot uint16
}

// Validate enforces 1.00 < Min <= Target <= Max.
func (h HealthFactors) Validate() error {
	if h.Min <= 100 {
		return fmt.Errorf("%w: min %d must exceed 100", ErrInvalidHealthFactors, h.Min)
	}
	if h.Min > h.Target || h.Target > h.Max {
		return fmt.Errorf("%w: require min %d <= target %d <= max %d", ErrInvalidHealthFactors, h.Min, h.Target, h.Max)
	}
	return nil
}

func (h HealthFactors) min18() *big.Int    { return hf2To18(uint32(h.Min)) }
func (h HealthFactors) target18() *big.Int { return hf2To18(uint32(h.Target)) }

// ceiling18 returns the upper bound for rebalancing results, or nil when
// no bound applies.
func (h HealthFactors) ceiling18() *big.Int {
	if h.MaxOvershoot == 0 {
		return nil
	}
	return hf2To18(uint32(h.Max) + uint32(h.MaxOvershoot))
}

// Status is the normalised view of a position. HealthFactor uses 18
// decimals and equals MaxHealthFactor() when nothing is owed.
type Status struct {
	HealthFactor               *big.Int
	CollateralAmount           *big.Int
	AmountToPay                *big.Int
	CollateralAmountLiquidated *big.Int
	Open                       bool
}

// Clone returns a deep copy of the status.
func (s Status) Clone() Status {
	return Status{
		HealthFactor:               cloneBig(s.HealthFactor),
		CollateralAmount:           cloneBig(s.CollateralAmount),
		AmountToPay:                cloneBig(s.AmountToPay),
		CollateralAmountLiquidated: cloneBig(s.CollateralAmountLiquidated),
		Open:                       s.Open,
	}
}

// PlanRequest asks how much BorrowAsset CollateralAmount can back while
// keeping HealthFactor2.
type PlanRequest struct {
	CollateralAsset  common.Address
	CollateralAmount *big.Int
	BorrowAsset      common.Address
	HealthFactor2    uint16
	// HorizonBlocks sizes the BorrowCost and SupplyIncome estimates.
	HorizonBlocks uint64
}

func (r PlanRequest) validate() error {
	if r.CollateralAsset == (common.Address{}) || r.BorrowAsset == (common.Address{}) {
		return ErrZeroAddress
	}
	if r.CollateralAmount == nil || r.CollateralAmount.Sign() < 0 {
		return fmt.Errorf("%w: collateral amount must not be negative", ErrInvalidAmount)
	}
	if r.HealthFactor2 == 0 {
		return fmt.Errorf("%w: health factor must be positive", ErrInvalidHealthFactors)
	}
	return nil
}

// ConversionPlan is the result of ComputePlan. AmountToBorrow never exceeds
// MaxAmountToBorrow; Clamped reports whether a protocol cap cut it.
type ConversionPlan struct {
	CollateralAmount  *big.Int
	AmountToBorrow    *big.Int
	MaxAmountToBorrow *big.Int
	Clamped           bool
	// LTV18 and LiquidationThreshold18 are 1e18 fractions.
	LTV18                  *big.Int
	LiquidationThreshold18 *big.Int
	// BorrowCost and SupplyIncome estimate interest over the horizon in
	// borrow and collateral units respectively.
	BorrowCost   *big.Int
	SupplyIncome *big.Int
}

// AccountValues is the per-protocol normalisation of an account into an
// 18-decimal base currency plus the raw token balances the adapter
// reconciles against.
type AccountValues struct {
	CollateralBase         *big.Int
	DebtBase               *big.Int
	LiquidationThreshold18 *big.Int
	// CollateralAmount is in collateral asset units.
	CollateralAmount *big.Int
	// CollateralTokens is the aToken or cToken balance backing the position.
	CollateralTokens *big.Int
	// ExchangeRate18 converts CollateralTokens to underlying.
	ExchangeRate18 *big.Int
	AmountToPay    *big.Int
}

// Options tune a protocol variant.
type Options struct {
	// RoundingTolerance is the collateral-token shortfall that is treated as
	// protocol rounding rather than liquidation.
	RoundingTolerance *big.Int
	// BlocksPerYear converts annual rates into per-block rates.
	BlocksPerYear uint64
}

// DefaultBlocksPerYear assumes one block per second.
const DefaultBlocksPerYear = 31_536_000

func (o Options) withDefaults() Options {
	if o.RoundingTolerance == nil || o.RoundingTolerance.Sign() < 0 {
		o.RoundingTolerance = big.NewInt(0)
	} else {
		o.RoundingTolerance = new(big.Int).Set(o.RoundingTolerance)
	}
	if o.BlocksPerYear == 0 {
		o.BlocksPerYear = DefaultBlocksPerYear
	}
	return o
}
