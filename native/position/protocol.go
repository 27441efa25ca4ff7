package position

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol is one money-market family seen through the operations a
// position adapter needs. Implementations normalise their accounting in
// Account so the adapter's health-factor rules stay protocol agnostic.
type Protocol interface {
	Kind() Kind
	ComputePlan(ctx context.Context, req PlanRequest) (ConversionPlan, error)
	// Prepare performs one-off account setup before the first supply, such
	// as entering compound markets.
	Prepare(ctx context.Context, account, collateral, borrow common.Address) error
	Supply(ctx context.Context, account, asset common.Address, amount *big.Int) error
	Borrow(ctx context.Context, account, asset common.Address, amount *big.Int) error
	Repay(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error)
	WithdrawAll(ctx context.Context, account, asset common.Address) (*big.Int, error)
	// Refresh brings stored interest up to date where views would be stale.
	Refresh(ctx context.Context, collateral, borrow common.Address) error
	Account(ctx context.Context, account, collateral, borrow common.Address) (AccountValues, error)
	ClaimRewards(ctx context.Context, account, receiver common.Address) (common.Address, *big.Int, error)
	RoundingTolerance() *big.Int
}

// Journal serialises calls against the shared market and lets an adapter
// undo every effect of a failed call, token transfers included.
type Journal interface {
	sync.Locker
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// planInputs carries the normalised figures every variant feeds into
// computePlan. Prices are per whole token in an 18-decimal base currency.
type planInputs struct {
	collateralAmount       *big.Int
	collateralDecimals     uint8
	collateralPrice18      *big.Int
	borrowFactor18         *big.Int
	liquidationThreshold18 *big.Int
	borrowDecimals         uint8
	borrowPrice18          *big.Int
	healthFactor2          uint16
	// caps are expressed in borrow units; nil entries do not apply.
	caps []*big.Int

	borrowRatePerBlock18 *big.Int
	supplyRatePerBlock18 *big.Int
	horizonBlocks        uint64
}

// computePlan sizes a borrow so that the position would sit at the requested
// health factor. Every division floors so the plan errs toward borrowing less.
func computePlan(in planInputs) ConversionPlan {
	collateralBase := mulDiv(in.collateralAmount, in.collateralPrice18, pow10(in.collateralDecimals))
	borrowableBase := mulDiv(collateralBase, in.borrowFactor18, one18)
	targetBase := mulDiv(borrowableBase, big.NewInt(100), big.NewInt(int64(in.healthFactor2)))
	amount := mulDiv(targetBase, pow10(in.borrowDecimals), in.borrowPrice18)

	plan := ConversionPlan{
		CollateralAmount:       cloneBig(in.collateralAmount),
		AmountToBorrow:         amount,
		MaxAmountToBorrow:      new(big.Int).Set(amount),
		LTV18:                  cloneBig(in.borrowFactor18),
		LiquidationThreshold18: cloneBig(in.liquidationThreshold18),
	}
	var ceiling *big.Int
	for _, c := range in.caps {
		if c == nil {
			continue
		}
		if ceiling == nil || c.Cmp(ceiling) < 0 {
			ceiling = c
		}
	}
	if ceiling != nil {
		plan.MaxAmountToBorrow = new(big.Int).Set(ceiling)
		if amount.Cmp(ceiling) > 0 {
			plan.AmountToBorrow = new(big.Int).Set(ceiling)
			plan.Clamped = true
		}
	}

	horizon := new(big.Int).SetUint64(in.horizonBlocks)
	plan.BorrowCost = mulDiv(plan.AmountToBorrow, new(big.Int).Mul(cloneBig(in.borrowRatePerBlock18), horizon), one18)
	plan.SupplyIncome = mulDiv(plan.CollateralAmount, new(big.Int).Mul(cloneBig(in.supplyRatePerBlock18), horizon), one18)
	return plan
}
