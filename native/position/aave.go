package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/native/moneymarket"
)

var rayToWad = big.NewInt(1_000_000_000)

// Aave talks to an Aave-style pool. Collateral and debt come from the pool's
// base-currency ledger; the aToken balance is the collateral token count and
// converts 1:1 to underlying.
type Aave struct {
	pool    moneymarket.AavePool
	v3      bool
	options Options
}

// NewAaveV2 builds the v2 variant: an ETH-denominated oracle and available
// liquidity as the only borrow cap.
func NewAaveV2(pool moneymarket.AavePool, opts Options) *Aave {
	return &Aave{pool: pool, options: opts.withDefaults()}
}

// NewAaveV3 builds the v3 variant, which also honours borrow caps, paused
// reserves and isolation-mode debt ceilings.
func NewAaveV3(pool moneymarket.AavePool, opts Options) *Aave {
	return &Aave{pool: pool, v3: true, options: opts.withDefaults()}
}

func (a *Aave) Kind() Kind {
	if a.v3 {
		return KindAaveV3
	}
	return KindAaveV2
}

func (a *Aave) RoundingTolerance() *big.Int { return new(big.Int).Set(a.options.RoundingTolerance) }

func (a *Aave) ComputePlan(ctx context.Context, req PlanRequest) (ConversionPlan, error) {
	if err := req.validate(); err != nil {
		return ConversionPlan{}, err
	}
	collateral, err := a.pool.ReserveData(ctx, req.CollateralAsset)
	if err != nil {
		return ConversionPlan{}, fmt.Errorf("position: collateral reserve: %w", err)
	}
	borrow, err := a.pool.ReserveData(ctx, req.BorrowAsset)
	if err != nil {
		return ConversionPlan{}, fmt.Errorf("position: borrow reserve: %w", err)
	}
	if err := a.borrowable(collateral, borrow); err != nil {
		return ConversionPlan{}, err
	}
	collateralPrice, err := a.price18(ctx, req.CollateralAsset)
	if err != nil {
		return ConversionPlan{}, err
	}
	borrowPrice, err := a.price18(ctx, req.BorrowAsset)
	if err != nil {
		return ConversionPlan{}, err
	}

	caps := []*big.Int{cloneBig(borrow.AvailableLiquidity)}
	if a.v3 {
		if borrow.BorrowCap != nil && borrow.BorrowCap.Sign() > 0 {
			caps = append(caps, subFloor(borrow.BorrowCap, borrow.TotalDebt))
		}
		if collateral.DebtCeiling != nil && collateral.DebtCeiling.Sign() > 0 {
			headroom := a.toBase18(subFloor(collateral.DebtCeiling, collateral.IsolationModeTotalDebt))
			caps = append(caps, mulDiv(headroom, pow10(borrow.Decimals), borrowPrice))
		}
	}

	blocks := new(big.Int).SetUint64(a.options.BlocksPerYear)
	return computePlan(planInputs{
		collateralAmount:       req.CollateralAmount,
		collateralDecimals:     collateral.Decimals,
		collateralPrice18:      collateralPrice,
		borrowFactor18:         bpsTo18(collateral.LTVBps),
		liquidationThreshold18: bpsTo18(collateral.LiquidationThresholdBps),
		borrowDecimals:         borrow.Decimals,
		borrowPrice18:          borrowPrice,
		healthFactor2:          req.HealthFactor2,
		caps:                   caps,
		borrowRatePerBlock18:   perBlock18(borrow.VariableBorrowRateRay, blocks),
		supplyRatePerBlock18:   perBlock18(collateral.LiquidityRateRay, blocks),
		horizonBlocks:          req.HorizonBlocks,
	}), nil
}

func (a *Aave) borrowable(collateral, borrow moneymarket.AaveReserveData) error {
	switch {
	case !collateral.Active || !borrow.Active:
		return fmt.Errorf("%w: reserve inactive", ErrNotBorrowable)
	case collateral.Frozen || borrow.Frozen:
		return fmt.Errorf("%w: reserve frozen", ErrNotBorrowable)
	case !borrow.BorrowingEnabled:
		return fmt.Errorf("%w: borrowing disabled", ErrNotBorrowable)
	case collateral.LTVBps == 0:
		return fmt.Errorf("%w: collateral has zero ltv", ErrNotBorrowable)
	}
	if !a.v3 {
		return nil
	}
	if collateral.Paused || borrow.Paused {
		return fmt.Errorf("%w: reserve paused", ErrNotBorrowable)
	}
	if collateral.DebtCeiling != nil && collateral.DebtCeiling.Sign() > 0 && !borrow.BorrowableInIsolation {
		return fmt.Errorf("%w: borrow asset not allowed in isolation mode", ErrNotBorrowable)
	}
	return nil
}

func (a *Aave) Prepare(context.Context, common.Address, common.Address, common.Address) error {
	return nil
}

func (a *Aave) Supply(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	return a.pool.Supply(ctx, account, asset, amount)
}

func (a *Aave) Borrow(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	return a.pool.Borrow(ctx, account, asset, amount)
}

func (a *Aave) Repay(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error) {
	return a.pool.Repay(ctx, account, asset, amount)
}

func (a *Aave) WithdrawAll(ctx context.Context, account, asset common.Address) (*big.Int, error) {
	balance, err := a.pool.ATokenBalance(ctx, account, asset)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return a.pool.Withdraw(ctx, account, asset, nil)
}

// Refresh is a no-op: Aave views already include pending interest.
func (a *Aave) Refresh(context.Context, common.Address, common.Address) error {
	return nil
}

func (a *Aave) Account(ctx context.Context, account, collateral, borrow common.Address) (AccountValues, error) {
	data, err := a.pool.UserAccountData(ctx, account)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: account data: %w", err)
	}
	tokens, err := a.pool.ATokenBalance(ctx, account, collateral)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: aToken balance: %w", err)
	}
	debt, err := a.pool.VariableDebt(ctx, account, borrow)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: variable debt: %w", err)
	}
	return AccountValues{
		CollateralBase:         a.toBase18(data.TotalCollateralBase),
		DebtBase:               a.toBase18(data.TotalDebtBase),
		LiquidationThreshold18: bpsTo18(data.LiquidationThresholdBps),
		CollateralAmount:       cloneBig(tokens),
		CollateralTokens:       cloneBig(tokens),
		ExchangeRate18:         new(big.Int).Set(one18),
		AmountToPay:            cloneBig(debt),
	}, nil
}

func (a *Aave) ClaimRewards(ctx context.Context, account, receiver common.Address) (common.Address, *big.Int, error) {
	claimer, ok := a.pool.(moneymarket.RewardsClaimer)
	if !ok {
		return common.Address{}, big.NewInt(0), nil
	}
	return claimer.ClaimRewards(ctx, account, receiver)
}

func (a *Aave) price18(ctx context.Context, asset common.Address) (*big.Int, error) {
	price, err := a.pool.AssetPrice(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("position: asset price: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", ErrNotBorrowable, asset.Hex())
	}
	price18 := a.toBase18(price)
	if price18.Sign() == 0 {
		return nil, fmt.Errorf("%w: price of %s rounds to zero", ErrNotBorrowable, asset.Hex())
	}
	return price18, nil
}

// toBase18 rescales an oracle base-unit value to 18 decimals.
func (a *Aave) toBase18(value *big.Int) *big.Int {
	unit := a.pool.BaseCurrencyUnit()
	if unit == nil || unit.Sign() <= 0 {
		return cloneBig(value)
	}
	return mulDiv(value, one18, unit)
}

// perBlock18 converts an annual ray rate into a per-block wad rate.
func perBlock18(rateRay, blocksPerYear *big.Int) *big.Int {
	if rateRay == nil || blocksPerYear.Sign() == 0 {
		return big.NewInt(0)
	}
	perYear := new(big.Int).Quo(rateRay, rayToWad)
	return perYear.Quo(perYear, blocksPerYear)
}
