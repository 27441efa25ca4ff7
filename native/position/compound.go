package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/native/moneymarket"
)

// Compound talks to a compound-fork comptroller. Collateral is held as
// cTokens and converted with the stored exchange rate, so Refresh must run
// before reads that should include pending interest.
type Compound struct {
	comptroller moneymarket.Comptroller
	options     Options
}

// NewCompound builds the share-token variant.
func NewCompound(comptroller moneymarket.Comptroller, opts Options) *Compound {
	return &Compound{comptroller: comptroller, options: opts.withDefaults()}
}

func (c *Compound) Kind() Kind { return KindCompound }

func (c *Compound) RoundingTolerance() *big.Int { return new(big.Int).Set(c.options.RoundingTolerance) }

func (c *Compound) ComputePlan(ctx context.Context, req PlanRequest) (ConversionPlan, error) {
	if err := req.validate(); err != nil {
		return ConversionPlan{}, err
	}
	collateral, collateralPrice, err := c.market(ctx, req.CollateralAsset)
	if err != nil {
		return ConversionPlan{}, err
	}
	borrow, borrowPrice, err := c.market(ctx, req.BorrowAsset)
	if err != nil {
		return ConversionPlan{}, err
	}
	switch {
	case !collateral.Listed || !borrow.Listed:
		return ConversionPlan{}, fmt.Errorf("%w: market not listed", ErrNotBorrowable)
	case borrow.BorrowPaused:
		return ConversionPlan{}, fmt.Errorf("%w: borrowing paused", ErrNotBorrowable)
	case collateral.CollateralFactor == nil || collateral.CollateralFactor.Sign() == 0:
		return ConversionPlan{}, fmt.Errorf("%w: collateral factor is zero", ErrNotBorrowable)
	}

	caps := []*big.Int{cloneBig(borrow.Cash)}
	if borrow.BorrowCap != nil && borrow.BorrowCap.Sign() > 0 {
		caps = append(caps, subFloor(borrow.BorrowCap, borrow.TotalBorrows))
	}
	return computePlan(planInputs{
		collateralAmount:       req.CollateralAmount,
		collateralDecimals:     collateral.Decimals,
		collateralPrice18:      collateralPrice,
		borrowFactor18:         cloneBig(collateral.CollateralFactor),
		liquidationThreshold18: cloneBig(collateral.CollateralFactor),
		borrowDecimals:         borrow.Decimals,
		borrowPrice18:          borrowPrice,
		healthFactor2:          req.HealthFactor2,
		caps:                   caps,
		borrowRatePerBlock18:   cloneBig(borrow.BorrowRatePerBlock),
		supplyRatePerBlock18:   cloneBig(collateral.SupplyRatePerBlock),
		horizonBlocks:          req.HorizonBlocks,
	}), nil
}

// market loads the cToken market for underlying with its price per whole
// token in 18 decimals.
func (c *Compound) market(ctx context.Context, underlying common.Address) (moneymarket.CompoundMarket, *big.Int, error) {
	cToken, err := c.comptroller.CToken(ctx, underlying)
	if err != nil {
		return moneymarket.CompoundMarket{}, nil, fmt.Errorf("%w: %v", ErrNotBorrowable, err)
	}
	market, err := c.comptroller.Market(ctx, cToken)
	if err != nil {
		return moneymarket.CompoundMarket{}, nil, fmt.Errorf("position: market: %w", err)
	}
	price, err := c.comptroller.UnderlyingPrice(ctx, cToken)
	if err != nil {
		return moneymarket.CompoundMarket{}, nil, fmt.Errorf("position: underlying price: %w", err)
	}
	if price == nil || price.Sign() <= 0 {
		return moneymarket.CompoundMarket{}, nil, fmt.Errorf("%w: no price for %s", ErrNotBorrowable, underlying.Hex())
	}
	price18 := underlyingPrice18(price, market.Decimals)
	if price18.Sign() == 0 {
		return moneymarket.CompoundMarket{}, nil, fmt.Errorf("%w: price of %s rounds to zero", ErrNotBorrowable, underlying.Hex())
	}
	return market, price18, nil
}

// underlyingPrice18 turns a 1e(36-decimals) oracle price into the price of
// one whole token with 18 decimals.
func underlyingPrice18(price *big.Int, decimals uint8) *big.Int {
	return mulDiv(price, pow10(decimals), one18)
}

func (c *Compound) Prepare(ctx context.Context, account, collateral, borrow common.Address) error {
	cCollateral, err := c.comptroller.CToken(ctx, collateral)
	if err != nil {
		return err
	}
	cBorrow, err := c.comptroller.CToken(ctx, borrow)
	if err != nil {
		return err
	}
	return c.comptroller.EnterMarkets(ctx, account, cCollateral, cBorrow)
}

func (c *Compound) Supply(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	cToken, err := c.comptroller.CToken(ctx, asset)
	if err != nil {
		return err
	}
	return c.comptroller.Mint(ctx, account, cToken, amount)
}

func (c *Compound) Borrow(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	cToken, err := c.comptroller.CToken(ctx, asset)
	if err != nil {
		return err
	}
	return c.comptroller.Borrow(ctx, account, cToken, amount)
}

func (c *Compound) Repay(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error) {
	cToken, err := c.comptroller.CToken(ctx, asset)
	if err != nil {
		return nil, err
	}
	return c.comptroller.RepayBorrow(ctx, account, cToken, amount)
}

// WithdrawAll redeems every cToken the account holds.
func (c *Compound) WithdrawAll(ctx context.Context, account, asset common.Address) (*big.Int, error) {
	cToken, err := c.comptroller.CToken(ctx, asset)
	if err != nil {
		return nil, err
	}
	snapshot, err := c.comptroller.AccountSnapshot(ctx, account, cToken)
	if err != nil {
		return nil, err
	}
	if snapshot.CTokenBalance == nil || snapshot.CTokenBalance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return c.comptroller.Redeem(ctx, account, cToken, snapshot.CTokenBalance)
}

func (c *Compound) Refresh(ctx context.Context, collateral, borrow common.Address) error {
	for _, asset := range []common.Address{collateral, borrow} {
		cToken, err := c.comptroller.CToken(ctx, asset)
		if err != nil {
			return err
		}
		if err := c.comptroller.AccrueInterest(ctx, cToken); err != nil {
			return err
		}
	}
	return nil
}

// Account converts the per-market cToken snapshots into base values. The
// collateral factor stands in for the liquidation threshold.
func (c *Compound) Account(ctx context.Context, account, collateral, borrow common.Address) (AccountValues, error) {
	cCollateral, err := c.comptroller.CToken(ctx, collateral)
	if err != nil {
		return AccountValues{}, err
	}
	cBorrow, err := c.comptroller.CToken(ctx, borrow)
	if err != nil {
		return AccountValues{}, err
	}
	collateralSnap, err := c.comptroller.AccountSnapshot(ctx, account, cCollateral)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: collateral snapshot: %w", err)
	}
	borrowSnap, err := c.comptroller.AccountSnapshot(ctx, account, cBorrow)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: borrow snapshot: %w", err)
	}
	market, err := c.comptroller.Market(ctx, cCollateral)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: market: %w", err)
	}
	collateralPrice, err := c.comptroller.UnderlyingPrice(ctx, cCollateral)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: underlying price: %w", err)
	}
	borrowPrice, err := c.comptroller.UnderlyingPrice(ctx, cBorrow)
	if err != nil {
		return AccountValues{}, fmt.Errorf("position: underlying price: %w", err)
	}

	amount := tokensToUnderlying(collateralSnap.CTokenBalance, collateralSnap.ExchangeRate)
	return AccountValues{
		CollateralBase:         mulDiv(amount, collateralPrice, one18),
		DebtBase:               mulDiv(borrowSnap.BorrowBalance, borrowPrice, one18),
		LiquidationThreshold18: cloneBig(market.CollateralFactor),
		CollateralAmount:       amount,
		CollateralTokens:       cloneBig(collateralSnap.CTokenBalance),
		ExchangeRate18:         cloneBig(collateralSnap.ExchangeRate),
		AmountToPay:            cloneBig(borrowSnap.BorrowBalance),
	}, nil
}

func (c *Compound) ClaimRewards(ctx context.Context, account, receiver common.Address) (common.Address, *big.Int, error) {
	claimer, ok := c.comptroller.(moneymarket.RewardsClaimer)
	if !ok {
		return common.Address{}, big.NewInt(0), nil
	}
	return claimer.ClaimRewards(ctx, account, receiver)
}
