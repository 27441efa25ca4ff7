package lending

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNotLiquidatable = errors.New("lending engine: position not eligible for liquidation")
	errNoCollateral    = errors.New("lending engine: borrower has no collateral in asset")
	errSelfLiquidation = errors.New("lending engine: self liquidation not allowed")
)

const closeFactorBps = 5_000

// LiquidationResult reports the debt repaid and the collateral released to
// the liquidator.
type LiquidationResult struct {
	Repaid *big.Int
	Seized *big.Int
}

// Liquidate repays up to half of the borrower's debt in debtAsset on behalf
// of liquidator once the borrower's health factor has dropped below one. The
// liquidator receives the equivalent collateral plus the collateral asset's
// liquidation bonus.
func (p *Pool) Liquidate(liquidator, borrower, debtAsset, collateralAsset common.Address, amount *big.Int) (LiquidationResult, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return LiquidationResult{}, errInvalidAmount
	}
	if liquidator == borrower {
		return LiquidationResult{}, errSelfLiquidation
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	debtReserve, err := p.reserveLocked(debtAsset)
	if err != nil {
		return LiquidationResult{}, err
	}
	collReserve, err := p.reserveLocked(collateralAsset)
	if err != nil {
		return LiquidationResult{}, err
	}
	p.accrueAllLocked()

	data := p.accountDataLocked(borrower, false)
	if data.DebtBase.Sign() == 0 || data.HealthFactor.Cmp(wad) >= 0 {
		return LiquidationResult{}, errNotLiquidatable
	}
	debtPos := p.positionLocked(borrower, debtAsset)
	collPos := p.positionLocked(borrower, collateralAsset)
	if !collPos.CollateralEnabled || collPos.SupplyShares.Sign() == 0 {
		return LiquidationResult{}, errNoCollateral
	}
	debt := debtFromScaled(debtPos.ScaledDebt, debtReserve.BorrowIndex)
	if debt.Sign() == 0 {
		return LiquidationResult{}, errNoDebtToRepay
	}
	repay := minBig(amount, applyBps(debt, closeFactorBps))
	if repay.Sign() == 0 {
		repay = minBig(amount, debt)
	}

	collateralBalance := liquidityFromShares(collPos.SupplyShares, collReserve.SupplyIndex)
	seizeValue := valueOf(repay, debtReserve.Config.Price, debtReserve.Config.Decimals)
	seizeValue.Mul(seizeValue, new(big.Int).SetUint64(10_000+collReserve.Config.LiquidationBonusBps))
	seizeValue.Quo(seizeValue, basisPoints)
	seized := amountOf(seizeValue, collReserve.Config.Price, collReserve.Config.Decimals)
	if seized.Cmp(collateralBalance) > 0 {
		// Not enough collateral to cover the bonus; scale the repayment down.
		seized = collateralBalance
		coverValue := valueOf(seized, collReserve.Config.Price, collReserve.Config.Decimals)
		coverValue.Mul(coverValue, basisPoints)
		coverValue.Quo(coverValue, new(big.Int).SetUint64(10_000+collReserve.Config.LiquidationBonusBps))
		repay = minBig(repay, amountOf(coverValue, debtReserve.Config.Price, debtReserve.Config.Decimals))
	}
	if repay.Sign() == 0 || seized.Sign() == 0 {
		return LiquidationResult{}, errNotLiquidatable
	}
	if p.bank.BalanceOf(collateralAsset, p.address).Cmp(seized) < 0 {
		return LiquidationResult{}, errInsufficientLiquidity
	}

	if err := p.bank.transfer(debtAsset, liquidator, p.address, repay); err != nil {
		return LiquidationResult{}, err
	}
	if err := p.bank.transfer(collateralAsset, p.address, liquidator, seized); err != nil {
		return LiquidationResult{}, err
	}
	p.burnDebtLocked(borrower, debtReserve, debtPos, repay, debt)

	burn := sharesCeil(seized, collReserve.SupplyIndex)
	if burn.Cmp(collPos.SupplyShares) > 0 {
		burn.Set(collPos.SupplyShares)
	}
	collPos.SupplyShares.Sub(collPos.SupplyShares, burn)
	collReserve.TotalSupplyShares.Sub(collReserve.TotalSupplyShares, burn)
	if collReserve.TotalSupplyShares.Sign() < 0 {
		collReserve.TotalSupplyShares.SetInt64(0)
	}
	return LiquidationResult{Repaid: repay, Seized: seized}, nil
}
