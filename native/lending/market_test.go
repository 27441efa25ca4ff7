package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestAaveV3MarketReportsEightDecimalBase(t *testing.T) {
	ctx := context.Background()
	unit := new(big.Int).Set(wad)
	pool := NewPool(testPoolAddr, NewBank())
	mustList(t, pool, testAssets()...)
	market := NewAaveV3Market(pool)

	thousand := new(big.Int).Mul(big.NewInt(1000), unit)
	pool.Bank().Mint(testUSD, testSupplier, thousand)
	pool.Bank().Mint(testCollateral, testBorrower, thousand)
	if err := market.Supply(ctx, testSupplier, testUSD, thousand); err != nil {
		t.Fatalf("supply usd: %v", err)
	}
	if err := market.Supply(ctx, testBorrower, testCollateral, thousand); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if err := market.Borrow(ctx, testBorrower, testUSD, new(big.Int).Mul(big.NewInt(500), unit)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	price, err := market.AssetPrice(ctx, testCollateral)
	if err != nil {
		t.Fatalf("asset price: %v", err)
	}
	if price.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}
	data, err := market.UserAccountData(ctx, testBorrower)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if data.TotalCollateralBase.Cmp(big.NewInt(100_000_000_000)) != 0 {
		t.Fatalf("unexpected collateral base: %s", data.TotalCollateralBase)
	}
	if data.TotalDebtBase.Cmp(big.NewInt(50_000_000_000)) != 0 {
		t.Fatalf("unexpected debt base: %s", data.TotalDebtBase)
	}
	if data.AvailableBorrowsBase.Cmp(big.NewInt(30_000_000_000)) != 0 {
		t.Fatalf("unexpected available borrows: %s", data.AvailableBorrowsBase)
	}
	expectedHF := new(big.Int).Mul(big.NewInt(17), big.NewInt(100_000_000_000_000_000))
	if data.HealthFactor.Cmp(expectedHF) != 0 {
		t.Fatalf("unexpected health factor: %s", data.HealthFactor)
	}
	if data.LTVBps != 8000 || data.LiquidationThresholdBps != 8500 {
		t.Fatalf("unexpected weighted params: ltv=%d lt=%d", data.LTVBps, data.LiquidationThresholdBps)
	}

	reserve, err := market.ReserveData(ctx, testUSD)
	if err != nil {
		t.Fatalf("reserve data: %v", err)
	}
	half := new(big.Int).Mul(big.NewInt(500), unit)
	if reserve.AvailableLiquidity.Cmp(half) != 0 || reserve.TotalDebt.Cmp(half) != 0 {
		t.Fatalf("unexpected reserve state: liquidity=%s debt=%s", reserve.AvailableLiquidity, reserve.TotalDebt)
	}
	expectedRate := new(big.Int).Quo(ray, big.NewInt(2))
	if reserve.VariableBorrowRateRay.Cmp(expectedRate) != 0 {
		t.Fatalf("unexpected borrow rate: %s", reserve.VariableBorrowRateRay)
	}
	if !reserve.Active || !reserve.BorrowingEnabled {
		t.Fatalf("expected active borrowable reserve")
	}

	aToken, err := market.ATokenBalance(ctx, testBorrower, testCollateral)
	if err != nil || aToken.Cmp(thousand) != 0 {
		t.Fatalf("unexpected aToken balance: %v %v", aToken, err)
	}
	debt, err := market.VariableDebt(ctx, testBorrower, testUSD)
	if err != nil || debt.Cmp(half) != 0 {
		t.Fatalf("unexpected variable debt: %v %v", debt, err)
	}
}

func TestAaveV2MarketIgnoresV3Caps(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t, big.NewInt(1))
	if err := pool.UpdateAsset(testUSD, func(cfg *AssetConfig) { cfg.BorrowCap = big.NewInt(10) }); err != nil {
		t.Fatalf("update asset: %v", err)
	}
	market := NewAaveV2Market(pool)
	if market.BaseCurrencyUnit().Cmp(wad) != 0 {
		t.Fatalf("unexpected base unit: %s", market.BaseCurrencyUnit())
	}
	reserve, err := market.ReserveData(ctx, testUSD)
	if err != nil {
		t.Fatalf("reserve data: %v", err)
	}
	if reserve.BorrowCap.Sign() != 0 || reserve.DebtCeiling.Sign() != 0 {
		t.Fatalf("v2 reserve should not report caps: %+v", reserve)
	}
	if _, err := market.ReserveData(ctx, testAddr(0x77)); !errors.Is(err, errUnknownAsset) {
		t.Fatalf("expected unknown asset, got %v", err)
	}
}

func TestCompoundMarketReadsStoredIndexes(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(testPoolAddr, NewBank())
	assets := testAssets()
	for i := range assets {
		assets[i].LiquidationThresholdBps = assets[i].LTVBps
	}
	mustList(t, pool, assets...)
	market := NewCompoundMarket(pool)

	cUSD, err := market.CToken(ctx, testUSD)
	if err != nil {
		t.Fatalf("ctoken: %v", err)
	}
	if cUSD != CTokenAddress(testUSD) {
		t.Fatalf("unexpected cToken address %s", cUSD.Hex())
	}
	cColl := CTokenAddress(testCollateral)

	pool.Bank().Mint(testUSD, testSupplier, big.NewInt(1000))
	pool.Bank().Mint(testCollateral, testBorrower, big.NewInt(1000))
	if err := market.Mint(ctx, testSupplier, cUSD, big.NewInt(1000)); err != nil {
		t.Fatalf("mint usd: %v", err)
	}
	if err := market.Mint(ctx, testBorrower, cColl, big.NewInt(1000)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}
	if err := market.Borrow(ctx, testBorrower, cUSD, big.NewInt(500)); !errors.Is(err, errBorrowLimit) {
		t.Fatalf("expected borrow without entered market to fail, got %v", err)
	}
	if err := market.EnterMarkets(ctx, testBorrower, cColl); err != nil {
		t.Fatalf("enter markets: %v", err)
	}
	if err := market.Borrow(ctx, testBorrower, cUSD, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	pool.AdvanceBlocks(blocksPerYear)
	snapshot, err := market.AccountSnapshot(ctx, testSupplier, cUSD)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.ExchangeRate.Cmp(wad) != 0 || snapshot.CTokenBalance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected stale snapshot: %+v", snapshot)
	}

	if err := market.AccrueInterest(ctx, cUSD); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	snapshot, err = market.AccountSnapshot(ctx, testSupplier, cUSD)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	expectedRate := new(big.Int).Mul(wad, big.NewInt(12))
	expectedRate.Quo(expectedRate, big.NewInt(10))
	if snapshot.ExchangeRate.Cmp(expectedRate) != 0 {
		t.Fatalf("unexpected exchange rate: %s", snapshot.ExchangeRate)
	}
	borrower, err := market.AccountSnapshot(ctx, testBorrower, cUSD)
	if err != nil {
		t.Fatalf("borrower snapshot: %v", err)
	}
	if borrower.BorrowBalance.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected borrow balance: %s", borrower.BorrowBalance)
	}

	info, err := market.Market(ctx, cUSD)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	expectedFactor := new(big.Int).Mul(big.NewInt(8), big.NewInt(100_000_000_000_000_000))
	if info.CollateralFactor.Cmp(expectedFactor) != 0 {
		t.Fatalf("unexpected collateral factor: %s", info.CollateralFactor)
	}
	if info.Underlying != testUSD || !info.Listed || info.BorrowPaused {
		t.Fatalf("unexpected market info: %+v", info)
	}
	price, err := market.UnderlyingPrice(ctx, cColl)
	if err != nil || price.Cmp(wad) != 0 {
		t.Fatalf("unexpected underlying price: %v %v", price, err)
	}
	if _, err := market.Market(ctx, testAddr(0x99)); !errors.Is(err, errUnknownCToken) {
		t.Fatalf("expected unknown cToken, got %v", err)
	}
}
