package position

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lendkeeper/native/lending"
)

func planFor(t *testing.T, protocol Protocol, collateral *big.Int, hf uint16) (ConversionPlan, error) {
	t.Helper()
	return protocol.ComputePlan(context.Background(), PlanRequest{
		CollateralAsset:  testColl,
		CollateralAmount: collateral,
		BorrowAsset:      testUSD,
		HealthFactor2:    hf,
		HorizonBlocks:    1_000,
	})
}

func TestComputePlanSizesBorrowToHealthFactor(t *testing.T) {
	for _, kind := range []Kind{KindAaveV2, KindAaveV3, KindCompound} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t, kind, nil)
			plan, err := planFor(t, f.protocol, e18(100_000), 200)
			require.NoError(t, err)
			require.Equal(t, e18(37_500).String(), plan.AmountToBorrow.String())
			require.Equal(t, e18(1_000_000).String(), plan.MaxAmountToBorrow.String())
			require.False(t, plan.Clamped)
			require.Equal(t, bpsTo18(7500).String(), plan.LTV18.String())
		})
	}
}

func TestComputePlanScalesWithHealthFactor(t *testing.T) {
	f := newFixture(t, KindAaveV2, nil)
	var previous *big.Int
	for _, hf := range []uint16{120, 150, 200, 300} {
		plan, err := planFor(t, f.protocol, e18(100_000), hf)
		require.NoError(t, err)
		if previous != nil {
			require.Equal(t, -1, plan.AmountToBorrow.Cmp(previous), "hf %d should borrow less", hf)
		}
		previous = plan.AmountToBorrow
	}
}

func TestComputePlanFloorsMixedDecimals(t *testing.T) {
	f := newFixture(t, KindAaveV2, func(usd, coll *lending.AssetConfig) {
		usd.Decimals = 6
		coll.Price = big.NewInt(3)
	})
	// Seven wei of collateral at a price of 3e-18 floors to zero base value.
	plan, err := planFor(t, f.protocol, big.NewInt(7), 150)
	require.NoError(t, err)
	require.Zero(t, plan.AmountToBorrow.Sign())
}

func TestComputePlanHonoursCaps(t *testing.T) {
	t.Run("liquidity", func(t *testing.T) {
		pool := newSandboxPool(t, e18(10_000), nil)
		protocol := newTestProtocol(KindAaveV2, pool, Options{})
		plan, err := planFor(t, protocol, e18(100_000), 200)
		require.NoError(t, err)
		require.True(t, plan.Clamped)
		require.Equal(t, e18(10_000).String(), plan.AmountToBorrow.String())
		require.Equal(t, e18(10_000).String(), plan.MaxAmountToBorrow.String())
	})
	t.Run("v3 borrow cap", func(t *testing.T) {
		f := newFixture(t, KindAaveV3, func(usd, _ *lending.AssetConfig) {
			usd.BorrowCap = e18(20_000)
		})
		plan, err := planFor(t, f.protocol, e18(100_000), 200)
		require.NoError(t, err)
		require.True(t, plan.Clamped)
		require.Equal(t, e18(20_000).String(), plan.AmountToBorrow.String())
	})
	t.Run("v2 ignores borrow cap", func(t *testing.T) {
		f := newFixture(t, KindAaveV2, func(usd, _ *lending.AssetConfig) {
			usd.BorrowCap = e18(20_000)
		})
		plan, err := planFor(t, f.protocol, e18(100_000), 200)
		require.NoError(t, err)
		require.False(t, plan.Clamped)
		require.Equal(t, e18(37_500).String(), plan.AmountToBorrow.String())
	})
	t.Run("v3 isolation ceiling", func(t *testing.T) {
		f := newFixture(t, KindAaveV3, func(usd, coll *lending.AssetConfig) {
			coll.DebtCeiling = e18(15_000)
			usd.BorrowableInIsolation = true
		})
		plan, err := planFor(t, f.protocol, e18(100_000), 200)
		require.NoError(t, err)
		require.True(t, plan.Clamped)
		require.Equal(t, e18(15_000).String(), plan.AmountToBorrow.String())
	})
	t.Run("compound cap", func(t *testing.T) {
		f := newFixture(t, KindCompound, func(usd, _ *lending.AssetConfig) {
			usd.BorrowCap = e18(5_000)
		})
		plan, err := planFor(t, f.protocol, e18(100_000), 200)
		require.NoError(t, err)
		require.True(t, plan.Clamped)
		require.Equal(t, e18(5_000).String(), plan.MaxAmountToBorrow.String())
	})
}

func TestComputePlanRejectsUnborrowablePairs(t *testing.T) {
	pauseUSD := func(c *lending.AssetConfig) { c.Paused = true }
	cases := []struct {
		name   string
		kind   Kind
		mutate func(usd, coll *lending.AssetConfig)
		update func(*lending.AssetConfig)
	}{
		{"borrowing disabled", KindAaveV2, func(usd, _ *lending.AssetConfig) { usd.BorrowingEnabled = false }, nil},
		{"frozen collateral", KindAaveV2, func(_, coll *lending.AssetConfig) { coll.Frozen = true }, nil},
		{"paused reserve v2", KindAaveV2, nil, pauseUSD},
		{"paused reserve v3", KindAaveV3, nil, pauseUSD},
		{"zero ltv", KindAaveV3, func(_, coll *lending.AssetConfig) { coll.LTVBps = 0 }, nil},
		{"isolation without permission", KindAaveV3, func(_, coll *lending.AssetConfig) { coll.DebtCeiling = e18(1_000) }, nil},
		{"compound borrow paused", KindCompound, func(usd, _ *lending.AssetConfig) { usd.BorrowingEnabled = false }, nil},
		{"compound zero factor", KindCompound, func(_, coll *lending.AssetConfig) { coll.LTVBps = 0 }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.kind, tc.mutate)
			if tc.update != nil {
				if err := f.pool.UpdateAsset(testUSD, tc.update); err != nil {
					t.Fatalf("update asset: %v", err)
				}
			}
			_, err := planFor(t, f.protocol, e18(100_000), 200)
			if !errors.Is(err, ErrNotBorrowable) {
				t.Fatalf("expected ErrNotBorrowable, got %v", err)
			}
		})
	}
}

func TestComputePlanRejectsUnlistedCompoundMarket(t *testing.T) {
	f := newFixture(t, KindCompound, nil)
	_, err := f.protocol.ComputePlan(context.Background(), PlanRequest{
		CollateralAsset:  testAddr(0x77),
		CollateralAmount: e18(1),
		BorrowAsset:      testUSD,
		HealthFactor2:    200,
	})
	if !errors.Is(err, ErrNotBorrowable) {
		t.Fatalf("expected ErrNotBorrowable, got %v", err)
	}
}

// dustOracle quotes one cToken below a wei per whole underlying token.
type dustOracle struct {
	*lending.CompoundMarket
	cToken common.Address
	price  *big.Int
}

func (o dustOracle) UnderlyingPrice(ctx context.Context, cToken common.Address) (*big.Int, error) {
	if cToken == o.cToken {
		return new(big.Int).Set(o.price), nil
	}
	return o.CompoundMarket.UnderlyingPrice(ctx, cToken)
}

func TestComputePlanRejectsPriceRoundingToZero(t *testing.T) {
	pool := newSandboxPool(t, nil, func(usd, coll *lending.AssetConfig) {
		usd.Decimals = 6
		coll.LiquidationThresholdBps = coll.LTVBps
		usd.LiquidationThresholdBps = usd.LTVBps
	})
	// Scaled by 1e30 for a 6-decimal token, 999,999 is under one wei of
	// 18-decimal base currency per token.
	protocol := NewCompound(dustOracle{
		CompoundMarket: lending.NewCompoundMarket(pool),
		cToken:         lending.CTokenAddress(testUSD),
		price:          big.NewInt(999_999),
	}, Options{})
	_, err := planFor(t, protocol, e18(100_000), 200)
	require.ErrorIs(t, err, ErrNotBorrowable)
}

func TestComputePlanValidatesRequest(t *testing.T) {
	f := newFixture(t, KindAaveV2, nil)
	if _, err := planFor(t, f.protocol, e18(1), 0); !errors.Is(err, ErrInvalidHealthFactors) {
		t.Fatalf("expected ErrInvalidHealthFactors, got %v", err)
	}
	if _, err := planFor(t, f.protocol, big.NewInt(-1), 200); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestComputePlanEstimatesInterestOverHorizon(t *testing.T) {
	f := newFixture(t, KindCompound, func(usd, _ *lending.AssetConfig) {
		usd.Interest = lending.NewInterestModel(0.1, 0, 0, 0)
	})
	plan, err := planFor(t, f.protocol, e18(100_000), 200)
	require.NoError(t, err)
	require.Positive(t, plan.BorrowCost.Sign())
	require.Zero(t, plan.SupplyIncome.Sign())
}

func TestAdapterComputePlanUsesOwnPair(t *testing.T) {
	f := newFixture(t, KindAaveV2, nil)
	plan, err := f.adapter.ComputePlan(f.ctx, e18(100_000), 200, 0)
	require.NoError(t, err)
	require.Equal(t, e18(37_500).String(), plan.AmountToBorrow.String())
	require.Zero(t, plan.BorrowCost.Sign())
}

func TestMaxHealthFactorReturnsCopies(t *testing.T) {
	reported := MaxHealthFactor()
	reported.SetInt64(1)
	require.Equal(t, 256, MaxHealthFactor().BitLen())
	require.Zero(t, healthFactor(AccountValues{}).Cmp(MaxHealthFactor()))
}
