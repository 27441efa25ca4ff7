package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lendkeeper/native/moneymarket"
)

var (
	aaveV2BaseUnit = new(big.Int).Set(wad)
	aaveV3BaseUnit = big.NewInt(100_000_000)
)

// AaveMarket exposes a Pool through the Aave lending pool surface. The v2
// flavour prices in an 18-decimal base currency and ignores caps; the v3
// flavour prices in 8 decimals and reports borrow caps and isolation mode.
type AaveMarket struct {
	pool     *Pool
	baseUnit *big.Int
	v3       bool
}

var (
	_ moneymarket.AavePool       = (*AaveMarket)(nil)
	_ moneymarket.RewardsClaimer = (*AaveMarket)(nil)
)

// NewAaveV2Market wraps pool with Aave v2 semantics.
func NewAaveV2Market(pool *Pool) *AaveMarket {
	return &AaveMarket{pool: pool, baseUnit: aaveV2BaseUnit}
}

// NewAaveV3Market wraps pool with Aave v3 semantics.
func NewAaveV3Market(pool *Pool) *AaveMarket {
	return &AaveMarket{pool: pool, baseUnit: aaveV3BaseUnit, v3: true}
}

// Pool returns the wrapped pool.
func (m *AaveMarket) Pool() *Pool { return m.pool }

// Supply deposits amount on behalf of account. The first supply of an asset
// with a non-zero LTV is enabled as collateral.
func (m *AaveMarket) Supply(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	first := m.pool.SupplyShares(account, asset).Sign() == 0
	if _, err := m.pool.supply(account, asset, amount); err != nil {
		return err
	}
	if !first {
		return nil
	}
	r, ok := m.pool.reserveView(asset, false)
	if !ok || r.Config.LTVBps == 0 {
		return nil
	}
	return m.pool.enableCollateral(account, asset, true)
}

// Withdraw releases supplied funds; nil withdraws everything.
func (m *AaveMarket) Withdraw(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.pool.withdraw(account, asset, amount)
}

// Borrow draws variable-rate debt.
func (m *AaveMarket) Borrow(ctx context.Context, account, asset common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.pool.borrow(account, asset, amount)
}

// Repay reduces variable debt and returns the amount repaid.
func (m *AaveMarket) Repay(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.pool.repay(account, asset, amount)
}

// UserAccountData reports the account totals in the oracle base unit.
func (m *AaveMarket) UserAccountData(ctx context.Context, account common.Address) (moneymarket.AaveAccountData, error) {
	if err := ctx.Err(); err != nil {
		return moneymarket.AaveAccountData{}, err
	}
	data := m.pool.AccountData(account, true)
	return moneymarket.AaveAccountData{
		TotalCollateralBase:     m.toBase(data.CollateralBase),
		TotalDebtBase:           m.toBase(data.DebtBase),
		AvailableBorrowsBase:    m.toBase(data.AvailableBorrowsBase),
		LiquidationThresholdBps: data.LiquidationThresholdBps,
		LTVBps:                  data.LTVBps,
		HealthFactor:            data.HealthFactor,
	}, nil
}

// ReserveData reports the reserve configuration and state with interest
// projected to the current block.
func (m *AaveMarket) ReserveData(ctx context.Context, asset common.Address) (moneymarket.AaveReserveData, error) {
	if err := ctx.Err(); err != nil {
		return moneymarket.AaveReserveData{}, err
	}
	r, ok := m.pool.Reserve(asset)
	if !ok {
		return moneymarket.AaveReserveData{}, fmt.Errorf("%w: %s", errUnknownAsset, asset.Hex())
	}
	debt := r.TotalDebt()
	supplied := r.TotalSupplied()
	data := moneymarket.AaveReserveData{
		Decimals:                r.Config.Decimals,
		LTVBps:                  r.Config.LTVBps,
		LiquidationThresholdBps: r.Config.LiquidationThresholdBps,
		Active:                  true,
		Frozen:                  r.Config.Frozen,
		BorrowingEnabled:        r.Config.BorrowingEnabled,
		AvailableLiquidity:      m.pool.AvailableLiquidity(asset),
		TotalDebt:               debt,
		VariableBorrowRateRay:   r.Config.Interest.BorrowRateRay(debt, supplied),
		LiquidityRateRay:        r.Config.Interest.SupplyRateRay(debt, supplied, r.Config.ReserveFactorBps),
		BorrowCap:               big.NewInt(0),
		DebtCeiling:             big.NewInt(0),
		IsolationModeTotalDebt:  big.NewInt(0),
	}
	if m.v3 {
		data.Paused = r.Config.Paused
		data.BorrowCap = cloneBig(r.Config.BorrowCap)
		data.DebtCeiling = m.toBase(r.Config.DebtCeiling)
		data.IsolationModeTotalDebt = m.toBase(r.IsolationDebt)
		data.BorrowableInIsolation = r.Config.BorrowableInIsolation
	} else if r.Config.Paused {
		data.Active = false
	}
	return data, nil
}

// ATokenBalance returns the account's interest-bearing supply balance.
func (m *AaveMarket) ATokenBalance(ctx context.Context, account, asset common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.pool.SupplyBalance(account, asset, true), nil
}

// VariableDebt returns the account's outstanding variable debt.
func (m *AaveMarket) VariableDebt(ctx context.Context, account, asset common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.pool.Debt(account, asset, true), nil
}

// AssetPrice returns the oracle price of one whole token in the base unit.
func (m *AaveMarket) AssetPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	price, err := m.pool.Price(asset)
	if err != nil {
		return nil, err
	}
	return m.toBase(price), nil
}

// BaseCurrencyUnit returns the oracle base unit.
func (m *AaveMarket) BaseCurrencyUnit() *big.Int { return new(big.Int).Set(m.baseUnit) }

// ClaimRewards pays the account's accrued incentives to receiver.
func (m *AaveMarket) ClaimRewards(ctx context.Context, account, receiver common.Address) (common.Address, *big.Int, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, nil, err
	}
	token, amount := m.pool.claimRewards(account, receiver)
	return token, amount, nil
}

func (m *AaveMarket) toBase(value *big.Int) *big.Int {
	scaled := new(big.Int).Mul(cloneBig(value), m.baseUnit)
	return scaled.Quo(scaled, wad)
}
