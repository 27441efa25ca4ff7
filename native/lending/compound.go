package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lendkeeper/native/moneymarket"
)

var errUnknownCToken = errors.New("lending engine: unknown cToken")

// CompoundMarket exposes a Pool through a compound-fork comptroller. Each
// listed asset gets a deterministic cToken address; cToken balances are the
// pool's supply shares and views read the last stored indexes, so callers
// must AccrueInterest to observe pending interest. Assets listed for this
// facade should set the liquidation threshold equal to the LTV since
// compound uses a single collateral factor.
type CompoundMarket struct {
	pool *Pool
}

var (
	_ moneymarket.Comptroller    = (*CompoundMarket)(nil)
	_ moneymarket.RewardsClaimer = (*CompoundMarket)(nil)
)

// NewCompoundMarket wraps pool with comptroller semantics.
func NewCompoundMarket(pool *Pool) *CompoundMarket {
	return &CompoundMarket{pool: pool}
}

// Pool returns the wrapped pool.
func (m *CompoundMarket) Pool() *Pool { return m.pool }

// CTokenAddress derives the cToken address for an underlying asset.
func CTokenAddress(underlying common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("ctoken"), underlying.Bytes())[12:])
}

// CToken returns the cToken for a listed underlying.
func (m *CompoundMarket) CToken(ctx context.Context, underlying common.Address) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	if _, ok := m.pool.reserveView(underlying, false); !ok {
		return common.Address{}, fmt.Errorf("%w: %s", errUnknownAsset, underlying.Hex())
	}
	return CTokenAddress(underlying), nil
}

// EnterMarkets enables the account's supply in each market as collateral.
func (m *CompoundMarket) EnterMarkets(ctx context.Context, account common.Address, cTokens ...common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, cToken := range cTokens {
		underlying, err := m.underlying(cToken)
		if err != nil {
			return err
		}
		if err := m.pool.enableCollateral(account, underlying, true); err != nil {
			return err
		}
	}
	return nil
}

// Mint supplies underlying and credits cTokens.
func (m *CompoundMarket) Mint(ctx context.Context, account, cToken common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return err
	}
	_, err = m.pool.supply(account, underlying, amount)
	return err
}

// Redeem burns cTokens and returns the underlying released.
func (m *CompoundMarket) Redeem(ctx context.Context, account, cToken common.Address, cTokens *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return nil, err
	}
	return m.pool.redeem(account, underlying, cTokens)
}

// Borrow draws underlying against entered markets.
func (m *CompoundMarket) Borrow(ctx context.Context, account, cToken common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return err
	}
	return m.pool.borrow(account, underlying, amount)
}

// RepayBorrow reduces the account's borrow balance.
func (m *CompoundMarket) RepayBorrow(ctx context.Context, account, cToken common.Address, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return nil, err
	}
	return m.pool.repay(account, underlying, amount)
}

// AccrueInterest stores pending interest for the market.
func (m *CompoundMarket) AccrueInterest(ctx context.Context, cToken common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return err
	}
	return m.pool.accrue(underlying)
}

// AccountSnapshot reports stored balances for the account.
func (m *CompoundMarket) AccountSnapshot(ctx context.Context, account, cToken common.Address) (moneymarket.CTokenSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return moneymarket.CTokenSnapshot{}, err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return moneymarket.CTokenSnapshot{}, err
	}
	r, _ := m.pool.reserveView(underlying, false)
	return moneymarket.CTokenSnapshot{
		CTokenBalance: m.pool.SupplyShares(account, underlying),
		BorrowBalance: m.pool.Debt(account, underlying, false),
		ExchangeRate:  new(big.Int).Quo(r.SupplyIndex, wadToRay),
	}, nil
}

// Market reports comptroller and cToken state from stored indexes.
func (m *CompoundMarket) Market(ctx context.Context, cToken common.Address) (moneymarket.CompoundMarket, error) {
	if err := ctx.Err(); err != nil {
		return moneymarket.CompoundMarket{}, err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return moneymarket.CompoundMarket{}, err
	}
	r, _ := m.pool.reserveView(underlying, false)
	debt := r.TotalDebt()
	supplied := r.TotalSupplied()
	factor := new(big.Int).Mul(new(big.Int).SetUint64(r.Config.LTVBps), wad)
	factor.Quo(factor, basisPoints)
	return moneymarket.CompoundMarket{
		CToken:             cToken,
		Underlying:         underlying,
		Decimals:           r.Config.Decimals,
		Listed:             true,
		CollateralFactor:   factor,
		BorrowPaused:       r.Config.Paused || r.Config.Frozen || !r.Config.BorrowingEnabled,
		MintPaused:         r.Config.Paused || r.Config.Frozen,
		Cash:               m.pool.AvailableLiquidity(underlying),
		TotalBorrows:       debt,
		BorrowCap:          cloneBig(r.Config.BorrowCap),
		BorrowRatePerBlock: r.Config.Interest.BorrowRatePerBlock(debt, supplied),
		SupplyRatePerBlock: r.Config.Interest.SupplyRatePerBlock(debt, supplied, r.Config.ReserveFactorBps),
	}, nil
}

// UnderlyingPrice returns the price of one smallest underlying unit scaled
// by 1e36.
func (m *CompoundMarket) UnderlyingPrice(ctx context.Context, cToken common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	underlying, err := m.underlying(cToken)
	if err != nil {
		return nil, err
	}
	r, _ := m.pool.reserveView(underlying, false)
	price := new(big.Int).Mul(r.Config.Price, wad)
	return price.Quo(price, pow10(r.Config.Decimals)), nil
}

// ClaimRewards pays the account's accrued incentives to receiver.
func (m *CompoundMarket) ClaimRewards(ctx context.Context, account, receiver common.Address) (common.Address, *big.Int, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, nil, err
	}
	token, amount := m.pool.claimRewards(account, receiver)
	return token, amount, nil
}

func (m *CompoundMarket) underlying(cToken common.Address) (common.Address, error) {
	for _, asset := range m.pool.Assets() {
		if CTokenAddress(asset) == cToken {
			return asset, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: %s", errUnknownCToken, cToken.Hex())
}
