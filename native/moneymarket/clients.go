package moneymarket

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger moves fungible tokens between holders. Adapters use it to read
// the balances made available to them and to pay out receivers.
type TokenLedger interface {
	BalanceOf(asset, holder common.Address) *big.Int
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// AavePool is the Aave-style lending pool together with its price oracle and
// token views. Both v2 and v3 deployments satisfy it; v3 additionally
// populates the isolation and cap fields of AaveReserveData.
type AavePool interface {
	Supply(ctx context.Context, account, asset common.Address, amount *big.Int) error
	// Withdraw returns the underlying amount released. A nil amount
	// withdraws the full balance.
	Withdraw(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error)
	Borrow(ctx context.Context, account, asset common.Address, amount *big.Int) error
	Repay(ctx context.Context, account, asset common.Address, amount *big.Int) (*big.Int, error)
	UserAccountData(ctx context.Context, account common.Address) (AaveAccountData, error)
	ReserveData(ctx context.Context, asset common.Address) (AaveReserveData, error)
	ATokenBalance(ctx context.Context, account, asset common.Address) (*big.Int, error)
	VariableDebt(ctx context.Context, account, asset common.Address) (*big.Int, error)
	AssetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
	BaseCurrencyUnit() *big.Int
}

// Comptroller is a compound-fork comptroller together with its cTokens and
// price oracle.
type Comptroller interface {
	CToken(ctx context.Context, underlying common.Address) (common.Address, error)
	EnterMarkets(ctx context.Context, account common.Address, cTokens ...common.Address) error
	Mint(ctx context.Context, account, cToken common.Address, amount *big.Int) error
	// Redeem burns cTokens and returns the underlying amount released.
	Redeem(ctx context.Context, account, cToken common.Address, cTokens *big.Int) (*big.Int, error)
	Borrow(ctx context.Context, account, cToken common.Address, amount *big.Int) error
	RepayBorrow(ctx context.Context, account, cToken common.Address, amount *big.Int) (*big.Int, error)
	AccrueInterest(ctx context.Context, cToken common.Address) error
	AccountSnapshot(ctx context.Context, account, cToken common.Address) (CTokenSnapshot, error)
	Market(ctx context.Context, cToken common.Address) (CompoundMarket, error)
	// UnderlyingPrice is scaled by 1e(36 - underlying decimals).
	UnderlyingPrice(ctx context.Context, cToken common.Address) (*big.Int, error)
}

// RewardsClaimer is implemented by markets that run an incentives
// controller.
type RewardsClaimer interface {
	ClaimRewards(ctx context.Context, account, receiver common.Address) (common.Address, *big.Int, error)
}
