// Package moneymarket describes the surface of the third-party lending
// markets a position adapter talks to. The shapes mirror what the deployed
// contracts expose so RPC-backed clients and the in-memory sandbox can be
// swapped freely.
package moneymarket

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AaveAccountData mirrors Pool.getUserAccountData. Base amounts are
// denominated in the oracle base currency using the oracle's base unit
// (1e18 for ETH-priced v2 deployments, 1e8 for USD-priced v3 deployments).
type AaveAccountData struct {
	TotalCollateralBase  *big.Int
	TotalDebtBase        *big.Int
	AvailableBorrowsBase *big.Int
	// LiquidationThresholdBps and LTVBps are collateral-weighted averages.
	LiquidationThresholdBps uint64
	LTVBps                  uint64
	// HealthFactor is reported with 18 decimals.
	HealthFactor *big.Int
}

// AaveReserveData is the subset of reserve configuration and state needed to
// plan a borrow.
type AaveReserveData struct {
	Decimals                uint8
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	Active                  bool
	Frozen                  bool
	Paused                  bool
	BorrowingEnabled        bool
	AvailableLiquidity      *big.Int
	TotalDebt               *big.Int
	// VariableBorrowRateRay and LiquidityRateRay are annual rates (1e27).
	VariableBorrowRateRay *big.Int
	LiquidityRateRay      *big.Int
	// BorrowCap is expressed in asset units; zero means uncapped.
	BorrowCap *big.Int
	// DebtCeiling and IsolationModeTotalDebt use the oracle base unit. A zero
	// ceiling means the asset is not an isolated collateral.
	DebtCeiling            *big.Int
	IsolationModeTotalDebt *big.Int
	BorrowableInIsolation  bool
}

// CTokenSnapshot mirrors CToken.getAccountSnapshot.
type CTokenSnapshot struct {
	CTokenBalance *big.Int
	BorrowBalance *big.Int
	// ExchangeRate converts cTokens to underlying with 18 decimals of
	// precision: underlying = cTokens * ExchangeRate / 1e18.
	ExchangeRate *big.Int
}

// CompoundMarket captures comptroller and cToken state for a single market.
type CompoundMarket struct {
	CToken     common.Address
	Underlying common.Address
	Decimals   uint8
	Listed     bool
	// CollateralFactor is a 1e18 mantissa.
	CollateralFactor *big.Int
	BorrowPaused     bool
	MintPaused       bool
	Cash             *big.Int
	TotalBorrows     *big.Int
	// BorrowCap is expressed in underlying units; zero means uncapped.
	BorrowCap          *big.Int
	BorrowRatePerBlock *big.Int
	SupplyRatePerBlock *big.Int
}
