package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var errInvalidAssetConfig = errors.New("lending: invalid asset config")

// AssetConfig lists an asset in the sandbox pool. Prices are expressed in the
// base currency with 18 decimals.
type AssetConfig struct {
	Asset    common.Address
	Symbol   string
	Decimals uint8
	Price    *big.Int

	LTVBps                  uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
	ReserveFactorBps        uint64

	BorrowingEnabled bool
	Frozen           bool
	Paused           bool

	// BorrowCap is expressed in asset units; zero means uncapped.
	BorrowCap *big.Int
	// DebtCeiling is expressed in 18-decimal base currency; a non-zero value
	// marks the asset as an isolated collateral.
	DebtCeiling           *big.Int
	BorrowableInIsolation bool

	Interest *InterestModel
}

// Clone returns a deep copy of the asset configuration.
func (c AssetConfig) Clone() AssetConfig {
	clone := c
	clone.Price = cloneBig(c.Price)
	clone.BorrowCap = cloneBig(c.BorrowCap)
	clone.DebtCeiling = cloneBig(c.DebtCeiling)
	clone.Interest = c.Interest.Clone()
	return clone
}

// EnsureDefaults populates nil big.Int fields so arithmetic is safe.
func (c *AssetConfig) EnsureDefaults() {
	if c.Price == nil {
		c.Price = big.NewInt(0)
	}
	if c.BorrowCap == nil {
		c.BorrowCap = big.NewInt(0)
	}
	if c.DebtCeiling == nil {
		c.DebtCeiling = big.NewInt(0)
	}
	if c.Interest == nil {
		c.Interest = DefaultInterestModel.Clone()
	}
}

// Validate checks the configuration is internally consistent.
func (c AssetConfig) Validate() error {
	if c.Asset == (common.Address{}) {
		return fmt.Errorf("%w: asset address required", errInvalidAssetConfig)
	}
	if c.Decimals > 36 {
		return fmt.Errorf("%w: %s decimals %d out of range", errInvalidAssetConfig, c.Symbol, c.Decimals)
	}
	if c.Price == nil || c.Price.Sign() <= 0 {
		return fmt.Errorf("%w: %s price must be positive", errInvalidAssetConfig, c.Symbol)
	}
	if c.LTVBps > c.LiquidationThresholdBps {
		return fmt.Errorf("%w: %s ltv exceeds liquidation threshold", errInvalidAssetConfig, c.Symbol)
	}
	if c.LiquidationThresholdBps > 10_000 || c.ReserveFactorBps > 10_000 {
		return fmt.Errorf("%w: %s basis points exceed 100%%", errInvalidAssetConfig, c.Symbol)
	}
	return nil
}
