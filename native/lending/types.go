package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reserve captures the accounting state of a single listed asset. Amount
// values are denominated in the asset's smallest unit.
type Reserve struct {
	Config AssetConfig
	// TotalSupplyShares is the aggregate of supplier shares; one share is
	// worth SupplyIndex/1e27 underlying.
	TotalSupplyShares *big.Int
	// TotalScaledDebt is the aggregate borrower debt divided by BorrowIndex.
	TotalScaledDebt *big.Int
	SupplyIndex     *big.Int
	BorrowIndex     *big.Int
	LastAccrual     uint64
	// Treasury accumulates the reserve factor share of interest.
	Treasury *big.Int
	// IsolationDebt is the base-currency debt backed by this asset while it
	// acts as an isolated collateral.
	IsolationDebt *big.Int
}

func newReserve(cfg AssetConfig, height uint64) *Reserve {
	cfg.EnsureDefaults()
	return &Reserve{
		Config:            cfg,
		TotalSupplyShares: big.NewInt(0),
		TotalScaledDebt:   big.NewInt(0),
		SupplyIndex:       new(big.Int).Set(ray),
		BorrowIndex:       new(big.Int).Set(ray),
		LastAccrual:       height,
		Treasury:          big.NewInt(0),
		IsolationDebt:     big.NewInt(0),
	}
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	return &Reserve{
		Config:            r.Config.Clone(),
		TotalSupplyShares: cloneBig(r.TotalSupplyShares),
		TotalScaledDebt:   cloneBig(r.TotalScaledDebt),
		SupplyIndex:       cloneBig(r.SupplyIndex),
		BorrowIndex:       cloneBig(r.BorrowIndex),
		LastAccrual:       r.LastAccrual,
		Treasury:          cloneBig(r.Treasury),
		IsolationDebt:     cloneBig(r.IsolationDebt),
	}
}

// TotalSupplied returns the underlying owed to suppliers.
func (r *Reserve) TotalSupplied() *big.Int {
	return liquidityFromShares(r.TotalSupplyShares, r.SupplyIndex)
}

// TotalDebt returns the outstanding borrower debt.
func (r *Reserve) TotalDebt() *big.Int {
	return debtFromScaled(r.TotalScaledDebt, r.BorrowIndex)
}

// AccountPosition stores an account's balances in one reserve.
type AccountPosition struct {
	SupplyShares      *big.Int
	ScaledDebt        *big.Int
	CollateralEnabled bool
}

// Clone returns a deep copy of the account position.
func (p *AccountPosition) Clone() *AccountPosition {
	if p == nil {
		return nil
	}
	return &AccountPosition{
		SupplyShares:      cloneBig(p.SupplyShares),
		ScaledDebt:        cloneBig(p.ScaledDebt),
		CollateralEnabled: p.CollateralEnabled,
	}
}

func (p *AccountPosition) empty() bool {
	return p.SupplyShares.Sign() == 0 && p.ScaledDebt.Sign() == 0
}

// AccountData summarises an account across every reserve. Base values use 18
// decimals; basis-point figures are collateral-weighted averages.
type AccountData struct {
	CollateralBase          *big.Int
	DebtBase                *big.Int
	AvailableBorrowsBase    *big.Int
	LTVBps                  uint64
	LiquidationThresholdBps uint64
	HealthFactor            *big.Int
	// IsolatedCollateral is set when the account borrows against an asset
	// with a debt ceiling.
	IsolatedCollateral common.Address
}
