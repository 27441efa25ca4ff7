package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errUnknownAsset             = errors.New("lending engine: asset not listed")
	errAssetListed              = errors.New("lending engine: asset already listed")
	errInvalidAmount            = errors.New("lending engine: amount must be positive")
	errInsufficientLiquidity    = errors.New("lending engine: insufficient liquidity")
	errHealthCheckFailed        = errors.New("lending engine: borrower health factor below 1")
	errBorrowLimit              = errors.New("lending engine: borrow exceeds collateral limit")
	errBorrowingDisabled        = errors.New("lending engine: borrowing disabled")
	errReserveFrozen            = errors.New("lending engine: reserve frozen")
	errReservePaused            = errors.New("lending engine: reserve paused")
	errBorrowCapExceeded        = errors.New("lending engine: borrow cap exceeded")
	errDebtCeilingExceeded      = errors.New("lending engine: isolation debt ceiling exceeded")
	errNotBorrowableInIsolation = errors.New("lending engine: asset not borrowable in isolation")
	errNoDebtToRepay            = errors.New("lending engine: no outstanding debt to repay")
	errUnknownSnapshot          = errors.New("lending engine: unknown snapshot")
)

var maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type poolSnapshot struct {
	id        int
	reserves  map[common.Address]*Reserve
	positions map[common.Address]map[common.Address]*AccountPosition
	rewards   map[common.Address]*big.Int
	balances  map[common.Address]map[common.Address]*big.Int
}

// Pool is an in-memory multi-asset money market. It keeps supplier shares and
// scaled debt per account against ray indexes that grow with the block
// height, and holds the pooled liquidity in its Bank under Address().
//
// Lock and Unlock serialise whole calls from position adapters the way block
// execution serialises transactions. Snapshot and RevertToSnapshot give those
// calls all-or-nothing semantics over the pool and its bank. Every exported
// mutator, and the bank's Mint and Transfer, waits for the call lock, so a
// revert only ever undoes the call that holds it. Inside a call the market
// facades and CallLedger reach the same state without re-locking.
type Pool struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	address     common.Address
	bank        *Bank
	reserves    map[common.Address]*Reserve
	assets      []common.Address
	positions   map[common.Address]map[common.Address]*AccountPosition
	rewards     map[common.Address]*big.Int
	rewardToken common.Address
	height      uint64

	snapshots    []poolSnapshot
	nextSnapshot int
}

// NewPool constructs an empty pool whose liquidity is held by address.
func NewPool(address common.Address, bank *Bank) *Pool {
	if bank == nil {
		bank = NewBank()
	}
	p := &Pool{
		address:   address,
		bank:      bank,
		reserves:  make(map[common.Address]*Reserve),
		positions: make(map[common.Address]map[common.Address]*AccountPosition),
		rewards:   make(map[common.Address]*big.Int),
	}
	if bank.gate == nil {
		bank.gate = &p.txMu
	}
	return p
}

// Address returns the account holding pooled liquidity.
func (p *Pool) Address() common.Address { return p.address }

// Bank exposes the token ledger backing the pool.
func (p *Pool) Bank() *Bank { return p.bank }

// CallLedger is the bank view for adapters that run under Lock. Wiring the
// Bank itself into such an adapter deadlocks on the first transfer.
func (p *Pool) CallLedger() CallLedger { return CallLedger{bank: p.bank} }

// Lock serialises a whole adapter call against the pool.
func (p *Pool) Lock() { p.txMu.Lock() }

// Unlock releases the call lock.
func (p *Pool) Unlock() { p.txMu.Unlock() }

// ListAsset adds a reserve for the supplied asset.
func (p *Pool) ListAsset(cfg AssetConfig) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.reserves[cfg.Asset]; ok {
		return fmt.Errorf("%w: %s", errAssetListed, cfg.Asset.Hex())
	}
	p.reserves[cfg.Asset] = newReserve(cfg.Clone(), p.height)
	p.assets = append(p.assets, cfg.Asset)
	return nil
}

// Assets returns the listed assets in listing order.
func (p *Pool) Assets() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]common.Address(nil), p.assets...)
}

// Reserve returns a copy of the reserve for asset with interest projected to
// the current block.
func (p *Pool) Reserve(asset common.Address) (*Reserve, bool) {
	return p.reserveView(asset, true)
}

func (p *Pool) reserveView(asset common.Address, live bool) (*Reserve, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reserves[asset]
	if !ok {
		return nil, false
	}
	view := r.Clone()
	if live {
		accrueReserve(view, p.height)
	}
	return view, true
}

// UpdateAsset applies fn to the asset configuration, e.g. to freeze a reserve
// or move its borrow cap.
func (p *Pool) UpdateAsset(asset common.Address, fn func(*AssetConfig)) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.updateAsset(asset, fn)
}

func (p *Pool) updateAsset(asset common.Address, fn func(*AssetConfig)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownAsset, asset.Hex())
	}
	accrueReserve(r, p.height)
	cfg := r.Config.Clone()
	fn(&cfg)
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Asset = asset
	r.Config = cfg
	return nil
}

// SetPrice moves the oracle price (18-decimal base currency) for asset.
func (p *Pool) SetPrice(asset common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return errInvalidAmount
	}
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.updateAsset(asset, func(cfg *AssetConfig) { cfg.Price = new(big.Int).Set(price) })
}

// Price returns the 18-decimal base currency price of asset.
func (p *Pool) Price(asset common.Address) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownAsset, asset.Hex())
	}
	return cloneBig(r.Config.Price), nil
}

// SetBlockHeight records the height used when computing accrual deltas.
func (p *Pool) SetBlockHeight(height uint64) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if height > p.height {
		p.height = height
	}
}

// AdvanceBlocks moves the block height forward by n.
func (p *Pool) AdvanceBlocks(n uint64) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.height += n
}

// BlockHeight returns the current block height.
func (p *Pool) BlockHeight() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.height
}

// Snapshot captures the pool and bank state and returns an identifier for
// RevertToSnapshot.
func (p *Pool) Snapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := poolSnapshot{
		id:        p.nextSnapshot,
		reserves:  make(map[common.Address]*Reserve, len(p.reserves)),
		positions: make(map[common.Address]map[common.Address]*AccountPosition, len(p.positions)),
		rewards:   make(map[common.Address]*big.Int, len(p.rewards)),
		balances:  p.bank.clone(),
	}
	p.nextSnapshot++
	for asset, r := range p.reserves {
		snap.reserves[asset] = r.Clone()
	}
	for account, byAsset := range p.positions {
		copied := make(map[common.Address]*AccountPosition, len(byAsset))
		for asset, pos := range byAsset {
			copied[asset] = pos.Clone()
		}
		snap.positions[account] = copied
	}
	for account, amount := range p.rewards {
		snap.rewards[account] = cloneBig(amount)
	}
	p.snapshots = append(p.snapshots, snap)
	return snap.id
}

// RevertToSnapshot restores the state captured by id and drops it together
// with every later snapshot.
func (p *Pool) RevertToSnapshot(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.snapshotIndex(id)
	if idx < 0 {
		panic(fmt.Errorf("%w: %d", errUnknownSnapshot, id))
	}
	snap := p.snapshots[idx]
	p.reserves = snap.reserves
	p.positions = snap.positions
	p.rewards = snap.rewards
	p.bank.restore(snap.balances)
	p.snapshots = p.snapshots[:idx]
}

// DiscardSnapshot forgets id and every later snapshot without reverting.
func (p *Pool) DiscardSnapshot(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx := p.snapshotIndex(id); idx >= 0 {
		p.snapshots = p.snapshots[:idx]
	}
}

func (p *Pool) snapshotIndex(id int) int {
	for i := len(p.snapshots) - 1; i >= 0; i-- {
		if p.snapshots[i].id == id {
			return i
		}
	}
	return -1
}

// Supply moves amount of asset from account into the pool and mints supply
// shares at the current index. The minted shares are returned.
func (p *Pool) Supply(account, asset common.Address, amount *big.Int) (*big.Int, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.supply(account, asset, amount)
}

func (p *Pool) supply(account, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveLocked(asset)
	if err != nil {
		return nil, err
	}
	if r.Config.Paused {
		return nil, errReservePaused
	}
	if r.Config.Frozen {
		return nil, errReserveFrozen
	}
	p.accrueAllLocked()

	shares := sharesFromLiquidity(amount, r.SupplyIndex)
	if shares.Sign() == 0 {
		return nil, errInvalidAmount
	}
	if err := p.bank.transfer(asset, account, p.address, amount); err != nil {
		return nil, err
	}
	pos := p.positionLocked(account, asset)
	pos.SupplyShares.Add(pos.SupplyShares, shares)
	r.TotalSupplyShares.Add(r.TotalSupplyShares, shares)
	return shares, nil
}

// EnableCollateral toggles whether the account's supply of asset backs its
// debt.
func (p *Pool) EnableCollateral(account, asset common.Address, enabled bool) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.enableCollateral(account, asset, enabled)
}

func (p *Pool) enableCollateral(account, asset common.Address, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.reserveLocked(asset); err != nil {
		return err
	}
	pos := p.positionLocked(account, asset)
	if pos.CollateralEnabled == enabled {
		return nil
	}
	pos.CollateralEnabled = enabled
	if !enabled {
		p.accrueAllLocked()
		if data := p.accountDataLocked(account, false); data.DebtBase.Sign() > 0 && data.HealthFactor.Cmp(wad) < 0 {
			pos.CollateralEnabled = true
			return errHealthCheckFailed
		}
	}
	return nil
}

// Withdraw releases underlying to the account. A nil amount withdraws the
// full balance.
func (p *Pool) Withdraw(account, asset common.Address, amount *big.Int) (*big.Int, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.withdraw(account, asset, amount)
}

func (p *Pool) withdraw(account, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount != nil && amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveLocked(asset)
	if err != nil {
		return nil, err
	}
	p.accrueAllLocked()
	pos := p.positionLocked(account, asset)
	balance := liquidityFromShares(pos.SupplyShares, r.SupplyIndex)
	if amount == nil {
		return p.redeemLocked(account, r, pos, new(big.Int).Set(pos.SupplyShares), balance)
	}
	if balance.Cmp(amount) < 0 {
		return nil, errInsufficientBalance
	}
	shares := sharesCeil(amount, r.SupplyIndex)
	if shares.Cmp(pos.SupplyShares) > 0 {
		shares = new(big.Int).Set(pos.SupplyShares)
	}
	return p.redeemLocked(account, r, pos, shares, new(big.Int).Set(amount))
}

// Redeem burns supply shares and releases the underlying they are worth.
func (p *Pool) Redeem(account, asset common.Address, shares *big.Int) (*big.Int, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.redeem(account, asset, shares)
}

func (p *Pool) redeem(account, asset common.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveLocked(asset)
	if err != nil {
		return nil, err
	}
	p.accrueAllLocked()
	pos := p.positionLocked(account, asset)
	if pos.SupplyShares.Cmp(shares) < 0 {
		return nil, errInsufficientBalance
	}
	return p.redeemLocked(account, r, pos, new(big.Int).Set(shares), liquidityFromShares(shares, r.SupplyIndex))
}

func (p *Pool) redeemLocked(account common.Address, r *Reserve, pos *AccountPosition, shares, amount *big.Int) (*big.Int, error) {
	asset := r.Config.Asset
	if r.Config.Paused {
		return nil, errReservePaused
	}
	if amount.Sign() == 0 {
		pos.SupplyShares.Sub(pos.SupplyShares, shares)
		r.TotalSupplyShares.Sub(r.TotalSupplyShares, shares)
		return big.NewInt(0), nil
	}
	if p.bank.BalanceOf(asset, p.address).Cmp(amount) < 0 {
		return nil, errInsufficientLiquidity
	}

	pos.SupplyShares.Sub(pos.SupplyShares, shares)
	if pos.CollateralEnabled {
		if data := p.accountDataLocked(account, false); data.DebtBase.Sign() > 0 && data.HealthFactor.Cmp(wad) < 0 {
			pos.SupplyShares.Add(pos.SupplyShares, shares)
			return nil, errHealthCheckFailed
		}
	}
	if err := p.bank.transfer(asset, p.address, account, amount); err != nil {
		pos.SupplyShares.Add(pos.SupplyShares, shares)
		return nil, err
	}
	r.TotalSupplyShares.Sub(r.TotalSupplyShares, shares)
	if r.TotalSupplyShares.Sign() < 0 {
		r.TotalSupplyShares.SetInt64(0)
	}
	return amount, nil
}

// Borrow lends amount of asset to the account after checking the reserve
// switches, caps, isolation ceiling and the account's borrow limit.
func (p *Pool) Borrow(account, asset common.Address, amount *big.Int) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.borrow(account, asset, amount)
}

func (p *Pool) borrow(account, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveLocked(asset)
	if err != nil {
		return err
	}
	switch {
	case r.Config.Paused:
		return errReservePaused
	case r.Config.Frozen:
		return errReserveFrozen
	case !r.Config.BorrowingEnabled:
		return errBorrowingDisabled
	}
	p.accrueAllLocked()

	data := p.accountDataLocked(account, false)
	value := valueOf(amount, r.Config.Price, r.Config.Decimals)
	var isolated *Reserve
	if data.IsolatedCollateral != (common.Address{}) {
		if !r.Config.BorrowableInIsolation {
			return errNotBorrowableInIsolation
		}
		isolated = p.reserves[data.IsolatedCollateral]
		projected := new(big.Int).Add(isolated.IsolationDebt, value)
		if projected.Cmp(isolated.Config.DebtCeiling) > 0 {
			return errDebtCeilingExceeded
		}
	}
	if borrowCap := r.Config.BorrowCap; borrowCap.Sign() > 0 {
		if new(big.Int).Add(r.TotalDebt(), amount).Cmp(borrowCap) > 0 {
			return errBorrowCapExceeded
		}
	}
	if p.bank.BalanceOf(asset, p.address).Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	limit := applyBps(data.CollateralBase, data.LTVBps)
	if new(big.Int).Add(data.DebtBase, value).Cmp(limit) > 0 {
		return errBorrowLimit
	}

	if err := p.bank.transfer(asset, p.address, account, amount); err != nil {
		return err
	}
	scaled := scaledDebtFromAmount(amount, r.BorrowIndex)
	pos := p.positionLocked(account, asset)
	pos.ScaledDebt.Add(pos.ScaledDebt, scaled)
	r.TotalScaledDebt.Add(r.TotalScaledDebt, scaled)
	if isolated != nil {
		isolated.IsolationDebt.Add(isolated.IsolationDebt, value)
	}
	return nil
}

// Repay pulls up to amount of asset from the account to reduce its debt and
// returns the amount actually repaid.
func (p *Pool) Repay(account, asset common.Address, amount *big.Int) (*big.Int, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.repay(account, asset, amount)
}

func (p *Pool) repay(account, asset common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveLocked(asset)
	if err != nil {
		return nil, err
	}
	if r.Config.Paused {
		return nil, errReservePaused
	}
	p.accrueAllLocked()
	pos := p.positionLocked(account, asset)
	debt := debtFromScaled(pos.ScaledDebt, r.BorrowIndex)
	if debt.Sign() == 0 {
		return nil, errNoDebtToRepay
	}
	repay := minBig(amount, debt)
	if err := p.bank.transfer(asset, account, p.address, repay); err != nil {
		return nil, err
	}
	p.burnDebtLocked(account, r, pos, repay, debt)
	return repay, nil
}

func (p *Pool) burnDebtLocked(account common.Address, r *Reserve, pos *AccountPosition, repay, debt *big.Int) {
	isolatedAsset := p.accountDataLocked(account, false).IsolatedCollateral
	burn := new(big.Int).Set(pos.ScaledDebt)
	if repay.Cmp(debt) < 0 {
		burn = sharesFromLiquidity(repay, r.BorrowIndex)
		if burn.Cmp(pos.ScaledDebt) > 0 {
			burn.Set(pos.ScaledDebt)
		}
	}
	pos.ScaledDebt.Sub(pos.ScaledDebt, burn)
	r.TotalScaledDebt.Sub(r.TotalScaledDebt, burn)
	if r.TotalScaledDebt.Sign() < 0 {
		r.TotalScaledDebt.SetInt64(0)
	}
	if isolatedAsset != (common.Address{}) {
		isolated := p.reserves[isolatedAsset]
		isolated.IsolationDebt.Sub(isolated.IsolationDebt, valueOf(repay, r.Config.Price, r.Config.Decimals))
		if isolated.IsolationDebt.Sign() < 0 {
			isolated.IsolationDebt.SetInt64(0)
		}
	}
}

// Accrue stores interest for asset up to the current block.
func (p *Pool) Accrue(asset common.Address) error {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.accrue(asset)
}

func (p *Pool) accrue(asset common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.reserveLocked(asset)
	if err != nil {
		return err
	}
	accrueReserve(r, p.height)
	return nil
}

// SupplyShares returns the account's raw supply shares for asset.
func (p *Pool) SupplyShares(account, asset common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos := p.positions[account][asset]; pos != nil {
		return cloneBig(pos.SupplyShares)
	}
	return big.NewInt(0)
}

// SupplyBalance returns the underlying the account's shares are worth. With
// live set, pending interest is projected to the current block; otherwise
// the last stored index is used.
func (p *Pool) SupplyBalance(account, asset common.Address, live bool) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reserves[asset]
	pos := p.positions[account][asset]
	if !ok || pos == nil {
		return big.NewInt(0)
	}
	supplyIndex, _ := p.indexes(r, live)
	return liquidityFromShares(pos.SupplyShares, supplyIndex)
}

// Debt returns the account's outstanding debt in asset.
func (p *Pool) Debt(account, asset common.Address, live bool) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.reserves[asset]
	pos := p.positions[account][asset]
	if !ok || pos == nil {
		return big.NewInt(0)
	}
	_, borrowIndex := p.indexes(r, live)
	return debtFromScaled(pos.ScaledDebt, borrowIndex)
}

// AvailableLiquidity returns the pooled cash for asset.
func (p *Pool) AvailableLiquidity(asset common.Address) *big.Int {
	return p.bank.BalanceOf(asset, p.address)
}

// AccountData summarises the account across all reserves.
func (p *Pool) AccountData(account common.Address, live bool) AccountData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accountDataLocked(account, live)
}

func (p *Pool) accountDataLocked(account common.Address, live bool) AccountData {
	data := AccountData{
		CollateralBase:       big.NewInt(0),
		DebtBase:             big.NewInt(0),
		AvailableBorrowsBase: big.NewInt(0),
		HealthFactor:         new(big.Int).Set(maxHealthFactor),
	}
	ltvWeighted := big.NewInt(0)
	ltWeighted := big.NewInt(0)
	for _, asset := range p.assets {
		pos := p.positions[account][asset]
		if pos == nil {
			continue
		}
		r := p.reserves[asset]
		supplyIndex, borrowIndex := p.indexes(r, live)
		if pos.CollateralEnabled && pos.SupplyShares.Sign() > 0 {
			balance := liquidityFromShares(pos.SupplyShares, supplyIndex)
			value := valueOf(balance, r.Config.Price, r.Config.Decimals)
			data.CollateralBase.Add(data.CollateralBase, value)
			ltvWeighted.Add(ltvWeighted, new(big.Int).Mul(value, new(big.Int).SetUint64(r.Config.LTVBps)))
			ltWeighted.Add(ltWeighted, new(big.Int).Mul(value, new(big.Int).SetUint64(r.Config.LiquidationThresholdBps)))
			if r.Config.DebtCeiling.Sign() > 0 {
				data.IsolatedCollateral = asset
			}
		}
		if pos.ScaledDebt.Sign() > 0 {
			debt := debtFromScaled(pos.ScaledDebt, borrowIndex)
			data.DebtBase.Add(data.DebtBase, valueOf(debt, r.Config.Price, r.Config.Decimals))
		}
	}
	if data.CollateralBase.Sign() > 0 {
		data.LTVBps = new(big.Int).Quo(ltvWeighted, data.CollateralBase).Uint64()
		data.LiquidationThresholdBps = new(big.Int).Quo(ltWeighted, data.CollateralBase).Uint64()
	}
	limit := new(big.Int).Quo(ltvWeighted, basisPoints)
	if limit.Cmp(data.DebtBase) > 0 {
		data.AvailableBorrowsBase = limit.Sub(limit, data.DebtBase)
	}
	if data.DebtBase.Sign() > 0 {
		hf := new(big.Int).Mul(ltWeighted, wad)
		data.HealthFactor = hf.Quo(hf, new(big.Int).Mul(data.DebtBase, basisPoints))
	}
	return data
}

// SetRewardToken configures the incentive token paid by ClaimRewards.
func (p *Pool) SetRewardToken(token common.Address) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rewardToken = token
}

// AccrueRewards credits unclaimed incentives to an account.
func (p *Pool) AccrueRewards(account common.Address, amount *big.Int) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.rewards[account]
	if !ok {
		current = big.NewInt(0)
		p.rewards[account] = current
	}
	current.Add(current, amount)
}

// ClaimRewards pays the account's unclaimed incentives to receiver.
func (p *Pool) ClaimRewards(account, receiver common.Address) (common.Address, *big.Int) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	return p.claimRewards(account, receiver)
}

func (p *Pool) claimRewards(account, receiver common.Address) (common.Address, *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	amount := cloneBig(p.rewards[account])
	if p.rewardToken == (common.Address{}) || amount.Sign() == 0 {
		return p.rewardToken, big.NewInt(0)
	}
	delete(p.rewards, account)
	p.bank.mint(p.rewardToken, receiver, amount)
	return p.rewardToken, amount
}

func (p *Pool) reserveLocked(asset common.Address) (*Reserve, error) {
	r, ok := p.reserves[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownAsset, asset.Hex())
	}
	return r, nil
}

func (p *Pool) positionLocked(account, asset common.Address) *AccountPosition {
	byAsset, ok := p.positions[account]
	if !ok {
		byAsset = make(map[common.Address]*AccountPosition)
		p.positions[account] = byAsset
	}
	pos, ok := byAsset[asset]
	if !ok {
		pos = &AccountPosition{SupplyShares: big.NewInt(0), ScaledDebt: big.NewInt(0)}
		byAsset[asset] = pos
	}
	return pos
}

func (p *Pool) accrueAllLocked() {
	for _, asset := range p.assets {
		accrueReserve(p.reserves[asset], p.height)
	}
}

func (p *Pool) indexes(r *Reserve, live bool) (*big.Int, *big.Int) {
	if !live || r.LastAccrual >= p.height {
		return r.SupplyIndex, r.BorrowIndex
	}
	projected := r.Clone()
	accrueReserve(projected, p.height)
	return projected.SupplyIndex, projected.BorrowIndex
}

// accrueReserve grows the borrow index by the kinked rate over the elapsed
// blocks and credits suppliers with interest net of the reserve factor.
func accrueReserve(r *Reserve, height uint64) {
	if r == nil || height <= r.LastAccrual {
		return
	}
	delta := height - r.LastAccrual
	r.LastAccrual = height
	if r.TotalScaledDebt.Sign() == 0 {
		return
	}
	before := r.TotalDebt()
	rate := r.Config.Interest.BorrowAPR(before, r.TotalSupplied())
	r.BorrowIndex = rayMul(r.BorrowIndex, rateFactor(rate, delta))
	interest := new(big.Int).Sub(r.TotalDebt(), before)
	if interest.Sign() <= 0 {
		return
	}
	reserveCut := applyBps(interest, r.Config.ReserveFactorBps)
	r.Treasury.Add(r.Treasury, reserveCut)
	supplierCut := interest.Sub(interest, reserveCut)
	if r.TotalSupplyShares.Sign() > 0 && supplierCut.Sign() > 0 {
		growth := new(big.Int).Mul(supplierCut, ray)
		growth.Quo(growth, r.TotalSupplyShares)
		r.SupplyIndex = new(big.Int).Add(r.SupplyIndex, growth)
	}
}
