package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errInsufficientBalance = errors.New("lending engine: insufficient balance")

// Bank is an in-memory fungible token ledger keyed by asset and holder.
// Once a pool owns the bank, Mint and Transfer wait for the pool's call lock
// so a reverted call never discards them.
type Bank struct {
	mu       sync.RWMutex
	gate     *sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
}

// NewBank returns an empty ledger.
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Mint credits amount of asset to holder.
func (b *Bank) Mint(asset, holder common.Address, amount *big.Int) {
	b.enter()
	defer b.leave()
	b.mint(asset, holder, amount)
}

func (b *Bank) mint(asset, holder common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, holder, amount)
}

// BalanceOf returns a copy of the holder's balance.
func (b *Bank) BalanceOf(asset, holder common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneBig(b.balances[asset][holder])
}

// Transfer moves amount of asset between holders.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	b.enter()
	defer b.leave()
	return b.transfer(asset, from, to, amount)
}

func (b *Bank) transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("lending: transfer amount must not be negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	held := b.balances[asset][from]
	if held == nil || held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", errInsufficientBalance, from.Hex(), cloneBig(held), asset.Hex(), amount)
	}
	held.Sub(held, amount)
	b.credit(asset, to, amount)
	return nil
}

func (b *Bank) enter() {
	if b.gate != nil {
		b.gate.Lock()
	}
}

func (b *Bank) leave() {
	if b.gate != nil {
		b.gate.Unlock()
	}
}

func (b *Bank) credit(asset, holder common.Address, amount *big.Int) {
	holders, ok := b.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		b.balances[asset] = holders
	}
	if current, ok := holders[holder]; ok {
		current.Add(current, amount)
		return
	}
	holders[holder] = new(big.Int).Set(amount)
}

func (b *Bank) clone() map[common.Address]map[common.Address]*big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clone := make(map[common.Address]map[common.Address]*big.Int, len(b.balances))
	for asset, holders := range b.balances {
		copied := make(map[common.Address]*big.Int, len(holders))
		for holder, balance := range holders {
			copied[holder] = new(big.Int).Set(balance)
		}
		clone[asset] = copied
	}
	return clone
}

func (b *Bank) restore(balances map[common.Address]map[common.Address]*big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = balances
}

// CallLedger moves tokens on behalf of a call that already holds the pool's
// call lock. Outside such a call use the Bank itself.
type CallLedger struct {
	bank *Bank
}

// BalanceOf returns a copy of the holder's balance.
func (l CallLedger) BalanceOf(asset, holder common.Address) *big.Int {
	return l.bank.BalanceOf(asset, holder)
}

// Transfer moves amount of asset between holders without taking the call
// lock.
func (l CallLedger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	return l.bank.transfer(asset, from, to, amount)
}
