package position

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"lendkeeper/core/events"
	nativecommon "lendkeeper/native/common"
	"lendkeeper/native/moneymarket"
)

// ErrUnknownOrigin is returned when no protocol is configured for an origin
// converter.
var ErrUnknownOrigin = errors.New("position: no protocol for origin converter")

// ProtocolResolver picks the market a new position is opened on.
type ProtocolResolver interface {
	Resolve(origin common.Address) (Protocol, error)
}

// StaticResolver maps origin converters to protocols.
type StaticResolver map[common.Address]Protocol

func (s StaticResolver) Resolve(origin common.Address) (Protocol, error) {
	protocol, ok := s[origin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrigin, origin.Hex())
	}
	return protocol, nil
}

// RegistryConfig carries the shared collaborators handed to every adapter.
type RegistryConfig struct {
	Controller Controller
	Resolver   ProtocolResolver
	Ledger     moneymarket.TokenLedger
	Journal    Journal
	Store      *Store
	Emitter    events.Emitter
	Logger     *slog.Logger
}

// Registry keeps exactly one adapter per (origin, user, collateral, borrow)
// tuple.
type Registry struct {
	cfg RegistryConfig

	mu        sync.RWMutex
	byKey     map[common.Hash]*Adapter
	byAddress map[common.Address]*Adapter
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Controller == nil || cfg.Resolver == nil || cfg.Ledger == nil {
		return nil, errors.New("position: registry requires controller, resolver and ledger")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		byKey:     make(map[common.Hash]*Adapter),
		byAddress: make(map[common.Address]*Adapter),
	}, nil
}

// Key hashes the registry tuple.
func Key(origin, user, collateral, borrow common.Address) common.Hash {
	return crypto.Keccak256Hash(origin.Bytes(), user.Bytes(), collateral.Bytes(), borrow.Bytes())
}

// AdapterAddress derives the adapter account from a registry key.
func AdapterAddress(key common.Hash) common.Address {
	return common.BytesToAddress(key[12:])
}

// GetOrCreate returns the adapter for the tuple, creating and initialising
// it on first use. Only the operator may call it.
func (r *Registry) GetOrCreate(ctx context.Context, caller, origin, user, collateral, borrow common.Address) (*Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if caller != r.cfg.Controller.Operator() {
		return nil, ErrOperatorOnly
	}
	if err := nativecommon.Guard(r.cfg.Controller, ModuleName); err != nil {
		return nil, err
	}
	zero := common.Address{}
	if origin == zero || user == zero || collateral == zero || borrow == zero {
		return nil, ErrZeroAddress
	}
	key := Key(origin, user, collateral, borrow)

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.byKey[key]; ok {
		return adapter, nil
	}
	protocol, err := r.cfg.Resolver.Resolve(origin)
	if err != nil {
		return nil, err
	}
	adapter, err := r.newAdapter(AdapterAddress(key), protocol)
	if err != nil {
		return nil, err
	}
	err = adapter.Initialize(Position{
		User:            user,
		CollateralAsset: collateral,
		BorrowAsset:     borrow,
		OriginConverter: origin,
		Controller:      r.cfg.Controller,
	})
	if err != nil {
		return nil, err
	}
	r.byKey[key] = adapter
	r.byAddress[adapter.Address()] = adapter
	r.cfg.Logger.Info("position adapter registered",
		"component", "position",
		"adapter", adapter.Address().Hex(),
		"user", user.Hex(),
		"protocol", string(protocol.Kind()))
	return adapter, nil
}

// ComputePlan sizes a borrow on the market an origin converter resolves to,
// before any adapter exists for the tuple.
func (r *Registry) ComputePlan(ctx context.Context, origin common.Address, req PlanRequest) (ConversionPlan, error) {
	protocol, err := r.cfg.Resolver.Resolve(origin)
	if err != nil {
		return ConversionPlan{}, err
	}
	return protocol.ComputePlan(ctx, req)
}

// Controller returns the configuration shared by every adapter.
func (r *Registry) Controller() Controller { return r.cfg.Controller }

// Lookup returns the adapter for the tuple without creating one.
func (r *Registry) Lookup(origin, user, collateral, borrow common.Address) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.byKey[Key(origin, user, collateral, borrow)]
	return adapter, ok
}

// Adapter returns the adapter registered at addr.
func (r *Registry) Adapter(addr common.Address) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.byAddress[addr]
	return adapter, ok
}

// Adapters lists every registered adapter ordered by address.
func (r *Registry) Adapters() []*Adapter {
	r.mu.RLock()
	out := make([]*Adapter, 0, len(r.byAddress))
	for _, adapter := range r.byAddress {
		out = append(out, adapter)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].address[:], out[j].address[:]) < 0
	})
	return out
}

// Restore rebuilds the registry from the store and re-marks open positions
// in the tracker. It returns the number of adapters loaded.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.cfg.Store == nil {
		return 0, nil
	}
	records, err := r.cfg.Store.Adapters()
	if err != nil {
		return 0, err
	}
	tracker := r.cfg.Controller.Tracker()

	r.mu.Lock()
	defer r.mu.Unlock()
	loaded := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		key := Key(rec.OriginConverter, rec.User, rec.CollateralAsset, rec.BorrowAsset)
		if AdapterAddress(key) != rec.Address {
			return loaded, fmt.Errorf("position: record %s does not match its key", rec.Address.Hex())
		}
		if _, ok := r.byKey[key]; ok {
			continue
		}
		protocol, err := r.cfg.Resolver.Resolve(rec.OriginConverter)
		if err != nil {
			return loaded, err
		}
		adapter, err := r.newAdapter(rec.Address, protocol)
		if err != nil {
			return loaded, err
		}
		if err := adapter.restore(rec, r.cfg.Controller); err != nil {
			return loaded, err
		}
		r.byKey[key] = adapter
		r.byAddress[rec.Address] = adapter
		if tracker != nil && State(rec.State) == StateOpen {
			tracker.Open(rec.Address)
		}
		loaded++
	}
	return loaded, nil
}

func (r *Registry) newAdapter(addr common.Address, protocol Protocol) (*Adapter, error) {
	return NewAdapter(AdapterConfig{
		Address:  addr,
		Protocol: protocol,
		Ledger:   r.cfg.Ledger,
		Journal:  r.cfg.Journal,
		Store:    r.cfg.Store,
		Emitter:  r.cfg.Emitter,
		Logger:   r.cfg.Logger,
	})
}
