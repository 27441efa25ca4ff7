package position

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"lendkeeper/storage"
)

var adapterPrefix = []byte("position/adapter/")

// AdapterRecord is the persisted form of an adapter.
type AdapterRecord struct {
	Address          common.Address
	Kind             string
	User             common.Address
	CollateralAsset  common.Address
	BorrowAsset      common.Address
	OriginConverter  common.Address
	State            uint8
	CollateralTokens *big.Int
}

// Store persists adapter records as RLP under a fixed key prefix.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func adapterKey(addr common.Address) []byte {
	key := make([]byte, 0, len(adapterPrefix)+common.AddressLength)
	key = append(key, adapterPrefix...)
	return append(key, addr.Bytes()...)
}

// SaveAdapter writes rec, replacing any previous record for the address.
func (s *Store) SaveAdapter(rec AdapterRecord) error {
	if rec.CollateralTokens == nil {
		rec.CollateralTokens = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fmt.Errorf("encode adapter record: %w", err)
	}
	return s.db.Put(adapterKey(rec.Address), encoded)
}

// LoadAdapter reads the record for addr. ok is false when none exists.
func (s *Store) LoadAdapter(addr common.Address) (AdapterRecord, bool, error) {
	raw, err := s.db.Get(adapterKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return AdapterRecord{}, false, nil
	}
	if err != nil {
		return AdapterRecord{}, false, err
	}
	var rec AdapterRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return AdapterRecord{}, false, fmt.Errorf("decode adapter record: %w", err)
	}
	return rec, true, nil
}

// Adapters returns every stored record ordered by address.
func (s *Store) Adapters() ([]AdapterRecord, error) {
	var out []AdapterRecord
	err := s.db.Iterate(adapterPrefix, func(_, value []byte) error {
		var rec AdapterRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			return fmt.Errorf("decode adapter record: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) recordLocked() AdapterRecord {
	return AdapterRecord{
		Address:          a.address,
		Kind:             string(a.protocol.Kind()),
		User:             a.position.User,
		CollateralAsset:  a.position.CollateralAsset,
		BorrowAsset:      a.position.BorrowAsset,
		OriginConverter:  a.position.OriginConverter,
		State:            uint8(a.state),
		CollateralTokens: cloneBig(a.collateralTokens),
	}
}

// restore loads persisted state into a freshly constructed adapter.
func (a *Adapter) restore(rec AdapterRecord, controller Controller) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return ErrAlreadyInitialized
	}
	if rec.Kind != string(a.protocol.Kind()) {
		return fmt.Errorf("position: record for %s has kind %s, protocol is %s", rec.Address.Hex(), rec.Kind, a.protocol.Kind())
	}
	p := Position{
		User:            rec.User,
		CollateralAsset: rec.CollateralAsset,
		BorrowAsset:     rec.BorrowAsset,
		OriginConverter: rec.OriginConverter,
		Controller:      controller,
	}
	if err := p.validate(); err != nil {
		return err
	}
	if State(rec.State) > StateClosed {
		return fmt.Errorf("position: record for %s has unknown state %d", rec.Address.Hex(), rec.State)
	}
	a.position = p
	a.initialized = true
	a.state = State(rec.State)
	a.collateralTokens = cloneBig(rec.CollateralTokens)
	return nil
}
